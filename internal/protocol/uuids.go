// Package protocol decodes the smart ring's two on-wire formats: the
// line-oriented ASCII telemetry protocol spoken over the vendor UART
// channels and the binary frames on the standard GATT health
// characteristics. Anything the decoder does not recognize is dropped
// without error; a malformed frame must never take the link down.
package protocol

// Fixed GATT UUIDs the firmware is known to expose. These are interoperable
// constants and must not change. All values are in the driver-internal
// normalized form (lowercase, no dashes, 16-bit short form for SIG UUIDs).
const (
	// Standard Heart Rate service (0x180D) and its measurement
	// characteristic (0x2A37, notify).
	SvcHeartRate     = "180d"
	ChrHeartRateMeas = "2a37"

	// Standard Battery service (0x180F) and battery level (0x2A19, read).
	SvcBattery      = "180f"
	ChrBatteryLevel = "2a19"

	// Vendor UART-style service: commands go to the write characteristic,
	// telemetry comes back on the notify characteristic.
	SvcVendorUART   = "6e400001b5a3f393e0a9e50e24dcca9e"
	ChrVendorWrite  = "6e400002b5a3f393e0a9e50e24dcca9e"
	ChrVendorNotify = "6e400003b5a3f393e0a9e50e24dcca9e"
)

// Sentinel byte opening every proprietary binary measurement frame.
const proprietarySentinel = 0xAB

// Accepted advertised-name prefixes for supported ring families.
var DefaultNamePrefixes = []string{"R02", "R06", "COLMI", "VTR"}
