//go:build darwin

package bleadapter

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates the platform BLE device. Overridable in tests.
var DeviceFactory = func() (ble.Device, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		if strings.Contains(err.Error(), "powered off") {
			return nil, fmt.Errorf("bluetooth is powered off, please turn it on: %w", err)
		}
		return nil, fmt.Errorf("failed to initialize bluetooth device: %w", err)
	}
	return dev, nil
}
