package protocol

import "encoding/binary"

// parseStandardHeartRate decodes the standard Heart Rate Measurement value
// (0x2A37). The first byte is a flags field; bit 0 selects the encoding of
// the heart-rate value: 0 means uint8 at offset 1, 1 means little-endian
// uint16 at offsets 1..2. Remaining flag bits (sensor contact, energy, RR
// intervals) are ignored; the ring never populates them.
func parseStandardHeartRate(data []byte) *Update {
	if len(data) < 2 {
		return nil
	}

	var hr int
	if data[0]&0x01 == 0 {
		hr = int(data[1])
	} else {
		if len(data) < 3 {
			return nil
		}
		hr = int(binary.LittleEndian.Uint16(data[1:3]))
	}

	if hr <= 0 {
		return nil
	}
	return &Update{Source: SourceStandard, HeartRate: intPtr(hr)}
}

// parseStandardBattery decodes the standard Battery Level value (0x2A19):
// one byte, direct percentage.
func parseStandardBattery(data []byte) *Update {
	if len(data) != 1 || data[0] > 100 {
		return nil
	}
	return &Update{Source: SourceStandard, Battery: intPtr(int(data[0]))}
}

// parseProprietaryFrame decodes the vendor's fixed-position binary
// measurement frame: sentinel byte, then heart rate at offset 2 and SpO2 at
// offset 4. Both readings must be positive to apply; the firmware pads
// unmeasured slots with zero.
func parseProprietaryFrame(data []byte) *Update {
	if len(data) < 5 || data[0] != proprietarySentinel {
		return nil
	}

	hr := int(data[2])
	spo2 := int(data[4])
	if hr <= 0 || spo2 <= 0 {
		return nil
	}
	return &Update{
		Source:    SourceProprietary,
		HeartRate: intPtr(hr),
		SpO2:      intPtr(spo2),
	}
}
