package main

import (
	"errors"

	"github.com/vitaldesk/ringlink/internal/gatt"
)

// FormatUserError rewrites common link failures into actionable messages;
// anything unrecognized passes through unchanged.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, gatt.ErrNoAdapter):
		return "no Bluetooth adapter available - check that Bluetooth is enabled"
	case errors.Is(err, gatt.ErrNoMatch):
		return "no matching ring found - make sure the ring is charged and nearby"
	case errors.Is(err, gatt.ErrNotConnected):
		return "not connected to a ring - run 'ringlink connect' first"
	case errors.Is(err, gatt.ErrAlreadyConnected):
		return "already connected - disconnect before connecting to another ring"
	case errors.Is(err, gatt.ErrTimeout):
		return "operation timed out - the ring may be out of range"
	}
	return err.Error()
}
