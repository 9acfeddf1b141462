// Package gatt defines the transport capability interfaces the ring driver
// is written against. Concrete implementations live in the adapter
// subpackages (bleadapter for desktop go-ble, tinyadapter for the portable
// tinygo-bluetooth stack); the driver never depends on a concrete transport
// type.
package gatt

import (
	"context"
	"time"
)

// Advertisement is the subset of a BLE advertisement the driver cares about.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
}

// RadioAdapter provides discovery and connection establishment on one
// platform radio stack.
type RadioAdapter interface {
	// Scan delivers advertisements to handler until ctx is done.
	// A context cancellation is a normal end of scan, not an error.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error

	// Dial connects to the peer with the given platform address and performs
	// service/characteristic discovery. The returned Link owns the physical
	// connection.
	Dial(ctx context.Context, address string, timeout time.Duration) (Link, error)
}

// Props is a bit set of GATT characteristic properties.
type Props uint8

const (
	PropRead Props = 1 << iota
	PropWrite
	PropWriteNoResponse
	PropNotify
	PropIndicate
)

// CanWrite reports whether the characteristic accepts writes in any mode.
func (p Props) CanWrite() bool {
	return p&(PropWrite|PropWriteNoResponse) != 0
}

// CanNotify reports whether the characteristic pushes server-initiated
// updates (notify or indicate).
func (p Props) CanNotify() bool {
	return p&(PropNotify|PropIndicate) != 0
}

// Characteristic is one data channel on a connected peer. UUIDs are
// normalized (lowercase, no dashes, 16-bit short form where applicable).
type Characteristic interface {
	UUID() string
	ServiceUUID() string
	Properties() Props

	Read(timeout time.Duration) ([]byte, error)
	Write(data []byte, withResponse bool, timeout time.Duration) error

	// Subscribe registers fn for notifications. The data slice is only valid
	// for the duration of the callback; implementations may reuse buffers.
	Subscribe(fn func(data []byte)) error
	Unsubscribe() error
}

// Link is one established connection. Characteristics returns channels in a
// deterministic order: services sorted by UUID, characteristics in discovery
// order within each service. Channel classification relies on that ordering.
type Link interface {
	Address() string
	Characteristics() []Characteristic

	// SetDisconnectHandler registers fn to run when the platform stack
	// reports link loss. fn runs at most once per link, never after
	// Disconnect returned.
	SetDisconnectHandler(fn func())

	// Disconnect tears the physical connection down. Idempotent.
	Disconnect() error
}
