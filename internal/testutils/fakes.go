// Package testutils provides in-memory fakes for the gatt capability
// interfaces so driver and scanner behavior can be tested without a radio.
package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/vitaldesk/ringlink/internal/gatt"
)

// FakeAdvertisement is a static advertisement for scan tests.
type FakeAdvertisement struct {
	Name          string
	Address       string
	Rssi          int
	IsConnectable bool
}

func (a *FakeAdvertisement) LocalName() string { return a.Name }
func (a *FakeAdvertisement) Addr() string      { return a.Address }
func (a *FakeAdvertisement) RSSI() int         { return a.Rssi }
func (a *FakeAdvertisement) Connectable() bool { return a.IsConnectable }

// FakeCharacteristic records writes and lets tests inject reads and
// notifications. Build one with NewFakeCharacteristic and the With* methods.
type FakeCharacteristic struct {
	uuid    string
	svcUUID string
	props   gatt.Props

	mu       sync.Mutex
	readData []byte
	readErr  error
	writeErr error
	writes   [][]byte
	notify   func(data []byte)
}

// NewFakeCharacteristic creates a characteristic with the given identity.
func NewFakeCharacteristic(svcUUID, uuid string, props gatt.Props) *FakeCharacteristic {
	return &FakeCharacteristic{
		uuid:    gatt.NormalizeUUID(uuid),
		svcUUID: gatt.NormalizeUUID(svcUUID),
		props:   props,
	}
}

// WithReadData sets the payload returned by Read.
func (c *FakeCharacteristic) WithReadData(data []byte) *FakeCharacteristic {
	c.mu.Lock()
	c.readData = data
	c.mu.Unlock()
	return c
}

// WithReadError makes Read fail.
func (c *FakeCharacteristic) WithReadError(err error) *FakeCharacteristic {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	return c
}

// WithWriteError makes Write fail.
func (c *FakeCharacteristic) WithWriteError(err error) *FakeCharacteristic {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
	return c
}

func (c *FakeCharacteristic) UUID() string           { return c.uuid }
func (c *FakeCharacteristic) ServiceUUID() string    { return c.svcUUID }
func (c *FakeCharacteristic) Properties() gatt.Props { return c.props }

func (c *FakeCharacteristic) Read(_ time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	data := make([]byte, len(c.readData))
	copy(data, c.readData)
	return data, nil
}

func (c *FakeCharacteristic) Write(data []byte, _ bool, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.writes = append(c.writes, buf)
	return nil
}

func (c *FakeCharacteristic) Subscribe(fn func(data []byte)) error {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
	return nil
}

func (c *FakeCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	c.notify = nil
	c.mu.Unlock()
	return nil
}

// Notify delivers a fake device notification to the current subscriber, if
// any. Returns whether a subscriber received it.
func (c *FakeCharacteristic) Notify(data []byte) bool {
	c.mu.Lock()
	fn := c.notify
	c.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(data)
	return true
}

// Writes returns a copy of all payloads written so far.
func (c *FakeCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Subscribed reports whether a notification subscriber is registered.
func (c *FakeCharacteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify != nil
}

// FakeLink is an in-memory gatt.Link.
type FakeLink struct {
	address string
	chars   []gatt.Characteristic

	mu             sync.Mutex
	disconnected   bool
	onDisconnect   func()
	dropOnRegister bool
}

// NewFakeLink creates a link exposing the given characteristics.
func NewFakeLink(address string, chars ...gatt.Characteristic) *FakeLink {
	return &FakeLink{address: address, chars: chars}
}

func (l *FakeLink) Address() string { return l.address }

func (l *FakeLink) Characteristics() []gatt.Characteristic {
	out := make([]gatt.Characteristic, len(l.chars))
	copy(out, l.chars)
	return out
}

func (l *FakeLink) SetDisconnectHandler(fn func()) {
	l.mu.Lock()
	l.onDisconnect = fn
	fire := l.dropOnRegister
	l.dropOnRegister = false
	l.mu.Unlock()
	if fire {
		l.DropLink()
	}
}

// DropLinkOnRegister arranges for the next SetDisconnectHandler call to fire
// the handler immediately, simulating a peer that drops the link while the
// connect sequence is still in flight.
func (l *FakeLink) DropLinkOnRegister() {
	l.mu.Lock()
	l.dropOnRegister = true
	l.mu.Unlock()
}

func (l *FakeLink) Disconnect() error {
	l.mu.Lock()
	l.disconnected = true
	l.onDisconnect = nil
	l.mu.Unlock()
	return nil
}

// DropLink simulates the peer closing the connection, firing the registered
// disconnect handler.
func (l *FakeLink) DropLink() {
	l.mu.Lock()
	fn := l.onDisconnect
	l.disconnected = true
	l.onDisconnect = nil
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Disconnected reports whether the link was torn down either way.
func (l *FakeLink) Disconnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnected
}

// FakeAdapter serves canned advertisements and links.
type FakeAdapter struct {
	mu      sync.Mutex
	advs    []gatt.Advertisement
	links   map[string]*FakeLink
	dialErr error
	scanErr error
	dials   []string
}

// NewFakeAdapter creates an empty adapter; populate it with the With*
// methods.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{links: make(map[string]*FakeLink)}
}

// WithAdvertisement adds an advertisement reported by every Scan call.
func (a *FakeAdapter) WithAdvertisement(adv gatt.Advertisement) *FakeAdapter {
	a.mu.Lock()
	a.advs = append(a.advs, adv)
	a.mu.Unlock()
	return a
}

// WithLink registers the link returned when Dial is called for its address.
func (a *FakeAdapter) WithLink(link *FakeLink) *FakeAdapter {
	a.mu.Lock()
	a.links[link.Address()] = link
	a.mu.Unlock()
	return a
}

// WithDialError makes every Dial fail.
func (a *FakeAdapter) WithDialError(err error) *FakeAdapter {
	a.mu.Lock()
	a.dialErr = err
	a.mu.Unlock()
	return a
}

// WithScanError makes every Scan fail.
func (a *FakeAdapter) WithScanError(err error) *FakeAdapter {
	a.mu.Lock()
	a.scanErr = err
	a.mu.Unlock()
	return a
}

func (a *FakeAdapter) Scan(ctx context.Context, _ bool, handler func(gatt.Advertisement)) error {
	a.mu.Lock()
	advs := make([]gatt.Advertisement, len(a.advs))
	copy(advs, a.advs)
	err := a.scanErr
	a.mu.Unlock()

	if err != nil {
		return err
	}
	for _, adv := range advs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (a *FakeAdapter) Dial(_ context.Context, address string, _ time.Duration) (gatt.Link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.dials = append(a.dials, address)
	if a.dialErr != nil {
		return nil, a.dialErr
	}
	link, ok := a.links[address]
	if !ok {
		return nil, gatt.ErrNoMatch
	}
	return link, nil
}

// Dials returns the addresses Dial was called with, in order.
func (a *FakeAdapter) Dials() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.dials))
	copy(out, a.dials)
	return out
}
