package tinyadapter

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitaldesk/ringlink/internal/gatt"
	"tinygo.org/x/bluetooth"
)

// tinyLink is a connected tinygo-bluetooth device.
type tinyLink struct {
	address string
	logger  *logrus.Logger
	device  bluetooth.Device
	chars   []gatt.Characteristic

	mu           sync.Mutex
	active       bool
	onDisconnect func()
}

// discover enumerates services and characteristics. Services are sorted by
// UUID so the link exposes a deterministic characteristic order.
func (l *tinyLink) discover() error {
	services, err := l.device.DiscoverServices(nil)
	if err != nil {
		return err
	}

	sort.Slice(services, func(i, j int) bool {
		return gatt.NormalizeUUID(services[i].UUID().String()) < gatt.NormalizeUUID(services[j].UUID().String())
	})

	for i := range services {
		svc := services[i]
		svcUUID := gatt.NormalizeUUID(svc.UUID().String())

		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return err
		}
		for j := range chars {
			l.chars = append(l.chars, &tinyCharacteristic{
				uuid:    gatt.NormalizeUUID(chars[j].UUID().String()),
				svcUUID: svcUUID,
				char:    chars[j],
				link:    l,
			})
		}
	}
	return nil
}

func (l *tinyLink) Address() string { return l.address }

func (l *tinyLink) Characteristics() []gatt.Characteristic {
	out := make([]gatt.Characteristic, len(l.chars))
	copy(out, l.chars)
	return out
}

func (l *tinyLink) SetDisconnectHandler(fn func()) {
	l.mu.Lock()
	l.onDisconnect = fn
	l.mu.Unlock()
}

// Disconnect tears the link down without firing the disconnect handler.
func (l *tinyLink) Disconnect() error {
	l.mu.Lock()
	wasActive := l.active
	l.active = false
	l.onDisconnect = nil
	l.mu.Unlock()

	if !wasActive {
		return nil
	}
	if err := l.device.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from %q: %w", l.address, gatt.NormalizeError(err))
	}
	return nil
}

// remoteDisconnected is called from the adapter's connect handler when the
// stack reports the peer dropped the link.
func (l *tinyLink) remoteDisconnected() {
	l.mu.Lock()
	fn := l.onDisconnect
	wasActive := l.active
	l.active = false
	l.onDisconnect = nil
	l.mu.Unlock()

	if wasActive && fn != nil {
		l.logger.WithField("address", l.address).Warn("Link lost")
		fn()
	}
}

func (l *tinyLink) isActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// tinyCharacteristic adapts a bluetooth.DeviceCharacteristic.
type tinyCharacteristic struct {
	uuid    string
	svcUUID string
	char    bluetooth.DeviceCharacteristic
	link    *tinyLink
}

func (c *tinyCharacteristic) UUID() string        { return c.uuid }
func (c *tinyCharacteristic) ServiceUUID() string { return c.svcUUID }

// Properties reports a permissive set: this stack does not expose the
// discovered property bits, so unsupported operations surface as call-time
// errors instead.
func (c *tinyCharacteristic) Properties() gatt.Props {
	return gatt.PropRead | gatt.PropWrite | gatt.PropWriteNoResponse | gatt.PropNotify
}

func (c *tinyCharacteristic) Read(timeout time.Duration) ([]byte, error) {
	if !c.link.isActive() {
		return nil, gatt.ErrNotConnected
	}

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 512)
		n, err := c.char.Read(buf)
		ch <- result{data: buf[:n], err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, gatt.NormalizeError(r.err)
		}
		return r.data, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("read of %s: %w", c.uuid, gatt.ErrTimeout)
	}
}

func (c *tinyCharacteristic) Write(data []byte, withResponse bool, timeout time.Duration) error {
	if !c.link.isActive() {
		return gatt.ErrNotConnected
	}

	ch := make(chan error, 1)
	go func() {
		var err error
		if withResponse {
			_, err = c.char.Write(data)
		} else {
			_, err = c.char.WriteWithoutResponse(data)
		}
		ch <- err
	}()

	select {
	case err := <-ch:
		if err != nil {
			return gatt.NormalizeError(err)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("write to %s: %w", c.uuid, gatt.ErrTimeout)
	}
}

func (c *tinyCharacteristic) Subscribe(fn func(data []byte)) error {
	if !c.link.isActive() {
		return gatt.ErrNotConnected
	}
	if err := c.char.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		fn(data)
	}); err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.uuid, gatt.NormalizeError(err))
	}
	return nil
}

func (c *tinyCharacteristic) Unsubscribe() error {
	if !c.link.isActive() {
		return nil
	}
	if err := c.char.EnableNotifications(nil); err != nil {
		return fmt.Errorf("unsubscribe from %s: %w", c.uuid, gatt.NormalizeError(err))
	}
	return nil
}
