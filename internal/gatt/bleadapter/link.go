package bleadapter

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/vitaldesk/ringlink/internal/gatt"
)

// bleLink is a dialed go-ble connection.
type bleLink struct {
	address string
	logger  *logrus.Logger
	chars   []gatt.Characteristic

	mu           sync.Mutex
	client       ble.Client
	onDisconnect func()
}

func (l *bleLink) Address() string { return l.address }

func (l *bleLink) Characteristics() []gatt.Characteristic {
	out := make([]gatt.Characteristic, len(l.chars))
	copy(out, l.chars)
	return out
}

func (l *bleLink) SetDisconnectHandler(fn func()) {
	l.mu.Lock()
	l.onDisconnect = fn
	l.mu.Unlock()
}

// Disconnect tears the link down. Safe to call more than once; the
// disconnect handler does not fire for a locally initiated teardown.
func (l *bleLink) Disconnect() error {
	l.mu.Lock()
	client := l.client
	l.client = nil
	l.onDisconnect = nil
	l.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		return fmt.Errorf("failed to cancel connection to %q: %w", l.address, gatt.NormalizeError(err))
	}
	return nil
}

// watchDisconnect waits for the platform-side disconnect signal and invokes
// the registered handler unless the teardown was local.
func (l *bleLink) watchDisconnect(done <-chan struct{}) {
	<-done

	l.mu.Lock()
	fn := l.onDisconnect
	wasRemote := l.client != nil
	l.client = nil
	l.onDisconnect = nil
	l.mu.Unlock()

	if wasRemote && fn != nil {
		l.logger.WithField("address", l.address).Warn("Link lost")
		fn()
	}
}

// activeClient returns the client or ErrNotConnected after teardown.
func (l *bleLink) activeClient() (ble.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return nil, gatt.ErrNotConnected
	}
	return l.client, nil
}

// bleCharacteristic adapts a discovered *ble.Characteristic.
type bleCharacteristic struct {
	uuid    string
	svcUUID string
	char    *ble.Characteristic
	link    *bleLink
}

func (c *bleCharacteristic) UUID() string        { return c.uuid }
func (c *bleCharacteristic) ServiceUUID() string { return c.svcUUID }

func (c *bleCharacteristic) Properties() gatt.Props {
	var p gatt.Props
	if c.char.Property&ble.CharRead != 0 {
		p |= gatt.PropRead
	}
	if c.char.Property&ble.CharWrite != 0 {
		p |= gatt.PropWrite
	}
	if c.char.Property&ble.CharWriteNR != 0 {
		p |= gatt.PropWriteNoResponse
	}
	if c.char.Property&ble.CharNotify != 0 {
		p |= gatt.PropNotify
	}
	if c.char.Property&ble.CharIndicate != 0 {
		p |= gatt.PropIndicate
	}
	return p
}

func (c *bleCharacteristic) Read(timeout time.Duration) ([]byte, error) {
	client, err := c.link.activeClient()
	if err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := client.ReadCharacteristic(c.char)
		ch <- result{data: data, err: err}
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

func (c *bleCharacteristic) Write(data []byte, withResponse bool, timeout time.Duration) error {
	client, err := c.link.activeClient()
	if err != nil {
		return err
	}

	ch := make(chan error, 1)
	go func() {
		ch <- client.WriteCharacteristic(c.char, data, !withResponse)
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

func (c *bleCharacteristic) Subscribe(fn func(data []byte)) error {
	client, err := c.link.activeClient()
	if err != nil {
		return err
	}

	indicate := c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0
	if err := client.Subscribe(c.char, indicate, func(data []byte) {
		// go-ble may reuse the notification buffer; hand subscribers a copy.
		buf := make([]byte, len(data))
		copy(buf, data)
		fn(buf)
	}); err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.uuid, gatt.NormalizeError(err))
	}
	return nil
}

func (c *bleCharacteristic) Unsubscribe() error {
	client, err := c.link.activeClient()
	if err != nil {
		// Remote side is gone; nothing left to unsubscribe from.
		return nil
	}

	// Try both modes, same as a profile-agnostic teardown must.
	err1 := client.Unsubscribe(c.char, false)
	err2 := client.Unsubscribe(c.char, true)
	if err1 != nil && err2 != nil {
		return fmt.Errorf("unsubscribe from %s: %w", c.uuid, gatt.NormalizeError(err1))
	}
	return nil
}
