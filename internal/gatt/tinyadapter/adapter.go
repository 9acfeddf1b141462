// Package tinyadapter implements the gatt capability interfaces on top of
// tinygo.org/x/bluetooth, which covers Linux (BlueZ) and embedded targets.
package tinyadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitaldesk/ringlink/internal/gatt"
	"tinygo.org/x/bluetooth"
)

// Adapter is the tinygo-bluetooth backed RadioAdapter.
//
// The stack cannot dial an address it has never seen, so the adapter caches
// scan results by address and Dial falls back to a discovery scan when asked
// for an address that is not in the cache.
type Adapter struct {
	logger *logrus.Logger
	ada    *bluetooth.Adapter

	mu      sync.Mutex
	enabled bool
	seen    map[string]bluetooth.Address
	links   map[string]*tinyLink
}

// New creates an adapter over the default platform radio.
func New(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		logger: logger,
		ada:    bluetooth.DefaultAdapter,
		seen:   make(map[string]bluetooth.Address),
		links:  make(map[string]*tinyLink),
	}
}

func (a *Adapter) enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.enabled {
		return nil
	}
	if err := a.ada.Enable(); err != nil {
		return fmt.Errorf("%w: %v", gatt.ErrNoAdapter, err)
	}

	// The stack reports link loss through the connect handler rather than
	// a per-connection channel.
	a.ada.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()

		a.mu.Lock()
		link := a.links[addr]
		delete(a.links, addr)
		a.mu.Unlock()

		if link != nil {
			link.remoteDisconnected()
		}
	})

	a.enabled = true
	return nil
}

// Scan delivers advertisements until ctx is done. The duplicate-filter knob
// is ignored: this stack re-reports devices on every advertising packet.
func (a *Adapter) Scan(ctx context.Context, _ bool, handler func(gatt.Advertisement)) error {
	if err := a.enable(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- a.ada.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			a.mu.Lock()
			a.seen[result.Address.String()] = result.Address
			a.mu.Unlock()

			handler(&tinyAdvertisement{result: result})
		})
	}()

	select {
	case <-ctx.Done():
		if err := a.ada.StopScan(); err != nil {
			a.logger.WithError(err).Debug("Stopping scan failed")
		}
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return gatt.NormalizeError(err)
		}
		return nil
	}
}

// Dial connects to a previously seen address, scanning first if needed.
func (a *Adapter) Dial(ctx context.Context, address string, timeout time.Duration) (gatt.Link, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr, err := a.resolveAddress(dialCtx, address)
	if err != nil {
		return nil, err
	}

	device, err := a.ada.Connect(addr, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device %q: %w", address, gatt.NormalizeError(err))
	}

	link := &tinyLink{
		address: address,
		logger:  a.logger,
		device:  device,
		active:  true,
	}
	if err := link.discover(); err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("%w: %v", gatt.ErrServiceDiscovery, err)
	}

	a.mu.Lock()
	a.links[addr.String()] = link
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"address": address,
		"chars":   len(link.chars),
	}).Info("Link established")
	return link, nil
}

// resolveAddress maps an address string to a stack address, scanning for the
// device when it has not been seen yet.
func (a *Adapter) resolveAddress(ctx context.Context, address string) (bluetooth.Address, error) {
	a.mu.Lock()
	addr, ok := a.seen[address]
	a.mu.Unlock()
	if ok {
		return addr, nil
	}

	found := make(chan bluetooth.Address, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- a.ada.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if result.Address.String() == address {
				select {
				case found <- result.Address:
				default:
				}
			}
		})
	}()

	defer func() {
		_ = a.ada.StopScan()
		<-scanErr
	}()

	select {
	case addr := <-found:
		a.mu.Lock()
		a.seen[address] = addr
		a.mu.Unlock()
		return addr, nil
	case <-ctx.Done():
		return bluetooth.Address{}, fmt.Errorf("device %q not found: %w", address, gatt.ErrNoMatch)
	}
}

// tinyAdvertisement wraps a bluetooth.ScanResult.
type tinyAdvertisement struct {
	result bluetooth.ScanResult
}

func (a *tinyAdvertisement) LocalName() string { return a.result.LocalName() }
func (a *tinyAdvertisement) Addr() string      { return a.result.Address.String() }
func (a *tinyAdvertisement) RSSI() int         { return int(a.result.RSSI) }

// Connectable is not surfaced by this stack; treat anything advertised as
// connectable and let Dial report failures.
func (a *tinyAdvertisement) Connectable() bool { return true }
