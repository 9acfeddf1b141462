// Package bleadapter implements the gatt capability interfaces on top of
// go-ble, the desktop radio stack.
package bleadapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/vitaldesk/ringlink/internal/gatt"
)

// Adapter is the go-ble backed RadioAdapter. One Adapter may serve many
// scans but at most one dialed link at a time, matching the driver's
// single-device model.
type Adapter struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// New creates a go-ble adapter.
func New(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{logger: logger}
}

// device lazily initializes the platform ble.Device via DeviceFactory.
func (a *Adapter) device() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev != nil {
		return a.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, gatt.NormalizeError(err)
	}
	ble.SetDefaultDevice(dev)
	a.dev = dev
	return dev, nil
}

// Scan delivers advertisements until ctx is done.
func (a *Adapter) Scan(ctx context.Context, allowDup bool, handler func(gatt.Advertisement)) error {
	dev, err := a.device()
	if err != nil {
		return err
	}

	return dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(&bleAdvertisement{adv: adv})
	})
}

// Dial connects and discovers the full GATT profile. Characteristic order is
// deterministic: services sorted by UUID, characteristics in discovery order
// within each service.
func (a *Adapter) Dial(ctx context.Context, address string, timeout time.Duration) (gatt.Link, error) {
	if _, err := a.device(); err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device %q: %w", address, gatt.NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return nil, fmt.Errorf("%w: %v", gatt.ErrServiceDiscovery, err)
	}

	link := &bleLink{
		address: address,
		client:  client,
		logger:  a.logger,
	}

	services := make([]*ble.Service, len(profile.Services))
	copy(services, profile.Services)
	sort.Slice(services, func(i, j int) bool {
		return gatt.NormalizeUUID(services[i].UUID.String()) < gatt.NormalizeUUID(services[j].UUID.String())
	})

	for _, svc := range services {
		svcUUID := gatt.NormalizeUUID(svc.UUID.String())
		for _, c := range svc.Characteristics {
			link.chars = append(link.chars, &bleCharacteristic{
				uuid:    gatt.NormalizeUUID(c.UUID.String()),
				svcUUID: svcUUID,
				char:    c,
				link:    link,
			})
		}
	}

	a.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(services),
		"chars":    len(link.chars),
	}).Info("Link established")

	// Surface platform-side link loss to the registered handler.
	go link.watchDisconnect(client.Disconnected())

	return link, nil
}

// bleAdvertisement wraps a ble.Advertisement.
type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a *bleAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a *bleAdvertisement) Addr() string      { return a.adv.Addr().String() }
func (a *bleAdvertisement) RSSI() int         { return a.adv.RSSI() }
func (a *bleAdvertisement) Connectable() bool { return a.adv.Connectable() }
