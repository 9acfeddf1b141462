// Package scanner handles ring discovery: it filters the advertisement
// stream down to supported ring families by advertised-name prefix and
// exposes both a snapshot result and a live event feed for watch mode.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/vitaldesk/ringlink/internal/events"
	"github.com/vitaldesk/ringlink/internal/gatt"
	"github.com/vitaldesk/ringlink/internal/protocol"
)

// ProgressCallback is called when the scan phase changes.
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated.
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceInfo describes one discovered candidate ring.
type DeviceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	RSSI int    `json:"rssi"`
}

type DeviceEvent struct {
	Type   DeviceEventType
	Device DeviceInfo
}

// ScanOptions configures discovery behavior.
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	// NamePrefixes restricts results to devices whose advertised name starts
	// with one of the given prefixes. Empty means accept everything.
	NamePrefixes []string
	BlockList    []string
}

// DefaultScanOptions returns the default ring discovery options.
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
		NamePrefixes:    protocol.DefaultNamePrefixes,
	}
}

// Scanner performs BLE discovery over a gatt.RadioAdapter.
type Scanner struct {
	adapter gatt.RadioAdapter
	devices *hashmap.Map[string, DeviceInfo]
	events  *events.RingChannel[DeviceEvent]
	logger  *logrus.Logger

	scanOptions *ScanOptions
}

// NewScanner creates a scanner bound to one radio adapter.
func NewScanner(adapter gatt.RadioAdapter, logger *logrus.Logger) (*Scanner, error) {
	if adapter == nil {
		return nil, fmt.Errorf("radio adapter is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		adapter: adapter,
		events:  events.NewRingChannel[DeviceEvent](100),
		logger:  logger,
	}, nil
}

// Scan performs discovery with the provided options and returns everything
// found, keyed by platform id. A context cancellation or deadline is a
// normal end of scan.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]DeviceInfo, error) {
	s.devices = hashmap.New[string, DeviceInfo]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting ring scan...")
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()

	err := s.adapter.Scan(scanCtx, opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", gatt.NormalizeError(err))
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("Ring scan completed")
	progressCallback("Processing results")

	devices := make(map[string]DeviceInfo, s.devices.Len())
	s.devices.Range(func(key string, value DeviceInfo) bool {
		devices[key] = value
		return true
	})

	return devices, nil
}

// FindFirst scans until the first accepted device appears, then stops. This
// backs the UI scan contract: the caller presents the first/only result.
func (s *Scanner) FindFirst(ctx context.Context, opts *ScanOptions) (DeviceInfo, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}

	findCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var found DeviceInfo
	var ok bool

	optsCopy := *opts
	s.devices = hashmap.New[string, DeviceInfo]()
	s.scanOptions = &optsCopy
	defer func() {
		s.scanOptions = nil
	}()

	scanCtx := findCtx
	if opts.Duration > 0 {
		var durCancel context.CancelFunc
		scanCtx, durCancel = context.WithTimeout(findCtx, opts.Duration)
		defer durCancel()
	}

	err := s.adapter.Scan(scanCtx, opts.DuplicateFilter, func(adv gatt.Advertisement) {
		if !s.shouldIncludeDevice(adv, opts) {
			return
		}
		found = DeviceInfo{ID: adv.Addr(), Name: adv.LocalName(), RSSI: adv.RSSI()}
		ok = true
		cancel() // first match wins; no further disambiguation
	})

	switch {
	case ok:
		return found, nil
	case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		return DeviceInfo{}, gatt.NormalizeError(err)
	case errors.Is(ctx.Err(), context.Canceled):
		return DeviceInfo{}, gatt.ErrScanCancelled
	default:
		return DeviceInfo{}, gatt.ErrNoMatch
	}
}

// handleAdvertisement updates existing or adds a new device.
func (s *Scanner) handleAdvertisement(adv gatt.Advertisement) {
	deviceID := adv.Addr()

	if !s.shouldIncludeDevice(adv, s.scanOptions) {
		return
	}

	info := DeviceInfo{ID: deviceID, Name: adv.LocalName(), RSSI: adv.RSSI()}
	_, existing := s.devices.Get(deviceID)
	s.devices.Set(deviceID, info)

	event := DeviceEvent{Device: info}
	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  info.Name,
			"address": info.ID,
			"rssi":    info.RSSI,
		}).Info("Discovered candidate ring")
		event.Type = EventNew
	}

	s.events.ForceSend(event)
}

// shouldIncludeDevice applies the name-prefix and block filters.
func (s *Scanner) shouldIncludeDevice(adv gatt.Advertisement, opts *ScanOptions) bool {
	if opts == nil {
		return true
	}

	addr := adv.Addr()
	for _, blocked := range opts.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(opts.NamePrefixes) == 0 {
		return true
	}

	name := adv.LocalName()
	for _, prefix := range opts.NamePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Events returns a read-only channel of discovery events for watch mode.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
