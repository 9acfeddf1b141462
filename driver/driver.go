// Package driver implements the ring protocol driver: link lifecycle,
// command serialization, frame decoding, telemetry state, and the background
// sync scheduler. One Driver manages exactly one active device at a time and
// is constructed once at application start; screens receive it by reference
// instead of going through a global singleton.
package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/vitaldesk/ringlink/internal/cmdqueue"
	"github.com/vitaldesk/ringlink/internal/events"
	"github.com/vitaldesk/ringlink/internal/gatt"
	"github.com/vitaldesk/ringlink/internal/protocol"
	"github.com/vitaldesk/ringlink/internal/sink"
	"github.com/vitaldesk/ringlink/internal/telemetry"
	"github.com/vitaldesk/ringlink/scanner"
)

// LinkState is the link manager's state machine position. Disconnected is
// reachable from any state via link loss.
type LinkState int

const (
	StateIdle LinkState = iota
	StateScanning
	StateFound
	StateConnecting
	StateServiceDiscovery
	StateConnected
	StateDisconnected
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateFound:
		return "found"
	case StateConnecting:
		return "connecting"
	case StateServiceDiscovery:
		return "service_discovery"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DeviceHandle identifies a discovered ring. Immutable once created; only
// the id is persisted across sessions.
type DeviceHandle struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BatteryLevel int    `json:"battery_level"` // last known, 0 if never read
}

// ConnectResult is the UI-facing outcome of a connect attempt.
type ConnectResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// ConnectivityEvent is emitted on every link state edge the UI cares about.
type ConnectivityEvent struct {
	Connected bool   `json:"connected"`
	DeviceID  string `json:"device_id"`
	Reason    string `json:"reason"` // "connect", "disconnect", "link_loss"
}

// Vendor write-characteristic signature prefixes. Candidates are taken in
// the link's deterministic enumeration order and the first match wins; there
// is no further disambiguation when several characteristics match.
var writeSignaturePrefixes = []string{"6e400002"}

// linkSession is one physical connection lifetime. Exactly one may be
// active; ownership is exclusive to the Driver.
type linkSession struct {
	id     string
	handle DeviceHandle
	link   gatt.Link
	queue  *cmdqueue.Queue

	write    gatt.Characteristic // nil when the firmware exposes no control channel
	notifies []gatt.Characteristic
	battery  gatt.Characteristic // nil when no standard battery characteristic

	lost bool // guarded by Driver.mu; set once by handleLinkLoss
}

// Driver is the wearable protocol driver.
type Driver struct {
	opts    Options
	adapter gatt.RadioAdapter
	logger  *logrus.Logger

	decoder   *protocol.Decoder
	telemetry *telemetry.Store
	scanner   *scanner.Scanner
	sink      *sink.Dispatcher

	mu      sync.Mutex
	state   LinkState
	session *linkSession

	connectivity *events.Observable[ConnectivityEvent]
	frames       *events.Observable[protocol.FrameEvent]

	stream streamState
	bgSync syncState
}

// New creates a driver over the given radio adapter.
func New(adapter gatt.RadioAdapter, opts Options) (*Driver, error) {
	if adapter == nil {
		return nil, fmt.Errorf("radio adapter is required")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	sc, err := scanner.NewScanner(adapter, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Driver{
		opts:         opts,
		adapter:      adapter,
		logger:       opts.Logger,
		decoder:      protocol.NewDecoder(opts.Logger),
		telemetry:    telemetry.NewStore(),
		scanner:      sc,
		sink:         sink.NewDispatcher(opts.Sink, opts.Logger),
		state:        StateIdle,
		connectivity: events.NewObservable[ConnectivityEvent](true),
		frames:       events.NewObservable[protocol.FrameEvent](false),
	}, nil
}

// State returns the current link state.
func (d *Driver) State() LinkState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Snapshot returns the current telemetry readings.
func (d *Driver) Snapshot() telemetry.Snapshot {
	return d.telemetry.Snapshot()
}

// Telemetry exposes the snapshot store for read-only subscription.
func (d *Driver) Telemetry() *telemetry.Store {
	return d.telemetry
}

// SubscribeConnectivity registers fn for connectivity edges and returns its
// unsubscribe handle. The last event is replayed on registration.
func (d *Driver) SubscribeConnectivity(fn func(ConnectivityEvent)) func() {
	return d.connectivity.Listen(fn)
}

// SubscribeFrames registers fn on the one-way debug frame stream.
func (d *Driver) SubscribeFrames(fn func(protocol.FrameEvent)) func() {
	return d.frames.Listen(fn)
}

// Scan discovers the first supported ring in range. Fails with
// gatt.ErrNoAdapter, gatt.ErrScanCancelled, or gatt.ErrNoMatch.
func (d *Driver) Scan(ctx context.Context) (DeviceHandle, error) {
	d.setState(StateScanning)

	info, err := d.scanner.FindFirst(ctx, &scanner.ScanOptions{
		Duration:        d.opts.ScanDuration,
		DuplicateFilter: true,
		NamePrefixes:    d.opts.NamePrefixes,
	})
	if err != nil {
		d.setState(StateIdle)
		return DeviceHandle{}, err
	}

	d.setState(StateFound)
	return DeviceHandle{ID: info.ID, Name: info.Name}, nil
}

// Connect establishes the link, classifies channels, performs the initial
// handshake, persists the device id, and starts the keep-alive timer. At
// most one session may be active.
func (d *Driver) Connect(ctx context.Context, deviceID string) (ConnectResult, error) {
	d.mu.Lock()
	if d.session != nil {
		d.mu.Unlock()
		return ConnectResult{}, fmt.Errorf("%w: disconnect first", gatt.ErrAlreadyConnected)
	}
	d.state = StateConnecting
	d.mu.Unlock()

	d.logger.WithField("device_id", deviceID).Info("Connecting to ring...")

	link, err := d.adapter.Dial(ctx, deviceID, d.opts.ConnectTimeout)
	if err != nil {
		d.setState(StateDisconnected)
		return ConnectResult{}, fmt.Errorf("%w: %v", gatt.ErrLinkUnavailable, err)
	}

	d.setState(StateServiceDiscovery)

	session := &linkSession{
		id:     uuid.NewString(),
		handle: DeviceHandle{ID: deviceID},
		link:   link,
		queue:  cmdqueue.New(d.logger, d.opts.CommandPacing),
	}

	d.classifyChannels(session)

	if session.write != nil {
		write := session.write
		session.queue.SetWriter(func(data []byte, withResponse bool) error {
			return write.Write(data, withResponse, d.opts.ConnectTimeout)
		})
	} else {
		// Read-only telemetry still works without a control channel.
		d.logger.Warn("No write channel found; commands will be no-ops")
	}

	d.subscribeNotifyChannels(session)
	d.readInitialBattery(session)

	// Initial handshake: announce ourselves and prime the activity counter.
	session.queue.Enqueue(protocol.CmdKeepAlive, false)
	session.queue.Enqueue(protocol.CmdActivityPoll, false)

	if err := d.opts.Store.Save(deviceID); err != nil {
		d.logger.WithField("error", err).Warn("Failed to persist paired device id")
	}

	link.SetDisconnectHandler(func() {
		d.handleLinkLoss(session)
	})

	session.queue.StartKeepAlive(d.opts.KeepAliveInterval)

	d.mu.Lock()
	if session.lost {
		// The disconnect handler fired between registration and this commit.
		// The session never becomes current, so tear it down here and fail
		// the connect instead of reporting a connection to a dead link.
		d.state = StateDisconnected
		d.mu.Unlock()
		session.queue.Close()
		_ = session.link.Disconnect()
		return ConnectResult{}, fmt.Errorf("%w: link lost during connect", gatt.ErrLinkUnavailable)
	}
	d.session = session
	d.state = StateConnected
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"device_id":  deviceID,
		"session_id": session.id,
		"channels":   len(session.notifies),
	}).Info("Ring connected")

	d.connectivity.Notify(ConnectivityEvent{Connected: true, DeviceID: deviceID, Reason: "connect"})
	return ConnectResult{Success: true, ID: deviceID}, nil
}

// classifyChannels walks the link's characteristics in their deterministic
// enumeration order. Exactly one write channel is selected: the first
// candidate matching a known write signature, else the first write-capable
// characteristic outside the standard services. All notify-capable channels
// are subscribed unconditionally elsewhere; the standard battery channel is
// remembered for synchronous reads.
func (d *Driver) classifyChannels(session *linkSession) {
	writeCandidates := orderedmap.New[string, gatt.Characteristic]()
	fallbackCandidates := orderedmap.New[string, gatt.Characteristic]()

	for _, ch := range session.link.Characteristics() {
		props := ch.Properties()

		if props.CanNotify() {
			session.notifies = append(session.notifies, ch)
		}
		if ch.UUID() == protocol.ChrBatteryLevel {
			session.battery = ch
		}

		if !props.CanWrite() {
			continue
		}
		if matchesWriteSignature(ch.UUID()) {
			writeCandidates.Set(ch.UUID(), ch)
		} else if !isStandardService(ch.ServiceUUID()) {
			fallbackCandidates.Set(ch.UUID(), ch)
		}
	}

	if pair := writeCandidates.Oldest(); pair != nil {
		session.write = pair.Value
	} else if pair := fallbackCandidates.Oldest(); pair != nil {
		session.write = pair.Value
		d.logger.WithField("char_uuid", pair.Key).Warn("No signature match; using first vendor write characteristic")
	}

	d.logger.WithFields(logrus.Fields{
		"notify_channels": len(session.notifies),
		"has_write":       session.write != nil,
		"has_battery":     session.battery != nil,
	}).Debug("Classified channels")
}

func matchesWriteSignature(charUUID string) bool {
	for _, prefix := range writeSignaturePrefixes {
		if strings.HasPrefix(charUUID, prefix) {
			return true
		}
	}
	return false
}

func isStandardService(svcUUID string) bool {
	return len(svcUUID) == 4
}

// subscribeNotifyChannels subscribes every notify-capable channel. Failures
// are logged per channel and do not fail the connection.
func (d *Driver) subscribeNotifyChannels(session *linkSession) {
	for _, ch := range session.notifies {
		channelUUID := ch.UUID()
		err := ch.Subscribe(func(data []byte) {
			d.handleNotification(channelUUID, data)
		})
		if err != nil {
			d.logger.WithFields(logrus.Fields{
				"char_uuid": channelUUID,
				"error":     err,
			}).Warn("Failed to subscribe to notify channel")
		}
	}
}

// readInitialBattery performs the one synchronous battery read done at
// connect time, when the standard characteristic exists.
func (d *Driver) readInitialBattery(session *linkSession) {
	if session.battery == nil {
		return
	}
	data, err := session.battery.Read(5 * time.Second)
	if err != nil {
		d.logger.WithField("error", err).Warn("Initial battery read failed")
		return
	}
	if update, _ := d.decoder.Decode(protocol.ChrBatteryLevel, data); update != nil {
		if update.Battery != nil {
			session.handle.BatteryLevel = *update.Battery
		}
		d.telemetry.Apply(update)
	}
}

// handleNotification runs on the platform notification-delivery goroutine.
// It must stay non-blocking: decode, merge, fan out.
func (d *Driver) handleNotification(channelUUID string, data []byte) {
	update, frameEvent := d.decoder.Decode(channelUUID, data)
	d.frames.Notify(frameEvent)

	if update == nil {
		return
	}

	d.telemetry.Apply(update)
	d.notifyStream(update)
	d.forwardSyncUpdate(update)
}

// AutoReconnect silently resolves the previously paired device and connects
// to it, then starts background sync for the user. It returns false on any
// failure and never propagates an error: this path must not interrupt
// application startup.
func (d *Driver) AutoReconnect(ctx context.Context, userID string) bool {
	deviceID, err := d.opts.Store.Load()
	if err != nil {
		d.logger.WithField("error", err).Warn("Auto-reconnect: pairing store unreadable")
		return false
	}
	if deviceID == "" {
		d.logger.Debug("Auto-reconnect: no stored device")
		return false
	}

	if _, err := d.Connect(ctx, deviceID); err != nil {
		d.logger.WithFields(logrus.Fields{
			"device_id": deviceID,
			"error":     err,
		}).Info("Auto-reconnect failed")
		return false
	}

	d.AssociateUser(userID)
	return true
}

// Disconnect tears down the session: background sync, keep-alive, queued
// commands (dropped, not flushed), notify subscriptions, and the physical
// link. Idempotent.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	session := d.session
	d.session = nil
	d.state = StateDisconnected
	d.mu.Unlock()

	if session == nil {
		d.logger.Debug("Already disconnected")
		return nil
	}

	d.stopSync()
	d.cancelStream()
	session.queue.Close()

	for _, ch := range session.notifies {
		if err := ch.Unsubscribe(); err != nil {
			d.logger.WithFields(logrus.Fields{
				"char_uuid": ch.UUID(),
				"error":     err,
			}).Debug("Unsubscribe failed during disconnect")
		}
	}

	err := session.link.Disconnect()
	if err != nil {
		d.logger.WithField("error", err).Warn("Ring disconnected with errors")
	} else {
		d.logger.Info("Ring disconnected")
	}

	d.connectivity.Notify(ConnectivityEvent{Connected: false, DeviceID: session.handle.ID, Reason: "disconnect"})
	return err
}

// handleLinkLoss is invoked by the platform stack outside our control. It
// synchronously clears channel handles and cancels both timers, then emits
// exactly one connectivity event. Stale sessions (already replaced or torn
// down) are ignored.
func (d *Driver) handleLinkLoss(session *linkSession) {
	d.mu.Lock()
	if session.lost {
		d.mu.Unlock()
		return
	}
	session.lost = true
	if d.session != session {
		// Either the connect path has not committed this session yet (the
		// commit re-checks the lost flag and fails the connect) or a local
		// teardown already replaced it. Nothing further to do here.
		d.mu.Unlock()
		return
	}
	d.session = nil
	d.state = StateDisconnected
	d.mu.Unlock()

	d.logger.WithField("device_id", session.handle.ID).Warn("Link lost")

	d.stopSync()
	d.cancelStream()
	session.queue.Close()

	d.connectivity.Notify(ConnectivityEvent{Connected: false, DeviceID: session.handle.ID, Reason: "link_loss"})
}

// setState updates the state under lock.
func (d *Driver) setState(s LinkState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// currentSession returns the active session or nil.
func (d *Driver) currentSession() *linkSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}
