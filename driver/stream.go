package driver

import (
	"fmt"
	"sync"

	"github.com/vitaldesk/ringlink/internal/gatt"
	"github.com/vitaldesk/ringlink/internal/protocol"
	"github.com/vitaldesk/ringlink/internal/telemetry"
)

// Metric names accepted in a realtime stream filter.
const (
	MetricHeartRate = "heart_rate"
	MetricSpO2      = "spo2"
	MetricBloodPres = "blood_pressure"
	MetricSteps     = "steps"
	MetricStress    = "stress"
	MetricBattery   = "battery"
)

// streamState holds the single live-stream subscription. Starting a new
// stream implicitly supersedes the previous one; the background sync path is
// independent and keeps running alongside.
type streamState struct {
	mu       sync.Mutex
	onUpdate func(telemetry.Snapshot)
	filter   map[string]bool // nil or empty means every metric
}

// StartRealtimeStream registers onUpdate for high-rate telemetry and asks
// the firmware to begin realtime measurement. onUpdate receives full
// snapshots, not deltas, and only for merges that touched a filtered metric.
func (d *Driver) StartRealtimeStream(metricsFilter []string, onUpdate func(telemetry.Snapshot)) error {
	if onUpdate == nil {
		return fmt.Errorf("onUpdate callback is required")
	}

	session := d.currentSession()
	if session == nil {
		return gatt.ErrNotConnected
	}

	var filter map[string]bool
	if len(metricsFilter) > 0 {
		filter = make(map[string]bool, len(metricsFilter))
		for _, m := range metricsFilter {
			filter[m] = true
		}
	}

	d.stream.mu.Lock()
	superseded := d.stream.onUpdate != nil
	d.stream.onUpdate = onUpdate
	d.stream.filter = filter
	d.stream.mu.Unlock()

	if superseded {
		d.logger.Debug("Realtime stream superseded previous subscription")
	}

	session.queue.Enqueue(protocol.CmdStartRealtime, true)
	d.logger.WithField("filter", metricsFilter).Info("Realtime stream started")
	return nil
}

// StopRealtimeStream drops the live subscription and asks the firmware to
// stop realtime measurement. Safe to call without an active stream. The
// background sync scheduler, if associated, keeps running.
func (d *Driver) StopRealtimeStream() error {
	d.stream.mu.Lock()
	active := d.stream.onUpdate != nil
	d.stream.onUpdate = nil
	d.stream.filter = nil
	d.stream.mu.Unlock()

	if !active {
		return nil
	}

	if session := d.currentSession(); session != nil {
		session.queue.Enqueue(protocol.CmdStopRealtime, true)
	}

	// Stopping a live stream restarts background sync when a user context
	// is still associated.
	d.ensureSyncRunning()

	d.logger.Info("Realtime stream stopped")
	return nil
}

// notifyStream forwards a merged snapshot to the live subscriber when the
// update carries a filtered metric. Runs on the notification goroutine.
func (d *Driver) notifyStream(update *protocol.Update) {
	d.stream.mu.Lock()
	onUpdate := d.stream.onUpdate
	filter := d.stream.filter
	d.stream.mu.Unlock()

	if onUpdate == nil {
		return
	}
	if len(filter) > 0 && !updateTouchesFilter(update, filter) {
		return
	}
	onUpdate(d.telemetry.Snapshot())
}

// cancelStream drops the live subscription without touching the radio.
// Used on disconnect and link loss, where the queue is gone anyway.
func (d *Driver) cancelStream() {
	d.stream.mu.Lock()
	d.stream.onUpdate = nil
	d.stream.filter = nil
	d.stream.mu.Unlock()
}

func updateTouchesFilter(u *protocol.Update, filter map[string]bool) bool {
	switch {
	case u.HeartRate != nil && filter[MetricHeartRate]:
		return true
	case u.SpO2 != nil && filter[MetricSpO2]:
		return true
	case (u.Systolic != nil || u.Diastolic != nil) && filter[MetricBloodPres]:
		return true
	case u.Steps != nil && filter[MetricSteps]:
		return true
	case u.Stress != nil && filter[MetricStress]:
		return true
	case u.Battery != nil && filter[MetricBattery]:
		return true
	}
	return false
}
