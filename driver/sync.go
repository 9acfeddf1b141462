package driver

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitaldesk/ringlink/internal/groutine"
	"github.com/vitaldesk/ringlink/internal/protocol"
	"github.com/vitaldesk/ringlink/internal/sink"
)

// syncState holds the background sync scheduler: the low-rate periodic
// battery/activity collection that runs while a link is up and a user
// context is associated, independent of any live stream.
type syncState struct {
	mu     sync.Mutex
	userID string
	cancel context.CancelFunc
}

// AssociateUser binds the connected session to a user context and starts the
// background sync scheduler. A no-op while disconnected; the association is
// remembered so a later stream-stop can restart the scheduler.
func (d *Driver) AssociateUser(userID string) {
	d.bgSync.mu.Lock()
	d.bgSync.userID = userID
	d.bgSync.mu.Unlock()

	d.ensureSyncRunning()
}

// ensureSyncRunning starts the scheduler when a session and a user context
// are both present and it is not already running.
func (d *Driver) ensureSyncRunning() {
	session := d.currentSession()
	if session == nil {
		return
	}

	d.bgSync.mu.Lock()
	defer d.bgSync.mu.Unlock()

	if d.bgSync.userID == "" || d.bgSync.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.bgSync.cancel = cancel
	userID := d.bgSync.userID

	d.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"interval": d.opts.SyncInterval,
	}).Info("Background sync started")

	groutine.Go(ctx, "background-sync", func(ctx context.Context) {
		ticker := time.NewTicker(d.opts.SyncInterval)
		defer ticker.Stop()

		// One immediate pass so a fresh association reports promptly.
		d.syncPass(session, userID)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.syncPass(session, userID)
			}
		}
	})
}

// stopSync cancels the scheduler but keeps the user association, so a
// reconnect or stream-stop can bring it back. Idempotent.
func (d *Driver) stopSync() {
	d.bgSync.mu.Lock()
	defer d.bgSync.mu.Unlock()
	if d.bgSync.cancel != nil {
		d.bgSync.cancel()
		d.bgSync.cancel = nil
		d.logger.Debug("Background sync stopped")
	}
}

// syncPass is one scheduler tick: read the battery characteristic when
// present and forward the level, then poll the activity counter through the
// command queue. The step answer arrives asynchronously via the decoder and
// is forwarded by forwardSyncUpdate.
func (d *Driver) syncPass(session *linkSession, userID string) {
	var battery *int
	if session.battery != nil {
		if data, err := session.battery.Read(5 * time.Second); err == nil {
			if update, _ := d.decoder.Decode(protocol.ChrBatteryLevel, data); update != nil {
				d.telemetry.Apply(update)
				battery = update.Battery
			}
		} else {
			d.logger.WithField("error", err).Debug("Background battery read failed")
		}
	} else {
		// No standard battery channel; ask over the vendor protocol.
		session.queue.Enqueue(protocol.CmdBatteryPoll, false)
	}

	d.sink.UpdateDeviceStatus(userID, true, battery)
	session.queue.Enqueue(protocol.CmdActivityPoll, false)
}

// forwardSyncUpdate pushes decoder output to the persistence sink while the
// scheduler is active. The fixed polling interval bounds call frequency; no
// additional filtering is applied here, only the sink dispatcher's
// per-field coalescing.
func (d *Driver) forwardSyncUpdate(update *protocol.Update) {
	d.bgSync.mu.Lock()
	userID := d.bgSync.userID
	active := d.bgSync.cancel != nil
	d.bgSync.mu.Unlock()

	if !active {
		return
	}

	if update.Steps != nil {
		d.sink.SaveSingleMeasure(userID, sink.MeasureSteps, *update.Steps)
	}
	if update.Battery != nil {
		d.sink.SaveSingleMeasure(userID, sink.MeasureBattery, *update.Battery)
	}
}
