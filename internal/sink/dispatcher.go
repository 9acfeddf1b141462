package sink

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Dispatcher wraps a Sink with at-most-one-in-flight-per-field semantics.
// While a call for a given key is outstanding, newer values for that key are
// coalesced into a single pending slot, so a slow backend can never pile up
// unbounded concurrent writes. Sink errors are logged and swallowed.
type Dispatcher struct {
	sink   Sink
	logger *logrus.Logger

	mu       sync.Mutex
	inflight map[string]bool
	pending  map[string]func()
}

// NewDispatcher wraps target with the bounded fire-and-forget policy.
func NewDispatcher(target Sink, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		sink:     target,
		logger:   logger,
		inflight: make(map[string]bool),
		pending:  make(map[string]func()),
	}
}

// SaveSingleMeasure submits a measurement, coalescing per kind.
func (d *Dispatcher) SaveSingleMeasure(userID string, kind MeasureKind, value int) {
	d.submit("measure/"+string(kind), func() {
		if err := d.sink.SaveSingleMeasure(userID, kind, value); err != nil {
			d.logger.WithFields(logrus.Fields{
				"kind":  kind,
				"error": err,
			}).Warn("Persistence sink rejected measure")
		}
	})
}

// UpdateDeviceStatus submits a connectivity/battery status, coalescing.
func (d *Dispatcher) UpdateDeviceStatus(userID string, connected bool, batteryLevel *int) {
	d.submit("status", func() {
		if err := d.sink.UpdateDeviceStatus(userID, connected, batteryLevel); err != nil {
			d.logger.WithField("error", err).Warn("Persistence sink rejected device status")
		}
	})
}

// submit runs call on its own goroutine unless one for the same key is
// already in flight, in which case call replaces the key's pending slot and
// runs when the current one finishes. Only the newest pending call survives.
func (d *Dispatcher) submit(key string, call func()) {
	d.mu.Lock()
	if d.inflight[key] {
		d.pending[key] = call
		d.mu.Unlock()
		return
	}
	d.inflight[key] = true
	d.mu.Unlock()

	go d.run(key, call)
}

func (d *Dispatcher) run(key string, call func()) {
	for call != nil {
		call()

		d.mu.Lock()
		next := d.pending[key]
		delete(d.pending, key)
		if next == nil {
			d.inflight[key] = false
		}
		d.mu.Unlock()

		call = next
	}
}

// Wait blocks until no call is in flight. Test helper; production callers
// never wait on the sink.
func (d *Dispatcher) Wait() {
	for {
		d.mu.Lock()
		busy := false
		for _, v := range d.inflight {
			if v {
				busy = true
				break
			}
		}
		d.mu.Unlock()
		if !busy {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
