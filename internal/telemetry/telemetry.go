// Package telemetry holds the cumulative "current readings" state of the
// connected ring and fans merged changes out to subscribers.
package telemetry

import (
	"sync"
	"time"

	"github.com/vitaldesk/ringlink/internal/events"
	"github.com/vitaldesk/ringlink/internal/protocol"
)

// Stress-estimate clamp bounds. The synthesized value always stays inside
// them so downstream consumers can render it on a fixed 0-100 scale.
const (
	stressFloor = 5
	stressCeil  = 95
)

// Snapshot is the cumulative current-readings state. Nil pointers are fields
// the device has never reported. Snapshots handed to subscribers are copies;
// the pointed-to values are never mutated after publication.
type Snapshot struct {
	HeartRate *int `json:"heart_rate"`
	SpO2      *int `json:"spo2"`
	Systolic  *int `json:"systolic"`
	Diastolic *int `json:"diastolic"`
	Steps     *int `json:"steps"`
	Stress    *int `json:"stress"`
	Battery   *int `json:"battery"`

	// StressEstimated is true while Stress carries the synthesized
	// heart-rate-derived value rather than a device-reported one.
	StressEstimated bool `json:"stress_estimated"`

	// Source tags the sub-protocol that produced the most recent merge.
	Source    protocol.Source `json:"source,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store merges partial updates into a Snapshot. Merges are atomic: no reader
// observes a half-applied frame. The store lives for the driver's process
// lifetime and is never reset by link churn.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot

	// deviceStress latches once a real HRV/fatigue reading arrives; from
	// then on the estimate is never applied again this session.
	deviceStress bool

	observers *events.Observable[Snapshot]
}

// NewStore creates an empty telemetry store.
func NewStore() *Store {
	return &Store{
		observers: events.NewObservable[Snapshot](false),
	}
}

// Apply merges one partial update field-by-field, runs the stress-estimate
// fallback, and notifies subscribers with the resulting full snapshot.
// A nil or empty update is a no-op.
func (s *Store) Apply(u *protocol.Update) {
	if u == nil || u.IsEmpty() {
		return
	}

	s.mu.Lock()
	mergeField(&s.snap.HeartRate, u.HeartRate)
	mergeField(&s.snap.SpO2, u.SpO2)
	mergeField(&s.snap.Systolic, u.Systolic)
	mergeField(&s.snap.Diastolic, u.Diastolic)
	mergeField(&s.snap.Steps, u.Steps)
	mergeField(&s.snap.Battery, u.Battery)

	if u.Stress != nil {
		v := *u.Stress
		s.snap.Stress = &v
		s.snap.StressEstimated = false
		s.deviceStress = true
	}
	s.applyStressFallback()

	s.snap.Source = u.Source
	s.snap.UpdatedAt = time.Now()
	out := s.snap
	s.mu.Unlock()

	s.observers.Notify(out)
}

// applyStressFallback synthesizes a stress value from heart rate while the
// device has never reported a real one. The fixed mapping tracks the inverse
// HRV/heart-rate relationship linearly and is an explicit estimation policy,
// not a physiological model. A device-reported value permanently overrides
// it for the session.
func (s *Store) applyStressFallback() {
	if s.deviceStress || s.snap.HeartRate == nil {
		return
	}
	est := (*s.snap.HeartRate - 55) * 100 / 65
	if est < stressFloor {
		est = stressFloor
	}
	if est > stressCeil {
		est = stressCeil
	}
	s.snap.Stress = &est
	s.snap.StressEstimated = true
}

// mergeField replaces dst only when the update carries the field. The stored
// pointer is re-allocated so previously published snapshots stay immutable.
func mergeField(dst **int, src *int) {
	if src == nil {
		return
	}
	v := *src
	*dst = &v
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// OnChange registers a subscriber for merged snapshots and returns its
// unsubscribe handle. Subscribers run synchronously on the merging
// goroutine and must not block.
func (s *Store) OnChange(fn func(Snapshot)) func() {
	return s.observers.Listen(fn)
}
