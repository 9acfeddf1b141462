// Package sink defines the persistence boundary the driver talks to. The
// remote backend owns measurement storage; the driver only pushes through
// this contract, fire-and-forget. Failures are logged and never block
// telemetry flow.
package sink

import "github.com/sirupsen/logrus"

// MeasureKind names a persisted metric.
type MeasureKind string

const (
	MeasureHeartRate MeasureKind = "heart_rate"
	MeasureSpO2      MeasureKind = "spo2"
	MeasureSteps     MeasureKind = "steps"
	MeasureStress    MeasureKind = "stress"
	MeasureBattery   MeasureKind = "battery"
)

// Sink is the persistence contract consumed, not owned, by the driver.
type Sink interface {
	// UpdateDeviceStatus reports connectivity and, when known, battery level.
	UpdateDeviceStatus(userID string, connected bool, batteryLevel *int) error

	// SaveSingleMeasure stores one reading for the associated user.
	SaveSingleMeasure(userID string, kind MeasureKind, value int) error
}

// LogSink is a Sink that only logs. It backs development and the monitor
// command when no backend transport is configured.
type LogSink struct {
	Logger *logrus.Logger
}

func (s *LogSink) UpdateDeviceStatus(userID string, connected bool, batteryLevel *int) error {
	fields := logrus.Fields{"user_id": userID, "connected": connected}
	if batteryLevel != nil {
		fields["battery"] = *batteryLevel
	}
	s.Logger.WithFields(fields).Info("Device status")
	return nil
}

func (s *LogSink) SaveSingleMeasure(userID string, kind MeasureKind, value int) error {
	s.Logger.WithFields(logrus.Fields{
		"user_id": userID,
		"kind":    kind,
		"value":   value,
	}).Info("Measure")
	return nil
}
