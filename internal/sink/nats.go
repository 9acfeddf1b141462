package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATS subjects for the backend integration bus.
const (
	subjectDeviceStatus  = "ring.device.status"
	subjectMeasurePrefix = "ring.measure."
)

// NATSSink publishes the persistence contract onto a NATS bus for the
// backend to consume. Publish is fire-and-forget, which matches the driver's
// contract exactly.
type NATSSink struct {
	conn   *nats.Conn
	logger *logrus.Logger
}

// statusMessage is the wire shape of a device status event.
type statusMessage struct {
	UserID    string `json:"user_id"`
	Connected bool   `json:"connected"`
	Battery   *int   `json:"battery,omitempty"`
	At        int64  `json:"at"`
}

// measureMessage is the wire shape of a single measurement.
type measureMessage struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
	Value  int    `json:"value"`
	At     int64  `json:"at"`
}

// NewNATSSink connects to the given NATS URL (nats.DefaultURL when empty).
func NewNATSSink(url string, logger *logrus.Logger) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if logger == nil {
		logger = logrus.New()
	}

	conn, err := nats.Connect(url,
		nats.Name("ringlink-driver"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return &NATSSink{conn: conn, logger: logger}, nil
}

func (s *NATSSink) UpdateDeviceStatus(userID string, connected bool, batteryLevel *int) error {
	data, err := json.Marshal(statusMessage{
		UserID:    userID,
		Connected: connected,
		Battery:   batteryLevel,
		At:        time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return s.conn.Publish(subjectDeviceStatus, data)
}

func (s *NATSSink) SaveSingleMeasure(userID string, kind MeasureKind, value int) error {
	data, err := json.Marshal(measureMessage{
		UserID: userID,
		Kind:   string(kind),
		Value:  value,
		At:     time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return s.conn.Publish(subjectMeasurePrefix+string(kind), data)
}

// Close flushes pending publishes and drops the connection.
func (s *NATSSink) Close() {
	if err := s.conn.Flush(); err != nil {
		s.logger.WithField("error", err).Warn("Failed to flush NATS connection")
	}
	s.conn.Close()
}
