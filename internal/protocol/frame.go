package protocol

import (
	"encoding/hex"
	"time"
)

// Source tags a decoded field with the sub-protocol that produced it.
type Source string

const (
	// SourceStandard marks values decoded from standard GATT health
	// characteristics (heart rate measurement, battery level).
	SourceStandard Source = "standard"
	// SourceProprietary marks values decoded from the vendor protocol,
	// both the ASCII telemetry lines and the sentinel binary frames.
	SourceProprietary Source = "proprietary"
)

// Encoding is the detected wire encoding of a frame.
type Encoding string

const (
	EncodingASCII  Encoding = "ascii"
	EncodingBinary Encoding = "binary"
)

// Frame is the decoder's unit of work: one raw notification plus its
// originating channel identity. Frames are transient; they exist for one
// decode pass and for the debug event stream.
type Frame struct {
	ChannelUUID string
	Data        []byte
	Encoding    Encoding
	ReceivedAt  time.Time
}

// FrameEvent is the one-way observability record emitted for every frame,
// decoded or not. It is intended for a developer-facing terminal view and is
// not part of the control protocol.
type FrameEvent struct {
	ChannelUUID string    `json:"channel_id"`
	IsASCII     bool      `json:"is_ascii"`
	Text        string    `json:"text,omitempty"`
	Hex         string    `json:"hex,omitempty"`
	Decoded     bool      `json:"decoded"`
	ReceivedAt  time.Time `json:"received_at"`
}

// newFrameEvent builds the debug record for a classified frame.
func newFrameEvent(f Frame, decoded bool) FrameEvent {
	ev := FrameEvent{
		ChannelUUID: f.ChannelUUID,
		IsASCII:     f.Encoding == EncodingASCII,
		Decoded:     decoded,
		ReceivedAt:  f.ReceivedAt,
	}
	if ev.IsASCII {
		ev.Text = string(f.Data)
	} else {
		ev.Hex = hex.EncodeToString(f.Data)
	}
	return ev
}

// Update is a partial telemetry update: only the fields present in one
// decoded frame. Nil pointers mean "not present in this frame" and must not
// disturb previously merged values.
type Update struct {
	Source Source

	HeartRate *int
	SpO2      *int
	Systolic  *int
	Diastolic *int
	Steps     *int
	Stress    *int
	Battery   *int
}

// IsEmpty reports whether the update carries no fields at all.
func (u *Update) IsEmpty() bool {
	return u.HeartRate == nil && u.SpO2 == nil && u.Systolic == nil &&
		u.Diastolic == nil && u.Steps == nil && u.Stress == nil && u.Battery == nil
}

func intPtr(v int) *int { return &v }
