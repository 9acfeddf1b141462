package protocol

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Decoder classifies and decodes incoming notification frames. It is
// stateless apart from its logger and safe for concurrent use from
// notification-delivery goroutines.
type Decoder struct {
	logger *logrus.Logger
}

// NewDecoder creates a frame decoder.
func NewDecoder(logger *logrus.Logger) *Decoder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Decoder{logger: logger}
}

// Decode classifies one raw notification and decodes it into a partial
// telemetry update. The returned Update is nil when the frame matched no
// known shape; that is not an error. The FrameEvent is always populated for
// the observability stream.
func (d *Decoder) Decode(channelUUID string, data []byte) (*Update, FrameEvent) {
	frame := Frame{
		ChannelUUID: channelUUID,
		Data:        data,
		ReceivedAt:  time.Now(),
	}

	var update *Update
	if isPrintableASCII(data) {
		frame.Encoding = EncodingASCII
		update = parseASCII(data)
	} else {
		frame.Encoding = EncodingBinary
		update = d.decodeBinary(channelUUID, data)
	}

	if update == nil {
		d.logger.WithFields(logrus.Fields{
			"channel_uuid": channelUUID,
			"encoding":     frame.Encoding,
			"len":          len(data),
		}).Debug("Frame matched no known shape, dropped")
	}

	return update, newFrameEvent(frame, update != nil)
}

// decodeBinary dispatches a binary frame by channel identity first, then by
// the proprietary sentinel. The standard characteristics have fixed layouts
// defined by the Bluetooth SIG; everything else must announce itself with
// the vendor sentinel or is dropped.
func (d *Decoder) decodeBinary(channelUUID string, data []byte) *Update {
	switch channelUUID {
	case ChrHeartRateMeas:
		return parseStandardHeartRate(data)
	case ChrBatteryLevel:
		return parseStandardBattery(data)
	}
	return parseProprietaryFrame(data)
}
