package protocol

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// DecoderTestSuite covers frame classification and both sub-protocol decoders.
type DecoderTestSuite struct {
	suite.Suite

	decoder *Decoder
}

func (suite *DecoderTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	suite.decoder = NewDecoder(logger)
}

func (suite *DecoderTestSuite) TestASCIIMeasurementEvents() {
	// GOAL: Verify KEY=VALUE notification lines decode into tagged updates
	//
	// TEST SCENARIO: Feed ASCII payloads on the vendor channel → verify field values and source tagging
	suite.Run("HeartRate", func() {
		update, ev := suite.decoder.Decode(ChrVendorNotify, []byte("MEAS_EVT_HR=72\r\n"))
		suite.Require().NotNil(update)
		suite.Require().NotNil(update.HeartRate)
		suite.Equal(72, *update.HeartRate)
		suite.Equal(SourceProprietary, update.Source)
		suite.True(ev.IsASCII)
		suite.True(ev.Decoded)
	})

	suite.Run("SpO2", func() {
		update, _ := suite.decoder.Decode(ChrVendorNotify, []byte("MEAS_EVT_SPO2=98\r\n"))
		suite.Require().NotNil(update)
		suite.Require().NotNil(update.SpO2)
		suite.Equal(98, *update.SpO2)
	})

	suite.Run("BloodPressureBothFields", func() {
		update, _ := suite.decoder.Decode(ChrVendorNotify, []byte("MEAS_EVT_BP=120,80\r\n"))
		suite.Require().NotNil(update)
		suite.Require().NotNil(update.Systolic)
		suite.Require().NotNil(update.Diastolic)
		suite.Equal(120, *update.Systolic)
		suite.Equal(80, *update.Diastolic)
	})

	suite.Run("SportStepsSecondField", func() {
		update, _ := suite.decoder.Decode(ChrVendorNotify, []byte("MEAS_EVT_SPORT=3,4200,180\r\n"))
		suite.Require().NotNil(update)
		suite.Require().NotNil(update.Steps)
		suite.Equal(4200, *update.Steps)
	})

	suite.Run("Fatigue", func() {
		update, _ := suite.decoder.Decode(ChrVendorNotify, []byte("MEAS_EVT_FATIGUE=37\r\n"))
		suite.Require().NotNil(update)
		suite.Require().NotNil(update.Stress)
		suite.Equal(37, *update.Stress)
	})

	suite.Run("MultipleLinesInOneFrame", func() {
		update, _ := suite.decoder.Decode(ChrVendorNotify, []byte("MEAS_EVT_HR=68\r\nMEAS_EVT_SPO2=97\r\n"))
		suite.Require().NotNil(update)
		suite.Require().NotNil(update.HeartRate)
		suite.Require().NotNil(update.SpO2)
		suite.Equal(68, *update.HeartRate)
		suite.Equal(97, *update.SpO2)
	})
}

func (suite *DecoderTestSuite) TestASCIIRejectsNonPositiveValues() {
	// GOAL: Verify zero and negative measurement values never enter the merge path
	//
	// TEST SCENARIO: Feed sensor-idle and corrupt readings → verify no update is produced
	cases := []struct {
		name    string
		payload string
	}{
		{"ZeroHeartRate", "MEAS_EVT_HR=0\r\n"},
		{"NegativeHeartRate", "MEAS_EVT_HR=-5\r\n"},
		{"ZeroSpO2", "MEAS_EVT_SPO2=0\r\n"},
		{"PartialBloodPressure", "MEAS_EVT_BP=120,0\r\n"},
		{"NonNumeric", "MEAS_EVT_HR=abc\r\n"},
		{"UnknownKey", "MEAS_EVT_MOOD=9\r\n"},
		{"NoSeparator", "MEAS_EVT_HR 72\r\n"},
	}
	for _, tc := range cases {
		suite.Run(tc.name, func() {
			update, ev := suite.decoder.Decode(ChrVendorNotify, []byte(tc.payload))
			suite.Nil(update)
			suite.False(ev.Decoded)
		})
	}

	suite.Run("ZeroStepsAccepted", func() {
		// Steps is a daily cumulative counter, so zero is a real reading.
		update, _ := suite.decoder.Decode(ChrVendorNotify, []byte("MEAS_EVT_SPORT=0,0,0\r\n"))
		suite.Require().NotNil(update)
		suite.Require().NotNil(update.Steps)
		suite.Equal(0, *update.Steps)
	})
}

func (suite *DecoderTestSuite) TestStandardHeartRate() {
	// GOAL: Verify standard 2A37 heart-rate frames honor the flags byte format bit
	//
	// TEST SCENARIO: Feed 8-bit and 16-bit encoded frames → verify value extraction and source tagging
	suite.Run("Uint8Format", func() {
		update, ev := suite.decoder.Decode(ChrHeartRateMeas, []byte{0x00, 0x4B})
		suite.Require().NotNil(update)
		suite.Require().NotNil(update.HeartRate)
		suite.Equal(75, *update.HeartRate)
		suite.Equal(SourceStandard, update.Source)
		suite.False(ev.IsASCII)
		suite.True(ev.Decoded)
	})

	suite.Run("Uint16Format", func() {
		update, _ := suite.decoder.Decode(ChrHeartRateMeas, []byte{0x01, 0x2C, 0x01})
		suite.Require().NotNil(update)
		suite.Require().NotNil(update.HeartRate)
		suite.Equal(300, *update.HeartRate)
	})

	suite.Run("ZeroDropped", func() {
		update, _ := suite.decoder.Decode(ChrHeartRateMeas, []byte{0x00, 0x00})
		suite.Nil(update)
	})

	suite.Run("TruncatedDropped", func() {
		update, _ := suite.decoder.Decode(ChrHeartRateMeas, []byte{0x01, 0x48})
		suite.Nil(update)
	})
}

func (suite *DecoderTestSuite) TestStandardBattery() {
	// GOAL: Verify 2A19 battery reads decode as a single percentage byte
	suite.Run("Valid", func() {
		update, _ := suite.decoder.Decode(ChrBatteryLevel, []byte{0x55})
		suite.Require().NotNil(update)
		suite.Require().NotNil(update.Battery)
		suite.Equal(85, *update.Battery)
		suite.Equal(SourceStandard, update.Source)
	})

	suite.Run("OverRangeDropped", func() {
		update, _ := suite.decoder.Decode(ChrBatteryLevel, []byte{0x65})
		suite.Nil(update)
	})

	suite.Run("WrongLengthDropped", func() {
		update, _ := suite.decoder.Decode(ChrBatteryLevel, []byte{0x55, 0x00})
		suite.Nil(update)
	})
}

func (suite *DecoderTestSuite) TestProprietaryBinaryFrame() {
	// GOAL: Verify sentinel-framed vendor packets yield combined HR and SpO2
	suite.Run("Valid", func() {
		update, _ := suite.decoder.Decode(ChrVendorNotify, []byte{0xAB, 0x01, 0x48, 0x00, 0x62})
		suite.Require().NotNil(update)
		suite.Require().NotNil(update.HeartRate)
		suite.Require().NotNil(update.SpO2)
		suite.Equal(72, *update.HeartRate)
		suite.Equal(98, *update.SpO2)
		suite.Equal(SourceProprietary, update.Source)
	})

	suite.Run("WrongSentinelDropped", func() {
		update, ev := suite.decoder.Decode(ChrVendorNotify, []byte{0xAC, 0x01, 0x48, 0x00, 0x62})
		suite.Nil(update)
		suite.False(ev.Decoded)
	})

	suite.Run("TooShortDropped", func() {
		update, _ := suite.decoder.Decode(ChrVendorNotify, []byte{0xAB, 0x01, 0x48})
		suite.Nil(update)
	})

	suite.Run("ZeroVitalsDropped", func() {
		update, _ := suite.decoder.Decode(ChrVendorNotify, []byte{0xAB, 0x01, 0x00, 0x00, 0x62})
		suite.Nil(update)
	})
}

func (suite *DecoderTestSuite) TestUnknownFramesNeverPanic() {
	// GOAL: Verify arbitrary garbage is classified and dropped without errors
	//
	// TEST SCENARIO: Feed junk payloads on various channels → verify nil updates and intact frame events
	cases := []struct {
		name    string
		channel string
		data    []byte
	}{
		{"Empty", ChrVendorNotify, nil},
		{"SingleByte", ChrVendorNotify, []byte{0xFF}},
		{"BinaryOnUnknownChannel", "ffe1", []byte{0x01, 0x02, 0x03}},
		{"ASCIIWithoutKey", ChrVendorNotify, []byte("hello world\r\n")},
		{"HighBytes", ChrVendorNotify, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xFF}},
	}
	for _, tc := range cases {
		suite.Run(tc.name, func() {
			update, ev := suite.decoder.Decode(tc.channel, tc.data)
			suite.Nil(update)
			suite.Equal(tc.channel, ev.ChannelUUID)
		})
	}
}

func TestDecoderTestSuite(t *testing.T) {
	suite.Run(t, new(DecoderTestSuite))
}
