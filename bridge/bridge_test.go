package bridge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/vitaldesk/ringlink/bridge"
	"github.com/vitaldesk/ringlink/driver"
	"github.com/vitaldesk/ringlink/internal/gatt"
	"github.com/vitaldesk/ringlink/internal/pairing"
	"github.com/vitaldesk/ringlink/internal/protocol"
	"github.com/vitaldesk/ringlink/internal/testutils"
)

type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type BridgeTestSuite struct {
	suitelib.Suite

	notifyChar *testutils.FakeCharacteristic
	link       *testutils.FakeLink
	drv        *driver.Driver

	b      *bridge.Bridge
	cancel context.CancelFunc
	done   chan struct{}
	conn   *websocket.Conn
}

func (suite *BridgeTestSuite) SetupTest() {
	suite.notifyChar = testutils.NewFakeCharacteristic(
		protocol.SvcVendorUART, protocol.ChrVendorNotify, gatt.PropNotify)
	suite.link = testutils.NewFakeLink("AA:BB:CC:DD:EE:FF", suite.notifyChar)
	adapter := testutils.NewFakeAdapter().WithLink(suite.link)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	drv, err := driver.New(adapter, driver.Options{
		CommandPacing: time.Millisecond,
		Logger:        logger,
		Store:         &pairing.MemStore{},
	})
	suite.Require().NoError(err)

	_, err = drv.Connect(context.Background(), "AA:BB:CC:DD:EE:FF")
	suite.Require().NoError(err)
	suite.drv = drv
}

func (suite *BridgeTestSuite) TearDownTest() {
	if suite.conn != nil {
		_ = suite.conn.Close()
	}
	if suite.cancel != nil {
		suite.cancel()
		select {
		case <-suite.done:
		case <-time.After(time.Second):
			suite.Fail("bridge did not shut down")
		}
	}
	_ = suite.drv.Disconnect()
}

// startBridge runs the bridge on an ephemeral port and dials one client.
func (suite *BridgeTestSuite) startBridge(sendFrames bool) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	b, err := bridge.New(suite.drv, bridge.Options{
		ListenAddr: "127.0.0.1:0",
		Logger:     logger,
		SendFrames: sendFrames,
	})
	suite.Require().NoError(err)
	suite.b = b

	ctx, cancel := context.WithCancel(context.Background())
	suite.cancel = cancel
	suite.done = make(chan struct{})
	go func() {
		defer close(suite.done)
		_ = b.Run(ctx, nil)
	}()

	// Wait for the listener to come up.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.Addr() != "127.0.0.1:0" {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/ws", nil)
	suite.Require().NoError(err)
	suite.conn = conn
}

func (suite *BridgeTestSuite) readEnvelope() wsEnvelope {
	suite.Require().NoError(suite.conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, data, err := suite.conn.ReadMessage()
	suite.Require().NoError(err)

	var env wsEnvelope
	suite.Require().NoError(json.Unmarshal(data, &env))
	return env
}

func (suite *BridgeTestSuite) TestClientIsSeededWithSnapshot() {
	// GOAL: Verify a fresh client immediately receives the current telemetry
	suite.notifyChar.Notify([]byte("MEAS_EVT_HR=72\r\n"))
	suite.startBridge(false)

	env := suite.readEnvelope()
	suite.Equal("telemetry", env.Type)

	var snap struct {
		HeartRate *int `json:"heart_rate"`
	}
	suite.Require().NoError(json.Unmarshal(env.Data, &snap))
	suite.Require().NotNil(snap.HeartRate)
	suite.Equal(72, *snap.HeartRate)
}

func (suite *BridgeTestSuite) TestTelemetryUpdatesArePushed() {
	suite.startBridge(false)
	suite.readEnvelope() // seed snapshot

	suite.notifyChar.Notify([]byte("MEAS_EVT_SPO2=97\r\n"))

	env := suite.readEnvelope()
	suite.Equal("telemetry", env.Type)

	var snap struct {
		SpO2 *int `json:"spo2"`
	}
	suite.Require().NoError(json.Unmarshal(env.Data, &snap))
	suite.Require().NotNil(snap.SpO2)
	suite.Equal(97, *snap.SpO2)
}

func (suite *BridgeTestSuite) TestFrameEventsPushedWhenEnabled() {
	suite.startBridge(true)
	suite.readEnvelope() // seed snapshot

	suite.notifyChar.Notify([]byte{0xDE, 0xAD}) // undecodable, frame only

	env := suite.readEnvelope()
	suite.Equal("frame", env.Type)

	var frame protocol.FrameEvent
	suite.Require().NoError(json.Unmarshal(env.Data, &frame))
	suite.False(frame.Decoded)
	suite.Equal(protocol.ChrVendorNotify, frame.ChannelUUID)
}

func (suite *BridgeTestSuite) TestAbruptClientDisconnectDuringBroadcast() {
	// GOAL: Verify clients slamming their connections shut while telemetry is
	// flooding never disturb delivery to the remaining clients
	suite.startBridge(false)
	suite.readEnvelope() // seed snapshot

	var churn []*websocket.Conn
	for i := 0; i < 20; i++ {
		conn, _, err := websocket.DefaultDialer.Dial("ws://"+suite.b.Addr()+"/ws", nil)
		suite.Require().NoError(err)
		churn = append(churn, conn)
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for _, conn := range churn {
			_ = conn.Close()
		}
	}()

	for hr := 60; hr < 160; hr++ {
		suite.notifyChar.Notify([]byte(fmt.Sprintf("MEAS_EVT_HR=%d\r\n", hr)))
	}
	<-closed

	// The surviving client still receives fresh telemetry after the churn.
	suite.notifyChar.Notify([]byte("MEAS_EVT_SPO2=96\r\n"))

	found := false
	for i := 0; i < 300 && !found; i++ {
		env := suite.readEnvelope()
		if env.Type != "telemetry" {
			continue
		}
		var snap struct {
			SpO2 *int `json:"spo2"`
		}
		suite.Require().NoError(json.Unmarshal(env.Data, &snap))
		found = snap.SpO2 != nil && *snap.SpO2 == 96
	}
	suite.True(found, "surviving client must keep receiving after churn")
}

func (suite *BridgeTestSuite) TestConnectivityEventsArePushed() {
	suite.startBridge(false)
	suite.readEnvelope() // seed snapshot

	suite.link.DropLink()

	env := suite.readEnvelope()
	suite.Equal("connectivity", env.Type)

	var ev driver.ConnectivityEvent
	suite.Require().NoError(json.Unmarshal(env.Data, &ev))
	suite.False(ev.Connected)
	suite.Equal("link_loss", ev.Reason)
}

func TestBridgeTestSuite(t *testing.T) {
	suitelib.Run(t, new(BridgeTestSuite))
}

func TestNewBridgeRequiresDriver(t *testing.T) {
	_, err := bridge.New(nil, bridge.Options{})
	require.Error(t, err)
}
