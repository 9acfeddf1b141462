package telemetry

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/vitaldesk/ringlink/internal/protocol"
)

type StoreTestSuite struct {
	suite.Suite

	store *Store
}

func (suite *StoreTestSuite) SetupTest() {
	suite.store = NewStore()
}

func (suite *StoreTestSuite) apply(u protocol.Update) {
	suite.store.Apply(&u)
}

func intp(v int) *int { return &v }

func (suite *StoreTestSuite) TestFieldMerge() {
	// GOAL: Verify partial updates merge cumulatively without clearing other fields
	//
	// TEST SCENARIO: Apply HR then SpO2 then a new HR → verify untouched fields survive each merge
	suite.apply(protocol.Update{HeartRate: intp(70), Source: protocol.SourceStandard})
	suite.apply(protocol.Update{SpO2: intp(98), Source: protocol.SourceProprietary})

	snap := suite.store.Snapshot()
	suite.Require().NotNil(snap.HeartRate)
	suite.Require().NotNil(snap.SpO2)
	suite.Equal(70, *snap.HeartRate)
	suite.Equal(98, *snap.SpO2)
	suite.Equal(protocol.SourceProprietary, snap.Source)

	suite.apply(protocol.Update{HeartRate: intp(80), Source: protocol.SourceStandard})
	snap = suite.store.Snapshot()
	suite.Equal(80, *snap.HeartRate)
	suite.Equal(98, *snap.SpO2)
}

func (suite *StoreTestSuite) TestPublishedSnapshotsAreImmutable() {
	// GOAL: Verify a snapshot captured earlier never changes under later merges
	suite.apply(protocol.Update{HeartRate: intp(70)})
	first := suite.store.Snapshot()

	suite.apply(protocol.Update{HeartRate: intp(120)})
	suite.Equal(70, *first.HeartRate)
}

func (suite *StoreTestSuite) TestStressFallback() {
	// GOAL: Verify the heart-rate-derived stress estimate and its clamping
	//
	// TEST SCENARIO: Apply heart rates across the range → verify estimate value, flag, and bounds
	cases := []struct {
		name     string
		hr       int
		expected int
	}{
		{"MidRange", 88, 50},
		{"ClampedLow", 40, 5},
		{"ClampedHigh", 180, 95},
		{"LowerEdge", 55, 5},
	}
	for _, tc := range cases {
		suite.Run(tc.name, func() {
			store := NewStore()
			store.Apply(&protocol.Update{HeartRate: intp(tc.hr)})
			snap := store.Snapshot()
			suite.Require().NotNil(snap.Stress)
			suite.Equal(tc.expected, *snap.Stress)
			suite.True(snap.StressEstimated)
		})
	}
}

func (suite *StoreTestSuite) TestDeviceStressLatchesOverEstimate() {
	// GOAL: Verify a real fatigue reading permanently disables the estimate
	//
	// TEST SCENARIO: Estimate via HR → apply device stress → apply HR again → verify device value sticks
	suite.apply(protocol.Update{HeartRate: intp(100)})
	snap := suite.store.Snapshot()
	suite.True(snap.StressEstimated)

	suite.apply(protocol.Update{Stress: intp(42)})
	snap = suite.store.Snapshot()
	suite.Require().NotNil(snap.Stress)
	suite.Equal(42, *snap.Stress)
	suite.False(snap.StressEstimated)

	suite.apply(protocol.Update{HeartRate: intp(150)})
	snap = suite.store.Snapshot()
	suite.Equal(42, *snap.Stress)
	suite.False(snap.StressEstimated)
}

func (suite *StoreTestSuite) TestOnChangeDeliversMergedSnapshot() {
	// GOAL: Verify subscribers see the full merged state per applied frame
	var got []Snapshot
	unsubscribe := suite.store.OnChange(func(s Snapshot) {
		got = append(got, s)
	})
	defer unsubscribe()

	suite.apply(protocol.Update{HeartRate: intp(70)})
	suite.apply(protocol.Update{SpO2: intp(97)})

	suite.Require().Len(got, 2)
	suite.Require().NotNil(got[1].HeartRate)
	suite.Require().NotNil(got[1].SpO2)
	suite.Equal(70, *got[1].HeartRate)

	unsubscribe()
	suite.apply(protocol.Update{HeartRate: intp(90)})
	suite.Len(got, 2)
}

func (suite *StoreTestSuite) TestEmptyUpdateIsNoOp() {
	// GOAL: Verify nil and empty updates do not touch state or notify
	notified := 0
	defer suite.store.OnChange(func(Snapshot) { notified++ })()

	suite.store.Apply(nil)
	suite.store.Apply(&protocol.Update{})

	suite.Equal(0, notified)
	suite.Nil(suite.store.Snapshot().HeartRate)
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
