//go:build test

package main

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaldesk/ringlink/internal/gatt"
	"github.com/vitaldesk/ringlink/internal/gatt/bleadapter"
	"github.com/vitaldesk/ringlink/internal/gatt/tinyadapter"
	"github.com/vitaldesk/ringlink/scanner"
)

func TestFormatVersion(t *testing.T) {
	// GOAL: Verify the 'v' prefix is added only for numeric versions
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "v0.1.0-rc1", formatVersion("0.1.0-rc1"))
	assert.Equal(t, "", formatVersion(""))
}

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().String("backend", "ble", "")
	cmd.Flags().String("profile", "", "")
	cmd.Flags().Bool("verbose", false, "")
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	// GOAL: Verify --log-level and the verbose fallback control the level
	t.Run("DefaultIsSilent", func(t *testing.T) {
		cmd := newFlagCommand()
		logger, err := configureLogger(cmd, "verbose")
		require.NoError(t, err)
		assert.Equal(t, logrus.PanicLevel, logger.GetLevel())
	})

	t.Run("ExplicitLevel", func(t *testing.T) {
		cmd := newFlagCommand()
		require.NoError(t, cmd.Flags().Set("log-level", "warn"))
		logger, err := configureLogger(cmd, "verbose")
		require.NoError(t, err)
		assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	})

	t.Run("VerboseFallback", func(t *testing.T) {
		cmd := newFlagCommand()
		require.NoError(t, cmd.Flags().Set("verbose", "true"))
		logger, err := configureLogger(cmd, "verbose")
		require.NoError(t, err)
		assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	})

	t.Run("InvalidLevelRejected", func(t *testing.T) {
		cmd := newFlagCommand()
		require.NoError(t, cmd.Flags().Set("log-level", "loud"))
		_, err := configureLogger(cmd, "verbose")
		assert.Error(t, err)
	})
}

func TestNewRadioBackendSelection(t *testing.T) {
	// GOAL: Verify --backend picks the radio implementation and rejects junk
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	t.Run("DefaultIsBLE", func(t *testing.T) {
		cmd := newFlagCommand()
		adapter, err := newRadio(cmd, logger)
		require.NoError(t, err)
		assert.IsType(t, &bleadapter.Adapter{}, adapter)
	})

	t.Run("TinyGo", func(t *testing.T) {
		cmd := newFlagCommand()
		require.NoError(t, cmd.Flags().Set("backend", "tinygo"))
		adapter, err := newRadio(cmd, logger)
		require.NoError(t, err)
		assert.IsType(t, &tinyadapter.Adapter{}, adapter)
	})

	t.Run("UnknownRejected", func(t *testing.T) {
		cmd := newFlagCommand()
		require.NoError(t, cmd.Flags().Set("backend", "serial"))
		_, err := newRadio(cmd, logger)
		assert.Error(t, err)
	})
}

func TestFormatUserError(t *testing.T) {
	// GOAL: Verify link failures turn into actionable messages and unknown
	// errors pass through
	assert.Contains(t, FormatUserError(gatt.ErrNoAdapter), "Bluetooth is enabled")
	assert.Contains(t, FormatUserError(gatt.ErrNoMatch), "charged and nearby")
	assert.Contains(t, FormatUserError(gatt.ErrNotConnected), "ringlink connect")
	assert.Contains(t, FormatUserError(gatt.ErrAlreadyConnected), "disconnect before")
	assert.Contains(t, FormatUserError(gatt.ErrTimeout), "out of range")

	plain := errors.New("att mtu exchange failed")
	assert.Equal(t, plain.Error(), FormatUserError(plain))
}

func TestSortedDevicesStrongestFirst(t *testing.T) {
	devices := map[string]scanner.DeviceInfo{
		"AA:00": {ID: "AA:00", Name: "R02_WEAK", RSSI: -88},
		"AA:01": {ID: "AA:01", Name: "R02_NEAR", RSSI: -42},
		"AA:02": {ID: "AA:02", Name: "R06_MID", RSSI: -65},
	}

	list := sortedDevices(devices)
	require.Len(t, list, 3)
	assert.Equal(t, "R02_NEAR", list[0].Name)
	assert.Equal(t, "R06_MID", list[1].Name)
	assert.Equal(t, "R02_WEAK", list[2].Name)
}
