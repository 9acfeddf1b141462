package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vitaldesk/ringlink/driver"
	"github.com/vitaldesk/ringlink/internal/gatt"
	"github.com/vitaldesk/ringlink/internal/gatt/bleadapter"
	"github.com/vitaldesk/ringlink/internal/gatt/tinyadapter"
	"github.com/vitaldesk/ringlink/internal/sink"
)

// newRadio creates the radio backend selected via --backend.
func newRadio(cmd *cobra.Command, logger *logrus.Logger) (gatt.RadioAdapter, error) {
	backend, _ := cmd.Flags().GetString("backend")
	switch backend {
	case "", "ble":
		return bleadapter.New(logger), nil
	case "tinygo":
		return tinyadapter.New(logger), nil
	default:
		return nil, fmt.Errorf("invalid backend '%s': must be ble or tinygo", backend)
	}
}

// newDriver assembles a driver from the global flags plus the given extras.
// natsURL may be empty, in which case measurements are only logged.
func newDriver(cmd *cobra.Command, logger *logrus.Logger, natsURL string) (*driver.Driver, error) {
	adapter, err := newRadio(cmd, logger)
	if err != nil {
		return nil, err
	}

	opts := driver.Options{Logger: logger}
	if profile, _ := cmd.Flags().GetString("profile"); profile != "" {
		if err := opts.LoadProfile(profile); err != nil {
			return nil, fmt.Errorf("failed to load profile %q: %w", profile, err)
		}
	}

	if natsURL != "" {
		ns, err := sink.NewNATSSink(natsURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %q: %w", natsURL, err)
		}
		opts.Sink = ns
	}

	return driver.New(adapter, opts)
}
