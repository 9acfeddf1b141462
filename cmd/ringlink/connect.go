package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vitaldesk/ringlink/driver"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect [address]",
	Short: "Connect to a smart ring",
	Long: `Connect to a smart ring and hold the link until interrupted.

Without an address the strongest previously paired or discovered ring is
used: --auto reconnects to the remembered ring, otherwise a scan picks the
first matching device. While connected, battery and activity are synced in
the background; pass --user and --nats to forward measurements.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

var (
	connectAuto    bool
	connectUser    string
	connectNATS    string
	connectVerbose bool
)

func init() {
	connectCmd.Flags().BoolVar(&connectAuto, "auto", false, "Reconnect to the previously paired ring")
	connectCmd.Flags().StringVarP(&connectUser, "user", "u", "", "User ID to associate measurements with")
	connectCmd.Flags().StringVar(&connectNATS, "nats", "", "NATS server URL for measurement forwarding")
	connectCmd.Flags().BoolVar(&connectVerbose, "verbose", false, "Enable debug logging")
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	drv, err := newDriver(cmd, logger, connectNATS)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	progress := newProgressPrinter("Connecting:", "Starting", 0)
	progress.Start()

	var deviceID string
	switch {
	case connectAuto:
		progress.SetPhase("Reconnecting")
		if !drv.AutoReconnect(ctx, connectUser) {
			progress.Stop()
			return fmt.Errorf("automatic reconnect failed: no paired ring reachable")
		}
	case len(args) == 1:
		deviceID = args[0]
	default:
		progress.SetPhase("Scanning")
		handle, err := drv.Scan(ctx)
		if err != nil {
			progress.Stop()
			return err
		}
		deviceID = handle.ID
	}

	if deviceID != "" {
		progress.SetPhase("Connecting")
		if _, err := drv.Connect(ctx, deviceID); err != nil {
			progress.Stop()
			return err
		}
		if connectUser != "" {
			drv.AssociateUser(connectUser)
		}
	}
	progress.Stop()

	unsubscribe := drv.SubscribeConnectivity(func(ev driver.ConnectivityEvent) {
		if ev.Connected {
			color.Green("Connected to %s", ev.DeviceID)
		} else {
			color.Red("Disconnected from %s (%s)", ev.DeviceID, ev.Reason)
		}
	})
	defer unsubscribe()

	// Periodically show the merged vitals while the link is up.
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nDisconnecting...")
			return drv.Disconnect()
		case <-ticker.C:
			snap := drv.Snapshot()
			if snap.Battery != nil {
				fmt.Printf("battery=%d%%  state=%s\n", *snap.Battery, drv.State())
			}
		}
	}
}
