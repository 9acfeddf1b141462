package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitaldesk/ringlink/bridge"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge [address]",
	Short: "Expose a connected ring over a websocket",
	Long: `Connect to a ring and serve its telemetry, link state, and optionally raw
frames over a websocket endpoint at /ws. Companion apps subscribe to the
endpoint instead of talking BLE themselves.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBridge,
}

var (
	bridgeListen  string
	bridgeFrames  bool
	bridgeUser    string
	bridgeNATS    string
	bridgeVerbose bool
)

func init() {
	bridgeCmd.Flags().StringVarP(&bridgeListen, "listen", "l", bridge.DefaultListenAddr, "Listen address")
	bridgeCmd.Flags().BoolVar(&bridgeFrames, "frames", false, "Also push raw frame events")
	bridgeCmd.Flags().StringVarP(&bridgeUser, "user", "u", "", "User ID to associate measurements with")
	bridgeCmd.Flags().StringVar(&bridgeNATS, "nats", "", "NATS server URL for measurement forwarding")
	bridgeCmd.Flags().BoolVar(&bridgeVerbose, "verbose", false, "Enable debug logging")
}

func runBridge(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	drv, err := newDriver(cmd, logger, bridgeNATS)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	deviceID, err := resolveDevice(ctx, drv, args)
	if err != nil {
		return err
	}
	if _, err := drv.Connect(ctx, deviceID); err != nil {
		return err
	}
	defer func() { _ = drv.Disconnect() }()

	if bridgeUser != "" {
		drv.AssociateUser(bridgeUser)
	}

	b, err := bridge.New(drv, bridge.Options{
		ListenAddr: bridgeListen,
		Logger:     logger,
		SendFrames: bridgeFrames,
	})
	if err != nil {
		return err
	}

	progress := newProgressPrinter("Bridge:", "Starting", 0)
	progress.Start()
	defer progress.Stop()

	fmt.Printf("Serving ws://%s/ws for ring %s\n", b.Addr(), deviceID)
	return b.Run(ctx, progress.Callback())
}
