package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vitaldesk/ringlink/driver"
	"github.com/vitaldesk/ringlink/internal/telemetry"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream [address]",
	Short: "Stream live vitals from a ring",
	Long: `Connect to a ring, switch it into realtime measurement mode, and print
each telemetry update until interrupted.

By default every metric is shown; restrict the output with --metrics,
e.g. --metrics heart_rate,spo2.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStream,
}

var (
	streamMetrics []string
	streamFormat  string
	streamVerbose bool
)

func init() {
	streamCmd.Flags().StringSliceVarP(&streamMetrics, "metrics", "m", nil,
		fmt.Sprintf("Metrics to show (%s)", strings.Join([]string{
			driver.MetricHeartRate, driver.MetricSpO2, driver.MetricBloodPres,
			driver.MetricSteps, driver.MetricStress, driver.MetricBattery,
		}, ", ")))
	streamCmd.Flags().StringVarP(&streamFormat, "format", "f", "pretty", "Output format (pretty, json)")
	streamCmd.Flags().BoolVar(&streamVerbose, "verbose", false, "Enable debug logging")
}

func runStream(cmd *cobra.Command, args []string) error {
	if streamFormat != "pretty" && streamFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be pretty or json", streamFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	drv, err := newDriver(cmd, logger, "")
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

	encoder := json.NewEncoder(os.Stdout)
	err = drv.StartRealtimeStream(streamMetrics, func(snap telemetry.Snapshot) {
		if streamFormat == "json" {
			_ = encoder.Encode(snap)
			return
		}
		printSnapshot(snap)
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	fmt.Println("\nStopping stream...")
	if err := drv.StopRealtimeStream(); err != nil {
		logger.WithError(err).Warn("Failed to stop realtime mode")
	}
	return nil
}

// resolveDevice returns the explicit address or scans for the first ring.
func resolveDevice(ctx context.Context, drv *driver.Driver, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	handle, err := drv.Scan(ctx)
	if err != nil {
		return "", err
	}
	return handle.ID, nil
}

func printSnapshot(snap telemetry.Snapshot) {
	var parts []string
	add := func(label string, v *int, unit string) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s=%d%s", label, *v, unit))
		}
	}
	add("hr", snap.HeartRate, "bpm")
	add("spo2", snap.SpO2, "%")
	if snap.Systolic != nil && snap.Diastolic != nil {
		parts = append(parts, fmt.Sprintf("bp=%d/%d", *snap.Systolic, *snap.Diastolic))
	}
	add("steps", snap.Steps, "")
	if snap.Stress != nil {
		label := fmt.Sprintf("stress=%d", *snap.Stress)
		if snap.StressEstimated {
			label = color.YellowString("%s(est)", label)
		}
		parts = append(parts, label)
	}
	add("batt", snap.Battery, "%")

	fmt.Printf("%s  %s\n", snap.UpdatedAt.Format("15:04:05"), strings.Join(parts, "  "))
}
