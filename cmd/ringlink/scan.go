package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vitaldesk/ringlink/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for smart rings",
	Long: `Scan for nearby smart rings and display them with address, name, and
signal strength. Only devices matching the known ring name prefixes are
shown unless --all is given.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
	scanBlock    []string
	scanWatch    bool
	scanVerbose  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "Show all BLE devices, not just known rings")
	scanCmd.Flags().StringSliceVar(&scanBlock, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
	scanCmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Enable debug logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	adapter, err := newRadio(cmd, logger)
	if err != nil {
		return err
	}
	s, err := scanner.NewScanner(adapter, logger)
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	opts := scanner.DefaultScanOptions()
	opts.Duration = scanDuration
	opts.BlockList = scanBlock
	if scanAll {
		opts.NamePrefixes = nil
	}
	if scanWatch && scanDuration == 10*time.Second {
		opts.Duration = 0 // watch defaults to indefinite
	}

	if scanWatch {
		return runWatchScan(s, opts, logger)
	}
	return runSingleScan(s, opts, logger)
}

func runSingleScan(s *scanner.Scanner, opts *scanner.ScanOptions, logger *logrus.Logger) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	progress := newProgressPrinter("Scanning for rings:", "Scanning", opts.Duration)
	progress.Start()

	devices, err := s.Scan(ctx, opts, progress.Callback())
	progress.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Scan failed")
		return err
	}
	return printDevices(devices)
}

func runWatchScan(s *scanner.Scanner, opts *scanner.ScanOptions, logger *logrus.Logger) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	scanErrCh := make(chan error, 1)
	devices := make(map[string]scanner.DeviceInfo)
	go func() {
		result, err := s.Scan(ctx, opts, nil)
		for id, info := range result {
			devices[id] = info
		}
		scanErrCh <- err
	}()

	repaint := time.NewTicker(500 * time.Millisecond)
	defer repaint.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErrCh:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return printDevices(devices)
		case ev := <-s.Events():
			devices[ev.Device.ID] = ev.Device
		case <-repaint.C:
			clearScreen()
			if err := printDevices(devices); err != nil {
				return err
			}
		}
	}
}

func printDevices(devices map[string]scanner.DeviceInfo) error {
	if scanFormat == "json" {
		list := sortedDevices(devices)
		return json.NewEncoder(os.Stdout).Encode(list)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI")
	for _, d := range sortedDevices(devices) {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Name, colorRSSI(d.RSSI))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d device(s) found\n", len(devices))
	return nil
}

// sortedDevices orders by signal strength, strongest first.
func sortedDevices(devices map[string]scanner.DeviceInfo) []scanner.DeviceInfo {
	list := make([]scanner.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].RSSI > list[j].RSSI })
	return list
}

func colorRSSI(rssi int) string {
	switch {
	case rssi >= -60:
		return color.GreenString("%d", rssi)
	case rssi >= -80:
		return color.YellowString("%d", rssi)
	default:
		return color.RedString("%d", rssi)
	}
}

func clearScreen() {
	fmt.Print("\033[2J\033[H")
}

// signalContext returns a context cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
