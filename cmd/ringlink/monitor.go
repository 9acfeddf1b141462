package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vitaldesk/ringlink/internal/gatt"
	"github.com/vitaldesk/ringlink/internal/protocol"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor [address]",
	Short: "Watch raw ring notification traffic",
	Long: `Connect to a ring and show every notification frame as it arrives, with
the channel it came in on, its classification, and whether it decoded into
a measurement. Intended for protocol debugging.

Press q or Ctrl+C to quit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

const monitorBufferSize = 256

var monitorVerbose bool

func init() {
	monitorCmd.Flags().BoolVar(&monitorVerbose, "verbose", false, "Enable debug logging")
}

var (
	asciiColor   = color.New(color.FgGreen)
	binaryColor  = color.New(color.FgCyan)
	droppedColor = color.New(color.FgHiBlack)
)

func runMonitor(cmd *cobra.Command, args []string) error {
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

	// Frames arrive on radio callbacks; the overlapped ring absorbs bursts
	// and sheds the oldest entries if rendering falls behind.
	buffer := mpmc.NewOverlappedRingBuffer[protocol.FrameEvent](monitorBufferSize)
	unsubscribe := drv.SubscribeFrames(func(ev protocol.FrameEvent) {
		_, _ = buffer.EnqueueM(ev)
	})
	defer unsubscribe()

	// Raw mode so a bare 'q' keypress quits.
	restore := func() {}
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if oldState, err := term.MakeRaw(fd); err == nil {
			restore = func() { _ = term.Restore(fd, oldState) }
			go func() {
				buf := make([]byte, 1)
				for {
					if _, err := os.Stdin.Read(buf); err != nil {
						return
					}
					if buf[0] == 'q' || buf[0] == 3 { // 'q' or Ctrl+C
						cancel()
						return
					}
				}
			}()
		}
	}
	defer restore()

	var history []string
	render := time.NewTicker(250 * time.Millisecond)
	defer render.Stop()

	fmt.Printf("Monitoring %s (press q to quit)\r\n", deviceID)
	for {
		select {
		case <-ctx.Done():
			fmt.Print("\r\n")
			return nil
		case <-render.C:
			for !buffer.IsEmpty() {
				ev, err := buffer.Dequeue()
				if err != nil {
					break
				}
				history = append(history, formatFrame(ev))
			}
			if max := historyLimit(); len(history) > max {
				history = history[len(history)-max:]
			}
			clearScreen()
			fmt.Printf("Monitoring %s (press q to quit)\r\n\r\n", deviceID)
			for _, line := range history {
				fmt.Print(line, "\r\n")
			}
		}
	}
}

// historyLimit keeps the frame list inside the terminal, leaving room for
// the header.
func historyLimit() int {
	if _, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && h > 4 {
		return h - 4
	}
	return 20
}

func formatFrame(ev protocol.FrameEvent) string {
	var payload string
	if ev.IsASCII {
		payload = asciiColor.Sprintf("%q", strings.TrimRight(ev.Text, "\r\n\x00"))
	} else {
		payload = binaryColor.Sprint(ev.Hex)
	}
	status := droppedColor.Sprint("dropped")
	if ev.Decoded {
		status = "decoded"
	}
	return fmt.Sprintf("%s  [%s]  %s  %s",
		ev.ReceivedAt.Format("15:04:05.000"), gatt.ShortenUUID(ev.ChannelUUID), status, payload)
}
