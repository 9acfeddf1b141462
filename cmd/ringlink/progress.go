package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

var phaseColor = color.New(color.FgCyan)

// progressPrinter displays a single-line phase indicator with elapsed or
// remaining time. Single-use: Start at most once, Stop exactly once.
type progressPrinter struct {
	prefix    string
	phase     atomic.Value // string
	startTime time.Time
	duration  time.Duration // >0 = countdown mode
	stopChan  chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// newProgressPrinter creates a printer; pass a non-zero duration to count
// down instead of up.
func newProgressPrinter(prefix, phase string, duration time.Duration) *progressPrinter {
	p := &progressPrinter{
		prefix:   prefix,
		duration: duration,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// SetPhase updates the displayed phase name.
func (p *progressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Callback adapts SetPhase to the ProgressCallback signatures used across
// the scanner, driver, and bridge.
func (p *progressPrinter) Callback() func(string) {
	return p.SetPhase
}

func (p *progressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.startTime = time.Now()
	go p.run()
}

func (p *progressPrinter) Stop() {
	if !p.started.Load() {
		return
	}
	select {
	case <-p.stopChan:
	default:
		close(p.stopChan)
	}
	<-p.done
}

func (p *progressPrinter) run() {
	defer close(p.done)
	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			fmt.Print(clearLineSequence)
			return
		case <-ticker.C:
			elapsed := time.Since(p.startTime)
			var clock time.Duration
			if p.duration > 0 {
				clock = p.duration - elapsed
				if clock < 0 {
					clock = 0
				}
			} else {
				clock = elapsed
			}
			fmt.Printf("%s%s %s (%s)", clearLineSequence, p.prefix,
				phaseColor.Sprint(p.phase.Load()), clock.Round(time.Second))
		}
	}
}
