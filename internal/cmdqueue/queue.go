// Package cmdqueue serializes outbound writes to the ring's single write
// characteristic. The radio link is half-duplex from the driver's point of
// view and the firmware does not tolerate overlapping writes, so every
// command in the process funnels through one drain goroutine, strictly FIFO,
// with a fixed pacing gap between writes.
package cmdqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitaldesk/ringlink/internal/groutine"
	"github.com/vitaldesk/ringlink/internal/protocol"
)

// DefaultPacing is the gap left after each write so the firmware can finish
// processing before the next command arrives.
const DefaultPacing = 150 * time.Millisecond

const defaultCapacity = 64

// ErrDropped resolves commands that were still queued when the queue closed.
// Per contract the queue drops them rather than flushing.
var ErrDropped = errors.New("command dropped: queue closed")

// WriteFunc performs one write on the link's write characteristic.
type WriteFunc func(data []byte, withResponse bool) error

// Command is a single outbound instruction: an opaque payload plus delivery
// mode. Acknowledged commands use a write-with-response on the wire.
type Command struct {
	Payload []byte
	Ack     bool

	done chan error
}

// Done resolves when the write completed or failed. It never waits for a
// notification-based reply; the protocol answers on its own schedule via the
// notify channels.
func (c *Command) Done() <-chan error {
	return c.done
}

// Queue is the FIFO write serializer. A Queue is created per driver, not per
// link: the writer is swapped in at connect time and cleared on link loss.
type Queue struct {
	logger *logrus.Logger
	pacing time.Duration

	mu     sync.Mutex
	writer WriteFunc // nil while no write channel is available
	closed bool
	ch     chan *Command

	cancel context.CancelFunc
	wg     sync.WaitGroup

	keepAliveMu     sync.Mutex
	keepAliveCancel context.CancelFunc
}

// New creates a queue and starts its drain goroutine. pacing <= 0 selects
// DefaultPacing.
func New(logger *logrus.Logger, pacing time.Duration) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	if pacing <= 0 {
		pacing = DefaultPacing
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		logger: logger,
		pacing: pacing,
		ch:     make(chan *Command, defaultCapacity),
		cancel: cancel,
	}

	q.wg.Add(1)
	groutine.Go(ctx, "cmdqueue-drain", q.drain)

	return q
}

// SetWriter installs the write function for the current link. A nil writer
// puts the queue into no-op mode: commands complete successfully without
// touching the radio, because the device may still provide read-only
// telemetry without a control channel.
func (q *Queue) SetWriter(w WriteFunc) {
	q.mu.Lock()
	q.writer = w
	q.mu.Unlock()
}

// Enqueue appends a command and returns it with a pending Done future.
// Commands execute in enqueue order; there is no priority and no automatic
// retry. After Close every enqueued command resolves with ErrDropped.
func (q *Queue) Enqueue(payload []byte, ack bool) *Command {
	cmd := &Command{
		Payload: append([]byte(nil), payload...),
		Ack:     ack,
		done:    make(chan error, 1),
	}

	// The closed check and the channel hand-off stay under one critical
	// section: Close flips the flag under the same mutex before its final
	// drain, so a command can never slip into the channel after that drain
	// and leave its future unresolved. The send is non-blocking, so holding
	// the lock across it cannot stall the drain goroutine.
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cmd.done <- ErrDropped
		return cmd
	}
	select {
	case q.ch <- cmd:
	default:
		// Queue saturated; the caller is flooding a half-duplex link.
		q.logger.WithField("len", len(q.ch)).Warn("Command queue full, dropping command")
		cmd.done <- ErrDropped
	}
	q.mu.Unlock()
	return cmd
}

// EnqueueWait enqueues and blocks until the write completes, ctx is done, or
// the queue closes.
func (q *Queue) EnqueueWait(ctx context.Context, payload []byte, ack bool) error {
	cmd := q.Enqueue(payload, ack)
	select {
	case err := <-cmd.Done():
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain executes commands one at a time with the pacing gap after each.
func (q *Queue) drain(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.drainRemaining()
			return
		case cmd := <-q.ch:
			q.execute(cmd)

			select {
			case <-ctx.Done():
				q.drainRemaining()
				return
			case <-time.After(q.pacing):
			}
		}
	}
}

// execute performs one write. Write failures are logged per command and the
// queue proceeds to the next; an upstream caller may re-enqueue.
func (q *Queue) execute(cmd *Command) {
	q.mu.Lock()
	writer := q.writer
	q.mu.Unlock()

	if writer == nil {
		q.logger.WithField("len", len(cmd.Payload)).Debug("No write channel, command skipped")
		cmd.done <- nil
		return
	}

	err := writer(cmd.Payload, cmd.Ack)
	if err != nil {
		q.logger.WithFields(logrus.Fields{
			"len":   len(cmd.Payload),
			"ack":   cmd.Ack,
			"error": err,
		}).Warn("Command write failed")
	}
	cmd.done <- err
}

// drainRemaining resolves every still-queued command with ErrDropped.
func (q *Queue) drainRemaining() {
	for {
		select {
		case cmd := <-q.ch:
			cmd.done <- ErrDropped
		default:
			return
		}
	}
}

// StartKeepAlive begins enqueueing the periodic keep-alive command. It
// shares the queue and its pacing with user-initiated commands. Calling it
// again restarts the timer.
func (q *Queue) StartKeepAlive(interval time.Duration) {
	q.keepAliveMu.Lock()
	defer q.keepAliveMu.Unlock()

	if q.keepAliveCancel != nil {
		q.keepAliveCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.keepAliveCancel = cancel

	groutine.Go(ctx, "cmdqueue-keepalive", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.Enqueue(protocol.CmdKeepAlive, false)
			}
		}
	})
}

// StopKeepAlive cancels the keep-alive timer. Idempotent.
func (q *Queue) StopKeepAlive() {
	q.keepAliveMu.Lock()
	defer q.keepAliveMu.Unlock()
	if q.keepAliveCancel != nil {
		q.keepAliveCancel()
		q.keepAliveCancel = nil
	}
}

// Close stops the keep-alive timer and the drain goroutine, dropping queued
// commands. In-flight writes may still fail afterwards; their errors go to
// their futures, never a panic. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.StopKeepAlive()
	q.cancel()
	q.wg.Wait()
	q.drainRemaining()
}
