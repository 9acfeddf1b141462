package cmdqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vitaldesk/ringlink/internal/protocol"
)

const testPacing = 2 * time.Millisecond

type QueueTestSuite struct {
	suite.Suite

	queue *Queue

	mu     sync.Mutex
	writes [][]byte
}

func (suite *QueueTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	suite.writes = nil
	suite.queue = New(logger, testPacing)
	suite.queue.SetWriter(func(data []byte, withResponse bool) error {
		suite.mu.Lock()
		defer suite.mu.Unlock()
		suite.writes = append(suite.writes, data)
		return nil
	})
}

func (suite *QueueTestSuite) TearDownTest() {
	suite.queue.Close()
}

func (suite *QueueTestSuite) recordedWrites() [][]byte {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	out := make([][]byte, len(suite.writes))
	copy(out, suite.writes)
	return out
}

func (suite *QueueTestSuite) TestFIFOOrder() {
	// GOAL: Verify commands reach the wire strictly in enqueue order
	//
	// TEST SCENARIO: Enqueue a numbered batch → wait for the last future → verify write order
	payloads := [][]byte{
		[]byte("CMD_A\r\n"),
		[]byte("CMD_B\r\n"),
		[]byte("CMD_C\r\n"),
		[]byte("CMD_D\r\n"),
	}

	var last *Command
	for _, p := range payloads {
		last = suite.queue.Enqueue(p, false)
	}
	suite.Require().NoError(<-last.Done())

	writes := suite.recordedWrites()
	suite.Require().Len(writes, len(payloads))
	for i, p := range payloads {
		suite.Equal(p, writes[i])
	}
}

func (suite *QueueTestSuite) TestFIFOOrderUnderConcurrentEnqueue() {
	// GOAL: Verify concurrent callers never lose, duplicate, or reorder their
	// own commands
	//
	// TEST SCENARIO: Several goroutines each enqueue a numbered sequence →
	// wait for every future → verify per-caller order and exactly-once
	// delivery
	const callers = 4
	const perCaller = 10

	payload := func(caller, seq int) string {
		return fmt.Sprintf("CMD_%d_%02d\r\n", caller, seq)
	}

	cmds := make([][]*Command, callers)
	var wg sync.WaitGroup
	for caller := 0; caller < callers; caller++ {
		caller := caller
		cmds[caller] = make([]*Command, perCaller)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := 0; seq < perCaller; seq++ {
				cmds[caller][seq] = suite.queue.Enqueue([]byte(payload(caller, seq)), false)
			}
		}()
	}
	wg.Wait()

	for caller := 0; caller < callers; caller++ {
		for seq := 0; seq < perCaller; seq++ {
			suite.Require().NoError(<-cmds[caller][seq].Done())
		}
	}

	writes := suite.recordedWrites()
	suite.Require().Len(writes, callers*perCaller)

	seen := make(map[string]int)
	perCallerOrder := make(map[int][]string)
	for _, w := range writes {
		seen[string(w)]++
		var caller, seq int
		_, err := fmt.Sscanf(string(w), "CMD_%d_%d", &caller, &seq)
		suite.Require().NoError(err)
		perCallerOrder[caller] = append(perCallerOrder[caller], string(w))
	}
	for caller := 0; caller < callers; caller++ {
		for seq := 0; seq < perCaller; seq++ {
			suite.Equal(1, seen[payload(caller, seq)], "each command exactly once")
		}
		for i, w := range perCallerOrder[caller] {
			suite.Equal(payload(caller, i), w, "each caller's commands in its enqueue order")
		}
	}
}

func (suite *QueueTestSuite) TestCloseRaceLeavesNoUnresolvedFutures() {
	// GOAL: Verify commands enqueued while Close is racing in always resolve
	// their futures, by write or by ErrDropped
	var cmds []*Command
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				cmds = append(cmds, suite.queue.Enqueue([]byte("SYS_PING\r\n"), false))
			}
		}
	}()

	time.Sleep(3 * time.Millisecond)
	suite.queue.Close()
	close(stop)
	<-done

	for _, cmd := range cmds {
		select {
		case <-cmd.Done():
		case <-time.After(time.Second):
			suite.FailNow("command future never resolved")
		}
	}
}

func (suite *QueueTestSuite) TestPayloadCopiedOnEnqueue() {
	// GOAL: Verify mutating the caller's buffer after Enqueue cannot corrupt the write
	payload := []byte("START_MEAS,1\r\n")
	cmd := suite.queue.Enqueue(payload, true)
	payload[0] = 'X'

	suite.Require().NoError(<-cmd.Done())
	writes := suite.recordedWrites()
	suite.Require().Len(writes, 1)
	suite.Equal([]byte("START_MEAS,1\r\n"), writes[0])
}

func (suite *QueueTestSuite) TestWriteFailureDoesNotStallQueue() {
	// GOAL: Verify a failing write resolves its own future and the next command still runs
	wireErr := errors.New("att write rejected")
	calls := 0
	suite.queue.SetWriter(func(data []byte, withResponse bool) error {
		calls++
		if calls == 1 {
			return wireErr
		}
		return nil
	})

	first := suite.queue.Enqueue([]byte("GET_BATTERY\r\n"), false)
	second := suite.queue.Enqueue([]byte("GET_SPORT\r\n"), false)

	suite.ErrorIs(<-first.Done(), wireErr)
	suite.NoError(<-second.Done())
}

func (suite *QueueTestSuite) TestNilWriterCompletesSilently() {
	// GOAL: Verify no-op mode resolves commands without a radio write
	suite.queue.SetWriter(nil)
	cmd := suite.queue.Enqueue([]byte("SYS_PING\r\n"), false)
	suite.NoError(<-cmd.Done())
	suite.Empty(suite.recordedWrites())
}

func (suite *QueueTestSuite) TestCloseDropsPendingCommands() {
	// GOAL: Verify pending commands resolve with ErrDropped on close instead of flushing
	//
	// TEST SCENARIO: Block the writer → queue extra commands → close → verify ErrDropped futures
	release := make(chan struct{})
	suite.queue.SetWriter(func(data []byte, withResponse bool) error {
		<-release
		return nil
	})

	inflight := suite.queue.Enqueue([]byte("CMD_1\r\n"), false)
	queued := suite.queue.Enqueue([]byte("CMD_2\r\n"), false)

	done := make(chan struct{})
	go func() {
		suite.queue.Close()
		close(done)
	}()

	// Close waits for the in-flight write; release it.
	time.Sleep(5 * time.Millisecond)
	close(release)
	<-done

	suite.NoError(<-inflight.Done())
	suite.ErrorIs(<-queued.Done(), ErrDropped)
}

func (suite *QueueTestSuite) TestEnqueueAfterCloseReturnsDropped() {
	// GOAL: Verify the queue stays safe to call after Close
	suite.queue.Close()
	cmd := suite.queue.Enqueue([]byte("SYS_PING\r\n"), false)
	suite.ErrorIs(<-cmd.Done(), ErrDropped)

	err := suite.queue.EnqueueWait(context.Background(), []byte("SYS_PING\r\n"), false)
	suite.ErrorIs(err, ErrDropped)
}

func (suite *QueueTestSuite) TestKeepAliveEnqueuesPing() {
	// GOAL: Verify the keep-alive timer feeds SYS_PING through the same queue
	suite.queue.StartKeepAlive(5 * time.Millisecond)
	defer suite.queue.StopKeepAlive()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, w := range suite.recordedWrites() {
			if string(w) == string(protocol.CmdKeepAlive) {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	suite.Fail("keep-alive ping never reached the writer")
}

func (suite *QueueTestSuite) TestStopKeepAliveIsIdempotent() {
	suite.queue.StartKeepAlive(time.Hour)
	suite.queue.StopKeepAlive()
	suite.queue.StopKeepAlive()
}

func (suite *QueueTestSuite) TestEnqueueWaitHonorsContext() {
	// GOAL: Verify a caller can abandon a blocked wait without losing the queue
	suite.queue.SetWriter(func(data []byte, withResponse bool) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := suite.queue.EnqueueWait(ctx, []byte("GET_SPORT\r\n"), false)
	suite.ErrorIs(err, context.DeadlineExceeded)
}

func TestQueueTestSuite(t *testing.T) {
	suite.Run(t, new(QueueTestSuite))
}
