// Package bridge exposes a running driver over a websocket endpoint so a
// companion app can follow telemetry, frames, and link state live.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/vitaldesk/ringlink/driver"
	"github.com/vitaldesk/ringlink/internal/events"
	"github.com/vitaldesk/ringlink/internal/protocol"
	"github.com/vitaldesk/ringlink/internal/telemetry"
)

const (
	// DefaultListenAddr is used when Options.ListenAddr is empty.
	DefaultListenAddr = "127.0.0.1:8675"

	// clientBufferSize bounds the per-client outbound buffer; the oldest
	// message is overwritten when a client cannot keep up.
	clientBufferSize = 256

	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Options configures the websocket bridge.
type Options struct {
	ListenAddr string         // Host:port to listen on (empty = DefaultListenAddr)
	Logger     *logrus.Logger // Logger instance
	SendFrames bool           // Also push raw frame events, not just telemetry
}

// ProgressCallback is called when the bridge phase changes.
type ProgressCallback func(phase string)

// envelope is the wire format pushed to clients.
type envelope struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

// Bridge fans driver events out to connected websocket clients.
type Bridge struct {
	drv    *driver.Driver
	opts   Options
	logger *logrus.Logger

	upgrader websocket.Upgrader

	mu        sync.Mutex
	clients   map[*client]struct{}
	boundAddr string
}

type client struct {
	conn *websocket.Conn
	out  *events.RingChannel[[]byte]
}

// New creates a bridge over the given driver.
func New(drv *driver.Driver, opts Options) (*Bridge, error) {
	if drv == nil {
		return nil, fmt.Errorf("failed to create bridge: driver is required")
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = DefaultListenAddr
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{
		drv:    drv,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge binds to loopback by default; origin checks are
			// the deployment's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}, nil
}

// Run serves the websocket endpoint until ctx is cancelled. It blocks.
func (b *Bridge) Run(ctx context.Context, progress ProgressCallback) error {
	if progress == nil {
		progress = func(string) {}
	}

	unsubTelemetry := b.drv.Telemetry().OnChange(func(snap telemetry.Snapshot) {
		b.broadcast("telemetry", snap)
	})
	defer unsubTelemetry()

	unsubConn := b.drv.SubscribeConnectivity(func(ev driver.ConnectivityEvent) {
		b.broadcast("connectivity", ev)
	})
	defer unsubConn()

	if b.opts.SendFrames {
		unsubFrames := b.drv.SubscribeFrames(func(ev protocol.FrameEvent) {
			b.broadcast("frame", ev)
		})
		defer unsubFrames()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)

	ln, err := net.Listen("tcp", b.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", b.opts.ListenAddr, err)
	}

	b.mu.Lock()
	b.boundAddr = ln.Addr().String()
	b.mu.Unlock()

	srv := &http.Server{Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	b.logger.WithField("addr", ln.Addr().String()).Info("Bridge listening")
	progress("Listening")

	select {
	case <-ctx.Done():
		progress("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		b.closeClients()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Addr returns the bound listen address once Run has started, else the
// configured one. Binding to port 0 reports the assigned port.
func (b *Bridge) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.boundAddr != "" {
		return b.boundAddr
	}
	return b.opts.ListenAddr
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		out:  events.NewRingChannel[[]byte](clientBufferSize),
	}

	// Seed the new client with the current snapshot so it does not have to
	// wait for the next device notification. The seed shares the registration
	// critical section so it cannot land on a ring closeClients already shut.
	data, err := json.Marshal(envelope{Type: "telemetry", Time: time.Now(), Data: b.drv.Snapshot()})

	b.mu.Lock()
	b.clients[c] = struct{}{}
	if err == nil {
		c.out.ForceSend(data)
	}
	b.mu.Unlock()

	b.logger.WithField("remote", conn.RemoteAddr().String()).Info("Bridge client connected")

	go b.writePump(c)
	go b.readPump(c)
}

// broadcast serializes once and force-sends to every client buffer. The
// sends happen under the client-list mutex: dropClient closes a ring under
// the same mutex, so a send can never land on a closed ring. ForceSend
// never blocks, so holding the lock across the loop is safe.
func (b *Bridge) broadcast(msgType string, payload interface{}) {
	data, err := json.Marshal(envelope{Type: msgType, Time: time.Now(), Data: payload})
	if err != nil {
		b.logger.WithError(err).WithField("type", msgType).Warn("Failed to encode bridge message")
		return
	}

	b.mu.Lock()
	for c := range b.clients {
		c.out.ForceSend(data)
	}
	b.mu.Unlock()
}

func (b *Bridge) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.out.C():
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.dropClient(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.dropClient(c)
				return
			}
		}
	}
}

// readPump discards inbound messages; it exists to notice the client going
// away and to service control frames.
func (b *Bridge) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			b.dropClient(c)
			return
		}
	}
}

func (b *Bridge) dropClient(c *client) {
	b.mu.Lock()
	_, present := b.clients[c]
	if present {
		delete(b.clients, c)
		c.out.Close()
	}
	b.mu.Unlock()

	if present {
		_ = c.conn.Close()
		b.logger.WithField("remote", c.conn.RemoteAddr().String()).Info("Bridge client disconnected")
	}
}

func (b *Bridge) closeClients() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
		c.out.Close()
	}
	b.clients = make(map[*client]struct{})
	b.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}
