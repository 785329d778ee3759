// Package websocket maintains the multiplexed market stream connection to
// the exchange gateway. One manager owns one socket, one heartbeat, and the
// full subscription set; adding a stream rebuilds the socket with the
// combined stream path rather than assuming a partial-subscribe protocol.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/veiloq/trading-gateway/pkg/logging"
)

// WildcardStream subscribes a handler to every inbound frame regardless of
// its stream identifier.
const WildcardStream = "*"

// MessageHandler receives the payload of one frame for one stream.
type MessageHandler func(stream string, data []byte)

// State is the manager's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateTerminal means the reconnect ceiling was reached; the manager
	// has stopped retrying and will not recover without a new Connect.
	StateTerminal
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Config holds stream manager configuration.
type Config struct {
	// BaseURL is the stream gateway root, e.g. "wss://stream.binance.com:9443".
	BaseURL string

	// HeartbeatInterval is the ping cadence; the read deadline is three
	// intervals.
	HeartbeatInterval time.Duration

	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration

	// MaxReconnects is the attempt ceiling before the manager reports
	// terminal disconnection.
	MaxReconnects int

	Logger logging.Logger
}

// StreamManager multiplexes exchange market streams over one socket.
type StreamManager interface {
	// Connect opens the socket for the given streams. It dials once;
	// automatic retry applies only to connections lost after a
	// successful open.
	Connect(ctx context.Context, streams []string) error

	// Disconnect closes the socket intentionally, suppressing
	// auto-reconnect, and clears all handlers. Idempotent; the socket
	// and timers are released before it returns.
	Disconnect() error

	// AddStream subscribes an additional stream. Already-subscribed
	// streams are a no-op. While connected, the socket is rebuilt with
	// the full updated set; delivery for other streams resumes on the
	// new socket without their handlers being disturbed.
	AddStream(stream string) error

	// RemoveStream drops a stream from the set, rebuilding the socket
	// when connected. Removing the last stream closes the socket.
	RemoveStream(stream string) error

	// Subscribe registers a handler for a stream identifier, or for
	// every frame when the identifier is WildcardStream.
	Subscribe(stream string, handler MessageHandler)

	// Unsubscribe removes all handlers for a stream identifier.
	Unsubscribe(stream string)

	// OnTerminal registers a callback invoked once the reconnect ceiling
	// is reached.
	OnTerminal(fn func(err error))

	// Streams returns the active subscription set.
	Streams() []string

	// IsConnected reports whether the socket is currently open.
	IsConnected() bool

	// State returns the current connection state.
	State() State
}

type manager struct {
	config Config
	logger logging.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	streams     []string
	handlers    map[string][]MessageHandler
	terminalFns []func(error)
	intentional bool
	attempts    int
	readerDone  chan struct{}

	writeMu sync.Mutex
}

// NewManager creates a stream manager with the given configuration.
func NewManager(config Config) StreamManager {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 20 * time.Second
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.MaxReconnects <= 0 {
		config.MaxReconnects = 5
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &manager{
		config:   config,
		logger:   logger,
		handlers: make(map[string][]MessageHandler),
	}
}

// Connect implements StreamManager.
func (m *manager) Connect(ctx context.Context, streams []string) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return errors.New("stream manager already connected")
	}
	m.streams = dedupe(streams)
	m.intentional = false
	m.attempts = 0
	m.state = StateDisconnected
	m.mu.Unlock()

	return m.dial(ctx)
}

// dial opens a socket for the current stream set and starts the reader,
// heartbeat, and close monitor. A successful open resets the attempt counter.
func (m *manager) dial(ctx context.Context) error {
	m.mu.Lock()
	if len(m.streams) == 0 {
		m.mu.Unlock()
		return errors.New("no streams requested")
	}
	streams := append([]string(nil), m.streams...)
	m.state = StateConnecting
	m.mu.Unlock()

	endpoint := m.config.BaseURL + "/stream?streams=" + strings.Join(streams, "/")
	m.logger.Debug("dialing stream gateway",
		logging.String("url", endpoint),
		logging.Int("streams", len(streams)),
	)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return fmt.Errorf("dialing stream gateway: %w", err)
	}

	deadline := 3 * m.config.HeartbeatInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	done := make(chan struct{})
	m.mu.Lock()
	m.conn = conn
	m.readerDone = done
	m.state = StateConnected
	m.attempts = 0
	m.mu.Unlock()

	go m.readPump(conn, done, deadline)
	go m.heartbeat(conn, done)
	go m.monitor(conn, done)

	m.logger.Info("stream gateway connected", logging.Int("streams", len(streams)))
	return nil
}

// readPump reads frames until the socket closes. Dispatch runs inline so
// per-stream arrival order is preserved.
func (m *manager) readPump(conn *websocket.Conn, done chan struct{}, deadline time.Duration) {
	defer close(done)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("stream read error", logging.Error(err))
			}
			return
		}
		m.dispatch(message)
	}
}

// dispatch routes one frame to the handlers registered for its stream
// identifier, then to the wildcard handlers.
func (m *manager) dispatch(message []byte) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil || envelope.Stream == "" {
		m.logger.Warn("dropping frame without stream envelope")
		return
	}

	m.mu.Lock()
	exact := append([]MessageHandler(nil), m.handlers[envelope.Stream]...)
	wildcard := append([]MessageHandler(nil), m.handlers[WildcardStream]...)
	m.mu.Unlock()

	for _, h := range exact {
		h(envelope.Stream, envelope.Data)
	}
	for _, h := range wildcard {
		h(envelope.Stream, envelope.Data)
	}
}

// heartbeat pings on a fixed interval until the socket's reader exits.
func (m *manager) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// monitor waits for the reader to exit and decides whether the closure was
// requested. A rebuild or Disconnect swaps m.conn out first, so only an
// unrequested close of the current socket triggers the reconnect loop.
func (m *manager) monitor(conn *websocket.Conn, done chan struct{}) {
	<-done

	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDisconnected
	intentional := m.intentional
	m.mu.Unlock()

	_ = conn.Close()

	if intentional {
		return
	}
	m.reconnectLoop()
}

// reconnectLoop retries with a fixed delay until the attempt ceiling, then
// reports terminal disconnection to listeners.
func (m *manager) reconnectLoop() {
	var lastErr error
	for {
		m.mu.Lock()
		if m.intentional {
			m.mu.Unlock()
			return
		}
		if m.attempts >= m.config.MaxReconnects {
			m.state = StateTerminal
			fns := append(([]func(error))(nil), m.terminalFns...)
			m.mu.Unlock()
			if lastErr == nil {
				lastErr = errors.New("connection lost")
			}
			m.logger.Error("stream reconnect ceiling reached", logging.Error(lastErr))
			for _, fn := range fns {
				fn(lastErr)
			}
			return
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		m.logger.Warn("scheduling stream reconnect",
			logging.Int("attempt", attempt),
			logging.Duration("delay", m.config.ReconnectDelay),
		)
		time.Sleep(m.config.ReconnectDelay)

		m.mu.Lock()
		if m.intentional {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		if err := m.dial(context.Background()); err != nil {
			lastErr = err
			continue
		}
		return
	}
}

// AddStream implements StreamManager.
func (m *manager) AddStream(stream string) error {
	m.mu.Lock()
	for _, s := range m.streams {
		if s == stream {
			m.mu.Unlock()
			return nil
		}
	}
	m.streams = append(m.streams, stream)
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.rebuild()
}

// RemoveStream implements StreamManager.
func (m *manager) RemoveStream(stream string) error {
	m.mu.Lock()
	found := false
	streams := m.streams[:0]
	for _, s := range m.streams {
		if s == stream {
			found = true
			continue
		}
		streams = append(streams, s)
	}
	m.streams = streams
	remaining := len(m.streams)
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !found || !connected {
		return nil
	}
	if remaining == 0 {
		m.teardown()
		return nil
	}
	return m.rebuild()
}

// rebuild tears the socket down without triggering auto-reconnect and
// redials with the full current stream set.
func (m *manager) rebuild() error {
	m.teardown()
	return m.dial(context.Background())
}

// teardown closes the current socket and waits for its reader to exit.
// Swapping m.conn to nil first keeps the monitor from scheduling a
// reconnect for a closure we asked for.
func (m *manager) teardown() {
	m.mu.Lock()
	conn := m.conn
	done := m.readerDone
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn == nil {
		return
	}
	m.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "resubscribing"))
	m.writeMu.Unlock()
	_ = conn.Close()
	<-done
}

// Subscribe implements StreamManager.
func (m *manager) Subscribe(stream string, handler MessageHandler) {
	m.mu.Lock()
	m.handlers[stream] = append(m.handlers[stream], handler)
	m.mu.Unlock()
}

// Unsubscribe implements StreamManager.
func (m *manager) Unsubscribe(stream string) {
	m.mu.Lock()
	delete(m.handlers, stream)
	m.mu.Unlock()
}

// OnTerminal implements StreamManager.
func (m *manager) OnTerminal(fn func(err error)) {
	m.mu.Lock()
	m.terminalFns = append(m.terminalFns, fn)
	m.mu.Unlock()
}

// Streams implements StreamManager.
func (m *manager) Streams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.streams...)
}

// IsConnected implements StreamManager.
func (m *manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// State implements StreamManager.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Disconnect implements StreamManager.
func (m *manager) Disconnect() error {
	m.mu.Lock()
	m.intentional = true
	conn := m.conn
	done := m.readerDone
	m.conn = nil
	m.state = StateDisconnected
	m.handlers = make(map[string][]MessageHandler)
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	m.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed connection"))
	m.writeMu.Unlock()
	_ = conn.Close()
	<-done
	return nil
}

func dedupe(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	out := make([]string, 0, len(streams))
	for _, s := range streams {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
