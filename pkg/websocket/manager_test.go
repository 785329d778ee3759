package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// mockGateway is a combined-stream endpoint for tests: it records every dial
// and the stream set it was dialed with, and pushes enveloped frames to the
// most recent socket.
type mockGateway struct {
	server *httptest.Server

	mu          sync.Mutex
	conns       []*websocket.Conn
	dials       int
	lastStreams string
	reject      bool
}

func newMockGateway(t *testing.T) *mockGateway {
	t.Helper()
	g := &mockGateway{}
	g.server = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(func() {
		g.closeAll()
		g.server.Close()
	})
	return g
}

func (g *mockGateway) handle(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	reject := g.reject
	g.mu.Unlock()
	if reject {
		http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Path != "/stream" {
		http.NotFound(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	g.mu.Lock()
	g.dials++
	g.conns = append(g.conns, conn)
	g.lastStreams = r.URL.Query().Get("streams")
	g.mu.Unlock()

	// Drain the socket so control frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// url returns the ws:// address of the gateway.
func (g *mockGateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

// send pushes one enveloped frame on the most recent socket.
func (g *mockGateway) send(stream, data string) error {
	g.mu.Lock()
	if len(g.conns) == 0 {
		g.mu.Unlock()
		return fmt.Errorf("no active connection")
	}
	conn := g.conns[len(g.conns)-1]
	g.mu.Unlock()

	frame := fmt.Sprintf(`{"stream":%q,"data":%s}`, stream, data)
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (g *mockGateway) dialCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dials
}

func (g *mockGateway) dialedStreams() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastStreams
}

func (g *mockGateway) closeAll() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (g *mockGateway) setReject(reject bool) {
	g.mu.Lock()
	g.reject = reject
	g.mu.Unlock()
}

func newTestManager(g *mockGateway, maxReconnects int) StreamManager {
	return NewManager(Config{
		BaseURL:           g.url(),
		HeartbeatInterval: 50 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnects:     maxReconnects,
	})
}

// recorder collects dispatched frames in arrival order.
type recorder struct {
	mu     sync.Mutex
	frames []string
}

func (r *recorder) handle(stream string, data []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, stream+":"+string(data))
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestManagerDispatch(t *testing.T) {
	gateway := newMockGateway(t)
	manager := newTestManager(gateway, 3)
	defer manager.Disconnect()

	rec := &recorder{}
	manager.Subscribe("btcusdt@trade", rec.handle)

	require.NoError(t, manager.Connect(context.Background(), []string{"btcusdt@trade"}))
	assert.True(t, manager.IsConnected())
	assert.Equal(t, StateConnected, manager.State())
	assert.Equal(t, "btcusdt@trade", gateway.dialedStreams())

	// Frames for one stream must arrive in send order.
	for i := 1; i <= 5; i++ {
		require.NoError(t, gateway.send("btcusdt@trade", fmt.Sprintf(`{"seq":%d}`, i)))
	}
	require.Eventually(t, func() bool { return rec.count() == 5 },
		time.Second, 5*time.Millisecond)

	frames := rec.snapshot()
	for i, frame := range frames {
		assert.Equal(t, fmt.Sprintf(`btcusdt@trade:{"seq":%d}`, i+1), frame)
	}
}

func TestManagerWildcard(t *testing.T) {
	gateway := newMockGateway(t)
	manager := newTestManager(gateway, 3)
	defer manager.Disconnect()

	all := &recorder{}
	trades := &recorder{}
	manager.Subscribe(WildcardStream, all.handle)
	manager.Subscribe("btcusdt@trade", trades.handle)

	require.NoError(t, manager.Connect(context.Background(),
		[]string{"btcusdt@trade", "ethusdt@ticker"}))

	require.NoError(t, gateway.send("btcusdt@trade", `{"p":"1"}`))
	require.NoError(t, gateway.send("ethusdt@ticker", `{"p":"2"}`))

	require.Eventually(t, func() bool { return all.count() == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, trades.count(), "exact handler only sees its own stream")
}

func TestManagerAddStream(t *testing.T) {
	gateway := newMockGateway(t)
	manager := newTestManager(gateway, 3)
	defer manager.Disconnect()

	rec := &recorder{}
	manager.Subscribe("btcusdt@trade", rec.handle)

	require.NoError(t, manager.Connect(context.Background(), []string{"btcusdt@trade"}))
	require.Equal(t, 1, gateway.dialCount())

	// Adding a stream rebuilds the socket with the combined set.
	require.NoError(t, manager.AddStream("ethusdt@ticker"))
	require.Eventually(t, func() bool { return gateway.dialCount() == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "btcusdt@trade/ethusdt@ticker", gateway.dialedStreams())
	assert.ElementsMatch(t, []string{"btcusdt@trade", "ethusdt@ticker"}, manager.Streams())

	// The original subscription keeps receiving on the new socket.
	require.NoError(t, gateway.send("btcusdt@trade", `{"p":"1"}`))
	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, 5*time.Millisecond)

	// Re-adding is a no-op: no extra dial.
	require.NoError(t, manager.AddStream("ethusdt@ticker"))
	assert.Equal(t, 2, gateway.dialCount())
}

func TestManagerRemoveStream(t *testing.T) {
	t.Run("RebuildsWithRemainder", func(t *testing.T) {
		gateway := newMockGateway(t)
		manager := newTestManager(gateway, 3)
		defer manager.Disconnect()

		require.NoError(t, manager.Connect(context.Background(),
			[]string{"btcusdt@trade", "ethusdt@ticker"}))

		require.NoError(t, manager.RemoveStream("ethusdt@ticker"))
		require.Eventually(t, func() bool { return gateway.dialCount() == 2 },
			time.Second, 5*time.Millisecond)
		assert.Equal(t, "btcusdt@trade", gateway.dialedStreams())
	})

	t.Run("LastStreamClosesSocket", func(t *testing.T) {
		gateway := newMockGateway(t)
		manager := newTestManager(gateway, 3)
		defer manager.Disconnect()

		require.NoError(t, manager.Connect(context.Background(), []string{"btcusdt@trade"}))
		require.NoError(t, manager.RemoveStream("btcusdt@trade"))

		assert.False(t, manager.IsConnected())
		assert.Empty(t, manager.Streams())
		// No reconnect for a requested close.
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, gateway.dialCount())
	})
}

func TestManagerReconnect(t *testing.T) {
	t.Run("RecoversFromDrop", func(t *testing.T) {
		gateway := newMockGateway(t)
		manager := newTestManager(gateway, 3)
		defer manager.Disconnect()

		rec := &recorder{}
		manager.Subscribe("btcusdt@trade", rec.handle)
		require.NoError(t, manager.Connect(context.Background(), []string{"btcusdt@trade"}))

		gateway.closeAll()
		require.Eventually(t, func() bool {
			return gateway.dialCount() == 2 && manager.IsConnected()
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, gateway.send("btcusdt@trade", `{"p":"1"}`))
		require.Eventually(t, func() bool { return rec.count() == 1 },
			time.Second, 5*time.Millisecond)
	})

	t.Run("TerminalAfterCeiling", func(t *testing.T) {
		gateway := newMockGateway(t)
		manager := newTestManager(gateway, 2)
		defer manager.Disconnect()

		terminal := make(chan error, 1)
		manager.OnTerminal(func(err error) { terminal <- err })

		require.NoError(t, manager.Connect(context.Background(), []string{"btcusdt@trade"}))

		gateway.setReject(true)
		gateway.closeAll()

		select {
		case err := <-terminal:
			assert.Error(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for terminal notification")
		}
		assert.Equal(t, StateTerminal, manager.State())
		assert.False(t, manager.IsConnected())
	})
}

func TestManagerDisconnect(t *testing.T) {
	gateway := newMockGateway(t)
	manager := newTestManager(gateway, 3)

	require.NoError(t, manager.Connect(context.Background(), []string{"btcusdt@trade"}))
	require.True(t, manager.IsConnected())

	require.NoError(t, manager.Disconnect())
	assert.False(t, manager.IsConnected())
	assert.Equal(t, StateDisconnected, manager.State())

	// Idempotent, and no reconnect attempts follow.
	require.NoError(t, manager.Disconnect())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, gateway.dialCount())
}

func TestManagerConnectErrors(t *testing.T) {
	t.Run("EmptyStreamSet", func(t *testing.T) {
		gateway := newMockGateway(t)
		manager := newTestManager(gateway, 3)
		assert.Error(t, manager.Connect(context.Background(), nil))
	})

	t.Run("DoubleConnect", func(t *testing.T) {
		gateway := newMockGateway(t)
		manager := newTestManager(gateway, 3)
		defer manager.Disconnect()

		require.NoError(t, manager.Connect(context.Background(), []string{"btcusdt@trade"}))
		assert.Error(t, manager.Connect(context.Background(), []string{"btcusdt@trade"}))
	})

	t.Run("DialFailureDoesNotRetry", func(t *testing.T) {
		gateway := newMockGateway(t)
		gateway.setReject(true)
		manager := newTestManager(gateway, 3)

		err := manager.Connect(context.Background(), []string{"btcusdt@trade"})
		require.Error(t, err)
		assert.Equal(t, StateDisconnected, manager.State())
	})
}
