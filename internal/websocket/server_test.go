package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/notify-bridge/internal/health"
	"github.com/breeze-rmm/notify-bridge/internal/protocol"
)

// echoHandler answers every valid request with a click event for it and
// remembers the connections it has seen.
type echoHandler struct {
	mu    sync.Mutex
	conns []*Conn
	seen  [][]byte
}

func (h *echoHandler) HandleMessage(_ context.Context, data []byte, conn *Conn) {
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.seen = append(h.seen, data)
	h.mu.Unlock()

	req, err := protocol.Parse(data)
	if err != nil {
		return
	}
	conn.Send(protocol.NewClickEvent(req.Correlation()))
}

func (h *echoHandler) lastConn() *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[len(h.conns)-1]
}

func startServer(t *testing.T, cfg Config, handler MessageHandler, monitor *health.Monitor) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.SendQueueSize == 0 {
		cfg.SendQueueSize = 16
	}
	s := NewServer(cfg, handler, monitor)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func dial(t *testing.T, s *Server, header http.Header) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/", header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestRoundTrip(t *testing.T) {
	s := startServer(t, Config{}, &echoHandler{}, nil)
	ws := dial(t, s, nil)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"id":"c1","message_id":"m1","guild_id":"g1"}`)))

	ev := readEvent(t, ws)
	assert.Equal(t, "click", ev["action"])
	assert.Equal(t, "c1", ev["id"])
	assert.Equal(t, "m1", ev["message_id"])
	assert.Equal(t, "g1", ev["guild_id"])
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	h := &echoHandler{}
	s := startServer(t, Config{}, h, nil)
	ws := dial(t, s, nil)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"message_id":"after"}`)))

	ev := readEvent(t, ws)
	assert.Equal(t, "after", ev["message_id"])
}

func TestMessagesHandledInArrivalOrder(t *testing.T) {
	h := &echoHandler{}
	s := startServer(t, Config{}, h, nil)
	ws := dial(t, s, nil)

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"message_id":"`+id+`"}`)))
	}
	for _, want := range []string{"1", "2", "3"} {
		assert.Equal(t, want, readEvent(t, ws)["message_id"])
	}
}

func TestSendAfterDisconnectFails(t *testing.T) {
	h := &echoHandler{}
	s := startServer(t, Config{}, h, nil)
	ws := dial(t, s, nil)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{}`)))
	readEvent(t, ws)
	conn := h.lastConn()

	ws.Close()
	require.Eventually(t, func() bool { return conn.Context().Err() != nil }, 5*time.Second, 10*time.Millisecond)

	err := conn.Send(protocol.NewClickEvent(protocol.CorrelationContext{}))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestSendQueueFull(t *testing.T) {
	c := &Conn{sendChan: make(chan []byte, 1), done: make(chan struct{})}
	ev := protocol.NewClickEvent(protocol.CorrelationContext{})

	require.NoError(t, c.Send(ev))
	assert.ErrorIs(t, c.Send(ev), ErrSendQueueFull)
}

func TestSendNeverAcceptsAfterClose(t *testing.T) {
	ev := protocol.NewClickEvent(protocol.CorrelationContext{})

	for i := 0; i < 200; i++ {
		c := &Conn{sendChan: make(chan []byte, 4), done: make(chan struct{})}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			close(c.done)
		}()
		err := c.Send(ev)
		wg.Wait()

		// A nil result means the event was queued while the writer was
		// still running; after close every Send must fail.
		if err != nil {
			assert.ErrorIs(t, err, ErrConnectionClosed)
		}
		assert.ErrorIs(t, c.Send(ev), ErrConnectionClosed)
	}
}

func TestOriginAllowList(t *testing.T) {
	s := startServer(t, Config{AllowedOrigins: []string{"https://discord.com"}}, &echoHandler{}, nil)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/", http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	dial(t, s, http.Header{"Origin": []string{"https://discord.com"}})
	dial(t, s, nil)
}

func TestHealthEndpoint(t *testing.T) {
	monitor := health.NewMonitor()
	s := startServer(t, Config{}, &echoHandler{}, monitor)

	resp, err := http.Get("http://" + s.Addr().String() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	c, ok := monitor.Get(health.ComponentListener)
	require.True(t, ok)
	assert.Equal(t, health.Healthy, c.Status)
}

func TestMetricsEndpointToggle(t *testing.T) {
	on := startServer(t, Config{MetricsEnabled: true}, &echoHandler{}, nil)
	resp, err := http.Get("http://" + on.Addr().String() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	off := startServer(t, Config{}, &echoHandler{}, nil)
	resp, err = http.Get("http://" + off.Addr().String() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestShutdownClosesConnections(t *testing.T) {
	s := NewServer(Config{Addr: "127.0.0.1:0", SendQueueSize: 4}, &echoHandler{}, nil)
	require.NoError(t, s.Start())
	ws := dial(t, s, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}
