package socket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer is a minimal in-process messaging backend for client tests. It
// records inbound frames and can push frames or drop the connection.
type wsServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	queries []string
	frames  chan Frame
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{t: t, frames: make(chan Frame, 32)}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.close)
	return s
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.queries = append(s.queries, r.URL.RawQuery)
	s.mu.Unlock()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		s.frames <- frame
	}
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// push sends a frame to the most recent connection
func (s *wsServer) push(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return errors.New("no connection")
	}
	return s.conns[len(s.conns)-1].WriteJSON(frame)
}

// dropConn closes the most recent connection from the server side
func (s *wsServer) dropConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) > 0 {
		_ = s.conns[len(s.conns)-1].Close()
	}
}

func (s *wsServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) close() {
	s.mu.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.server.Close()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, s *wsServer, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(testLogger()), WithBackoff(5 * time.Millisecond)}, opts...)
	c := NewClient(s.url(), "test-token", opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.CurrentState() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.CurrentState(), want)
}

func TestConnectAndEmit(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := client.CurrentState(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}

	if err := client.Emit("join-room", "c1"); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case frame := <-server.frames:
		if frame.Event != "join-room" {
			t.Errorf("event = %q, want join-room", frame.Event)
		}
		var room string
		if err := json.Unmarshal(frame.Data, &room); err != nil || room != "c1" {
			t.Errorf("data = %s, want \"c1\"", frame.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestDialCarriesTokenAndSessionID(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	server.mu.Lock()
	query := server.queries[0]
	server.mu.Unlock()
	if !strings.Contains(query, "token=test-token") {
		t.Errorf("query %q missing token", query)
	}
	if !strings.Contains(query, "sessionId="+client.ID()) {
		t.Errorf("query %q missing session id", query)
	}
}

func TestSubscribeReceivesPushedEvents(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server)

	received := make(chan json.RawMessage, 1)
	client.Subscribe("receive-message", func(data json.RawMessage) {
		received <- data
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	payload := json.RawMessage(`{"chat":{"_id":"c1"}}`)
	if err := server.push(Frame{Event: "receive-message", Data: payload}); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != string(payload) {
			t.Errorf("data = %s, want %s", data, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server)

	received := make(chan json.RawMessage, 4)
	unsub := client.Subscribe("ev", func(data json.RawMessage) {
		received <- data
	})
	confirm := make(chan struct{}, 4)
	client.Subscribe("sentinel", func(json.RawMessage) {
		confirm <- struct{}{}
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	unsub()
	if err := server.push(Frame{Event: "ev"}); err != nil {
		t.Fatal(err)
	}
	// Sequential dispatch: once the sentinel lands, "ev" has been processed.
	if err := server.push(Frame{Event: "sentinel"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-confirm:
	case <-time.After(2 * time.Second):
		t.Fatal("sentinel never arrived")
	}
	select {
	case <-received:
		t.Error("handler ran after unsubscribe")
	default:
	}
}

func TestEmitWhenDisconnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:0", "tok", WithLogger(testLogger()))
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Emit("ev", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("got %v, want ErrNotConnected", err)
	}
}

func TestEmitAfterClose(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = client.Close()

	if err := client.Emit("ev", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestConnectFailureDoesNotRetry(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1", "tok",
		WithLogger(testLogger()), WithBackoff(time.Millisecond))
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if got := client.CurrentState(); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	server.dropConn()
	waitForState(t, client, StateConnected)

	deadline := time.Now().Add(3 * time.Second)
	for server.connCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if server.connCount() < 2 {
		t.Fatal("client never re-dialed")
	}

	// The new session carries traffic.
	received := make(chan json.RawMessage, 1)
	client.Subscribe("ev", func(data json.RawMessage) {
		received <- data
	})
	if err := server.push(Frame{Event: "ev"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after reconnect")
	}
}

func TestBoundedRetriesEndUnavailable(t *testing.T) {
	server := newWSServer(t)
	client := newTestClient(t, server, WithMaxRetries(3))

	var mu sync.Mutex
	var states []State
	client.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Take the backend away entirely so every retry fails.
	server.close()

	waitForState(t, client, StateUnavailable)

	mu.Lock()
	defer mu.Unlock()
	reconnecting := 0
	for _, s := range states {
		if s == StateReconnecting {
			reconnecting++
		}
	}
	if reconnecting != 3 {
		t.Errorf("observed %d reconnect attempts, want 3 (states %v)", reconnecting, states)
	}
	if states[len(states)-1] != StateUnavailable {
		t.Errorf("final state %s, want unavailable", states[len(states)-1])
	}
}

func TestBackoffCapped(t *testing.T) {
	client := NewClient("ws://example", "tok", WithBackoff(time.Second))
	t.Cleanup(func() { _ = client.Close() })

	if got := client.backoffFor(1); got != time.Second {
		t.Errorf("attempt 1 backoff %v, want 1s", got)
	}
	if got := client.backoffFor(3); got != 4*time.Second {
		t.Errorf("attempt 3 backoff %v, want 4s", got)
	}
	if got := client.backoffFor(10); got != maxBackoff {
		t.Errorf("attempt 10 backoff %v, want cap %v", got, maxBackoff)
	}
}
