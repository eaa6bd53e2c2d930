package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait   = 10 * time.Second
	defaultPingPeriod  = 30 * time.Second
	defaultDialTimeout = 10 * time.Second
	defaultMaxRetries  = 5
	defaultBackoff     = time.Second
	maxBackoff         = 30 * time.Second
	sendBufferSize     = 128
)

// State is the connection lifecycle state
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateUnavailable  State = "unavailable" // terminal: bounded retries exhausted
)

// Frame is the wire format for every event in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of a subscribed event
type Handler func(data json.RawMessage)

// Client owns the single persistent connection to the messaging backend for
// one authenticated session. It is safe for concurrent use. The client does
// not remember room membership across reconnects; callers re-join via an
// OnStateChange hook.
type Client struct {
	id          string
	endpoint    string
	authToken   string
	dialer      *websocket.Dialer
	logger      *slog.Logger
	maxRetries  int
	baseBackoff time.Duration
	pingPeriod  time.Duration
	writeWait   time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	subs      map[string]map[int]Handler
	stateSubs map[int]func(State)
	nextID    int
	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures the Client
type Option func(*Client)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMaxRetries caps the number of reconnection attempts before the client
// surfaces the terminal unavailable state
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBackoff sets the base reconnection backoff
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.baseBackoff = d
	}
}

// WithPingPeriod sets the keepalive ping interval
func WithPingPeriod(d time.Duration) Option {
	return func(c *Client) {
		c.pingPeriod = d
	}
}

// NewClient creates a client for the given websocket endpoint. The auth token
// is attached as a query parameter on every dial.
func NewClient(endpoint, authToken string, opts ...Option) *Client {
	c := &Client{
		id:          uuid.NewString(),
		endpoint:    endpoint,
		authToken:   authToken,
		dialer:      websocket.DefaultDialer,
		logger:      slog.Default(),
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBackoff,
		pingPeriod:  defaultPingPeriod,
		writeWait:   defaultWriteWait,
		state:       StateDisconnected,
		subs:        make(map[string]map[int]Handler),
		stateSubs:   make(map[int]func(State)),
		send:        make(chan Frame, sendBufferSize),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ID returns the client's session-unique identifier
func (c *Client) ID() string {
	return c.id
}

// Connect establishes the connection. It does not retry on the initial dial;
// automatic bounded reconnection only applies once a connection has been
// established and subsequently drops.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, _, err := c.dialer.DialContext(ctx, c.dialURL(), nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dialing %s: %w", c.endpoint, err)
	}

	c.startSession(conn)
	return nil
}

// Emit sends an event to the backend. It fails fast when the connection is
// not currently established rather than queueing indefinitely.
func (c *Client) Emit(event string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if c.CurrentState() != StateConnected {
		return ErrNotConnected
	}

	frame := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", event, err)
		}
		frame.Data = data
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// Subscribe registers a handler for an event name and returns an
// unsubscribe function. Handlers run one at a time on the read loop, so a
// handler's mutation is fully applied before the next event is dispatched.
func (c *Client) Subscribe(event string, h Handler) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	handlers := c.subs[event]
	if handlers == nil {
		handlers = make(map[int]Handler)
		c.subs[event] = handlers
	}
	handlers[id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		if handlers, ok := c.subs[event]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(c.subs, event)
			}
		}
		c.mu.Unlock()
	}
}

// OnStateChange registers a callback for connection state transitions and
// returns an unregister function.
func (c *Client) OnStateChange(cb func(State)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.stateSubs[id] = cb
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.stateSubs, id)
		c.mu.Unlock()
	}
}

// CurrentState returns the current connection state
func (c *Client) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close terminates the connection and stops all loops. The client cannot be
// reused after Close.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
				time.Now().Add(c.writeWait))
			_ = conn.Close()
		}
		c.setState(StateDisconnected)
	})
	return nil
}

func (c *Client) dialURL() string {
	params := url.Values{}
	params.Set("token", c.authToken)
	params.Set("sessionId", c.id)
	return c.endpoint + "?" + params.Encode()
}

func (c *Client) startSession(conn *websocket.Conn) {
	quit := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.writeLoop(conn, quit)
	go c.readLoop(conn, quit)
}

func (c *Client) readLoop(conn *websocket.Conn, quit chan struct{}) {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			close(quit)
			_ = conn.Close()

			select {
			case <-c.done:
				return
			default:
			}

			c.logger.Warn("connection lost", "error", err)
			go c.reconnect()
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, quit chan struct{}) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-c.done:
			return
		case frame := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				c.logger.Warn("write failed", "event", frame.Event, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnect runs the bounded retry loop after a dropped connection. When
// all attempts fail the client parks in the terminal unavailable state and
// the caller sees it via OnStateChange.
func (c *Client) reconnect() {
	c.setState(StateDisconnected)

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(c.backoffFor(attempt)):
		}

		c.setState(StateReconnecting)

		ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
		conn, _, err := c.dialer.DialContext(ctx, c.dialURL(), nil)
		cancel()
		if err == nil {
			c.logger.Info("reconnected", "attempt", attempt)
			c.startSession(conn)
			return
		}

		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		c.setState(StateDisconnected)
	}

	c.logger.Error("connection unavailable, retries exhausted", "attempts", c.maxRetries)
	c.setState(StateUnavailable)
}

func (c *Client) backoffFor(attempt int) time.Duration {
	d := c.baseBackoff << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (c *Client) dispatch(frame Frame) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[frame.Event]))
	for _, h := range c.subs[frame.Event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(frame.Data)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cbs := make([]func(State), 0, len(c.stateSubs))
	for _, cb := range c.stateSubs {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(s)
	}
}
