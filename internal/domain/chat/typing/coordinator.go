package typing

import (
	"sync"
	"time"

	"github.com/edusphere/chat-core/internal/domain/chat/entity"
	"github.com/edusphere/chat-core/internal/socket"
)

const (
	// DefaultEmitInterval is the minimum gap between outbound typing events
	// during continuous typing
	DefaultEmitInterval = 500 * time.Millisecond

	// DefaultQuietPeriod is how long after the peer's last typing event the
	// indicator falls back to not-typing
	DefaultQuietPeriod = 2 * time.Second
)

// Emitter is the slice of the connection client the coordinator needs
type Emitter interface {
	Emit(event string, payload any) error
}

// Coordinator debounces outbound typing signals and expires inbound ones for
// a single conversation. Timers are per-conversation and must be released
// with Close when the conversation is closed.
type Coordinator struct {
	emitter      Emitter
	convID       string
	selfRole     entity.Role
	emitInterval time.Duration
	quietPeriod  time.Duration

	mu         sync.Mutex
	lastEmit   time.Time
	peerTyping bool
	timer      *time.Timer

	// timerGen invalidates expiry callbacks that timer.Stop could not
	// prevent. Stop does not wait for a callback already running, so an
	// expire blocked on mu can fire after the timer was restarted; only
	// the callback carrying the current generation may flip the flag.
	timerGen int

	cbs    map[int]func(bool)
	nextID int
	closed bool
}

// Option configures the Coordinator
type Option func(*Coordinator)

// WithEmitInterval overrides the outbound rate limit
func WithEmitInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.emitInterval = d
	}
}

// WithQuietPeriod overrides the inbound expiry window
func WithQuietPeriod(d time.Duration) Option {
	return func(c *Coordinator) {
		c.quietPeriod = d
	}
}

// NewCoordinator creates a typing coordinator for one conversation. selfRole
// determines the event names used for outbound signals.
func NewCoordinator(emitter Emitter, conversationID string, selfRole entity.Role, opts ...Option) *Coordinator {
	c := &Coordinator{
		emitter:      emitter,
		convID:       conversationID,
		selfRole:     selfRole,
		emitInterval: DefaultEmitInterval,
		quietPeriod:  DefaultQuietPeriod,
		cbs:          make(map[int]func(bool)),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NotifyTyping signals a local keystroke. Emits at most one typing event per
// emit interval of continuous typing.
func (c *Coordinator) NotifyTyping() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return entity.ErrConversationClosed
	}
	now := time.Now()
	if now.Sub(c.lastEmit) < c.emitInterval {
		c.mu.Unlock()
		return nil
	}
	c.lastEmit = now
	c.mu.Unlock()

	return c.emitter.Emit(socket.TypingEvent(c.selfRole), socket.TypingPayload{ChatID: c.convID})
}

// NotifyStopTyping signals that the local composer went quiet
func (c *Coordinator) NotifyStopTyping() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return entity.ErrConversationClosed
	}
	c.lastEmit = time.Time{}
	c.mu.Unlock()

	return c.emitter.Emit(socket.StopTypingEvent(c.selfRole), socket.TypingPayload{ChatID: c.convID})
}

// HandlePeerTyping processes an inbound typing event: the indicator turns on
// and the expiry timer restarts.
func (c *Coordinator) HandlePeerTyping() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := !c.peerTyping
	c.peerTyping = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(c.quietPeriod, func() { c.expire(gen) })
	cbs := c.snapshotCallbacks()
	c.mu.Unlock()

	if changed {
		for _, cb := range cbs {
			cb(true)
		}
	}
}

// HandlePeerStopTyping processes an explicit stop-typing event: the timer is
// cancelled and the indicator turns off immediately.
func (c *Coordinator) HandlePeerStopTyping() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := c.peerTyping
	c.peerTyping = false
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	cbs := c.snapshotCallbacks()
	c.mu.Unlock()

	if changed {
		for _, cb := range cbs {
			cb(false)
		}
	}
}

// PeerTyping reports whether the remote participant is currently typing
func (c *Coordinator) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping
}

// State returns the derived typing state for the conversation
func (c *Coordinator) State() entity.TypingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return entity.TypingState{ConversationID: c.convID, IsTyping: c.peerTyping}
}

// OnChange registers a callback fired whenever the peer's typing flag flips.
// Returns an unregister function.
func (c *Coordinator) OnChange(cb func(bool)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.cbs[id] = cb
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.cbs, id)
		c.mu.Unlock()
	}
}

// Close stops the expiry timer and rejects further signals
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
}

// expire fires when the quiet period elapses with no further typing event.
// A stale generation means the timer was restarted or cancelled after this
// callback was already scheduled; such callbacks must not flip the flag.
func (c *Coordinator) expire(gen int) {
	c.mu.Lock()
	if c.closed || gen != c.timerGen || !c.peerTyping {
		c.mu.Unlock()
		return
	}
	c.peerTyping = false
	c.timer = nil
	cbs := c.snapshotCallbacks()
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(false)
	}
}

func (c *Coordinator) snapshotCallbacks() []func(bool) {
	cbs := make([]func(bool), 0, len(c.cbs))
	for _, cb := range c.cbs {
		cbs = append(cbs, cb)
	}
	return cbs
}
