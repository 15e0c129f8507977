// Package tournament runs the coordinator: the single owner of arena and
// connection state. Connections feed it events through a mailbox and it
// processes them one at a time, calling the bracket service synchronously.
package tournament

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cheildo/arena-coordinator/internal/arena"
	"github.com/cheildo/arena-coordinator/internal/bracket"
	"github.com/cheildo/arena-coordinator/internal/events"
	"github.com/cheildo/arena-coordinator/internal/protocol"
	"github.com/cheildo/arena-coordinator/internal/registry"
)

var ErrStopped = errors.New("coordinator stopped")

// Event is anything the coordinator's mailbox accepts.
type Event interface{ isEvent() }

// Received carries a decoded message from a connection.
type Received struct {
	From registry.Conn
	Msg  protocol.Message
}

// Malformed carries a frame that failed to decode. The sender gets an Error
// reply; nothing else changes.
type Malformed struct {
	From registry.Conn
	Err  error
}

// Disconnected is sent once when a connection goes away.
type Disconnected struct {
	ConnID string
}

// Sweep asks for a pass over pending pairings.
type Sweep struct{}

// GetState returns a copy of the coordinator's state on Reply.
type GetState struct {
	Reply chan View
}

func (Received) isEvent()     {}
func (Malformed) isEvent()    {}
func (Disconnected) isEvent() {}
func (Sweep) isEvent()        {}
func (GetState) isEvent()     {}

// View is a point-in-time copy of coordinator state.
type View struct {
	Tournament string            `json:"tournament"`
	Started    bool              `json:"started"`
	Arenas     []arena.Slot      `json:"arenas"`
	Priority   []int             `json:"priority"`
	Roster     []protocol.Player `json:"roster"`
	Admin      string            `json:"admin,omitempty"`
	Servers    []string          `json:"servers"`
}

// Config tunes the coordinator.
type Config struct {
	Tournament string
	// CallTimeout bounds every bracket and event sink call. Zero means no bound.
	CallTimeout time.Duration
	// SweepInterval triggers a sweep on a timer when positive.
	SweepInterval time.Duration
	MailboxSize   int
}

// Coordinator owns the arena allocator and connection registry. All of its
// state is touched only from the loop goroutine.
type Coordinator struct {
	cfg     Config
	bracket bracket.Bracket
	arenas  *arena.Allocator
	conns   *registry.Registry
	sink    events.Publisher
	logger  *slog.Logger
	now     func() time.Time

	inbox chan Event
	done  chan struct{}

	roster       []protocol.Player
	participants map[string]bool
	started      bool
}

// New builds a coordinator. Nothing runs until Start is called.
func New(cfg Config, b bracket.Bracket, arenas *arena.Allocator, sink events.Publisher, logger *slog.Logger) *Coordinator {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	if sink == nil {
		sink = events.Nop{}
	}
	return &Coordinator{
		cfg:          cfg,
		bracket:      b,
		arenas:       arenas,
		conns:        registry.New(),
		sink:         sink,
		logger:       logger.With("component", "coordinator", "tournament", cfg.Tournament),
		now:          time.Now,
		inbox:        make(chan Event, cfg.MailboxSize),
		done:         make(chan struct{}),
		participants: make(map[string]bool),
	}
}

// Start runs the event loop in its own goroutine until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	c.logger.Info("Coordinator loop started", "arenas", c.arenas.Size(), "priority", c.arenas.Priority())
	go c.loop(ctx)
}

// Inbox exposes the mailbox for callers that manage their own blocking.
func (c *Coordinator) Inbox() chan<- Event { return c.inbox }

// Submit enqueues ev, blocking until there is room, ctx ends or the loop stops.
func (c *Coordinator) Submit(ctx context.Context, ev Event) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// State round-trips through the mailbox so the copy is consistent with
// every event submitted before it.
func (c *Coordinator) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := c.Submit(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-c.done:
		return View{}, ErrStopped
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)

	var tick <-chan time.Time
	if c.cfg.SweepInterval > 0 {
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Coordinator loop stopping.")
			return
		case <-tick:
			c.handle(ctx, Sweep{})
		case ev := <-c.inbox:
			c.handle(ctx, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case Received:
		c.dispatch(ctx, e.From, e.Msg)

	case Malformed:
		c.logger.Warn("Rejected malformed message", "conn", e.From.ID(), "error", e.Err)
		if err := e.From.Send(protocol.Error{Message: e.Err.Error()}); err != nil {
			c.logger.Warn("Failed to send error reply", "conn", e.From.ID(), "error", err)
		}

	case Disconnected:
		c.disconnect(e.ConnID)

	case Sweep:
		c.sweep(ctx)

	case GetState:
		e.Reply <- c.view()

	default:
		c.logger.Error("Unhandled coordinator event", "event", ev)
	}
}

func (c *Coordinator) view() View {
	v := View{
		Tournament: c.cfg.Tournament,
		Started:    c.started,
		Arenas:     c.arenas.Snapshot(),
		Priority:   c.arenas.Priority(),
		Roster:     append([]protocol.Player(nil), c.roster...),
		Servers:    []string{},
	}
	if admin, ok := c.conns.Admin(); ok {
		v.Admin = admin.ID()
	}
	for _, s := range c.conns.Servers() {
		v.Servers = append(v.Servers, s.ID())
	}
	return v
}

// disconnect forgets the connection. Arenas are left as they are: a server
// going away does not release the match it was hosting.
func (c *Coordinator) disconnect(id string) {
	role := c.conns.Unregister(id)
	if role == registry.RoleNone {
		c.logger.Debug("Unregistered connection closed", "conn", id)
		return
	}

	occupied := 0
	for _, s := range c.arenas.Snapshot() {
		if s.Occupied {
			occupied++
		}
	}
	c.logger.Info("Connection removed", "conn", id, "role", role, "occupiedArenas", occupied)
	if role == registry.RoleServer && occupied > 0 {
		c.logger.Warn("Server left with arenas still occupied; they stay occupied until MatchResults or MatchCancel",
			"conn", id, "occupiedArenas", occupied)
	}
}

func (c *Coordinator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Coordinator) publish(ctx context.Context, ev events.Event) {
	ev.Tournament = c.cfg.Tournament
	ev.At = c.now()

	cctx, cancel := c.callContext(ctx)
	defer cancel()
	if err := c.sink.Publish(cctx, ev); err != nil {
		c.logger.Warn("Failed to publish event", "type", ev.Type, "error", err)
	}
}

func (c *Coordinator) broadcast(msg protocol.Message) {
	if err := c.conns.Broadcast(msg); err != nil {
		c.logger.Warn("Broadcast partially failed", "kind", msg.Kind(), "error", err)
	}
}
