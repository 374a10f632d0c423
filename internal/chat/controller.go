package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openllama/openllama/internal/llm"
)

var (
	ErrEmptyMessage     = errors.New("message has no text and no attachments")
	ErrGenerationActive = errors.New("a generation is already in progress")
	ErrNoSession        = errors.New("no active session")
)

// State is the lifecycle of a generation.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// AdapterSource resolves the adapter for a backend.
type AdapterSource interface {
	For(llm.Backend) llm.Adapter
}

// Update is published to subscribers after every observable change.
type Update struct {
	Sessions  []Session
	ActiveID  string
	SessionID string // session that changed
	State     State
	Stats     Stats

	// Outcome is StateIdle except on the final update of a run.
	Outcome State
}

// Run is a single in-flight generation.
type Run struct {
	SessionID string
	MessageID string

	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
	outcome State
	err     error
}

// Done is closed when the run has finished and released the controller.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes and returns its outcome.
func (r *Run) Wait() State {
	<-r.done
	return r.outcome
}

// Err returns the adapter failure, if the run failed.
func (r *Run) Err() error {
	<-r.done
	return r.err
}

// Controller drives generations against the session store. At most one
// generation is active across all sessions.
type Controller struct {
	store    *Store
	adapters AdapterSource
	settings func() llm.Settings
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	active *Run
	state  State
	stats  Stats
	staged []llm.Attachment
	subs   map[int]func(Update)
	nextID int
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController wires a controller. settings is consulted once per send.
func NewController(store *Store, adapters AdapterSource, settings func() llm.Settings, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		adapters: adapters,
		settings: settings,
		logger:   slog.Default(),
		now:      time.Now,
		subs:     make(map[int]func(Update)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) Store() *Store {
	return c.store
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns the statistics of the current or most recent run.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Busy reports whether a generation is in progress.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Active returns the in-flight run, or nil.
func (c *Controller) Active() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Subscribe registers fn for updates. fn runs on the publishing goroutine
// and must not block; it may call back into the controller.
func (c *Controller) Subscribe(fn func(Update)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Stage queues an attachment for the next send.
func (c *Controller) Stage(att llm.Attachment) {
	if att.ID == "" {
		att.ID = NewMessageID()
	}
	c.mu.Lock()
	c.staged = append(c.staged, att)
	c.mu.Unlock()
}

// Unstage removes a staged attachment by id. It reports whether one was removed.
func (c *Controller) Unstage(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.staged {
		if a.ID == id {
			c.staged = append(c.staged[:i], c.staged[i+1:]...)
			return true
		}
	}
	return false
}

// Staged returns the attachments queued for the next send.
func (c *Controller) Staged() []llm.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return llm.CloneAttachments(c.staged)
}

// NewSession creates and activates an empty session, resetting stats and
// staged attachments.
func (c *Controller) NewSession(ctx context.Context, modelID string) (Session, error) {
	sess, err := c.store.Create(ctx, modelID)
	if err != nil {
		c.logger.Warn("persisting new session failed", "error", err)
	}
	c.mu.Lock()
	c.staged = nil
	if c.active == nil {
		c.stats = Stats{}
	}
	c.mu.Unlock()
	c.publish(sess.ID, StateIdle)
	return sess, nil
}

// SelectSession switches the active session without affecting a running
// generation.
func (c *Controller) SelectSession(id string) error {
	if err := c.store.SetActive(id); err != nil {
		return err
	}
	c.publish(id, StateIdle)
	return nil
}

// DeleteSession removes a session. Fragments still arriving for it are dropped.
func (c *Controller) DeleteSession(ctx context.Context, id, defaultModel string) error {
	if err := c.store.Delete(ctx, id, defaultModel); err != nil {
		return err
	}
	c.publish(id, StateIdle)
	return nil
}

// Send appends a user message to the active session and starts streaming
// the reply in the background.
func (c *Controller) Send(ctx context.Context, text string) (*Run, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrGenerationActive
	}
	if strings.TrimSpace(text) == "" && len(c.staged) == 0 {
		c.mu.Unlock()
		return nil, ErrEmptyMessage
	}
	sess, ok := c.store.Active()
	if !ok {
		c.mu.Unlock()
		return nil, ErrNoSession
	}

	now := c.now()
	msg := llm.Message{
		ID:          NewMessageID(),
		Role:        llm.RoleUser,
		Content:     text,
		Attachments: c.staged,
		Timestamp:   now,
	}
	transcript, err := c.store.appendUser(ctx, sess.ID, msg)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.staged = nil

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		SessionID: sess.ID,
		MessageID: NewMessageID(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.active = run
	c.state = StateSending
	c.stats = Stats{StartTime: now}
	settings := c.settings()
	c.mu.Unlock()

	c.publish(sess.ID, StateIdle)
	go c.drive(runCtx, run, transcript, sess.ModelID, settings)
	return run, nil
}

// Stop cancels the active generation. Content already received is kept.
// It reports whether there was anything to stop.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	run := c.active
	c.mu.Unlock()
	if run == nil {
		return false
	}
	run.stopped.Store(true)
	run.cancel()
	return true
}

func (c *Controller) drive(ctx context.Context, run *Run, transcript []llm.Message, modelID string, settings llm.Settings) {
	adapter := c.adapters.For(settings.Backend)
	c.logger.Info("generation started",
		"session", run.SessionID, "backend", settings.Backend, "adapter", adapter.Name(), "model", modelID)

	stream := adapter.Generate(ctx, transcript, modelID, settings)
	c.setState(StateStreaming)

	count := 0
	for {
		frag, err := stream.Recv()
		if err != nil {
			if err != io.EOF {
				c.logger.Debug("stream ended with error", "error", err)
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
		count++
		now := c.now()
		if err := c.store.appendFragment(ctx, run.SessionID, run.MessageID, frag, now); err != nil {
			// The session was deleted mid-stream.
			c.logger.Debug("dropping fragment", "session", run.SessionID, "error", err)
		}
		c.mu.Lock()
		c.stats = computeStats(c.stats.StartTime, count, now)
		c.mu.Unlock()
		c.publish(run.SessionID, StateIdle)
	}
	stream.Close()

	outcome := StateCompleted
	switch {
	case run.stopped.Load() || ctx.Err() != nil:
		outcome = StateCancelled
	case stream.Err() != nil:
		outcome = StateFailed
		run.err = stream.Err()
	}
	run.outcome = outcome

	c.mu.Lock()
	stats := c.stats
	c.active = nil
	c.state = StateIdle
	c.mu.Unlock()
	run.cancel()

	c.logger.Info("generation finished",
		"session", run.SessionID, "outcome", outcome, "fragments", count,
		"elapsed_s", stats.ElapsedSeconds, "rate", stats.TokensPerSecond)
	close(run.done)
	c.publish(run.SessionID, outcome)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.publish("", StateIdle)
}

// publish sends a snapshot to every subscriber outside the lock.
func (c *Controller) publish(sessionID string, outcome State) {
	c.mu.Lock()
	subs := make([]func(Update), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	u := Update{SessionID: sessionID, State: c.state, Stats: c.stats, Outcome: outcome}
	c.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	u.Sessions = c.store.Sessions()
	u.ActiveID = c.store.ActiveID()
	for _, fn := range subs {
		fn(u)
	}
}
