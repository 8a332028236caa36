package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/releaserelay/release_layer/pkg/logger"
)

var (
	// ErrDialogInProgress is returned when an actor already has an active
	// session in the same channel.
	ErrDialogInProgress = errors.New("dialog: session already in progress")

	// ErrNoDialog is returned when input arrives for an actor with no
	// active session.
	ErrNoDialog = errors.New("dialog: no active session")
)

// cancelKeywords abort an active session regardless of the current step.
var cancelKeywords = map[string]struct{}{
	"exit":   {},
	"cancel": {},
}

// Key addresses one active session. Sessions are scoped per tenant, channel
// and actor, so the same person can run independent dialogs in two channels.
type Key struct {
	Tenant  string
	Channel string
	Actor   string
}

// Input is one message from the actor driving a session.
type Input struct {
	Content       string
	AttachmentURL string
}

// StepFunc handles one input and returns the next step. Returning a nil next
// step completes the session. A step that wants the same question answered
// again returns itself.
type StepFunc func(ctx context.Context, s *Session, in Input) (StepFunc, error)

// Prompter delivers questions and status lines back to the actor's channel.
type Prompter interface {
	Prompt(ctx context.Context, key Key, message string)
}

// Session is the mutable state of one active dialog.
type Session struct {
	Key    Key
	Values map[string]any

	engine    *Engine
	step      StepFunc
	expiresAt time.Time

	// run serializes step execution so two messages arriving together
	// cannot commit side effects concurrently
	run sync.Mutex
}

// Prompt sends a message back to the actor driving this session.
func (s *Session) Prompt(ctx context.Context, message string) {
	s.engine.prompter.Prompt(ctx, s.Key, message)
}

// String returns a collected string value, or "" when absent.
func (s *Session) String(key string) string {
	v, _ := s.Values[key].(string)
	return v
}

// Engine multiplexes concurrent dialog sessions and expires idle ones.
type Engine struct {
	prompter Prompter
	log      *logger.Logger
	timeout  time.Duration
	sweep    time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[Key]*Session
}

func NewEngine(prompter Prompter, timeout, sweepInterval time.Duration, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("dialog")
	}
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Engine{
		prompter: prompter,
		log:      log,
		timeout:  timeout,
		sweep:    sweepInterval,
		now:      time.Now,
		sessions: make(map[Key]*Session),
	}
}

// Start begins a new session for key with first as its entry step. The
// opening prompt is sent immediately.
func (e *Engine) Start(ctx context.Context, key Key, first StepFunc, opening string) error {
	e.mu.Lock()
	if _, exists := e.sessions[key]; exists {
		e.mu.Unlock()
		return ErrDialogInProgress
	}
	s := &Session{
		Key:       key,
		Values:    make(map[string]any),
		engine:    e,
		step:      first,
		expiresAt: e.now().Add(e.timeout),
	}
	e.sessions[key] = s
	e.mu.Unlock()

	if opening != "" {
		e.prompter.Prompt(ctx, key, opening)
	}
	return nil
}

// Active reports whether key currently has a session.
func (e *Engine) Active(key Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[key]
	return ok
}

// Invoke routes one input to the session for key. Cancel keywords abort the
// session. A step error also aborts the session and is returned to the
// caller.
func (e *Engine) Invoke(ctx context.Context, key Key, in Input) error {
	e.mu.Lock()
	s, ok := e.sessions[key]
	if !ok {
		e.mu.Unlock()
		return ErrNoDialog
	}
	if _, cancelled := cancelKeywords[strings.ToLower(strings.TrimSpace(in.Content))]; cancelled {
		delete(e.sessions, key)
		e.mu.Unlock()
		e.prompter.Prompt(ctx, key, "Cancelled.")
		return nil
	}
	s.expiresAt = e.now().Add(e.timeout)
	e.mu.Unlock()

	s.run.Lock()
	defer s.run.Unlock()

	// re-read the step once we hold the run lock: an earlier message may
	// have advanced the session, or cancelled it, while we waited
	e.mu.Lock()
	if current, ok := e.sessions[key]; !ok || current != s {
		e.mu.Unlock()
		return ErrNoDialog
	}
	step := s.step
	e.mu.Unlock()

	next, err := step(ctx, s, in)
	if err != nil {
		e.drop(key)
		e.log.WithError(err).WithField("actor", key.Actor).Warn("dialog step failed")
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if next == nil {
		delete(e.sessions, key)
		return nil
	}
	if current, ok := e.sessions[key]; ok && current == s {
		current.step = next
	}
	return nil
}

func (e *Engine) drop(key Key) {
	e.mu.Lock()
	delete(e.sessions, key)
	e.mu.Unlock()
}

func (e *Engine) expire(ctx context.Context) {
	now := e.now()

	e.mu.Lock()
	var expired []Key
	for key, s := range e.sessions {
		if now.After(s.expiresAt) {
			expired = append(expired, key)
			delete(e.sessions, key)
		}
	}
	e.mu.Unlock()

	for _, key := range expired {
		e.log.WithField("actor", key.Actor).Info("dialog session expired")
		e.prompter.Prompt(ctx, key, "Session expired.")
	}
}

