// Package mock provides test doubles for the s2s package interfaces.
//
// Session is driven from the test: push inbound events with Emit and inspect
// what the code under test sent. Tool results go through a real
// [s2s.Correlator], so stale answers are rejected exactly like a live session
// would reject them.
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	sess.Emit(s2s.Event{Kind: s2s.EventToolCall, ToolCall: inv})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jobvoice/pkg/audio"
	"github.com/MrWong99/jobvoice/pkg/provider/s2s"
)

var (
	_ s2s.Provider    = (*Provider)(nil)
	_ s2s.Session     = (*Session)(nil)
	_ s2s.DropCounter = (*Session)(nil)
)

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Open. If nil, Open creates a new Session per call.
	Session *Session

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records every SessionConfig passed to Open.
	OpenCalls []s2s.SessionConfig

	// Sessions records every session handed out.
	Sessions []*Session
}

// Open records the call and returns Session or OpenErr.
func (p *Provider) Open(ctx context.Context, cfg s2s.SessionConfig) (s2s.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenCalls = append(p.OpenCalls, cfg)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// OpenCount returns the number of Open calls.
func (p *Provider) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.OpenCalls)
}

// Session is a scriptable s2s.Session.
type Session struct {
	events chan s2s.Event
	done   chan struct{}

	corr s2s.Correlator

	// emitMu keeps events from being closed while Emit is sending.
	emitMu sync.RWMutex

	mu        sync.Mutex
	state     s2s.TransportState
	frames    []audio.Frame
	texts     []string
	results   []s2s.ToolResult
	closes    int
	closeOnce sync.Once
	doneOnce  sync.Once

	// SendTextErr, if non-nil, is returned by SendText.
	SendTextErr error
}

// NewSession returns an open Session with an unbuffered event stream.
func NewSession() *Session {
	return &Session{
		events: make(chan s2s.Event),
		done:   make(chan struct{}),
		state:  s2s.StateOpen,
	}
}

// Emit delivers ev to the consumer and blocks until it has been received.
// Tool calls are registered for correlation and turn boundaries are applied
// after delivery. Emit reports false if the session closed first.
func (s *Session) Emit(ev s2s.Event) bool {
	if ev.Kind == s2s.EventToolCall {
		s.corr.Track(ev.ToolCall)
	}
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
	case <-s.done:
		return false
	}
	if ev.Kind == s2s.EventTurnComplete || ev.Kind == s2s.EventInterrupted {
		s.corr.EndTurn()
	}
	return true
}

// DroppedToolCalls returns how many tracked calls went unanswered.
func (s *Session) DroppedToolCalls() int { return s.corr.Dropped() }

// CancelCalls withdraws pending calls as a server-side cancellation would.
func (s *Session) CancelCalls(ids ...string) { s.corr.Cancel(ids...) }

// Fail moves the session to the error state, delivers an EventError and ends
// the event stream.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.state == s2s.StateOpen {
		s.state = s2s.StateError
	}
	s.mu.Unlock()
	s.Emit(s2s.Event{Kind: s2s.EventError, Err: err})
	s.doneOnce.Do(func() { close(s.done) })
	s.closeEvents()
}

// SendAudio implements s2s.Session.
func (s *Session) SendAudio(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != s2s.StateOpen {
		return s2s.ErrSessionClosed
	}
	s.frames = append(s.frames, frame)
	return nil
}

// SendText implements s2s.Session.
func (s *Session) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != s2s.StateOpen {
		return s2s.ErrSessionClosed
	}
	if s.SendTextErr != nil {
		return s.SendTextErr
	}
	s.texts = append(s.texts, text)
	return nil
}

// SendToolResult implements s2s.Session.
func (s *Session) SendToolResult(_ context.Context, r s2s.ToolResult) error {
	s.mu.Lock()
	open := s.state == s2s.StateOpen
	s.mu.Unlock()
	if !open {
		return s2s.ErrSessionClosed
	}
	if _, err := s.corr.Resolve(r.CorrelationID); err != nil {
		return err
	}
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
	return nil
}

// Events implements s2s.Session.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// State implements s2s.Session.
func (s *Session) State() s2s.TransportState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close implements s2s.Session. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	if s.state == s2s.StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = s2s.StateClosed
	s.mu.Unlock()

	s.corr.Reset()
	s.doneOnce.Do(func() { close(s.done) })
	s.closeEvents()
	return nil
}

func (s *Session) closeEvents() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
}

// Frames returns every frame sent so far.
func (s *Session) Frames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Frame(nil), s.frames...)
}

// Texts returns every text turn sent so far.
func (s *Session) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// Results returns every accepted tool result.
func (s *Session) Results() []s2s.ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]s2s.ToolResult(nil), s.results...)
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }
