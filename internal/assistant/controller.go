package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jobvoice/internal/observe"
	"github.com/MrWong99/jobvoice/internal/tools"
	"github.com/MrWong99/jobvoice/pkg/audio"
	"github.com/MrWong99/jobvoice/pkg/provider/s2s"
	"github.com/MrWong99/jobvoice/pkg/types"
)

var (
	// ErrNoSession is returned by [Controller.SendTextOverride] when no voice
	// session is open and no text agent is configured.
	ErrNoSession = errors.New("assistant: no active session")

	// ErrSessionActive is returned by [Controller.StartSession] while a
	// session is already open.
	ErrSessionActive = errors.New("assistant: session already active")

	// ErrEmptyText is returned for a blank text override.
	ErrEmptyText = errors.New("assistant: empty text")

	// ErrStoppedWhileConnecting is returned by [Controller.StartSession] when
	// StopSession ran before the transport finished opening.
	ErrStoppedWhileConnecting = errors.New("assistant: session stopped while connecting")

	errSessionEnded = errors.New("assistant: session ended by the service")
)

const (
	defaultSpeechThreshold = 0.08
	defaultStopTimeout     = 5 * time.Second
	defaultTranscriptMax   = 500
	defaultUpdateBuffer    = 64
)

// Settings are the per-session assistant options. They are read afresh at
// every session open.
type Settings struct {
	Model   string
	Voice   string
	Persona string
	Style   s2s.ResponseStyle

	// SpeechThreshold is the RMS level above which a microphone frame counts
	// as the user talking over the assistant. Zero selects a default.
	SpeechThreshold float64
}

// Dispatcher executes tool calls. [*tools.Dispatcher] implements it.
type Dispatcher interface {
	Definitions() []types.ToolDefinition
	Dispatch(ctx context.Context, name string, args json.RawMessage) tools.Result
}

// TextAgent answers a typed command without a live session, running the same
// tools through a text model.
type TextAgent interface {
	Run(ctx context.Context, system, userText string) (string, error)
}

// Config wires a [Controller].
type Config struct {
	Provider   s2s.Provider
	Dispatcher Dispatcher

	// Microphone is optional; without one the session is text-only.
	Microphone audio.Microphone

	// Player receives assistant audio. A private Player is created when nil.
	Player *audio.Player

	// Settings returns the latest settings. Required.
	Settings func() Settings

	// Agent handles text overrides while no session is open. Optional.
	Agent TextAgent

	Metrics *observe.Metrics
	Logger  *slog.Logger

	// StopTimeout bounds StopSession. Zero selects 5 s.
	StopTimeout time.Duration
}

// Controller runs at most one voice session and is the only writer of the
// assistant [State]. It is safe for concurrent use.
type Controller struct {
	cfg     Config
	player  *audio.Player
	metrics *observe.Metrics
	log     *slog.Logger

	// opMu serialises StartSession calls. StopSession never takes it.
	opMu sync.Mutex

	mu      sync.RWMutex
	state   State
	lastErr error
	active  *activeSession
	opening *pendingOpen

	transcript transcript
	hub        hub
}

type textCmd struct {
	text  string
	reply chan error
}

// pendingOpen is a StartSession that has not handed its session over yet.
type pendingOpen struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool // guarded by Controller.mu
}

// activeSession is one open transport plus the goroutines serving it.
type activeSession struct {
	sess    s2s.Session
	capture *audio.Capture
	ctx     context.Context
	cancel  context.CancelFunc
	cmds    chan textCmd
	done    chan struct{}

	threshold float64
	stopping  bool // guarded by Controller.mu

	// muted drops the rest of an assistant turn the user talked over.
	muted atomic.Bool

	teardownOnce sync.Once
}

// NewController returns an idle Controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Provider == nil {
		return nil, errors.New("assistant: provider is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("assistant: dispatcher is required")
	}
	if cfg.Settings == nil {
		return nil, errors.New("assistant: settings accessor is required")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	c := &Controller{
		cfg:     cfg,
		player:  cfg.Player,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
		state:   StateIdle,
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.player == nil {
		c.player = audio.NewPlayer()
	}
	c.transcript.max = defaultTranscriptMax
	c.hub.buf = defaultUpdateBuffer
	c.hub.metrics = c.metrics
	return c, nil
}

// ── Observation ───────────────────────────────────────────────────────────────

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the failure that put the controller into [StateError],
// or nil.
func (c *Controller) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Transcript returns a copy of the conversation history.
func (c *Controller) Transcript() []TranscriptEntry { return c.transcript.snapshot() }

// Amplitude returns the current playback spectrum.
func (c *Controller) Amplitude() []float64 { return c.player.Amplitude() }

// Player returns the playback queue the output device should pull from.
func (c *Controller) Player() *audio.Player { return c.player }

// Subscribe returns a stream of updates and a func that ends the
// subscription and closes the stream.
func (c *Controller) Subscribe() (<-chan Update, func()) { return c.hub.subscribe() }

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// StartSession opens a live session. From [StateError] it retries after the
// failed session has been fully disposed. A StopSession issued while the
// transport is still connecting cancels the open and makes StartSession
// return [ErrStoppedWhileConnecting].
func (c *Controller) StartSession(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	prev := c.active
	c.mu.Unlock()
	if prev != nil {
		if c.State() != StateError {
			return ErrSessionActive
		}
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	openCtx, cancelOpen := context.WithCancel(ctx)
	defer cancelOpen()
	p := &pendingOpen{cancel: cancelOpen, done: make(chan struct{})}
	defer close(p.done)
	c.mu.Lock()
	c.opening = p
	c.mu.Unlock()

	ev := EventStart
	if c.State() == StateError {
		ev = EventRetry
	}
	if err := c.fire(ctx, ev); err != nil {
		c.mu.Lock()
		c.opening = nil
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()

	settings := c.cfg.Settings()
	a, err := c.open(openCtx, settings)

	// Hand over under the same lock StopSession inspects, so a stop lands
	// either on the pending open or on the active session.
	c.mu.Lock()
	c.opening = nil
	stopped := p.stopped
	if err == nil && !stopped {
		c.active = a
	}
	c.mu.Unlock()

	switch {
	case stopped:
		if err == nil {
			c.teardown(a)
		}
		c.log.Info("assistant: session stopped while connecting")
		return ErrStoppedWhileConnecting
	case err != nil:
		c.fail(ctx, err)
		return err
	}
	c.metrics.ActiveSessions.Add(ctx, 1)

	c.apply(ctx, EventTransportOpen)
	c.log.Info("assistant: session open", "voice", settings.Voice, "style", settings.Style)

	g, gctx := errgroup.WithContext(a.ctx)
	if a.capture != nil {
		g.Go(func() error { return c.pumpCapture(gctx, a) })
	}
	g.Go(func() error { return c.eventLoop(gctx, a) })

	go func() {
		err := g.Wait()
		c.teardown(a)
		c.finish(a, err)
	}()
	return nil
}

// open dials the transport and starts the microphone.
func (c *Controller) open(ctx context.Context, settings Settings) (_ *activeSession, err error) {
	ctx, span := observe.StartSessionSpan(ctx, settings.Voice)
	defer func() { observe.EndSpan(span, err) }()

	threshold := settings.SpeechThreshold
	if threshold <= 0 {
		threshold = defaultSpeechThreshold
	}

	start := time.Now()
	sess, err := c.cfg.Provider.Open(ctx, s2s.SessionConfig{
		Model:   settings.Model,
		Voice:   settings.Voice,
		Persona: settings.Persona,
		Style:   settings.Style,
		Tools:   c.cfg.Dispatcher.Definitions(),
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: open session: %w", err)
	}
	c.metrics.SessionOpenDuration.Record(ctx, time.Since(start).Seconds())

	var capture *audio.Capture
	if c.cfg.Microphone != nil {
		capture, err = audio.StartCapture(context.WithoutCancel(ctx), c.cfg.Microphone)
		if err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("assistant: start capture: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &activeSession{
		sess:      sess,
		capture:   capture,
		ctx:       runCtx,
		cancel:    cancel,
		cmds:      make(chan textCmd),
		done:      make(chan struct{}),
		threshold: threshold,
	}, nil
}

// StopSession closes the session from any state. The microphone is released,
// playback is flushed and the transport closed within the stop timeout;
// unanswered tool calls are dropped. A session still connecting has its open
// cancelled.
func (c *Controller) StopSession(ctx context.Context) error {
	c.mu.Lock()
	p := c.opening
	if p != nil {
		p.stopped = true
		p.cancel()
	}
	a := c.active
	if a != nil {
		a.stopping = true
	}
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	wait := func(done <-chan struct{}) error {
		select {
		case <-done:
			return nil
		case <-timer.C:
			return fmt.Errorf("assistant: stop: session did not finish within %s", c.cfg.StopTimeout)
		case <-ctx.Done():
			return fmt.Errorf("assistant: stop: %w", ctx.Err())
		}
	}

	var waitErr error
	if p != nil {
		waitErr = wait(p.done)
	}
	if a != nil {
		c.teardown(a)
		if waitErr == nil {
			waitErr = wait(a.done)
		}
	}

	if c.State() != StateIdle {
		if err := c.fire(context.WithoutCancel(ctx), EventStop); err != nil {
			return err
		}
	}
	c.log.Info("assistant: session stopped")
	return waitErr
}

// SendTextOverride submits msg as a user turn. With an open session it goes
// to the service after every previously received tool call has been
// answered. Without one it is handled by the text agent.
func (c *Controller) SendTextOverride(ctx context.Context, msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return ErrEmptyText
	}

	c.mu.RLock()
	a := c.active
	c.mu.RUnlock()

	if a != nil {
		cmd := textCmd{text: msg, reply: make(chan error, 1)}
		select {
		case a.cmds <- cmd:
		case <-a.done:
			return ErrNoSession
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case err := <-cmd.reply:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if c.cfg.Agent == nil {
		return ErrNoSession
	}
	c.record(TranscriptEntry{Source: s2s.SpeakerUser, Text: msg, IsFinal: true})
	settings := c.cfg.Settings()
	system := s2s.SessionConfig{Persona: settings.Persona, Style: settings.Style}.SystemInstruction()
	reply, err := c.cfg.Agent.Run(ctx, system, msg)
	if err != nil {
		return fmt.Errorf("assistant: text agent: %w", err)
	}
	if reply != "" {
		c.record(TranscriptEntry{Source: s2s.SpeakerAssistant, Text: reply, IsFinal: true})
	}
	return nil
}

// ── Session goroutines ────────────────────────────────────────────────────────

// pumpCapture forwards microphone frames and detects barge-in.
func (c *Controller) pumpCapture(ctx context.Context, a *activeSession) error {
	frames := a.capture.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				// Nil unless the device failed on its own.
				return a.capture.Err()
			}
			if f.Level > a.threshold && c.State() == StateSpeaking {
				a.muted.Store(true)
				c.bargeIn(ctx, "local")
			}
			if err := a.sess.SendAudio(f); err != nil {
				// The event loop observes the closed transport.
				return nil
			}
		}
	}
}

// bargeIn flushes playback before the state leaves Speaking.
func (c *Controller) bargeIn(ctx context.Context, source string) {
	c.player.Interrupt()
	c.metrics.RecordInterruption(ctx, source)
	ev := EventUserSpeech
	if source == "service" {
		ev = EventInterrupted
	}
	c.apply(ctx, ev)
}

// eventLoop is the only consumer of transport events and text commands.
func (c *Controller) eventLoop(ctx context.Context, a *activeSession) error {
	events := a.sess.Events()
	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd := <-a.cmds:
			err := a.sess.SendText(ctx, cmd.text)
			if err == nil {
				c.record(TranscriptEntry{Source: s2s.SpeakerUser, Text: cmd.text, IsFinal: true})
				c.apply(ctx, EventTurnBegin)
			}
			cmd.reply <- err

		case ev, ok := <-events:
			if !ok {
				return errSessionEnded
			}
			if err := c.handleEvent(ctx, a, ev); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, a *activeSession, ev s2s.Event) error {
	switch ev.Kind {
	case s2s.EventAudio:
		if a.muted.Load() {
			return nil
		}
		c.player.Enqueue(ev.Audio)
		c.apply(ctx, EventAssistantAudio)

	case s2s.EventTranscript:
		c.record(TranscriptEntry{Source: ev.Transcript.Source, Text: ev.Transcript.Text, IsFinal: ev.Transcript.IsFinal})
		if ev.Transcript.Source == s2s.SpeakerUser && c.State() == StateListening {
			c.apply(ctx, EventTurnBegin)
		}

	case s2s.EventToolCall:
		c.apply(ctx, EventTurnBegin)
		c.answer(ctx, a, ev.ToolCall)

	case s2s.EventTurnComplete:
		a.muted.Store(false)
		c.apply(ctx, EventTurnComplete)

	case s2s.EventInterrupted:
		a.muted.Store(false)
		c.bargeIn(ctx, "service")

	case s2s.EventError:
		if ev.Err == nil {
			return errSessionEnded
		}
		return ev.Err
	}
	return nil
}

// answer runs inv and returns its result to the service. Results the
// transport no longer accepts are dropped.
func (c *Controller) answer(ctx context.Context, a *activeSession, inv s2s.ToolInvocation) {
	res := c.cfg.Dispatcher.Dispatch(ctx, inv.Name, inv.Arguments)
	if ctx.Err() != nil {
		c.log.Debug("assistant: session closing, tool result dropped", "tool", inv.Name, "id", inv.CorrelationID)
		return
	}
	err := a.sess.SendToolResult(ctx, s2s.ToolResult{
		CorrelationID: inv.CorrelationID,
		Name:          inv.Name,
		Output:        res.Output,
		IsError:       res.IsError,
	})
	switch {
	case err == nil:
	case errors.Is(err, s2s.ErrStaleCorrelation):
		c.metrics.StaleToolResults.Add(ctx, 1)
		c.log.Warn("assistant: dropped stale tool result", "tool", inv.Name, "id", inv.CorrelationID, "err", err)
	default:
		c.log.Warn("assistant: send tool result", "tool", inv.Name, "id", inv.CorrelationID, "err", err)
	}
}

// teardown releases the session's resources. It is idempotent.
func (c *Controller) teardown(a *activeSession) {
	a.teardownOnce.Do(func() {
		a.cancel()
		if a.capture != nil {
			if err := a.capture.Stop(); err != nil {
				c.log.Warn("assistant: release microphone", "err", err)
			}
		}
		c.player.Interrupt()
		if err := a.sess.Close(); err != nil {
			c.log.Warn("assistant: close transport", "err", err)
		}
	})
}

// finish records how the session ended. The failure is applied while the
// session is still registered, so a concurrent StartSession sees the Error
// state and retries.
func (c *Controller) finish(a *activeSession, err error) {
	ctx := context.Background()
	c.mu.RLock()
	stopping := a.stopping
	c.mu.RUnlock()

	if !stopping {
		if err == nil {
			err = errSessionEnded
		}
		c.fail(ctx, err)
	}

	c.mu.Lock()
	if c.active == a {
		c.active = nil
	}
	c.mu.Unlock()
	c.metrics.ActiveSessions.Add(ctx, -1)
	c.recordDropped(ctx, a)
	close(a.done)
}

// recordDropped counts the tool calls the closed session never answered.
func (c *Controller) recordDropped(ctx context.Context, a *activeSession) {
	dc, ok := a.sess.(s2s.DropCounter)
	if !ok {
		return
	}
	if n := dc.DroppedToolCalls(); n > 0 {
		c.metrics.DroppedToolCalls.Add(ctx, int64(n))
		c.log.Debug("assistant: tool calls dropped", "count", n)
	}
}

// ── State ─────────────────────────────────────────────────────────────────────

// fire applies ev and reports a refused transition.
func (c *Controller) fire(ctx context.Context, ev Event) error {
	c.mu.Lock()
	from := c.state
	next, err := Transition(from, ev)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	lastErr := c.lastErr
	c.mu.Unlock()

	if next != from {
		c.metrics.RecordTransition(ctx, string(from), string(next))
		c.log.Debug("assistant: state", "from", from, "to", next, "event", ev)
		u := Update{Kind: UpdateState, State: next}
		if next == StateError && lastErr != nil {
			u.Error = UserMessage(lastErr)
		}
		c.hub.publish(u)
	}
	return nil
}

// apply fires ev from inside a session, where a refused transition is only
// worth a debug line.
func (c *Controller) apply(ctx context.Context, ev Event) {
	if err := c.fire(ctx, ev); err != nil {
		c.log.Debug("assistant: ignored event", "event", ev, "err", err)
	}
}

func (c *Controller) fail(ctx context.Context, err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.log.Error("assistant: session failed", "err", err)
	c.apply(ctx, EventFailure)
}

func (c *Controller) record(e TranscriptEntry) {
	e.At = time.Now()
	e = c.transcript.add(e)
	c.hub.publish(Update{Kind: UpdateTranscript, Transcript: &e})
}

// UserMessage turns a session failure into a sentence for the UI.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone access was denied. Allow microphone access and try again."
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "No microphone is available."
	case errors.Is(err, s2s.ErrAuthentication):
		return "The voice service rejected the API key."
	case errors.Is(err, s2s.ErrConfiguration):
		return "The voice session settings are invalid: " + err.Error()
	case errors.Is(err, s2s.ErrNetwork), errors.Is(err, errSessionEnded):
		return "The connection to the voice service was lost. Start the session again to reconnect."
	default:
		return "The voice session failed: " + err.Error()
	}
}
