// Package gemini implements the s2s.Provider interface for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Microphone audio is streamed as base64 PCM at 16 kHz; the model answers with
// 24 kHz PCM, input/output transcriptions and function calls, all surfaced on
// the session's single event stream.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/jobvoice/pkg/audio"
	"github.com/MrWong99/jobvoice/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var (
	_ s2s.Session     = (*session)(nil)
	_ s2s.DropCounter = (*session)(nil)
)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	defaultVoice   = "Puck"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	defaultSetupTimeout = 10 * time.Second
	closeTimeout        = 3 * time.Second

	inputMIMEType = "audio/pcm;rate=16000"
)

// Voices lists the prebuilt voices accepted by Gemini Live.
var Voices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"}

// ValidVoice reports whether name is one of [Voices]. Empty is accepted and
// selects the default voice.
func ValidVoice(name string) bool {
	return name == "" || slices.Contains(Voices, name)
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithSetupTimeout bounds how long Open waits for the server to acknowledge
// the setup message.
func WithSetupTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.setupTimeout = d
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey       string
	model        string
	baseURL      string
	setupTimeout time.Duration
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		baseURL:      defaultBaseURL,
		setupTimeout: defaultSetupTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Open dials Gemini Live, sends the setup message and waits for setupComplete.
// Configuration problems are reported before any network activity.
func (p *Provider) Open(ctx context.Context, cfg s2s.SessionConfig) (s2s.Session, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	if err := validate(model, cfg); err != nil {
		return nil, err
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("gemini: %w: no API key configured", s2s.ErrAuthentication)
	}

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	setupCtx, cancelSetup := context.WithTimeout(ctx, p.setupTimeout)
	defer cancelSetup()

	conn, resp, err := websocket.Dial(setupCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("gemini: dial: %w: HTTP %d", s2s.ErrAuthentication, resp.StatusCode)
		}
		return nil, fmt.Errorf("gemini: dial: %w: %w", s2s.ErrNetwork, err)
	}
	conn.SetReadLimit(16 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:       conn,
		events:     make(chan s2s.Event),
		readerDone: make(chan struct{}),
		ctx:        sessCtx,
		cancel:     sessCancel,
		state:      s2s.StateOpening,
	}

	if err := sess.handshake(setupCtx, model, cfg); err != nil {
		sessCancel()
		conn.CloseNow()
		sess.setState(s2s.StateClosed)
		return nil, err
	}
	sess.setState(s2s.StateOpen)

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

func validate(model string, cfg s2s.SessionConfig) error {
	var errs []error
	if strings.TrimSpace(model) == "" {
		errs = append(errs, fmt.Errorf("%w: model must not be empty", s2s.ErrConfiguration))
	}
	if !ValidVoice(cfg.Voice) {
		errs = append(errs, fmt.Errorf("%w: unknown voice %q (want one of %s)",
			s2s.ErrConfiguration, cfg.Voice, strings.Join(Voices, ", ")))
	}
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("gemini: %w", err)
	}
	return nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	Tools                    []geminiTool       `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete        *json.RawMessage      `json:"setupComplete,omitempty"`
	ServerContent        *serverContent        `json:"serverContent,omitempty"`
	ToolCall             *toolCallMsg          `json:"toolCall,omitempty"`
	ToolCallCancellation *toolCallCancellation `json:"toolCallCancellation,omitempty"`
	Error                *geminiError          `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type toolCallCancellation struct {
	IDs []string `json:"ids"`
}

// classify maps a server-reported error onto the s2s sentinels.
func (ge *geminiError) classify() error {
	msg := ge.Message
	if msg == "" {
		msg = "unknown error"
	}
	switch {
	case ge.Code == http.StatusUnauthorized || ge.Code == http.StatusForbidden,
		ge.Status == "UNAUTHENTICATED", ge.Status == "PERMISSION_DENIED":
		return fmt.Errorf("gemini: %w: %s", s2s.ErrAuthentication, msg)
	case ge.Code == http.StatusBadRequest, ge.Status == "INVALID_ARGUMENT":
		return fmt.Errorf("gemini: %w: %s", s2s.ErrConfiguration, msg)
	default:
		return fmt.Errorf("gemini: %w: %s", s2s.ErrNetwork, msg)
	}
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn       *websocket.Conn
	events     chan s2s.Event
	readerDone chan struct{}

	corr s2s.Correlator

	mu     sync.Mutex
	state  s2s.TransportState
	closed bool

	// Transcription accumulators, touched only by receiveLoop.
	userText      strings.Builder
	assistantText strings.Builder

	ctx    context.Context
	cancel context.CancelFunc
}

// setState applies a lifecycle move, refusing moves the lifecycle forbids.
func (s *session) setState(next s2s.TransportState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransition(next) {
		return false
	}
	s.state = next
	return true
}

// handshake sends the setup message and waits for setupComplete.
func (s *session) handshake(ctx context.Context, model string, cfg s2s.SessionConfig) error {
	if err := s.writeJSON(ctx, buildSetup(model, cfg)); err != nil {
		return fmt.Errorf("gemini: setup: %w: %w", s2s.ErrNetwork, err)
	}
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
				return fmt.Errorf("gemini: setup: %w: %w", s2s.ErrAuthentication, err)
			}
			if ctx.Err() != nil {
				return fmt.Errorf("gemini: setup: %w: no setupComplete: %w", s2s.ErrNetwork, ctx.Err())
			}
			return fmt.Errorf("gemini: setup: %w: %w", s2s.ErrNetwork, err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return msg.Error.classify()
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func buildSetup(model string, cfg s2s.SessionConfig) setupMessage {
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
					},
				},
			},
			SystemInstruction: &systemInstruction{
				Parts: []part{{Text: cfg.SystemInstruction()}},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}

	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		msg.Setup.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}
	return msg
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// emit hands ev to the consumer. It returns false once the session is closing.
func (s *session) emit(ev s2s.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns events: it closes the channel when it exits.
func (s *session) receiveLoop() {
	defer close(s.readerDone)
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			s.fail(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if !s.handleServerMessage(&msg) {
			return
		}
	}
}

// fail moves the session to the error state and reports err on the stream.
func (s *session) fail(err error) {
	s.setState(s2s.StateError)
	s.corr.Reset()
	kind := s2s.ErrNetwork
	if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
		kind = s2s.ErrAuthentication
	}
	s.emit(s2s.Event{Kind: s2s.EventError, Err: fmt.Errorf("gemini: connection lost: %w: %w", kind, err)})
}

func (s *session) handleServerMessage(msg *serverMessage) bool {
	if msg.Error != nil {
		if !s.emit(s2s.Event{Kind: s2s.EventError, Err: msg.Error.classify()}) {
			return false
		}
	}
	if msg.ToolCallCancellation != nil {
		s.corr.Cancel(msg.ToolCallCancellation.IDs...)
	}
	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			args := fc.Args
			if len(args) == 0 || string(args) == "null" {
				args = json.RawMessage("{}")
			}
			inv := s2s.ToolInvocation{Name: fc.Name, Arguments: args, CorrelationID: fc.ID}
			s.corr.Track(inv)
			if !s.emit(s2s.Event{Kind: s2s.EventToolCall, ToolCall: inv}) {
				return false
			}
		}
	}
	if msg.ServerContent != nil {
		return s.handleServerContent(msg.ServerContent)
	}
	return true
}

func (s *session) handleServerContent(sc *serverContent) bool {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil || len(pcm) == 0 {
				continue
			}
			ev := s2s.Event{Kind: s2s.EventAudio, Audio: audio.Chunk{Samples: audio.BytesToPCM16(pcm)}}
			if !s.emit(ev) {
				return false
			}
		}
	}

	if !s.transcribe(&s.userText, s2s.SpeakerUser, sc.InputTranscription) {
		return false
	}
	if !s.transcribe(&s.assistantText, s2s.SpeakerAssistant, sc.OutputTranscription) {
		return false
	}

	if sc.Interrupted || sc.TurnComplete {
		if !s.flushTranscripts() {
			return false
		}
		kind := s2s.EventTurnComplete
		if sc.Interrupted {
			kind = s2s.EventInterrupted
		}
		if !s.emit(s2s.Event{Kind: kind}) {
			return false
		}
		// The consumer has seen the boundary; calls of the old turn are stale.
		s.corr.EndTurn()
	}
	return true
}

// transcribe accumulates a transcription fragment and emits the running text
// as a partial, or as a final when the service marks it finished.
func (s *session) transcribe(buf *strings.Builder, who s2s.Speaker, t *transcription) bool {
	if t == nil || (t.Text == "" && !t.Finished) {
		return true
	}
	buf.WriteString(t.Text)
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return true
	}
	if t.Finished {
		buf.Reset()
	}
	return s.emit(s2s.Event{Kind: s2s.EventTranscript, Transcript: s2s.Transcript{
		Source: who, Text: text, IsFinal: t.Finished,
	}})
}

// flushTranscripts emits final transcripts for any text still accumulating.
func (s *session) flushTranscripts() bool {
	for _, acc := range []struct {
		buf *strings.Builder
		who s2s.Speaker
	}{{&s.userText, s2s.SpeakerUser}, {&s.assistantText, s2s.SpeakerAssistant}} {
		text := strings.TrimSpace(acc.buf.String())
		acc.buf.Reset()
		if text == "" {
			continue
		}
		if !s.emit(s2s.Event{Kind: s2s.EventTranscript, Transcript: s2s.Transcript{
			Source: acc.who, Text: text, IsFinal: true,
		}}) {
			return false
		}
	}
	return true
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == s2s.StateOpen
}

// ── Session methods ────────────────────────────────────────────────────────────

// SendAudio delivers one 16 kHz mono frame to the model.
func (s *session) SendAudio(frame audio.Frame) error {
	if !s.isOpen() {
		return s2s.ErrSessionClosed
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{
				MIMEType: inputMIMEType,
				Data:     base64.StdEncoding.EncodeToString(audio.PCM16ToBytes(frame.Samples)),
			}},
		},
	}
	// Write failures surface on the event stream via the receive loop.
	if err := s.writeJSON(s.ctx, msg); err != nil {
		return s2s.ErrSessionClosed
	}
	return nil
}

// SendText submits text as a complete user turn.
func (s *session) SendText(ctx context.Context, text string) error {
	if !s.isOpen() {
		return s2s.ErrSessionClosed
	}
	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns:        []contentTurn{{Role: "user", Parts: []part{{Text: text}}}},
			TurnComplete: true,
		},
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("gemini: send text: %w: %w", s2s.ErrNetwork, err)
	}
	return nil
}

// SendToolResult answers a pending function call.
func (s *session) SendToolResult(ctx context.Context, r s2s.ToolResult) error {
	if !s.isOpen() {
		return s2s.ErrSessionClosed
	}
	name, err := s.corr.Resolve(r.CorrelationID)
	if err != nil {
		return err
	}
	if r.Name != "" {
		name = r.Name
	}
	key := "output"
	if r.IsError {
		key = "error"
	}
	msg := toolResponseMessage{
		ToolResponse: toolResponse{
			FunctionResponses: []functionResponse{{
				ID:       r.CorrelationID,
				Name:     name,
				Response: map[string]any{key: r.Output},
			}},
		},
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("gemini: send tool result: %w: %w", s2s.ErrNetwork, err)
	}
	return nil
}

// DroppedToolCalls returns how many function calls went unanswered.
func (s *session) DroppedToolCalls() int { return s.corr.Dropped() }

// Events returns the inbound event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// State returns the transport lifecycle state.
func (s *session) State() s2s.TransportState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.state == s2s.StateOpen {
		s.state = s2s.StateClosing
	}
	s.mu.Unlock()

	s.corr.Reset()
	s.cancel() // unblocks receiveLoop, keepaliveLoop and any pending emit
	_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")

	select {
	case <-s.readerDone:
	case <-time.After(closeTimeout):
		s.conn.CloseNow()
	}
	s.setState(s2s.StateClosed)
	return nil
}
