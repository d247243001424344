// Package uiapi serves the HTTP surface the browser UI talks to: session
// control, the typed text override, the application list and a WebSocket
// event stream carrying state, transcript and amplitude updates.
//
// Handler returns a self-contained [http.Handler]; mount it at the server
// root. Every route lives under /api/.
package uiapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/jobvoice/internal/assistant"
	"github.com/MrWong99/jobvoice/internal/job"
	"github.com/MrWong99/jobvoice/internal/observe"
)

const (
	defaultAmplitudeInterval = 50 * time.Millisecond
	writeTimeout             = 5 * time.Second
	maxBodyBytes             = 64 << 10
)

// Controller is the slice of [assistant.Controller] the API drives.
type Controller interface {
	State() assistant.State
	LastError() error
	Transcript() []assistant.TranscriptEntry
	Amplitude() []float64
	Subscribe() (<-chan assistant.Update, func())
	StartSession(ctx context.Context) error
	StopSession(ctx context.Context) error
	SendTextOverride(ctx context.Context, msg string) error
}

var _ Controller = (*assistant.Controller)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithAmplitudeInterval sets how often amplitude frames are pushed to event
// subscribers while the assistant is speaking.
func WithAmplitudeInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.amplitudeEvery = d
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket clients whose host matches
// one of the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// Server implements the UI API on top of a controller and a job store.
type Server struct {
	ctrl           Controller
	store          job.Store
	amplitudeEvery time.Duration
	originPatterns []string
}

// New creates a Server.
func New(ctrl Controller, store job.Store, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, store: store, amplitudeEvery: defaultAmplitudeInterval}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns an [http.Handler] serving every /api/ route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("POST /api/session/text", s.handleText)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	mux.HandleFunc("GET /api/amplitude", s.handleAmplitude)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /api/applications", s.handleList)
	mux.HandleFunc("POST /api/applications", s.handleCreate)
	mux.HandleFunc("GET /api/applications/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/applications/{id}", s.handleReplace)
	mux.HandleFunc("PATCH /api/applications/{id}", s.handlePatch)
	mux.HandleFunc("DELETE /api/applications/{id}", s.handleDelete)
	return mux
}

// ── Wire types ────────────────────────────────────────────────────────────────

// StateResponse is the body of GET /api/state and the session endpoints.
type StateResponse struct {
	State assistant.State `json:"state"`
	Error string          `json:"error,omitempty"`
}

// TextRequest is the body of POST /api/session/text.
type TextRequest struct {
	Text string `json:"text"`
}

// AmplitudeResponse carries the current visualisation spectrum.
type AmplitudeResponse struct {
	Bins []float64 `json:"bins"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Frame is one message on the /api/events WebSocket.
type Frame struct {
	Type       string                     `json:"type"`
	State      assistant.State            `json:"state,omitempty"`
	Error      string                     `json:"error,omitempty"`
	Transcript *assistant.TranscriptEntry `json:"transcript,omitempty"`
	Bins       []float64                  `json:"bins,omitempty"`
}

// Frame types.
const (
	FrameState      = "state"
	FrameTranscript = "transcript"
	FrameAmplitude  = "amplitude"
)

// ── Session ───────────────────────────────────────────────────────────────────

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.StartSession(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.stateResponse())
	case errors.Is(err, assistant.ErrSessionActive):
		writeError(w, http.StatusConflict, "A session is already running.")
	case errors.Is(err, assistant.ErrStoppedWhileConnecting):
		writeError(w, http.StatusConflict, "The session was stopped while connecting.")
	default:
		observe.Logger(r.Context()).Warn("uiapi: start session failed", "err", err)
		writeError(w, http.StatusBadGateway, assistant.UserMessage(err))
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StopSession(r.Context()); err != nil {
		observe.Logger(r.Context()).Warn("uiapi: stop session", "err", err)
	}
	writeJSON(w, http.StatusOK, s.stateResponse())
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.ctrl.SendTextOverride(r.Context(), req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.stateResponse())
	case errors.Is(err, assistant.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "Type a message first.")
	case errors.Is(err, assistant.ErrNoSession):
		writeError(w, http.StatusConflict, "Start a session to send messages.")
	default:
		observe.Logger(r.Context()).Warn("uiapi: text override failed", "err", err)
		writeError(w, http.StatusBadGateway, "The message could not be delivered: "+err.Error())
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stateResponse())
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	entries := s.ctrl.Transcript()
	if entries == nil {
		entries = []assistant.TranscriptEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAmplitude(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, AmplitudeResponse{Bins: s.ctrl.Amplitude()})
}

func (s *Server) stateResponse() StateResponse {
	return StateResponse{State: s.ctrl.State(), Error: assistant.UserMessage(s.ctrl.LastError())}
}

// ── Events ────────────────────────────────────────────────────────────────────

// handleEvents upgrades to a WebSocket and streams [Frame]s until the client
// goes away. The first frame is always the current state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		observe.Logger(r.Context()).Debug("uiapi: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	updates, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	// Client frames are ignored; CloseRead cancels ctx when the peer closes.
	ctx := conn.CloseRead(r.Context())

	state := s.ctrl.State()
	if err := s.push(ctx, conn, stateFrame(state, s.ctrl.LastError())); err != nil {
		return
	}

	ticker := time.NewTicker(s.amplitudeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case u, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			var f Frame
			switch u.Kind {
			case assistant.UpdateState:
				state = u.State
				f = Frame{Type: FrameState, State: u.State, Error: u.Error}
			case assistant.UpdateTranscript:
				f = Frame{Type: FrameTranscript, Transcript: u.Transcript}
			default:
				continue
			}
			if err := s.push(ctx, conn, f); err != nil {
				return
			}
		case <-ticker.C:
			if state != assistant.StateSpeaking {
				continue
			}
			if err := s.push(ctx, conn, Frame{Type: FrameAmplitude, Bins: s.ctrl.Amplitude()}); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn, f Frame) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, f); err != nil {
		observe.Logger(ctx).Debug("uiapi: websocket write", "err", err)
		return err
	}
	return nil
}

func stateFrame(state assistant.State, err error) Frame {
	return Frame{Type: FrameState, State: state, Error: assistant.UserMessage(err)}
}

// ── Applications ──────────────────────────────────────────────────────────────

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	apps, err := s.store.List(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if apps == nil {
		apps = []job.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	app, ok, err := s.find(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "No application with that ID.")
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var app job.Application
	if !decodeBody(w, r, &app) {
		return
	}
	app.ID = ""
	saved, _, err := s.store.Save(r.Context(), app)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var app job.Application
	if !decodeBody(w, r, &app) {
		return
	}
	if _, ok, err := s.find(r.Context(), id); err != nil {
		s.storeError(w, r, err)
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, "No application with that ID.")
		return
	}
	app.ID = id
	saved, _, err := s.store.Save(r.Context(), app)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	var p job.Patch
	if !decodeBody(w, r, &p) {
		return
	}
	app, err := s.store.Update(r.Context(), r.PathValue("id"), p)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	removed, err := s.store.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "No application with that ID.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) find(ctx context.Context, id string) (job.Application, bool, error) {
	apps, err := s.store.List(ctx)
	if err != nil {
		return job.Application{}, false, err
	}
	for _, a := range apps {
		if a.ID == id {
			return a, true, nil
		}
	}
	return job.Application{}, false, nil
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, job.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, "No application with that ID.")
	default:
		observe.Logger(r.Context()).Error("uiapi: store", "err", err)
		writeError(w, http.StatusInternalServerError, "The tracker could not be read or written.")
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
