package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/jobvoice/pkg/audio"
	"github.com/MrWong99/jobvoice/pkg/provider/s2s"
	"github.com/MrWong99/jobvoice/pkg/provider/s2s/gemini"
	"github.com/MrWong99/jobvoice/pkg/types"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSetup consumes the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var setup map[string]any
	readJSON(t, conn, &setup)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
	return setup
}

// waitClosed blocks until the client goes away.
func waitClosed(conn *websocket.Conn) {
	<-conn.CloseRead(context.Background()).Done()
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server, opts ...gemini.Option) *gemini.Provider {
	return gemini.New("test-api-key", append([]gemini.Option{gemini.WithBaseURL(wsURL(srv))}, opts...)...)
}

// nextEvent receives one event or fails the test.
func nextEvent(t *testing.T, sess s2s.Session) s2s.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return s2s.Event{}
}

func pcmBase64(samples ...int16) string {
	return base64.StdEncoding.EncodeToString(audio.PCM16ToBytes(samples))
}

// ── Open ──────────────────────────────────────────────────────────────────────

func TestOpen_SetupMessage(t *testing.T) {
	t.Parallel()

	setupCh := make(chan map[string]any, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "test-api-key" {
			t.Errorf("key = %q", got)
		}
		setupCh <- acceptSetup(t, conn)
		waitClosed(conn)
	})

	p := newProvider(srv, gemini.WithModel("custom-model"))
	sess, err := p.Open(context.Background(), s2s.SessionConfig{
		Voice:   "Kore",
		Persona: "You are a friendly career assistant.",
		Style:   s2s.StyleDetailed,
		Tools: []types.ToolDefinition{{
			Name:        "update_job_status",
			Description: "Update status",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status": map[string]any{"type": "string", "enum": []string{"Applied", "Offer"}},
				},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	if sess.State() != s2s.StateOpen {
		t.Errorf("State = %s, want open", sess.State())
	}

	setup := (<-setupCh)["setup"].(map[string]any)
	if setup["model"] != "models/custom-model" {
		t.Errorf("model = %v", setup["model"])
	}
	gen := setup["generationConfig"].(map[string]any)
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)["voiceName"]
	if voice != "Kore" {
		t.Errorf("voiceName = %v", voice)
	}
	instr := setup["systemInstruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.HasPrefix(instr, "You are a friendly career assistant.") {
		t.Errorf("systemInstruction = %q", instr)
	}
	if _, ok := setup["inputAudioTranscription"]; !ok {
		t.Error("inputAudioTranscription not requested")
	}
	if _, ok := setup["outputAudioTranscription"]; !ok {
		t.Error("outputAudioTranscription not requested")
	}
	decls := setup["tools"].([]any)[0].(map[string]any)["functionDeclarations"].([]any)
	if len(decls) != 1 || decls[0].(map[string]any)["name"] != "update_job_status" {
		t.Errorf("functionDeclarations = %v", decls)
	}
}

func TestOpen_DefaultVoice(t *testing.T) {
	t.Parallel()

	voiceCh := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				GenerationConfig struct {
					SpeechConfig struct {
						VoiceConfig struct {
							PrebuiltVoiceConfig struct {
								VoiceName string `json:"voiceName"`
							} `json:"prebuiltVoiceConfig"`
						} `json:"voiceConfig"`
					} `json:"speechConfig"`
				} `json:"generationConfig"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		voiceCh <- msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		waitClosed(conn)
	})

	sess, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()
	if v := <-voiceCh; v != "Puck" {
		t.Errorf("voiceName = %q, want Puck", v)
	}
}

func TestOpen_ConfigurationErrorsBeforeDial(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		dials.Add(1)
		acceptSetup(t, conn)
		waitClosed(conn)
	})

	tests := []struct {
		name string
		p    *gemini.Provider
		cfg  s2s.SessionConfig
	}{
		{"unknown voice", newProvider(srv), s2s.SessionConfig{Voice: "Bob"}},
		{"bad style", newProvider(srv), s2s.SessionConfig{Style: "chatty"}},
		{"duplicate tool", newProvider(srv), s2s.SessionConfig{Tools: []types.ToolDefinition{{Name: "a"}, {Name: "a"}}}},
		{"empty model", newProvider(srv, gemini.WithModel("")), s2s.SessionConfig{}},
	}
	for _, tt := range tests {
		_, err := tt.p.Open(context.Background(), tt.cfg)
		if !errors.Is(err, s2s.ErrConfiguration) {
			t.Errorf("%s: err = %v, want ErrConfiguration", tt.name, err)
		}
	}
	if n := dials.Load(); n != 0 {
		t.Errorf("server was dialled %d times", n)
	}
}

func TestOpen_MissingAPIKey(t *testing.T) {
	t.Parallel()

	_, err := gemini.New("").Open(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, s2s.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
}

func TestOpen_UnauthorizedUpgrade(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "API key not valid", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, s2s.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
}

func TestOpen_PolicyViolationDuringSetup(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		conn.Close(websocket.StatusPolicyViolation, "API key not valid")
	})

	_, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, s2s.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
}

func TestOpen_SetupTimeout(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		waitClosed(conn) // never acknowledge
	})

	start := time.Now()
	_, err := newProvider(srv, gemini.WithSetupTimeout(100*time.Millisecond)).Open(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, s2s.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Open took %v", time.Since(start))
	}
}

func TestOpen_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := gemini.New("k", gemini.WithBaseURL(url)).Open(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, s2s.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}

func TestOpen_ServerErrorDuringSetup(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{"error": map[string]any{
			"code": 400, "message": "invalid model", "status": "INVALID_ARGUMENT",
		}})
		waitClosed(conn)
	})

	_, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, s2s.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

// ── Outbound ──────────────────────────────────────────────────────────────────

func TestSendAudio_RealtimeInput(t *testing.T) {
	t.Parallel()

	type mediaMsg struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}
	got := make(chan mediaMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var m mediaMsg
		readJSON(t, conn, &m)
		got <- m
		waitClosed(conn)
	})

	sess, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio(audio.Frame{Samples: []int16{1, -2, 3}}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	m := <-got
	if len(m.RealtimeInput.MediaChunks) != 1 {
		t.Fatalf("chunks = %+v", m.RealtimeInput.MediaChunks)
	}
	c := m.RealtimeInput.MediaChunks[0]
	if c.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("mimeType = %q", c.MIMEType)
	}
	if c.Data != pcmBase64(1, -2, 3) {
		t.Errorf("data = %q", c.Data)
	}
}

func TestSendText_ClientContent(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var m map[string]any
		readJSON(t, conn, &m)
		got <- m
		waitClosed(conn)
	})

	sess, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	if err := sess.SendText(context.Background(), "List my applications"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	cc := (<-got)["clientContent"].(map[string]any)
	if cc["turnComplete"] != true {
		t.Error("turnComplete not set")
	}
	turn := cc["turns"].([]any)[0].(map[string]any)
	if turn["role"] != "user" {
		t.Errorf("role = %v", turn["role"])
	}
	if txt := turn["parts"].([]any)[0].(map[string]any)["text"]; txt != "List my applications" {
		t.Errorf("text = %v", txt)
	}
}

// ── Inbound ───────────────────────────────────────────────────────────────────

func TestEvents_AudioTranscriptsTurn(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "add "},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "Acme"},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{map[string]any{
				"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": pcmBase64(5, 6)},
			}}},
			"outputTranscription": map[string]any{"text": "Done."},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		waitClosed(conn)
	})

	sess, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	ev := nextEvent(t, sess)
	if ev.Kind != s2s.EventTranscript || ev.Transcript.Text != "add" || ev.Transcript.IsFinal {
		t.Fatalf("event 1 = %+v", ev)
	}
	ev = nextEvent(t, sess)
	if ev.Transcript.Text != "add Acme" || ev.Transcript.Source != s2s.SpeakerUser {
		t.Fatalf("event 2 = %+v", ev)
	}
	ev = nextEvent(t, sess)
	if ev.Kind != s2s.EventAudio || len(ev.Audio.Samples) != 2 || ev.Audio.Samples[1] != 6 {
		t.Fatalf("event 3 = %+v", ev)
	}
	ev = nextEvent(t, sess)
	if ev.Kind != s2s.EventTranscript || ev.Transcript.Source != s2s.SpeakerAssistant || ev.Transcript.IsFinal {
		t.Fatalf("event 4 = %+v", ev)
	}

	// Turn completion finalises both speakers before the boundary event.
	ev = nextEvent(t, sess)
	if ev.Kind != s2s.EventTranscript || !ev.Transcript.IsFinal || ev.Transcript.Text != "add Acme" {
		t.Fatalf("event 5 = %+v", ev)
	}
	ev = nextEvent(t, sess)
	if !ev.Transcript.IsFinal || ev.Transcript.Text != "Done." {
		t.Fatalf("event 6 = %+v", ev)
	}
	if ev = nextEvent(t, sess); ev.Kind != s2s.EventTurnComplete {
		t.Fatalf("event 7 = %s, want turn_complete", ev.Kind)
	}
}

func TestEvents_Interrupted(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		waitClosed(conn)
	})

	sess, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	if ev := nextEvent(t, sess); ev.Kind != s2s.EventInterrupted {
		t.Fatalf("event = %s, want interrupted", ev.Kind)
	}
}

// ── Tool calls ────────────────────────────────────────────────────────────────

func TestToolCall_ResultRoundTrip(t *testing.T) {
	t.Parallel()

	type respMsg struct {
		ToolResponse struct {
			FunctionResponses []struct {
				ID       string         `json:"id"`
				Name     string         `json:"name"`
				Response map[string]any `json:"response"`
			} `json:"functionResponses"`
		} `json:"toolResponse"`
	}
	got := make(chan respMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"toolCall": map[string]any{"functionCalls": []any{
			map[string]any{"id": "call-1", "name": "list_job_applications"},
		}}})
		var m respMsg
		readJSON(t, conn, &m)
		got <- m
		waitClosed(conn)
	})

	sess, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	ev := nextEvent(t, sess)
	if ev.Kind != s2s.EventToolCall {
		t.Fatalf("event = %s, want tool_call", ev.Kind)
	}
	if ev.ToolCall.CorrelationID != "call-1" || string(ev.ToolCall.Arguments) != "{}" {
		t.Fatalf("ToolCall = %+v", ev.ToolCall)
	}

	err = sess.SendToolResult(context.Background(), s2s.ToolResult{
		CorrelationID: "call-1",
		Output:        "You don't have any job applications in your tracker yet.",
	})
	if err != nil {
		t.Fatalf("SendToolResult: %v", err)
	}
	m := <-got
	fr := m.ToolResponse.FunctionResponses
	if len(fr) != 1 || fr[0].ID != "call-1" || fr[0].Name != "list_job_applications" {
		t.Fatalf("functionResponses = %+v", fr)
	}
	if fr[0].Response["output"] != "You don't have any job applications in your tracker yet." {
		t.Errorf("response = %v", fr[0].Response)
	}

	// A second answer is stale and nothing is written.
	err = sess.SendToolResult(context.Background(), s2s.ToolResult{CorrelationID: "call-1", Output: "again"})
	if !errors.Is(err, s2s.ErrStaleCorrelation) {
		t.Fatalf("duplicate result err = %v, want stale", err)
	}
}

func TestToolCall_StaleAfterTurnAndCancellation(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"toolCall": map[string]any{"functionCalls": []any{
			map[string]any{"id": "a", "name": "list_job_applications", "args": map[string]any{}},
			map[string]any{"id": "b", "name": "list_job_applications", "args": map[string]any{}},
		}}})
		writeJSON(t, conn, map[string]any{"toolCallCancellation": map[string]any{"ids": []string{"b"}}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "Anything else?"},
		}})
		waitClosed(conn)
	})

	sess, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	nextEvent(t, sess) // a
	nextEvent(t, sess) // b

	// Out of order: b before a.
	err = sess.SendToolResult(context.Background(), s2s.ToolResult{CorrelationID: "b"})
	if !errors.Is(err, s2s.ErrStaleCorrelation) {
		t.Fatalf("out-of-order err = %v, want stale", err)
	}

	if ev := nextEvent(t, sess); ev.Kind != s2s.EventTurnComplete {
		t.Fatalf("event = %s, want turn_complete", ev.Kind)
	}
	// Receiving the next event guarantees the boundary has been applied.
	if ev := nextEvent(t, sess); ev.Kind != s2s.EventTranscript {
		t.Fatalf("event = %s, want transcript", ev.Kind)
	}
	err = sess.SendToolResult(context.Background(), s2s.ToolResult{CorrelationID: "a"})
	var stale *s2s.StaleCorrelationError
	if !errors.As(err, &stale) || stale.Reason != "turn has ended" {
		t.Fatalf("late result err = %v, want turn has ended", err)
	}
	err = sess.SendToolResult(context.Background(), s2s.ToolResult{CorrelationID: "b"})
	if !errors.Is(err, s2s.ErrStaleCorrelation) {
		t.Fatalf("cancelled result err = %v, want stale", err)
	}
}

// ── Close & failure ───────────────────────────────────────────────────────────

func TestClose_PendingToolCallBounded(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"toolCall": map[string]any{"functionCalls": []any{
			map[string]any{"id": "x", "name": "save_job_application", "args": map[string]any{"company": "Acme"}},
		}}})
		waitClosed(conn)
	})

	sess, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ev := nextEvent(t, sess); ev.Kind != s2s.EventToolCall {
		t.Fatalf("event = %s", ev.Kind)
	}

	start := time.Now()
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if d := time.Since(start); d > 4*time.Second {
		t.Errorf("Close took %v", d)
	}
	if sess.State() != s2s.StateClosed {
		t.Errorf("State = %s, want closed", sess.State())
	}
	if _, ok := <-sess.Events(); ok {
		t.Error("event stream still open after Close")
	}
	if err := sess.SendToolResult(context.Background(), s2s.ToolResult{CorrelationID: "x"}); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Errorf("SendToolResult after close = %v", err)
	}
	if err := sess.SendAudio(audio.Frame{}); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Errorf("SendAudio after close = %v", err)
	}
}

func TestConnectionLoss(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusInternalError, "boom")
	})

	sess, err := newProvider(srv).Open(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	ev := nextEvent(t, sess)
	if ev.Kind != s2s.EventError || !errors.Is(ev.Err, s2s.ErrNetwork) {
		t.Fatalf("event = %+v, want network error", ev)
	}
	if _, ok := <-sess.Events(); ok {
		t.Error("event stream still open after connection loss")
	}
	if sess.State() != s2s.StateError {
		t.Errorf("State = %s, want error", sess.State())
	}
}

func TestValidVoice(t *testing.T) {
	t.Parallel()
	for _, v := range gemini.Voices {
		if !gemini.ValidVoice(v) {
			t.Errorf("ValidVoice(%q) = false", v)
		}
	}
	if gemini.ValidVoice("puck") {
		t.Error("voice names are case-sensitive")
	}
}
