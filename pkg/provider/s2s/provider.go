// Package s2s defines the Provider interface for speech-to-speech backends.
//
// An S2S provider wraps a real-time conversational AI service that accepts raw
// microphone audio and answers with synthesised speech, transcripts and tool
// calls over a single stateful session. Speech recognition and synthesis are
// entirely the service's job.
//
// The central abstraction is [Session]: outbound audio, text turns and tool
// results on one side, a single ordered [Event] stream on the other. Tool calls
// are correlated to the conversational turn that produced them; answering a
// call after its turn has moved on is rejected with a [*StaleCorrelationError].
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/jobvoice/pkg/audio"
	"github.com/MrWong99/jobvoice/pkg/types"
)

// ── Errors ─────────────────────────────────────────────────────────────────────

var (
	// ErrAuthentication means the credential is missing or was refused.
	ErrAuthentication = errors.New("s2s: authentication failed")

	// ErrConfiguration means the session options are malformed. It is always
	// reported before any connection attempt.
	ErrConfiguration = errors.New("s2s: invalid session configuration")

	// ErrNetwork means the service was unreachable, timed out or dropped the
	// connection.
	ErrNetwork = errors.New("s2s: network failure")

	// ErrSessionClosed is returned by send operations on a session that is not
	// open.
	ErrSessionClosed = errors.New("s2s: session closed")

	// ErrStaleCorrelation is matched by every [*StaleCorrelationError].
	ErrStaleCorrelation = errors.New("s2s: stale tool correlation")
)

// StaleCorrelationError reports a tool result that can no longer be attached
// to the turn that requested it.
type StaleCorrelationError struct {
	CorrelationID string
	Reason        string
}

func (e *StaleCorrelationError) Error() string {
	return fmt.Sprintf("s2s: stale tool result %q: %s", e.CorrelationID, e.Reason)
}

// Is makes errors.Is(err, ErrStaleCorrelation) succeed.
func (e *StaleCorrelationError) Is(target error) bool { return target == ErrStaleCorrelation }

// ── Transport lifecycle ────────────────────────────────────────────────────────

// TransportState is the connection lifecycle of a [Session].
type TransportState int

const (
	StateClosed TransportState = iota
	StateOpening
	StateOpen
	StateClosing
	StateError
)

func (s TransportState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("TransportState(%d)", int(s))
	}
}

// CanTransition reports whether the lifecycle permits moving from s to next.
func (s TransportState) CanTransition(next TransportState) bool {
	switch s {
	case StateClosed:
		return next == StateOpening
	case StateOpening:
		return next == StateOpen || next == StateError || next == StateClosed
	case StateOpen:
		return next == StateClosing || next == StateError
	case StateClosing, StateError:
		return next == StateClosed
	}
	return false
}

// ── Session configuration ──────────────────────────────────────────────────────

// ResponseStyle controls how verbose the assistant's spoken answers are.
type ResponseStyle string

const (
	StyleConcise  ResponseStyle = "concise"
	StyleNormal   ResponseStyle = "normal"
	StyleDetailed ResponseStyle = "detailed"
)

// ParseResponseStyle accepts a style name case-insensitively. Empty selects
// [StyleNormal].
func ParseResponseStyle(s string) (ResponseStyle, error) {
	switch ResponseStyle(strings.ToLower(strings.TrimSpace(s))) {
	case "", StyleNormal:
		return StyleNormal, nil
	case StyleConcise:
		return StyleConcise, nil
	case StyleDetailed:
		return StyleDetailed, nil
	}
	return "", fmt.Errorf("%w: unknown response style %q", ErrConfiguration, s)
}

func (r ResponseStyle) guidance() string {
	switch r {
	case StyleConcise:
		return "Keep every spoken answer to one or two short sentences."
	case StyleDetailed:
		return "Give thorough spoken answers and explain your reasoning when it helps."
	default:
		return "Answer in a natural conversational length."
	}
}

// SessionConfig is the negotiated configuration of a new session.
type SessionConfig struct {
	// Model overrides the provider's default model when set.
	Model string

	// Voice is the provider-specific prebuilt voice name. Empty selects the
	// provider default.
	Voice string

	// Persona is free-form instruction text describing the assistant.
	Persona string

	// Style is the response verbosity. Empty means [StyleNormal].
	Style ResponseStyle

	// Tools is the set of tools the model may invoke during the session.
	Tools []types.ToolDefinition
}

// Validate checks the provider-independent options. Every failure matches
// [ErrConfiguration].
func (c SessionConfig) Validate() error {
	var errs []error
	if _, err := ParseResponseStyle(string(c.Style)); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Tools))
	for i, t := range c.Tools {
		switch {
		case t.Name == "":
			errs = append(errs, fmt.Errorf("%w: tools[%d] has no name", ErrConfiguration, i))
		case seen[t.Name]:
			errs = append(errs, fmt.Errorf("%w: duplicate tool %q", ErrConfiguration, t.Name))
		}
		seen[t.Name] = true
	}
	return errors.Join(errs...)
}

// SystemInstruction renders the persona and response style into the single
// instruction text sent at session setup.
func (c SessionConfig) SystemInstruction() string {
	style, err := ParseResponseStyle(string(c.Style))
	if err != nil {
		style = StyleNormal
	}
	persona := strings.TrimSpace(c.Persona)
	if persona == "" {
		return style.guidance()
	}
	return persona + "\n\n" + style.guidance()
}

// ── Session payloads ───────────────────────────────────────────────────────────

// Speaker identifies who a transcript belongs to.
type Speaker int

const (
	SpeakerUser Speaker = iota
	SpeakerAssistant
)

func (s Speaker) String() string {
	if s == SpeakerAssistant {
		return "assistant"
	}
	return "user"
}

// MarshalText encodes the speaker as "user" or "assistant".
func (s Speaker) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Transcript is one recognised span of speech. Partial transcripts carry the
// text accumulated so far in the current turn; the final one carries it all.
type Transcript struct {
	Source  Speaker `json:"source"`
	Text    string  `json:"text"`
	IsFinal bool    `json:"isFinal"`
}

// ToolInvocation is a tool call requested by the model.
type ToolInvocation struct {
	Name          string
	Arguments     json.RawMessage
	CorrelationID string
}

// ToolResult answers exactly one [ToolInvocation].
type ToolResult struct {
	CorrelationID string
	Name          string
	Output        string
	IsError       bool
}

// EventKind discriminates [Event].
type EventKind int

const (
	EventAudio EventKind = iota
	EventTranscript
	EventToolCall
	EventTurnComplete
	EventInterrupted
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventTranscript:
		return "transcript"
	case EventToolCall:
		return "tool_call"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one inbound item of a session. Only the field matching Kind is set.
type Event struct {
	Kind       EventKind
	Audio      audio.Chunk
	Transcript Transcript
	ToolCall   ToolInvocation
	Err        error
}

// ── Interfaces ─────────────────────────────────────────────────────────────────

// Session is an open conversation with the service.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// SendAudio streams one captured frame. It blocks only on transport
	// backpressure and fails only with [ErrSessionClosed].
	SendAudio(frame audio.Frame) error

	// SendText submits a complete user turn as text.
	SendText(ctx context.Context, text string) error

	// SendToolResult answers a pending tool call. Results that cannot be
	// attached to their turn fail with [*StaleCorrelationError] and nothing is
	// sent.
	SendToolResult(ctx context.Context, result ToolResult) error

	// Events returns the ordered inbound stream. It is closed when the session
	// ends. A turn boundary (turn complete or interrupted) takes effect for
	// correlation once the consumer has received it.
	Events() <-chan Event

	// State returns the current transport lifecycle state.
	State() TransportState

	// Close ends the session within a bounded time, dropping pending tool
	// calls. Calling Close more than once is safe.
	Close() error
}

// DropCounter is implemented by sessions that count the tool calls they
// dropped unanswered, either at a turn boundary or on close.
type DropCounter interface {
	DroppedToolCalls() int
}

// Provider opens sessions against one conversational AI service.
type Provider interface {
	// Open dials the service and negotiates cfg. It returns once the service
	// has acknowledged the setup. Failures match [ErrConfiguration],
	// [ErrAuthentication] or [ErrNetwork].
	Open(ctx context.Context, cfg SessionConfig) (Session, error)
}
