// Package assistant owns the voice session: the assistant state machine, the
// [Controller] that drives it from transport and microphone events, and the
// transcript and update stream the UI observes.
//
// [Transition] is a pure function. The Controller is the only code that
// applies it, so the current [State] always follows from the most recent
// validated event.
package assistant

import "fmt"

// State is the user-visible assistant state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateThinking   State = "thinking"
	StateSpeaking   State = "speaking"
	StateError      State = "error"
)

// Event drives a [Transition].
type Event string

const (
	EventStart          Event = "start"
	EventTransportOpen  Event = "transport_open"
	EventTurnBegin      Event = "turn_begin"
	EventAssistantAudio Event = "assistant_audio"
	EventTurnComplete   Event = "turn_complete"
	EventInterrupted    Event = "interrupted"
	EventUserSpeech     Event = "user_speech"
	EventFailure        Event = "failure"
	EventRetry          Event = "retry"
	EventStop           Event = "stop"
)

// States lists every state.
var States = []State{StateIdle, StateConnecting, StateListening, StateThinking, StateSpeaking, StateError}

// Transition returns the state that follows current on event. An event the
// current state does not accept yields current unchanged and an error.
func Transition(current State, event Event) (State, error) {
	switch event {
	case EventFailure:
		return StateError, nil
	case EventStop:
		return StateIdle, nil
	}

	switch current {
	case StateIdle:
		if event == EventStart {
			return StateConnecting, nil
		}
	case StateConnecting:
		if event == EventTransportOpen {
			return StateListening, nil
		}
	case StateListening:
		switch event {
		case EventTurnBegin:
			return StateThinking, nil
		case EventAssistantAudio:
			return StateSpeaking, nil
		case EventTurnComplete, EventInterrupted, EventUserSpeech:
			return StateListening, nil
		}
	case StateThinking:
		switch event {
		case EventAssistantAudio:
			return StateSpeaking, nil
		case EventTurnComplete, EventInterrupted:
			return StateListening, nil
		case EventTurnBegin, EventUserSpeech:
			return StateThinking, nil
		}
	case StateSpeaking:
		switch event {
		case EventTurnComplete, EventInterrupted, EventUserSpeech:
			return StateListening, nil
		case EventAssistantAudio, EventTurnBegin:
			return StateSpeaking, nil
		}
	case StateError:
		if event == EventRetry {
			return StateConnecting, nil
		}
	default:
		return current, fmt.Errorf("assistant: unknown state %q", current)
	}
	return current, invalidTransition(current, event)
}

// Active reports whether s belongs to an open session.
func (s State) Active() bool {
	switch s {
	case StateListening, StateThinking, StateSpeaking:
		return true
	}
	return false
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("assistant: invalid transition: %s --(%s)--> ?", state, event)
}
