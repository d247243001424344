package assistant

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	t.Parallel()

	steps := []struct {
		event Event
		want  State
	}{
		{EventStart, StateConnecting},
		{EventTransportOpen, StateListening},
		{EventTurnBegin, StateThinking},
		{EventAssistantAudio, StateSpeaking},
		{EventTurnComplete, StateListening},
		{EventAssistantAudio, StateSpeaking},
		{EventUserSpeech, StateListening},
		{EventStop, StateIdle},
	}

	s := StateIdle
	for _, step := range steps {
		next, err := Transition(s, step.event)
		require.NoError(t, err, "%s --(%s)", s, step.event)
		require.Equal(t, step.want, next, "%s --(%s)", s, step.event)
		s = next
	}
}

func TestTransitionFailureFromAnyStateGoesError(t *testing.T) {
	t.Parallel()
	for _, state := range States {
		next, err := Transition(state, EventFailure)
		require.NoError(t, err)
		require.Equal(t, StateError, next)
	}
}

func TestTransitionStopFromAnyStateGoesIdle(t *testing.T) {
	t.Parallel()
	for _, state := range States {
		next, err := Transition(state, EventStop)
		require.NoError(t, err)
		require.Equal(t, StateIdle, next)
	}
}

func TestTransitionErrorIsStickyUntilRetry(t *testing.T) {
	t.Parallel()
	for _, ev := range []Event{EventStart, EventTransportOpen, EventTurnBegin, EventAssistantAudio, EventTurnComplete, EventUserSpeech} {
		next, err := Transition(StateError, ev)
		require.Error(t, err)
		require.Equal(t, StateError, next)
	}

	next, err := Transition(StateError, EventRetry)
	require.NoError(t, err)
	require.Equal(t, StateConnecting, next)
}

func TestTransitionMatrix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		state   State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "idle retry invalid", state: StateIdle, event: EventRetry, want: StateIdle, wantErr: true},
		{name: "idle audio invalid", state: StateIdle, event: EventAssistantAudio, want: StateIdle, wantErr: true},
		{name: "connecting start invalid", state: StateConnecting, event: EventStart, want: StateConnecting, wantErr: true},
		{name: "connecting turn invalid", state: StateConnecting, event: EventTurnBegin, want: StateConnecting, wantErr: true},
		{name: "listening start invalid", state: StateListening, event: EventStart, want: StateListening, wantErr: true},
		{name: "listening audio speaks", state: StateListening, event: EventAssistantAudio, want: StateSpeaking},
		{name: "listening tool-only turn completes", state: StateListening, event: EventTurnComplete, want: StateListening},
		{name: "listening user speech stays", state: StateListening, event: EventUserSpeech, want: StateListening},
		{name: "thinking repeated turn begin", state: StateThinking, event: EventTurnBegin, want: StateThinking},
		{name: "thinking interrupted listens", state: StateThinking, event: EventInterrupted, want: StateListening},
		{name: "thinking retry invalid", state: StateThinking, event: EventRetry, want: StateThinking, wantErr: true},
		{name: "speaking repeated audio", state: StateSpeaking, event: EventAssistantAudio, want: StateSpeaking},
		{name: "speaking interrupted listens", state: StateSpeaking, event: EventInterrupted, want: StateListening},
		{name: "speaking transport open invalid", state: StateSpeaking, event: EventTransportOpen, want: StateSpeaking, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid transition")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	t.Parallel()
	next, err := Transition(State("bogus"), EventStart)
	require.Error(t, err)
	require.Equal(t, State("bogus"), next)
}
