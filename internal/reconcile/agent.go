package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/jobvoice/internal/observe"
	"github.com/MrWong99/jobvoice/internal/tools"
	"github.com/MrWong99/jobvoice/pkg/provider/llm"
	"github.com/MrWong99/jobvoice/pkg/types"
)

// ErrTooManyRounds is returned when the model keeps requesting tools past
// the configured round limit.
var ErrTooManyRounds = errors.New("reconcile: model did not finish within the tool round limit")

const defaultMaxRounds = 6

// Turn is the outcome of one [Agent] conversation.
type Turn struct {
	// Reply is the model's final text.
	Reply string

	// Tools lists the tools invoked, in call order.
	Tools []string

	// Mutations counts the calls that modified the tracker. Failed calls and
	// lookups that found nothing are not counted.
	Mutations int
}

// Changed reports whether the tracker was modified.
func (t Turn) Changed() bool { return t.Mutations > 0 }

// Agent drives a text model through the tracker tools until it answers
// without requesting any.
type Agent struct {
	llm        llm.Provider
	dispatcher *tools.Dispatcher
	maxRounds  int
}

// AgentOption configures an [Agent].
type AgentOption func(*Agent)

// WithMaxRounds bounds the number of completions per conversation.
func WithMaxRounds(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

// NewAgent returns an Agent using p for completions and d for tool calls.
func NewAgent(p llm.Provider, d *tools.Dispatcher, opts ...AgentOption) *Agent {
	a := &Agent{llm: p, dispatcher: d, maxRounds: defaultMaxRounds}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run answers userText under the system instruction and returns only the
// final reply.
func (a *Agent) Run(ctx context.Context, system, userText string) (string, error) {
	turn, err := a.Converse(ctx, system, userText)
	return turn.Reply, err
}

// Converse is [Agent.Run] that also reports which tools were invoked.
func (a *Agent) Converse(ctx context.Context, system, userText string) (Turn, error) {
	var turn Turn
	msgs := []types.Message{{Role: "user", Content: userText}}
	defs := a.dispatcher.Definitions()
	log := observe.Logger(ctx)

	for round := 0; round < a.maxRounds; round++ {
		resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: system,
			Messages:     msgs,
			Tools:        defs,
		})
		if err != nil {
			return turn, fmt.Errorf("reconcile: completion: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			turn.Reply = resp.Content
			return turn, nil
		}

		msgs = append(msgs, types.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			res := a.dispatcher.Dispatch(ctx, call.Name, json.RawMessage(call.Arguments))
			turn.Tools = append(turn.Tools, call.Name)
			if res.Changed {
				turn.Mutations++
			}
			log.Debug("reconcile: tool call", "tool", call.Name, "id", call.ID,
				slog.Bool("is_error", res.IsError), slog.Bool("changed", res.Changed))
			msgs = append(msgs, types.Message{Role: "tool", Content: res.Output, ToolCallID: call.ID})
		}
		if err := ctx.Err(); err != nil {
			return turn, err
		}
	}
	return turn, ErrTooManyRounds
}
