// Package llm defines the text model contract jobvoice uses outside the live
// voice session: reading recruiting emails during batch reconciliation and
// answering typed commands when no voice session is open. Both flows run the
// tool dispatcher in a loop, so tool calling is the essential capability.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/jobvoice/pkg/types"
)

// Usage is the token accounting of one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is one round of the tool loop. Messages must not be empty.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages when set.
	SystemPrompt string

	Messages []types.Message

	// Tools are offered to the model as callable functions.
	Tools []types.ToolDefinition

	// Temperature in [0, 2]; zero keeps the backend default.
	Temperature float64

	// MaxTokens caps the reply; zero keeps the backend default.
	MaxTokens int
}

// CompletionResponse is the model's reply. Content is empty when the model
// only asked for tools.
type CompletionResponse struct {
	Content   string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// Provider is a text model backend.
type Provider interface {
	// Complete sends req and waits for the full reply. It returns promptly
	// once ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ContextWindow reports the model's input plus output token budget, or 0
	// when unknown.
	ContextWindow() int
}
