// Package mock provides a test double for the llm.Provider interface.
//
// Responses are returned in order, one per Complete call, which makes it easy
// to script a tool loop: first a response carrying tool calls, then a plain
// text answer.
//
//	p := &mock.Provider{Responses: []*llm.CompletionResponse{
//	    {ToolCalls: []types.ToolCall{{ID: "1", Name: "list_job_applications", Arguments: "{}"}}},
//	    {Content: "You have two applications."},
//	}}
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/jobvoice/pkg/provider/llm"
	"github.com/MrWong99/jobvoice/pkg/types"
)

// ErrExhausted is returned when Complete is called more times than there are
// scripted responses.
var ErrExhausted = errors.New("mock: no scripted responses left")

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses are returned in order by successive Complete calls.
	Responses []*llm.CompletionResponse

	// Err, if non-nil, is returned by every Complete call.
	Err error

	// Window is returned by ContextWindow.
	Window int

	// Calls records every CompletionRequest in order.
	Calls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Snapshot messages so later appends by the caller do not alter the record.
	req.Messages = append([]types.Message(nil), req.Messages...)
	p.Calls = append(p.Calls, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Err != nil {
		return nil, p.Err
	}
	idx := len(p.Calls) - 1
	if idx >= len(p.Responses) {
		return nil, ErrExhausted
	}
	return p.Responses[idx], nil
}

// ContextWindow implements llm.Provider.
func (p *Provider) ContextWindow() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Window
}

// CallCount returns the number of Complete calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
