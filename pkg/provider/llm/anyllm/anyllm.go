// Package anyllm is the default text model backend, built on
// github.com/mozilla-ai/any-llm-go so reconciliation and the typed-command
// fallback can run against OpenAI, Anthropic, Gemini, Ollama and others.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/jobvoice/pkg/provider/llm"
	"github.com/MrWong99/jobvoice/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// ErrNoChoices is returned when the backend answers without a choice.
var ErrNoChoices = errors.New("anyllm: response has no choices")

type backendFactory func(...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps the configurable provider names to their constructors. An
// unset API key makes the backend read its usual environment variable, for
// example OPENAI_API_KEY.
var backends = map[string]struct {
	create backendFactory
	local  bool
}{
	"openai":    {create: wrap(anyllmoai.New)},
	"anthropic": {create: wrap(anthropic.New)},
	"gemini":    {create: wrap(gemini.New)},
	"deepseek":  {create: wrap(deepseek.New)},
	"mistral":   {create: wrap(mistral.New)},
	"groq":      {create: wrap(groq.New)},
	"ollama":    {create: wrap(ollama.New), local: true},
	"llamacpp":  {create: wrap(llamacpp.New), local: true},
	"llamafile": {create: wrap(llamafile.New), local: true},
}

func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) backendFactory {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return fn(opts...) }
}

// Names returns the supported provider names, sorted.
func Names() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Provider serves one model through one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
	window  int
}

// New builds the named backend for model. opts are passed to any-llm-go, for
// example anyllmlib.WithAPIKey or anyllmlib.WithBaseURL.
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	b, ok := backends[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q (want one of %s)", providerName, strings.Join(Names(), ", "))
	}
	backend, err := b.create(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", providerName, err)
	}
	window := llm.KnownContextWindow(model)
	if b.local {
		window = llm.LocalContextWindow(model)
	}
	return &Provider{backend: backend, model: model, window: window}, nil
}

// ContextWindow implements llm.Provider.
func (p *Provider) ContextWindow() int { return p.window }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{Content: msg.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out, nil
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{Model: p.model}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, toMessage(m))
	}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type:     "function",
			Function: anyllmlib.Function{Name: td.Name, Description: td.Description, Parameters: td.Parameters},
		})
	}
	return params
}

func toMessage(m types.Message) anyllmlib.Message {
	msg := anyllmlib.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: anyllmlib.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	return msg
}
