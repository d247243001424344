package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/jobvoice/internal/app"
	"github.com/MrWong99/jobvoice/internal/config"
	"github.com/MrWong99/jobvoice/pkg/provider/llm"
	"github.com/MrWong99/jobvoice/pkg/provider/llm/anyllm"
	"github.com/MrWong99/jobvoice/pkg/provider/llm/openai"
	"github.com/MrWong99/jobvoice/pkg/provider/s2s"
	"github.com/MrWong99/jobvoice/pkg/provider/s2s/gemini"
)

// newRegistry returns a registry with every built-in provider factory.
func newRegistry() *config.Registry {
	reg := config.NewRegistry()

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	// Every any-llm-go backend takes an optional API key and base URL.
	for _, providerName := range anyllm.Names() {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// openai-direct talks to any OpenAI-compatible endpoint without the
	// any-llm-go indirection.
	reg.RegisterLLM("openai-direct", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	slog.Debug("registered providers", "live", []string{"gemini-live"}, "llm", reg.LLMNames())
	return reg
}

// buildProviders instantiates every provider named in cfg. Text models that
// fail to build are skipped with a warning so one bad fallback entry does not
// keep the voice assistant from starting.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	live, err := reg.CreateLive(cfg.Providers.Live)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Providers.Live.Name, err)
	}
	ps.Live = live
	slog.Info("provider created", "kind", "live", "name", cfg.Providers.Live.Name)

	entries := append([]config.ProviderEntry{cfg.Providers.LLM}, cfg.Providers.LLMFallbacks...)
	seen := make(map[string]int)
	for _, entry := range entries {
		if entry.Name == "" {
			continue
		}
		// Breakers are keyed by name, so repeats get a position suffix.
		name := entry.Name
		if seen[name]++; seen[name] > 1 {
			name = fmt.Sprintf("%s-%d", entry.Name, seen[entry.Name])
		}
		p, err := reg.CreateLLM(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("unknown text model provider; skipping", "name", entry.Name)
			continue
		case err != nil:
			slog.Warn("text model unavailable; skipping", "name", entry.Name, "err", err)
			continue
		}
		p = llm.WithContextWindow(p, entry.ContextWindow)
		ps.LLMs = append(ps.LLMs, app.NamedLLM{Name: name, Provider: p})
		slog.Info("provider created", "kind", "llm", "name", name, "model", entry.Model, "context_window", p.ContextWindow())
	}
	return ps, nil
}
