package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/jobvoice/internal/observe"
	"github.com/MrWong99/jobvoice/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across several text model
// backends. Every attempt is counted and timed per backend.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] preferring primary. A nil metrics
// selects [observe.DefaultMetrics].
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *LLMFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &LLMFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: metrics,
	}
}

// AddFallback registers another backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.AddFallback(name, p) }

// Group exposes the underlying group, e.g. for health reporting.
func (f *LLMFallback) Group() *FallbackGroup[llm.Provider] { return f.group }

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, name string, p llm.Provider) (*llm.CompletionResponse, error) {
		start := time.Now()
		resp, err := p.Complete(ctx, req)
		f.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("provider", name)))
		status := "ok"
		if err != nil {
			status = "error"
			f.metrics.RecordProviderError(ctx, name, "llm")
		}
		f.metrics.RecordProviderRequest(ctx, name, "llm", status)
		return resp, err
	})
}

// ContextWindow reports the smallest known window across the backends, since
// any of them may end up serving a request. It is 0 when none is known.
func (f *LLMFallback) ContextWindow() int {
	smallest := 0
	for _, p := range f.group.Values() {
		if w := p.ContextWindow(); w > 0 && (smallest == 0 || w < smallest) {
			smallest = w
		}
	}
	return smallest
}
