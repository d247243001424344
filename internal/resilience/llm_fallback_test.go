package resilience

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/jobvoice/internal/observe"
	"github.com/MrWong99/jobvoice/pkg/provider/llm"
	llmmock "github.com/MrWong99/jobvoice/pkg/provider/llm/mock"
)

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func TestLLMFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	primary := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: "from primary"}}}
	secondary := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: "from secondary"}}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{}, m)
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from primary" {
		t.Fatalf("content = %q", resp.Content)
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestLLMFallback_FailoverRecordsMetrics(t *testing.T) {
	t.Parallel()
	m, reader := testMetrics(t)
	primary := &llmmock.Provider{Err: errors.New("primary down")}
	secondary := &llmmock.Provider{Responses: []*llm.CompletionResponse{{Content: "from secondary"}}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{}, m)
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Fatalf("content = %q", resp.Content)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	errorsByProvider := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "jobvoice.provider.errors" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				p, _ := dp.Attributes.Value("provider")
				errorsByProvider[p.AsString()] += dp.Value
			}
		}
	}
	if errorsByProvider["primary"] != 1 || errorsByProvider["secondary"] != 0 {
		t.Errorf("provider errors = %v, want primary=1", errorsByProvider)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	fb := NewLLMFallback(&llmmock.Provider{Err: errTest}, "primary", FallbackConfig{}, m)
	fb.AddFallback("secondary", &llmmock.Provider{Err: errTest})

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_ContextWindow(t *testing.T) {
	t.Parallel()
	m, _ := testMetrics(t)
	fb := NewLLMFallback(&llmmock.Provider{Window: 128_000}, "primary", FallbackConfig{}, m)
	fb.AddFallback("unknown", &llmmock.Provider{})
	fb.AddFallback("local", &llmmock.Provider{Window: 8_192})

	if got := fb.ContextWindow(); got != 8_192 {
		t.Errorf("ContextWindow = %d, want the smallest known window 8192", got)
	}
	if got := NewLLMFallback(&llmmock.Provider{}, "p", FallbackConfig{}, m).ContextWindow(); got != 0 {
		t.Errorf("ContextWindow with no known window = %d, want 0", got)
	}
}
