package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/MrWong99/jobvoice"

// Resource attribute keys describing how this instance is wired.
const (
	AttrLiveProvider = attribute.Key("jobvoice.live.provider")
	AttrAudioBackend = attribute.Key("jobvoice.audio.backend")
	AttrStoreBackend = attribute.Key("jobvoice.store.backend")
	AttrTextModels   = attribute.Key("jobvoice.text.models")
)

// Service describes the running instance in every exported metric and span.
type Service struct {
	Name    string // default "jobvoice"
	Version string

	LiveProvider string
	AudioBackend string
	StoreBackend string
	TextModels   []string
}

// Resource builds the OpenTelemetry resource for s. Empty fields are left out.
func (s Service) Resource() (*resource.Resource, error) {
	name := s.Name
	if name == "" {
		name = "jobvoice"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if s.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(s.Version))
	}
	for _, kv := range []struct {
		key attribute.Key
		val string
	}{
		{AttrLiveProvider, s.LiveProvider},
		{AttrAudioBackend, s.AudioBackend},
		{AttrStoreBackend, s.StoreBackend},
	} {
		if kv.val != "" {
			attrs = append(attrs, kv.key.String(kv.val))
		}
	}
	if len(s.TextModels) > 0 {
		attrs = append(attrs, AttrTextModels.StringSlice(s.TextModels))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// Telemetry owns the SDK providers registered as the OpenTelemetry globals.
type Telemetry struct {
	Meters  *sdkmetric.MeterProvider
	Tracers *sdktrace.TracerProvider
}

// Setup registers a meter provider that feeds the Prometheus registry behind
// /metrics and a tracer provider. Spans are sampled but only leave the
// process when exporter is non-nil. promOpts are passed to the Prometheus
// exporter.
func Setup(svc Service, exporter sdktrace.SpanExporter, promOpts ...promexporter.Option) (*Telemetry, error) {
	res, err := svc.Resource()
	if err != nil {
		return nil, err
	}
	prom, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, err
	}

	t := &Telemetry{
		Meters: sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(prom)),
	}
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	t.Tracers = sdktrace.NewTracerProvider(opts...)

	otel.SetMeterProvider(t.Meters)
	otel.SetTracerProvider(t.Tracers)
	return t, nil
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Tracers.Shutdown(ctx), t.Meters.Shutdown(ctx))
}

// ── Spans ────────────────────────────────────────────────────────────────────

// StartSpan starts a span on the global tracer provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, opts...)
}

// StartToolSpan starts the span around one tracker tool call.
func StartToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return StartSpan(ctx, "tools.dispatch", trace.WithAttributes(attribute.String("tool.name", tool)))
}

// StartReconcileSpan starts the span around one reconcile batch.
func StartReconcileSpan(ctx context.Context, emails int) (context.Context, trace.Span) {
	return StartSpan(ctx, "reconcile.batch", trace.WithAttributes(attribute.Int("reconcile.emails", emails)))
}

// StartSessionSpan starts the span around opening a live voice session.
func StartSessionSpan(ctx context.Context, voice string) (context.Context, trace.Span) {
	return StartSpan(ctx, "assistant.open_session",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("session.voice", voice)))
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger carrying trace_id and span_id when ctx
// holds a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
