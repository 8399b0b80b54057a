// Package trace wraps an OpenTelemetry tracer provider that can be swapped at runtime.
// Until SetProvider is called every span is a noop.
package trace

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "go.viam.com/callsignal"

type globalTraceState struct {
	tracerProvider trace.TracerProvider
	exporter       *mutableBatcher
	tracer         trace.Tracer
}

var (
	globalTraceStateDataMu sync.Mutex
	globalTraceStateData   atomic.Pointer[globalTraceState]
)

func init() {
	globalTraceStateDataMu.Lock()
	defer globalTraceStateDataMu.Unlock()

	provider := noop.NewTracerProvider()
	globalTraceStateData.Store(&globalTraceState{
		tracerProvider: provider,
		exporter:       newMutableBatcher(),
		tracer:         provider.Tracer(tracerName),
	})
}

// SetProvider creates a new [sdktrace.TracerProvider] that batches spans to every exporter
// added with AddExporters. The previous provider is shut down.
func SetProvider(ctx context.Context, opts ...sdktrace.TracerProviderOption) error {
	globalTraceStateDataMu.Lock()
	defer globalTraceStateDataMu.Unlock()

	exporter := newMutableBatcher()
	opts = append(opts, sdktrace.WithBatcher(exporter))
	provider := sdktrace.NewTracerProvider(opts...)

	prev := globalTraceStateData.Swap(&globalTraceState{
		tracerProvider: provider,
		exporter:       exporter,
		tracer:         provider.Tracer(tracerName),
	})
	if prev != nil {
		if sdkProvider, ok := prev.tracerProvider.(*sdktrace.TracerProvider); ok {
			return sdkProvider.Shutdown(ctx)
		}
	}
	return nil
}

type mutableBatcher struct {
	mu       sync.Mutex
	children atomic.Pointer[[]sdktrace.SpanExporter]
}

func newMutableBatcher() *mutableBatcher {
	batcher := &mutableBatcher{}
	batcher.children.Store(&[]sdktrace.SpanExporter{})
	return batcher
}

// ExportSpans implements trace.SpanExporter.
func (m *mutableBatcher) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	var err error
	for _, c := range *m.children.Load() {
		err = errors.Join(err, c.ExportSpans(ctx, spans))
	}
	return err
}

func (m *mutableBatcher) addExporters(exporters ...sdktrace.SpanExporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	children := slices.Clone(*m.children.Load())
	for _, ex := range exporters {
		if slices.Contains(children, ex) {
			continue
		}
		children = append(children, ex)
	}
	m.children.Store(&children)
}

func (m *mutableBatcher) clearExporters() []sdktrace.SpanExporter {
	m.mu.Lock()
	defer m.mu.Unlock()
	emptyChildren := []sdktrace.SpanExporter{}
	return *m.children.Swap(&emptyChildren)
}

// Shutdown implements trace.SpanExporter.
func (m *mutableBatcher) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for _, c := range *m.children.Load() {
		err = errors.Join(err, c.Shutdown(ctx))
	}
	return err
}

// Span is a type alias to [trace.Span].
type Span = trace.Span

// AddExporters adds the provided exporters to the current provider.
func AddExporters(exporters ...sdktrace.SpanExporter) {
	globalTraceStateData.Load().exporter.addExporters(exporters...)
}

// ClearExporters removes every exporter previously added with AddExporters and returns
// them. It does not shut them down.
func ClearExporters() []sdktrace.SpanExporter {
	return globalTraceStateData.Load().exporter.clearExporters()
}

// Shutdown flushes and shuts down the current provider if one was set.
func Shutdown(ctx context.Context) error {
	if sdkProvider, ok := globalTraceStateData.Load().tracerProvider.(*sdktrace.TracerProvider); ok {
		return sdkProvider.Shutdown(ctx)
	}
	return nil
}

// ForceFlush exports every span that has ended but not yet been exported.
func ForceFlush(ctx context.Context) error {
	if sdkProvider, ok := globalTraceStateData.Load().tracerProvider.(*sdktrace.TracerProvider); ok {
		return sdkProvider.ForceFlush(ctx)
	}
	return nil
}

// StartSpan is a wrapper around [trace.Tracer.Start].
func StartSpan(ctx context.Context, name string, o ...trace.SpanStartOption) (context.Context, Span) {
	return globalTraceStateData.Load().tracer.Start(ctx, name, o...)
}

// FromContext is a wrapper around [trace.SpanFromContext].
func FromContext(ctx context.Context) Span {
	return trace.SpanFromContext(ctx)
}
