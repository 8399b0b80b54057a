package trace

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes every finished span to a logger at debug level. It is meant for
// local development.
type LogExporter struct {
	mu       sync.Mutex
	shutdown bool
	logger   golog.Logger
}

// NewLogExporter returns an exporter logging to the given logger.
func NewLogExporter(logger golog.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

// ExportSpans implements [sdktrace.SpanExporter].
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		return nil
	}
	for _, sd := range spans {
		fields := []interface{}{
			"duration", sd.EndTime().Sub(sd.StartTime()),
			"trace_id", sd.SpanContext().TraceID().String(),
			"status", sd.Status().Code.String(),
		}
		if sd.Parent().IsValid() {
			fields = append(fields, "parent_id", sd.Parent().SpanID().String())
		}
		for _, a := range sd.Attributes() {
			fields = append(fields, string(a.Key), a.Value.Emit())
		}
		e.logger.Debugw(sd.Name(), fields...)
	}
	return nil
}

// Shutdown implements [sdktrace.SpanExporter].
func (e *LogExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shutdown = true
	e.mu.Unlock()
	return nil
}
