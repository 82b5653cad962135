package export

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/cirruscomms/autoprobe/events"
	"github.com/cirruscomms/autoprobe/spanctx"
)

type recordKey struct{}

func contextWithRecord(ctx context.Context, rec *events.Record) context.Context {
	return context.WithValue(ctx, recordKey{}, rec)
}

func recordFromContext(ctx context.Context) (*events.Record, bool) {
	rec, ok := ctx.Value(recordKey{}).(*events.Record)
	return rec, ok && rec.SpanContext.IsValid()
}

// recordIDGenerator hands the SDK the ids chosen inside the target, so exported spans match
// the traceparent headers that were injected. Spans started without a record get random ids.
type recordIDGenerator struct {
	fallback spanctx.Generator
}

// NewIDs implements sdktrace.IDGenerator.
func (g recordIDGenerator) NewIDs(ctx context.Context) (trace.TraceID, trace.SpanID) {
	if rec, ok := recordFromContext(ctx); ok {
		return rec.SpanContext.TraceID, rec.SpanContext.SpanID
	}

	return g.fallback.NewTraceID(), g.fallback.NewSpanID()
}

// NewSpanID implements sdktrace.IDGenerator.
func (g recordIDGenerator) NewSpanID(ctx context.Context, _ trace.TraceID) trace.SpanID {
	if rec, ok := recordFromContext(ctx); ok {
		return rec.SpanContext.SpanID
	}

	return g.fallback.NewSpanID()
}
