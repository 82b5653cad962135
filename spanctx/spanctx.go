// Package spanctx defines the span context carried through the probe, its W3C propagation
// string, identifier generation and the tracking of active spans per foreign context.
package spanctx

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HeaderKey is the propagation header name.
	HeaderKey = "traceparent"
	// KeyLength is len(HeaderKey).
	KeyLength = len(HeaderKey)
	// ValueLength is the fixed length of a rendered propagation string.
	ValueLength = 55
)

// ErrInvalid is returned for span contexts that cannot be rendered or parsed.
var ErrInvalid = errors.New("invalid span context")

// SpanContext identifies one unit of traced work. The layout matches the span context block of
// an emitted event, padding included.
type SpanContext struct {
	TraceID    trace.TraceID
	SpanID     trace.SpanID
	TraceFlags trace.TraceFlags
	_          [7]byte
}

// IsValid reports whether both identifiers are set. A zero parent means "root".
func (sc SpanContext) IsValid() bool {
	return sc.TraceID.IsValid() && sc.SpanID.IsValid()
}

// Otel converts sc to an OpenTelemetry span context.
func (sc SpanContext) Otel(remote bool) trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    sc.TraceID,
		SpanID:     sc.SpanID,
		TraceFlags: sc.TraceFlags,
		Remote:     remote,
	})
}

// FromOtel converts an OpenTelemetry span context.
func FromOtel(osc trace.SpanContext) SpanContext {
	return SpanContext{TraceID: osc.TraceID(), SpanID: osc.SpanID(), TraceFlags: osc.TraceFlags()}
}

// Traceparent renders sc as a W3C traceparent value, always ValueLength bytes long.
func (sc SpanContext) Traceparent() (value string, fault error) {
	if !sc.IsValid() {
		return "", ErrInvalid
	}

	carrier := propagation.MapCarrier{}
	ctx := trace.ContextWithSpanContext(context.Background(), sc.Otel(false))
	propagation.TraceContext{}.Inject(ctx, carrier)

	v := carrier.Get(HeaderKey)
	if len(v) != ValueLength {
		return "", fmt.Errorf("%w: rendered %q", ErrInvalid, v)
	}

	return v, nil
}

// Parse reads a W3C traceparent value.
func Parse(value string) (sc SpanContext, fault error) {
	carrier := propagation.MapCarrier{HeaderKey: value}
	ctx := propagation.TraceContext{}.Extract(context.Background(), carrier)

	osc := trace.SpanContextFromContext(ctx)
	if !osc.IsValid() {
		return SpanContext{}, fmt.Errorf("%w: %q", ErrInvalid, value)
	}

	return FromOtel(osc), nil
}

// Generator produces fresh identifiers.
type Generator interface {
	NewTraceID() trace.TraceID
	NewSpanID() trace.SpanID
}

// RandomGenerator draws identifiers from crypto/rand.
type RandomGenerator struct{}

// NewTraceID implements Generator.
func (RandomGenerator) NewTraceID() trace.TraceID {
	var id trace.TraceID
	fill(id[:])
	return id
}

// NewSpanID implements Generator.
func (RandomGenerator) NewSpanID() trace.SpanID {
	var id trace.SpanID
	fill(id[:])
	return id
}

func fill(b []byte) {
	_, _ = rand.Read(b)
	for _, c := range b {
		if c != 0 {
			return
		}
	}
	// all-zero ids are invalid
	b[len(b)-1] = 1
}

// NewRoot starts a new trace.
func NewRoot(gen Generator) SpanContext {
	return SpanContext{
		TraceID:    gen.NewTraceID(),
		SpanID:     gen.NewSpanID(),
		TraceFlags: trace.FlagsSampled,
	}
}

// NewChild continues parent's trace with a new span id.
func NewChild(parent SpanContext, gen Generator) SpanContext {
	return SpanContext{
		TraceID:    parent.TraceID,
		SpanID:     gen.NewSpanID(),
		TraceFlags: parent.TraceFlags,
	}
}
