// Package export turns emitted call records into OpenTelemetry spans and feeds them, and any
// other sink, from the event channel.
package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/cirruscomms/autoprobe"
	"github.com/cirruscomms/autoprobe/events"
	"github.com/cirruscomms/autoprobe/spanctx"
)

// InstrumentationName names the tracer exported spans belong to.
const InstrumentationName = "github.com/cirruscomms/autoprobe/httpclient"

// Settings configure a Controller.
type Settings struct {
	ServiceName string
	InstanceID  uuid.UUID
	Exporter    sdktrace.SpanExporter
	// Clock maps record timestamps to wall time; it must be the clock the probe stamped with.
	Clock events.Clock
	// Synchronous exports each span before Consume returns, for tests and short-lived runs.
	Synchronous bool
}

// Controller creates a span for every record it consumes.
type Controller struct {
	o        *autoprobe.Observer
	clock    events.Clock
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	once     sync.Once
}

// NewController builds the tracer provider spans are created with.
func NewController(ctx context.Context, o *autoprobe.Observer, settings Settings) (controller *Controller, fault error) {
	if settings.Exporter == nil {
		return nil, errors.New("controller needs a span exporter")
	}

	if settings.Clock == nil {
		return nil, errors.New("controller needs the probe clock")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(settings.ServiceName),
			semconv.ServiceInstanceID(settings.InstanceID.String()),
			semconv.TelemetrySDKLanguageGo,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create resource: %w", err)
	}

	var sp sdktrace.SpanProcessor
	if settings.Synchronous {
		sp = sdktrace.NewSimpleSpanProcessor(settings.Exporter)
	} else {
		sp = sdktrace.NewBatchSpanProcessor(settings.Exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sp),
		sdktrace.WithIDGenerator(recordIDGenerator{fallback: spanctx.RandomGenerator{}}),
	)

	return &Controller{
		o:        o.With(autoprobe.FieldSink, "otel"),
		clock:    settings.Clock,
		provider: tp,
		tracer:   tp.Tracer(InstrumentationName),
	}, nil
}

// Consume implements Sink.
func (c *Controller) Consume(_ context.Context, rec *events.Record) (fault error) {
	if !rec.SpanContext.IsValid() {
		return fmt.Errorf("record without span context: %w", spanctx.ErrInvalid)
	}

	ctx := context.Background()
	if rec.HasParent() {
		ctx = trace.ContextWithSpanContext(ctx, rec.ParentSpanContext.Otel(false))
	}
	ctx = contextWithRecord(ctx, rec)

	method := events.Text(rec.Method[:])

	_, span := c.tracer.Start(ctx, "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(Attributes(rec)...),
		trace.WithTimestamp(c.clock.Wall(rec.StartTime)),
	)

	if rec.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", rec.StatusCode))
	}

	span.End(trace.WithTimestamp(c.clock.Wall(rec.EndTime)))

	c.o.Develop("exported span",
		autoprobe.FieldTraceID, rec.SpanContext.TraceID.String(),
		autoprobe.FieldSpanID, rec.SpanContext.SpanID.String(),
	)

	return nil
}

// Attributes describes a record with semantic convention attributes. Values that can carry
// credentials are redacted.
func Attributes(rec *events.Record) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(events.Text(rec.Method[:])),
	}

	optional := []struct {
		value string
		attr  func(string) attribute.KeyValue
	}{
		{events.Text(rec.Path[:]), semconv.URLPath},
		{events.Text(rec.Scheme[:]), semconv.URLScheme},
		{events.Text(rec.Host[:]), semconv.ServerAddress},
		{strings.TrimPrefix(events.Text(rec.Proto[:]), "HTTP/"), semconv.NetworkProtocolVersion},
		{autoprobe.RedactQuery(events.Text(rec.RawQuery[:])), semconv.URLQuery},
		{events.Text(rec.Fragment[:]), semconv.URLFragment},
		{autoprobe.RedactSecret(events.Text(rec.Username[:]), 1), attribute.Key("url.user").String},
	}

	for _, a := range optional {
		if a.value != "" {
			attrs = append(attrs, a.attr(a.value))
		}
	}

	if rec.StatusCode != 0 {
		attrs = append(attrs, semconv.HTTPResponseStatusCode(int(rec.StatusCode)))
	}

	return attrs
}

// Shutdown flushes pending spans and stops the provider.
func (c *Controller) Shutdown(ctx context.Context) (fault error) {
	var err error
	c.once.Do(func() {
		err = c.provider.Shutdown(ctx)
	})

	if err != nil {
		return fmt.Errorf("could not shut down tracer provider: %w", err)
	}

	return nil
}
