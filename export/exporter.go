package export

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/cirruscomms/autoprobe"
)

// NewOTLPExporter returns an OTLP/HTTP exporter sending to endpointURL, e.g.
// "http://collector:4318".
func NewOTLPExporter(ctx context.Context, endpointURL string) (exporter sdktrace.SpanExporter, fault error) {
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(endpointURL),
		otlptracehttp.WithTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create OTLP exporter for %s: %w", endpointURL, err)
	}

	return exp, nil
}

// MeteredExporter counts and logs the batches passing through a SpanExporter.
type MeteredExporter struct {
	sdktrace.SpanExporter
	o        *autoprobe.Observer
	spans    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMeteredExporter wraps next and registers its collectors with reg.
func NewMeteredExporter(next sdktrace.SpanExporter, o *autoprobe.Observer, reg prometheus.Registerer) (exporter *MeteredExporter, fault error) {
	m := &MeteredExporter{
		SpanExporter: next,
		o:            o,
		spans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoprobe",
			Subsystem: "export",
			Name:      "spans_total",
			Help:      "Spans handed to the exporter, by result",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autoprobe",
			Subsystem: "export",
			Name:      "batch_duration_seconds",
			Help:      "Time taken to export one batch of spans",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.spans, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("could not register export metrics: %w", err)
		}
	}

	return m, nil
}

// ExportSpans implements sdktrace.SpanExporter.
func (m *MeteredExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	t0 := time.Now()

	err := m.SpanExporter.ExportSpans(ctx, spans)

	m.duration.Observe(time.Since(t0).Seconds())
	if err != nil {
		m.spans.WithLabelValues("failed").Add(float64(len(spans)))
		m.o.Error("could not export spans", err, autoprobe.SeverityMedium, autoprobe.FieldCallDuration, time.Since(t0))
		return err
	}

	m.spans.WithLabelValues("exported").Add(float64(len(spans)))

	return nil
}
