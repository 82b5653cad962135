package httpclient

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes counted by Metrics.Calls.
const (
	OutcomeStarted          = "started"
	OutcomeCompleted        = "completed"
	OutcomeNoContext        = "no_context"
	OutcomeAlreadyTracked   = "already_tracked"
	OutcomeMethodUnreadable = "method_unreadable"
	OutcomeStoreFull        = "store_full"
	OutcomeNoScratch        = "no_scratch"
	OutcomeUnmatched        = "unmatched_return"
)

// Injection outcomes counted by Metrics.Injections.
const (
	InjectionWritten = "written"
	InjectionNoRoom  = "no_room"
	InjectionFailed  = "failed"
	InjectionNoCall  = "no_call"
)

// Metrics are the prometheus collectors of one Probe.
type Metrics struct {
	Calls      *prometheus.CounterVec
	Degraded   *prometheus.CounterVec
	Injections *prometheus.CounterVec
	Dropped    prometheus.Counter
	InFlight   prometheus.GaugeFunc
	Duration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. inFlight reports the number of
// tracked calls.
func NewMetrics(reg prometheus.Registerer, inFlight func() float64) (metrics *Metrics, fault error) {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoprobe",
			Subsystem: "http_client",
			Name:      "calls_total",
			Help:      "Outbound HTTP calls seen by the probe, by outcome",
		}, []string{"outcome"}),
		Degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoprobe",
			Subsystem: "http_client",
			Name:      "degraded_fields_total",
			Help:      "Optional request fields that could not be read",
		}, []string{"field"}),
		Injections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoprobe",
			Subsystem: "http_client",
			Name:      "header_injections_total",
			Help:      "Trace header injection attempts, by outcome",
		}, []string{"outcome"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autoprobe",
			Subsystem: "http_client",
			Name:      "dropped_events_total",
			Help:      "Completed calls whose event could not be emitted",
		}),
		InFlight: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "autoprobe",
			Subsystem: "http_client",
			Name:      "in_flight_calls",
			Help:      "Calls between entry and return",
		}, inFlight),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autoprobe",
			Subsystem: "http_client",
			Name:      "call_duration_seconds",
			Help:      "Duration of completed outbound calls",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.Calls, m.Degraded, m.Injections, m.Dropped, m.InFlight, m.Duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("could not register http client metrics: %w", err)
		}
	}

	return m, nil
}
