// Package agent assembles the probe, its event pipeline and its metrics from a configuration.
// Attaching the hooks to the target is left to the caller, which drives Probe and Maps.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/cirruscomms/autoprobe"
	"github.com/cirruscomms/autoprobe/db"
	"github.com/cirruscomms/autoprobe/events"
	"github.com/cirruscomms/autoprobe/export"
	"github.com/cirruscomms/autoprobe/foreign"
	"github.com/cirruscomms/autoprobe/gomap"
	"github.com/cirruscomms/autoprobe/httpclient"
	"github.com/cirruscomms/autoprobe/inject"
	"github.com/cirruscomms/autoprobe/offsets"
)

// Agent owns everything between the hooks and the exported spans.
type Agent struct {
	// Probe receives the roundTrip and writeSubset hook invocations.
	Probe *httpclient.Probe
	// Maps fabricates traceparent entries in foreign header maps.
	Maps *inject.MapInjector

	o          *autoprobe.Observer
	cfg        autoprobe.Configurator
	registry   *prometheus.Registry
	channel    *events.Channel
	controller *export.Controller
	store      *db.CallStore
	sinks      []export.Sink
}

type options struct {
	clock       events.Clock
	exporter    sdktrace.SpanExporter
	synchronous bool
	sinks       []export.Sink
}

// Option customises an Agent.
type Option func(*options)

// WithClock sets the clock records are stamped with. The default is the boot clock on linux.
func WithClock(c events.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithExporter exports spans through e instead of the OTLP exporter for OTEL_URL.
func WithExporter(e sdktrace.SpanExporter, synchronous bool) Option {
	return func(o *options) {
		o.exporter = e
		o.synchronous = synchronous
	}
}

// WithSink adds a consumer of every record.
func WithSink(s export.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// New builds an agent working on mem. ctxWithObserver must carry an observer.
func New(ctxWithObserver context.Context, cfg autoprobe.Configurator, mem foreign.Memory, opts ...Option) (agent *Agent, fault error) {
	_, o, err := autoprobe.Get(ctxWithObserver)
	if err != nil {
		return nil, fmt.Errorf("could not get autoprobe observer from context: %w", err)
	}

	opt := options{}
	for _, fn := range opts {
		fn(&opt)
	}

	if opt.clock == nil {
		if opt.clock, err = defaultClock(); err != nil {
			return nil, err
		}
	}

	off, err := loadOffsets(cfg.OffsetsFile(), cfg.TargetRuntimeVersion())
	if err != nil {
		return nil, err
	}

	registerABI, err := resolveRegisterABI(cfg.RegisterABI(), cfg.TargetRuntimeVersion())
	if err != nil {
		return nil, err
	}

	a := &Agent{
		o:        o.With(autoprobe.FieldPID, cfg.TargetPID()),
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		channel:  events.NewChannel(cfg.EventBufferSize()),
	}

	var probe *httpclient.Probe
	metrics, err := httpclient.NewMetrics(a.registry, func() float64 { return float64(probe.InFlight()) })
	if err != nil {
		return nil, err
	}

	probe, err = httpclient.New(mem, a.o, httpclient.Settings{
		Offsets:          off,
		RegisterABI:      registerABI,
		PropagateHeaders: cfg.PropagateHeaders(),
		ExecutionUnits:   cfg.ExecutionUnits(),
	}, a.channel, httpclient.WithClock(opt.clock), httpclient.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("could not create probe: %w", err)
	}
	a.Probe = probe

	start, size := cfg.AllocRegion()
	if start != 0 {
		region := foreign.NewRegion(mem, start, size)
		a.Maps = inject.NewMapInjector(mem, region, gomap.BucketV1, off.MapBuckets, cfg.ExecutionUnits())
	}

	if err := a.setupExport(ctxWithObserver, opt); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL() != "" {
		if err := db.RunMigrations(ctxWithObserver, a.o, cfg, -1); err != nil {
			return nil, fmt.Errorf("could not migrate call store: %w", err)
		}

		if a.store, err = db.NewCallStore(ctxWithObserver, cfg.DatabaseURL(), opt.clock); err != nil {
			return nil, err
		}
		a.sinks = append(a.sinks, a.store)
	}

	a.sinks = append(a.sinks, opt.sinks...)

	a.o.Info("agent ready",
		autoprobe.FieldRuntime, cfg.TargetRuntimeVersion(),
		"register_abi", registerABI,
		"propagate_headers", cfg.PropagateHeaders(),
		"sinks", len(a.sinks),
	)

	return a, nil
}

func (a *Agent) setupExport(ctx context.Context, opt options) error {
	exporter := opt.exporter
	if exporter == nil {
		if a.cfg.OtelURL() == "" {
			a.o.Notice("OTEL_URL not set, spans are not exported")
			return nil
		}

		var err error
		if exporter, err = export.NewOTLPExporter(ctx, a.cfg.OtelURL()); err != nil {
			return err
		}
	}

	metered, err := export.NewMeteredExporter(exporter, a.o, a.registry)
	if err != nil {
		return err
	}

	a.controller, err = export.NewController(ctx, a.o, export.Settings{
		ServiceName: a.cfg.ServiceName(),
		InstanceID:  a.o.InstanceID(),
		Exporter:    metered,
		Clock:       opt.clock,
		Synchronous: opt.synchronous,
	})
	if err != nil {
		return fmt.Errorf("could not create export controller: %w", err)
	}

	a.sinks = append(a.sinks, a.controller)

	return nil
}

func loadOffsets(path, runtimeVersion string) (*offsets.Offsets, error) {
	if path == "" {
		return nil, errors.New("OFFSETS_FILE is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open offsets file: %w", err)
	}
	defer f.Close()

	table, err := offsets.Load(f)
	if err != nil {
		return nil, err
	}

	return table.Resolve(runtimeVersion)
}

func resolveRegisterABI(mode autoprobe.RegisterABIMode, runtimeVersion string) (bool, error) {
	switch mode {
	case autoprobe.RegisterABIOn:
		return true, nil
	case autoprobe.RegisterABIOff:
		return false, nil
	default:
		return offsets.RegisterABI(runtimeVersion)
	}
}

// Registry is where the agent's collectors are registered.
func (a *Agent) Registry() *prometheus.Registry {
	return a.registry
}

// Channel is the channel the probe emits to.
func (a *Agent) Channel() *events.Channel {
	return a.channel
}

// Close stops accepting events. Run returns once the buffered ones are consumed.
func (a *Agent) Close() {
	a.channel.Close()
}

// Run serves metrics and feeds records to the sinks until ctx is done or the agent is closed,
// then flushes and releases the sinks.
func (a *Agent) Run(ctxWithObserver context.Context) (fault error) {
	server, err := autoprobe.NewMetricsServer(ctxWithObserver, a.cfg.MetricsAddress(), a.registry)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", server.Addr, err)
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.o.Error("metrics server stopped", err, autoprobe.SeverityHigh)
		}
	}()

	a.o.Info("serving metrics", "address", ln.Addr().String(), "path", autoprobe.MetricsPath)

	runErr := export.Run(ctxWithObserver, a.o, a.channel, a.sinks...)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctxWithObserver), 10*time.Second)
	defer cancel()

	errs := []error{runErr}
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("could not shut down metrics server: %w", err))
	}

	if a.controller != nil {
		errs = append(errs, a.controller.Shutdown(shutdownCtx))
	}

	if a.store != nil {
		a.store.Close()
	}

	return errors.Join(errs...)
}
