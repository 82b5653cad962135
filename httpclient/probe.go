// Package httpclient instruments outbound HTTP calls of a monitored process: the entry and
// return of net/http.(*Transport).roundTrip and the serialisation of request headers.
package httpclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/cirruscomms/autoprobe"
	"github.com/cirruscomms/autoprobe/correlation"
	"github.com/cirruscomms/autoprobe/events"
	"github.com/cirruscomms/autoprobe/extract"
	"github.com/cirruscomms/autoprobe/foreign"
	"github.com/cirruscomms/autoprobe/inject"
	"github.com/cirruscomms/autoprobe/offsets"
	"github.com/cirruscomms/autoprobe/scratch"
	"github.com/cirruscomms/autoprobe/spanctx"
)

// MaxConcurrent bounds the calls tracked between entry and return, and the header bindings.
const MaxConcurrent = 50

// Emitter publishes completed records.
type Emitter interface {
	Emit(r *events.Record) error
}

// Settings configure a Probe.
type Settings struct {
	Offsets          *offsets.Offsets
	RegisterABI      bool
	PropagateHeaders bool
	ExecutionUnits   int
}

// Probe holds the state shared by the hooks. Hook methods never block, never return errors to
// the caller and never panic on foreign memory faults; every failure is logged and counted.
type Probe struct {
	mem      foreign.Memory
	o        *autoprobe.Observer
	settings Settings
	emitter  Emitter
	clock    events.Clock
	gen      spanctx.Generator
	metrics  *Metrics

	records  *correlation.Store[events.Record]
	bindings *correlation.Bindings
	tracker  *spanctx.Tracker
	scratch  *scratch.Slots[events.Record]
}

// Option customises a Probe.
type Option func(*Probe)

// WithClock replaces the monotonic clock used for start and end times.
func WithClock(c events.Clock) Option {
	return func(p *Probe) { p.clock = c }
}

// WithGenerator replaces the random trace and span id generator.
func WithGenerator(g spanctx.Generator) Option {
	return func(p *Probe) { p.gen = g }
}

// WithMetrics makes the probe count outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(p *Probe) { p.metrics = m }
}

// New returns a probe reading and writing mem and publishing to emitter.
func New(mem foreign.Memory, o *autoprobe.Observer, settings Settings, emitter Emitter, opts ...Option) (probe *Probe, fault error) {
	if settings.Offsets == nil {
		return nil, errors.New("probe needs offsets")
	}

	if settings.ExecutionUnits < 1 {
		return nil, fmt.Errorf("probe needs at least one execution unit, got %d", settings.ExecutionUnits)
	}

	p := &Probe{
		mem:      mem,
		o:        o.With(autoprobe.FieldHook, "net/http.client"),
		settings: settings,
		emitter:  emitter,
		clock:    events.NewMonotonicClock(),
		gen:      spanctx.RandomGenerator{},
		records:  correlation.NewStore[events.Record](MaxConcurrent),
		bindings: correlation.NewBindings(MaxConcurrent),
		tracker:  spanctx.NewTracker(mem, settings.Offsets.ContextParent, MaxConcurrent),
		scratch: scratch.New(settings.ExecutionUnits,
			func() events.Record { return events.Record{} },
			func(r *events.Record) { *r = events.Record{} },
		),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// InFlight returns the number of calls between entry and return.
func (p *Probe) InFlight() int {
	return p.records.Len()
}

func (p *Probe) countCall(outcome string) {
	if p.metrics != nil {
		p.metrics.Calls.WithLabelValues(outcome).Inc()
	}
}

func (p *Probe) countInjection(outcome string) {
	if p.metrics != nil {
		p.metrics.Injections.WithLabelValues(outcome).Inc()
	}
}

// context resolves the logical execution context of the request at req.
func (p *Probe) context(req uint64) (ctxPtr uint64, ok bool) {
	ctxPtr, ok = extract.Pointer(p.mem, req, p.settings.Offsets.RequestCtx)
	return ctxPtr, ok && ctxPtr != 0
}

// OnRoundTrip is the entry hook of (*Transport).roundTrip.
func (p *Probe) OnRoundTrip(f Frame) {
	req := f.Arg(argRequest)

	ctxPtr, ok := p.context(req)
	if !ok {
		p.countCall(OutcomeNoContext)
		return
	}
	key := correlation.Key(ctxPtr)

	if p.records.Contains(key) {
		p.o.Debug("call already tracked with the current context", autoprobe.FieldContext, ctxPtr)
		p.countCall(OutcomeAlreadyTracked)
		return
	}

	rec, err := p.scratch.Zeroed(f.Unit())
	if err != nil {
		p.o.Error("no scratch record for execution unit", err, autoprobe.SeverityHigh, autoprobe.FieldUnit, f.Unit())
		p.countCall(OutcomeNoScratch)
		return
	}
	defer p.scratch.Zero(rec)

	rec.StartTime = p.clock.Now()

	if parent, ok := p.tracker.Parent(ctxPtr); ok {
		rec.ParentSpanContext = parent
		rec.SpanContext = spanctx.NewChild(parent, p.gen)
	} else {
		rec.SpanContext = spanctx.NewRoot(p.gen)
	}

	if !p.extractRequest(req, rec) {
		p.countCall(OutcomeMethodUnreadable)
		return
	}

	var headers uint64
	if p.settings.PropagateHeaders {
		headers, _ = extract.Pointer(p.mem, req, p.settings.Offsets.RequestHeader)
		if headers != 0 {
			p.bindings.Bind(headers, key)
		}
	}

	if err := p.records.Insert(key, rec); err != nil {
		if headers != 0 {
			p.bindings.Take(headers)
		}
		if errors.Is(err, correlation.ErrExists) {
			p.o.Debug("call tracked concurrently with the current context", autoprobe.FieldContext, ctxPtr)
			p.countCall(OutcomeAlreadyTracked)
			return
		}
		p.o.Warning("could not track call", autoprobe.FieldError, err.Error(), autoprobe.FieldContext, ctxPtr)
		p.countCall(OutcomeStoreFull)
		return
	}

	if err := p.tracker.Start(ctxPtr, rec.SpanContext); err != nil {
		p.o.Warning("could not track active span", autoprobe.FieldError, err.Error(), autoprobe.FieldContext, ctxPtr)
	}

	p.countCall(OutcomeStarted)
}

func errString(err error) string {
	if err == nil {
		return "empty"
	}
	return err.Error()
}

// extractRequest fills rec from the request at req. Only the method is mandatory.
func (p *Probe) extractRequest(req uint64, rec *events.Record) (ok bool) {
	off := p.settings.Offsets

	n, err := extract.String(p.mem, req, off.RequestMethod, rec.Method[:])
	if err != nil || n == 0 {
		p.o.Warning("could not read method from request", autoprobe.FieldRequest, req, autoprobe.FieldError, errString(err))
		return false
	}

	u, _ := extract.Pointer(p.mem, req, off.RequestURL)
	// a URL without userinfo holds a nil *Userinfo
	user, userRead := extract.Pointer(p.mem, u, off.URLUser)

	fields := []struct {
		name   string
		base   uint64
		offset uint64
		dst    []byte
	}{
		{"path", u, off.URLPath, rec.Path[:]},
		{"scheme", u, off.URLScheme, rec.Scheme[:]},
		{"url_host", u, off.URLHost, rec.URLHost[:]},
		{"opaque", u, off.URLOpaque, rec.Opaque[:]},
		{"raw_path", u, off.URLRawPath, rec.RawPath[:]},
		{"raw_query", u, off.URLRawQuery, rec.RawQuery[:]},
		{"fragment", u, off.URLFragment, rec.Fragment[:]},
		{"raw_fragment", u, off.URLRawFragment, rec.RawFragment[:]},
		{"username", user, off.UserinfoUsername, rec.Username[:]},
		{"host", req, off.RequestHost, rec.Host[:]},
		{"proto", req, off.RequestProto, rec.Proto[:]},
	}

	for _, fld := range fields {
		if fld.name == "username" && userRead && user == 0 {
			continue
		}

		_, err := extract.String(p.mem, fld.base, fld.offset, fld.dst)
		if err == nil {
			continue
		}

		p.o.Develop("could not read request field", autoprobe.FieldField, fld.name, autoprobe.FieldRequest, req, autoprobe.FieldError, err.Error())
		if p.metrics != nil {
			p.metrics.Degraded.WithLabelValues(fld.name).Inc()
		}
	}

	return true
}

// OnRoundTripReturn is the return hook of (*Transport).roundTrip. call is the frame captured at
// entry, result the frame at return.
func (p *Probe) OnRoundTripReturn(call, result Frame) {
	end := p.clock.Now()

	ctxPtr, ok := p.context(call.Arg(argRequest))
	if !ok {
		p.countCall(OutcomeUnmatched)
		return
	}
	key := correlation.Key(ctxPtr)

	rec, ok := p.records.Lookup(key)
	if !ok {
		p.o.Develop("return without tracked call", autoprobe.FieldContext, ctxPtr)
		p.countCall(OutcomeUnmatched)
		return
	}

	rec.EndTime = end

	// with stack-based results the response is not in a register and the code stays 0
	if p.settings.RegisterABI {
		if code, ok := extract.Uint64(p.mem, result.Arg(resultResponse), p.settings.Offsets.ResponseStatusCode); ok {
			rec.StatusCode = code
		}
	}

	if err := p.emitter.Emit(rec); err != nil {
		p.o.Warning("could not emit event", autoprobe.FieldError, err.Error(), autoprobe.FieldSpanID, rec.SpanContext.SpanID.String())
		if p.metrics != nil {
			p.metrics.Dropped.Inc()
		}
	}

	if p.metrics != nil && rec.EndTime >= rec.StartTime {
		p.metrics.Duration.Observe(time.Duration(rec.EndTime - rec.StartTime).Seconds())
	}

	p.tracker.Stop(rec.SpanContext, rec.ParentSpanContext)
	p.records.Delete(key)

	p.countCall(OutcomeCompleted)
}

// OnWriteSubset is the entry hook of Header.writeSubset. It appends the traceparent header of
// the call owning the headers to the writer's buffer, at most once per header container.
func (p *Probe) OnWriteSubset(f Frame) {
	if !p.settings.PropagateHeaders {
		return
	}

	headers := f.Arg(argHeaders)
	writer := f.Arg(argWriter)

	key, ok := p.bindings.Take(headers)
	if !ok {
		return
	}

	rec, ok := p.records.Lookup(key)
	if !ok {
		p.countInjection(InjectionNoCall)
		return
	}
	sc := rec.SpanContext

	layout := inject.WriterLayout{Buf: p.settings.Offsets.WriterBuf, N: p.settings.Offsets.WriterN}

	err := inject.Buffer(p.mem, layout, writer, sc)
	switch {
	case err == nil:
		p.countInjection(InjectionWritten)
	case errors.Is(err, inject.ErrNoRoom):
		p.o.Debug("no room for traceparent header", autoprobe.FieldWriter, writer, autoprobe.FieldError, err.Error())
		p.countInjection(InjectionNoRoom)
	default:
		p.o.Warning("could not inject traceparent header", autoprobe.FieldWriter, writer, autoprobe.FieldError, err.Error())
		p.countInjection(InjectionFailed)
	}
}
