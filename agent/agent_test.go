package agent

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cirruscomms/autoprobe"
	"github.com/cirruscomms/autoprobe/events"
	"github.com/cirruscomms/autoprobe/foreign"
	"github.com/cirruscomms/autoprobe/spanctx"
)

const offsetsFile = "../offsets/testdata/offsets.yaml"

type recorder struct {
	mu   sync.Mutex
	recs []events.Record
}

func (r *recorder) Consume(_ context.Context, rec *events.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, *rec)
	return nil
}

// keptSpans survives the exporter shutdown Run performs.
type keptSpans struct {
	*tracetest.InMemoryExporter
}

func (keptSpans) Shutdown(context.Context) error { return nil }

func testConfig(offsets string, allocStart uint64) *autoprobe.Configuration {
	return autoprobe.CreateConfig(autoprobe.LevelFatal+1, "", "", "agent-test", nil, nil).
		WithProbe("go1.22.3", autoprobe.RegisterABIAuto, true, 2).
		WithTarget(4242, offsets, allocStart, 0x1000).
		WithMetricsAddress("127.0.0.1:0")
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, _, err := autoprobe.InitialiseTestLogger(context.Background(), autoprobe.LevelFatal+1, io.Discard, io.Discard)
	require.NoError(t, err)

	return ctx
}

func TestNewRequiresOffsets(t *testing.T) {
	ctx := testContext(t)
	mem := foreign.NewArena(0x1000, 0x1000)

	testCases := map[string]struct {
		cfg *autoprobe.Configuration
	}{
		"no offsets file":     {cfg: testConfig("", 0)},
		"missing file":        {cfg: testConfig("testdata/missing.yaml", 0)},
		"unsupported runtime": {cfg: testConfig(offsetsFile, 0).WithProbe("go1.12", autoprobe.RegisterABIAuto, true, 2)},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := New(ctx, tc.cfg, mem, WithClock(events.NewMonotonicClock()))
			assert.Error(t, err)
		})
	}
}

func TestNewWithoutObserver(t *testing.T) {
	_, err := New(context.Background(), testConfig(offsetsFile, 0), foreign.NewArena(0x1000, 0x1000))
	assert.Error(t, err)
}

func TestMapInjectorNeedsRegion(t *testing.T) {
	ctx := testContext(t)
	mem := foreign.NewArena(0x1000, 0x4000)

	a, err := New(ctx, testConfig(offsetsFile, 0), mem, WithClock(events.NewMonotonicClock()))
	require.NoError(t, err)
	assert.Nil(t, a.Maps)

	a, err = New(ctx, testConfig(offsetsFile, 0x3000), mem, WithClock(events.NewMonotonicClock()))
	require.NoError(t, err)
	assert.NotNil(t, a.Maps)
}

func TestRunExportsUntilClosed(t *testing.T) {
	ctx := testContext(t)
	exp := tracetest.NewInMemoryExporter()
	rec := &recorder{}

	a, err := New(ctx, testConfig(offsetsFile, 0), foreign.NewArena(0x1000, 0x1000),
		WithClock(events.NewMonotonicClock()),
		WithExporter(keptSpans{exp}, true),
		WithSink(rec),
	)
	require.NoError(t, err)

	call := events.Record{StartTime: 10, EndTime: 20, StatusCode: 204}
	call.SpanContext = spanctx.NewRoot(spanctx.RandomGenerator{})
	copy(call.Method[:], "DELETE")
	require.NoError(t, a.Channel().Emit(&call))
	a.Close()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP DELETE", spans[0].Name)
	assert.Equal(t, call.SpanContext.SpanID, spans[0].SpanContext.SpanID())

	require.Len(t, rec.recs, 1)
	assert.Equal(t, call.SpanContext, rec.recs[0].SpanContext)

	mfs, err := a.Registry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["autoprobe_http_client_in_flight_calls"])
	assert.True(t, names["autoprobe_export_spans_total"])
}

func TestResolveRegisterABI(t *testing.T) {
	testCases := map[string]struct {
		mode    autoprobe.RegisterABIMode
		version string
		want    bool
	}{
		"forced on":     {mode: autoprobe.RegisterABIOn, version: "go1.16", want: true},
		"forced off":    {mode: autoprobe.RegisterABIOff, version: "go1.22", want: false},
		"auto register": {mode: autoprobe.RegisterABIAuto, version: "go1.22.3", want: true},
		"auto stack":    {mode: autoprobe.RegisterABIAuto, version: "go1.16.15", want: false},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := resolveRegisterABI(tc.mode, tc.version)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
