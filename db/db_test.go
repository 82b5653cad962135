package db

import (
	"context"
	"io/fs"
	"testing"
	"time"

	migrate "github.com/jackc/tern/v2/migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirruscomms/autoprobe"
	"github.com/cirruscomms/autoprobe/events"
	"github.com/cirruscomms/autoprobe/spanctx"
	"github.com/cirruscomms/autoprobe/tests/containers"
)

var epoch = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

type epochClock struct{}

func (epochClock) Now() uint64 { return 0 }

func (epochClock) Wall(ns uint64) time.Time { return epoch.Add(time.Duration(ns)) }

func testRecord(parent *events.Record) events.Record {
	rec := events.Record{
		StartTime:  uint64(time.Second),
		EndTime:    uint64(time.Second + 250*time.Millisecond),
		StatusCode: 201,
	}
	copy(rec.Method[:], "POST")
	copy(rec.Host[:], "api.example")
	copy(rec.Path[:], "/orders")
	copy(rec.Scheme[:], "https")
	copy(rec.Proto[:], "HTTP/1.1")
	copy(rec.RawQuery[:], "key=abcdefgh") // stored as "key=abcd"

	if parent != nil {
		rec.ParentSpanContext = parent.SpanContext
		rec.SpanContext = spanctx.NewChild(parent.SpanContext, spanctx.RandomGenerator{})
	} else {
		rec.SpanContext = spanctx.NewRoot(spanctx.RandomGenerator{})
	}

	return rec
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), ".")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "001_create_http_client_calls.sql", entries[0].Name())

	sql, err := fs.ReadFile(Migrations(), entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(sql), "CREATE TABLE http_client_calls")
	assert.Contains(t, string(sql), "---- create above / drop below ----")
}

func TestSummarise(t *testing.T) {
	migrations := []*migrate.Migration{
		{Sequence: 1, Name: "001_create_http_client_calls.sql"},
		{Sequence: 2, Name: "002_add_index.sql"},
	}

	testCases := map[string]struct {
		current, target int32
		wantTarget      int32
		migrated        []bool
		wantErr         bool
	}{
		"fresh to latest": {current: 0, target: -1, wantTarget: 2, migrated: []bool{false, false}},
		"partial":         {current: 1, target: 2, wantTarget: 2, migrated: []bool{true, false}},
		"downgrade":       {current: 2, target: 1, wantTarget: 1, migrated: []bool{true, true}},
		"past the end":    {current: 0, target: 3, wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			info, err := summarise(migrations, tc.current, tc.target)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tc.wantTarget, info.Migrations.TargetVersion)
			for i, s := range info.Migrations.Stages {
				assert.Equal(t, tc.migrated[i], s.Migrated, s.Name)
			}
		})
	}

	_, err := summarise(nil, 0, -1)
	assert.Error(t, err)
}

func TestNewCallRow(t *testing.T) {
	root := testRecord(nil)
	child := testRecord(&root)

	row := NewCallRow(&child, epochClock{})

	assert.Equal(t, child.SpanContext.TraceID.String(), row.TraceID)
	assert.Equal(t, child.SpanContext.SpanID.String(), row.SpanID)
	assert.True(t, row.ParentSpanID.Valid)
	assert.Equal(t, root.SpanContext.SpanID.String(), row.ParentSpanID.String)
	assert.Equal(t, "POST", row.Method)
	assert.Equal(t, "api.example", row.Host)
	assert.Equal(t, "1.1", row.Proto)
	// the record keeps 8 bytes of query, so only "abcd" reaches redaction
	assert.Equal(t, "key=%2A%2A%2A%2A", row.Query)
	assert.Equal(t, int32(201), row.StatusCode.Int32)
	assert.Equal(t, epoch.Add(time.Second), row.StartedAt)
	assert.Equal(t, int64(250), row.DurationMs)

	rootRow := NewCallRow(&root, epochClock{})
	assert.False(t, rootRow.ParentSpanID.Valid)
}

func TestNewCallRowWithoutResponse(t *testing.T) {
	rec := testRecord(nil)
	rec.StatusCode = 0
	rec.Host = [events.MaxHostSize]byte{}
	copy(rec.URLHost[:], "fallback")

	row := NewCallRow(&rec, epochClock{})

	assert.False(t, row.StatusCode.Valid)
	assert.Equal(t, "fallback", row.Host)
}

func TestCallStoreIntegration(t *testing.T) {
	containers.RequireIntegration(t)

	ctx := context.Background()
	pg, err := containers.Postgres(t, ctx, "17")
	require.NoError(t, err)
	t.Cleanup(func() { pg.Cleanup(t) })

	o := autoprobe.TestObserver()
	require.NoError(t, RunMigrations(ctx, o, pg, -1))

	store, err := NewCallStore(ctx, pg.DatabaseURL(), epochClock{})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	root := testRecord(nil)
	child := testRecord(&root)
	child.StartTime += uint64(time.Millisecond)
	child.EndTime += uint64(time.Millisecond)

	require.NoError(t, store.Consume(ctx, &root))
	require.NoError(t, store.Consume(ctx, &child))

	calls, err := store.Calls(ctx, root.SpanContext.TraceID.String())
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, root.SpanContext.SpanID.String(), calls[0].SpanID)
	assert.Equal(t, root.SpanContext.SpanID.String(), calls[1].ParentSpanID.String)
}
