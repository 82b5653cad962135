package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cirruscomms/autoprobe"
	"github.com/cirruscomms/autoprobe/events"
)

// CallRow is one stored HTTP client call.
type CallRow struct {
	TraceID      string      `db:"trace_id" json:"trace_id"`
	SpanID       string      `db:"span_id" json:"span_id"`
	ParentSpanID pgtype.Text `db:"parent_span_id" json:"parent_span_id"`
	Method       string      `db:"method" json:"method"`
	Scheme       string      `db:"scheme" json:"scheme"`
	Host         string      `db:"host" json:"host"`
	Path         string      `db:"path" json:"path"`
	Query        string      `db:"query" json:"query"`
	Proto        string      `db:"proto" json:"proto"`
	StatusCode   pgtype.Int4 `db:"status_code" json:"status_code"`
	StartedAt    time.Time   `db:"started_at" json:"started_at"`
	EndedAt      time.Time   `db:"ended_at" json:"ended_at"`
	DurationMs   int64       `db:"duration_ms" json:"duration_ms"`
}

// NewCallRow maps a record to its row. The query string is redacted.
func NewCallRow(rec *events.Record, clock events.Clock) CallRow {
	host := events.Text(rec.Host[:])
	if host == "" {
		host = events.Text(rec.URLHost[:])
	}

	row := CallRow{
		TraceID:    rec.SpanContext.TraceID.String(),
		SpanID:     rec.SpanContext.SpanID.String(),
		Method:     events.Text(rec.Method[:]),
		Scheme:     events.Text(rec.Scheme[:]),
		Host:       host,
		Path:       events.Text(rec.Path[:]),
		Query:      autoprobe.RedactQuery(events.Text(rec.RawQuery[:])),
		Proto:      strings.TrimPrefix(events.Text(rec.Proto[:]), "HTTP/"),
		StartedAt:  clock.Wall(rec.StartTime),
		EndedAt:    clock.Wall(rec.EndTime),
		DurationMs: time.Duration(rec.EndTime - rec.StartTime).Milliseconds(),
	}

	if rec.EndTime < rec.StartTime {
		row.DurationMs = 0
	}

	if rec.HasParent() {
		row.ParentSpanID = pgtype.Text{String: rec.ParentSpanContext.SpanID.String(), Valid: true}
	}

	if rec.StatusCode != 0 {
		row.StatusCode = pgtype.Int4{Int32: int32(rec.StatusCode), Valid: true}
	}

	return row
}

// CallStore writes call records to the http_client_calls table.
type CallStore struct {
	pool  *pgxpool.Pool
	clock events.Clock
}

// NewCallStore opens a connection pool to dbConnStr. clock must be the clock records were
// stamped with.
func NewCallStore(ctx context.Context, dbConnStr string, clock events.Clock) (store *CallStore, fault error) {
	pool, err := pgxpool.New(ctx, dbConnStr)
	if err != nil {
		return nil, fmt.Errorf("could not create connection pool: %w", err)
	}

	return &CallStore{pool: pool, clock: clock}, nil
}

const insertCall = `INSERT INTO http_client_calls (
	trace_id,
	span_id,
	parent_span_id,
	method,
	scheme,
	host,
	path,
	query,
	proto,
	status_code,
	started_at,
	ended_at,
	duration_ms
) VALUES (
	$1,
	$2,
	$3,
	$4,
	$5,
	$6,
	$7,
	$8,
	$9,
	$10,
	$11,
	$12,
	$13
);`

// Consume stores rec. It satisfies the export loop's sink interface.
func (s *CallStore) Consume(ctx context.Context, rec *events.Record) (fault error) {
	r := NewCallRow(rec, s.clock)

	_, err := s.pool.Exec(ctx, insertCall,
		r.TraceID, r.SpanID, r.ParentSpanID, r.Method, r.Scheme, r.Host, r.Path, r.Query, r.Proto,
		r.StatusCode, r.StartedAt, r.EndedAt, r.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("could not store call %s: %w", r.SpanID, err)
	}

	return nil
}

// Calls returns the stored calls of one trace, oldest first.
func (s *CallStore) Calls(ctx context.Context, traceID string) (calls []CallRow, fault error) {
	rows, err := s.pool.Query(ctx, `SELECT trace_id, span_id, parent_span_id, method, scheme, host, path, query, proto,
	status_code, started_at, ended_at, duration_ms
FROM http_client_calls WHERE trace_id = $1 ORDER BY started_at, id;`, traceID)
	if err != nil {
		return nil, fmt.Errorf("could not query calls for trace %s: %w", traceID, err)
	}

	calls, err = pgx.CollectRows(rows, pgx.RowToStructByName[CallRow])
	if err != nil {
		return nil, fmt.Errorf("could not read calls for trace %s: %w", traceID, err)
	}

	return calls, nil
}

// Close closes the pool.
func (s *CallStore) Close() {
	s.pool.Close()
}
