// Package cleaner purges stored HTTP client calls once they pass the retention period.
// Stored rows carry hosts, paths and redacted queries of outbound calls, so services that
// persist calls run the cleaner on a schedule.
package cleaner

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxAge is how long stored calls are kept, roughly 6 months.
const MaxAge = 180 * 24 * time.Hour

// Cleaner deletes expired rows from http_client_calls.
type Cleaner struct {
	pool   *pgxpool.Pool
	maxAge time.Duration
}

// New creates a Cleaner with its own connection pool.
func New(ctx context.Context, dbConnStr string) (dbCleaner *Cleaner, fault error) {
	pool, err := pgxpool.New(ctx, dbConnStr)
	if err != nil {
		return nil, fmt.Errorf("could not create connection pool: %w", err)
	}

	return &Cleaner{
		pool:   pool,
		maxAge: MaxAge,
	}, nil
}

// Exec deletes calls stored longer ago than the retention period and reports how many went.
func (s *Cleaner) Exec(ctx context.Context) (deleted int64, fault error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction: %w", err)
	}

	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM http_client_calls WHERE created_at < (NOW() - make_interval(secs => $1));`, s.maxAge.Seconds())
	if err != nil {
		return 0, fmt.Errorf("could not delete expired calls: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("could not commit cleanup: %w", err)
	}

	return tag.RowsAffected(), nil
}

// Close closes the Cleaner's database connection pool.
func (s *Cleaner) Close() {
	s.pool.Close()
}
