package ingest

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/quota/internal/domain"
)

// Recorder persists one ingestion result per asset or pair per run.
type Recorder interface {
	Record(ctx context.Context, result domain.IngestionResult) error
}

// PgRecorder implements Recorder with PostgreSQL.
type PgRecorder struct {
	pool *pgxpool.Pool
}

// NewPgRecorder creates a new PostgreSQL ingestion result recorder.
func NewPgRecorder(pool *pgxpool.Pool) *PgRecorder {
	return &PgRecorder{pool: pool}
}

func (r *PgRecorder) Record(ctx context.Context, res domain.IngestionResult) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ingestion_results
		   (run_id, kind, key, fetched_dates, cached_dates, failed_dates, sources, error, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		res.RunID, string(res.Kind), res.Key, nonNil(res.Fetched), nonNil(res.Cached), nonNil(res.Failed),
		nonNil(res.Sources), res.Error, res.StartedAt)
	if err != nil {
		return fmt.Errorf("recording %s ingestion result for %s: %w", res.Kind, res.Key, err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
