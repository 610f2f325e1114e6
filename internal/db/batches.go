package db

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/david/contract-finder/internal/apperr"
	"github.com/david/contract-finder/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
)

const batchCols = `id, status, fetched, deduplicated, passed_filters, scored_above_threshold,
	created, updated, errors, error_message, started_at, completed_at`

const uniqueViolation = "23505"

// ErrBatchRunning is returned by BeginBatch while another batch holds the
// running marker.
var ErrBatchRunning = apperr.Conflict("begin batch", "an ingestion batch is already running")

// BatchCounts are the totals written when a batch finishes.
type BatchCounts struct {
	Fetched              int
	Deduplicated         int
	PassedFilters        int
	ScoredAboveThreshold int
	Created              int
	Updated              int
	Errors               []string
}

func scanBatch(scan func(dest ...interface{}) error) (models.IngestionBatch, error) {
	var b models.IngestionBatch
	var status, errs string
	var errMsg *string
	err := scan(
		&b.ID, &status, &b.Fetched, &b.Deduplicated, &b.PassedFilters, &b.ScoredAboveThreshold,
		&b.Created, &b.Updated, &errs, &errMsg, &b.StartedAt, &b.CompletedAt,
	)
	if err != nil {
		return b, err
	}
	b.Status = models.BatchStatus(status)
	b.Errors = ParseListField(errs, []string{})
	b.ErrorMessage = deref(errMsg)
	return b, nil
}

func newBatchID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// BeginBatch inserts a new running batch. The unique index on the running
// status makes the idle → running transition atomic: a second concurrent
// caller gets ErrBatchRunning.
func (s *Store) BeginBatch(ctx context.Context) (*models.IngestionBatch, error) {
	now := time.Now().UTC()
	id := newBatchID(now)

	b, err := scanBatch(s.pool.QueryRow(ctx, `
		INSERT INTO ingestion_batches (id, status, started_at)
		VALUES ($1, 'running', $2)
		RETURNING `+batchCols, id, now).Scan)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrBatchRunning
		}
		return nil, apperr.Persistence("begin batch", err)
	}
	return &b, nil
}

// CompleteBatch records the counts of a finished batch.
func (s *Store) CompleteBatch(ctx context.Context, id string, c BatchCounts) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_batches SET
			status = 'completed',
			fetched = $2,
			deduplicated = $3,
			passed_filters = $4,
			scored_above_threshold = $5,
			created = $6,
			updated = $7,
			errors = $8,
			completed_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id, c.Fetched, c.Deduplicated, c.PassedFilters, c.ScoredAboveThreshold, c.Created, c.Updated, EncodeListField(c.Errors))
	if err != nil {
		return apperr.Persistence("complete batch", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("complete batch", "batch "+id+" is no longer running")
	}
	return nil
}

// FailBatch marks a running batch failed with the given message.
func (s *Store) FailBatch(ctx context.Context, id, message string, c BatchCounts) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_batches SET
			status = 'failed',
			fetched = $3,
			errors = $4,
			error_message = $2,
			completed_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id, message, c.Fetched, EncodeListField(c.Errors))
	if err != nil {
		return apperr.Persistence("fail batch", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("fail batch", "batch "+id+" is no longer running")
	}
	return nil
}

// ResetRunningBatch moves a stuck running batch back to idle. It returns nil
// and no error when nothing was running.
func (s *Store) ResetRunningBatch(ctx context.Context, actor string) (*models.IngestionBatch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, `
		UPDATE ingestion_batches SET
			status = 'idle',
			error_message = 'reset by ' || $1,
			completed_at = NOW()
		WHERE status = 'running'
		RETURNING `+batchCols, actor).Scan)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.Persistence("reset batch", err)
	}
	return &b, nil
}

// GetBatch loads one batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (*models.IngestionBatch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, "SELECT "+batchCols+" FROM ingestion_batches WHERE id = $1", id).Scan)
	if err != nil {
		return nil, notFoundOr("get batch", "batch not found", err)
	}
	return &b, nil
}

// LatestBatch returns the most recently started batch, or nil if none exists.
func (s *Store) LatestBatch(ctx context.Context) (*models.IngestionBatch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, "SELECT "+batchCols+" FROM ingestion_batches ORDER BY started_at DESC, id DESC LIMIT 1").Scan)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.Persistence("latest batch", err)
	}
	return &b, nil
}

func (s *Store) RecentBatches(ctx context.Context, limit int) ([]models.IngestionBatch, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, "SELECT "+batchCols+" FROM ingestion_batches ORDER BY started_at DESC, id DESC LIMIT $1", limit)
	if err != nil {
		return nil, apperr.Persistence("recent batches", err)
	}
	defer rows.Close()

	batches := []models.IngestionBatch{}
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, apperr.Persistence("scan batch", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("recent batches", err)
	}
	return batches, nil
}
