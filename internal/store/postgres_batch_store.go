package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelconvert/internal/convert"
	"github.com/dunamismax/pixelconvert/internal/domain"
	_ "github.com/lib/pq"
)

const batchSchemaSQL = `
CREATE TABLE IF NOT EXISTS conversion_batches (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	request JSONB NOT NULL,
	results JSONB NOT NULL DEFAULT '[]'::jsonb,
	succeeded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	webhook_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresBatchStore struct {
	db *sql.DB
}

func NewPostgresBatchStore(ctx context.Context, dsn string) (*PostgresBatchStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresBatchStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresBatchStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, batchSchemaSQL); err != nil {
		return fmt.Errorf("ensure conversion_batches schema: %w", err)
	}
	return nil
}

func (s *PostgresBatchStore) Close() error {
	return s.db.Close()
}

func (s *PostgresBatchStore) Create(ctx context.Context, job domain.BatchJob) error {
	// Inline payloads stay in the queue message only.
	requestJSON, err := json.Marshal(job.Summary().Request)
	if err != nil {
		return fmt.Errorf("marshal batch request: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO conversion_batches (id, status, request, webhook_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID,
		job.Status,
		requestJSON,
		job.WebhookURL,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	return nil
}

func (s *PostgresBatchStore) Get(ctx context.Context, id string) (domain.BatchJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, request, results, succeeded, failed, webhook_url, created_at, updated_at
		 FROM conversion_batches
		 WHERE id = $1`,
		id,
	)

	var (
		job         domain.BatchJob
		requestJSON []byte
		resultsJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&requestJSON,
		&resultsJSON,
		&job.Succeeded,
		&job.Failed,
		&job.WebhookURL,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BatchJob{}, false, nil
		}
		return domain.BatchJob{}, false, fmt.Errorf("query batch: %w", err)
	}

	if err := json.Unmarshal(requestJSON, &job.Request); err != nil {
		return domain.BatchJob{}, false, fmt.Errorf("unmarshal batch request: %w", err)
	}
	if err := json.Unmarshal(resultsJSON, &job.Results); err != nil {
		return domain.BatchJob{}, false, fmt.Errorf("unmarshal batch results: %w", err)
	}

	return job, true, nil
}

func (s *PostgresBatchStore) UpdateStatus(ctx context.Context, id, status string) (domain.BatchJob, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE conversion_batches
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.BatchJob{}, fmt.Errorf("update batch status: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresBatchStore) SaveResults(ctx context.Context, id string, results []convert.BatchItemResult) (domain.BatchJob, error) {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return domain.BatchJob{}, fmt.Errorf("marshal batch results: %w", err)
	}
	succeeded := convert.Succeeded(results)

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE conversion_batches
		 SET status = $1, results = $2, succeeded = $3, failed = $4, updated_at = $5
		 WHERE id = $6`,
		domain.BatchStatusCompleted,
		resultsJSON,
		succeeded,
		len(results)-succeeded,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.BatchJob{}, fmt.Errorf("save batch results: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresBatchStore) reload(ctx context.Context, id string, res sql.Result) (domain.BatchJob, error) {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.BatchJob{}, ErrBatchNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.BatchJob{}, err
	}
	if !ok {
		return domain.BatchJob{}, ErrBatchNotFound
	}
	return job, nil
}
