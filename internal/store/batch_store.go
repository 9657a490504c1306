package store

import (
	"context"
	"errors"
	"strings"

	"github.com/dunamismax/pixelconvert/internal/convert"
	"github.com/dunamismax/pixelconvert/internal/domain"
)

var ErrBatchNotFound = errors.New("batch not found")

type BatchStore interface {
	Create(ctx context.Context, job domain.BatchJob) error
	Get(ctx context.Context, id string) (domain.BatchJob, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.BatchJob, error)
	// SaveResults records per-item results and marks the batch completed.
	SaveResults(ctx context.Context, id string, results []convert.BatchItemResult) (domain.BatchJob, error)
}

// Open returns the Postgres store when dsn is set, otherwise an in-memory
// store. The returned close func is never nil.
func Open(ctx context.Context, dsn string) (BatchStore, func() error, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryBatchStore(), func() error { return nil }, nil
	}

	pg, err := NewPostgresBatchStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
