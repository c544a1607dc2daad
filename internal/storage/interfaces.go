package storage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"lenderscan/internal/domain"
)

// RunStore provides access to archived reconstruction runs.
type RunStore interface {
	// Insert archives a run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.RunRecord) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.RunRecord, error)

	// GetByToken retrieves all runs for a queried token, newest first.
	GetByToken(ctx context.Context, token common.Address) ([]*domain.RunRecord, error)

	// GetRecent retrieves the most recent runs, newest first.
	GetRecent(ctx context.Context, limit int) ([]*domain.RunRecord, error)
}
