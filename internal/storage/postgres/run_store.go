package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lenderscan/internal/domain"
	"lenderscan/internal/observability"
	"lenderscan/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL. The ResultSet is
// stored as JSONB in its wire form, so balances stay decimal strings.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

var _ storage.RunStore = (*RunStore)(nil)

// Insert archives a run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *domain.RunRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	result, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Errorf("marshal result set: %w", err)
	}

	query := `
		INSERT INTO lender_runs (run_id, queried_token, result, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	start := time.Now()
	_, err = s.pool.Exec(ctx, query,
		r.RunID,
		r.Result.QueriedToken.Hex(),
		result,
		r.Duration.Milliseconds(),
		r.CreatedAt,
	)
	observability.RecordDBQuery("insert_run", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.RunRecord, error) {
	query := `
		SELECT run_id, result, duration_ms, created_at
		FROM lender_runs
		WHERE run_id = $1
	`

	start := time.Now()
	row := s.pool.QueryRow(ctx, query, runID)
	r, err := scanRun(row)
	observability.RecordDBQuery("get_run_by_id", time.Since(start).Seconds(), err)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run by id: %w", err)
	}
	return r, nil
}

// GetByToken retrieves all runs for a queried token, newest first.
func (s *RunStore) GetByToken(ctx context.Context, token common.Address) ([]*domain.RunRecord, error) {
	query := `
		SELECT run_id, result, duration_ms, created_at
		FROM lender_runs
		WHERE queried_token = $1
		ORDER BY created_at DESC
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, token.Hex())
	observability.RecordDBQuery("get_runs_by_token", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("get runs by token: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// GetRecent retrieves the most recent runs, newest first.
func (s *RunStore) GetRecent(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	query := `
		SELECT run_id, result, duration_ms, created_at
		FROM lender_runs
		ORDER BY created_at DESC
		LIMIT $1
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, limit)
	observability.RecordDBQuery("get_recent_runs", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("get recent runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunRecord, error) {
	var (
		r          domain.RunRecord
		resultJSON []byte
		durationMs int64
	)
	if err := row.Scan(&r.RunID, &resultJSON, &durationMs, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resultJSON, &r.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result set: %w", err)
	}
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return &r, nil
}

func collectRuns(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*domain.RunRecord, error) {
	var result []*domain.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
