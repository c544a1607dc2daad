package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lenderscan/internal/domain"
	"lenderscan/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore, the
// default when no archive DSN is configured.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RunRecord
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{data: make(map[string]*domain.RunRecord)}
}

var _ storage.RunStore = (*RunStore)(nil)

// Insert archives a run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(_ context.Context, r *domain.RunRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a deep copy to prevent external mutation.
	s.data[r.RunID] = cloneRecord(r)
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(_ context.Context, runID string) (*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return cloneRecord(r), nil
}

// GetByToken retrieves all runs for a queried token, newest first.
func (s *RunStore) GetByToken(_ context.Context, token common.Address) ([]*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RunRecord
	for _, r := range s.data {
		if r.Result.QueriedToken == token {
			result = append(result, cloneRecord(r))
		}
	}

	sortNewestFirst(result)
	return result, nil
}

// GetRecent retrieves the most recent runs, newest first.
func (s *RunStore) GetRecent(_ context.Context, limit int) ([]*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.RunRecord, 0, len(s.data))
	for _, r := range s.data {
		result = append(result, cloneRecord(r))
	}

	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// cloneRecord deep-copies a record so stored state and returned records
// never share lender slices or big.Ints with the caller.
func cloneRecord(r *domain.RunRecord) *domain.RunRecord {
	c := *r
	c.Result = r.Result.Clone()
	return &c
}

func sortNewestFirst(runs []*domain.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt > runs[j].CreatedAt
	})
}
