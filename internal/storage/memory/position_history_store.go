package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/storage"
)

// PositionHistoryStore is an in-memory implementation of
// storage.PositionHistoryStore.
type PositionHistoryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PositionRecord // keyed by record id
}

// NewPositionHistoryStore creates a new in-memory position history store.
func NewPositionHistoryStore() *PositionHistoryStore {
	return &PositionHistoryStore{
		data: make(map[string]*domain.PositionRecord),
	}
}

var _ storage.PositionHistoryStore = (*PositionHistoryStore)(nil)

// Insert adds a new record. Returns ErrDuplicateKey if record_id exists.
func (s *PositionHistoryStore) Insert(_ context.Context, r *domain.PositionRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	s.data[r.ID] = &copy
	return nil
}

// GetByToken retrieves all records for a token, ordered by closed_at ASC.
func (s *PositionHistoryStore) GetByToken(_ context.Context, token string) ([]*domain.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PositionRecord
	for _, r := range s.data {
		if r.Token == token {
			copy := *r
			result = append(result, &copy)
		}
	}

	sortRecords(result)
	return result, nil
}

// GetByTimeRange retrieves records closed within [start, end] (inclusive).
func (s *PositionHistoryStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PositionRecord
	for _, r := range s.data {
		if !r.ClosedAt.Before(start) && !r.ClosedAt.After(end) {
			copy := *r
			result = append(result, &copy)
		}
	}

	sortRecords(result)
	return result, nil
}

func sortRecords(records []*domain.PositionRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].ClosedAt.Equal(records[j].ClosedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].ClosedAt.Before(records[j].ClosedAt)
	})
}
