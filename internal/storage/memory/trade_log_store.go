package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/storage"
)

// TradeLogStore is an in-memory implementation of storage.TradeLogStore.
type TradeLogStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeLogEntry // keyed by entry id
}

// NewTradeLogStore creates a new in-memory trade log store.
func NewTradeLogStore() *TradeLogStore {
	return &TradeLogStore{
		data: make(map[string]*domain.TradeLogEntry),
	}
}

var _ storage.TradeLogStore = (*TradeLogStore)(nil)

// Insert adds a new entry. Returns ErrDuplicateKey if entry_id exists.
func (s *TradeLogStore) Insert(_ context.Context, e *domain.TradeLogEntry) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.data[e.ID] = &copy
	return nil
}

// GetByToken retrieves all entries for a token, ordered by timestamp ASC.
func (s *TradeLogStore) GetByToken(_ context.Context, token string) ([]*domain.TradeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeLogEntry
	for _, e := range s.data {
		if e.Token == token {
			copy := *e
			result = append(result, &copy)
		}
	}

	sortEntries(result)
	return result, nil
}

// GetByTimeRange retrieves entries within [start, end] (inclusive).
func (s *TradeLogStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.TradeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeLogEntry
	for _, e := range s.data {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			copy := *e
			result = append(result, &copy)
		}
	}

	sortEntries(result)
	return result, nil
}

func sortEntries(entries []*domain.TradeLogEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
