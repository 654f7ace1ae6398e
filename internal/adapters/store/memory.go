package store

import (
	"context"
	"sync"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

// MemoryStore is a process-local store. It backs tests and runs where the
// durable store could not be opened.
type MemoryStore struct {
	mu         sync.RWMutex
	payloads   map[string][]byte
	index      map[string]core.CacheIndexEntry
	deliveries map[string]core.DeliveryRecord
}

var (
	_ core.CacheStore    = (*MemoryStore)(nil)
	_ core.DeliveryStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payloads:   make(map[string][]byte),
		index:      make(map[string]core.CacheIndexEntry),
		deliveries: make(map[string]core.DeliveryRecord),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// GetEntry returns the record for key, or nil when absent.
func (s *MemoryStore) GetEntry(_ context.Context, key string) (*core.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.index[key]
	if !ok {
		return nil, nil
	}
	payload := append([]byte(nil), s.payloads[key]...)
	return &core.CacheRecord{CacheIndexEntry: entry, Payload: payload}, nil
}

// PutEntry writes payload and index under one lock.
func (s *MemoryStore) PutEntry(_ context.Context, rec *core.CacheRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := rec.CacheIndexEntry
	entry.Size = int64(len(rec.Payload))
	s.index[rec.Key] = entry
	s.payloads[rec.Key] = append([]byte(nil), rec.Payload...)
	return nil
}

// DeleteEntries removes payload and index for each key.
func (s *MemoryStore) DeleteEntries(_ context.Context, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, key := range keys {
		if _, ok := s.index[key]; ok {
			deleted++
		}
		delete(s.index, key)
		delete(s.payloads, key)
	}
	return deleted, nil
}

// ListIndex returns every index entry ordered by creation time.
func (s *MemoryStore) ListIndex(_ context.Context) ([]core.CacheIndexEntry, error) {
	s.mu.RLock()
	entries := make([]core.CacheIndexEntry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sortIndex(entries)
	return entries, nil
}

// GetDelivery returns the delivery record for eventKey, or nil when absent.
func (s *MemoryStore) GetDelivery(_ context.Context, eventKey string) (*core.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.deliveries[eventKey]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// PutDelivery upserts a delivery record.
func (s *MemoryStore) PutDelivery(_ context.Context, rec *core.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[rec.EventKey] = *rec
	return nil
}
