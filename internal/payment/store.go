package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/acmepay/payflow/internal/gateway"
)

// ErrNotFound is returned when an intent id was never recorded by this
// process. Confirm uses it to fail fast without touching the network.
var ErrNotFound = errors.New("payment: intent not found")

// Store caches intents created by this process. The gateway remains the
// authoritative source; this is an ephemeral lookup, not a ledger.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, intentID string) (Record, error)
	GetByOrder(ctx context.Context, merchantOrderID string) (Record, error)
	Update(ctx context.Context, intentID string, status gateway.IntentStatus, method, reason string) error
}

// MemoryStore is the default single-process store.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Record
	byOrder map[string]string
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Record),
		byOrder: make(map[string]string),
	}
}

// Put records a freshly created intent.
func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[rec.Intent.ID] = rec
	if rec.Intent.MerchantOrderID != "" {
		s.byOrder[rec.Intent.MerchantOrderID] = rec.Intent.ID
	}
	return nil
}

// Get returns the record for an intent id.
func (s *MemoryStore) Get(_ context.Context, intentID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[intentID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// GetByOrder returns the record created for a merchant order id.
func (s *MemoryStore) GetByOrder(_ context.Context, merchantOrderID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOrder[merchantOrderID]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec, ok := s.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Update refreshes the cached status for an intent. Empty method and reason
// leave the existing values untouched.
func (s *MemoryStore) Update(_ context.Context, intentID string, status gateway.IntentStatus, method, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[intentID]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.Intent.Status = status
	if method != "" {
		rec.Method = method
	}
	if reason != "" {
		rec.Reason = reason
	}
	rec.UpdatedAt = time.Now()
	s.byID[intentID] = rec
	return nil
}
