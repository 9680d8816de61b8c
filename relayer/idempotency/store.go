// Package idempotency owns the processed set: the durable map from event identity
// to terminal payout outcome.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Record is one terminal decision for an event identity.
type Record struct {
	Key        string    `json:"key"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	DestTxHash string    `json:"destTxHash,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Store abstracts processed set persistence.
type Store interface {
	// Get returns nil when the key was never recorded.
	Get(ctx context.Context, key string) (*Record, error)
	// Save inserts the record unless the key exists. The first write wins and
	// the result reports whether this call stored it.
	Save(ctx context.Context, record Record) (bool, error)
	// Claim takes or extends a lease on key for owner. It reports false while
	// another owner holds a lease that has not expired.
	Claim(ctx context.Context, key, owner string, lease time.Duration) (bool, error)
	// Unclaim drops owner's lease on key. Leases held by others are left alone.
	Unclaim(ctx context.Context, key, owner string) error
	Close() error
}

type lease struct {
	owner   string
	expires time.Time
}

// MemoryStore is mostly for testing. It does not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]Record
	claims map[string]lease
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:   make(map[string]Record),
		claims: make(map[string]lease),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, record Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[record.Key]; ok {
		return false, nil
	}
	m.data[record.Key] = record
	return true, nil
}

func (m *MemoryStore) Claim(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if cur, ok := m.claims[key]; ok && cur.owner != owner && now.Before(cur.expires) {
		return false, nil
	}
	if m.claims == nil {
		m.claims = make(map[string]lease)
	}
	m.claims[key] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStore) Unclaim(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.claims[key]; ok && cur.owner == owner {
		delete(m.claims, key)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Len returns the number of recorded identities.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
