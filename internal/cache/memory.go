package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/entity-resolver/internal/model"
)

// MemoryStore is an in-process Store applying model.Reconcile directly. It
// backs dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[model.RecordKey]model.IndexRecord
	lookups int
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[model.RecordKey]model.IndexRecord), now: time.Now}
}

// LookupBatch implements Store.
func (m *MemoryStore) LookupBatch(_ context.Context, keys []string, t model.LookupType) (map[string]model.IndexRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.IndexRecord, len(keys))
	for _, k := range keys {
		m.lookups++
		if r, ok := m.records[model.RecordKey{Key: k, Type: t}]; ok {
			out[k] = r
		}
	}
	return out, nil
}

// UpsertBatch implements Store.
func (m *MemoryStore) UpsertBatch(_ context.Context, records []model.IndexRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	records = model.DedupeRecords(records)
	for _, r := range records {
		k := r.Key()
		existing, ok := m.records[k]
		if !ok {
			r.HitCount = 0
			r.CreatedAt = now
			r.UpdatedAt = now
			m.records[k] = r
			continue
		}
		m.records[k] = model.Reconcile(existing, r, now)
	}
	return int64(len(records)), nil
}

// RecordHit implements Store.
func (m *MemoryStore) RecordHit(_ context.Context, key string, t model.LookupType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := model.RecordKey{Key: key, Type: t}
	r, ok := m.records[k]
	if !ok {
		return nil
	}
	now := m.now().UTC()
	r.HitCount++
	r.LastHitAt = &now
	m.records[k] = r
	return nil
}

// Get returns a stored record.
func (m *MemoryStore) Get(key string, t model.LookupType) (model.IndexRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[model.RecordKey{Key: key, Type: t}]
	return r, ok
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Lookups returns the number of keys looked up so far.
func (m *MemoryStore) Lookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}
