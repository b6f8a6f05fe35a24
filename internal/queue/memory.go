package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/entity-resolver/internal/model"
)

// MemoryStore is an in-process Store for dry runs and tests. It follows the
// same transition rules as the SQL stores.
type MemoryStore struct {
	mu    sync.Mutex
	items []*model.QueueItem
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Enqueue adds a pending item unless the name is active or failed.
func (m *MemoryStore) Enqueue(_ context.Context, rawName, tempID string) (bool, error) {
	name, err := prepareEnqueue(rawName, tempID)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.NormalizedName != name {
			continue
		}
		switch it.Status {
		case model.QueueStatusPending, model.QueueStatusProcessing, model.QueueStatusFailed:
			return false, nil
		}
	}
	m.items = append(m.items, &model.QueueItem{
		RequestID:      uuid.NewString(),
		RawName:        rawName,
		NormalizedName: name,
		AssignedTempID: tempID,
		Status:         model.QueueStatusPending,
		CreatedAt:      m.now().UTC(),
	})
	return true, nil
}

// Claim moves up to limit due pending items to processing, oldest first.
func (m *MemoryStore) Claim(_ context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.QueueItem
	for _, it := range m.items {
		if len(out) >= limit {
			break
		}
		if it.Status != model.QueueStatusPending {
			continue
		}
		if it.NextRetryAt != nil && it.NextRetryAt.After(now) {
			continue
		}
		claimed := now.UTC()
		it.Status = model.QueueStatusProcessing
		it.ClaimedAt = &claimed
		out = append(out, *it)
	}
	return out, nil
}

// MarkDone completes a claimed item.
func (m *MemoryStore) MarkDone(_ context.Context, requestID string, processedAt time.Time) error {
	return m.transition(requestID, "mark done", func(it *model.QueueItem) {
		t := processedAt.UTC()
		it.Status = model.QueueStatusDone
		it.ProcessedAt = &t
		it.ErrorMessage = ""
	})
}

// MarkRetry counts a failed attempt and reschedules the item.
func (m *MemoryStore) MarkRetry(_ context.Context, requestID string, nextRetryAt time.Time, errMsg string) error {
	return m.transition(requestID, "mark retry", func(it *model.QueueItem) {
		t := nextRetryAt.UTC()
		it.Status = model.QueueStatusPending
		it.Attempts++
		it.NextRetryAt = &t
		it.ErrorMessage = errMsg
	})
}

// MarkFailed counts the final attempt and makes the item terminal.
func (m *MemoryStore) MarkFailed(_ context.Context, requestID string, processedAt time.Time, errMsg string) error {
	return m.transition(requestID, "mark failed", func(it *model.QueueItem) {
		t := processedAt.UTC()
		it.Status = model.QueueStatusFailed
		it.Attempts++
		it.NextRetryAt = nil
		it.ProcessedAt = &t
		it.ErrorMessage = errMsg
	})
}

// Release returns claimed items to pending.
func (m *MemoryStore) Release(_ context.Context, requestIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]bool, len(requestIDs))
	for _, id := range requestIDs {
		ids[id] = true
	}
	for _, it := range m.items {
		if ids[it.RequestID] && it.Status == model.QueueStatusProcessing {
			it.Status = model.QueueStatusPending
			it.ClaimedAt = nil
		}
	}
	return nil
}

// RequeueStale releases items whose claim is older than claimedBefore.
func (m *MemoryStore) RequeueStale(_ context.Context, claimedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, it := range m.items {
		if it.Status == model.QueueStatusProcessing && it.ClaimedAt != nil && it.ClaimedAt.Before(claimedBefore) {
			it.Status = model.QueueStatusPending
			it.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

// ResetFailed moves failed items back to pending.
func (m *MemoryStore) ResetFailed(_ context.Context, rawName string) (int64, error) {
	name, err := resetTarget(rawName)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, it := range m.items {
		if it.Status != model.QueueStatusFailed || (name != "" && it.NormalizedName != name) {
			continue
		}
		it.Status = model.QueueStatusPending
		it.Attempts = 0
		it.NextRetryAt = nil
		it.ErrorMessage = ""
		it.ClaimedAt = nil
		it.ProcessedAt = nil
		n++
	}
	return n, nil
}

// Counts returns the number of items per status.
func (m *MemoryStore) Counts(_ context.Context) (model.QueueCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := emptyCounts()
	for _, it := range m.items {
		out[it.Status]++
	}
	return out, nil
}

// Items returns a snapshot of every item in insertion order.
func (m *MemoryStore) Items() []model.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.QueueItem, len(m.items))
	for i, it := range m.items {
		out[i] = *it
	}
	return out
}

func (m *MemoryStore) transition(requestID, op string, apply func(*model.QueueItem)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.RequestID == requestID && it.Status == model.QueueStatusProcessing {
			apply(it)
			it.ClaimedAt = nil
			return nil
		}
	}
	return checkTransition(0, nil, op, requestID)
}
