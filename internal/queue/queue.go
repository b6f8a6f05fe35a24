// Package queue persists deferred resolution requests and drains them
// against the external directory.
//
// A request moves pending -> processing -> done, or back to pending with a
// later next_retry_at after a failure, and finally to failed once the retry
// ladder is exhausted. At most one pending or processing request exists per
// normalized name.
package queue

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
)

// Table is the queue table name.
const Table = "enrichment_queue"

var (
	// ErrEmptyName is returned when a raw name normalizes to nothing.
	ErrEmptyName = eris.New("queue: name is empty after normalization")
	// ErrNotClaimed is returned when a transition targets an item that is no
	// longer in processing, for example after stale-claim recovery.
	ErrNotClaimed = eris.New("queue: item is not claimed")
)

// Store is the durable deferred-resolution queue.
type Store interface {
	// Enqueue adds a pending request for rawName. It returns false without
	// error when an active request for the same normalized name exists or
	// the name already failed.
	Enqueue(ctx context.Context, rawName, tempID string) (bool, error)
	// Claim atomically moves up to limit due pending items to processing.
	Claim(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error)
	MarkDone(ctx context.Context, requestID string, processedAt time.Time) error
	// MarkRetry records a failure and schedules the next attempt.
	MarkRetry(ctx context.Context, requestID string, nextRetryAt time.Time, errMsg string) error
	// MarkFailed records a final failure.
	MarkFailed(ctx context.Context, requestID string, processedAt time.Time, errMsg string) error
	// Release returns claimed items to pending without consuming an attempt.
	Release(ctx context.Context, requestIDs []string) error
	// RequeueStale releases items claimed before the cutoff.
	RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	// ResetFailed moves failed items back to pending with a fresh attempt
	// count. An empty rawName resets every failed item.
	ResetFailed(ctx context.Context, rawName string) (int64, error)
	Counts(ctx context.Context) (model.QueueCounts, error)
}

const itemColumns = `request_id, raw_name, normalized_name, assigned_temp_id, status,
	attempts, next_retry_at, error_message, claimed_at, created_at, processed_at`

// prepareEnqueue validates an enqueue request and returns the normalized name.
func prepareEnqueue(rawName, tempID string) (string, error) {
	name := normalize.Name(rawName)
	if name == "" {
		return "", ErrEmptyName
	}
	if strings.TrimSpace(tempID) == "" {
		return "", eris.Errorf("queue: enqueue %q: temporary id is required", name)
	}
	return name, nil
}

// resetTarget normalizes the name filter of ResetFailed.
func resetTarget(rawName string) (string, error) {
	if strings.TrimSpace(rawName) == "" {
		return "", nil
	}
	name := normalize.Name(rawName)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}

// sortItems orders claimed items oldest first. RETURNING does not promise
// an order.
func sortItems(items []model.QueueItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].RequestID < items[j].RequestID
	})
}

func emptyCounts() model.QueueCounts {
	return model.QueueCounts{
		model.QueueStatusPending:    0,
		model.QueueStatusProcessing: 0,
		model.QueueStatusDone:       0,
		model.QueueStatusFailed:     0,
	}
}
