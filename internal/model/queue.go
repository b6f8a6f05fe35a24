package model

import "time"

// QueueStatus is the lifecycle state of a deferred resolution request.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusDone       QueueStatus = "done"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueItem is a single enrichment_queue row.
type QueueItem struct {
	RequestID      string      `json:"request_id"`
	RawName        string      `json:"raw_name"`
	NormalizedName string      `json:"normalized_name"`
	AssignedTempID string      `json:"assigned_temp_id"`
	Status         QueueStatus `json:"status"`
	Attempts       int         `json:"attempts"`
	NextRetryAt    *time.Time  `json:"next_retry_at,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	ClaimedAt      *time.Time  `json:"claimed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ProcessedAt    *time.Time  `json:"processed_at,omitempty"`
}

// QueueCounts holds item counts per status.
type QueueCounts map[QueueStatus]int64
