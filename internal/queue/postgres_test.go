package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-resolver/internal/model"
)

var itemRowColumns = []string{
	"request_id", "raw_name", "normalized_name", "assigned_temp_id", "status",
	"attempts", "next_retry_at", "error_message", "claimed_at", "created_at", "processed_at",
}

func newMockPostgresQueue(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	q := NewPostgresStore(mock)
	q.now = func() time.Time { return t0 }
	q.newID = func() string { return "req-1" }
	return q, mock
}

func TestPostgresStore_Enqueue(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`INSERT INTO enrichment_queue .* WHERE NOT EXISTS .* ON CONFLICT DO NOTHING`).
		WithArgs("req-1", "Acme, LLC", "ACME", "IN1", t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ok, err := q.Enqueue(context.Background(), "Acme, LLC", "IN1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Enqueue_Duplicate(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`INSERT INTO enrichment_queue`).
		WithArgs("req-1", "ACME", "ACME", "IN1", t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := q.Enqueue(context.Background(), "ACME", "IN1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Enqueue_Error(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`INSERT INTO enrichment_queue`).
		WithArgs("req-1", "Acme", "ACME", "IN1", t0).
		WillReturnError(fmt.Errorf("connection refused"))

	_, err := q.Enqueue(context.Background(), "Acme", "IN1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue: enqueue")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Enqueue_EmptyName(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	_, err := q.Enqueue(context.Background(), " ", "IN1")
	assert.True(t, errors.Is(err, ErrEmptyName))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Claim(t *testing.T) {
	q, mock := newMockPostgresQueue(t)
	later := t0.Add(time.Second)
	retryAt := t0.Add(-time.Minute)
	msg := "timeout"

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT request_id FROM enrichment_queue .* FOR UPDATE SKIP LOCKED`).
		WithArgs(t0, 10).
		WillReturnRows(pgxmock.NewRows([]string{"request_id"}).AddRow("r1").AddRow("r2"))
	mock.ExpectQuery(`UPDATE enrichment_queue SET status = 'processing'`).
		WithArgs([]string{"r1", "r2"}, t0).
		WillReturnRows(pgxmock.NewRows(itemRowColumns).
			AddRow("r2", "Globex", "GLOBEX", "IN2", "processing", 0, nil, nil, &t0, later, nil).
			AddRow("r1", "Acme", "ACME", "IN1", "processing", 1, &retryAt, &msg, &t0, t0, nil))
	mock.ExpectCommit()

	items, err := q.Claim(context.Background(), t0, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "r1", items[0].RequestID, "oldest first")
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, "timeout", items[0].ErrorMessage)
	require.NotNil(t, items[0].NextRetryAt)
	assert.Equal(t, model.QueueStatusProcessing, items[1].Status)
	assert.Nil(t, items[1].NextRetryAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Claim_NothingDue(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT request_id FROM enrichment_queue`).
		WithArgs(t0, 5).
		WillReturnRows(pgxmock.NewRows([]string{"request_id"}))
	mock.ExpectCommit()

	items, err := q.Claim(context.Background(), t0, 5)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Claim_BeginError(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectBegin().WillReturnError(fmt.Errorf("pool closed"))

	_, err := q.Claim(context.Background(), t0, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Claim_UpdateError(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT request_id FROM enrichment_queue`).
		WithArgs(t0, 5).
		WillReturnRows(pgxmock.NewRows([]string{"request_id"}).AddRow("r1"))
	mock.ExpectQuery(`UPDATE enrichment_queue`).
		WithArgs([]string{"r1"}, t0).
		WillReturnError(fmt.Errorf("deadlock detected"))
	mock.ExpectRollback()

	_, err := q.Claim(context.Background(), t0, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark processing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkRetry(t *testing.T) {
	q, mock := newMockPostgresQueue(t)
	next := t0.Add(5 * time.Minute)

	mock.ExpectExec(`UPDATE enrichment_queue SET status = 'pending', attempts = attempts \+ 1`).
		WithArgs("r1", next, "timeout").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, q.MarkRetry(context.Background(), "r1", next, "timeout"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkFailed(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`UPDATE enrichment_queue SET status = 'failed'`).
		WithArgs("r1", t0, "no match").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, q.MarkFailed(context.Background(), "r1", t0, "no match"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkDone_NotClaimed(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`UPDATE enrichment_queue SET status = 'done'`).
		WithArgs("r1", t0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := q.MarkDone(context.Background(), "r1", t0)
	assert.True(t, errors.Is(err, ErrNotClaimed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Release(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`UPDATE enrichment_queue SET status = 'pending', claimed_at = NULL WHERE request_id = ANY`).
		WithArgs([]string{"r1", "r2"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, q.Release(context.Background(), []string{"r1", "r2"}))
	require.NoError(t, q.Release(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RequeueStale(t *testing.T) {
	q, mock := newMockPostgresQueue(t)
	cutoff := t0.Add(-15 * time.Minute)

	mock.ExpectExec(`UPDATE enrichment_queue SET status = 'pending', claimed_at = NULL WHERE status = 'processing' AND claimed_at <`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := q.RequeueStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetFailed(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectExec(`UPDATE enrichment_queue AS q SET status = 'pending', attempts = 0`).
		WithArgs("ACME").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE enrichment_queue AS q`).
		WithArgs("").
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := q.ResetFailed(context.Background(), "Acme Inc.")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = q.ResetFailed(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Counts(t *testing.T) {
	q, mock := newMockPostgresQueue(t)

	mock.ExpectQuery(`SELECT status, count\(\*\) FROM enrichment_queue GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", int64(3)).
			AddRow("failed", int64(1)))

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[model.QueueStatusPending])
	assert.Equal(t, int64(1), counts[model.QueueStatusFailed])
	assert.Equal(t, int64(0), counts[model.QueueStatusDone])
	assert.Len(t, counts, 4)
	assert.NoError(t, mock.ExpectationsWereMet())
}
