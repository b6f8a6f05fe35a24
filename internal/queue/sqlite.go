package queue

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/db"
	"github.com/sells-group/entity-resolver/internal/model"
)

// SQLiteStore implements Store using database/sql and modernc.org/sqlite.
type SQLiteStore struct {
	conn  *sql.DB
	now   func() time.Time
	newID func() string
}

// NewSQLiteStore creates a new SQLiteStore over an open database.
func NewSQLiteStore(conn *sql.DB) *SQLiteStore {
	return &SQLiteStore{conn: conn, now: time.Now, newID: uuid.NewString}
}

// Enqueue inserts a pending item unless the name is active or failed.
func (s *SQLiteStore) Enqueue(ctx context.Context, rawName, tempID string) (bool, error) {
	name, err := prepareEnqueue(rawName, tempID)
	if err != nil {
		return false, err
	}

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO enrichment_queue (request_id, raw_name, normalized_name, assigned_temp_id, status, attempts, created_at)
		SELECT ?, ?, ?, ?, 'pending', 0, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM enrichment_queue WHERE normalized_name = ? AND status = 'failed'
		)
		ON CONFLICT DO NOTHING`,
		s.newID(), rawName, name, tempID, db.SQLiteTime(s.now()), name,
	)
	if err != nil {
		return false, eris.Wrapf(err, "queue: enqueue %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrapf(err, "queue: enqueue %q", name)
	}
	return n == 1, nil
}

// Claim moves due pending items to processing with a single
// UPDATE ... RETURNING statement.
func (s *SQLiteStore) Claim(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	ts := db.SQLiteTime(now)

	rows, err := s.conn.QueryContext(ctx, `
		UPDATE enrichment_queue
		SET status = 'processing', claimed_at = ?
		WHERE request_id IN (
			SELECT request_id FROM enrichment_queue
			WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= ?)
			ORDER BY created_at, request_id
			LIMIT ?
		)
		RETURNING `+itemColumns,
		ts, ts, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "queue: claim")
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		item, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "queue: claim: iterate")
	}
	sortItems(items)
	return items, nil
}

// MarkDone completes a claimed item.
func (s *SQLiteStore) MarkDone(ctx context.Context, requestID string, processedAt time.Time) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE enrichment_queue
		SET status = 'done', processed_at = ?, error_message = NULL, claimed_at = NULL
		WHERE request_id = ? AND status = 'processing'`,
		db.SQLiteTime(processedAt), requestID,
	)
	return checkSQLiteTransition(res, err, "mark done", requestID)
}

// MarkRetry counts a failed attempt and reschedules the item.
func (s *SQLiteStore) MarkRetry(ctx context.Context, requestID string, nextRetryAt time.Time, errMsg string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE enrichment_queue
		SET status = 'pending', attempts = attempts + 1, next_retry_at = ?,
			error_message = ?, claimed_at = NULL
		WHERE request_id = ? AND status = 'processing'`,
		db.SQLiteTime(nextRetryAt), errMsg, requestID,
	)
	return checkSQLiteTransition(res, err, "mark retry", requestID)
}

// MarkFailed counts the final attempt and makes the item terminal.
func (s *SQLiteStore) MarkFailed(ctx context.Context, requestID string, processedAt time.Time, errMsg string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE enrichment_queue
		SET status = 'failed', attempts = attempts + 1, next_retry_at = NULL,
			error_message = ?, processed_at = ?, claimed_at = NULL
		WHERE request_id = ? AND status = 'processing'`,
		errMsg, db.SQLiteTime(processedAt), requestID,
	)
	return checkSQLiteTransition(res, err, "mark failed", requestID)
}

// Release returns claimed items to pending.
func (s *SQLiteStore) Release(ctx context.Context, requestIDs []string) error {
	if len(requestIDs) == 0 {
		return nil
	}
	args := make([]any, len(requestIDs))
	for i, id := range requestIDs {
		args[i] = id
	}
	_, err := s.conn.ExecContext(ctx, `
		UPDATE enrichment_queue
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND request_id IN (`+
		strings.TrimSuffix(strings.Repeat("?,", len(requestIDs)), ",")+`)`,
		args...,
	)
	return eris.Wrap(err, "queue: release")
}

// RequeueStale releases items whose claim is older than claimedBefore.
func (s *SQLiteStore) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE enrichment_queue
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < ?`,
		db.SQLiteTime(claimedBefore),
	)
	if err != nil {
		return 0, eris.Wrap(err, "queue: requeue stale")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResetFailed moves failed items back to pending.
func (s *SQLiteStore) ResetFailed(ctx context.Context, rawName string) (int64, error) {
	name, err := resetTarget(rawName)
	if err != nil {
		return 0, err
	}
	res, err := s.conn.ExecContext(ctx, `
		UPDATE enrichment_queue
		SET status = 'pending', attempts = 0, next_retry_at = NULL,
			error_message = NULL, claimed_at = NULL, processed_at = NULL
		WHERE status = 'failed'
			AND (? = '' OR normalized_name = ?)
			AND NOT EXISTS (
				SELECT 1 FROM enrichment_queue a
				WHERE a.normalized_name = enrichment_queue.normalized_name
					AND a.status IN ('pending', 'processing')
			)`,
		name, name,
	)
	if err != nil {
		return 0, eris.Wrap(err, "queue: reset failed")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Counts returns the number of items per status.
func (s *SQLiteStore) Counts(ctx context.Context) (model.QueueCounts, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT status, count(*) FROM enrichment_queue GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "queue: counts")
	}
	defer rows.Close()

	out := emptyCounts()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "queue: scan counts")
		}
		out[model.QueueStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "queue: iterate counts")
}

func checkSQLiteTransition(res sql.Result, err error, op, requestID string) error {
	if err != nil {
		return eris.Wrapf(err, "queue: %s %s", op, requestID)
	}
	n, err := res.RowsAffected()
	return checkTransition(n, err, op, requestID)
}

func scanSQLiteItem(rows *sql.Rows) (model.QueueItem, error) {
	var (
		item                          model.QueueItem
		status                        string
		errMsg                        sql.NullString
		nextRetry, claimed, processed sql.NullString
		createdAt                     string
	)
	err := rows.Scan(
		&item.RequestID, &item.RawName, &item.NormalizedName, &item.AssignedTempID, &status,
		&item.Attempts, &nextRetry, &errMsg, &claimed, &createdAt, &processed,
	)
	if err != nil {
		return item, eris.Wrap(err, "queue: scan item")
	}
	item.Status = model.QueueStatus(status)
	item.ErrorMessage = errMsg.String
	if item.NextRetryAt, err = db.ParseSQLiteNullTime(nextRetry); err != nil {
		return item, err
	}
	if item.ClaimedAt, err = db.ParseSQLiteNullTime(claimed); err != nil {
		return item, err
	}
	if item.ProcessedAt, err = db.ParseSQLiteNullTime(processed); err != nil {
		return item, err
	}
	if item.CreatedAt, err = db.ParseSQLiteTime(createdAt); err != nil {
		return item, err
	}
	return item, nil
}
