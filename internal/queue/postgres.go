package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/db"
	"github.com/sells-group/entity-resolver/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool  db.Pool
	now   func() time.Time
	newID func() string
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now, newID: uuid.NewString}
}

// Enqueue inserts a pending item unless the name is active or failed. The
// partial unique index makes concurrent enqueues of one name collapse to a
// single row.
func (s *PostgresStore) Enqueue(ctx context.Context, rawName, tempID string) (bool, error) {
	name, err := prepareEnqueue(rawName, tempID)
	if err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO enrichment_queue (request_id, raw_name, normalized_name, assigned_temp_id, status, attempts, created_at)
		SELECT $1, $2, $3, $4, 'pending', 0, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM enrichment_queue WHERE normalized_name = $3 AND status = 'failed'
		)
		ON CONFLICT DO NOTHING`,
		s.newID(), rawName, name, tempID, s.now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "queue: enqueue %q", name)
	}
	return tag.RowsAffected() == 1, nil
}

// Claim locks due pending rows with FOR UPDATE SKIP LOCKED and moves them to
// processing in the same transaction, so concurrent workers never share an
// item.
func (s *PostgresStore) Claim(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "queue: claim: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT request_id
		FROM enrichment_queue
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at, request_id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "queue: claim: select due")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "queue: claim: scan id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "queue: claim: iterate ids")
	}

	if len(ids) == 0 {
		_ = tx.Commit(ctx)
		return nil, nil
	}

	rows, err = tx.Query(ctx, `
		UPDATE enrichment_queue
		SET status = 'processing', claimed_at = $2
		WHERE request_id = ANY($1)
		RETURNING `+itemColumns,
		ids, now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "queue: claim: mark processing")
	}
	items := make([]model.QueueItem, 0, len(ids))
	for rows.Next() {
		item, err := scanPostgresItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "queue: claim: iterate claimed")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "queue: claim: commit")
	}
	sortItems(items)
	return items, nil
}

// MarkDone completes a claimed item.
func (s *PostgresStore) MarkDone(ctx context.Context, requestID string, processedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE enrichment_queue
		SET status = 'done', processed_at = $2, error_message = NULL, claimed_at = NULL
		WHERE request_id = $1 AND status = 'processing'`,
		requestID, processedAt.UTC(),
	)
	return checkTransition(tag.RowsAffected(), err, "mark done", requestID)
}

// MarkRetry counts a failed attempt and reschedules the item.
func (s *PostgresStore) MarkRetry(ctx context.Context, requestID string, nextRetryAt time.Time, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE enrichment_queue
		SET status = 'pending', attempts = attempts + 1, next_retry_at = $2,
			error_message = $3, claimed_at = NULL
		WHERE request_id = $1 AND status = 'processing'`,
		requestID, nextRetryAt.UTC(), errMsg,
	)
	return checkTransition(tag.RowsAffected(), err, "mark retry", requestID)
}

// MarkFailed counts the final attempt and makes the item terminal.
func (s *PostgresStore) MarkFailed(ctx context.Context, requestID string, processedAt time.Time, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE enrichment_queue
		SET status = 'failed', attempts = attempts + 1, next_retry_at = NULL,
			error_message = $3, processed_at = $2, claimed_at = NULL
		WHERE request_id = $1 AND status = 'processing'`,
		requestID, processedAt.UTC(), errMsg,
	)
	return checkTransition(tag.RowsAffected(), err, "mark failed", requestID)
}

// Release returns claimed items to pending.
func (s *PostgresStore) Release(ctx context.Context, requestIDs []string) error {
	if len(requestIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE enrichment_queue
		SET status = 'pending', claimed_at = NULL
		WHERE request_id = ANY($1) AND status = 'processing'`,
		requestIDs,
	)
	return eris.Wrap(err, "queue: release")
}

// RequeueStale releases items whose claim is older than claimedBefore.
func (s *PostgresStore) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE enrichment_queue
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < $1`,
		claimedBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "queue: requeue stale")
	}
	return tag.RowsAffected(), nil
}

// ResetFailed moves failed items back to pending.
func (s *PostgresStore) ResetFailed(ctx context.Context, rawName string) (int64, error) {
	name, err := resetTarget(rawName)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE enrichment_queue AS q
		SET status = 'pending', attempts = 0, next_retry_at = NULL,
			error_message = NULL, claimed_at = NULL, processed_at = NULL
		WHERE q.status = 'failed'
			AND ($1 = '' OR q.normalized_name = $1)
			AND NOT EXISTS (
				SELECT 1 FROM enrichment_queue a
				WHERE a.normalized_name = q.normalized_name AND a.status IN ('pending', 'processing')
			)`,
		name,
	)
	if err != nil {
		return 0, eris.Wrap(err, "queue: reset failed")
	}
	return tag.RowsAffected(), nil
}

// Counts returns the number of items per status.
func (s *PostgresStore) Counts(ctx context.Context) (model.QueueCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM enrichment_queue GROUP BY status`)
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

func checkTransition(affected int64, err error, op, requestID string) error {
	if err != nil {
		return eris.Wrapf(err, "queue: %s %s", op, requestID)
	}
	if affected == 0 {
		return eris.Wrapf(ErrNotClaimed, "queue: %s %s", op, requestID)
	}
	return nil
}

func scanPostgresItem(rows pgx.Rows) (model.QueueItem, error) {
	var (
		item   model.QueueItem
		status string
		errMsg *string
	)
	err := rows.Scan(
		&item.RequestID, &item.RawName, &item.NormalizedName, &item.AssignedTempID, &status,
		&item.Attempts, &item.NextRetryAt, &errMsg, &item.ClaimedAt, &item.CreatedAt, &item.ProcessedAt,
	)
	if err != nil {
		return item, eris.Wrap(err, "queue: scan item")
	}
	item.Status = model.QueueStatus(status)
	if errMsg != nil {
		item.ErrorMessage = *errMsg
	}
	return item, nil
}
