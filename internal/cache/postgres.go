package cache

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/db"
	"github.com/sells-group/entity-resolver/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// LookupBatch fetches all records of type t whose key is in keys.
func (s *PostgresStore) LookupBatch(ctx context.Context, keys []string, t model.LookupType) (map[string]model.IndexRecord, error) {
	out := make(map[string]model.IndexRecord, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM enrichment_index
		WHERE lookup_type = $1 AND lookup_key = ANY($2)`,
		string(t), keys,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: lookup batch (%s)", t)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, err
		}
		out[r.LookupKey] = r
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "cache: iterate lookup batch (%s)", t)
	}
	return out, nil
}

// UpsertBatch writes records through a temp-table COPY and a reconciling
// INSERT ... ON CONFLICT.
func (s *PostgresStore) UpsertBatch(ctx context.Context, records []model.IndexRecord) (int64, error) {
	records = model.DedupeRecords(records)
	if len(records) == 0 {
		return 0, nil
	}

	now := s.now().UTC()
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.LookupKey,
			string(r.LookupType),
			r.CompanyID,
			r.Confidence,
			string(r.Source),
			nilIfEmpty(r.SourceDomain),
			nilIfEmpty(r.SourceTable),
			int64(0),
			now,
			now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        Table,
		Columns:      upsertColumns,
		ConflictKeys: []string{"lookup_key", "lookup_type"},
		SetClauses:   reconcileSetClauses(Table, ` COLLATE "C"`, "GREATEST"),
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "cache: upsert batch")
	}
	return n, nil
}

// RecordHit increments hit statistics for a key.
func (s *PostgresStore) RecordHit(ctx context.Context, key string, t model.LookupType) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE enrichment_index
		SET hit_count = hit_count + 1, last_hit_at = $3
		WHERE lookup_key = $1 AND lookup_type = $2`,
		key, string(t), s.now().UTC(),
	)
	return eris.Wrapf(err, "cache: record hit (%s)", t)
}

func scanPostgresRecord(rows pgx.Rows) (model.IndexRecord, error) {
	var (
		r                   model.IndexRecord
		lookupType, source  string
		domain, sourceTable *string
	)
	err := rows.Scan(
		&r.LookupKey, &lookupType, &r.CompanyID, &r.Confidence, &source,
		&domain, &sourceTable, &r.HitCount, &r.LastHitAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, eris.Wrap(err, "cache: scan record")
	}
	r.LookupType = model.LookupType(lookupType)
	r.Source = model.Source(source)
	if domain != nil {
		r.SourceDomain = *domain
	}
	if sourceTable != nil {
		r.SourceTable = *sourceTable
	}
	return r, nil
}
