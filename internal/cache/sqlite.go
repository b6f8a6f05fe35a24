package cache

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/db"
	"github.com/sells-group/entity-resolver/internal/model"
)

// sqliteMaxParams keeps IN lists below SQLite's bound-parameter limit.
const sqliteMaxParams = 500

// SQLiteStore implements Store using database/sql and modernc.org/sqlite.
type SQLiteStore struct {
	conn *sql.DB
	now  func() time.Time
}

// NewSQLiteStore creates a new SQLiteStore over an open database.
func NewSQLiteStore(conn *sql.DB) *SQLiteStore {
	return &SQLiteStore{conn: conn, now: time.Now}
}

// LookupBatch fetches all records of type t whose key is in keys.
func (s *SQLiteStore) LookupBatch(ctx context.Context, keys []string, t model.LookupType) (map[string]model.IndexRecord, error) {
	out := make(map[string]model.IndexRecord, len(keys))
	for start := 0; start < len(keys); start += sqliteMaxParams {
		end := min(start+sqliteMaxParams, len(keys))
		chunk := keys[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, string(t))
		for _, k := range chunk {
			args = append(args, k)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		rows, err := s.conn.QueryContext(ctx,
			`SELECT `+recordColumns+` FROM enrichment_index
			WHERE lookup_type = ? AND lookup_key IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "cache: lookup batch (%s)", t)
		}
		for rows.Next() {
			r, err := scanSQLiteRecord(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[r.LookupKey] = r
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "cache: iterate lookup batch (%s)", t)
		}
	}
	return out, nil
}

// UpsertBatch writes records one statement per row inside a transaction.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, records []model.IndexRecord) (int64, error) {
	records = model.DedupeRecords(records)
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "cache: upsert batch: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO enrichment_index (`+strings.Join(upsertColumns, ", ")+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (lookup_key, lookup_type) DO UPDATE SET `+
		strings.Join(reconcileSetClauses(Table, "", "MAX"), ", "))
	if err != nil {
		return 0, eris.Wrap(err, "cache: upsert batch: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := db.SQLiteTime(s.now())
	var total int64
	for _, r := range records {
		res, err := stmt.ExecContext(ctx,
			r.LookupKey,
			string(r.LookupType),
			r.CompanyID,
			r.Confidence,
			string(r.Source),
			nilIfEmpty(r.SourceDomain),
			nilIfEmpty(r.SourceTable),
			0,
			now,
			now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "cache: upsert %s/%s", r.LookupType, r.LookupKey)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "cache: upsert batch: commit tx")
	}
	return total, nil
}

// RecordHit increments hit statistics for a key.
func (s *SQLiteStore) RecordHit(ctx context.Context, key string, t model.LookupType) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE enrichment_index
		SET hit_count = hit_count + 1, last_hit_at = ?
		WHERE lookup_key = ? AND lookup_type = ?`,
		db.SQLiteTime(s.now()), key, string(t),
	)
	return eris.Wrapf(err, "cache: record hit (%s)", t)
}

func scanSQLiteRecord(rows *sql.Rows) (model.IndexRecord, error) {
	var (
		r                    model.IndexRecord
		lookupType, source   string
		domain, sourceTable  sql.NullString
		lastHit              sql.NullString
		createdAt, updatedAt string
	)
	err := rows.Scan(
		&r.LookupKey, &lookupType, &r.CompanyID, &r.Confidence, &source,
		&domain, &sourceTable, &r.HitCount, &lastHit, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, eris.Wrap(err, "cache: scan record")
	}
	r.LookupType = model.LookupType(lookupType)
	r.Source = model.Source(source)
	r.SourceDomain = domain.String
	r.SourceTable = sourceTable.String
	if r.LastHitAt, err = db.ParseSQLiteNullTime(lastHit); err != nil {
		return r, err
	}
	if r.CreatedAt, err = db.ParseSQLiteTime(createdAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = db.ParseSQLiteTime(updatedAt); err != nil {
		return r, err
	}
	return r, nil
}
