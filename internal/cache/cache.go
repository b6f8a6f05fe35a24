// Package cache implements the enrichment index: a persistent mapping from
// (lookup_key, lookup_type) to a company identifier with confidence and
// provenance.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/entity-resolver/internal/model"
)

// Table is the enrichment index table name.
const Table = "enrichment_index"

// Store defines persistence operations for the enrichment index.
type Store interface {
	// LookupBatch returns the records for the given keys of one lookup type.
	// Missing keys are absent from the map. It never touches hit statistics.
	LookupBatch(ctx context.Context, keys []string, t model.LookupType) (map[string]model.IndexRecord, error)

	// UpsertBatch writes records using the reconciliation rule of
	// model.Reconcile and returns the number of rows inserted or updated.
	UpsertBatch(ctx context.Context, records []model.IndexRecord) (int64, error)

	// RecordHit bumps hit_count and last_hit_at for a key whose cached value
	// was used to resolve a row.
	RecordHit(ctx context.Context, key string, t model.LookupType) error
}

// recordColumns is the column order used by both adapters for reads.
const recordColumns = `lookup_key, lookup_type, company_id, confidence, source,
	source_domain, source_table, hit_count, last_hit_at, created_at, updated_at`

// upsertColumns is the column order used by both adapters for writes.
var upsertColumns = []string{
	"lookup_key", "lookup_type", "company_id", "confidence", "source",
	"source_domain", "source_table", "hit_count", "created_at", "updated_at",
}

// sourceRankSQL renders model.Source.Rank as a SQL CASE expression.
func sourceRankSQL(col string) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(col)
	for _, s := range model.Sources {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", s, s.Rank())
	}
	b.WriteString(" ELSE 0 END")
	return b.String()
}

// winsSQL renders model.Wins for an ON CONFLICT clause: EXCLUDED is the
// incoming row, target the existing one. collate forces byte ordering of
// company IDs so the database agrees with Go's string comparison.
func winsSQL(target, collate string) string {
	inRank := sourceRankSQL("EXCLUDED.source")
	exRank := sourceRankSQL(target + ".source")
	return fmt.Sprintf(
		"(EXCLUDED.confidence > %[1]s.confidence OR (EXCLUDED.confidence = %[1]s.confidence AND "+
			"((%[2]s) > (%[3]s) OR ((%[2]s) = (%[3]s) AND EXCLUDED.company_id%[4]s < %[1]s.company_id%[4]s))))",
		target, inRank, exRank, collate,
	)
}

// reconcileSetClauses returns the ON CONFLICT assignments implementing
// model.Reconcile. greatest is the dialect's two-argument max function.
func reconcileSetClauses(target, collate, greatest string) []string {
	wins := winsSQL(target, collate)
	pick := func(col string) string {
		return fmt.Sprintf("%[1]s = CASE WHEN %[2]s THEN EXCLUDED.%[1]s ELSE %[3]s.%[1]s END", col, wins, target)
	}
	return []string{
		pick("company_id"),
		pick("source"),
		pick("source_domain"),
		pick("source_table"),
		fmt.Sprintf("confidence = %s(%s.confidence, EXCLUDED.confidence)", greatest, target),
		fmt.Sprintf("hit_count = %s.hit_count + 1", target),
		"updated_at = EXCLUDED.updated_at",
	}
}

// nilIfEmpty returns nil for empty strings, allowing NULL storage.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
