// Package backflow writes accepted resolutions back into the enrichment
// index so later batches resolve the same values from cache.
package backflow

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/cache"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
	"github.com/sells-group/entity-resolver/internal/tempid"
)

// Candidate is one accepted mapping from a raw value to a company.
type Candidate struct {
	Type       model.LookupType
	Raw        string
	Plan       string // plan code, for plan_customer candidates only
	CompanyID  string
	Confidence float64
	Source     model.Source

	SourceDomain string
	SourceTable  string
}

// Key returns the cache key of the candidate. It is the same key the
// resolver computes when reading.
func (c Candidate) Key() string {
	return normalize.Key(c.Type, c.Raw, c.Plan)
}

// Writer promotes candidates into the cache.
type Writer struct {
	cache cache.Store
}

// NewWriter creates a Writer over the given cache.
func NewWriter(c cache.Store) *Writer {
	return &Writer{cache: c}
}

// Records converts candidates into index records. Candidates with a
// degenerate key, an empty or temporary identifier, or an unknown lookup
// type are counted as skipped.
func Records(candidates []Candidate) (records []model.IndexRecord, skipped int) {
	records = make([]model.IndexRecord, 0, len(candidates))
	for _, c := range candidates {
		id := strings.TrimSpace(c.CompanyID)
		key := c.Key()
		if !c.Type.Valid() || key == "" || id == "" || tempid.IsTemp(id) {
			skipped++
			continue
		}
		src := c.Source
		if src == "" {
			src = model.SourceBackflow
		}
		records = append(records, model.IndexRecord{
			LookupKey:    key,
			LookupType:   c.Type,
			CompanyID:    id,
			Confidence:   model.RoundConfidence(c.Confidence),
			Source:       src,
			SourceDomain: c.SourceDomain,
			SourceTable:  c.SourceTable,
		})
	}
	return model.DedupeRecords(records), skipped
}

// Promote writes candidates with one UpsertBatch call. written is the
// number of distinct (type, key) records sent to the cache. On a store
// error the error is logged and returned with written = 0.
func (w *Writer) Promote(ctx context.Context, candidates []Candidate) (written, skipped int, err error) {
	records, skipped := Records(candidates)
	if len(records) == 0 {
		return 0, skipped, nil
	}

	if _, err := w.cache.UpsertBatch(ctx, records); err != nil {
		zap.L().Warn("backflow: upsert failed",
			zap.Int("records", len(records)),
			zap.Error(err),
		)
		return 0, skipped, eris.Wrap(err, "backflow: promote")
	}
	return len(records), skipped, nil
}
