// Package learn extracts high-confidence mappings from a completed batch
// and writes them into the enrichment index for later runs.
package learn

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/backflow"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/tempid"
)

// DefaultMinSampleSize is the smallest number of valid rows a domain needs
// before anything is learned from it.
const DefaultMinSampleSize = 20

// Confidence is the confidence assigned to learned mappings per lookup type.
// Structured codes are trusted more than free-text names.
var Confidence = map[model.LookupType]float64{
	model.LookupPlanCode:      0.95,
	model.LookupAccountNumber: 0.95,
	model.LookupPlanCustomer:  0.92,
	model.LookupCustomerName:  0.88,
	model.LookupFormerName:    0.85,
}

// Stats summarizes one LearnFromBatch call.
type Stats struct {
	Domain string `json:"domain"`
	Table  string `json:"table"`

	RowsSeen  int `json:"rows_seen"`
	RowsValid int `json:"rows_valid"`

	// BelowSample is set when the domain had fewer valid rows than required.
	BelowSample bool `json:"below_sample"`

	Candidates  int `json:"candidates"`
	Ambiguous   int `json:"ambiguous"`
	Degenerate  int `json:"degenerate"`
	Written     int `json:"written"`
	WriteErrors int `json:"write_errors"`
}

// Fields returns the stats as zap fields.
func (s Stats) Fields() []zap.Field {
	return []zap.Field{
		zap.String("domain", s.Domain),
		zap.String("table", s.Table),
		zap.Int("rows_seen", s.RowsSeen),
		zap.Int("rows_valid", s.RowsValid),
		zap.Bool("below_sample", s.BelowSample),
		zap.Int("candidates", s.Candidates),
		zap.Int("ambiguous", s.Ambiguous),
		zap.Int("degenerate", s.Degenerate),
		zap.Int("written", s.Written),
		zap.Int("write_errors", s.WriteErrors),
	}
}

// Learner writes learned mappings through a backflow writer.
type Learner struct {
	writer *backflow.Writer
}

// New creates a Learner.
func New(writer *backflow.Writer) *Learner {
	return &Learner{writer: writer}
}

// LearnFromBatch extracts mappings from rows that resolved to a real
// identifier at accept-level confidence without a review flag. Nothing is
// written when fewer than minSample rows qualify. A key that maps to more
// than one identifier within the batch is dropped as ambiguous.
func (l *Learner) LearnFromBatch(ctx context.Context, rows []model.ResolvedRow, bindings []model.Binding, domain, table string, minSample int) Stats {
	log := zap.L().With(zap.String("component", "learn"), zap.String("domain", domain), zap.String("table", table))
	st := Stats{Domain: domain, Table: table, RowsSeen: len(rows)}

	valid := make([]model.ResolvedRow, 0, len(rows))
	for _, r := range rows {
		if eligible(r) {
			valid = append(valid, r)
		}
	}
	st.RowsValid = len(valid)

	if minSample < 1 {
		minSample = 1
	}
	if len(valid) < minSample {
		st.BelowSample = true
		log.Info("learn: not enough valid rows", zap.Int("valid", len(valid)), zap.Int("min_sample", minSample))
		return st
	}

	col := backflow.NewCollector()
	for _, r := range valid {
		for _, b := range bindings {
			conf, ok := Confidence[b.Type]
			if !ok {
				continue
			}
			cand := backflow.Candidate{
				Type:         b.Type,
				Raw:          r.Row[b.Column],
				CompanyID:    r.CompanyID,
				Confidence:   conf,
				Source:       model.SourceDomainLearning,
				SourceDomain: domain,
				SourceTable:  table,
			}
			if b.Type == model.LookupPlanCustomer {
				cand.Plan = r.Row[b.PlanColumn]
			}
			col.Add(cand)
		}
	}

	candidates, ambiguous := col.Candidates()
	for _, rk := range ambiguous {
		log.Debug("learn: ambiguous key dropped",
			zap.String("lookup_type", string(rk.Type)),
			zap.String("key", rk.Key),
			zap.Strings("company_ids", col.IDs(rk)),
		)
	}
	st.Candidates = len(candidates)
	st.Ambiguous = len(ambiguous)
	st.Degenerate = col.Degenerate()

	written, _, err := l.writer.Promote(ctx, candidates)
	if err != nil {
		st.WriteErrors++
		log.Warn("learn: write failed", zap.Error(err))
	}
	st.Written = written

	log.Info("learn: batch complete", st.Fields()...)
	return st
}

// eligible reports whether a resolved row may teach the cache.
func eligible(r model.ResolvedRow) bool {
	return r.CompanyID != "" &&
		!r.IsTemp &&
		!tempid.IsTemp(r.CompanyID) &&
		!r.NeedsReview &&
		model.Decide(r.Confidence) == model.DecisionAccept
}
