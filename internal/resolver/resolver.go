// Package resolver assigns a company identifier to every row of a batch.
//
// Tiers run in a fixed order: static overrides, the enrichment cache,
// identifiers already present in the row, the external directory (within
// the strategy's call budget) and finally a deterministic temporary
// identifier plus a deferred-resolution request. A row resolved by an
// earlier tier is never revisited by a later one.
package resolver

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/backflow"
	"github.com/sells-group/entity-resolver/internal/cache"
	"github.com/sells-group/entity-resolver/internal/directory"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
	"github.com/sells-group/entity-resolver/internal/override"
	"github.com/sells-group/entity-resolver/internal/queue"
	"github.com/sells-group/entity-resolver/internal/tempid"
)

const (
	// PassthroughConfidence is the confidence of an identifier taken from
	// the row itself.
	PassthroughConfidence = 1.0

	// MaxBackflowConfidence caps mappings derived from another key of the
	// same row, so they never tie with a static override.
	MaxBackflowConfidence = 0.95

	// DefaultLookupConcurrency bounds concurrent cache lookups.
	DefaultLookupConcurrency = 4
)

// Resolver runs the tiered resolution of a batch. Only the cache and the
// temp-ID generator are required.
type Resolver struct {
	overrides   *override.Store
	cache       cache.Store
	directory   directory.Client
	queue       queue.Store
	tempIDs     *tempid.Generator
	backflow    *backflow.Writer
	concurrency int
	log         *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithOverrides sets the static override store.
func WithOverrides(o *override.Store) Option {
	return func(r *Resolver) { r.overrides = o }
}

// WithDirectory sets the external directory client. Without one the
// external tier is skipped.
func WithDirectory(c directory.Client) Option {
	return func(r *Resolver) { r.directory = c }
}

// WithQueue sets the deferred-resolution queue. Without one unresolved
// names only receive temporary identifiers.
func WithQueue(q queue.Store) Option {
	return func(r *Resolver) { r.queue = q }
}

// WithLookupConcurrency bounds the number of concurrent cache lookups.
func WithLookupConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New creates a Resolver over an explicitly provided cache.
func New(c cache.Store, gen *tempid.Generator, opts ...Option) *Resolver {
	r := &Resolver{
		cache:       c,
		tempIDs:     gen,
		backflow:    backflow.NewWriter(c),
		concurrency: DefaultLookupConcurrency,
		log:         zap.L().With(zap.String("component", "resolver")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// batch is the working state of one ResolveBatch call. The resolved mask
// and output rows are only touched on the calling goroutine.
type batch struct {
	strategy model.Strategy
	rows     []model.Row
	out      []model.ResolvedRow
	resolved []bool
	matched  []model.RecordKey
	stats    model.Statistics
}

// ResolveBatch resolves every row and never fails: a row no tier can
// resolve gets a temporary identifier. Accepted mappings are written back
// to the cache before it returns when the strategy enables backflow.
func (r *Resolver) ResolveBatch(ctx context.Context, rows []model.Row, strategy model.Strategy) ([]model.ResolvedRow, model.Statistics) {
	b := &batch{
		strategy: strategy,
		rows:     rows,
		out:      make([]model.ResolvedRow, len(rows)),
		resolved: make([]bool, len(rows)),
		matched:  make([]model.RecordKey, len(rows)),
	}
	b.stats.TotalRows = len(rows)
	for i, row := range rows {
		b.out[i].Row = row
	}

	if err := strategy.Validate(); err != nil {
		r.log.Warn("resolver: invalid strategy, unusable bindings are skipped", zap.Error(err))
	}

	r.resolveStatic(b)
	r.resolveCache(ctx, b)
	r.resolvePassthrough(b)
	r.resolveExternal(ctx, b)
	r.assignTemp(ctx, b)
	r.promote(ctx, b)

	r.log.Info("resolver: batch complete", b.stats.Fields()...)
	return b.out, b.stats
}

// key computes the lookup key of row i for a binding.
func (b *batch) key(i int, bd model.Binding) string {
	row := b.rows[i]
	plan := ""
	if bd.Type == model.LookupPlanCustomer {
		plan = row[bd.PlanColumn]
	}
	return normalize.Key(bd.Type, row[bd.Column], plan)
}

// accept applies the confidence policy and records a resolution. It
// returns false when the confidence is below the review threshold.
func (b *batch) accept(i int, id string, confidence float64, tier model.Tier, matched model.RecordKey) bool {
	decision := model.Decide(confidence)
	if decision == model.DecisionReject {
		b.stats.LowConfidence++
		return false
	}
	b.out[i].CompanyID = id
	b.out[i].Confidence = model.RoundConfidence(confidence)
	b.out[i].Tier = tier
	b.out[i].MatchedBy = matched.Type
	b.out[i].NeedsReview = decision == model.DecisionReview
	b.resolved[i] = true
	b.matched[i] = matched

	if b.out[i].NeedsReview {
		b.stats.NeedsReview++
	}
	switch tier {
	case model.TierStatic:
		b.stats.ResolvedStatic++
	case model.TierCache:
		b.stats.ResolvedCache++
	case model.TierPassthrough:
		b.stats.ResolvedPassthrough++
	case model.TierExternal:
		b.stats.ResolvedExternal++
	}
	return true
}

func (r *Resolver) resolveStatic(b *batch) {
	for _, bd := range b.strategy.Bindings {
		if !r.overrides.Has(bd.Type) {
			continue
		}
		for i := range b.rows {
			if b.resolved[i] {
				continue
			}
			k := b.key(i, bd)
			if k == "" {
				continue
			}
			if id, ok := r.overrides.Lookup(bd.Type, k); ok {
				b.accept(i, id, override.Confidence, model.TierStatic, model.RecordKey{Key: k, Type: bd.Type})
			}
		}
	}
}

func (r *Resolver) resolvePassthrough(b *batch) {
	col := b.strategy.IdentifierColumn
	if col == "" {
		return
	}
	for i, row := range b.rows {
		if b.resolved[i] {
			continue
		}
		id := strings.TrimSpace(row[col])
		if id == "" || tempid.IsTemp(id) {
			continue
		}
		b.accept(i, id, PassthroughConfidence, model.TierPassthrough, model.RecordKey{})
	}
}
