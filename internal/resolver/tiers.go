package resolver

import (
	"context"
	"errors"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/entity-resolver/internal/backflow"
	"github.com/sells-group/entity-resolver/internal/directory"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
	"github.com/sells-group/entity-resolver/internal/tempid"
)

// cachePass is the lookup of one binding's distinct keys.
type cachePass struct {
	binding model.Binding
	keys    []string
	hits    map[string]model.IndexRecord
	err     error
}

// resolveCache looks up every binding concurrently, then applies hits in
// binding order on the calling goroutine. Keys are collected for all
// bindings before any hit is applied, so a row resolved by an earlier
// binding still has its later-binding keys looked up and counted in
// CacheLookups.
func (r *Resolver) resolveCache(ctx context.Context, b *batch) {
	var passes []*cachePass
	for _, bd := range b.strategy.Bindings {
		if !bd.Type.Valid() {
			continue
		}
		seen := make(map[string]bool)
		var keys []string
		for i := range b.rows {
			if b.resolved[i] {
				continue
			}
			k := b.key(i, bd)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
		if len(keys) > 0 {
			passes = append(passes, &cachePass{binding: bd, keys: keys})
		}
	}
	if len(passes) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, p := range passes {
		g.Go(func() error {
			p.hits, p.err = r.cache.LookupBatch(ctx, p.keys, p.binding.Type)
			return nil
		})
	}
	_ = g.Wait()

	var hitKeys []model.RecordKey
	seenHit := make(map[model.RecordKey]bool)
	for _, p := range passes {
		b.stats.CacheLookups += len(p.keys)
		if p.err != nil {
			// A failed lookup is a miss.
			b.stats.CacheErrors++
			r.log.Warn("resolver: cache lookup failed",
				zap.String("lookup_type", string(p.binding.Type)),
				zap.String("column", p.binding.Column),
				zap.Int("keys", len(p.keys)),
				zap.Error(p.err),
			)
			continue
		}
		for i := range b.rows {
			if b.resolved[i] {
				continue
			}
			k := b.key(i, p.binding)
			rec, ok := p.hits[k]
			if !ok || rec.CompanyID == "" || tempid.IsTemp(rec.CompanyID) {
				continue
			}
			rk := model.RecordKey{Key: k, Type: p.binding.Type}
			if b.accept(i, rec.CompanyID, rec.Confidence, model.TierCache, rk) && !seenHit[rk] {
				seenHit[rk] = true
				hitKeys = append(hitKeys, rk)
			}
		}
	}

	for _, rk := range hitKeys {
		if err := r.cache.RecordHit(ctx, rk.Key, rk.Type); err != nil {
			b.stats.CacheErrors++
			r.log.Debug("resolver: record hit failed", zap.String("key", rk.Key), zap.Error(err))
		}
	}
}

// nameGroup is one distinct normalized name among unresolved rows.
type nameGroup struct {
	name string
	raw  string // raw value of the first row carrying the name
	rows []int
}

// unresolvedNames groups unresolved rows by normalized name in order of
// first appearance.
func (b *batch) unresolvedNames(col string) []*nameGroup {
	var out []*nameGroup
	idx := make(map[string]*nameGroup)
	for i, row := range b.rows {
		if b.resolved[i] {
			continue
		}
		n := normalize.Name(row[col])
		if n == "" {
			continue
		}
		g, ok := idx[n]
		if !ok {
			g = &nameGroup{name: n, raw: row[col]}
			idx[n] = g
			out = append(out, g)
		}
		g.rows = append(g.rows, i)
	}
	return out
}

// resolveExternal sends at most SyncBudget distinct names to the
// directory. Hits are written back immediately.
func (r *Resolver) resolveExternal(ctx context.Context, b *batch) {
	if !b.strategy.EnableExternal || r.directory == nil {
		return
	}
	col := b.strategy.EffectiveNameColumn()
	if col == "" {
		return
	}

	// A negative budget never means unlimited here; only the worker is
	// unbudgeted.
	session := directory.NewSession(r.directory, max(0, b.strategy.SyncBudget))
	defer func() {
		b.stats.ExternalCalls = session.Consumed()
		b.stats.BudgetConsumed = session.Consumed()
		b.stats.BudgetRemaining = session.Remaining()
	}()

	groups := b.unresolvedNames(col)
	for n, g := range groups {
		if ctx.Err() != nil {
			return
		}

		info, err := session.Lookup(ctx, g.raw)
		if err == nil && (info == nil || info.CompanyID == "" || tempid.IsTemp(info.CompanyID)) {
			err = directory.ErrNotFound
		}
		switch {
		case errors.Is(err, directory.ErrBudgetExhausted):
			b.stats.BudgetExhaustedSkips += len(groups) - n
			return
		case errors.Is(err, directory.ErrUnauthorized), errors.Is(err, directory.ErrUnavailable):
			// The session logs the first failure; the rest of the batch
			// falls through to temporary identifiers.
			b.stats.ExternalAuthFailures++
			return
		case errors.Is(err, directory.ErrNotFound):
			b.stats.ExternalNotFound++
			continue
		case err != nil:
			b.stats.ExternalErrors++
			r.log.Debug("resolver: directory lookup failed", zap.String("name", g.name), zap.Error(err))
			continue
		}

		b.stats.ExternalHits++
		rk := model.RecordKey{Key: g.name, Type: model.LookupCustomerName}
		accepted := false
		for _, i := range g.rows {
			if b.accept(i, info.CompanyID, info.Confidence, model.TierExternal, rk) {
				accepted = true
			}
		}
		if accepted && b.strategy.EnableBackflow {
			r.writeBack(ctx, b, []backflow.Candidate{{
				Type:       model.LookupCustomerName,
				Raw:        g.raw,
				CompanyID:  info.CompanyID,
				Confidence: info.Confidence,
				Source:     model.SourceExternalAPI,
			}})
		}
	}
}

// assignTemp gives every unresolved row a temporary identifier and queues
// each distinct name for deferred resolution.
func (r *Resolver) assignTemp(ctx context.Context, b *batch) {
	col := b.strategy.EffectiveNameColumn()
	generated := make(map[string]bool)
	queued := make(map[string]bool)

	type request struct{ raw, tempID string }
	var requests []request

	for i, row := range b.rows {
		if b.resolved[i] {
			continue
		}
		raw := ""
		if col != "" {
			raw = row[col]
		}
		name := normalize.Name(raw)

		id := b.existingTempID(i)
		if id == "" {
			seed := name
			if seed == "" {
				seed = b.fallbackSeed(i)
			}
			if seed == "" {
				// Rows with no name and no key share one identifier.
				b.stats.TempUnkeyed++
			}
			id = r.tempIDs.Generate(seed)
		}

		b.out[i].CompanyID = id
		b.out[i].Confidence = 0
		b.out[i].Tier = model.TierTemp
		b.out[i].IsTemp = true
		b.stats.TempAssigned++
		if !generated[id] {
			generated[id] = true
			b.stats.TempIDsGenerated++
		}

		if name != "" && !queued[name] {
			queued[name] = true
			requests = append(requests, request{raw: raw, tempID: id})
		}
	}

	if b.stats.TempUnkeyed > 0 {
		r.log.Warn("resolver: rows without name or key share one temporary identifier",
			zap.Int("rows", b.stats.TempUnkeyed))
	}

	if !b.strategy.EnableAsync || r.queue == nil {
		return
	}
	for _, req := range requests {
		ok, err := r.queue.Enqueue(ctx, req.raw, req.tempID)
		switch {
		case err != nil:
			b.stats.AsyncErrors++
			r.log.Warn("resolver: enqueue failed", zap.String("name", req.raw), zap.Error(err))
		case ok:
			b.stats.AsyncEnqueued++
		default:
			b.stats.AsyncSkipped++
		}
	}
}

// existingTempID returns a temporary identifier already carried by the row.
func (b *batch) existingTempID(i int) string {
	col := b.strategy.IdentifierColumn
	if col == "" {
		return ""
	}
	id := strings.TrimSpace(b.rows[i][col])
	if tempid.IsTemp(id) {
		return strings.ToUpper(id)
	}
	return ""
}

// fallbackSeed derives a temp-ID seed for rows without a usable name from
// their first non-empty binding key.
func (b *batch) fallbackSeed(i int) string {
	for _, bd := range b.strategy.Bindings {
		if k := b.key(i, bd); k != "" {
			return string(bd.Type) + ":" + k
		}
	}
	return ""
}

// promote writes the other keys of every accepted row back to the cache
// as backflow mappings. Rows flagged for review teach nothing.
func (r *Resolver) promote(ctx context.Context, b *batch) {
	if !b.strategy.EnableBackflow {
		return
	}

	col := backflow.NewCollector()
	for i, row := range b.rows {
		o := b.out[i]
		if !b.resolved[i] || o.NeedsReview {
			continue
		}
		conf := math.Min(o.Confidence, MaxBackflowConfidence)
		for _, bd := range b.strategy.Bindings {
			if !bd.Type.Valid() {
				continue
			}
			k := b.key(i, bd)
			if k == "" || (model.RecordKey{Key: k, Type: bd.Type}) == b.matched[i] {
				continue
			}
			cand := backflow.Candidate{
				Type:       bd.Type,
				Raw:        row[bd.Column],
				CompanyID:  o.CompanyID,
				Confidence: conf,
				Source:     model.SourceBackflow,
			}
			if bd.Type == model.LookupPlanCustomer {
				cand.Plan = row[bd.PlanColumn]
			}
			col.Add(cand)
		}
	}

	candidates, ambiguous := col.Candidates()
	b.stats.BackflowSkipped += len(ambiguous)
	if len(ambiguous) > 0 {
		r.log.Debug("resolver: ambiguous backflow keys dropped", zap.Int("keys", len(ambiguous)))
	}
	r.writeBack(ctx, b, candidates)
}

// writeBack promotes candidates. Errors are counted and logged by the
// writer; resolution never fails because of them.
func (r *Resolver) writeBack(ctx context.Context, b *batch, candidates []backflow.Candidate) {
	if len(candidates) == 0 {
		return
	}
	b.stats.BackflowCandidates += len(candidates)
	written, skipped, err := r.backflow.Promote(ctx, candidates)
	b.stats.BackflowSkipped += skipped
	if err != nil {
		b.stats.BackflowErrors++
		return
	}
	b.stats.BackflowWritten += written
}
