package backflow

import (
	"sort"

	"github.com/sells-group/entity-resolver/internal/model"
)

// Collector gathers candidates from many rows and keeps one per
// (lookup type, key). A key seen with two different identifiers is
// ambiguous and is dropped.
type Collector struct {
	groups     map[model.RecordKey]*group
	order      []model.RecordKey
	degenerate int
}

type group struct {
	best Candidate
	ids  map[string]bool
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{groups: make(map[model.RecordKey]*group)}
}

// Add records a candidate. It returns false when the candidate's key is
// degenerate.
func (c *Collector) Add(cand Candidate) bool {
	key := cand.Key()
	if key == "" {
		c.degenerate++
		return false
	}
	rk := model.RecordKey{Key: key, Type: cand.Type}
	g, ok := c.groups[rk]
	if !ok {
		c.groups[rk] = &group{best: cand, ids: map[string]bool{cand.CompanyID: true}}
		c.order = append(c.order, rk)
		return true
	}
	g.ids[cand.CompanyID] = true
	if cand.CompanyID == g.best.CompanyID && cand.Confidence > g.best.Confidence {
		g.best = cand
	}
	return true
}

// Candidates returns the unambiguous candidates in first-seen order and
// the keys dropped as ambiguous.
func (c *Collector) Candidates() (out []Candidate, ambiguous []model.RecordKey) {
	out = make([]Candidate, 0, len(c.order))
	for _, rk := range c.order {
		g := c.groups[rk]
		if len(g.ids) > 1 {
			ambiguous = append(ambiguous, rk)
			continue
		}
		out = append(out, g.best)
	}
	return out, ambiguous
}

// IDs returns the sorted identifiers seen for a key.
func (c *Collector) IDs(rk model.RecordKey) []string {
	g, ok := c.groups[rk]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.ids))
	for id := range g.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Degenerate returns how many candidates had an empty key.
func (c *Collector) Degenerate() int {
	return c.degenerate
}

// Len returns the number of distinct keys seen.
func (c *Collector) Len() int {
	return len(c.order)
}
