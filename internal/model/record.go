package model

import (
	"math"
	"time"
)

// IndexRecord is a single enrichment_index row: a cached mapping from a
// lookup key to a company identifier.
type IndexRecord struct {
	LookupKey    string     `json:"lookup_key"`
	LookupType   LookupType `json:"lookup_type"`
	CompanyID    string     `json:"company_id"`
	Confidence   float64    `json:"confidence"`
	Source       Source     `json:"source"`
	SourceDomain string     `json:"source_domain,omitempty"`
	SourceTable  string     `json:"source_table,omitempty"`
	HitCount     int64      `json:"hit_count"`
	LastHitAt    *time.Time `json:"last_hit_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RoundConfidence clamps c into [0,1] and rounds to the two decimals the
// index stores.
func RoundConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return math.Round(c*100) / 100
}

// Wins reports whether incoming should replace existing's identifier and
// provenance. Higher confidence wins; ties go to the higher-ranked source and
// then to the lexicographically smaller company ID, so the outcome does not
// depend on write order.
func Wins(incoming, existing IndexRecord) bool {
	ic, ec := RoundConfidence(incoming.Confidence), RoundConfidence(existing.Confidence)
	if ic != ec {
		return ic > ec
	}
	if ir, er := incoming.Source.Rank(), existing.Source.Rank(); ir != er {
		return ir > er
	}
	return incoming.CompanyID < existing.CompanyID
}

// Reconcile merges a write into an existing record. The winner (see Wins)
// supplies company_id, source and provenance; confidence never decreases;
// hit_count increments; updated_at refreshes.
func Reconcile(existing, incoming IndexRecord, now time.Time) IndexRecord {
	out := existing
	if Wins(incoming, existing) {
		out.CompanyID = incoming.CompanyID
		out.Source = incoming.Source
		out.SourceDomain = incoming.SourceDomain
		out.SourceTable = incoming.SourceTable
	}
	out.Confidence = math.Max(RoundConfidence(existing.Confidence), RoundConfidence(incoming.Confidence))
	out.HitCount = existing.HitCount + 1
	out.UpdatedAt = now
	return out
}

// RecordKey is the composite unique key of the index.
type RecordKey struct {
	Key  string
	Type LookupType
}

// Key returns the record's composite key.
func (r IndexRecord) Key() RecordKey {
	return RecordKey{Key: r.LookupKey, Type: r.LookupType}
}

// DedupeRecords collapses records sharing a composite key using Wins, keeping
// the first-seen order. Duplicates do not bump hit_count: they describe one
// write, not several.
func DedupeRecords(records []IndexRecord) []IndexRecord {
	idx := make(map[RecordKey]int, len(records))
	out := make([]IndexRecord, 0, len(records))
	for _, r := range records {
		r.Confidence = RoundConfidence(r.Confidence)
		k := r.Key()
		i, ok := idx[k]
		if !ok {
			idx[k] = len(out)
			out = append(out, r)
			continue
		}
		cur := out[i]
		if Wins(r, cur) {
			cur.CompanyID = r.CompanyID
			cur.Source = r.Source
			cur.SourceDomain = r.SourceDomain
			cur.SourceTable = r.SourceTable
		}
		cur.Confidence = math.Max(cur.Confidence, r.Confidence)
		out[i] = cur
	}
	return out
}
