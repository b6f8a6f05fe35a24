package model

import "go.uber.org/zap"

// Confidence thresholds for accepting a candidate identifier.
const (
	AcceptThreshold = 0.90
	ReviewThreshold = 0.60
)

// Decision is the outcome of applying the confidence policy to a candidate.
type Decision int

const (
	// DecisionReject means the candidate is not used.
	DecisionReject Decision = iota
	// DecisionReview accepts the candidate but flags the row for review.
	DecisionReview
	// DecisionAccept accepts the candidate as-is.
	DecisionAccept
)

// Decide applies the confidence policy.
func Decide(confidence float64) Decision {
	c := RoundConfidence(confidence)
	switch {
	case c >= AcceptThreshold:
		return DecisionAccept
	case c >= ReviewThreshold:
		return DecisionReview
	default:
		return DecisionReject
	}
}

// Tier names the resolution tier that produced a row's identifier.
type Tier string

const (
	TierStatic      Tier = "static"
	TierCache       Tier = "cache"
	TierPassthrough Tier = "passthrough"
	TierExternal    Tier = "external"
	TierTemp        Tier = "temp"
)

// Row is a single input record keyed by column name.
type Row map[string]string

// ResolvedRow is an input row together with its assigned identifier.
type ResolvedRow struct {
	Row         Row        `json:"row"`
	CompanyID   string     `json:"company_id"`
	Confidence  float64    `json:"confidence"`
	Tier        Tier       `json:"tier"`
	MatchedBy   LookupType `json:"matched_by,omitempty"`
	NeedsReview bool       `json:"needs_review"`
	IsTemp      bool       `json:"is_temp"`
}

// Statistics are the aggregate counters of one resolution run.
type Statistics struct {
	TotalRows int `json:"total_rows"`

	ResolvedStatic      int `json:"resolved_static"`
	ResolvedCache       int `json:"resolved_cache"`
	ResolvedPassthrough int `json:"resolved_passthrough"`
	ResolvedExternal    int `json:"resolved_external"`
	TempAssigned        int `json:"temp_assigned"`
	TempIDsGenerated    int `json:"temp_ids_generated"`
	// TempUnkeyed counts temp rows with neither a name nor a binding key.
	// They all share the identifier generated from the empty seed.
	TempUnkeyed         int `json:"temp_unkeyed"`
	NeedsReview         int `json:"needs_review"`
	LowConfidence       int `json:"low_confidence"`

	CacheLookups int `json:"cache_lookups"`
	CacheErrors  int `json:"cache_errors"`

	ExternalCalls        int `json:"external_calls"`
	ExternalHits         int `json:"external_hits"`
	ExternalNotFound     int `json:"external_not_found"`
	ExternalErrors       int `json:"external_errors"`
	ExternalAuthFailures int `json:"external_auth_failures"`
	BudgetConsumed       int `json:"budget_consumed"`
	BudgetRemaining      int `json:"budget_remaining"`
	BudgetExhaustedSkips int `json:"budget_exhausted_skips"`

	BackflowCandidates int `json:"backflow_candidates"`
	BackflowWritten    int `json:"backflow_written"`
	BackflowSkipped    int `json:"backflow_skipped"`
	BackflowErrors     int `json:"backflow_errors"`

	AsyncEnqueued int `json:"async_enqueued"`
	AsyncSkipped  int `json:"async_skipped"`
	AsyncErrors   int `json:"async_errors"`
}

// Fields returns the statistics as zap fields for structured logging.
func (s Statistics) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("total_rows", s.TotalRows),
		zap.Int("resolved_static", s.ResolvedStatic),
		zap.Int("resolved_cache", s.ResolvedCache),
		zap.Int("resolved_passthrough", s.ResolvedPassthrough),
		zap.Int("resolved_external", s.ResolvedExternal),
		zap.Int("temp_assigned", s.TempAssigned),
		zap.Int("temp_ids_generated", s.TempIDsGenerated),
		zap.Int("temp_unkeyed", s.TempUnkeyed),
		zap.Int("needs_review", s.NeedsReview),
		zap.Int("low_confidence", s.LowConfidence),
		zap.Int("cache_lookups", s.CacheLookups),
		zap.Int("cache_errors", s.CacheErrors),
		zap.Int("external_calls", s.ExternalCalls),
		zap.Int("external_hits", s.ExternalHits),
		zap.Int("external_not_found", s.ExternalNotFound),
		zap.Int("external_errors", s.ExternalErrors),
		zap.Int("external_auth_failures", s.ExternalAuthFailures),
		zap.Int("budget_consumed", s.BudgetConsumed),
		zap.Int("budget_remaining", s.BudgetRemaining),
		zap.Int("budget_exhausted_skips", s.BudgetExhaustedSkips),
		zap.Int("backflow_candidates", s.BackflowCandidates),
		zap.Int("backflow_written", s.BackflowWritten),
		zap.Int("backflow_skipped", s.BackflowSkipped),
		zap.Int("backflow_errors", s.BackflowErrors),
		zap.Int("async_enqueued", s.AsyncEnqueued),
		zap.Int("async_skipped", s.AsyncSkipped),
		zap.Int("async_errors", s.AsyncErrors),
	}
}
