package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconcile_LowerConfidenceKeepsExisting(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	existing := IndexRecord{
		LookupKey:  "ACME",
		LookupType: LookupCustomerName,
		CompanyID:  "C-100",
		Confidence: 0.95,
		Source:     SourceExternalAPI,
		HitCount:   4,
		UpdatedAt:  now.Add(-time.Hour),
	}
	incoming := IndexRecord{
		LookupKey:    "ACME",
		LookupType:   LookupCustomerName,
		CompanyID:    "C-999",
		Confidence:   0.85,
		Source:       SourceDomainLearning,
		SourceDomain: "billing",
	}

	got := Reconcile(existing, incoming, now)

	assert.Equal(t, "C-100", got.CompanyID)
	assert.Equal(t, SourceExternalAPI, got.Source)
	assert.Empty(t, got.SourceDomain)
	assert.InDelta(t, 0.95, got.Confidence, 0.0001)
	assert.Equal(t, int64(5), got.HitCount)
	assert.Equal(t, now, got.UpdatedAt)
}

func TestReconcile_HigherConfidenceWins(t *testing.T) {
	now := time.Now()
	existing := IndexRecord{CompanyID: "C-1", Confidence: 0.70, Source: SourceBackflow, HitCount: 1}
	incoming := IndexRecord{CompanyID: "C-2", Confidence: 0.93, Source: SourceExternalAPI, SourceTable: "orders"}

	got := Reconcile(existing, incoming, now)

	assert.Equal(t, "C-2", got.CompanyID)
	assert.Equal(t, SourceExternalAPI, got.Source)
	assert.Equal(t, "orders", got.SourceTable)
	assert.InDelta(t, 0.93, got.Confidence, 0.0001)
	assert.Equal(t, int64(2), got.HitCount)
}

func TestReconcile_TieIsOrderIndependent(t *testing.T) {
	now := time.Now()
	a := IndexRecord{CompanyID: "C-A", Confidence: 0.90, Source: SourceBackflow}
	b := IndexRecord{CompanyID: "C-B", Confidence: 0.90, Source: SourceBackflow}
	c := IndexRecord{CompanyID: "C-Z", Confidence: 0.90, Source: SourceManual}

	assert.Equal(t, Reconcile(a, b, now).CompanyID, Reconcile(b, a, now).CompanyID)
	assert.Equal(t, "C-A", Reconcile(b, a, now).CompanyID)

	// Source rank beats company ID ordering.
	assert.Equal(t, "C-Z", Reconcile(a, c, now).CompanyID)
	assert.Equal(t, "C-Z", Reconcile(c, a, now).CompanyID)
}

func TestRoundConfidence(t *testing.T) {
	assert.InDelta(t, 0.89, RoundConfidence(0.8899), 1e-9)
	assert.Equal(t, 0.0, RoundConfidence(-0.2))
	assert.Equal(t, 1.0, RoundConfidence(1.7))
}

func TestDedupeRecords(t *testing.T) {
	recs := []IndexRecord{
		{LookupKey: "A", LookupType: LookupCustomerName, CompanyID: "C-1", Confidence: 0.80, Source: SourceBackflow},
		{LookupKey: "B", LookupType: LookupCustomerName, CompanyID: "C-2", Confidence: 0.90, Source: SourceBackflow},
		{LookupKey: "A", LookupType: LookupCustomerName, CompanyID: "C-3", Confidence: 0.95, Source: SourceExternalAPI},
		{LookupKey: "A", LookupType: LookupFormerName, CompanyID: "C-4", Confidence: 0.85, Source: SourceBackflow},
	}

	out := DedupeRecords(recs)

	assert.Len(t, out, 3)
	assert.Equal(t, "A", out[0].LookupKey)
	assert.Equal(t, "C-3", out[0].CompanyID)
	assert.Equal(t, SourceExternalAPI, out[0].Source)
	assert.InDelta(t, 0.95, out[0].Confidence, 0.0001)
	assert.Equal(t, int64(0), out[0].HitCount)
	assert.Equal(t, LookupFormerName, out[2].LookupType)
}
