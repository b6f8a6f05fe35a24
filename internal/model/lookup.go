package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// LookupType identifies the field category a candidate value belongs to. It
// fixes how the cache key is derived and which cache partition is used.
type LookupType string

const (
	LookupPlanCode      LookupType = "plan_code"
	LookupAccountNumber LookupType = "account_number"
	LookupCustomerName  LookupType = "customer_name"
	LookupPlanCustomer  LookupType = "plan_customer"
	LookupFormerName    LookupType = "former_name"
)

// LookupTypes lists every known lookup type.
var LookupTypes = []LookupType{
	LookupPlanCode,
	LookupAccountNumber,
	LookupCustomerName,
	LookupPlanCustomer,
	LookupFormerName,
}

// Valid reports whether t is a known lookup type.
func (t LookupType) Valid() bool {
	for _, lt := range LookupTypes {
		if t == lt {
			return true
		}
	}
	return false
}

// Normalized reports whether keys of this type are built from the normalized
// name rather than the raw value.
func (t LookupType) Normalized() bool {
	switch t {
	case LookupCustomerName, LookupPlanCustomer, LookupFormerName:
		return true
	default:
		return false
	}
}

// ParseLookupType converts a config string into a LookupType.
func ParseLookupType(s string) (LookupType, error) {
	t := LookupType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", eris.Errorf("model: unknown lookup type %q", s)
	}
	return t, nil
}

// Source records how an index record was produced.
type Source string

const (
	SourceStaticOverride  Source = "static_override"
	SourceExternalAPI     Source = "external_api"
	SourceManual          Source = "manual"
	SourceBackflow        Source = "backflow"
	SourceDomainLearning  Source = "domain_learning"
	SourceLegacyMigration Source = "legacy_migration"
)

// sourceRank orders sources for breaking confidence ties.
var sourceRank = map[Source]int{
	SourceStaticOverride:  6,
	SourceManual:          5,
	SourceExternalAPI:     4,
	SourceBackflow:        3,
	SourceDomainLearning:  2,
	SourceLegacyMigration: 1,
}

// Rank returns the tie-break rank of the source (higher wins).
func (s Source) Rank() int {
	return sourceRank[s]
}

// Sources lists every known source in descending rank order.
var Sources = []Source{
	SourceStaticOverride,
	SourceManual,
	SourceExternalAPI,
	SourceBackflow,
	SourceDomainLearning,
	SourceLegacyMigration,
}
