package model

import (
	"github.com/rotisserie/eris"
)

// Binding maps a batch column to a lookup type. PlanColumn is required for
// plan_customer bindings and names the column holding the plan code.
type Binding struct {
	Type       LookupType `json:"type" yaml:"type" mapstructure:"type"`
	Column     string     `json:"column" yaml:"column" mapstructure:"column"`
	PlanColumn string     `json:"plan_column,omitempty" yaml:"plan_column" mapstructure:"plan_column"`
}

// Strategy is the per-run resolution configuration.
type Strategy struct {
	// Bindings are consulted in order; earlier bindings have priority.
	Bindings []Binding `json:"bindings" yaml:"bindings" mapstructure:"bindings"`

	// IdentifierColumn optionally holds an identifier already present in the
	// source row; non-temporary values are passed through.
	IdentifierColumn string `json:"identifier_column,omitempty" yaml:"identifier_column" mapstructure:"identifier_column"`

	// NameColumn is the free-text name sent to the external directory and
	// used for temp-ID generation. Defaults to the first customer_name binding.
	NameColumn string `json:"name_column,omitempty" yaml:"name_column" mapstructure:"name_column"`

	EnableExternal bool `json:"external" yaml:"external" mapstructure:"external"`
	SyncBudget     int  `json:"sync_budget" yaml:"sync_budget" mapstructure:"sync_budget"`
	EnableBackflow bool `json:"backflow" yaml:"backflow" mapstructure:"backflow"`
	EnableAsync    bool `json:"async" yaml:"async" mapstructure:"async"`
}

// Validate checks the strategy for structural errors.
func (s *Strategy) Validate() error {
	if len(s.Bindings) == 0 {
		return eris.New("strategy: at least one binding is required")
	}
	seen := make(map[Binding]bool, len(s.Bindings))
	for i, b := range s.Bindings {
		if !b.Type.Valid() {
			return eris.Errorf("strategy: binding %d: unknown lookup type %q", i, b.Type)
		}
		if b.Column == "" {
			return eris.Errorf("strategy: binding %d (%s): column is required", i, b.Type)
		}
		if b.Type == LookupPlanCustomer && b.PlanColumn == "" {
			return eris.Errorf("strategy: binding %d (%s): plan_column is required", i, b.Type)
		}
		if seen[b] {
			return eris.Errorf("strategy: binding %d (%s/%s) is duplicated", i, b.Type, b.Column)
		}
		seen[b] = true
	}
	if s.SyncBudget < 0 {
		return eris.Errorf("strategy: sync_budget must be >= 0, got %d", s.SyncBudget)
	}
	return nil
}

// EffectiveNameColumn returns NameColumn or, when unset, the column of the
// first customer_name (then plan_customer, then former_name) binding.
func (s *Strategy) EffectiveNameColumn() string {
	if s.NameColumn != "" {
		return s.NameColumn
	}
	for _, t := range []LookupType{LookupCustomerName, LookupPlanCustomer, LookupFormerName} {
		for _, b := range s.Bindings {
			if b.Type == t {
				return b.Column
			}
		}
	}
	return ""
}
