// Package override holds curated, authoritative company mappings loaded at
// start-up. The static tier consults it before anything else.
package override

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
	"github.com/sells-group/entity-resolver/internal/tempid"
)

// Confidence is the confidence of every static override.
const Confidence = 1.0

// Store maps lookup keys to company identifiers per lookup type. Keys are
// computed with normalize.Key, the same function the resolver uses.
type Store struct {
	entries map[model.LookupType]map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[model.LookupType]map[string]string)}
}

// Add registers a mapping from a raw value. plan is only used for
// plan_customer. Re-adding the same mapping is a no-op; mapping a key to a
// second identifier is an error.
func (s *Store) Add(t model.LookupType, raw, plan, companyID string) error {
	if !t.Valid() {
		return eris.Errorf("override: unknown lookup type %q", t)
	}
	key := normalize.Key(t, raw, plan)
	if key == "" {
		return eris.Errorf("override: empty %s key for raw value %q", t, raw)
	}
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return eris.Errorf("override: empty company_id for %s %q", t, key)
	}
	if tempid.IsTemp(companyID) {
		return eris.Errorf("override: temporary identifier %q for %s %q", companyID, t, key)
	}

	m := s.entries[t]
	if m == nil {
		m = make(map[string]string)
		s.entries[t] = m
	}
	if existing, ok := m[key]; ok && existing != companyID {
		return eris.Errorf("override: conflicting company_id for %s %q: %q vs %q", t, key, existing, companyID)
	}
	m[key] = companyID
	return nil
}

// Lookup returns the override for an already computed key.
func (s *Store) Lookup(t model.LookupType, key string) (string, bool) {
	if s == nil {
		return "", false
	}
	id, ok := s.entries[t][key]
	return id, ok
}

// Has reports whether any override exists for t.
func (s *Store) Has(t model.LookupType) bool {
	return s != nil && len(s.entries[t]) > 0
}

// Len returns the number of overrides of all types.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, m := range s.entries {
		n += len(m)
	}
	return n
}

// Records renders the overrides as index records with source
// static_override, sorted by type then key.
func (s *Store) Records() []model.IndexRecord {
	if s == nil {
		return nil
	}
	out := make([]model.IndexRecord, 0, s.Len())
	for _, t := range model.LookupTypes {
		keys := make([]string, 0, len(s.entries[t]))
		for k := range s.entries[t] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, model.IndexRecord{
				LookupKey:  k,
				LookupType: t,
				CompanyID:  s.entries[t][k],
				Confidence: Confidence,
				Source:     model.SourceStaticOverride,
			})
		}
	}
	return out
}
