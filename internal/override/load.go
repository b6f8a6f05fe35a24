package override

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/entity-resolver/internal/batchio"
	"github.com/sells-group/entity-resolver/internal/model"
)

// Column names expected in override files.
const (
	ColPlanCode     = "plan_code"
	ColCustomerName = "customer_name"
	ColCompanyID    = "company_id"
)

// Files names the override file for each tier. Empty paths are skipped.
type Files struct {
	PlanCode     string `yaml:"plan_code_file" mapstructure:"plan_code_file"`
	Composite    string `yaml:"composite_file" mapstructure:"composite_file"`
	CustomerName string `yaml:"customer_name_file" mapstructure:"customer_name_file"`
}

// Load reads every configured override file. Any malformed file is an
// error: overrides are authoritative, so a partial load is never used.
func Load(ctx context.Context, files Files) (*Store, error) {
	s := New()
	tiers := []struct {
		path string
		typ  model.LookupType
	}{
		{files.PlanCode, model.LookupPlanCode},
		{files.Composite, model.LookupPlanCustomer},
		{files.CustomerName, model.LookupCustomerName},
	}
	for _, tier := range tiers {
		if tier.path == "" {
			continue
		}
		n, err := s.LoadFile(ctx, tier.path, tier.typ)
		if err != nil {
			return nil, err
		}
		zap.L().Info("override: loaded file",
			zap.String("path", tier.path),
			zap.String("lookup_type", string(tier.typ)),
			zap.Int("entries", n),
		)
	}
	return s, nil
}

// LoadFile reads one override file of lookup type t into the store and
// returns the number of entries read. CSV, XLSX and YAML files are accepted.
func (s *Store) LoadFile(ctx context.Context, path string, t model.LookupType) (int, error) {
	var rows []model.Row
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		r, err := readYAML(path)
		if err != nil {
			return 0, err
		}
		rows = r
	default:
		tbl, err := batchio.ReadFile(ctx, path)
		if err != nil {
			return 0, eris.Wrapf(err, "override: read %s", path)
		}
		if err := requireColumns(tbl.Header, t); err != nil {
			return 0, eris.Wrapf(err, "override: %s", path)
		}
		rows = tbl.Rows
	}

	for i, row := range rows {
		raw, plan := row[ColPlanCode], ""
		switch t {
		case model.LookupPlanCustomer:
			raw, plan = row[ColCustomerName], row[ColPlanCode]
		case model.LookupCustomerName:
			raw = row[ColCustomerName]
		}
		if err := s.Add(t, raw, plan, row[ColCompanyID]); err != nil {
			return 0, eris.Wrapf(err, "override: %s entry %d", path, i+1)
		}
	}
	return len(rows), nil
}

func requiredColumns(t model.LookupType) []string {
	switch t {
	case model.LookupPlanCustomer:
		return []string{ColPlanCode, ColCustomerName, ColCompanyID}
	case model.LookupCustomerName:
		return []string{ColCustomerName, ColCompanyID}
	default:
		return []string{ColPlanCode, ColCompanyID}
	}
}

func requireColumns(header []string, t model.LookupType) error {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	for _, c := range requiredColumns(t) {
		if !have[c] {
			return eris.Errorf("missing column %q for %s overrides", c, t)
		}
	}
	return nil
}

// readYAML reads a YAML list of flat mappings, e.g.
//
//	- plan_code: "P-100"
//	  company_id: "C-1"
func readYAML(path string) ([]model.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "override: read %s", path)
	}
	var entries []map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, eris.Wrapf(err, "override: parse %s", path)
	}
	rows := make([]model.Row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, model.Row(e))
	}
	return rows, nil
}
