package batchio

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/tempid"
)

var resolutionColumns = []string{ColResolvedID, ColTier, ColConfidence, ColNeedsReview}

// ReadResolved rebuilds resolved rows from a table written by WriteCSV.
// The resolution columns are moved out of each row into the result fields.
func ReadResolved(t *Table) ([]model.ResolvedRow, error) {
	have := make(map[string]bool, len(t.Header))
	for _, h := range t.Header {
		have[h] = true
	}
	for _, c := range resolutionColumns {
		if !have[c] {
			return nil, eris.Errorf("batchio: missing column %q in resolved batch", c)
		}
	}

	out := make([]model.ResolvedRow, 0, len(t.Rows))
	for i, row := range t.Rows {
		var conf float64
		if s := strings.TrimSpace(row[ColConfidence]); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, eris.Wrapf(err, "batchio: row %d: parse %s", i+1, ColConfidence)
			}
			conf = v
		}
		var review bool
		if s := strings.TrimSpace(row[ColNeedsReview]); s != "" {
			v, err := strconv.ParseBool(s)
			if err != nil {
				return nil, eris.Wrapf(err, "batchio: row %d: parse %s", i+1, ColNeedsReview)
			}
			review = v
		}

		r := model.ResolvedRow{
			Row:         make(model.Row, len(row)),
			CompanyID:   strings.TrimSpace(row[ColResolvedID]),
			Confidence:  conf,
			Tier:        model.Tier(strings.TrimSpace(row[ColTier])),
			NeedsReview: review,
		}
		r.IsTemp = r.Tier == model.TierTemp || tempid.IsTemp(r.CompanyID)
		for k, v := range row {
			if !isResolutionColumn(k) {
				r.Row[k] = v
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func isResolutionColumn(c string) bool {
	for _, rc := range resolutionColumns {
		if c == rc {
			return true
		}
	}
	return false
}
