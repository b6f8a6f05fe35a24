package batchio

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/model"
)

// Columns appended to every written batch.
const (
	ColResolvedID  = "resolved_company_id"
	ColTier        = "resolution_tier"
	ColConfidence  = "resolution_confidence"
	ColNeedsReview = "needs_review"
)

// WriteCSV writes resolved rows with the original header followed by the
// resolution columns.
func WriteCSV(w io.Writer, header []string, rows []model.ResolvedRow) error {
	cw := csv.NewWriter(w)

	out := make([]string, 0, len(header)+4)
	out = append(out, header...)
	out = append(out, ColResolvedID, ColTier, ColConfidence, ColNeedsReview)
	if err := cw.Write(out); err != nil {
		return eris.Wrap(err, "batchio: write header")
	}

	for i, r := range rows {
		out = out[:0]
		for _, h := range header {
			out = append(out, r.Row[h])
		}
		out = append(out,
			r.CompanyID,
			string(r.Tier),
			strconv.FormatFloat(r.Confidence, 'f', 2, 64),
			strconv.FormatBool(r.NeedsReview),
		)
		if err := cw.Write(out); err != nil {
			return eris.Wrapf(err, "batchio: write row %d", i+1)
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "batchio: flush")
}
