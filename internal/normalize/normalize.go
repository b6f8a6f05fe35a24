// Package normalize derives canonical cache keys from raw entity values.
//
// Every tier that reads or writes the enrichment index computes its key with
// Key, so the write path (backflow, domain learning, override import) and the
// read path (resolver lookups) can never disagree for the same raw input.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"

	"github.com/sells-group/entity-resolver/internal/model"
)

// CompositeSeparator joins the plan code and normalized customer name of a
// plan_customer key.
const CompositeSeparator = "|"

// legalMarkers are corporate-form markers stripped wherever they appear.
// Bracketed abbreviations are listed before the bare words they abbreviate.
var legalMarkers = []string{
	"(株)", "(有)", "(合)", "(同)", "(資)", "(名)", "(社)", "(財)", "(医)",
	"㈱", "㈲", "㈳", "㈴", "㈵", "㈶",
	"特定非営利活動法人", "社会福祉法人", "一般社団法人", "一般財団法人",
	"公益社団法人", "公益財団法人", "医療法人", "NPO法人",
	"株式会社", "有限会社", "合同会社", "合資会社", "合名会社",
}

// legalSuffixes lists trailing legal entity suffixes, checked after upper-casing.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LP", " L.P.", " L.P",
	" LLP", " L.L.P.", " L.L.P",
	" PC", " P.C.", " P.C",
	" PLC", " P.L.C.",
	" CO", " CO.",
	" KK", " K.K.",
	" GMBH", " AG",
	" DBA", " D/B/A",
	" PLLC",
}

var bracketReplacer = strings.NewReplacer(
	"(", " ", ")", " ",
	"[", " ", "]", " ",
	"{", " ", "}", " ",
	"<", " ", ">", " ",
	"「", " ", "」", " ",
	"『", " ", "』", " ",
	"【", " ", "】", " ",
	"〔", " ", "〕", " ",
	"〈", " ", "〉", " ",
	"《", " ", "》", " ",
	"〘", " ", "〙", " ",
	"〚", " ", "〛", " ",
)

var punctuationReplacer = strings.NewReplacer(
	",", "",
	".", "",
	"'", "",
	"\"", "",
	"&", "AND",
	"-", " ",
	"・", " ",
	"、", " ",
	"。", "",
)

var spaceRe = regexp.MustCompile(`\s+`)

// Name converts a raw entity name into its canonical form:
//  1. Full-width characters (including the ideographic space) fold to half-width
//  2. Corporate-form markers such as 株式会社 or (株) are removed
//  3. Decorative brackets are removed, keeping their contents
//  4. Latin letters are upper-cased
//  5. Trailing legal suffixes (LLC, Inc, Corp, ...) are removed
//  6. Punctuation is stripped and whitespace collapsed
//
// The result is empty when nothing meaningful remains.
func Name(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	s := strings.ReplaceAll(raw, "\u3000", " ")
	s = width.Fold.String(s)

	for _, m := range legalMarkers {
		s = strings.ReplaceAll(s, m, " ")
	}
	s = bracketReplacer.Replace(s)
	s = strings.ToUpper(s)
	s = collapse(s)

	s = stripSuffixes(s)
	s = punctuationReplacer.Replace(s)
	s = collapse(s)
	s = stripSuffixes(s)

	return s
}

// Key returns the cache key for a raw value of the given lookup type. Plan
// codes and account numbers are already canonical and are used unmodified;
// free-text names go through Name. plan is only consulted for plan_customer.
// An empty result means the value is degenerate and must not be cached.
func Key(t model.LookupType, raw, plan string) string {
	switch t {
	case model.LookupPlanCode, model.LookupAccountNumber:
		if strings.TrimSpace(raw) == "" {
			return ""
		}
		return raw
	case model.LookupCustomerName, model.LookupFormerName:
		return Name(raw)
	case model.LookupPlanCustomer:
		return Composite(plan, raw)
	default:
		return ""
	}
}

// Composite builds a plan_customer key from a raw plan code and raw customer
// name. Either half being empty yields "".
func Composite(plan, customer string) string {
	if strings.TrimSpace(plan) == "" {
		return ""
	}
	name := Name(customer)
	if name == "" {
		return ""
	}
	return plan + CompositeSeparator + name
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// stripSuffixes removes trailing legal suffixes until none match, so
// "ACME CO LTD" reduces to "ACME".
func stripSuffixes(s string) string {
	for {
		stripped := false
		for _, suffix := range legalSuffixes {
			if strings.HasSuffix(s, suffix) {
				s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}
