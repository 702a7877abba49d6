package comparatif

import (
	"strings"

	"gapforets/internal/domain"
)

// Filter narrows the records fed to an aggregation. Zero fields match everything.
type Filter struct {
	Year      int
	ActionKey string
	CommuneID string
	Ledger    domain.Ledger
}

func (f Filter) Match(r domain.ActionRecord) bool {
	if f.Year != 0 && r.Year != f.Year {
		return false
	}
	if f.ActionKey != "" && !strings.EqualFold(r.ActionKey, f.ActionKey) && !strings.EqualFold(r.ActionLabel, f.ActionKey) {
		return false
	}
	if f.CommuneID != "" && r.CommuneID != f.CommuneID {
		return false
	}
	if f.Ledger != "" && r.Ledger != f.Ledger {
		return false
	}
	return true
}

// Apply returns the matching records in their original order.
func (f Filter) Apply(records []domain.ActionRecord) []domain.ActionRecord {
	out := make([]domain.ActionRecord, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
