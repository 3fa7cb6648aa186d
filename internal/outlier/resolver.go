package outlier

import (
	"outlab/internal/dataset/models"
)

// Strategy names which resolution rule committed. Resolution is
// single-strategy: once a strategy commits there is no fallback to a later
// one, even on zero matches.
type Strategy string

const (
	StrategySubjectColumn   Strategy = "subject_column"
	StrategyPositionalToken Strategy = "positional_token"
	StrategyRawIndex        Strategy = "raw_index"
	StrategyNone            Strategy = "none"
)

// Resolution is the outcome for one identifier: zero or more row offsets.
// Ambiguous marks a subject-column match on multiple rows; all matches are
// returned, never arbitrarily reduced to one.
type Resolution struct {
	Offsets   []int
	Strategy  Strategy
	Ambiguous bool
}

// Resolve maps one identifier to row offsets.
//
// Precedence:
//  1. subject-id column configured and present: normalized exact match
//     against that column, committing even on zero matches
//  2. positional token ID_<n>: zero-based offset n, if in range
//  3. bare numeric: zero-based offset, if in range
//  4. unresolved
func Resolve(t *models.Table, ident Identifier, subjectColumn string) Resolution {
	if subjectColumn != "" {
		if values, ok := t.Column(subjectColumn); ok {
			offsets := matchColumn(values, ident.Value)
			return Resolution{
				Offsets:   offsets,
				Strategy:  StrategySubjectColumn,
				Ambiguous: len(offsets) > 1,
			}
		}
	}

	switch ident.Kind {
	case KindPositional:
		if ident.Position >= 0 && ident.Position < t.RowCount() {
			return Resolution{Offsets: []int{ident.Position}, Strategy: StrategyPositionalToken}
		}
		return Resolution{Strategy: StrategyPositionalToken}
	case KindRawIndex:
		if ident.Position >= 0 && ident.Position < t.RowCount() {
			return Resolution{Offsets: []int{ident.Position}, Strategy: StrategyRawIndex}
		}
		return Resolution{Strategy: StrategyRawIndex}
	default:
		return Resolution{Strategy: StrategyNone}
	}
}

// matchColumn returns the offsets of every cell whose normalized form equals
// the (already normalized) identifier value.
func matchColumn(values []string, normalized string) []int {
	var offsets []int
	for i, v := range values {
		if Normalize(v) == normalized {
			offsets = append(offsets, i)
		}
	}
	return offsets
}
