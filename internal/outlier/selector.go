package outlier

import (
	"outlab/internal/dataset/models"
)

// Unresolved reasons.
const (
	ReasonNoMatch      = "no_match"
	ReasonExhausted    = "exhausted"
	ReasonOutOfRange   = "out_of_range"
	ReasonUnclassified = "unclassified"
)

// Unresolved records one identifier that produced no row, with its position
// in the input list for diagnostics.
type Unresolved struct {
	Identifier Identifier
	Index      int
	Reason     string
}

// Selection is the result of resolving an ordered final-outliers list against
// a table. A shorter RowOffsets than the input list is an expected, reportable
// condition, never a failure.
type Selection struct {
	RowOffsets []int
	Unresolved []Unresolved
}

// SelectRows resolves each identifier in order, preserving input cardinality:
// a repeated identifier consumes a distinct matching row each time, drawn
// from a per-identifier queue of subject-column matches.
//
// Identifiers without a queue (positional tokens, raw indexes, values absent
// from the column) fall back to the resolver's precedence chain and take its
// first offset. An identifier whose queue has been exhausted is reported
// unresolved rather than re-consuming a row another occurrence already took.
func SelectRows(t *models.Table, rawIdentifiers []any, subjectColumn string) Selection {
	identifiers := make([]Identifier, len(rawIdentifiers))
	for i, raw := range rawIdentifiers {
		identifiers[i] = Classify(raw)
	}

	var queues map[string][]int
	if subjectColumn != "" {
		if values, ok := t.Column(subjectColumn); ok {
			queues = make(map[string][]int, len(values))
			for offset, v := range values {
				key := Normalize(v)
				queues[key] = append(queues[key], offset)
			}
		}
	}

	var sel Selection
	for i, ident := range identifiers {
		if queue, ok := queues[ident.Value]; ok {
			if len(queue) == 0 {
				sel.Unresolved = append(sel.Unresolved, Unresolved{Identifier: ident, Index: i, Reason: ReasonExhausted})
				continue
			}
			sel.RowOffsets = append(sel.RowOffsets, queue[0])
			queues[ident.Value] = queue[1:]
			continue
		}

		r := Resolve(t, ident, subjectColumn)
		if len(r.Offsets) > 0 {
			sel.RowOffsets = append(sel.RowOffsets, r.Offsets[0])
			continue
		}
		sel.Unresolved = append(sel.Unresolved, Unresolved{Identifier: ident, Index: i, Reason: unresolvedReason(ident, r)})
	}
	return sel
}

func unresolvedReason(ident Identifier, r Resolution) string {
	switch {
	case ident.Kind == KindUnclassified:
		return ReasonUnclassified
	case r.Strategy == StrategyPositionalToken || r.Strategy == StrategyRawIndex:
		return ReasonOutOfRange
	default:
		return ReasonNoMatch
	}
}
