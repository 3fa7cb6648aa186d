package outlier

// DiscrepancyReport is the one place expected-versus-resolved outlier counts
// are reconciled; callers consume the report instead of re-implementing the
// comparison.
type DiscrepancyReport struct {
	Expected   int
	Resolved   int
	Missing    int
	Unresolved []Unresolved
	Complete   bool
}

// Reconcile compares the expected identifier count against what a selection
// actually resolved.
func Reconcile(expected int, sel Selection) DiscrepancyReport {
	resolved := len(sel.RowOffsets)
	return DiscrepancyReport{
		Expected:   expected,
		Resolved:   resolved,
		Missing:    expected - resolved,
		Unresolved: sel.Unresolved,
		Complete:   resolved == expected,
	}
}
