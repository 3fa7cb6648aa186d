// Package outlier turns the opaque identifiers produced by upstream outlier
// detection back into exact row offsets, consistently across every call site.
package outlier

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the closed set of identifier shapes. Classification happens once at
// ingestion so resolution is a total match over a fixed case set instead of
// per-call-site string sniffing.
type Kind string

const (
	// KindSubjectID is a value expected to appear in the subject-id column.
	KindSubjectID Kind = "subject_id"
	// KindPositional is a synthetic "ID_<n>" token naming the n-th row.
	KindPositional Kind = "positional"
	// KindRawIndex is a bare number naming a zero-based row offset.
	KindRawIndex Kind = "raw_index"
	// KindUnclassified is anything resolution can never act on.
	KindUnclassified Kind = "unclassified"
)

// Identifier is one classified outlier identifier. Value carries the
// normalized string form; Position is meaningful for the positional kinds.
type Identifier struct {
	Kind     Kind
	Raw      any
	Value    string
	Position int
}

var positionalTokenPattern = regexp.MustCompile(`^ID_(\d+)$`)

// Classify normalizes a raw identifier and decides its kind once.
// Non-integral numerics (e.g. "5.5") cannot name a row and are unclassified.
func Classify(value any) Identifier {
	norm := Normalize(value)
	ident := Identifier{Kind: KindUnclassified, Raw: value, Value: norm, Position: -1}
	if norm == "" {
		return ident
	}

	if m := positionalTokenPattern.FindStringSubmatch(norm); m != nil {
		if pos, err := strconv.Atoi(m[1]); err == nil {
			ident.Kind = KindPositional
			ident.Position = pos
			return ident
		}
	}

	if isDigits(norm) {
		if pos, err := strconv.Atoi(norm); err == nil {
			ident.Kind = KindRawIndex
			ident.Position = pos
			return ident
		}
	}
	if _, err := strconv.ParseFloat(norm, 64); err == nil {
		// Numeric but not a usable integral offset after normalization.
		return ident
	}

	ident.Kind = KindSubjectID
	return ident
}

// Normalize is THE identifier normalization policy, applied on both sides of
// every comparison: unwrap an {id: ...}-shaped value to its id field,
// stringify, trim, and canonicalize integral floats so "7.0" and "7" compare
// equal. Applying it inside the subject-column match as well closes the gap
// where a column storing floats-as-strings failed to match integer-looking
// identifiers.
func Normalize(value any) string {
	if m, ok := value.(map[string]any); ok {
		if id, ok := m["id"]; ok {
			value = id
		}
	}

	s := strings.TrimSpace(stringify(value))
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	return s
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
