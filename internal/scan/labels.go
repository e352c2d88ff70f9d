package scan

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultLabels is the condition vocabulary of the face-disease model the
// service was built around. The spelling matches the model's class list.
var DefaultLabels = []string{
	"Actinic Keratosis",
	"Basal Cell Carcinoma",
	"Eczemaa",
	"Rosacea",
	"Acne",
}

// PivotRangeKey is the JSON key the confidence pivot uses for its range
// column. It is reserved and cannot be a label.
const PivotRangeKey = "confidenceRange"

// LabelSet is the closed vocabulary of condition names a classifier may emit.
//
// Membership is checked after trimming and NFC normalization, so a classifier
// that returns a decomposed or padded form of a known label still matches.
// Canonical returns the normalized form of the configured name (trimmed, NFC),
// which is what gets persisted and what Names reports.
//
// Thread-safety: LabelSet is immutable after construction.
type LabelSet struct {
	names []string
	index map[string]int
}

// NewLabelSet builds a label set from the given names.
// Returns an error if names is empty, contains a blank entry, uses the
// reserved PivotRangeKey, or contains duplicates after normalization.
func NewLabelSet(names ...string) (*LabelSet, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("label set must not be empty")
	}

	s := &LabelSet{
		names: make([]string, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for _, name := range names {
		key := normalizeLabel(name)
		if key == "" {
			return nil, fmt.Errorf("label set contains a blank label")
		}
		if key == PivotRangeKey {
			return nil, fmt.Errorf("label %q is reserved", name)
		}
		if _, dup := s.index[key]; dup {
			return nil, fmt.Errorf("duplicate label %q", name)
		}
		s.index[key] = len(s.names)
		s.names = append(s.names, key)
	}
	return s, nil
}

// MustLabelSet is NewLabelSet that panics on error. Intended for tests and
// package-level defaults.
func MustLabelSet(names ...string) *LabelSet {
	s, err := NewLabelSet(names...)
	if err != nil {
		panic(err)
	}
	return s
}

// Canonical returns the normalized configured name matching label and whether
// it is a member.
func (s *LabelSet) Canonical(label string) (string, bool) {
	i, ok := s.index[normalizeLabel(label)]
	if !ok {
		return "", false
	}
	return s.names[i], true
}

// Contains reports whether label is a member of the set.
func (s *LabelSet) Contains(label string) bool {
	_, ok := s.Canonical(label)
	return ok
}

// Names returns the normalized labels in configuration order.
func (s *LabelSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of labels.
func (s *LabelSet) Len() int {
	return len(s.names)
}

func normalizeLabel(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}
