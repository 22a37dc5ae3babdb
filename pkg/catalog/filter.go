package catalog

import (
	"slices"
	"strings"
)

// Filter narrows entity queries by the level's descriptive attribute:
// PatientName for patients, StudyDescription for studies and
// SeriesDescription for series. Every criterion that is set must pass.
type Filter struct {
	// Name requires an exact match.
	Name string

	// Contains requires the value to contain the substring.
	Contains string

	// IsIn requires the value to be one of the given set.
	IsIn []string
}

// matches reports whether the value passes all set criteria. A zero filter
// matches everything.
func (f Filter) matches(value string) bool {
	if f.Name != "" && value != f.Name {
		return false
	}
	if f.Contains != "" && !strings.Contains(value, f.Contains) {
		return false
	}
	if len(f.IsIn) > 0 && !slices.Contains(f.IsIn, value) {
		return false
	}
	return true
}

func matchesAll(filters []Filter, value string) bool {
	for _, f := range filters {
		if !f.matches(value) {
			return false
		}
	}
	return true
}
