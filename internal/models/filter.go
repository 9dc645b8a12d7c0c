package models

import "strings"

// SubscriptionFilter is the per-connection predicate gating filtered
// delivery. Every set field must match; an empty filter matches everything.
type SubscriptionFilter struct {
	Categories []string `json:"categories,omitempty"`
	Levels     []string `json:"levels,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Search     string   `json:"search,omitempty"`
}

// IsEmpty reports whether the filter has no predicates set.
func (f SubscriptionFilter) IsEmpty() bool {
	return len(f.Categories) == 0 && len(f.Levels) == 0 && len(f.Sources) == 0 && f.Search == ""
}

// Matches evaluates the filter against a record. dataJSON is the record's
// serialized data payload; callers fanning out to many filters serialize it
// once and pass it to each.
func (f SubscriptionFilter) Matches(r *Record, dataJSON string) bool {
	if len(f.Categories) > 0 && !contains(f.Categories, r.Category) {
		return false
	}
	if len(f.Levels) > 0 && !contains(f.Levels, r.Level) {
		return false
	}
	if len(f.Sources) > 0 && !contains(f.Sources, r.Source) {
		return false
	}
	if f.Search != "" {
		term := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(r.Message), term) &&
			!strings.Contains(strings.ToLower(dataJSON), term) {
			return false
		}
	}
	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
