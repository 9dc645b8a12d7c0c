package parsing

import (
	"strings"

	"github.com/your-username/tailhub/internal/models"
)

// CategoryRule assigns Category when the message contains any keyword or
// the record has one of the listed levels.
type CategoryRule struct {
	Category string   `json:"category" yaml:"category"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Levels   []string `json:"levels,omitempty" yaml:"levels,omitempty"`
}

// RuleSet is an ordered list of category rules; the first match wins.
type RuleSet struct {
	Rules    []CategoryRule `json:"rules" yaml:"rules"`
	Fallback string         `json:"fallback" yaml:"fallback"`
}

// NewDefaultRuleSet returns the built-in keyword rules
func NewDefaultRuleSet() *RuleSet {
	return &RuleSet{
		Rules: []CategoryRule{
			{Category: models.CategoryError, Keywords: []string{"error"}, Levels: []string{models.LevelError}},
			{Category: models.CategoryAuth, Keywords: []string{"auth", "login"}},
			{Category: models.CategoryAPI, Keywords: []string{"api", "request"}},
			{Category: models.CategoryDatabase, Keywords: []string{"database", "db"}},
		},
		Fallback: models.CategorySystem,
	}
}

// Categorize returns the category of the first matching rule. Keyword
// matching is a case-insensitive substring search.
func (rs *RuleSet) Categorize(message, level string) string {
	lower := strings.ToLower(message)
	for _, rule := range rs.Rules {
		for _, l := range rule.Levels {
			if l == level {
				return rule.Category
			}
		}
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return rule.Category
			}
		}
	}
	return rs.Fallback
}
