package parsing

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/your-username/tailhub/internal/models"
)

// Parser interface for different line parsing strategies
type Parser interface {
	Name() string
	CanParse(line string) bool
	// Parse builds a record from the line. Category is left empty when the
	// format carries none, so the manager can infer it.
	Parse(line string, now time.Time) (*models.Record, error)
}

// ParsingResult contains the parsed record and which parser produced it
type ParsingResult struct {
	Record  *models.Record
	Parser  string
	Success bool
}

// ParseStats tracks parsing statistics
type ParseStats struct {
	TotalParsed   int64            `json:"total_parsed"`
	SkippedBlank  int64            `json:"skipped_blank"`
	ParserUsage   map[string]int64 `json:"parser_usage"`
	LastParseTime time.Time        `json:"last_parse_time"`
}

// Manager runs the registered parsers in order and applies category rules
type Manager struct {
	parsers []Parser
	rules   *RuleSet
	now     func() time.Time

	mu    sync.Mutex
	stats ParseStats
}

// NewManager creates a manager with the structured JSON parser followed by
// the bracketed pattern parser.
func NewManager() *Manager {
	m := &Manager{
		rules: NewDefaultRuleSet(),
		now:   time.Now,
		stats: ParseStats{ParserUsage: make(map[string]int64)},
	}
	m.RegisterParser(NewJSONParser())
	m.RegisterParser(NewPatternParser())
	return m
}

// RegisterParser adds a parser after the ones already registered
func (m *Manager) RegisterParser(parser Parser) {
	m.parsers = append(m.parsers, parser)
	log.Debug().Str("parser", parser.Name()).Msg("Parser registered")
}

// SetRules replaces the category inference rules
func (m *Manager) SetRules(rules *RuleSet) {
	m.rules = rules
}

// Parse turns one raw line into a record attributed to source. Blank lines
// and lines no parser accepts produce an unsuccessful result.
func (m *Manager) Parse(line, source string) *ParsingResult {
	result := &ParsingResult{}
	if strings.TrimSpace(line) == "" {
		m.mu.Lock()
		m.stats.SkippedBlank++
		m.mu.Unlock()
		return result
	}

	now := m.now()
	for _, parser := range m.parsers {
		if !parser.CanParse(line) {
			continue
		}
		record, err := parser.Parse(line, now)
		if err != nil {
			log.Debug().Err(err).Str("parser", parser.Name()).Msg("Parser failed, falling through")
			continue
		}

		if record.Category == "" {
			record.Category = m.rules.Categorize(record.Message, record.Level)
		}
		record.ID = uuid.New().String()
		record.Source = source
		record.Environment = models.EnvProduction

		result.Record = record
		result.Parser = parser.Name()
		result.Success = true

		m.mu.Lock()
		m.stats.TotalParsed++
		m.stats.ParserUsage[parser.Name()]++
		m.stats.LastParseTime = now
		m.mu.Unlock()
		return result
	}

	log.Debug().Str("line", line).Msg("No parser accepted line")
	return result
}

// GetStats returns a copy of the current parsing statistics
func (m *Manager) GetStats() ParseStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.ParserUsage = make(map[string]int64, len(m.stats.ParserUsage))
	for k, v := range m.stats.ParserUsage {
		stats.ParserUsage[k] = v
	}
	return stats
}
