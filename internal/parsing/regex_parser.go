package parsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/your-username/tailhub/internal/models"
)

var (
	bracketTimestamp = regexp.MustCompile(`\[(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}[^\]]*)\]`)
	bracketLevel     = regexp.MustCompile(`(?i)\[(DEBUG|INFO|WARN|ERROR|FATAL)\]`)
)

// PatternParser handles free-form lines, pulling an optional bracketed
// timestamp and bracketed level out of the text. It accepts every
// non-blank line and is registered last.
type PatternParser struct{}

// NewPatternParser creates a new pattern parser
func NewPatternParser() *PatternParser {
	return &PatternParser{}
}

// Name returns the parser name
func (p *PatternParser) Name() string {
	return "pattern"
}

// CanParse accepts any non-blank line
func (p *PatternParser) CanParse(line string) bool {
	return strings.TrimSpace(line) != ""
}

// Parse extracts timestamp and level, leaving the remainder as the message
func (p *PatternParser) Parse(line string, now time.Time) (*models.Record, error) {
	record := &models.Record{
		Timestamp: now,
		Level:     models.LevelInfo,
	}

	rest := line
	if loc := bracketTimestamp.FindStringSubmatchIndex(rest); loc != nil {
		if t, err := parseTimestamp(rest[loc[2]:loc[3]]); err == nil {
			record.Timestamp = t
		}
		rest = rest[:loc[0]] + rest[loc[1]:]
	}

	if loc := bracketLevel.FindStringSubmatchIndex(rest); loc != nil {
		record.Level = strings.ToUpper(rest[loc[2]:loc[3]])
		rest = rest[:loc[0]] + rest[loc[1]:]
	}

	record.Message = strings.TrimSpace(rest)
	if record.Message == "" {
		record.Message = strings.TrimSpace(line)
	}
	return record, nil
}

// Zone-less layouts are read in the local time zone.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05 -0700",
		"2006-01-02T15:04:05 -0700",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
	}
)

// parseTimestamp attempts to parse the timestamp formats seen in log lines
func parseTimestamp(timeStr string) (time.Time, error) {
	s := strings.TrimSpace(timeStr)
	// "2025-01-01 10:00:00,123" is common in Java and Python logs
	if i := strings.LastIndex(s, ","); i > 0 && i+1 < len(s) && isDigits(s[i+1:]) {
		s = s[:i] + "." + s[i+1:]
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1000000000000 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", timeStr)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
