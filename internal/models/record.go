package models

import (
	"strings"
	"time"
)

// Log levels accepted on a Record.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelFatal = "FATAL"
)

// Well-known categories. Category is free-form; these are the ones the
// parser and ingestion defaults produce.
const (
	CategoryAPI      = "API"
	CategoryAuth     = "AUTH"
	CategoryDatabase = "DATABASE"
	CategoryError    = "ERROR"
	CategorySystem   = "SYSTEM"
	CategoryGeneral  = "GENERAL"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Record is one normalized log event. Once stored it is never modified.
type Record struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Level       string                 `json:"level"`
	Category    string                 `json:"category"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data"`
	Source      string                 `json:"source"`
	Environment string                 `json:"environment"`
}

// RecordQuery is a conjunction of optional predicates over stored records.
type RecordQuery struct {
	Category string    `json:"category,omitempty"`
	Level    string    `json:"level,omitempty"`
	Source   string    `json:"source,omitempty"`
	Since    time.Time `json:"since"`
	Search   string    `json:"search,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	Offset   int       `json:"offset,omitempty"`
}

// NormalizeLevel maps common spellings of a severity onto the five
// canonical levels. ok is false when the value is not recognised.
func NormalizeLevel(level string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return LevelDebug, true
	case "info", "information", "notice":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error", "err", "crit", "critical", "alert":
		return LevelError, true
	case "fatal", "panic", "emerg", "emergency":
		return LevelFatal, true
	default:
		return "", false
	}
}
