package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect holds the statements that differ between engines. Everything
// else is plain SQL with positional placeholders.
type dialect struct {
	name   string
	schema []string

	// searchClause matches a term in message or data, case-insensitively.
	// It takes two arguments, both produced by searchArg.
	searchClause string
	searchArg    func(term string) string

	count   string
	countIf func(cond string) string

	// checkDuplicate makes Store look the id up before inserting, for
	// engines that do not enforce primary keys.
	checkDuplicate bool
	isDuplicate    func(err error) bool

	diskUsage func(ctx context.Context, db *DB) (int64, time.Time, error)
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			level TEXT NOT NULL,
			category TEXT NOT NULL,
			message TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			environment TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_records_level ON records(level)`,
		`CREATE INDEX IF NOT EXISTS idx_records_category ON records(category)`,
		`CREATE INDEX IF NOT EXISTS idx_records_source ON records(source)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			metric_value REAL NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT ''
		)`,
	},
	searchClause: `(lower(message) LIKE lower(?) ESCAPE '\' OR lower(data) LIKE lower(?) ESCAPE '\')`,
	searchArg: func(term string) string {
		return "%" + escapeLike(term) + "%"
	},
	count: "COUNT(*)",
	countIf: func(cond string) string {
		return fmt.Sprintf("COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0)", cond)
	},
	isDuplicate: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
		// primary result code only, when extended codes are off
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "records.id")
	},
	diskUsage: sqliteDiskUsage,
}

var clickhouseDialect = dialect{
	name: "clickhouse",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS records (
			id String,
			timestamp String,
			level LowCardinality(String),
			category LowCardinality(String),
			message String,
			data String,
			source LowCardinality(String),
			environment LowCardinality(String),
			created_at String,
			INDEX idx_level level TYPE set(100) GRANULARITY 1,
			INDEX idx_category category TYPE bloom_filter GRANULARITY 1,
			INDEX idx_source source TYPE bloom_filter GRANULARITY 1
		) ENGINE = MergeTree()
		ORDER BY (timestamp, id)
		SETTINGS index_granularity = 8192`,
		`CREATE TABLE IF NOT EXISTS metrics (
			id UUID DEFAULT generateUUIDv4(),
			timestamp String,
			metric_name LowCardinality(String),
			metric_value Float64,
			category LowCardinality(String),
			source LowCardinality(String)
		) ENGINE = MergeTree()
		ORDER BY (metric_name, timestamp)`,
	},
	searchClause: `(positionCaseInsensitiveUTF8(message, ?) > 0 OR positionCaseInsensitiveUTF8(data, ?) > 0)`,
	searchArg:    func(term string) string { return term },
	count:        "toInt64(count())",
	countIf: func(cond string) string {
		return fmt.Sprintf("toInt64(countIf(%s))", cond)
	},
	checkDuplicate: true,
	isDuplicate:    func(error) bool { return false },
	diskUsage:      clickhouseDiskUsage,
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite":
		return sqliteDialect, nil
	case "clickhouse":
		return clickhouseDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// sqliteDiskUsage sums the database file and its write-ahead log.
func sqliteDiskUsage(ctx context.Context, db *DB) (int64, time.Time, error) {
	info, err := os.Stat(db.path)
	if err != nil {
		return 0, time.Time{}, err
	}
	size, modified := info.Size(), info.ModTime()
	if wal, err := os.Stat(db.path + "-wal"); err == nil {
		size += wal.Size()
		if wal.ModTime().After(modified) {
			modified = wal.ModTime()
		}
	}
	return size, modified, nil
}

func clickhouseDiskUsage(ctx context.Context, db *DB) (int64, time.Time, error) {
	var (
		size     int64
		modified time.Time
	)
	row := db.conn.QueryRowContext(ctx, `
		SELECT toInt64(sum(bytes_on_disk)), max(modification_time)
		FROM system.parts
		WHERE active AND database = currentDatabase() AND table = 'records'`)
	if err := row.Scan(&size, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, err
	}
	return size, modified, nil
}
