package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/your-username/tailhub/internal/models"
)

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// timeLayout is fixed-width UTC so that string order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Store persists one record and appends it to the mirror. A mirror failure
// is logged and does not fail the call.
func (db *DB) Store(ctx context.Context, r *models.Record) error {
	ctx, done, err := db.begin(ctx, "store")
	if err != nil {
		return err
	}
	defer done()

	data, err := encodeData(r.Data)
	if err != nil {
		return fmt.Errorf("failed to encode record data: %w", err)
	}

	if db.dialect.checkDuplicate {
		var n int64
		row := db.conn.QueryRowContext(ctx, "SELECT "+db.dialect.count+" FROM records WHERE id = ?", r.ID)
		if err := row.Scan(&n); err != nil {
			db.metrics.StoreFailed()
			return fmt.Errorf("failed to check record id: %w", err)
		}
		if n > 0 {
			return ErrDuplicateKey
		}
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO records (id, timestamp, level, category, message, data, source, environment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.Timestamp), r.Level, r.Category, r.Message, data, r.Source, r.Environment,
		formatTime(time.Now()),
	)
	if err != nil {
		if db.dialect.isDuplicate(err) {
			return ErrDuplicateKey
		}
		db.metrics.StoreFailed()
		return fmt.Errorf("failed to insert record: %w", err)
	}
	db.metrics.RecordIngested(r.Category, r.Level)

	if db.mirror != nil {
		if err := db.mirror.Append(r); err != nil {
			db.metrics.MirrorFailed()
			log.Error().Err(err).Str("category", r.Category).Str("id", r.ID).Msg("Failed to write backup mirror")
		}
	}
	return nil
}

// Query returns the records matching every set predicate, newest first.
func (db *DB) Query(ctx context.Context, q models.RecordQuery) ([]models.Record, error) {
	ctx, done, err := db.begin(ctx, "query")
	if err != nil {
		return nil, err
	}
	defer done()

	var (
		where []string
		args  []interface{}
	)
	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, q.Category)
	}
	if q.Level != "" {
		where = append(where, "level = ?")
		args = append(args, q.Level)
	}
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, q.Source)
	}
	if !q.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(q.Since))
	}
	if q.Search != "" {
		arg := db.dialect.searchArg(q.Search)
		where = append(where, db.dialect.searchClause)
		args = append(args, arg, arg)
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, timestamp, level, category, message, data, source, environment FROM records")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY timestamp DESC, created_at DESC")
	limit, offset := clampPage(q.Limit, q.Offset)
	fmt.Fprintf(&sb, " LIMIT %d", limit)
	if offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", offset)
	}

	rows, err := db.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := make([]models.Record, 0)
	for rows.Next() {
		var (
			r         models.Record
			timestamp string
			data      string
		)
		if err := rows.Scan(&r.ID, &timestamp, &r.Level, &r.Category, &r.Message, &data, &r.Source, &r.Environment); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if r.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, fmt.Errorf("record %s has a bad timestamp: %w", r.ID, err)
		}
		if r.Data, err = decodeData(data); err != nil {
			return nil, fmt.Errorf("record %s has bad data: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func encodeData(data map[string]interface{}) (string, error) {
	if data == nil {
		return "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeData(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, err
	}
	return data, nil
}
