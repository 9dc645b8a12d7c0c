package database

import (
	"context"
	"fmt"
	"time"

	"github.com/your-username/tailhub/internal/models"
)

const topCategories = 10

// todayBounds returns the local calendar day as a UTC string range.
func todayBounds(now time.Time) (string, string) {
	local := now.In(time.Local)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
	return formatTime(start), formatTime(start.AddDate(0, 0, 1))
}

// Summary aggregates every stored record.
func (db *DB) Summary(ctx context.Context) (*models.Summary, error) {
	ctx, done, err := db.begin(ctx, "summary")
	if err != nil {
		return nil, err
	}
	defer done()

	d := db.dialect
	start, end := todayBounds(time.Now())
	q := fmt.Sprintf("SELECT %s, %s, %s, %s FROM records",
		d.count,
		d.countIf("level = 'ERROR'"),
		d.countIf("level = 'WARN'"),
		d.countIf("timestamp >= ? AND timestamp < ?"),
	)

	s := &models.Summary{TopCategories: make([]models.CategoryTotal, 0)}
	if err := db.conn.QueryRowContext(ctx, q, start, end).Scan(&s.Total, &s.Errors, &s.Warnings, &s.Today); err != nil {
		return nil, fmt.Errorf("failed to summarize records: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT category, %s AS n FROM records GROUP BY category ORDER BY n DESC, category ASC LIMIT %d",
		d.count, topCategories,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to rank categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ct models.CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Count); err != nil {
			return nil, fmt.Errorf("failed to scan category total: %w", err)
		}
		s.TopCategories = append(s.TopCategories, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read category totals: %w", err)
	}
	return s, nil
}

// CategoryCounts breaks the totals down per category, largest first.
func (db *DB) CategoryCounts(ctx context.Context) ([]models.CategoryCount, error) {
	ctx, done, err := db.begin(ctx, "category_counts")
	if err != nil {
		return nil, err
	}
	defer done()

	d := db.dialect
	start, end := todayBounds(time.Now())
	q := fmt.Sprintf(`
		SELECT category, %s AS n_total, %s, %s, %s, max(timestamp)
		FROM records
		GROUP BY category
		ORDER BY n_total DESC, category ASC`,
		d.count,
		d.countIf("level = 'ERROR'"),
		d.countIf("level = 'WARN'"),
		d.countIf("timestamp >= ? AND timestamp < ?"),
	)

	rows, err := db.conn.QueryContext(ctx, q, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}
	defer rows.Close()

	counts := make([]models.CategoryCount, 0)
	for rows.Next() {
		var (
			c      models.CategoryCount
			latest string
		)
		if err := rows.Scan(&c.Category, &c.Total, &c.Errors, &c.Warnings, &c.Today, &latest); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		if c.Latest, err = parseTime(latest); err != nil {
			return nil, fmt.Errorf("category %s has a bad timestamp: %w", c.Category, err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read category counts: %w", err)
	}
	return counts, nil
}

// Stats reports on-disk size. Before Init it returns an uninitialized
// marker instead of an error.
func (db *DB) Stats(ctx context.Context) (*models.StorageStats, error) {
	if !db.ready.Load() {
		return &models.StorageStats{Initialized: false, Driver: db.dialect.name}, nil
	}
	ctx, done, err := db.begin(ctx, "stats")
	if err != nil {
		return nil, err
	}
	defer done()

	size, modified, err := db.dialect.diskUsage(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage stats: %w", err)
	}
	return &models.StorageStats{
		Initialized:  true,
		Driver:       db.dialect.name,
		SizeBytes:    size,
		LastModified: modified,
	}, nil
}
