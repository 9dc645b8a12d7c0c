// Package backup keeps a human-readable, per-category flat-file copy of
// stored records. The files are append-only and are not meant to be
// re-ingested.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/your-username/tailhub/internal/models"
)

// Mirror appends "<timestamp> [<level>] <message>" lines to one file per
// category under dir.
type Mirror struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

// NewMirror creates the backup directory if needed.
func NewMirror(dir string) (*Mirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Mirror{dir: dir, files: make(map[string]*os.File)}, nil
}

// Path returns the mirror file used for category.
func (m *Mirror) Path(category string) string {
	return filepath.Join(m.dir, FileName(category))
}

// Append writes one line for the record.
func (m *Mirror) Append(r *models.Record) error {
	line := fmt.Sprintf("%s [%s] %s\n", r.Timestamp.Format(time.RFC3339Nano), r.Level, r.Message)

	m.mu.Lock()
	defer m.mu.Unlock()

	name := FileName(r.Category)
	f, ok := m.files[name]
	if !ok {
		var err error
		f, err = os.OpenFile(filepath.Join(m.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open mirror file: %w", err)
		}
		m.files[name] = f
	}

	if _, err := f.WriteString(line); err != nil {
		// drop the handle so the next append reopens it
		f.Close()
		delete(m.files, name)
		return fmt.Errorf("append mirror line: %w", err)
	}
	return nil
}

// Close flushes and closes every open mirror file.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, f := range m.files {
		if err := f.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.files, name)
	}
	return firstErr
}

// FileName maps a category onto a safe file name, e.g. "API" -> "api.log".
func FileName(category string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(category)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "general.log"
	}
	return b.String() + ".log"
}
