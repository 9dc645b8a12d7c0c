package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/your-username/tailhub/internal/models"
)

func TestMirror_AppendsPerCategory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	m, err := NewMirror(dir)
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []models.Record{
		{Timestamp: ts, Level: "ERROR", Category: "API", Message: "first"},
		{Timestamp: ts, Level: "INFO", Category: "API", Message: "second"},
		{Timestamp: ts, Level: "WARN", Category: "DATABASE", Message: "third"},
	}
	for i := range records {
		if err := m.Append(&records[i]); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	api, err := os.ReadFile(m.Path("API"))
	if err != nil {
		t.Fatalf("read api mirror: %v", err)
	}
	want := "2025-01-01T00:00:00Z [ERROR] first\n2025-01-01T00:00:00Z [INFO] second\n"
	if string(api) != want {
		t.Fatalf("api mirror = %q, want %q", api, want)
	}

	db, err := os.ReadFile(filepath.Join(dir, "database.log"))
	if err != nil {
		t.Fatalf("read database mirror: %v", err)
	}
	if !strings.Contains(string(db), "[WARN] third") {
		t.Fatalf("database mirror = %q", db)
	}
}

func TestMirror_ReopensAfterClose(t *testing.T) {
	m, err := NewMirror(t.TempDir())
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	r := models.Record{Timestamp: time.Now(), Level: "INFO", Category: "SYSTEM", Message: "m"}
	if err := m.Append(&r); err != nil {
		t.Fatalf("Append: %v", err)
	}
	m.Close()
	if err := m.Append(&r); err != nil {
		t.Fatalf("Append after Close: %v", err)
	}
	m.Close()

	data, _ := os.ReadFile(m.Path("SYSTEM"))
	if got := strings.Count(string(data), "\n"); got != 2 {
		t.Fatalf("line count = %d, want 2", got)
	}
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"API":         "api.log",
		"  Auth ":     "auth.log",
		"../etc/pass": "___etc_pass.log",
		"":            "general.log",
		"user-events": "user-events.log",
	}
	for in, want := range tests {
		if got := FileName(in); got != want {
			t.Errorf("FileName(%q) = %q, want %q", in, got, want)
		}
	}
}
