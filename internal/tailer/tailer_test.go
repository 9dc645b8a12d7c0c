package tailer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/your-username/tailhub/internal/config"
	"github.com/your-username/tailhub/internal/models"
	"github.com/your-username/tailhub/internal/parsing"
)

type recordingSink struct {
	mu      sync.Mutex
	records []*models.Record
	err     error
}

func (s *recordingSink) Ingest(ctx context.Context, r *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.err
}

func (s *recordingSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Message)
	}
	return out
}

func newTestTailer(t *testing.T, debounce time.Duration) (*Tailer, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	tl := New(config.TailerConfig{RootMarker: "projects", Debounce: debounce}, parsing.NewManager(), sink, nil)
	t.Cleanup(tl.Stop)
	return tl, sink
}

func appendTo(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func offsetOf(t *testing.T, tl *Tailer, path string) int64 {
	t.Helper()
	tl.mu.Lock()
	state := tl.files[path]
	tl.mu.Unlock()
	if state == nil {
		t.Fatalf("%s is not watched", path)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.offset
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTailer_SkipsExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("old line one\nold line two\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tl, sink := newTestTailer(t, time.Hour)
	ctx := context.Background()
	if err := tl.Start(ctx, []string{path}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tl.HandleChange(ctx, path)
	if got := sink.messages(); len(got) != 0 {
		t.Fatalf("existing content was replayed: %v", got)
	}

	appendTo(t, path, "fresh line\n")
	tl.HandleChange(ctx, path)
	if got := sink.messages(); !equal(got, []string{"fresh line"}) {
		t.Fatalf("messages = %v", got)
	}
}

func TestTailer_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects", "api", "logs", "app.log")

	tl, sink := newTestTailer(t, time.Hour)
	ctx := context.Background()
	if err := tl.Start(ctx, []string{path}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file was not created: %v", err)
	}
	if got := offsetOf(t, tl, path); got != 0 {
		t.Fatalf("offset = %d, want 0", got)
	}

	appendTo(t, path, "[2025-01-01T00:00:00] [ERROR] boom\n")
	tl.HandleChange(ctx, path)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) != 1 {
		t.Fatalf("got %d records, want 1", len(sink.records))
	}
	r := sink.records[0]
	if r.Source != "api" || r.Level != models.LevelError || r.Message != "boom" {
		t.Errorf("record = %+v", r)
	}
}

func TestTailer_PartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	tl, sink := newTestTailer(t, time.Hour)
	ctx := context.Background()
	if err := tl.Start(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}

	appendTo(t, path, "A")
	tl.HandleChange(ctx, path)
	if got := sink.messages(); len(got) != 0 {
		t.Fatalf("partial line delivered early: %v", got)
	}

	appendTo(t, path, "B\r\nC\n\nD")
	tl.HandleChange(ctx, path)
	if got := sink.messages(); !equal(got, []string{"AB", "C"}) {
		t.Fatalf("messages = %v, want [AB C]", got)
	}
}

func TestTailer_OffsetMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	tl, _ := newTestTailer(t, time.Hour)
	ctx := context.Background()
	if err := tl.Start(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}

	var last int64
	for _, chunk := range []string{"one\n", "tw", "o\nthree\n", "", "four"} {
		appendTo(t, path, chunk)
		tl.HandleChange(ctx, path)

		got := offsetOf(t, tl, path)
		info, _ := os.Stat(path)
		if got < last {
			t.Fatalf("offset went backwards: %d -> %d", last, got)
		}
		if got != info.Size() {
			t.Fatalf("offset = %d, want file size %d", got, info.Size())
		}
		last = got
	}
}

func TestTailer_TruncationIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	tl, sink := newTestTailer(t, time.Hour)
	ctx := context.Background()
	if err := tl.Start(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}

	appendTo(t, path, "first\nsecond\n")
	tl.HandleChange(ctx, path)
	before := offsetOf(t, tl, path)

	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	appendTo(t, path, "short\n")
	tl.HandleChange(ctx, path)

	if got := offsetOf(t, tl, path); got != before {
		t.Fatalf("offset = %d, want unchanged %d", got, before)
	}
	if got := sink.messages(); !equal(got, []string{"first", "second"}) {
		t.Fatalf("messages = %v", got)
	}
}

func TestTailer_SinkErrorDoesNotStopLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	tl, sink := newTestTailer(t, time.Hour)
	sink.err = errors.New("store down")
	ctx := context.Background()
	if err := tl.Start(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}

	appendTo(t, path, "a\nb\n")
	tl.HandleChange(ctx, path)
	if got := sink.messages(); !equal(got, []string{"a", "b"}) {
		t.Fatalf("messages = %v", got)
	}
}

func TestTailer_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	tl, sink := newTestTailer(t, time.Hour)
	ctx := context.Background()
	if err := tl.Start(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}
	if got := tl.ActiveWatches(); got != 1 {
		t.Fatalf("ActiveWatches = %d, want 1", got)
	}

	tl.Stop()
	tl.Stop()
	if got := tl.ActiveWatches(); got != 0 {
		t.Fatalf("ActiveWatches after Stop = %d, want 0", got)
	}

	appendTo(t, path, "after stop\n")
	tl.HandleChange(ctx, path)
	if got := sink.messages(); len(got) != 0 {
		t.Fatalf("lines delivered after Stop: %v", got)
	}
}

func TestTailer_StopWithoutStart(t *testing.T) {
	tl, _ := newTestTailer(t, time.Hour)
	tl.Stop()
}

func TestTailer_BadPathDoesNotAbortOthers(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	good := filepath.Join(dir, "good.log")

	tl, _ := newTestTailer(t, time.Hour)
	err := tl.Start(context.Background(), []string{filepath.Join(blocker, "sub", "app.log"), good})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := tl.ActiveWatches(); got != 1 {
		t.Fatalf("ActiveWatches = %d, want 1", got)
	}
}

func TestTailer_StartTwice(t *testing.T) {
	tl, _ := newTestTailer(t, time.Hour)
	ctx := context.Background()
	if err := tl.Start(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := tl.Start(ctx, nil); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestTailer_FollowsNotifications(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects", "web", "app.log")
	tl, sink := newTestTailer(t, 20*time.Millisecond)
	if err := tl.Start(context.Background(), []string{path}); err != nil {
		t.Fatal(err)
	}

	appendTo(t, path, `{"level":"warn","message":"from json"}`+"\n")
	appendTo(t, path, "plain text\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.messages()) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.messages(); !equal(got, []string{"from json", "plain text"}) {
		t.Fatalf("messages = %v", got)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.records[0].Source != "web" || sink.records[0].Level != models.LevelWarn {
		t.Errorf("record = %+v", sink.records[0])
	}
}

// gateSink holds the first delivery until release is closed.
type gateSink struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu      sync.Mutex
	ctxErrs []error
}

func (s *gateSink) Ingest(ctx context.Context, r *models.Record) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return ctx.Err()
}

func TestTailer_StopWaitsForInFlightDelivery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	sink := &gateSink{entered: make(chan struct{}), release: make(chan struct{})}
	tl := New(config.TailerConfig{Debounce: 10 * time.Millisecond}, parsing.NewManager(), sink, nil)
	if err := tl.Start(context.Background(), []string{path}); err != nil {
		t.Fatal(err)
	}

	appendTo(t, path, "slow line\n")
	select {
	case <-sink.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("line was never delivered")
	}

	stopped := make(chan struct{})
	go func() {
		tl.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(sink.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the delivery finished")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.ctxErrs) == 0 {
		t.Fatal("no delivery completed")
	}
	for _, err := range sink.ctxErrs {
		if err != nil {
			t.Errorf("delivery saw a cancelled context: %v", err)
		}
	}
}

func TestTailer_DeliversDuringContinuousWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	tl, sink := newTestTailer(t, 100*time.Millisecond)
	if err := tl.Start(context.Background(), []string{path}); err != nil {
		t.Fatal(err)
	}

	const lines = 50
	for i := 0; i < lines; i++ {
		appendTo(t, path, fmt.Sprintf("line %d\n", i))
		time.Sleep(20 * time.Millisecond)
	}
	if got := len(sink.messages()); got < 10 {
		t.Fatalf("only %d records delivered while the file was being written", got)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(sink.messages()) < lines && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := sink.messages()
	if len(got) != lines {
		t.Fatalf("got %d records, want %d", len(got), lines)
	}
	for i, msg := range got {
		if want := fmt.Sprintf("line %d", i); msg != want {
			t.Fatalf("record %d = %q, want %q", i, msg, want)
		}
	}
}

func TestSourceFor(t *testing.T) {
	tests := []struct {
		path   string
		marker string
		want   string
	}{
		{"/home/me/projects/api/logs/app.log", "projects", "api"},
		{"/home/me/projects/api/app.log", "projects", "api"},
		{"/home/me/projects/app.log", "projects", "projects"},
		{"/var/log/nginx/access.log", "projects", "nginx"},
		{"/var/log/nginx/access.log", "", "nginx"},
		{"/srv/repos/billing/out.log", "repos", "billing"},
	}
	for _, tt := range tests {
		if got := SourceFor(tt.path, tt.marker); got != tt.want {
			t.Errorf("SourceFor(%q, %q) = %q, want %q", tt.path, tt.marker, got, tt.want)
		}
	}
}
