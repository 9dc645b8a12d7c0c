// Package tailer follows a fixed set of log files and turns every complete
// line appended after start-up into a record.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/your-username/tailhub/internal/config"
	"github.com/your-username/tailhub/internal/models"
	"github.com/your-username/tailhub/internal/monitoring"
	"github.com/your-username/tailhub/internal/parsing"
)

const readChunk = 1 << 20

// LineParser turns one line into a record.
type LineParser interface {
	Parse(line, source string) *parsing.ParsingResult
}

// Sink receives parsed records in file order.
type Sink interface {
	Ingest(ctx context.Context, r *models.Record) error
}

// fileState is the read position of one watched file. Bytes before offset
// have been consumed; pending holds an unterminated trailing fragment.
type fileState struct {
	mu      sync.Mutex
	path    string
	source  string
	offset  int64
	pending string
}

type Tailer struct {
	parser     LineParser
	sink       Sink
	metrics    *monitoring.Metrics
	rootMarker string
	debounce   time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	files   map[string]*fileState
	timers  map[string]*time.Timer
	cancel  context.CancelFunc
	done    chan struct{}

	// inflight counts armed timers and running reads; Stop waits for it
	inflight sync.WaitGroup
}

// New creates a tailer. Nothing is watched until Start.
func New(cfg config.TailerConfig, parser LineParser, sink Sink, metrics *monitoring.Metrics) *Tailer {
	return &Tailer{
		parser:     parser,
		sink:       sink,
		metrics:    metrics,
		rootMarker: cfg.RootMarker,
		debounce:   cfg.Debounce,
		files:      make(map[string]*fileState),
		timers:     make(map[string]*time.Timer),
	}
}

// Start begins watching paths. Missing files and directories are created.
// Existing content is skipped: only bytes appended from now on are read. A
// path that cannot be set up is logged and skipped.
func (t *Tailer) Start(ctx context.Context, paths []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.watcher != nil {
		return errors.New("tailer already started")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	for _, p := range paths {
		state, err := t.prepare(watcher, p)
		if err != nil {
			log.Error().Err(err).Str("path", p).Msg("Failed to watch file")
			continue
		}
		t.files[state.path] = state
		log.Info().Str("path", state.path).Str("source", state.source).Int64("offset", state.offset).Msg("Watching file")
	}

	// Reads that already started keep delivering after Stop, so they run
	// on a context Stop does not cancel.
	deliverCtx := context.WithoutCancel(ctx)
	ctx, cancel := context.WithCancel(ctx)
	t.watcher = watcher
	t.cancel = cancel
	t.done = make(chan struct{})
	t.metrics.SetActiveWatches(len(t.files))

	go t.run(ctx, deliverCtx, watcher, t.done)
	return nil
}

func (t *Tailer) prepare(watcher *fsnotify.Watcher, p string) (*fileState, error) {
	path, err := filepath.Abs(p)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return nil, err
	}

	// the directory is watched so a replaced file keeps producing events
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("add watch: %w", err)
	}
	return &fileState{
		path:   path,
		source: SourceFor(path, t.rootMarker),
		offset: info.Size(),
	}, nil
}

func (t *Tailer) run(ctx, deliverCtx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				t.schedule(deliverCtx, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("File watcher error")
		}
	}
}

// schedule coalesces bursts of notifications for one file. The first
// notification arms a timer; later ones inside the window ride along, so a
// file that never goes quiet is still read once per debounce interval.
func (t *Tailer) schedule(ctx context.Context, name string) {
	path, err := filepath.Abs(name)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.files[path]; !ok {
		return
	}
	if t.debounce <= 0 {
		t.inflight.Add(1)
		go func() {
			defer t.inflight.Done()
			t.HandleChange(ctx, path)
		}()
		return
	}
	if _, pending := t.timers[path]; pending {
		return
	}

	t.inflight.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(t.debounce, func() {
		defer t.inflight.Done()
		t.mu.Lock()
		if t.timers[path] == timer {
			delete(t.timers, path)
		}
		t.mu.Unlock()
		t.HandleChange(ctx, path)
	})
	t.timers[path] = timer
}

// HandleChange reads whatever was appended to path since the last call and
// forwards each complete line. It does nothing when the file did not grow.
func (t *Tailer) HandleChange(ctx context.Context, path string) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	t.mu.Lock()
	state := t.files[path]
	t.mu.Unlock()
	if state == nil {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	info, err := os.Stat(state.path)
	if err != nil {
		log.Debug().Err(err).Str("path", state.path).Msg("Cannot stat watched file")
		return
	}
	size := info.Size()
	if size <= state.offset {
		// truncated or rotated files are not re-read until they grow past
		// the old offset
		return
	}

	f, err := os.Open(state.path)
	if err != nil {
		log.Error().Err(err).Str("path", state.path).Msg("Failed to open watched file")
		return
	}
	defer f.Close()

	for state.offset < size {
		n := size - state.offset
		if n > readChunk {
			n = readChunk
		}
		buf := make([]byte, n)
		read, err := f.ReadAt(buf, state.offset)
		if err != nil && !errors.Is(err, io.EOF) {
			log.Error().Err(err).Str("path", state.path).Msg("Failed to read watched file")
			return
		}
		if read == 0 {
			return
		}
		state.offset += int64(read)
		t.consume(ctx, state, string(buf[:read]))
	}
}

func (t *Tailer) consume(ctx context.Context, state *fileState, chunk string) {
	parts := strings.Split(state.pending+chunk, "\n")
	state.pending = parts[len(parts)-1]

	for _, line := range parts[:len(parts)-1] {
		line = strings.TrimSuffix(line, "\r")
		t.metrics.LineTailed(state.source)

		result := t.parser.Parse(line, state.source)
		if !result.Success {
			continue
		}
		t.metrics.LineParsed(result.Parser)

		if err := t.sink.Ingest(ctx, result.Record); err != nil {
			log.Error().Err(err).Str("path", state.path).Str("id", result.Record.ID).Msg("Failed to ingest tailed line")
		}
	}
}

// Stop closes the watcher and forgets every file, then waits for reads that
// were already running to deliver their lines. It is safe to call more than
// once.
func (t *Tailer) Stop() {
	t.mu.Lock()
	if t.watcher == nil {
		t.mu.Unlock()
		return
	}
	t.cancel()
	for path, timer := range t.timers {
		if timer.Stop() {
			t.inflight.Done()
		}
		delete(t.timers, path)
	}
	for path := range t.files {
		delete(t.files, path)
	}
	watcher, done := t.watcher, t.done
	t.watcher = nil
	t.metrics.SetActiveWatches(0)
	t.mu.Unlock()

	if err := watcher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close file watcher")
	}
	<-done
	t.inflight.Wait()
	log.Info().Msg("Tailer stopped")
}

// ActiveWatches returns the number of files being followed.
func (t *Tailer) ActiveWatches() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

// SourceFor names the project a log file belongs to: the directory right
// below marker when the path contains one, otherwise the file's parent
// directory.
func SourceFor(path, marker string) string {
	clean := filepath.Clean(path)
	parts := strings.Split(filepath.ToSlash(clean), "/")
	if marker != "" {
		// the last element is the file itself
		for i := 0; i < len(parts)-2; i++ {
			if parts[i] == marker && parts[i+1] != "" {
				return parts[i+1]
			}
		}
	}
	return filepath.Base(filepath.Dir(clean))
}
