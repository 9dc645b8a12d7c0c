// Package agent ships records from another Go process to a tailhub server
// over its ingestion endpoint.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the agent configuration
type Config struct {
	// Endpoint is the ingestion URL
	Endpoint string
	// BatchSize triggers an early flush once this many records are buffered
	BatchSize     int
	FlushInterval time.Duration
	// MaxRetries bounds the attempts per record
	MaxRetries int
	// RetryBackoff is multiplied by the attempt number between retries
	RetryBackoff time.Duration
	Source       string
	Category     string
	Environment  string
	// Data is merged into every record's data
	Data        map[string]interface{}
	HTTPTimeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Endpoint:      "http://localhost:20002/api/v1/logs",
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryBackoff:  time.Second,
		Environment:   "development",
		Data:          make(map[string]interface{}),
		HTTPTimeout:   10 * time.Second,
	}
}

// Entry is the candidate record sent to the server. Empty fields are filled
// in server-side.
type Entry struct {
	Timestamp   time.Time              `json:"timestamp"`
	Level       string                 `json:"level"`
	Category    string                 `json:"category,omitempty"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Source      string                 `json:"source,omitempty"`
	Environment string                 `json:"environment,omitempty"`
}

// Agent buffers entries and posts them in the background.
type Agent struct {
	config *Config
	client *http.Client

	mu     sync.Mutex
	buffer []Entry

	stopChan  chan struct{}
	flushChan chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a new agent. A nil config uses DefaultConfig.
func New(config *Config) *Agent {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	return &Agent{
		config:    config,
		client:    &http.Client{Timeout: config.HTTPTimeout},
		buffer:    make([]Entry, 0, config.BatchSize),
		stopChan:  make(chan struct{}),
		flushChan: make(chan struct{}, 1),
	}
}

// Start runs the flush loop.
func (a *Agent) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop flushes what is buffered and waits for the loop to exit. Safe to
// call more than once.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopChan) })
	a.wg.Wait()
}

func (a *Agent) Log(level, message string) {
	a.LogWithData(level, message, nil)
}

// LogWithData queues an entry. data overrides keys from Config.Data.
func (a *Agent) LogWithData(level, message string, data map[string]interface{}) {
	entry := Entry{
		Timestamp:   time.Now(),
		Level:       level,
		Category:    a.config.Category,
		Message:     message,
		Source:      a.config.Source,
		Environment: a.config.Environment,
	}

	if len(a.config.Data)+len(data) > 0 {
		entry.Data = make(map[string]interface{}, len(a.config.Data)+len(data))
		for k, v := range a.config.Data {
			entry.Data[k] = v
		}
		for k, v := range data {
			entry.Data[k] = v
		}
	}

	a.enqueue(entry)
}

func (a *Agent) LogError(err error, message string) {
	a.LogWithData("ERROR", message, map[string]interface{}{"error": err.Error()})
}

func (a *Agent) Debug(message string) { a.Log("DEBUG", message) }
func (a *Agent) Info(message string)  { a.Log("INFO", message) }
func (a *Agent) Warn(message string)  { a.Log("WARN", message) }
func (a *Agent) Error(message string) { a.Log("ERROR", message) }
func (a *Agent) Fatal(message string) { a.Log("FATAL", message) }

func (a *Agent) enqueue(entry Entry) {
	a.mu.Lock()
	a.buffer = append(a.buffer, entry)
	full := len(a.buffer) >= a.config.BatchSize
	a.mu.Unlock()

	if full {
		select {
		case a.flushChan <- struct{}{}:
		default:
		}
	}
}

func (a *Agent) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			a.flush()
			return
		case <-ticker.C:
			a.flush()
		case <-a.flushChan:
			a.flush()
		}
	}
}

// flush posts the buffered entries in order. An entry that still fails
// after MaxRetries is dropped and logged.
func (a *Agent) flush() {
	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return
	}
	batch := make([]Entry, len(a.buffer))
	copy(batch, a.buffer)
	a.buffer = a.buffer[:0]
	a.mu.Unlock()

	dropped := 0
	for _, entry := range batch {
		if err := a.sendWithRetry(entry); err != nil {
			log.Error().Err(err).Str("message", entry.Message).Msg("Dropping log entry")
			dropped++
		}
	}
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Int("batch_size", len(batch)).Msg("Some log entries were not delivered")
	}
}

func (a *Agent) sendWithRetry(entry Entry) error {
	var err error
	for attempt := 1; attempt <= a.config.MaxRetries; attempt++ {
		if err = a.send(context.Background(), entry); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("Failed to send log entry")
		if attempt < a.config.MaxRetries {
			time.Sleep(time.Duration(attempt) * a.config.RetryBackoff)
		}
	}
	return err
}

// statusError is a non-2xx response from the server.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned status %d", e.code)
}

// retryable is false for 4xx responses, which fail the same way every time.
func retryable(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.code >= 500
	}
	return true
}

func (a *Agent) send(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}
