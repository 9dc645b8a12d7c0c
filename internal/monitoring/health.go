package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusDown     HealthStatus = "down"
)

// ComponentHealth represents health information for a single component
type ComponentHealth struct {
	Name         string                 `json:"name"`
	Status       HealthStatus           `json:"status"`
	Message      string                 `json:"message,omitempty"`
	LastChecked  time.Time              `json:"last_checked"`
	ResponseTime time.Duration          `json:"response_time_ns"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// SystemHealth represents overall system health
type SystemHealth struct {
	Status     HealthStatus                `json:"status"`
	Timestamp  time.Time                   `json:"timestamp"`
	Version    string                      `json:"version"`
	Uptime     float64                     `json:"uptime_seconds"`
	Components map[string]*ComponentHealth `json:"components"`
	SystemInfo SystemInfo                  `json:"system_info"`
}

// SystemInfo contains process-level information
type SystemInfo struct {
	GoVersion     string  `json:"go_version"`
	NumGoroutines int     `json:"num_goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumCPU        int     `json:"num_cpu"`
}

// HealthChecker defines the interface for health checks
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) (*ComponentHealth, error)
}

// HealthMonitor runs the registered checkers and folds their results into
// one status.
type HealthMonitor struct {
	mu        sync.RWMutex
	checkers  map[string]HealthChecker
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(version string) *HealthMonitor {
	return &HealthMonitor{
		checkers:  make(map[string]HealthChecker),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// RegisterChecker registers a health checker
func (h *HealthMonitor) RegisterChecker(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[checker.Name()] = checker
}

type checkResult struct {
	name   string
	health *ComponentHealth
}

// GetHealth performs all health checks in parallel.
func (h *HealthMonitor) GetHealth(ctx context.Context) *SystemHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health := &SystemHealth{
		Status:     HealthStatusOK,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Seconds(),
		Components: make(map[string]*ComponentHealth),
		SystemInfo: systemInfo(),
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan checkResult, len(h.checkers))

	for name, checker := range h.checkers {
		wg.Add(1)
		go func(n string, c HealthChecker) {
			defer wg.Done()

			start := time.Now()
			componentHealth, err := c.Check(ctx)
			if err != nil {
				if componentHealth == nil {
					componentHealth = &ComponentHealth{Name: n}
				}
				componentHealth.Status = HealthStatusDown
				componentHealth.Message = err.Error()
			}
			componentHealth.ResponseTime = time.Since(start)
			componentHealth.LastChecked = time.Now()

			results <- checkResult{n, componentHealth}
		}(name, checker)
	}

	wg.Wait()
	close(results)

	for result := range results {
		health.Components[result.name] = result.health

		switch result.health.Status {
		case HealthStatusDown:
			health.Status = HealthStatusDown
		case HealthStatusDegraded:
			if health.Status != HealthStatusDown {
				health.Status = HealthStatusDegraded
			}
		}
	}

	return health
}

// HTTPHandler returns an HTTP handler for health checks
func (h *HealthMonitor) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.GetHealth(r.Context())

		statusCode := http.StatusOK
		if health.Status == HealthStatusDown {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(health)
	}
}

// LivenessHandler answers as long as the process can serve HTTP.
func (h *HealthMonitor) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "alive",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemoryAllocMB: float64(m.Alloc) / 1024 / 1024,
		NumCPU:        runtime.NumCPU(),
	}
}
