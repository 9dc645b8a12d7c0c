package monitoring

import (
	"context"
	"fmt"

	"github.com/your-username/tailhub/internal/models"
)

// StatsProvider is the part of the store the storage checker needs.
type StatsProvider interface {
	Stats(ctx context.Context) (*models.StorageStats, error)
}

// StorageHealthChecker reports whether the record store is initialized and
// how large it is.
type StorageHealthChecker struct {
	store StatsProvider
}

// NewStorageHealthChecker creates a new storage health checker
func NewStorageHealthChecker(store StatsProvider) *StorageHealthChecker {
	return &StorageHealthChecker{store: store}
}

// Name returns the name of the checker
func (s *StorageHealthChecker) Name() string {
	return "storage"
}

// Check performs the health check
func (s *StorageHealthChecker) Check(ctx context.Context) (*ComponentHealth, error) {
	health := &ComponentHealth{
		Name:    s.Name(),
		Status:  HealthStatusOK,
		Details: make(map[string]interface{}),
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return health, fmt.Errorf("storage stats: %w", err)
	}
	if !stats.Initialized {
		health.Status = HealthStatusDown
		health.Message = "store is not initialized"
		return health, nil
	}

	health.Details["driver"] = stats.Driver
	health.Details["size_mb"] = float64(stats.SizeBytes) / 1024 / 1024
	if !stats.LastModified.IsZero() {
		health.Details["last_modified"] = stats.LastModified
	}
	return health, nil
}

// WatchCounter is implemented by the tailer.
type WatchCounter interface {
	ActiveWatches() int
}

// TailerHealthChecker reports degraded when no file is being tailed.
type TailerHealthChecker struct {
	tailer WatchCounter
}

// NewTailerHealthChecker creates a new tailer health checker
func NewTailerHealthChecker(tailer WatchCounter) *TailerHealthChecker {
	return &TailerHealthChecker{tailer: tailer}
}

// Name returns the name of the checker
func (t *TailerHealthChecker) Name() string {
	return "tailer"
}

// Check performs the health check
func (t *TailerHealthChecker) Check(ctx context.Context) (*ComponentHealth, error) {
	health := &ComponentHealth{
		Name:    t.Name(),
		Status:  HealthStatusOK,
		Details: make(map[string]interface{}),
	}

	n := t.tailer.ActiveWatches()
	health.Details["active_watches"] = n
	if n == 0 {
		health.Status = HealthStatusDegraded
		health.Message = "no files are being tailed"
	}
	return health, nil
}

// HubStatsProvider is implemented by the distribution hub.
type HubStatsProvider interface {
	Stats() models.HubStats
}

// HubHealthChecker exposes the hub's connection counters.
type HubHealthChecker struct {
	hub HubStatsProvider
}

// NewHubHealthChecker creates a new hub health checker
func NewHubHealthChecker(hub HubStatsProvider) *HubHealthChecker {
	return &HubHealthChecker{hub: hub}
}

// Name returns the name of the checker
func (h *HubHealthChecker) Name() string {
	return "hub"
}

// Check performs the health check
func (h *HubHealthChecker) Check(ctx context.Context) (*ComponentHealth, error) {
	stats := h.hub.Stats()
	return &ComponentHealth{
		Name:   h.Name(),
		Status: HealthStatusOK,
		Details: map[string]interface{}{
			"connected_clients": stats.ConnectedClients,
			"messages_sent":     stats.MessagesSent,
			"uptime_seconds":    stats.UptimeSeconds,
		},
	}, nil
}
