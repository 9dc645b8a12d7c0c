package models

import "time"

// Outbound event names emitted by the distribution hub.
const (
	EventWelcome         = "welcome"
	EventNewRecord       = "new-record"
	EventCategoryRecord  = "category-record"
	EventLevelRecord     = "level-record"
	EventFilteredRecord  = "filtered-record"
	EventRecentRecords   = "recent-records"
	EventAnalyticsUpdate = "analytics-update"
	EventPong            = "pong"
	EventError           = "error"
)

// Inbound request names a viewer may send.
const (
	RequestSubscribe     = "subscribe"
	RequestUnsubscribe   = "unsubscribe"
	RequestUpdateFilters = "update-filters"
	RequestRecent        = "request-recent"
	RequestPing          = "ping"
)

// WebSocketMessage is the envelope for every event sent to a viewer.
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// ClientMessage is a request received from a viewer. Category and Level
// name the room for subscribe/unsubscribe.
type ClientMessage struct {
	Type     string              `json:"type"`
	Category string              `json:"category,omitempty"`
	Level    string              `json:"level,omitempty"`
	Filters  *SubscriptionFilter `json:"filters,omitempty"`
	Options  *RecordQuery        `json:"options,omitempty"`
}

// HubStats are the process-wide distribution counters.
type HubStats struct {
	ConnectedClients int       `json:"connected_clients"`
	MessagesSent     int64     `json:"messages_sent"`
	StartTime        time.Time `json:"start_time"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
}

// Summary is the aggregate view over all stored records.
type Summary struct {
	Total         int64           `json:"total"`
	Errors        int64           `json:"errors"`
	Warnings      int64           `json:"warnings"`
	Today         int64           `json:"today"`
	TopCategories []CategoryTotal `json:"top_categories"`
}

// CategoryTotal is one entry of Summary.TopCategories.
type CategoryTotal struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// CategoryCount is the per-category breakdown returned by analytics.
type CategoryCount struct {
	Category string    `json:"category"`
	Total    int64     `json:"total"`
	Errors   int64     `json:"errors"`
	Warnings int64     `json:"warnings"`
	Today    int64     `json:"today"`
	Latest   time.Time `json:"latest"`
}

// StorageStats is lightweight metadata for health reporting.
type StorageStats struct {
	Initialized  bool      `json:"initialized"`
	Driver       string    `json:"driver,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// RecentRecords is the payload of a recent-records event.
type RecentRecords struct {
	Records []Record `json:"records"`
	Count   int      `json:"count"`
}

// AnalyticsUpdate is the payload of the periodic analytics broadcast.
type AnalyticsUpdate struct {
	Summary    *Summary        `json:"summary,omitempty"`
	Categories []CategoryCount `json:"categories,omitempty"`
	Hub        HubStats        `json:"hub"`
}

// Welcome is sent to a viewer right after it connects.
type Welcome struct {
	ConnectionID string   `json:"connection_id"`
	Hub          HubStats `json:"hub"`
	Summary      *Summary `json:"summary,omitempty"`
}
