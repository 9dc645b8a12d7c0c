package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/your-username/tailhub/internal/config"
	"github.com/your-username/tailhub/internal/models"
	"github.com/your-username/tailhub/internal/monitoring"
)

const maxRecentLimit = 1000

// Store is the read side of the record store used by the hub.
type Store interface {
	Query(ctx context.Context, q models.RecordQuery) ([]models.Record, error)
	Summary(ctx context.Context) (*models.Summary, error)
	CategoryCounts(ctx context.Context) ([]models.CategoryCount, error)
}

// Hub fans records out to connected viewers. Every piece of subscription
// state is guarded by mu.
type Hub struct {
	store       Store
	metrics     *monitoring.Metrics
	sendBuffer  int
	recentLimit int

	mu            sync.RWMutex
	clients       map[*Client]bool
	categoryRooms map[string]map[*Client]bool
	levelRooms    map[string]map[*Client]bool

	messagesSent atomic.Int64
	startTime    time.Time
}

func NewHub(store Store, cfg config.HubConfig, metrics *monitoring.Metrics) *Hub {
	h := &Hub{
		store:         store,
		metrics:       metrics,
		sendBuffer:    cfg.SendBuffer,
		recentLimit:   cfg.RecentLimit,
		clients:       make(map[*Client]bool),
		categoryRooms: make(map[string]map[*Client]bool),
		levelRooms:    make(map[string]map[*Client]bool),
		startTime:     time.Now(),
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = 256
	}
	if h.recentLimit <= 0 {
		h.recentLimit = 100
	}
	return h
}

// Connect registers a new viewer with an empty filter and queues the
// welcome event.
func (h *Hub) Connect(ctx context.Context) *Client {
	c := &Client{
		id:         uuid.New().String(),
		hub:        h,
		send:       make(chan []byte, h.sendBuffer),
		categories: make(map[string]bool),
		levels:     make(map[string]bool),
	}

	summary, err := h.store.Summary(ctx)
	if err != nil {
		log.Warn().Err(err).Str("client_id", c.id).Msg("Welcome sent without summary")
		summary = nil
	}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetClients(n)
	log.Info().Str("client_id", c.id).Msg("Client connected")

	h.sendTo(c, models.EventWelcome, models.Welcome{
		ConnectionID: c.id,
		Hub:          h.Stats(),
		Summary:      summary,
	})
	return c
}

// Disconnect removes the viewer from every room and closes its queue. It
// is safe to call more than once.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	delete(h.clients, c)
	for category := range c.categories {
		leave(h.categoryRooms, category, c)
	}
	for level := range c.levels {
		leave(h.levelRooms, level, c)
	}
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetClients(n)
	log.Info().Str("client_id", c.id).Msg("Client disconnected")
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Disconnect(c)
	}
}

func (h *Hub) SubscribeCategory(c *Client, category string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	join(h.categoryRooms, category, c)
	c.categories[category] = true
}

func (h *Hub) UnsubscribeCategory(c *Client, category string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	leave(h.categoryRooms, category, c)
	delete(c.categories, category)
}

func (h *Hub) SubscribeLevel(c *Client, level string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	join(h.levelRooms, level, c)
	c.levels[level] = true
}

func (h *Hub) UnsubscribeLevel(c *Client, level string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	leave(h.levelRooms, level, c)
	delete(c.levels, level)
}

func join(rooms map[string]map[*Client]bool, name string, c *Client) {
	room, ok := rooms[name]
	if !ok {
		room = make(map[*Client]bool)
		rooms[name] = room
	}
	room[c] = true
}

func leave(rooms map[string]map[*Client]bool, name string, c *Client) {
	room, ok := rooms[name]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(rooms, name)
	}
}

// UpdateFilters replaces the viewer's filter. A nil filter matches
// everything.
func (h *Hub) UpdateFilters(c *Client, filter *models.SubscriptionFilter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if filter == nil {
		c.filter = models.SubscriptionFilter{}
		return
	}
	c.filter = *filter
}

// RequestRecent answers the requesting viewer only.
func (h *Hub) RequestRecent(ctx context.Context, c *Client, options *models.RecordQuery) {
	var q models.RecordQuery
	if options != nil {
		q = *options
	}
	if q.Limit <= 0 {
		q.Limit = h.recentLimit
	}
	if q.Limit > maxRecentLimit {
		q.Limit = maxRecentLimit
	}

	records, err := h.store.Query(ctx, q)
	if err != nil {
		log.Error().Err(err).Str("client_id", c.id).Msg("Failed to load recent records")
		h.sendError(c, "failed to load recent records")
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	h.sendTo(c, models.EventRecentRecords, models.RecentRecords{Records: records, Count: len(records)})
}

// HandleMessage dispatches one viewer request.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg models.ClientMessage) {
	switch msg.Type {
	case models.RequestSubscribe, models.RequestUnsubscribe:
		if msg.Category == "" && msg.Level == "" {
			h.sendError(c, msg.Type+" needs a category or a level")
			return
		}
		subscribe := msg.Type == models.RequestSubscribe
		if msg.Category != "" {
			if subscribe {
				h.SubscribeCategory(c, msg.Category)
			} else {
				h.UnsubscribeCategory(c, msg.Category)
			}
		}
		if msg.Level != "" {
			if subscribe {
				h.SubscribeLevel(c, msg.Level)
			} else {
				h.UnsubscribeLevel(c, msg.Level)
			}
		}
	case models.RequestUpdateFilters:
		h.UpdateFilters(c, msg.Filters)
	case models.RequestRecent:
		h.RequestRecent(ctx, c, msg.Options)
	case models.RequestPing:
		h.sendTo(c, models.EventPong, map[string]int64{"timestamp": time.Now().UnixMilli()})
	default:
		log.Warn().Str("client_id", c.id).Str("type", msg.Type).Msg("Unknown message type")
		h.sendError(c, "unknown message type "+msg.Type)
	}
}

// Broadcast delivers a stored record: new-record to everyone, then the
// category room, then the level room, then filtered-record to every viewer
// whose filter matches.
func (h *Hub) Broadcast(r *models.Record) {
	payload, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Str("id", r.ID).Msg("Failed to encode record for broadcast")
		return
	}
	dataJSON := ""
	if r.Data != nil {
		if b, err := json.Marshal(r.Data); err == nil {
			dataJSON = string(b)
		}
	}

	newRecord := envelope(models.EventNewRecord, payload)
	categoryRecord := envelope(models.EventCategoryRecord, payload)
	levelRecord := envelope(models.EventLevelRecord, payload)
	filteredRecord := envelope(models.EventFilteredRecord, payload)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		h.emit(c, newRecord)
	}
	for c := range h.categoryRooms[r.Category] {
		h.emit(c, categoryRecord)
	}
	for c := range h.levelRooms[r.Level] {
		h.emit(c, levelRecord)
	}
	for c := range h.clients {
		if c.filter.Matches(r, dataJSON) {
			h.emit(c, filteredRecord)
		}
	}
}

func envelope(eventType string, payload json.RawMessage) []byte {
	msg, _ := json.Marshal(models.WebSocketMessage{Type: eventType, Data: payload})
	return msg
}

// sendTo queues one event for a single viewer.
func (h *Hub) sendTo(c *Client, eventType string, data interface{}) {
	msg, err := json.Marshal(models.WebSocketMessage{Type: eventType, Data: data})
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("Failed to encode event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.emit(c, msg)
}

func (h *Hub) sendError(c *Client, message string) {
	h.sendTo(c, models.EventError, map[string]string{"message": message})
}

// emit must be called with mu held so that the queue cannot be closed
// underneath it. A full queue drops the event.
func (h *Hub) emit(c *Client, msg []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
		h.messagesSent.Add(1)
		h.metrics.MessageSent()
	default:
		h.metrics.MessageDropped()
		log.Warn().Str("client_id", c.id).Msg("Client send buffer full, dropping message")
	}
}

// Stats returns the process-wide distribution counters.
func (h *Hub) Stats() models.HubStats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return models.HubStats{
		ConnectedClients: n,
		MessagesSent:     h.messagesSent.Load(),
		StartTime:        h.startTime,
		UptimeSeconds:    time.Since(h.startTime).Seconds(),
	}
}

// Run sends analytics-update to every viewer each interval while anyone is
// connected. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Hub analytics loop stopping")
			return
		case <-ticker.C:
			if err := h.BroadcastAnalytics(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Failed to broadcast analytics")
			}
		}
	}
}

// BroadcastAnalytics sends one analytics-update. It does nothing when no
// viewer is connected.
func (h *Hub) BroadcastAnalytics(ctx context.Context) error {
	if h.Stats().ConnectedClients == 0 {
		return nil
	}
	summary, err := h.store.Summary(ctx)
	if err != nil {
		return err
	}
	categories, err := h.store.CategoryCounts(ctx)
	if err != nil {
		return err
	}

	msg, err := json.Marshal(models.WebSocketMessage{
		Type: models.EventAnalyticsUpdate,
		Data: models.AnalyticsUpdate{Summary: summary, Categories: categories, Hub: h.Stats()},
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.emit(c, msg)
	}
	return nil
}
