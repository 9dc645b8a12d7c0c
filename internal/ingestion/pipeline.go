// Package ingestion moves records from their entry points (API
// submissions, tailed files, network listeners) into the store and out to
// live viewers.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/your-username/tailhub/internal/database"
	"github.com/your-username/tailhub/internal/models"
)

// ErrInvalidRecord is returned by Submit for a candidate that cannot be
// completed into a record.
var ErrInvalidRecord = errors.New("invalid record")

// DefaultSource names records submitted without a source.
const DefaultSource = "api"

type Store interface {
	Store(ctx context.Context, r *models.Record) error
}

type Broadcaster interface {
	Broadcast(r *models.Record)
}

// Pipeline stores each record and, only once it is stored, broadcasts it.
type Pipeline struct {
	store Store
	hub   Broadcaster
	now   func() time.Time
}

func NewPipeline(store Store, hub Broadcaster) *Pipeline {
	return &Pipeline{store: store, hub: hub, now: time.Now}
}

// Ingest persists a complete record and then hands it to the hub. Nothing
// is broadcast when the store fails.
func (p *Pipeline) Ingest(ctx context.Context, r *models.Record) error {
	if err := p.store.Store(ctx, r); err != nil {
		if errors.Is(err, database.ErrDuplicateKey) {
			log.Error().Err(err).Str("id", r.ID).Msg("Record id collision")
		}
		return err
	}
	p.hub.Broadcast(r)
	return nil
}

// Submit completes a candidate record with defaults and ingests it. It
// returns the record as stored.
func (p *Pipeline) Submit(ctx context.Context, candidate models.Record) (*models.Record, error) {
	r := candidate
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRecord)
	}

	if r.Level == "" {
		r.Level = models.LevelInfo
	} else {
		level, ok := models.NormalizeLevel(r.Level)
		if !ok {
			return nil, fmt.Errorf("%w: unknown level %q", ErrInvalidRecord, r.Level)
		}
		r.Level = level
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = p.now()
	}
	if r.Category == "" {
		r.Category = models.CategoryGeneral
	}
	if r.Source == "" {
		r.Source = DefaultSource
	}
	if r.Environment == "" {
		r.Environment = models.EnvDevelopment
	}

	if err := p.Ingest(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
