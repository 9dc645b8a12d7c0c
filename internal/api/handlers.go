package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/your-username/tailhub/internal/database"
	"github.com/your-username/tailhub/internal/ingestion"
	"github.com/your-username/tailhub/internal/models"
)

// RecordStore is the read side of the persistent store.
type RecordStore interface {
	Query(ctx context.Context, q models.RecordQuery) ([]models.Record, error)
	Summary(ctx context.Context) (*models.Summary, error)
	CategoryCounts(ctx context.Context) ([]models.CategoryCount, error)
}

// Submitter completes and ingests a candidate record.
type Submitter interface {
	Submit(ctx context.Context, candidate models.Record) (*models.Record, error)
}

// IngestLogs handles single record submissions
func IngestLogs(pipeline Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var candidate models.Record
		if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		record, err := pipeline.Submit(r.Context(), candidate)
		if err != nil {
			switch {
			case errors.Is(err, ingestion.ErrInvalidRecord):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, database.ErrNotInitialized):
				writeError(w, http.StatusServiceUnavailable, err.Error())
			default:
				log.Error().Err(err).Msg("Failed to ingest record")
				writeError(w, http.StatusInternalServerError, "Failed to store record")
			}
			return
		}

		writeJSON(w, http.StatusCreated, record)
	}
}

// QueryLogs handles record queries
func QueryLogs(store RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, err := parseRecordQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		records, err := store.Query(r.Context(), query)
		if err != nil {
			storeError(w, err, "Failed to query records")
			return
		}
		if records == nil {
			records = []models.Record{}
		}

		writeJSON(w, http.StatusOK, models.RecentRecords{
			Records: records,
			Count:   len(records),
		})
	}
}

// AnalyticsSummary returns the aggregate view over all records
func AnalyticsSummary(store RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := store.Summary(r.Context())
		if err != nil {
			storeError(w, err, "Failed to compute summary")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// CategoryBreakdown returns per-category counts
func CategoryBreakdown(store RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := store.CategoryCounts(r.Context())
		if err != nil {
			storeError(w, err, "Failed to compute category counts")
			return
		}
		if counts == nil {
			counts = []models.CategoryCount{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"categories": counts,
			"count":      len(counts),
		})
	}
}

func parseRecordQuery(r *http.Request) (models.RecordQuery, error) {
	params := r.URL.Query()
	query := models.RecordQuery{
		Category: params.Get("category"),
		Source:   params.Get("source"),
		Search:   params.Get("search"),
	}

	if level := params.Get("level"); level != "" {
		normalized, ok := models.NormalizeLevel(level)
		if !ok {
			return query, errors.New("unknown level " + strconv.Quote(level))
		}
		query.Level = normalized
	}

	if since := params.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339Nano, since)
		if err != nil {
			return query, errors.New("since must be an RFC3339 timestamp")
		}
		query.Since = t
	}

	if limit := params.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return query, errors.New("limit must be a non-negative integer")
		}
		query.Limit = n
	}

	if offset := params.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return query, errors.New("offset must be a non-negative integer")
		}
		query.Offset = n
	}

	return query, nil
}

func storeError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, database.ErrNotInitialized) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	log.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
