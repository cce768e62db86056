package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rickgao/cosmic-feed/internal/archive"
	"github.com/rickgao/cosmic-feed/internal/feed"
	"github.com/rickgao/cosmic-feed/internal/model"
	"github.com/rickgao/cosmic-feed/internal/store"
	"github.com/rickgao/cosmic-feed/internal/version"
)

const (
	defaultItemLimit = 100
	maxItemLimit     = 1000
)

// feedView is the part of *feed.Feed the HTTP handlers use.
type feedView interface {
	State() feed.State
	Snapshot() []model.Item
	LoadMore() error
	MarkRead(ctx context.Context, id string) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// serverDeps are the components exposed over HTTP. db and archive may be nil.
type serverDeps struct {
	feed    feedView
	store   *store.Store
	db      pinger
	archive *archive.Writer
	logger  *slog.Logger
}

// newHandler creates the HTTP handler for health checks and debugging.
func newHandler(d serverDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		state := d.feed.State()
		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		feedStatus := map[string]any{
			"connected":   state.Connected,
			"degraded":    state.Degraded,
			"loading":     state.Loading,
			"exhausted":   state.Exhausted,
			"next_cursor": state.NextCursor,
			"applied":     state.Applied,
			"pending":     state.Pending,
			"queue":       state.Queue,
			"polls":       state.Polls,
		}
		if state.Err != nil {
			feedStatus["error"] = state.Err.Error()
		}
		health.Components["feed"] = feedStatus
		if state.Degraded {
			health.Status = "degraded"
		}

		stats := d.store.Stats()
		health.Components["store"] = map[string]any{
			"items":      d.store.Len(),
			"unread":     d.store.UnreadCount(),
			"inserted":   stats.Inserted,
			"duplicates": stats.Duplicates,
			"rejected":   stats.Rejected,
			"evicted":    stats.Evicted,
		}

		if d.archive != nil {
			health.Components["archive"] = d.archive.Stats()
		}

		if d.db != nil {
			if err := d.db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeJSON(w, d.logger, health)
	})

	mux.HandleFunc("GET /debug/items", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultItemLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxItemLimit)
		}

		items := d.feed.Snapshot()
		showing := items[:min(limit, len(items))]

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, d.logger, map[string]any{
			"count":   len(items),
			"showing": len(showing),
			"items":   showing,
		})
	})

	mux.HandleFunc("POST /debug/load-more", func(w http.ResponseWriter, r *http.Request) {
		err := d.feed.LoadMore()
		switch {
		case err == nil:
			w.WriteHeader(http.StatusAccepted)
		case errors.Is(err, feed.ErrLoading):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, feed.ErrExhausted):
			http.Error(w, err.Error(), http.StatusGone)
		default:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		}
	})

	mux.HandleFunc("POST /debug/items/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		err := d.feed.MarkRead(r.Context(), r.PathValue("id"))
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, feed.ErrNotReadable):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, feed.ErrNoWriter):
			http.Error(w, err.Error(), http.StatusNotImplemented)
		case errors.Is(err, feed.ErrNotStarted), errors.Is(err, feed.ErrStopped):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}
