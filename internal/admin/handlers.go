// Package admin provides HTTP handlers for the holocrond administration API:
// cache maintenance, fetch log inspection and API key management.
// All admin routes are protected by bearer-token authentication via AuthMiddleware.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/holocron-labs/holocron/internal/cache"
	"github.com/holocron-labs/holocron/internal/fetchlog"
)

// CacheManager exposes the client operations the admin API needs.
type CacheManager interface {
	CacheStats() cache.Stats
	ClearCache(ctx context.Context) bool
	PruneCache(ctx context.Context) int
	ActiveRequests() int
}

// Handlers holds dependencies for admin HTTP handlers.
type Handlers struct {
	Keys     Store
	Cache    CacheManager
	Logs     fetchlog.Reader
	LogAdmin fetchlog.Maintainer
}

// Routes returns a chi.Router with all admin endpoints mounted.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	// Read-only endpoints.
	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeReadOnly, ScopeMaintain))
		r.Get("/health", h.healthCheck)
		r.Get("/keys", h.listKeys)
		r.Get("/cache", h.cacheStats)
		r.Get("/logs", h.listLogs)
	})

	// Cache and fetch log maintenance.
	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeMaintain))
		r.Delete("/cache", h.clearCache)
		r.Post("/cache/prune", h.pruneCache)
		r.Delete("/logs", h.deleteLogs)
	})

	// Key management.
	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeAdmin))
		r.Post("/keys", h.createKey)
		r.Post("/keys/{id}/revoke", h.revokeKey)
	})

	return r
}

func (h *Handlers) healthCheck(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if h.Cache != nil {
		body["active_requests"] = h.Cache.ActiveRequests()
		body["cache"] = h.Cache.CacheStats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handlers) listKeys(w http.ResponseWriter, _ *http.Request) {
	keys := h.Keys.List()
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": keys})
}

func (h *Handlers) createKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", "invalid_request_error")
		return
	}
	for _, s := range req.Scopes {
		if !ValidScope(s) {
			writeError(w, http.StatusBadRequest, "unknown scope: "+s, "invalid_request_error")
			return
		}
	}

	key, err := h.Keys.Create(req.Name, req.Scopes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create key", "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (h *Handlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Keys.Revoke(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "not_found_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handlers) cacheStats(w http.ResponseWriter, _ *http.Request) {
	if h.Cache == nil {
		writeError(w, http.StatusNotImplemented, "cache is not available", "not_implemented_error")
		return
	}
	writeJSON(w, http.StatusOK, h.Cache.CacheStats())
}

func (h *Handlers) clearCache(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		writeError(w, http.StatusNotImplemented, "cache is not available", "not_implemented_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": h.Cache.ClearCache(r.Context())})
}

func (h *Handlers) pruneCache(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		writeError(w, http.StatusNotImplemented, "cache is not available", "not_implemented_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pruned": h.Cache.PruneCache(r.Context())})
}

func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		writeError(w, http.StatusNotImplemented, "fetch log storage is not enabled", "not_implemented_error")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: must be a positive integer", "invalid_request_error")
			return
		}
		if parsed > 200 {
			parsed = 200
		}
		limit = parsed
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset: must be a non-negative integer", "invalid_request_error")
			return
		}
		offset = parsed
	}

	query := fetchlog.Query{
		Limit:   limit,
		Offset:  offset,
		Outcome: r.URL.Query().Get("outcome"),
		URL:     r.URL.Query().Get("url"),
	}

	result, err := h.Logs.List(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list fetch logs", "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result.Data,
		"summary": map[string]interface{}{
			"total_entries":    result.Total,
			"returned_entries": len(result.Data),
		},
		"filters": map[string]interface{}{
			"limit":   limit,
			"offset":  offset,
			"outcome": query.Outcome,
			"url":     query.URL,
		},
	})
}

func (h *Handlers) deleteLogs(w http.ResponseWriter, r *http.Request) {
	if h.LogAdmin == nil {
		writeError(w, http.StatusNotImplemented, "fetch log storage is not enabled", "not_implemented_error")
		return
	}

	beforeRaw := r.URL.Query().Get("before")
	if beforeRaw == "" {
		writeError(w, http.StatusBadRequest, "before is required and must be RFC3339 format", "invalid_request_error")
		return
	}
	before, err := time.Parse(time.RFC3339, beforeRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid before: must be RFC3339 format", "invalid_request_error")
		return
	}

	deleted, err := h.LogAdmin.Delete(r.Context(), fetchlog.MaintenanceQuery{Before: &before})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete fetch logs", "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"filters": map[string]interface{}{"before": beforeRaw},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
