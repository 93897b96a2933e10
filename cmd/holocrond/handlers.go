package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/holocron-labs/holocron"
	"github.com/holocron-labs/holocron/internal/circuitbreaker"
	"github.com/holocron-labs/holocron/internal/logging"
	"github.com/holocron-labs/holocron/internal/ratelimit"
	"github.com/holocron-labs/holocron/swapi"
)

// maxResolveURLs bounds the url parameters accepted by /api/resolve.
const maxResolveURLs = 100

type apiHandlers struct {
	client *holocron.Client
}

// list serves the full, aggregated listing of a resource, optionally
// filtered with ?search=.
func (h *apiHandlers) list(w http.ResponseWriter, r *http.Request) {
	resource, err := swapi.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	var results []json.RawMessage
	if q, ok := r.URL.Query()["search"]; ok {
		results, err = holocron.Search[json.RawMessage](r.Context(), h.client, resource, firstOf(q))
	} else {
		results, err = holocron.FetchAllPages[json.RawMessage](r.Context(), h.client, resource.Endpoint())
	}
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

func (h *apiHandlers) get(w http.ResponseWriter, r *http.Request) {
	resource, err := swapi.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer", "invalid_request_error")
		return
	}

	body, err := h.client.Fetch(r.Context(), resource.EntityPath(id))
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// resolve expands one or more relationship URLs given as repeated url
// parameters. Empty values resolve to null in the same position.
func (h *apiHandlers) resolve(w http.ResponseWriter, r *http.Request) {
	urls := r.URL.Query()["url"]
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, "at least one url parameter is required", "invalid_request_error")
		return
	}
	if len(urls) > maxResolveURLs {
		writeError(w, http.StatusBadRequest, "too many url parameters", "invalid_request_error")
		return
	}

	for _, u := range urls {
		if u != "" && !h.client.InScope(u) {
			writeError(w, http.StatusBadRequest, "url must be under "+h.client.BaseURL(), "invalid_request_error")
			return
		}
	}

	results, err := holocron.ResolveMany[json.RawMessage](r.Context(), h.client, urls)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

func (h *apiHandlers) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.client.CacheStats())
}

// rateLimitMiddleware rejects clients that exceed their token bucket.
func rateLimitMiddleware(store *ratelimit.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limit_error")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey is the peer IP. RemoteAddr only reflects forwarding headers when
// the router was built with trustProxyHeaders.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeUpstreamError maps client errors onto HTTP statuses.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		remote    *swapi.RemoteError
		transport *swapi.TransportError
	)
	switch {
	case swapi.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), "not_found_error")
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, err.Error(), "circuit_open")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error(), "timeout_error")
	case errors.As(err, &remote), errors.As(err, &transport),
		errors.Is(err, holocron.ErrPaginationCycle), errors.Is(err, swapi.ErrForeignURL):
		writeError(w, http.StatusBadGateway, err.Error(), "upstream_error")
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), "server_error")
	}
	logging.FromContext(r.Context(), nil).Warn("upstream request failed", "path", r.URL.Path, "error", err)
}

// writeError writes the JSON error envelope:
//
//	{"error":{"message":"...","type":"..."}}
func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
