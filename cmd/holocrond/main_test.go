package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/holocron-labs/holocron"
	"github.com/holocron-labs/holocron/internal/admin"
	"github.com/holocron-labs/holocron/internal/ratelimit"
)

// newUpstream serves a two-page people listing, a handful of entities, and
// 404 for everything else.
func newUpstream(t *testing.T) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/people/" && r.URL.Query().Get("search") != "":
			_, _ = io.WriteString(w, `{"count":1,"next":null,"results":[{"name":"Luke Skywalker"}]}`)
		case r.URL.Path == "/people/" && r.URL.Query().Get("page") == "":
			_, _ = io.WriteString(w, `{"count":3,"next":"`+srv.URL+`/people/?page=2","results":[{"name":"Luke Skywalker"},{"name":"C-3PO"}]}`)
		case r.URL.Path == "/people/" && r.URL.Query().Get("page") == "2":
			_, _ = io.WriteString(w, `{"count":3,"next":null,"results":[{"name":"R2-D2"}]}`)
		case r.URL.Path == "/people/1/":
			_, _ = io.WriteString(w, `{"name":"Luke Skywalker","homeworld":"`+srv.URL+`/planets/1/"}`)
		case r.URL.Path == "/planets/1/":
			_, _ = io.WriteString(w, `{"name":"Tatooine"}`)
		case r.URL.Path == "/films/1/":
			_, _ = io.WriteString(w, `{"title":"A New Hope"}`)
		case r.URL.Path == "/starships/9/":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Not found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestClient(t *testing.T, baseURL string) *holocron.Client {
	t.Helper()
	c, err := holocron.New(holocron.Config{BaseURL: baseURL},
		holocron.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testRouter(t *testing.T) (http.Handler, *int64, *admin.KeyStore) {
	t.Helper()
	upstream, hits := newUpstream(t)
	keys := admin.NewKeyStore()
	return newRouter(newTestClient(t, upstream.URL), keys, routerOptions{}), hits, keys
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type listResponse struct {
	Count   int               `json:"count"`
	Results []json.RawMessage `json:"results"`
}

func decodeErrorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Type
}

func TestHealthEndpoint(t *testing.T) {
	r, _, _ := testRouter(t)
	rec := serve(r, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _, _ := testRouter(t)
	// Issue a fetch first so the upstream collectors have samples.
	_ = serve(r, http.MethodGet, "/api/planets/1")
	rec := serve(r, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "holocron_") {
		t.Error("expected holocron metrics in exposition")
	}
}

func TestListAggregatesAllPages(t *testing.T) {
	r, _, _ := testRouter(t)
	rec := serve(r, http.MethodGet, "/api/people")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body listResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 3 || len(body.Results) != 3 {
		t.Fatalf("count = %d results = %d, want 3", body.Count, len(body.Results))
	}
	if !strings.Contains(string(body.Results[2]), "R2-D2") {
		t.Errorf("last result = %s, want R2-D2", body.Results[2])
	}
}

func TestListSearch(t *testing.T) {
	r, _, _ := testRouter(t)
	rec := serve(r, http.MethodGet, "/api/people?search=luke")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body listResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("count = %d, want 1", body.Count)
	}
}

func TestListUnknownResource(t *testing.T) {
	r, hits, _ := testRouter(t)
	rec := serve(r, http.MethodGet, "/api/vehicles-of-doom")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decodeErrorType(t, rec); got != "invalid_request_error" {
		t.Errorf("type = %q", got)
	}
	if atomic.LoadInt64(hits) != 0 {
		t.Error("expected no upstream request")
	}
}

func TestGetEntityIsCached(t *testing.T) {
	r, hits, _ := testRouter(t)
	for i := 0; i < 2; i++ {
		rec := serve(r, http.MethodGet, "/api/people/1")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Luke Skywalker") {
			t.Fatalf("body = %s", rec.Body.String())
		}
	}
	if got := atomic.LoadInt64(hits); got != 1 {
		t.Errorf("upstream hits = %d, want 1", got)
	}
}

func TestGetEntityErrors(t *testing.T) {
	r, _, _ := testRouter(t)
	tests := []struct {
		path    string
		status  int
		errType string
	}{
		{"/api/people/0", http.StatusBadRequest, "invalid_request_error"},
		{"/api/people/abc", http.StatusBadRequest, "invalid_request_error"},
		{"/api/people/99", http.StatusNotFound, "not_found_error"},
		{"/api/starships/9", http.StatusBadGateway, "upstream_error"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rec := serve(r, http.MethodGet, tc.path)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if got := decodeErrorType(t, rec); got != tc.errType {
				t.Errorf("type = %q, want %q", got, tc.errType)
			}
		})
	}
}

func TestResolvePreservesOrder(t *testing.T) {
	r, _, _ := testRouter(t)
	rec := serve(r, http.MethodGet, "/api/resolve?url=/films/1/&url=&url=/planets/1/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body listResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(body.Results))
	}
	if !strings.Contains(string(body.Results[0]), "A New Hope") {
		t.Errorf("results[0] = %s", body.Results[0])
	}
	if string(body.Results[1]) != "null" {
		t.Errorf("results[1] = %s, want null", body.Results[1])
	}
	if !strings.Contains(string(body.Results[2]), "Tatooine") {
		t.Errorf("results[2] = %s", body.Results[2])
	}
}

func TestResolveRequiresURL(t *testing.T) {
	r, _, _ := testRouter(t)
	rec := serve(r, http.MethodGet, "/api/resolve")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func cacheItems(t *testing.T, h http.Handler) int {
	t.Helper()
	rec := serve(h, http.MethodGet, "/cache/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", rec.Code)
	}
	var stats struct {
		Items int `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	return stats.Items
}

func TestCacheClearRequiresAdminKey(t *testing.T) {
	r, hits, keys := testRouter(t)
	_ = serve(r, http.MethodGet, "/api/planets/1")
	if got := cacheItems(t, r); got != 1 {
		t.Fatalf("items = %d, want 1", got)
	}

	// No anonymous way to drop the shared cache.
	if rec := serve(r, http.MethodDelete, "/cache"); rec.Code == http.StatusOK {
		t.Fatalf("anonymous DELETE /cache status = %d", rec.Code)
	}
	if rec := serve(r, http.MethodDelete, "/admin/cache"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous DELETE /admin/cache status = %d, want 401", rec.Code)
	}
	if got := cacheItems(t, r); got != 1 {
		t.Fatalf("items after anonymous clear = %d, want 1", got)
	}

	readOnly, err := keys.Create("dashboard", []string{admin.ScopeReadOnly})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	req := httptest.NewRequest(http.MethodDelete, "/admin/cache", nil)
	req.Header.Set("Authorization", "Bearer "+readOnly.Key)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("read-only clear status = %d, want 403", rec.Code)
	}

	ops, err := keys.Create("ops", []string{admin.ScopeAdmin})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	req = httptest.NewRequest(http.MethodDelete, "/admin/cache", nil)
	req.Header.Set("Authorization", "Bearer "+ops.Key)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin clear status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	_ = serve(r, http.MethodGet, "/api/planets/1")
	if got := atomic.LoadInt64(hits); got != 2 {
		t.Errorf("upstream hits = %d, want 2 after clear", got)
	}
}

func TestResolveRejectsForeignHost(t *testing.T) {
	var foreignHits int64
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&foreignHits, 1)
		_, _ = io.WriteString(w, `{"secret":"instance-credentials"}`)
	}))
	t.Cleanup(foreign.Close)
	r, hits, _ := testRouter(t)

	rec := serve(r, http.MethodGet, "/api/resolve?url=/films/1/&url="+foreign.URL+"/latest/meta-data/")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if got := decodeErrorType(t, rec); got != "invalid_request_error" {
		t.Errorf("type = %q", got)
	}
	if atomic.LoadInt64(&foreignHits) != 0 || atomic.LoadInt64(hits) != 0 {
		t.Fatalf("expected no fetches, foreign=%d upstream=%d", atomic.LoadInt64(&foreignHits), atomic.LoadInt64(hits))
	}
	if got := cacheItems(t, r); got != 0 {
		t.Errorf("items = %d, want 0", got)
	}
}

func TestAdminRequiresKey(t *testing.T) {
	r, _, keys := testRouter(t)

	rec := serve(r, http.MethodGet, "/admin/cache")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	key, err := keys.Create("ops", []string{admin.ScopeAdmin})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/admin/cache", nil)
	req.Header.Set("Authorization", "Bearer "+key.Key)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestClientRateLimit(t *testing.T) {
	upstream, _ := newUpstream(t)
	r := newRouter(newTestClient(t, upstream.URL), admin.NewKeyStore(), routerOptions{clientLimits: ratelimit.NewStore(0.001, 1)})

	if rec := serve(r, http.MethodGet, "/api/planets/1"); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", rec.Code)
	}
	rec := serve(r, http.MethodGet, "/api/planets/1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if got := decodeErrorType(t, rec); got != "rate_limit_error" {
		t.Errorf("type = %q", got)
	}

	// Health and metrics stay reachable.
	if rec := serve(r, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestClientRateLimitIgnoresForwardedFor(t *testing.T) {
	upstream, _ := newUpstream(t)
	limits := ratelimit.NewStore(0.001, 1)
	r := newRouter(newTestClient(t, upstream.URL), admin.NewKeyStore(), routerOptions{clientLimits: limits})

	allowed := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/planets/1", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("allowed = %d, want 1", allowed)
	}
	if limits.Len() != 1 {
		t.Errorf("tracked clients = %d, want 1", limits.Len())
	}
}

func TestClientRateLimitTrustsProxyHeadersWhenConfigured(t *testing.T) {
	upstream, _ := newUpstream(t)
	limits := ratelimit.NewStore(0.001, 1)
	r := newRouter(newTestClient(t, upstream.URL), admin.NewKeyStore(),
		routerOptions{clientLimits: limits, trustProxyHeaders: true})

	for _, ip := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/planets/1", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("client %s status = %d, want 200", ip, rec.Code)
		}
	}
	if limits.Len() != 2 {
		t.Errorf("tracked clients = %d, want 2", limits.Len())
	}
}

func TestCORSPreflight(t *testing.T) {
	r, _, _ := testRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/people", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q, want *", got)
	}
}

func TestCORSAllowList(t *testing.T) {
	upstream, _ := newUpstream(t)
	r := newRouter(newTestClient(t, upstream.URL), admin.NewKeyStore(), routerOptions{corsOrigins: []string{"https://ok.example"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin = %q, want empty", got)
	}
}
