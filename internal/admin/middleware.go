package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/holocron-labs/holocron/internal/logging"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// Scopes granted to admin API keys. ScopeAdmin implies every other scope.
const (
	// ScopeAdmin manages keys and everything below.
	ScopeAdmin = "admin"
	// ScopeMaintain clears and prunes the cache and deletes fetch log rows.
	ScopeMaintain = "maintain"
	// ScopeReadOnly reads cache stats, keys and the fetch log.
	ScopeReadOnly = "read_only"
)

// ValidScope reports whether s is a known scope name.
func ValidScope(s string) bool {
	switch s {
	case ScopeAdmin, ScopeMaintain, ScopeReadOnly:
		return true
	}
	return false
}

const authRealm = `Bearer realm="holocron-admin"`

// APIKeyFromContext retrieves the authenticated API key from the request context.
func APIKeyFromContext(ctx context.Context) (*APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(*APIKey)
	return key, ok
}

// AuthMiddleware authenticates admin requests by their bearer key and stores
// the key in the request context. Failures are logged without the key.
func AuthMiddleware(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, r, "admin API requires an Authorization: Bearer "+KeyPrefix+"... header")
				return
			}

			apiKey, ok := store.ValidateKey(token)
			if !ok {
				unauthorized(w, r, "admin key is unknown or revoked")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope lets a request through when its key holds one of scopes or
// ScopeAdmin.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := APIKeyFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "authentication required")
				return
			}
			if hasScope(apiKey, scopes) {
				next.ServeHTTP(w, r)
				return
			}

			logging.FromContext(r.Context(), nil).Warn("admin request denied",
				"key_id", apiKey.ID, "path", r.URL.Path, "required", scopes)
			writeError(w, http.StatusForbidden,
				fmt.Sprintf("key %q cannot %s %s: requires scope %s",
					apiKey.Name, r.Method, r.URL.Path, strings.Join(scopes, " or ")),
				"permission_error")
		})
	}
}

func hasScope(key *APIKey, required []string) bool {
	for _, held := range key.Scopes {
		if held == ScopeAdmin {
			return true
		}
		for _, want := range required {
			if held == want {
				return true
			}
		}
	}
	return false
}

// bearerToken extracts the token of an "Authorization: Bearer" header. The
// scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	logging.FromContext(r.Context(), nil).Debug("admin authentication failed", "path", r.URL.Path, "reason", message)
	w.Header().Set("WWW-Authenticate", authRealm)
	writeError(w, http.StatusUnauthorized, message, "authentication_error")
}

// writeError writes the JSON error envelope shared with the public API:
//
//	{"error":{"message":"...","type":"..."}}
func writeError(w http.ResponseWriter, status int, message, errType string) {
	if errType == "" {
		errType = defaultErrType(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"type":    errType,
		},
	})
}

func defaultErrType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusForbidden:
		return "permission_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}
