package admin

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// KeyPrefix starts every generated key.
const KeyPrefix = "hc-"

// APIKey authenticates a caller of the admin API.
type APIKey struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	Active    bool       `json:"active"`
}

// KeyStore is an in-memory store for API keys.
type KeyStore struct {
	mu    sync.RWMutex
	byID  map[string]*APIKey
	byKey map[string]string // key string -> ID
}

// NewKeyStore creates a new KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		byID:  make(map[string]*APIKey),
		byKey: make(map[string]string),
	}
}

// Create generates a new API key with the given name and scopes.
// Scopes default to ScopeAdmin.
func (s *KeyStore) Create(name string, scopes []string) (*APIKey, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return s.Add(name, KeyPrefix+hex.EncodeToString(keyBytes), scopes)
}

// Add registers a caller-provided key, e.g. one provisioned through the
// environment. Scopes default to ScopeAdmin.
func (s *KeyStore) Add(name, key string, scopes []string) (*APIKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("key must not be empty")
	}

	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, fmt.Errorf("generating id: %w", err)
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeAdmin}
	}
	apiKey := &APIKey{
		ID:        hex.EncodeToString(idBytes),
		Key:       key,
		Name:      name,
		Scopes:    scopes,
		CreatedAt: time.Now(),
		Active:    true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[key]; exists {
		return nil, fmt.Errorf("key %q already registered", mask(key))
	}
	s.byID[apiKey.ID] = apiKey
	s.byKey[key] = apiKey.ID
	return apiKey, nil
}

// Get retrieves an API key by ID.
func (s *KeyStore) Get(id string) (*APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byID[id]
	return k, ok
}

// List returns all keys with the Key field masked.
func (s *KeyStore) List() []*APIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*APIKey, 0, len(s.byID))
	for _, k := range s.byID {
		masked := *k
		masked.Key = mask(masked.Key)
		keys = append(keys, &masked)
	}
	return keys
}

// Revoke marks an API key as revoked and inactive.
func (s *KeyStore) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("key not found: %s", id)
	}
	now := time.Now()
	k.RevokedAt = &now
	k.Active = false
	return nil
}

// ValidateKey looks up a key by its full string and returns it if active.
func (s *KeyStore) ValidateKey(key string) (*APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	k := s.byID[id]
	if !k.Active || k.RevokedAt != nil {
		return nil, false
	}
	return k, true
}

// LoadKeys registers keys from a comma-separated list of "key" or
// "key:scope" entries, the format of the ADMIN_API_KEYS variable.
func LoadKeys(s Store, list string) (int, error) {
	n := 0
	for i, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, scope, _ := strings.Cut(entry, ":")
		var scopes []string
		if scope != "" {
			if !ValidScope(scope) {
				return n, fmt.Errorf("admin key %d: unknown scope %q", i+1, scope)
			}
			scopes = []string{scope}
		}
		if _, err := s.Add(fmt.Sprintf("env-%d", i+1), key, scopes); err != nil {
			return n, fmt.Errorf("admin key %d: %w", i+1, err)
		}
		n++
	}
	return n, nil
}

func mask(key string) string {
	if len(key) > 8 {
		return key[:8] + "..."
	}
	return key
}
