// Package cache implements the persistent response cache: an in-memory map
// of canonical resource URLs to JSON bodies with per-entry expiry, mirrored
// after every write as a single snapshot in a storage.Medium.
//
// Expiry is checked lazily on read; there is no background sweep.
package cache

import (
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL is how long a fetched resource stays fresh.
const DefaultTTL = 7 * 24 * time.Hour

// DefaultNamespace is the medium key the snapshot is stored under.
const DefaultNamespace = "swapi_cache"

// Entry is one cached resource body.
type Entry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CachedAt  time.Time       `json:"cachedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Expired reports whether the entry is stale at now. An entry is still valid
// at exactly ExpiresAt.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stats summarises the cache contents.
type Stats struct {
	Items     int `json:"items"`
	SizeBytes int `json:"size_bytes"`
}

// pair is the snapshot element: a two-element JSON array [key, entry].
type pair struct {
	key   string
	entry *Entry
}

func (p pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.key, p.entry})
}

func (p *pair) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return errors.New("snapshot element must be a [key, entry] pair")
	}
	if err := json.Unmarshal(raw[0], &p.key); err != nil {
		return err
	}
	p.entry = &Entry{}
	return json.Unmarshal(raw[1], p.entry)
}
