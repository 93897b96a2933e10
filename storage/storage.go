// Package storage provides the durable key/value media that back the
// client's persistent cache snapshot. Memory mimics a browser's size-bounded
// local storage; SQLStore persists to SQLite or Postgres.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by Medium implementations.
var (
	// ErrNotFound is returned by Load when no value is stored under the key.
	ErrNotFound = errors.New("storage: key not found")
	// ErrQuotaExceeded is returned by Save when the value would not fit.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
)

// Medium is a durable key/value store for opaque byte values.
type Medium interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open builds the Medium named by driver. quotaBytes bounds a single stored
// value (memory: all values together); zero selects the driver default and a
// negative value disables the bound.
func Open(driver, dsn string, quotaBytes int) (Medium, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemory(quotaBytes), nil
	case DriverSQLite:
		return NewSQLite(dsn, WithQuota(quotaBytes))
	case DriverPostgres:
		return NewPostgres(dsn, WithQuota(quotaBytes))
	default:
		return nil, fmt.Errorf("unknown storage driver %q: use memory, sqlite or postgres", driver)
	}
}
