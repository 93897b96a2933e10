package swapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrForeignURL is returned for absolute URLs outside the configured API root.
// They are never fetched.
var ErrForeignURL = errors.New("url is outside the API base")

// TransportError reports a request that never reached or never returned
// from the remote host (DNS, connection, timeout, truncated body).
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("swapi transport error for %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError reports a non-2xx response from the remote host.
type RemoteError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("swapi error: %d %s (%s)", e.StatusCode, e.Status, e.URL)
}

// StorageError reports a failed read or write of the persistent cache medium.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache storage %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error { return e.Err }

// IsNotFound reports whether err carries a 404 from the remote host.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}
