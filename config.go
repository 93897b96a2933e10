package holocron

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/holocron-labs/holocron/internal/cache"
	"github.com/holocron-labs/holocron/internal/fetcher"
	"github.com/holocron-labs/holocron/storage"
	"github.com/holocron-labs/holocron/swapi"
)

// Config holds the configuration for a Client.
type Config struct {
	// BaseURL is the API root; relative endpoints are resolved against it.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// MaxConcurrent caps simultaneous upstream requests.
	MaxConcurrent int `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	// RequestTimeout bounds each upstream request.
	RequestTimeout Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	// CacheTTL is how long a fetched body stays valid.
	CacheTTL Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
	// CacheCapacity bounds the number of cached bodies; 0 means unbounded.
	CacheCapacity int    `json:"cache_capacity,omitempty" yaml:"cache_capacity,omitempty"`
	UserAgent     string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`

	// RateLimit paces outbound requests (optional).
	RateLimit *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	// ClientRateLimit limits inbound requests per client IP in the edge server (optional).
	ClientRateLimit *RateLimitConfig `json:"client_rate_limit,omitempty" yaml:"client_rate_limit,omitempty"`
	// CircuitBreaker stops calling the upstream while it keeps failing (optional).
	CircuitBreaker *CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`

	Storage  StorageConfig  `json:"storage,omitempty" yaml:"storage,omitempty"`
	FetchLog FetchLogConfig `json:"fetch_log,omitempty" yaml:"fetch_log,omitempty"`
}

// RateLimitConfig configures a token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             float64 `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// CircuitBreakerConfig configures the upstream circuit breaker. Zero values
// take the breaker defaults.
type CircuitBreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	SuccessThreshold int      `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
	Timeout          Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// StorageConfig selects the medium that persists the cache snapshot.
type StorageConfig struct {
	// Driver is "memory" (default), "sqlite" or "postgres".
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	// Namespace is the key the snapshot is stored under.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	// QuotaBytes caps the snapshot size; 0 uses the medium default, negative disables the cap.
	QuotaBytes int `json:"quota_bytes,omitempty" yaml:"quota_bytes,omitempty"`
}

// FetchLogConfig selects where upstream fetches are recorded. An empty
// driver disables the log.
type FetchLogConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		BaseURL:        swapi.DefaultBaseURL,
		MaxConcurrent:  fetcher.DefaultMaxConcurrent,
		RequestTimeout: Duration(fetcher.DefaultTimeout),
		CacheTTL:       Duration(cache.DefaultTTL),
		Storage: StorageConfig{
			Driver:    storage.DriverMemory,
			Namespace: cache.DefaultNamespace,
		},
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = d.Storage.Namespace
	}
	return c
}

// Duration is a time.Duration that reads and writes as a Go duration string
// ("30s", "168h") in JSON and YAML. Bare numbers are taken as seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		return d.set(v)
	case float64:
		*d = Duration(v * float64(time.Second))
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
