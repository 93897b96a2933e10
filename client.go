// Package holocron is a caching, deduplicating client for the Star Wars API
// (SWAPI).
//
// The Client type is the main entry point: create one with New, then use the
// typed getters (GetAllPeople, GetPerson, ...) or the generic helpers
// FetchAllPages, Resolve, ResolveMany and Search. Every upstream read goes
// through the same chain: persistent cache, then in-flight deduplication,
// then a concurrency-limited fetcher. Only successful bodies are cached.
//
// Behaviour is configured via [Config], which can be loaded from a YAML or
// JSON file using [LoadConfig].
package holocron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/holocron-labs/holocron/internal/cache"
	"github.com/holocron-labs/holocron/internal/circuitbreaker"
	"github.com/holocron-labs/holocron/internal/dedup"
	"github.com/holocron-labs/holocron/internal/fetcher"
	"github.com/holocron-labs/holocron/internal/fetchlog"
	"github.com/holocron-labs/holocron/internal/logging"
	"github.com/holocron-labs/holocron/internal/ratelimit"
	"github.com/holocron-labs/holocron/storage"
	"github.com/holocron-labs/holocron/swapi"
)

// FetchEvent describes one upstream network fetch. Cache hits and callers
// that joined an in-flight fetch do not produce events.
type FetchEvent struct {
	TraceID  string
	URL      string
	Status   int
	Outcome  string
	Duration time.Duration
	Bytes    int
	Err      error
	Time     time.Time
}

// FetchHookFunc is called asynchronously after every upstream fetch.
type FetchHookFunc func(ctx context.Context, ev FetchEvent)

// Option customises a Client beyond what Config expresses.
type Option func(*options)

type options struct {
	httpClient *http.Client
	medium     storage.Medium
	now        func() time.Time
	logger     *slog.Logger
}

// WithHTTPClient sets the HTTP client used for upstream requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithMedium overrides the storage medium selected by Config.Storage.
func WithMedium(m storage.Medium) Option {
	return func(o *options) { o.medium = m }
}

// WithClock overrides the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Client fetches and caches SWAPI resources. It is safe for concurrent use.
type Client struct {
	cfg      Config
	cache    *cache.Store
	inflight *dedup.Group[json.RawMessage]
	fetcher  *fetcher.Fetcher
	fetchLog fetchlog.Writer
	log      *slog.Logger

	mu      sync.RWMutex
	hooks   []FetchHookFunc
	hooksWG sync.WaitGroup
}

// New creates a Client from cfg. Zero fields in cfg take DefaultConfig values.
// The cache starts empty; call LoadCache to restore a persisted snapshot.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg = cfg.withDefaults()

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Component("client")
	}

	medium := o.medium
	if medium == nil {
		m, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN, cfg.Storage.QuotaBytes)
		if err != nil {
			return nil, fmt.Errorf("open cache storage: %w", err)
		}
		medium = m
	}

	fl, err := fetchlog.Open(cfg.FetchLog.Driver, cfg.FetchLog.DSN)
	if err != nil {
		_ = medium.Close()
		return nil, fmt.Errorf("open fetch log: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		inflight: dedup.New[json.RawMessage](),
		fetchLog: fl,
		log:      o.logger,
	}
	c.cache = cache.New(medium,
		cache.WithTTL(cfg.CacheTTL.Std()),
		cache.WithNamespace(cfg.Storage.Namespace),
		cache.WithCapacity(cfg.CacheCapacity),
		cache.WithClock(o.now),
		cache.WithLogger(o.logger),
	)

	fopts := fetcher.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		Timeout:       cfg.RequestTimeout.Std(),
		HTTPClient:    o.httpClient,
		UserAgent:     cfg.UserAgent,
		Observe:       c.observe,
		Logger:        o.logger,
	}
	if rl := cfg.RateLimit; rl != nil {
		fopts.Limiter = ratelimit.New(rl.RequestsPerSecond, rl.Burst)
	}
	if cb := cfg.CircuitBreaker; cb != nil {
		fopts.Breaker = circuitbreaker.New(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout.Std())
	}
	c.fetcher = fetcher.New(fopts)

	if _, ok := fl.(fetchlog.NoopWriter); !ok {
		c.AddHook(fetchLogHook(fl, o.logger))
	}
	return c, nil
}

// Config returns the effective configuration, defaults applied.
func (c *Client) Config() Config { return c.cfg }

// BaseURL returns the API root relative endpoints are resolved against.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// AddHook registers a FetchHookFunc. Multiple hooks may be registered; all
// are invoked for every upstream fetch.
func (c *Client) AddHook(fn FetchHookFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Fetch returns the raw JSON body for url, a relative path or an absolute
// URL under the configured base. A valid cached body is returned without
// touching the network; otherwise concurrent callers for the same URL share
// a single request. Absolute URLs on any other host fail with
// swapi.ErrForeignURL.
func (c *Client) Fetch(ctx context.Context, url string) (json.RawMessage, error) {
	key := swapi.Canonicalize(c.cfg.BaseURL, url)
	if !swapi.WithinBase(c.cfg.BaseURL, key) {
		return nil, fmt.Errorf("%w: %s", swapi.ErrForeignURL, key)
	}
	if data, ok := c.cache.Get(key); ok {
		return data, nil
	}

	data, _, err := c.inflight.Do(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		return c.load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// load runs inside the dedup group for key. A fetch that settled between the
// caller's cache lookup and joining the group has already filled the cache,
// so the cache is consulted again before going upstream.
func (c *Client) load(ctx context.Context, key string) (json.RawMessage, error) {
	if data, ok := c.cache.Get(key); ok {
		return data, nil
	}
	body, err := c.fetcher.Request(ctx, key)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("decode %s: response is not valid JSON", key)
	}
	if !c.cache.Set(ctx, key, body, 0) {
		logging.FromContext(ctx, c.log).Warn("cache write not persisted", "url", key)
	}
	return body, nil
}

// InScope reports whether ref, relative or absolute, resolves under the
// configured base URL and may therefore be fetched.
func (c *Client) InScope(ref string) bool {
	return swapi.WithinBase(c.cfg.BaseURL, swapi.Canonicalize(c.cfg.BaseURL, ref))
}

// ExtractID returns the trailing numeric identifier of a resource URL.
func (c *Client) ExtractID(url string) (string, bool) {
	return swapi.ExtractID(url)
}

// LoadCache restores the persisted cache snapshot, discarding expired entries.
func (c *Client) LoadCache(ctx context.Context) error {
	n, err := c.cache.Load(ctx)
	if err != nil {
		return err
	}
	logging.FromContext(ctx, c.log).Debug("cache snapshot loaded", "entries", n)
	return nil
}

// ClearCache drops every cached body, in memory and in storage. It reports
// false when the persisted snapshot could not be removed.
func (c *Client) ClearCache(ctx context.Context) bool {
	return c.cache.ClearAll(ctx)
}

// CacheStats reports the number and total size of cached bodies.
func (c *Client) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// PruneCache evicts expired bodies and returns how many were removed.
func (c *Client) PruneCache(ctx context.Context) int {
	return c.cache.Prune(ctx)
}

// StartPruning evicts expired cache entries every interval in a background
// goroutine until ctx is cancelled. interval must be greater than zero.
func (c *Client) StartPruning(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("StartPruning: interval must be greater than zero, got %v", interval)
	}
	log := logging.FromContext(ctx, c.log)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.cache.Prune(ctx); n > 0 {
					log.Info("pruned expired cache entries", "entries", n)
				}
			}
		}
	}()
	return nil
}

// FetchLog returns the writer upstream fetches are recorded to. It is a
// fetchlog.NoopWriter when the fetch log is disabled.
func (c *Client) FetchLog() fetchlog.Writer { return c.fetchLog }

// ActiveRequests returns the number of upstream requests in flight.
func (c *Client) ActiveRequests() int { return c.fetcher.Active() }

// Close waits for pending hooks, then releases the storage medium and the
// fetch log.
func (c *Client) Close() error {
	c.hooksWG.Wait()
	var errs []error
	if err := c.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if closer, ok := c.fetchLog.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// observe turns a fetcher observation into a FetchEvent for every hook.
func (c *Client) observe(ctx context.Context, obs fetcher.Observation) {
	c.mu.RLock()
	hooks := make([]FetchHookFunc, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.RUnlock()
	if len(hooks) == 0 {
		return
	}

	ev := FetchEvent{
		TraceID:  logging.TraceIDFromContext(ctx),
		URL:      obs.URL,
		Status:   obs.StatusCode,
		Outcome:  obs.Outcome,
		Duration: obs.Duration,
		Bytes:    obs.Bytes,
		Err:      obs.Err,
		Time:     time.Now(),
	}
	hctx := context.WithoutCancel(ctx)
	for _, h := range hooks {
		fn := h
		c.hooksWG.Add(1)
		go func() {
			defer c.hooksWG.Done()
			fn(hctx, ev)
		}()
	}
}

func fetchLogHook(w fetchlog.Writer, log *slog.Logger) FetchHookFunc {
	return func(ctx context.Context, ev FetchEvent) {
		entry := fetchlog.Entry{
			TraceID:    ev.TraceID,
			URL:        ev.URL,
			Outcome:    ev.Outcome,
			StatusCode: ev.Status,
			DurationMS: ev.Duration.Milliseconds(),
			Bytes:      ev.Bytes,
			CreatedAt:  ev.Time.UTC(),
		}
		if ev.Err != nil {
			entry.ErrorMessage = ev.Err.Error()
		}
		if err := w.Write(ctx, entry); err != nil {
			log.Warn("failed to write fetch log", "url", ev.URL, "error", err)
		}
	}
}

// decode fetches url and unmarshals the body into a T.
func decode[T any](ctx context.Context, c *Client, url string) (*T, error) {
	raw, err := c.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", swapi.Canonicalize(c.cfg.BaseURL, url), err)
	}
	return &v, nil
}
