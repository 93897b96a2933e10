// Package fetcher performs HTTP GETs against the upstream API with a hard
// ceiling on concurrent requests. Callers over the ceiling wait for a slot;
// they are woken as soon as one frees up.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/holocron-labs/holocron/internal/circuitbreaker"
	"github.com/holocron-labs/holocron/internal/logging"
	"github.com/holocron-labs/holocron/internal/metrics"
	"github.com/holocron-labs/holocron/internal/ratelimit"
	"github.com/holocron-labs/holocron/internal/version"
	"github.com/holocron-labs/holocron/swapi"
)

// Defaults applied by New for zero option values.
const (
	DefaultMaxConcurrent = 5
	DefaultTimeout       = 30 * time.Second
)

// Observation describes one upstream attempt, successful or not. Requests
// rejected before reaching the network have StatusCode 0 and Outcome
// metrics.OutcomeRejected.
type Observation struct {
	URL        string
	StatusCode int
	Outcome    string
	Duration   time.Duration
	Bytes      int
	Err        error
}

// Options configures a Fetcher.
type Options struct {
	// MaxConcurrent caps in-flight requests. Values <= 0 use DefaultMaxConcurrent.
	MaxConcurrent int
	// Timeout bounds each request, body read included. Values <= 0 use DefaultTimeout.
	Timeout time.Duration
	// HTTPClient defaults to a client without its own timeout.
	HTTPClient *http.Client
	// UserAgent defaults to version.UserAgent().
	UserAgent string
	// Limiter paces requests after admission. Optional.
	Limiter *ratelimit.Limiter
	// Breaker fails requests fast while the upstream is unhealthy. Optional.
	Breaker *circuitbreaker.CircuitBreaker
	// Observe is called synchronously after every attempt. Optional.
	Observe func(context.Context, Observation)
	Logger  *slog.Logger
}

// Fetcher issues admission-controlled GET requests.
type Fetcher struct {
	sem       *semaphore.Weighted
	max       int
	timeout   time.Duration
	client    *http.Client
	userAgent string
	limiter   *ratelimit.Limiter
	breaker   *circuitbreaker.CircuitBreaker
	observe   func(context.Context, Observation)
	logger    *slog.Logger

	active atomic.Int64
	peak   atomic.Int64
}

// New creates a Fetcher from opts.
func New(opts Options) *Fetcher {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = version.UserAgent()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger
	}
	if opts.Breaker != nil {
		opts.Breaker.OnStateChange(func(from, to circuitbreaker.State) {
			metrics.BreakerState.Set(float64(to))
			opts.Logger.Warn("upstream circuit breaker changed state",
				"from", from.String(), "to", to.String())
		})
	}
	return &Fetcher{
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		max:       opts.MaxConcurrent,
		timeout:   opts.Timeout,
		client:    opts.HTTPClient,
		userAgent: opts.UserAgent,
		limiter:   opts.Limiter,
		breaker:   opts.Breaker,
		observe:   opts.Observe,
		logger:    opts.Logger,
	}
}

// MaxConcurrent returns the admission ceiling.
func (f *Fetcher) MaxConcurrent() int { return f.max }

// Active returns the number of requests currently holding a slot.
func (f *Fetcher) Active() int { return int(f.active.Load()) }

// Peak returns the highest Active value observed since creation.
func (f *Fetcher) Peak() int { return int(f.peak.Load()) }

// Request GETs url and returns the raw body of a 2xx response.
//
// Non-2xx responses yield *swapi.RemoteError; connection, timeout and body
// read failures yield *swapi.TransportError. If ctx ends while the caller is
// still queued for a slot, ctx.Err() is returned and no request is made.
func (f *Fetcher) Request(ctx context.Context, url string) ([]byte, error) {
	if f.breaker != nil && !f.breaker.Allow() {
		err := &swapi.TransportError{URL: url, Err: circuitbreaker.ErrCircuitOpen}
		f.record(ctx, Observation{URL: url, Outcome: metrics.OutcomeRejected, Err: err})
		return nil, err
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)
	f.enter()
	defer f.leave()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	body, status, err := f.do(ctx, url)
	obs := Observation{
		URL:        url,
		StatusCode: status,
		Duration:   time.Since(start),
		Bytes:      len(body),
		Err:        err,
	}

	switch {
	case err == nil:
		obs.Outcome = metrics.OutcomeSuccess
		f.recordBreaker(true)
	case status != 0:
		obs.Outcome = metrics.OutcomeRemoteError
		if status >= http.StatusInternalServerError {
			f.recordBreaker(false)
		}
	default:
		obs.Outcome = metrics.OutcomeTransport
		f.recordBreaker(false)
	}
	metrics.UpstreamDuration.Observe(obs.Duration.Seconds())
	f.record(ctx, obs)

	if err != nil {
		logging.FromContext(ctx, f.logger).Debug("upstream request failed", "url", url, "status", status, "error", err)
		return nil, err
	}
	return body, nil
}

// do performs the HTTP exchange. status is non-zero only when a response
// with a non-2xx code was received.
func (f *Fetcher) do(ctx context.Context, url string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, &swapi.TransportError{URL: url, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, &swapi.TransportError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, &swapi.RemoteError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &swapi.TransportError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, resp.StatusCode, nil
}

func (f *Fetcher) enter() {
	n := f.active.Add(1)
	metrics.ActiveRequests.Inc()
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (f *Fetcher) leave() {
	f.active.Add(-1)
	metrics.ActiveRequests.Dec()
}

func (f *Fetcher) recordBreaker(ok bool) {
	if f.breaker == nil {
		return
	}
	if ok {
		f.breaker.RecordSuccess()
	} else {
		f.breaker.RecordFailure()
	}
}

func (f *Fetcher) record(ctx context.Context, obs Observation) {
	metrics.UpstreamRequests.WithLabelValues(obs.Outcome).Inc()
	if f.observe != nil {
		f.observe(ctx, obs)
	}
}
