package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/holocron-labs/holocron"
	"github.com/holocron-labs/holocron/internal/admin"
	"github.com/holocron-labs/holocron/internal/fetchlog"
	"github.com/holocron-labs/holocron/internal/logging"
	"github.com/holocron-labs/holocron/internal/ratelimit"
	"github.com/holocron-labs/holocron/internal/version"
)

func main() {
	log := logging.Component("holocrond")

	// Load and validate config if HOLOCRON_CONFIG is set.
	cfg := holocron.DefaultConfig()
	if cfgPath := os.Getenv("HOLOCRON_CONFIG"); cfgPath != "" {
		loaded, err := holocron.LoadConfig(cfgPath)
		if err != nil {
			log.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
		if err := holocron.ValidateConfig(*loaded); err != nil {
			log.Error("invalid config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
		cfg = *loaded
		log.Info("config loaded", "path", cfgPath)
	}

	client, err := holocron.New(cfg)
	if err != nil {
		log.Error("failed to create client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.LoadCache(ctx); err != nil {
		// Non-fatal: start with an empty cache.
		log.Warn("failed to restore cache snapshot", "error", err)
	}
	pruneEvery := time.Hour
	if raw := os.Getenv("PRUNE_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Error("invalid PRUNE_INTERVAL", "value", raw, "error", err)
			os.Exit(1)
		}
		pruneEvery = d
	}
	if err := client.StartPruning(ctx, pruneEvery); err != nil {
		log.Error("failed to start cache pruning", "error", err)
		os.Exit(1)
	}

	keyStore := admin.NewKeyStore()
	if raw := os.Getenv("ADMIN_API_KEYS"); raw != "" {
		n, err := admin.LoadKeys(keyStore, raw)
		if err != nil {
			log.Error("invalid ADMIN_API_KEYS", "error", err)
			os.Exit(1)
		}
		log.Info("admin keys loaded", "count", n)
	}

	var opts routerOptions
	if rl := client.Config().ClientRateLimit; rl != nil {
		opts.clientLimits = ratelimit.NewStore(rl.RequestsPerSecond, rl.Burst)
		opts.clientLimits.StartEviction(ctx, time.Minute, 10*time.Minute)
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		opts.corsOrigins = strings.Split(origins, ",")
	}
	// Only honour X-Forwarded-For / X-Real-IP when a reverse proxy in front
	// of holocrond sets them; otherwise clients could pick their own key.
	opts.trustProxyHeaders = os.Getenv("TRUST_PROXY_HEADERS") == "true"

	r := newRouter(client, keyStore, opts)

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	go func() {
		<-ctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	log.Info("holocrond listening", "version", version.Short(), "addr", addr, "base_url", client.BaseURL())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		stop()
		os.Exit(1) //nolint:gocritic
	}
	log.Info("server stopped")
}

// routerOptions tunes the public surface of newRouter.
type routerOptions struct {
	// clientLimits enables per-client rate limiting when non-nil.
	clientLimits *ratelimit.Store
	corsOrigins  []string
	// trustProxyHeaders lets X-Forwarded-For / X-Real-IP replace the peer
	// address used for logging and rate limiting.
	trustProxyHeaders bool
}

// newRouter builds the HTTP router.
func newRouter(client *holocron.Client, keyStore admin.Store, opts routerOptions) http.Handler {
	r := chi.NewRouter()
	if opts.trustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware)
	r.Use(corsMiddleware(opts.corsOrigins...))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": version.Short(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	api := &apiHandlers{client: client}
	r.Group(func(r chi.Router) {
		if opts.clientLimits != nil {
			r.Use(rateLimitMiddleware(opts.clientLimits))
		}
		r.Get("/api/resolve", api.resolve)
		r.Get("/api/{resource}", api.list)
		r.Get("/api/{resource}/{id}", api.get)
		r.Get("/cache/stats", api.cacheStats)
	})

	adminHandlers := &admin.Handlers{
		Keys:  keyStore,
		Cache: client,
	}
	if fl := client.FetchLog(); fl != nil {
		if reader, ok := fl.(fetchlog.Reader); ok {
			adminHandlers.Logs = reader
		}
		if maint, ok := fl.(fetchlog.Maintainer); ok {
			adminHandlers.LogAdmin = maint
		}
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.AuthMiddleware(keyStore))
		r.Mount("/", adminHandlers.Routes())
	})

	return r
}
