// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/zettelink/internal/api"
	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/embedder"
	"github.com/starford/zettelink/internal/embedsync"
	"github.com/starford/zettelink/internal/metrics"
	"github.com/starford/zettelink/internal/noteservice"
	"github.com/starford/zettelink/internal/sse"
	"github.com/starford/zettelink/internal/storage"
)

// NewLogger returns a JSON logger on stderr. stdout is left to command
// output and the MCP stdio transport.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// OpenService wires the corpus at root, the configured provider and cache
// backend into a service. With rebuild, a corrupt SQLite cache is recreated.
func OpenService(cfg *Config, root string, rebuild bool, logger *slog.Logger) (*noteservice.Service, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: input directory is required", apperr.ErrConfiguration)
	}
	src, err := storage.NewFS(root, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
	}

	p, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		return nil, err
	}
	p = embedder.Instrument(p, cfg.Provider.Name, cfg.Model)

	settings := cfg.Settings(src.Root())
	backend, err := noteservice.OpenBackend(cfg.CacheBackend, settings.CacheDir, rebuild)
	if err != nil {
		return nil, err
	}

	logger.Debug("service ready",
		slog.String("root", src.Root()),
		slog.String("provider", cfg.Provider.Name),
		slog.String("model", cfg.Model),
		slog.String("cache", backend.Location()))

	return noteservice.NewService(src, p, backend, settings, logger), nil
}

func (a *application) init(opts []Option) error {
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return fmt.Errorf("config is required")
	}
	if a.logger == nil {
		a.logger = NewLogger(a.config.App.LogLevel)
	}
	return nil
}

// Run serves the HTTP API, the SSE stream and the metrics endpoint for the
// corpus, re-embedding on file changes until ctx is cancelled.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	if err := app.init(opts); err != nil {
		return err
	}
	cfg, logger := app.config, app.logger
	slog.SetDefault(logger)
	metrics.Register()

	svc, err := OpenService(cfg, app.root, false, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger.Info("Configuration loaded",
		slog.String("version", app.version),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("input", app.root),
		slog.String("cache_dir", svc.Settings().CacheDir),
		slog.String("cache_backend", cfg.CacheBackend),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Run initial sync.
	if sum, err := svc.Embed(ctx, false, broker.NoteEvent); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()), slog.String("hint", apperr.Hint(err)))
	} else {
		broker.PublishSummary(sum)
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newRouter(cfg, svc, broker, app.version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Re-embed on file changes and stream the results.
	g.Go(func() error {
		return svc.Watch(gCtx, embedsync.DefaultDebounce, broker.NoteEvent, broker.PublishSummary)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

type healthStatus struct {
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	SSEClients int    `json:"sse_clients"`
}

// newRouter mounts health, metrics and the API (with the broker's SSE stream
// at /api/events) on one chi router.
func newRouter(cfg *Config, svc *noteservice.Service, broker *sse.Broker, version string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health and metrics endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, healthStatus{Status: "ok", Version: version, SSEClients: broker.ClientCount()})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if _, err := svc.CacheInfo(r.Context()); err != nil {
			writeHealth(w, http.StatusServiceUnavailable, healthStatus{Status: "cache unavailable", Version: version})
			return
		}
		writeHealth(w, http.StatusOK, healthStatus{Status: "ok", Version: version, SSEClients: broker.ClientCount()})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, broker))
	return r
}

func writeHealth(w http.ResponseWriter, status int, body healthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
