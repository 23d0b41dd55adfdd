package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/zentral/zentral/internal/api"
	"github.com/zentral/zentral/internal/auth"
	"github.com/zentral/zentral/internal/config"
	"github.com/zentral/zentral/internal/eventbus"
	"github.com/zentral/zentral/internal/ingest"
	"github.com/zentral/zentral/internal/logging"
	"github.com/zentral/zentral/internal/preprocess"
	"github.com/zentral/zentral/internal/service"
	"github.com/zentral/zentral/internal/storage/sql"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.Must("info", "json")
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.Must(cfg.Log.Level, cfg.Log.Format)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	err = a.serve(ctx)
	a.Close()
	if err != nil {
		logger.Error().Err(err).Msg("server failed")
		stop()
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

// runner is a background loop that lives as long as the server.
type runner interface {
	Run(ctx context.Context) error
}

// app is the wired server process.
type app struct {
	server  *http.Server
	worker  runner
	closers []func() error
	logger  zerolog.Logger
}

// newApp opens the store and the event bus and wires the API and the
// preprocessing worker on top of them.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if dir := sqliteDir(cfg.Database.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
			}
		}
	}

	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	bus, err := newEventBus(ctx, cfg.EventBus, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing %s event bus: %w", cfg.EventBus.Driver, err)
	}
	// The bus closes before the store.
	a.closers = append([]func() error{bus.Close}, a.closers...)

	serials := preprocess.NewSerialCache(store, cfg.Preprocess.SerialCacheSize, cfg.Preprocess.SerialCacheTTL)
	opts := api.Options{
		Store:        store,
		RuleSets:     service.NewRuleSetService(store, logger),
		Pipeline:     ingest.NewPipeline(store, bus, cfg.Ingest.RecordTimeout, logger),
		RawEvents:    bus,
		SerialCache:  serials,
		BootstrapKey: cfg.Auth.BootstrapAPIKey,
		Logger:       logger,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if cfg.Auth.OIDCEnabled {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID, cfg.Auth.GetAllowedDomains())
		if err != nil {
			return nil, fmt.Errorf("initializing OIDC: %w", err)
		}
		opts.Verifier = verifier
	}

	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(opts),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if cfg.Preprocess.Enabled {
		a.worker = preprocess.NewWorker(bus, preprocess.NewPreprocessor(serials, logger), logger)
	}
	logger.Info().Str("addr", a.server.Addr).Str("event_bus", cfg.EventBus.Driver).Bool("preprocess", a.worker != nil).Msg("zentral initialized")
	return a, nil
}

// serve runs the HTTP server and the worker until ctx is done or one of them
// fails, then shuts both down. A worker that stops on its own is a failure.
func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("serving HTTP: %w", err)
		}
	}()

	workerDone := make(chan struct{})
	if a.worker != nil {
		go func() {
			defer close(workerDone)
			err := a.worker.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = errors.New("stopped unexpectedly")
			}
			errc <- fmt.Errorf("preprocessing worker: %w", err)
		}()
	} else {
		close(workerDone)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	a.logger.Info().Msg("shutting down server")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if serr := a.server.Shutdown(shutdownCtx); serr != nil {
		a.logger.Error().Err(serr).Msg("server forced to shutdown")
	}
	<-workerDone
	return err
}

// Close releases the event bus and the store.
func (a *app) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Error().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

func newEventBus(ctx context.Context, cfg config.EventBusConfig, logger zerolog.Logger) (eventbus.Bus, error) {
	switch cfg.Driver {
	case "redis":
		hostname, _ := os.Hostname()
		return eventbus.NewRedisBus(ctx, eventbus.RedisOptions{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			StreamPrefix: cfg.RedisStream,
			Consumer:     hostname,
		}, logger)
	case "nats":
		return eventbus.NewNATSBus(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
	default:
		return eventbus.NewMemoryBus(cfg.MemoryBuffer, logger), nil
	}
}

// sqliteDir returns the directory of a sqlite DSN file, if any.
func sqliteDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}
