package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/queueup/backend/internal/broker"
	"github.com/queueup/backend/internal/config"
	"github.com/queueup/backend/internal/database"
	"github.com/queueup/backend/internal/logging"
	"github.com/queueup/backend/internal/metrics"
	"github.com/queueup/backend/internal/queue"
	"github.com/queueup/backend/internal/router"
	"github.com/queueup/backend/internal/sentry"
	"github.com/queueup/backend/internal/services"
	"github.com/queueup/backend/internal/session"
	"github.com/queueup/backend/internal/store"
	"github.com/queueup/backend/internal/syncer"
)

// release is set at build time with -ldflags "-X main.release=...".
var release = "dev"

const (
	shutdownTimeout   = 15 * time.Second
	storeFlushTimeout = 10 * time.Second
)

func main() {
	// Bootstrap logging so config errors are visible, then reconfigure from config.
	logging.Initialize(os.Getenv("LOGGING_LEVEL"), os.Getenv("LOG_FORMAT"))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logging.Initialize(cfg.LoggingLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	enabled, err := sentry.Init(cfg.SentryDSN, cfg.SentryEnvironment, release)
	if err != nil {
		slog.Warn("failed to initialize sentry", slog.Any("error", err))
	}
	if enabled {
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionStore, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	b := broker.New(cfg.SubscriberBuffer)
	registry := session.NewRegistry(session.Options{
		Store:       sessionStore,
		QueuePolicy: queue.ParsePolicy(cfg.QueuePolicy),
		OnDispose:   b.CloseTopic,
	})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), storeFlushTimeout)
		defer cancel()
		if err := registry.Flush(flushCtx); err != nil {
			slog.Warn("pending session writes dropped", slog.Any("error", err))
		}
	}()

	restored, err := registry.Restore(ctx)
	if err != nil {
		return logging.WrapError(err, "restore sessions")
	}
	slog.Info("restored sessions", slog.Int("count", restored))

	m := metrics.New(metrics.Sources{
		ActiveSessions:     registry.Count,
		Subscribers:        b.SubscriberCount,
		SnapshotsPublished: b.Published,
		SnapshotsDropped:   b.Dropped,
	})

	processor := session.NewProcessor(registry, b, session.ProcessorOptions{
		AutoCloseOnEmpty: cfg.AutoCloseOnEmpty,
		Observer:         m,
	})
	synchronizer := syncer.New(registry, processor, b, syncer.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	handler, stopLimiters := router.New(cfg, router.Deps{
		Registry:  registry,
		Processor: processor,
		Syncer:    synchronizer,
		Metrics:   m,
		Auth:      services.NewAuthService(cfg.JWTSecret, cfg.IdentityTokenDuration),
		YouTube:   services.NewYouTubeService(cfg.YouTubeAPIKey),
		Names:     services.NewNameGenerator(),
	})
	defer stopLimiters()

	go sweep(ctx, processor, cfg.SweepInterval, cfg.SessionIdleTTL)

	// Push streams run until their request context ends, so shutdown cancels
	// the base context instead of waiting for them.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			slog.String("addr", srv.Addr),
			slog.String("store", cfg.StoreBackend),
			slog.String("queue_policy", cfg.QueuePolicy),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown incomplete", slog.Any("error", err))
		srv.Close()
	}
	return nil
}

// openStore selects the durable store behind the registry. The returned
// close func is always safe to call.
func openStore(cfg *config.Config) (session.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		db, err := database.New(cfg.DatabasePath)
		if err != nil {
			return nil, nil, logging.WrapError(err, "connect to database")
		}
		if err := database.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, logging.WrapError(err, "run migrations")
		}
		return store.NewSQLStore(db), func() { db.Close() }, nil

	case config.StoreValkey:
		client, err := store.NewValkeyClient(cfg.ValkeyAddr)
		if err != nil {
			return nil, nil, logging.WrapError(err, "connect to valkey")
		}
		s := store.NewValkeyStore(client)
		return s, s.Close, nil

	default:
		slog.Warn("sessions are kept in memory only and will not survive a restart")
		return nil, func() {}, nil
	}
}

// sweep closes sessions that have been idle for ttl, checking every interval.
func sweep(ctx context.Context, processor *session.Processor, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := processor.SweepIdle(ctx, ttl); n > 0 {
				slog.Info("closed idle sessions", slog.Int("count", n))
			}
		}
	}
}
