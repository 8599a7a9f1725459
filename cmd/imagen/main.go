package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	imhttp "github.com/donahuenet/imagen/internal/adapter/http"
	"github.com/donahuenet/imagen/internal/adapter/memstore"
	"github.com/donahuenet/imagen/internal/adapter/n8n"
	imnats "github.com/donahuenet/imagen/internal/adapter/nats"
	"github.com/donahuenet/imagen/internal/adapter/otel"
	"github.com/donahuenet/imagen/internal/adapter/ristretto"
	"github.com/donahuenet/imagen/internal/adapter/ws"
	"github.com/donahuenet/imagen/internal/config"
	"github.com/donahuenet/imagen/internal/logger"
	"github.com/donahuenet/imagen/internal/middleware"
	"github.com/donahuenet/imagen/internal/port/messagequeue"
	"github.com/donahuenet/imagen/internal/resilience"
	"github.com/donahuenet/imagen/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"worker_webhook", cfg.Worker.WebhookURL,
		"retention", cfg.Retention.Horizon,
		"log_level", cfg.Logging.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	// NATS lifecycle event feed, optional.
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := imnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = q.Drain() }()
		queue = q
	}

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	metrics, err := otel.NewMetrics()
	if err != nil {
		slog.Warn("metrics disabled", "error", err)
		metrics = nil
	}

	// --- Services ---

	hub := ws.NewHub()
	store := memstore.New()
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	notifier := n8n.NewClient(cfg.Worker.WebhookURL, cfg.Worker.Timeout, breaker)

	tasks := service.NewTaskService(store, notifier, hub, queue, metrics, service.TaskConfig{
		CallbackURL:     cfg.Worker.CallbackBaseURL + "/api/webhook/result",
		DispatchTimeout: cfg.Worker.Timeout,
		Retention:       cfg.Retention.Horizon,
		MaxInFlight:     cfg.Worker.MaxInFlight,
	})

	reaper := service.NewReaper(store, cfg.Retention.Horizon, cfg.Retention.SweepInterval, metrics)
	go reaper.Run(ctx)

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()

	r.Use(imhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(imhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(imhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(limiter.Handler)
	r.Use(middleware.Idempotency(cache, cfg.Idempotency.TTL))
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/ws", hub.HandleWS)
	imhttp.MountRoutes(r, imhttp.NewHandlers(tasks))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
