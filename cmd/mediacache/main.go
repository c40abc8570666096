package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castkit/mediacache/internal/cache"
	"github.com/castkit/mediacache/internal/config"
	"github.com/castkit/mediacache/internal/http/rest"
	"github.com/castkit/mediacache/internal/logctx"
	"github.com/castkit/mediacache/internal/notifier"
	"github.com/castkit/mediacache/internal/policy"
	"github.com/castkit/mediacache/internal/queue"
	"github.com/castkit/mediacache/internal/reachability"
	"github.com/castkit/mediacache/internal/storage/sqlite"
	"github.com/castkit/mediacache/internal/telemetry"
	"github.com/castkit/mediacache/internal/transfer/httpcache"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	var logOut io.Writer = os.Stdout
	if cfg.LogFile != "" {
		logOut = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
		}
	}

	handler := logctx.NewTraceHandler(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("mediacache starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.TelemetryEnabled,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	cacheRepo := sqlite.NewCacheRepository(database)
	queueRepo := sqlite.NewQueueRepository(database)

	prefs, err := sqlite.NewSettingsStore(database, policy.UserDataPolicy{
		AllowCellularDownloads: cfg.AllowCellularDownloads,
		AllowCellularStreaming: cfg.AllowCellularStreaming,
		AutomaticDownloads:     cfg.AutomaticDownloads,
	})
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// =========================================================================
	// Start Transfer Engine and Orchestrator
	engine := httpcache.NewClient(cfg.CacheDir, cacheRepo, cfg.MaxParallel, nil)

	prober := &reachability.DialProber{
		Timeout:      cfg.ProbeTimeout,
		PollInterval: cfg.ProbePoll,
		Metered:      cfg.MeteredLink,
	}

	repo := cache.NewFileRepository(engine, queue.NewRepositorySource(queueRepo), prefs, prober, cfg.ProbeHost, tel)

	// Reachability-driven resume: a denied run re-triggers once the host
	// comes back.
	resume := make(chan struct{}, 1)

	repo.SetResumeHook(func() {
		select {
		case resume <- struct{}{}:
		default:
		}
	})

	// =========================================================================
	// Start Notification
	var notif notifier.Notifier
	if cfg.WebhookURL != "" {
		notif = &notifier.WebhookNotifier{WebhookURL: cfg.WebhookURL}
	}

	// =========================================================================
	// Start API Service

	// One preload run at a time across all triggers: the ticker, the resume
	// hook and the REST endpoint all contend on this guard.
	preloadGuard := &cache.RunGuard{}

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, repo, queueRepo, prefs, preloadGuard, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("watching playback queue...",
		"cache_dir", cfg.CacheDir,
		"preload_interval", cfg.PreloadInterval.String(),
		"probe_host", cfg.ProbeHost,
	)

	// =========================================================================
	// Start Main Loop
	runPreload := func() {
		if !preloadGuard.TryBegin() {
			logger.Debug("skipping preload, previous run still in flight")

			return
		}

		go func() {
			defer preloadGuard.End()

			if err := repo.PreloadQueue(ctx, true); err != nil {
				logger.Error("error preloading queue", "err", err)

				if notif != nil {
					if notifyErr := notif.Notify("❌ Queue preload failed: " + err.Error()); notifyErr != nil {
						logger.Error("failed to send notification", "err", notifyErr)
					}
				}
			}
		}()
	}

	ticker := time.NewTicker(cfg.PreloadInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			repo.Suspend()

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return ctx.Err()
		case <-resume:
			logger.Info("host became reachable, resuming preload")
			runPreload()
		case <-ticker.C:
			runPreload()
		}
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	repo *cache.FileRepository,
	queueRepo *sqlite.QueueRepository,
	prefs *sqlite.SettingsStore,
	guard *cache.RunGuard,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	handler := rest.NewCacheHandler(repo, queueRepo, prefs, guard)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Mount("/v1", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "mediacache"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
