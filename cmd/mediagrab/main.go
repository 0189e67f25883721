package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/mediagrab/mediagrab/internal/admission"
	"github.com/mediagrab/mediagrab/internal/config"
	"github.com/mediagrab/mediagrab/internal/extract"
	"github.com/mediagrab/mediagrab/internal/http/rest"
	"github.com/mediagrab/mediagrab/internal/logctx"
	"github.com/mediagrab/mediagrab/internal/notifier"
	"github.com/mediagrab/mediagrab/internal/store"
	"github.com/mediagrab/mediagrab/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const dirPerm = 0o755

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-stop
		cancel()
	}()

	slog.Info("mediagrab starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "err", err)
		}
	}()

	// =========================================================================
	// Start File Store
	if err := os.MkdirAll(cfg.StoreDir, dirPerm); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	stagingRoot := filepath.Join(cfg.StoreDir, ".staging")
	if err := os.MkdirAll(stagingRoot, dirPerm); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	registry := store.NewRegistry(cfg.StoreDir, cfg.FileTTL, cfg.QuotaBytes, cfg.QuotaFiles)

	if err := tel.RegisterStoreObserver(func() (int64, int64) {
		stats := registry.Stats()

		return stats.TotalBytes, int64(stats.TotalFiles)
	}); err != nil {
		return fmt.Errorf("failed to register store metrics: %w", err)
	}

	// =========================================================================
	// Start Admission Control
	limiter := admission.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	controller := admission.NewController(limiter, registry, tel)

	// =========================================================================
	// Start Download Executor
	executor := extract.NewExecutor(cfg.YtdlpPath, stagingRoot, cfg.MaxFileBytes, cfg.JobTimeout, cfg.MaxParallel)

	setupNotifications(ctx, executor, cfg)

	// =========================================================================
	// Start Background Loops
	reaper := store.NewReaper(registry, cfg.CleanupInterval, tel)

	background, bgCtx := errgroup.WithContext(ctx)

	background.Go(func() error {
		reaper.Run(bgCtx)

		return nil
	})

	background.Go(func() error {
		limiter.Run(bgCtx)

		return nil
	})

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, controller, extract.NewInstrumentedRunner(executor, tel), registry, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for download requests...",
		"store_dir", cfg.StoreDir,
		"file_ttl", cfg.FileTTL.String(),
		"job_timeout", cfg.JobTimeout.String(),
		"max_parallel", cfg.MaxParallel,
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		// ctx is already done, so the loops are on their way out.
		return background.Wait()
	}
}

func setupNotifications(ctx context.Context, executor *extract.Executor, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.DiscordWebhookURL == "" {
		return
	}

	notif := notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)

	// The event channels stay open for the life of the executor; the
	// forwarders exit with the root context instead.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-executor.OnDownloadFailed:
				if notifyErr := notif.Notify(
					"❌ Download failed via " + event.Service.DisplayName() + ": " + event.URL + " (" + event.Reason + ")",
				); notifyErr != nil {
					logger.Error("failed to send notification", "err", notifyErr)
				}
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-executor.OnDownloadFinished:
				if notifyErr := notif.Notify(
					"✅ Download finished via " + event.Service.DisplayName() + ": " + event.URL + " (" + humanize.IBytes(uint64(event.Size)) + ")",
				); notifyErr != nil {
					logger.Error("failed to send notification", "err", notifyErr)
				}
			}
		}
	}()
}

// setupServer prepares the handlers and middleware to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	controller *admission.Controller,
	runner extract.Runner,
	registry *store.Registry,
	tel *telemetry.Telemetry,
) *http.Server {
	handler := rest.NewDownloadHandler(controller, runner, registry, tel, cfg.FileTTL, cfg.CleanupInterval)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(rest.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "server"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
