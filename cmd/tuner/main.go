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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/guardrail-tuner/internal/admin"
	"github.com/emperorhan/guardrail-tuner/internal/alert"
	"github.com/emperorhan/guardrail-tuner/internal/config"
	"github.com/emperorhan/guardrail-tuner/internal/ingest"
	"github.com/emperorhan/guardrail-tuner/internal/store"
	filestore "github.com/emperorhan/guardrail-tuner/internal/store/file"
	"github.com/emperorhan/guardrail-tuner/internal/store/postgres"
	redisstore "github.com/emperorhan/guardrail-tuner/internal/store/redis"
	"github.com/emperorhan/guardrail-tuner/internal/tuner"
)

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting guardrail-tuner",
		"data_dir", cfg.Store.DataDir,
		"admin_port", cfg.Server.AdminPort,
		"db_enabled", cfg.Store.DBURL != "",
		"redis_enabled", cfg.Store.RedisURL != "",
	)

	fileStore, err := filestore.New(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open file store", "error", err)
		os.Exit(1)
	}

	// The audit log lives in Postgres when DB_URL is set, in the local
	// adjustments log otherwise.
	var eventLog store.EventLog = fileStore
	if cfg.Store.DBURL != "" {
		db, err := postgres.New(postgres.Config{
			URL:             cfg.Store.DBURL,
			MaxOpenConns:    cfg.Store.DBMaxOpenConns,
			MaxIdleConns:    cfg.Store.DBMaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Store.DBConnMaxLifeMin) * time.Minute,
		})
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		repo := postgres.NewEventRepo(db)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			logger.Error("failed to ensure audit schema", "error", err)
			os.Exit(1)
		}
		eventLog = repo
		logger.Info("postgres audit log enabled")
	}

	var publisher store.ThresholdPublisher
	if cfg.Store.RedisURL != "" {
		pub, err := redisstore.NewPublisher(cfg.Store.RedisURL, logger)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		publisher = pub
		logger.Info("redis threshold publishing enabled")
	}

	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	var alerter alert.Alerter = &alert.NoopAlerter{}
	if len(channels) > 0 {
		alerter = alert.NewMultiAlerter(time.Duration(cfg.Alert.CooldownSec)*time.Second, logger, channels...)
	}

	catalog, err := tuner.NewCatalog(tuner.DefaultThresholds())
	if err != nil {
		logger.Error("failed to build threshold catalog", "error", err)
		os.Exit(1)
	}

	queue := ingest.NewQueue(cfg.Tuner.QueueCapacity)

	controller, err := tuner.New(tuner.Config{
		UpdateInterval:      cfg.Tuner.UpdateInterval,
		SampleTimeout:       cfg.Tuner.SampleTimeout,
		WindowCapacity:      cfg.Tuner.WindowCapacity,
		HistoryPersistEvery: cfg.Tuner.HistoryPersistEvery,
		ReportEvery:         cfg.Tuner.ReportEvery,
		Heuristics:          cfg.Heuristics,
	}, tuner.Deps{
		Catalog:   catalog,
		Queue:     queue,
		Snapshots: fileStore,
		Events:    eventLog,
		History:   fileStore,
		Publisher: publisher,
		Alerter:   alerter,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build controller", "error", err)
		os.Exit(1)
	}

	if err := controller.Restore(context.Background()); err != nil {
		logger.Error("failed to restore persisted state", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	adminServer := admin.NewServer(controller, logger)
	rateLimiter := admin.NewRateLimitMiddleware(logger)
	defer rateLimiter.Stop()

	g.Go(func() error {
		return runAdminServer(gCtx, cfg.Server.AdminPort, rateLimiter.Wrap(adminServer.Handler()), logger)
	})

	g.Go(func() error {
		return controller.Run(gCtx)
	})

	if cfg.Tuner.HeuristicsFile != "" {
		watcher := config.NewHeuristicsWatcher(cfg.Tuner.HeuristicsFile, controller, logger, cfg.Tuner.HeuristicsPollInterval)
		g.Go(func() error {
			return watcher.Run(gCtx)
		})
	}

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("tuner exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("tuner shut down gracefully")
}

func runAdminServer(ctx context.Context, port int, apiHandler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/tuner/v1/", apiHandler)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("admin server shutdown error", "error", err)
		}
	}()

	logger.Info("admin server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}
