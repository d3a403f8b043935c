package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"daymark/internal/api"
	"daymark/internal/config"
	"daymark/internal/database"
	"daymark/internal/domain"
	"daymark/internal/events"
	"daymark/internal/export"
	"daymark/internal/logging"
	"daymark/internal/metrics"
	"daymark/internal/models"
	"daymark/internal/netmon"
	"daymark/internal/repository"
	"daymark/internal/syncer"
	"daymark/internal/transport"
	"daymark/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	exportTarget := flag.String("export", "", "export data to Excel and exit: wins or board")
	flag.Parse()

	if err := run(*exportTarget); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(exportTarget string) error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, logger); err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Sync.QueuePath, logger)
	if err != nil {
		logger.Error().Err(err).Msg("queue database init failed")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor := netmon.NewMonitor(netmon.InterfaceProber{}, cfg.Sync.ProbeIntervalDuration(), logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	client := transport.NewClient(transport.Config{
		BaseURL:     cfg.Server.BaseURL,
		Timeout:     cfg.Server.RequestTimeout(),
		MaxAttempts: cfg.Server.MaxRetries,
		RetryDelay:  cfg.Server.RetryDelayDuration(),
	}, logger)

	eventBus := events.NewEventBus()
	coordinator := syncer.NewCoordinator(client, db, monitor, eventBus, cfg.Device.ID, logger)

	if exportTarget != "" {
		return runExport(ctx, cfg, coordinator, logger, exportTarget)
	}

	redisClient, notifications := initNotificationStore(ctx, cfg, logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}
	subscribeSyncEvents(ctx, eventBus, notifications, logger)

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		startPrometheus(cfg.Monitoring.PrometheusPort, logger)
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Sync.QueuePath, cfg.Backup, logger)
		go backupService.Start(ctx)
	}

	retryPolicy := worker.RetryPolicy{
		MaxAttempts:   cfg.Sync.MaxAttempts,
		InitialDelay:  cfg.Sync.BackoffInitialDuration(),
		MaxDelay:      cfg.Sync.BackoffMaxDuration(),
		BackoffFactor: cfg.Sync.BackoffFactor,
	}
	processor := worker.NewProcessor(db, monitor, coordinator.Routes(), eventBus, redisClient, retryPolicy, worker.Config{
		PollInterval: cfg.Sync.PollIntervalDuration(),
		BatchSize:    cfg.Sync.BatchSize,
		DrainRPS:     cfg.Sync.DrainRPS,
		DrainBurst:   cfg.Sync.DrainBurst,
	}, logger)

	if cfg.StatusAPI.Enabled {
		statusServer := api.NewStatusServer(cfg.StatusAPI, db, notifications, monitor, processor, logger)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error().Err(err).Msg("status API error")
			}
		}()
		defer func() {
			_ = statusServer.Shutdown(context.Background())
		}()
	}

	logger.Info().Str("queue", cfg.Sync.QueuePath).Str("api", cfg.Server.BaseURL).Msg("sync daemon started")
	processor.Start(ctx)

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := baseLogger.With().Str("component", "syncd-main").Logger()

	return cfg, &logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Sync.QueuePath), 0o755); err != nil {
		logger.Error().Err(err).Msg("queue directory create failed")
		return err
	}
	if cfg.Exports.Path != "" {
		if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
			logger.Error().Err(err).Msg("export directory create failed")
			return err
		}
	}
	return nil
}

func initNotificationStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.NotificationStore) {
	fallback := repository.NewMemoryNotificationStore()

	if cfg.Redis.Address == "" {
		return nil, fallback
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}

	primary := repository.NewRedisNotificationStore(redisClient)
	return redisClient, repository.NewFailoverNotificationStore(primary, fallback, logger)
}

// subscribeSyncEvents turns abandonment events into user-facing
// notifications. An abandoned operation is lost work and must reach the
// notification feed, whatever else fails.
func subscribeSyncEvents(ctx context.Context, bus *events.EventBus, store domain.NotificationStore, logger *zerolog.Logger) {
	bus.Subscribe(events.EventOperationAbandoned, func(ev *events.Event) error {
		var payload events.OperationEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}

		n := &models.Notification{
			ID:          uuid.NewString(),
			Kind:        models.NotifyOperationAbandoned,
			Message:     fmt.Sprintf("Could not sync %s %s after repeated attempts: %s", payload.EntityType, payload.EntityID, payload.Error),
			OperationID: payload.OperationID,
			EntityType:  payload.EntityType,
			EntityID:    payload.EntityID,
			CreatedAt:   time.Now(),
		}
		if err := store.Push(ctx, n); err != nil {
			logger.Error().Err(err).Str("op", payload.OperationID).Msg("event bus: push notification")
		}
		return nil
	})
}

func startPrometheus(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Int("port", port).Msg("Prometheus metrics listener started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Prometheus listener error")
		}
	}()
}

// runExport pulls fresh data from the server and writes an Excel file. Runs
// as a one-shot command, not part of the daemon loop.
func runExport(ctx context.Context, cfg *config.Config, coordinator *syncer.Coordinator, logger *zerolog.Logger, target string) error {
	exporter := export.NewExporter(cfg.Exports.Path, logger)

	switch target {
	case "wins":
		wins, err := coordinator.FetchWins(ctx, time.Now())
		if err != nil {
			logger.Error().Err(err).Msg("fetch wins for export")
			return err
		}
		path, err := exporter.ExportWins(wins)
		if err != nil {
			return err
		}
		logger.Info().Str("file", path).Msg("wins exported")
		return nil
	case "board":
		board, err := coordinator.FetchBoard(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("fetch board for export")
			return err
		}
		path, err := exporter.ExportBoard(board)
		if err != nil {
			return err
		}
		logger.Info().Str("file", path).Msg("board exported")
		return nil
	default:
		return fmt.Errorf("unknown export target %q (want wins or board)", target)
	}
}
