package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/monitor/internal/monitoring"
	"parking-lot-monitoring-system/monitor/internal/repos"
	"parking-lot-monitoring-system/shared/cachex"
	"parking-lot-monitoring-system/shared/config"
	"parking-lot-monitoring-system/shared/dbx"
	"parking-lot-monitoring-system/shared/lockx"
	"parking-lot-monitoring-system/shared/logx"
	"parking-lot-monitoring-system/shared/metricsx"
	"parking-lot-monitoring-system/shared/observability"
)

const (
	taskSweepRun       = "sweep.run"
	taskHealthSnapshot = "health.snapshot"

	sweepLockKey = "monitor:sweep:lock"
)

// sweepStore joins the device and reading repositories into the slice
// the sweeper scans.
type sweepStore struct {
	devices  *repos.DevicesRepo
	readings *repos.ReadingsRepo
}

func (s sweepStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	return s.devices.ListDevices(ctx)
}

func (s sweepStore) LastTimestamps(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	return s.readings.LastTimestamps(ctx)
}

// healthStore joins the two repositories the scorer reads from.
type healthStore struct {
	alerts   *repos.AlertsRepo
	readings *repos.ReadingsRepo
}

func (s healthStore) CountOpenForDevice(ctx context.Context, deviceID uuid.UUID) (int, error) {
	return s.alerts.CountOpenForDevice(ctx, deviceID)
}

func (s healthStore) LastTimestamp(ctx context.Context, deviceID uuid.UUID) (*time.Time, error) {
	return s.readings.LastTimestamp(ctx, deviceID)
}

func main() {
	cfg, problems := config.Load("monitor-sweeper", 8081)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	// The sweep is idempotent, so the lock only avoids wasted overlap
	// between replicas. No Redis, no lock, still correct.
	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "redis init failed, sweeping without lock",
				slog.String("error", err.Error()),
			)
			cache = nil
		} else {
			defer func() { _ = cache.Close() }()
		}
	}

	outboxRepo := repos.NewOutboxRepo(dbPool)
	alertsRepo := repos.NewAlertsRepo(dbPool, outboxRepo)
	devicesRepo := repos.NewDevicesRepo(dbPool)
	readingsRepo := repos.NewReadingsRepo(dbPool)
	healthRepo := repos.NewHealthRepo(dbPool)

	alertEngine := monitoring.NewAlertEngine(alertsRepo, cfg, logger)
	sweeper := monitoring.NewOfflineSweeper(sweepStore{devices: devicesRepo, readings: readingsRepo}, alertEngine, cfg, logger)
	scorer := monitoring.NewHealthScorer(healthStore{alerts: alertsRepo, readings: readingsRepo}, cfg)

	lockTTL := time.Duration(cfg.SweepLockTTLSec) * time.Second

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskSweepRun, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, "sweep.run")
		span.SetAttributes(attribute.String("queue", cfg.AsynqQueue))
		defer span.End()

		if cache != nil {
			lock, acquired, err := lockx.Acquire(ctx, cache.Client(), sweepLockKey, lockTTL)
			if err != nil {
				logger.Warn(ctx, "sweep_lock_failed", "lock acquire failed, sweeping anyway",
					slog.String("error", err.Error()),
				)
			} else if !acquired {
				logger.Debug(ctx, "sweep_skipped", "another replica holds the sweep lock")
				return nil
			} else {
				defer func() { _ = lockx.Release(context.Background(), cache.Client(), lock) }()
			}
		}

		_, err := sweeper.Sweep(ctx)
		return err
	})
	mux.HandleFunc(taskHealthSnapshot, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, "health.snapshot")
		defer span.End()

		devices, err := devicesRepo.ListDevices(ctx)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, device := range devices {
			score, err := scorer.Score(ctx, device.DeviceID)
			if err != nil {
				return err
			}
			if _, err := healthRepo.InsertSnapshot(ctx, models.HealthSnapshot{
				DeviceID:     device.DeviceID,
				Score:        score,
				CalculatedAt: now,
			}); err != nil {
				return err
			}
		}
		logger.Info(ctx, "health_snapshot", "health snapshots recorded",
			slog.Int("devices", len(devices)),
		)
		return nil
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.SweepIntervalSec)+"s", asynq.NewTask(taskSweepRun, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.HealthStaleSec)+"s", asynq.NewTask(taskHealthSnapshot, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "sweeper_start", "sweeper started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("sweep_interval_seconds", cfg.SweepIntervalSec),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "sweeper_failed", "sweeper failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "sweeper_stop", "sweeper stopped")
}
