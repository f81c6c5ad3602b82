package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/monitor/internal/repos"
	"parking-lot-monitoring-system/shared/config"
	"parking-lot-monitoring-system/shared/dbx"
	"parking-lot-monitoring-system/shared/events"
	"parking-lot-monitoring-system/shared/influxx"
	"parking-lot-monitoring-system/shared/logx"
	"parking-lot-monitoring-system/shared/metricsx"
	"parking-lot-monitoring-system/shared/mqx"
	"parking-lot-monitoring-system/shared/observability"
)

const (
	taskOutboxScan    = "outbox.scan"
	taskOutboxRelease = "outbox.release"

	// Rows claimed by a relay that died before delivering go back to
	// pending after this long.
	stuckAfter = 5 * time.Minute
)

func main() {
	cfg, problems := config.Load("alert-relay", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
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

	outboxRepo := repos.NewOutboxRepo(dbPool)
	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	var influx *influxx.Client
	if cfg.InfluxURL != "" && cfg.InfluxToken != "" {
		influx, err = influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "influx init failed, alert mirror disabled",
				slog.String("error", err.Error()),
			)
			influx = nil
		} else {
			defer influx.Close()
		}
	}

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
	mux.HandleFunc(taskOutboxScan, func(ctx context.Context, t *asynq.Task) error {
		claimed, err := outboxRepo.ClaimPending(ctx, cfg.ServiceName, cfg.OutboxBatchSize)
		if err != nil {
			return err
		}
		for _, event := range claimed {
			dispatch(ctx, logger, cfg, outboxRepo, producer, event)
		}
		return nil
	})
	mux.HandleFunc(taskOutboxRelease, func(ctx context.Context, t *asynq.Task) error {
		released, err := outboxRepo.ReleaseStuck(ctx, stuckAfter)
		if err != nil {
			return err
		}
		if released > 0 {
			logger.Warn(ctx, "outbox_released", "stuck outbox rows returned to pending",
				slog.Int("released", released),
			)
		}
		return nil
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.OutboxScanSec)+"s", asynq.NewTask(taskOutboxScan, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if _, err := scheduler.Register("@every 60s", asynq.NewTask(taskOutboxRelease, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
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
			if info, err := inspector.GetQueueInfo(cfg.AsynqQueue); err == nil {
				metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
			}
			if pending, err := outboxRepo.CountPending(context.Background()); err == nil {
				metricsx.SetOutboxPending(pending)
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mirrorDone := make(chan struct{})
	if influx != nil && cfg.KafkaGroupID != "" {
		reader, err := mqx.NewConsumer(cfg, events.TopicAlerts, cfg.KafkaGroupID)
		if err != nil {
			logger.Error(ctx, "kafka_init_failed", "kafka reader init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		go func() {
			defer close(mirrorDone)
			defer reader.Close()
			runMirror(ctx, logger, cfg, reader, influx)
		}()
	} else {
		close(mirrorDone)
		logger.Info(ctx, "mirror_disabled", "alert mirror disabled",
			slog.Bool("influx_configured", influx != nil),
			slog.Bool("group_configured", cfg.KafkaGroupID != ""),
		)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "relay_start", "alert relay started",
			slog.String("queue", cfg.AsynqQueue),
			slog.String("topic", events.TopicAlerts),
			slog.Int("batch_size", cfg.OutboxBatchSize),
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
			logger.Error(context.Background(), "relay_failed", "alert relay failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	cancel()
	<-mirrorDone
	logger.Info(context.Background(), "relay_stop", "alert relay stopped")
}

// dispatch publishes one claimed outbox row and settles its status.
// Failures only reschedule the row; the scan task itself never retries.
func dispatch(ctx context.Context, logger logx.Logger, cfg config.Config, outboxRepo *repos.OutboxRepo, producer *mqx.Producer, event models.OutboxEvent) {
	ctx, span := otel.Tracer("asynq").Start(ctx, "outbox.dispatch")
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", event.Topic),
	)
	defer span.End()

	headers := map[string]string{
		"event_id":       event.EventID.String(),
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"published_at":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := producer.Publish(ctx, event.Topic, []byte(event.AggregateID.String()), event.Payload, headers); err != nil {
		attempts := event.Attempts + 1
		nextRetry := time.Now().UTC().Add(retryDelay(attempts))
		dead := attempts >= cfg.OutboxMaxAttempts
		_ = outboxRepo.MarkFailed(ctx, event.EventID, attempts, &nextRetry, err.Error(), dead)
		if dead {
			logger.Warn(ctx, "outbox_dead", "outbox event moved to dead-letter",
				slog.String("event_id", event.EventID.String()),
				slog.Int("attempts", attempts),
			)
			return
		}
		logger.Error(ctx, "publish_failed", "kafka publish failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("event_id", event.EventID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := outboxRepo.MarkDelivered(ctx, event.EventID); err != nil {
		logger.Error(ctx, "outbox_mark_failed", "failed to mark outbox row delivered",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("event_id", event.EventID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// runMirror consumes alert lifecycle events and mirrors them to
// InfluxDB as alert points.
func runMirror(ctx context.Context, logger logx.Logger, cfg config.Config, reader *kafka.Reader, influx *influxx.Client) {
	logger.Info(ctx, "mirror_start", "alert mirror started",
		slog.String("topic", events.TopicAlerts),
		slog.String("group", cfg.KafkaGroupID),
	)
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", events.TopicAlerts),
		)
		if err := mirrorAlert(spanCtx, influx, msg.Value); err != nil {
			span.End()
			metricsx.IncInfluxWriteFailure()
			logger.Error(ctx, "alert_mirror_failed", "failed to mirror alert event",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			continue
		}
		span.End()
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, cfg.KafkaGroupID, stats.Lag)
	}
	logger.Info(context.Background(), "mirror_stop", "alert mirror stopped")
}

func mirrorAlert(ctx context.Context, influx *influxx.Client, raw []byte) error {
	var envelope events.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	var payload events.AlertPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return err
	}
	tags := map[string]string{
		"alert_type": payload.AlertType,
		"severity":   payload.Severity,
		"event_type": envelope.EventType,
	}
	if payload.DeviceCode != "" {
		tags["device"] = payload.DeviceCode
	}
	fields := map[string]any{
		"alert_id": payload.AlertID.String(),
		"message":  payload.Message,
	}
	ts := envelope.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return influx.WritePoint(ctx, "alert", tags, fields, ts)
}

func retryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 5 * time.Second
	}
	delay := time.Duration(attempt*attempt) * 5 * time.Second
	if delay > 5*time.Minute {
		return 5 * time.Minute
	}
	return delay
}
