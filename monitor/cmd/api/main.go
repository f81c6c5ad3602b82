package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"parking-lot-monitoring-system/monitor/internal/httpapi"
	"parking-lot-monitoring-system/monitor/internal/middleware"
	"parking-lot-monitoring-system/monitor/internal/monitoring"
	"parking-lot-monitoring-system/monitor/internal/repos"
	"parking-lot-monitoring-system/shared/authx"
	"parking-lot-monitoring-system/shared/cachex"
	"parking-lot-monitoring-system/shared/config"
	"parking-lot-monitoring-system/shared/dbx"
	"parking-lot-monitoring-system/shared/httpx"
	"parking-lot-monitoring-system/shared/influxx"
	"parking-lot-monitoring-system/shared/logx"
	"parking-lot-monitoring-system/shared/metricsx"
	"parking-lot-monitoring-system/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
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
	cfg, readyProblems := config.Load("monitor-api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
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
		} else {
			logger.Warn(context.Background(), "otel_init_failed", "tracer init failed",
				slog.String("error", err.Error()),
			)
		}
	}

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		dbPool, err = dbx.NewPool(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to connect to database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		var err error
		cache, err = cachex.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "cache_init_failed", "redis init failed, caching disabled",
				slog.String("error", err.Error()),
			)
			cache = nil
		} else {
			defer func() { _ = cache.Close() }()
		}
	}

	var influx *influxx.Client
	if cfg.InfluxURL != "" && cfg.InfluxToken != "" {
		var err error
		influx, err = influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "influx init failed, mirroring disabled",
				slog.String("error", err.Error()),
			)
			influx = nil
		} else {
			defer influx.Close()
		}
	}

	var verifier *authx.Verifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		var err error
		verifier, err = authx.NewVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "failed to initialize token verifier"})
		}
	}

	outboxRepo := repos.NewOutboxRepo(dbPool)
	alertsRepo := repos.NewAlertsRepo(dbPool, outboxRepo)
	devicesRepo := repos.NewDevicesRepo(dbPool)
	readingsRepo := repos.NewReadingsRepo(dbPool)
	occupancyRepo := repos.NewOccupancyRepo(dbPool)
	targetsRepo := repos.NewTargetsRepo(dbPool)
	dashboardRepo := repos.NewDashboardRepo(dbPool)

	var mirror monitoring.ReadingMirror
	if influx != nil {
		mirror = influx
	}

	alertEngine := monitoring.NewAlertEngine(alertsRepo, cfg, logger)
	telemetry := monitoring.NewTelemetryIngestor(devicesRepo, readingsRepo, alertEngine, mirror, cfg, logger)
	occupancy := monitoring.NewOccupancyIngestor(devicesRepo, occupancyRepo, cfg, logger)
	dashboard := monitoring.NewDashboardAggregator(dashboardRepo, cfg)
	reporter := monitoring.NewUsageReporter(occupancyRepo, cfg)
	health := monitoring.NewHealthScorer(healthStore{alerts: alertsRepo, readings: readingsRepo}, cfg)

	handlers := &httpapi.Handlers{
		Cfg:           cfg,
		Log:           logger,
		Telemetry:     telemetry,
		Occupancy:     occupancy,
		Alerts:        alertEngine,
		Dashboard:     dashboard,
		Reporter:      reporter,
		Health:        health,
		AlertList:     alertsRepo,
		Targets:       targetsRepo,
		Devices:       devicesRepo,
		StatusDevices: devicesRepo,
		StatusRead:    readingsRepo,
		StatusEvents:  occupancyRepo,
		StatusAlerts:  alertsRepo,
	}
	if cache != nil {
		handlers.Cache = cache
	}

	metricsx.Register()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: invalid configuration",
				map[string]any{"problems": readyProblems},
			)
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: database unavailable",
				map[string]any{"problem": "db_ping_failed"},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())
	handlers.Register(mux)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	skipInfra := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.DBRequiredMiddleware{
		Pool: dbPool,
		Skip: skipInfra,
	}.Wrap(handler)
	handler = middleware.AuthMiddleware{
		Verifier: verifier,
		Protect:  middleware.ProtectOperatorRoutes,
	}.Wrap(handler)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewIPRateLimiter(50, 100, 10*time.Minute),
		Skip:    skipInfra,
	}.Wrap(handler)
	handler = middleware.CORSMiddleware{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		MaxAge:         10 * time.Minute,
		Skip:           skipInfra,
	}.Wrap(handler)
	handler = metricsx.Instrument(handler)
	if cfg.OtelEnabled {
		handler = otelhttp.NewHandler(handler, "http.server")
	}
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if dbPool != nil {
		dbPool.Close()
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}
