package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	OutboxScanSec     int
	OutboxBatchSize   int
	OutboxMaxAttempts int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64

	// Monitoring thresholds. Tunable per deployment; the engine packages never
	// hard-code them.
	OfflineAfterSec      int
	HealthStaleSec       int
	HighPowerWatts       float64
	MaxCurrentAmps       float64
	MaxVoltage           float64
	HealthAlertPenalty   float64
	HealthOfflinePenalty float64
	FutureSkewSec        int
	Timezone             string
	SweepIntervalSec     int
	SweepLockTTLSec      int
	DashboardCacheTTLSec int
	AlertListLimit       int
}

// Load reads configuration from an optional JSON file (CONFIG_PATH or
// configs/<ENV>.json) and then the environment, env taking precedence.
// Invalid values are reported as Problems and replaced with defaults so the
// caller can decide whether to refuse startup.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	cfg := Config{
		Env:                  strings.TrimSpace(os.Getenv("ENV")),
		ServiceName:          serviceNameDefault,
		HTTPPort:             httpPortDefault,
		LogLevel:             "info",
		ConfigPath:           strings.TrimSpace(os.Getenv("CONFIG_PATH")),
		RequestTimeoutMS:     30000,
		JWKSTTLSeconds:       300,
		JWTClockSkewSec:      60,
		DBMaxConns:           10,
		DBMinConns:           1,
		DBConnMaxIdleSec:     300,
		DBConnMaxLifeSec:     1800,
		KafkaRetryMax:        5,
		KafkaWriteMS:         5000,
		AsynqQueue:           "default",
		AsynqConcurrency:     10,
		OutboxScanSec:        5,
		OutboxBatchSize:      50,
		OutboxMaxAttempts:    20,
		InfluxTimeoutMS:      5000,
		OtelInsecure:         true,
		OtelSampleRatio:      1.0,
		OfflineAfterSec:      120,
		HealthStaleSec:       300,
		HighPowerWatts:       2000,
		MaxCurrentAmps:       100,
		MaxVoltage:           500,
		HealthAlertPenalty:   10,
		HealthOfflinePenalty: 30,
		FutureSkewSec:        60,
		Timezone:             "UTC",
		SweepIntervalSec:     60,
		SweepLockTTLSec:      55,
		DashboardCacheTTLSec: 30,
		AlertListLimit:       500,
	}

	problems := make([]Problem, 0, 4)
	envProvided := cfg.Env != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	fileData, fileProblems, _ := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != "")
	problems = append(problems, fileProblems...)

	src := source{file: fileData, problems: &problems}

	if v, ok := src.str("ENV"); ok {
		cfg.Env = v
		envProvided = true
	}
	src.setStr("SERVICE_NAME", &cfg.ServiceName)
	if v, ok := src.integer("HTTP_PORT"); ok {
		cfg.HTTPPort = v
	} else if v, ok := src.integer("PORT"); ok {
		cfg.HTTPPort = v
	}
	src.setStr("LOG_LEVEL", &cfg.LogLevel)
	src.setInt("REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS)

	src.setStr("OIDC_ISSUER", &cfg.OIDCIssuer)
	src.setStr("OIDC_AUDIENCE", &cfg.OIDCAudience)
	src.setStr("OIDC_JWKS_URL", &cfg.OIDCJWKSURL)
	src.setInt("JWKS_CACHE_TTL_SECONDS", &cfg.JWKSTTLSeconds)
	src.setInt("JWT_CLOCK_SKEW_SECONDS", &cfg.JWTClockSkewSec)

	src.setStr("DATABASE_URL", &cfg.DatabaseURL)
	src.setInt("DB_MAX_CONNS", &cfg.DBMaxConns)
	src.setInt("DB_MIN_CONNS", &cfg.DBMinConns)
	src.setInt("DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec)
	src.setInt("DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec)

	if v, ok := src.str("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = parseCSV(v)
	}
	src.setStr("KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	src.setStr("KAFKA_CONSUMER_GROUP", &cfg.KafkaGroupID)
	src.setInt("KAFKA_RETRY_MAX", &cfg.KafkaRetryMax)
	src.setInt("KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS)

	src.setStr("REDIS_ADDR", &cfg.RedisAddr)
	src.setStr("REDIS_PASSWORD", &cfg.RedisPassword)
	src.setInt("REDIS_DB", &cfg.RedisDB)

	src.setStr("ASYNQ_REDIS_ADDR", &cfg.AsynqRedisAddr)
	src.setStr("ASYNQ_REDIS_PASSWORD", &cfg.AsynqRedisPass)
	src.setInt("ASYNQ_REDIS_DB", &cfg.AsynqRedisDB)
	src.setStr("ASYNQ_QUEUE", &cfg.AsynqQueue)
	src.setInt("ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency)

	src.setInt("OUTBOX_SCAN_INTERVAL_SECONDS", &cfg.OutboxScanSec)
	src.setInt("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	src.setInt("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)

	src.setStr("INFLUX_URL", &cfg.InfluxURL)
	src.setStr("INFLUX_TOKEN", &cfg.InfluxToken)
	src.setStr("INFLUX_ORG", &cfg.InfluxOrg)
	src.setStr("INFLUX_BUCKET", &cfg.InfluxBucket)
	src.setInt("INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS)

	src.setBool("OTEL_ENABLED", &cfg.OtelEnabled)
	src.setStr("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OtelEndpoint)
	src.setBool("OTEL_EXPORTER_OTLP_INSECURE", &cfg.OtelInsecure)
	src.setFloat("OTEL_SAMPLE_RATIO", &cfg.OtelSampleRatio)

	src.setInt("OFFLINE_AFTER_SECONDS", &cfg.OfflineAfterSec)
	src.setInt("HEALTH_STALE_SECONDS", &cfg.HealthStaleSec)
	src.setFloat("HIGH_POWER_WATTS", &cfg.HighPowerWatts)
	src.setFloat("MAX_CURRENT_AMPS", &cfg.MaxCurrentAmps)
	src.setFloat("MAX_VOLTAGE", &cfg.MaxVoltage)
	src.setFloat("HEALTH_ALERT_PENALTY", &cfg.HealthAlertPenalty)
	src.setFloat("HEALTH_OFFLINE_PENALTY", &cfg.HealthOfflinePenalty)
	src.setInt("FUTURE_SKEW_SECONDS", &cfg.FutureSkewSec)
	src.setStr("TIMEZONE", &cfg.Timezone)
	src.setInt("SWEEP_INTERVAL_SECONDS", &cfg.SweepIntervalSec)
	src.setInt("SWEEP_LOCK_TTL_SECONDS", &cfg.SweepLockTTLSec)
	src.setInt("DASHBOARD_CACHE_TTL_SECONDS", &cfg.DashboardCacheTTLSec)
	src.setInt("ALERT_LIST_LIMIT", &cfg.AlertListLimit)

	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	requirePositive(&cfg.RequestTimeoutMS, 30000, "REQUEST_TIMEOUT_MS", &problems)
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	requirePositive(&cfg.JWKSTTLSeconds, 300, "JWKS_CACHE_TTL_SECONDS", &problems)
	requireNonNegative(&cfg.JWTClockSkewSec, 60, "JWT_CLOCK_SKEW_SECONDS", &problems)
	requirePositive(&cfg.DBMaxConns, 10, "DB_MAX_CONNS", &problems)
	requireNonNegative(&cfg.DBMinConns, 1, "DB_MIN_CONNS", &problems)
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	requirePositive(&cfg.DBConnMaxIdleSec, 300, "DB_CONN_MAX_IDLE_SECONDS", &problems)
	requirePositive(&cfg.DBConnMaxLifeSec, 1800, "DB_CONN_MAX_LIFETIME_SECONDS", &problems)
	requireNonNegative(&cfg.KafkaRetryMax, 5, "KAFKA_RETRY_MAX", &problems)
	requirePositive(&cfg.KafkaWriteMS, 5000, "KAFKA_WRITE_TIMEOUT_MS", &problems)
	requireNonNegative(&cfg.RedisDB, 0, "REDIS_DB", &problems)
	requireNonNegative(&cfg.AsynqRedisDB, 0, "ASYNQ_REDIS_DB", &problems)
	requirePositive(&cfg.AsynqConcurrency, 10, "ASYNQ_CONCURRENCY", &problems)
	requirePositive(&cfg.OutboxScanSec, 5, "OUTBOX_SCAN_INTERVAL_SECONDS", &problems)
	requirePositive(&cfg.OutboxBatchSize, 50, "OUTBOX_BATCH_SIZE", &problems)
	requirePositive(&cfg.OutboxMaxAttempts, 20, "OUTBOX_MAX_ATTEMPTS", &problems)
	requirePositive(&cfg.InfluxTimeoutMS, 5000, "INFLUX_TIMEOUT_MS", &problems)
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}
	requirePositive(&cfg.OfflineAfterSec, 120, "OFFLINE_AFTER_SECONDS", &problems)
	requirePositive(&cfg.HealthStaleSec, 300, "HEALTH_STALE_SECONDS", &problems)
	requirePositiveFloat(&cfg.HighPowerWatts, 2000, "HIGH_POWER_WATTS", &problems)
	requirePositiveFloat(&cfg.MaxCurrentAmps, 100, "MAX_CURRENT_AMPS", &problems)
	requirePositiveFloat(&cfg.MaxVoltage, 500, "MAX_VOLTAGE", &problems)
	requireNonNegativeFloat(&cfg.HealthAlertPenalty, 10, "HEALTH_ALERT_PENALTY", &problems)
	requireNonNegativeFloat(&cfg.HealthOfflinePenalty, 30, "HEALTH_OFFLINE_PENALTY", &problems)
	requireNonNegative(&cfg.FutureSkewSec, 60, "FUTURE_SKEW_SECONDS", &problems)
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		problems = append(problems, Problem{Field: "TIMEZONE", Message: "TIMEZONE must be a valid IANA zone name"})
		cfg.Timezone = "UTC"
	}
	requirePositive(&cfg.SweepIntervalSec, 60, "SWEEP_INTERVAL_SECONDS", &problems)
	requirePositive(&cfg.SweepLockTTLSec, 55, "SWEEP_LOCK_TTL_SECONDS", &problems)
	requireNonNegative(&cfg.DashboardCacheTTLSec, 30, "DASHBOARD_CACHE_TTL_SECONDS", &problems)
	requirePositive(&cfg.AlertListLimit, 500, "ALERT_LIST_LIMIT", &problems)

	return cfg, problems
}

// Location resolves the configured time zone. Load already validated the name.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// source resolves a key from the environment first, then the config file.
type source struct {
	file     map[string]any
	problems *[]Problem
}

func (s source) str(key string) (string, bool) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v, true
	}
	if raw, ok := s.fileValue(key); ok {
		if v, ok := raw.(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func (s source) setStr(key string, dst *string) {
	if v, ok := s.str(key); ok {
		*dst = v
	}
}

func (s source) integer(key string) (int, bool) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.problem(key, key+" must be an integer")
			return 0, false
		}
		return n, true
	}
	if raw, ok := s.fileValue(key); ok {
		if n, ok := asInt(raw); ok {
			return n, true
		}
		s.problem(key, key+" must be an integer")
	}
	return 0, false
}

func (s source) setInt(key string, dst *int) {
	if v, ok := s.integer(key); ok {
		*dst = v
	}
}

func (s source) setFloat(key string, dst *float64) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.problem(key, key+" must be a number")
			return
		}
		*dst = f
		return
	}
	if raw, ok := s.fileValue(key); ok {
		if f, ok := asFloat(raw); ok {
			*dst = f
			return
		}
		s.problem(key, key+" must be a number")
	}
}

func (s source) setBool(key string, dst *bool) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, ok := asBool(v); ok {
			*dst = b
			return
		}
		s.problem(key, key+" must be a boolean")
		return
	}
	if raw, ok := s.fileValue(key); ok {
		switch t := raw.(type) {
		case bool:
			*dst = t
		case string:
			if b, ok := asBool(t); ok {
				*dst = b
			} else {
				s.problem(key, key+" must be a boolean")
			}
		default:
			s.problem(key, key+" must be a boolean")
		}
	}
}

func (s source) fileValue(key string) (any, bool) {
	for k, v := range s.file {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return v, true
		}
	}
	return nil, false
}

func (s source) problem(field string, message string) {
	*s.problems = append(*s.problems, Problem{Field: field, Message: message})
}

func findRepoRoot() (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && !errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

func requirePositive(dst *int, fallback int, field string, problems *[]Problem) {
	if *dst <= 0 {
		*problems = append(*problems, Problem{Field: field, Message: field + " must be > 0"})
		*dst = fallback
	}
}

func requireNonNegative(dst *int, fallback int, field string, problems *[]Problem) {
	if *dst < 0 {
		*problems = append(*problems, Problem{Field: field, Message: field + " must be >= 0"})
		*dst = fallback
	}
}

func requirePositiveFloat(dst *float64, fallback float64, field string, problems *[]Problem) {
	if *dst <= 0 {
		*problems = append(*problems, Problem{Field: field, Message: field + " must be > 0"})
		*dst = fallback
	}
}

func requireNonNegativeFloat(dst *float64, fallback float64, field string, problems *[]Problem) {
	if *dst < 0 {
		*problems = append(*problems, Problem{Field: field, Message: field + " must be >= 0"})
		*dst = fallback
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
