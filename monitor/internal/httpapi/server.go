// Package httpapi exposes the monitoring engine over HTTP. Handlers
// translate between JSON requests and the core services; every error
// leaves through the shared error envelope.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/monitor/internal/monitoring"
	"parking-lot-monitoring-system/monitor/internal/repos"
	"parking-lot-monitoring-system/shared/config"
	"parking-lot-monitoring-system/shared/httpx"
	"parking-lot-monitoring-system/shared/logx"
)

type AlertLister interface {
	List(ctx context.Context, filter repos.AlertFilter, limit int) ([]models.Alert, error)
}

type TargetStore interface {
	Upsert(ctx context.Context, target models.Target) (models.Target, bool, error)
	UpdateValue(ctx context.Context, targetID uuid.UUID, value float64) (models.Target, error)
	List(ctx context.Context, filter repos.TargetFilter, limit int) ([]models.Target, error)
}

type ProvisioningStore interface {
	CreateFacility(ctx context.Context, name string, code *string, address string) (models.Facility, error)
	CreateZone(ctx context.Context, facilityID uuid.UUID, name, code string) (models.Zone, error)
	CreateDevice(ctx context.Context, zoneID uuid.UUID, code, name string) (models.Device, error)
}

type StatusDeviceStore interface {
	ListDeviceContexts(ctx context.Context, facilityID, zoneID *uuid.UUID) ([]repos.DeviceContext, error)
}

type StatusReadingStore interface {
	LastTimestamps(ctx context.Context) (map[uuid.UUID]time.Time, error)
}

type StatusOccupancyStore interface {
	LastEventTimestamps(ctx context.Context) (map[uuid.UUID]time.Time, error)
}

type StatusAlertStore interface {
	CountOpenBySeverity(ctx context.Context) (map[uuid.UUID]map[string]int, error)
}

// SummaryCache is the dashboard cache slice; cachex.Client satisfies
// it. A nil cache disables caching.
type SummaryCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Handlers carries every dependency the HTTP surface needs.
type Handlers struct {
	Cfg       config.Config
	Log       logx.Logger
	Telemetry *monitoring.TelemetryIngestor
	Occupancy *monitoring.OccupancyIngestor
	Alerts    *monitoring.AlertEngine
	Dashboard *monitoring.DashboardAggregator
	Reporter  *monitoring.UsageReporter
	Health    *monitoring.HealthScorer

	AlertList     AlertLister
	Targets       TargetStore
	Devices       ProvisioningStore
	StatusDevices StatusDeviceStore
	StatusRead    StatusReadingStore
	StatusEvents  StatusOccupancyStore
	StatusAlerts  StatusAlertStore
	Cache         SummaryCache
}

// Register wires every route onto mux under /api/v1.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/telemetry", h.postTelemetry)
	mux.HandleFunc("POST /api/v1/telemetry/bulk", h.postTelemetryBulk)
	mux.HandleFunc("POST /api/v1/parking-log", h.postParkingLog)
	mux.HandleFunc("GET /api/v1/alerts", h.listAlerts)
	mux.HandleFunc("PATCH /api/v1/alerts/{id}/acknowledge", h.acknowledgeAlert)
	mux.HandleFunc("GET /api/v1/dashboard/summary", h.dashboardSummary)
	mux.HandleFunc("GET /api/v1/devices/status", h.deviceStatus)
	mux.HandleFunc("GET /api/v1/targets", h.listTargets)
	mux.HandleFunc("POST /api/v1/targets", h.upsertTarget)
	mux.HandleFunc("PATCH /api/v1/targets/{id}", h.patchTarget)
	mux.HandleFunc("GET /api/v1/reports/usage", h.usageReport)
	mux.HandleFunc("POST /api/v1/facilities", h.createFacility)
	mux.HandleFunc("POST /api/v1/zones", h.createZone)
	mux.HandleFunc("POST /api/v1/devices", h.createDevice)
}

// writeCoreError maps core errors onto the envelope.
func writeCoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *monitoring.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "validation failed", map[string]any{"fields": verr.Fields})
	case errors.Is(err, monitoring.ErrUnknownDevice):
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown device code", nil)
	case errors.Is(err, monitoring.ErrDuplicateReading):
		httpx.WriteError(w, r, http.StatusConflict, "ALREADY_EXISTS", "reading already recorded for device and timestamp", nil)
	case errors.Is(err, repos.ErrConflict):
		httpx.WriteError(w, r, http.StatusConflict, "ALREADY_EXISTS", "resource already exists", nil)
	case errors.Is(err, monitoring.ErrNotFound), errors.Is(err, repos.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		ts, err = time.Parse("2006-01-02T15:04:05", raw)
	}
	return ts, err == nil
}

func parseDate(raw string) (time.Time, bool) {
	ts, err := time.Parse("2006-01-02", raw)
	return ts, err == nil
}

// parseOptionalUUID treats an absent parameter as no filter.
func parseOptionalUUID(raw string) (*uuid.UUID, bool) {
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, false
	}
	return &id, true
}
