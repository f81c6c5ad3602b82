package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/monitor/internal/monitoring"
	"parking-lot-monitoring-system/shared/httpx"
)

func (h *Handlers) dashboardSummary(w http.ResponseWriter, r *http.Request) {
	day, ok := parseDate(r.URL.Query().Get("date"))
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "date is required and must be YYYY-MM-DD", nil)
		return
	}

	cacheKey := fmt.Sprintf("dashboard:summary:%s", day.Format("2006-01-02"))
	if h.Cache != nil {
		var cached monitoring.Summary
		if hit, err := h.Cache.GetJSON(r.Context(), cacheKey, &cached); err == nil && hit {
			httpx.WriteJSON(w, http.StatusOK, cached)
			return
		}
	}

	summary, err := h.Dashboard.Summarize(r.Context(), day)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	if h.Cache != nil {
		ttl := time.Duration(h.Cfg.DashboardCacheTTLSec) * time.Second
		if err := h.Cache.SetJSON(r.Context(), cacheKey, summary, ttl); err != nil {
			h.Log.Warn(r.Context(), "cache.set_failed", "dashboard cache write failed")
		}
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}

// deviceStatus scores the whole fleet from four batched queries
// instead of per-device round trips. Everything is computed from the
// live tables, never from health snapshots.
func (h *Handlers) deviceStatus(w http.ResponseWriter, r *http.Request) {
	facilityID, ok := parseOptionalUUID(r.URL.Query().Get("facility"))
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "facility must be a UUID", nil)
		return
	}
	zoneID, ok := parseOptionalUUID(r.URL.Query().Get("zone"))
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "zone must be a UUID", nil)
		return
	}

	contexts, err := h.StatusDevices.ListDeviceContexts(r.Context(), facilityID, zoneID)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	lastTelemetry, err := h.StatusRead.LastTimestamps(r.Context())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	lastParking, err := h.StatusEvents.LastEventTimestamps(r.Context())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	openBySeverity, err := h.StatusAlerts.CountOpenBySeverity(r.Context())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	now := time.Now()
	staleAfter := time.Duration(h.Cfg.HealthStaleSec) * time.Second

	out := make([]models.DeviceStatus, 0, len(contexts))
	for _, dc := range contexts {
		open := openBySeverity[dc.Device.DeviceID]
		row := models.DeviceStatus{
			DeviceID:     dc.Device.DeviceID,
			Code:         dc.Device.Code,
			ZoneID:       dc.Device.ZoneID,
			ZoneCode:     dc.ZoneCode,
			FacilityID:   dc.FacilityID,
			FacilityName: dc.FacilityName,
			Status:       models.StatusFromOpenAlerts(open),
		}
		if ts, known := lastTelemetry[dc.Device.DeviceID]; known {
			last := ts
			row.LastTelemetryAt = &last
		}
		if ts, known := lastParking[dc.Device.DeviceID]; known {
			last := ts
			row.LastParkingLogAt = &last
		}
		stale := row.LastTelemetryAt == nil || now.Sub(*row.LastTelemetryAt) > staleAfter
		openTotal := 0
		for _, n := range open {
			openTotal += n
		}
		row.HealthScore = h.Health.Derive(openTotal, stale)
		out = append(out, row)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"devices": out, "count": len(out)})
}
