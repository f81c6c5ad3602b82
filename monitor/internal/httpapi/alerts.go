package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/monitor/internal/repos"
	"parking-lot-monitoring-system/shared/httpx"
)

type alertResponse struct {
	AlertID        string     `json:"alert_id"`
	DeviceID       *string    `json:"device_id"`
	Severity       string     `json:"severity"`
	AlertType      string     `json:"alert_type"`
	Message        string     `json:"message"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	Active         bool       `json:"active"`
}

func toAlertResponse(alert models.Alert) alertResponse {
	resp := alertResponse{
		AlertID:        alert.AlertID.String(),
		Severity:       alert.Severity,
		AlertType:      alert.AlertType,
		Message:        alert.Message,
		CreatedAt:      alert.CreatedAt,
		AcknowledgedAt: alert.AcknowledgedAt,
		Active:         alert.Active(),
	}
	if alert.DeviceID != nil {
		id := alert.DeviceID.String()
		resp.DeviceID = &id
	}
	return resp
}

func (h *Handlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	filter := repos.AlertFilter{
		Severity: r.URL.Query().Get("severity"),
	}
	// Absent means both; false narrows to acknowledged alerts only.
	switch r.URL.Query().Get("active") {
	case "":
	case "true":
		active := true
		filter.Active = &active
	case "false":
		active := false
		filter.Active = &active
	default:
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "active must be true or false", nil)
		return
	}
	if raw := r.URL.Query().Get("device_id"); raw != "" {
		deviceID, err := uuid.Parse(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid device_id", nil)
			return
		}
		filter.DeviceID = &deviceID
	}

	alerts, err := h.AlertList.List(r.Context(), filter, h.Cfg.AlertListLimit)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	out := make([]alertResponse, 0, len(alerts))
	for _, alert := range alerts {
		out = append(out, toAlertResponse(alert))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"alerts": out, "count": len(out)})
}

func (h *Handlers) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid alert id", nil)
		return
	}
	alert, err := h.Alerts.Acknowledge(r.Context(), alertID)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAlertResponse(alert))
}
