package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/monitor/internal/repos"
	"parking-lot-monitoring-system/shared/httpx"
)

type targetRequest struct {
	Scope       string   `json:"scope"`
	ZoneID      *string  `json:"zone_id"`
	DeviceID    *string  `json:"device_id"`
	Date        string   `json:"date"`
	TargetValue *float64 `json:"target_value"`
}

type targetResponse struct {
	TargetID    string    `json:"target_id"`
	Scope       string    `json:"scope"`
	ZoneID      *string   `json:"zone_id"`
	DeviceID    *string   `json:"device_id"`
	Date        string    `json:"date"`
	TargetValue float64   `json:"target_value"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toTargetResponse(target models.Target) targetResponse {
	resp := targetResponse{
		TargetID:    target.TargetID.String(),
		Scope:       string(target.Scope),
		Date:        target.Date.Format("2006-01-02"),
		TargetValue: target.TargetValue,
		UpdatedAt:   target.UpdatedAt,
	}
	if target.ZoneID != nil {
		id := target.ZoneID.String()
		resp.ZoneID = &id
	}
	if target.DeviceID != nil {
		id := target.DeviceID.String()
		resp.DeviceID = &id
	}
	return resp
}

func (h *Handlers) upsertTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body", nil)
		return
	}
	if req.TargetValue == nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "target_value is required", nil)
		return
	}
	date, ok := parseDate(req.Date)
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "date must be YYYY-MM-DD", nil)
		return
	}

	target := models.Target{
		Scope:       models.TargetScope(req.Scope),
		Date:        date,
		TargetValue: *req.TargetValue,
	}
	if req.ZoneID != nil {
		zoneID, err := uuid.Parse(*req.ZoneID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid zone_id", nil)
			return
		}
		target.ZoneID = &zoneID
	}
	if req.DeviceID != nil {
		deviceID, err := uuid.Parse(*req.DeviceID)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid device_id", nil)
			return
		}
		target.DeviceID = &deviceID
	}

	if err := target.Validate(); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	stored, created, err := h.Targets.Upsert(r.Context(), target)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, toTargetResponse(stored))
}

func (h *Handlers) patchTarget(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid target id", nil)
		return
	}
	var req struct {
		TargetValue *float64 `json:"target_value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetValue == nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "target_value is required", nil)
		return
	}
	if *req.TargetValue < 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "target_value must be non-negative", nil)
		return
	}

	target, err := h.Targets.UpdateValue(r.Context(), targetID, *req.TargetValue)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "target not found", nil)
			return
		}
		writeCoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTargetResponse(target))
}

func (h *Handlers) listTargets(w http.ResponseWriter, r *http.Request) {
	var filter repos.TargetFilter
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, ok := parseDate(raw)
		if !ok {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "date must be YYYY-MM-DD", nil)
			return
		}
		filter.Date = &date
	}
	if raw := r.URL.Query().Get("zone_id"); raw != "" {
		zoneID, err := uuid.Parse(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid zone_id", nil)
			return
		}
		filter.ZoneID = &zoneID
	}
	if raw := r.URL.Query().Get("device_id"); raw != "" {
		deviceID, err := uuid.Parse(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid device_id", nil)
			return
		}
		filter.DeviceID = &deviceID
	}

	targets, err := h.Targets.List(r.Context(), filter, 200)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	out := make([]targetResponse, 0, len(targets))
	for _, target := range targets {
		out = append(out, toTargetResponse(target))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"targets": out, "count": len(out)})
}
