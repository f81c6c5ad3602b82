package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/shared/httpx"
)

type facilityRequest struct {
	Name    string  `json:"name"`
	Code    *string `json:"code"`
	Address string  `json:"address"`
}

type facilityResponse struct {
	FacilityID string  `json:"facility_id"`
	Name       string  `json:"name"`
	Code       *string `json:"code,omitempty"`
	Address    string  `json:"address,omitempty"`
}

func (h *Handlers) createFacility(w http.ResponseWriter, r *http.Request) {
	var req facilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body", nil)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "name is required", nil)
		return
	}
	facility, err := h.Devices.CreateFacility(r.Context(), req.Name, req.Code, strings.TrimSpace(req.Address))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, facilityResponse{
		FacilityID: facility.FacilityID.String(),
		Name:       facility.Name,
		Code:       facility.Code,
		Address:    facility.Address,
	})
}

type zoneRequest struct {
	FacilityID string `json:"facility_id"`
	Name       string `json:"name"`
	Code       string `json:"code"`
}

type zoneResponse struct {
	ZoneID     string `json:"zone_id"`
	FacilityID string `json:"facility_id"`
	Name       string `json:"name"`
	Code       string `json:"code"`
}

func (h *Handlers) createZone(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body", nil)
		return
	}
	facilityID, err := uuid.Parse(req.FacilityID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "facility_id must be a UUID", nil)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Code = strings.TrimSpace(req.Code)
	if req.Name == "" || req.Code == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "name and code are required", nil)
		return
	}
	zone, err := h.Devices.CreateZone(r.Context(), facilityID, req.Name, req.Code)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toZoneResponse(zone))
}

func toZoneResponse(zone models.Zone) zoneResponse {
	return zoneResponse{
		ZoneID:     zone.ZoneID.String(),
		FacilityID: zone.FacilityID.String(),
		Name:       zone.Name,
		Code:       zone.Code,
	}
}

type deviceRequest struct {
	ZoneID string `json:"zone_id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
}

type deviceResponse struct {
	DeviceID string `json:"device_id"`
	ZoneID   string `json:"zone_id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
}

func (h *Handlers) createDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body", nil)
		return
	}
	zoneID, err := uuid.Parse(req.ZoneID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "zone_id must be a UUID", nil)
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "code is required", nil)
		return
	}
	device, err := h.Devices.CreateDevice(r.Context(), zoneID, req.Code, strings.TrimSpace(req.Name))
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, deviceResponse{
		DeviceID: device.DeviceID.String(),
		ZoneID:   device.ZoneID.String(),
		Code:     device.Code,
		Name:     device.Name,
	})
}
