package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/monitor/internal/monitoring"
	"parking-lot-monitoring-system/shared/httpx"
)

type telemetryRequest struct {
	DeviceCode  string  `json:"device_code"`
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	PowerFactor float64 `json:"power_factor"`
	Timestamp   string  `json:"timestamp"`
}

func (req telemetryRequest) input() (monitoring.ReadingInput, bool) {
	ts, ok := parseTimestamp(req.Timestamp)
	return monitoring.ReadingInput{
		DeviceCode:  req.DeviceCode,
		Voltage:     req.Voltage,
		Current:     req.Current,
		PowerFactor: req.PowerFactor,
		Timestamp:   ts,
	}, ok || req.Timestamp == ""
}

type readingResponse struct {
	ReadingID   string    `json:"reading_id"`
	DeviceID    string    `json:"device_id"`
	Voltage     float64   `json:"voltage"`
	Current     float64   `json:"current"`
	PowerFactor float64   `json:"power_factor"`
	Timestamp   time.Time `json:"timestamp"`
}

func toReadingResponse(reading models.Reading) readingResponse {
	return readingResponse{
		ReadingID:   reading.ReadingID.String(),
		DeviceID:    reading.DeviceID.String(),
		Voltage:     reading.Voltage,
		Current:     reading.Current,
		PowerFactor: reading.PowerFactor,
		Timestamp:   reading.Timestamp,
	}
}

func (h *Handlers) postTelemetry(w http.ResponseWriter, r *http.Request) {
	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body", nil)
		return
	}
	input, ok := req.input()
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid timestamp format", nil)
		return
	}

	reading, err := h.Telemetry.IngestReading(r.Context(), input)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toReadingResponse(reading))
}

type bulkTelemetryRequest struct {
	Items []telemetryRequest `json:"items"`
}

func (h *Handlers) postTelemetryBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkTelemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body", nil)
		return
	}

	items := make([]monitoring.ReadingInput, len(req.Items))
	for i, item := range req.Items {
		// An unparseable timestamp stays zero and fails that item's own
		// validation instead of the whole batch.
		input, _ := item.input()
		items[i] = input
	}

	result, err := h.Telemetry.IngestBulk(r.Context(), items)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, result)
}

type parkingLogRequest struct {
	DeviceCode string `json:"device_code"`
	IsOccupied *bool  `json:"is_occupied"`
	Timestamp  string `json:"timestamp"`
}

func (h *Handlers) postParkingLog(w http.ResponseWriter, r *http.Request) {
	var req parkingLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body", nil)
		return
	}
	if req.IsOccupied == nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "is_occupied is required", nil)
		return
	}
	ts, ok := parseTimestamp(req.Timestamp)
	if !ok && req.Timestamp != "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid timestamp format", nil)
		return
	}

	event, err := h.Occupancy.IngestEvent(r.Context(), monitoring.OccupancyInput{
		DeviceCode: req.DeviceCode,
		IsOccupied: *req.IsOccupied,
		Timestamp:  ts,
	})
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"event_id":    event.EventID.String(),
		"device_id":   event.DeviceID.String(),
		"is_occupied": event.IsOccupied,
		"timestamp":   event.Timestamp,
	})
}
