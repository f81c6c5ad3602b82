package httpapi

import (
	"net/http"
	"time"

	"parking-lot-monitoring-system/shared/httpx"
)

func (h *Handlers) usageReport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if format := query.Get("format"); format != "" && format != "csv" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "only csv format is supported", nil)
		return
	}

	var dateFrom, dateTo *time.Time
	if raw := query.Get("date_from"); raw != "" {
		parsed, ok := parseDate(raw)
		if !ok {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "date_from must be YYYY-MM-DD", nil)
			return
		}
		dateFrom = &parsed
	}
	if raw := query.Get("date_to"); raw != "" {
		parsed, ok := parseDate(raw)
		if !ok {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "date_to must be YYYY-MM-DD", nil)
			return
		}
		dateTo = &parsed
	}

	facilityID, ok := parseOptionalUUID(query.Get("facility"))
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "facility must be a UUID", nil)
		return
	}
	zoneID, ok := parseOptionalUUID(query.Get("zone"))
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "zone must be a UUID", nil)
		return
	}

	rows, err := h.Reporter.Report(r.Context(), dateFrom, dateTo, facilityID, zoneID)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="usage_report.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := h.Reporter.WriteCSV(w, rows); err != nil {
		h.Log.Error(r.Context(), "report.write_failed", "usage report write failed")
	}
}
