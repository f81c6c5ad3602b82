package monitoring

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/repos"
	"parking-lot-monitoring-system/shared/config"
)

// UsageStore lists occupancy events joined with their device labels.
type UsageStore interface {
	UsageRows(ctx context.Context, from, to time.Time, facilityID, zoneID *uuid.UUID) ([]repos.UsageRow, error)
}

// UsageReporter produces the occupancy usage export.
type UsageReporter struct {
	store UsageStore
	cfg   config.Config
}

func NewUsageReporter(store UsageStore, cfg config.Config) *UsageReporter {
	return &UsageReporter{store: store, cfg: cfg}
}

// ReportRange resolves the requested dates: a missing from defaults to
// today, a missing to defaults to from, and reversed bounds swap. Both
// bounds are inclusive whole days in the configured time zone.
func (r *UsageReporter) ReportRange(dateFrom, dateTo *time.Time) (time.Time, time.Time) {
	loc := r.cfg.Location()
	today := time.Now().In(loc)

	from := today
	if dateFrom != nil {
		from = *dateFrom
	}
	to := from
	if dateTo != nil {
		to = *dateTo
	}
	if to.Before(from) {
		from, to = to, from
	}

	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc).Add(24*time.Hour - time.Microsecond)
	return start, end
}

// Report lists the events in the resolved range, timestamp ascending.
func (r *UsageReporter) Report(ctx context.Context, dateFrom, dateTo *time.Time, facilityID, zoneID *uuid.UUID) ([]repos.UsageRow, error) {
	from, to := r.ReportRange(dateFrom, dateTo)
	return r.store.UsageRows(ctx, from, to, facilityID, zoneID)
}

// WriteCSV encodes rows with the stable export header. Dates and
// timestamps are rendered in the configured time zone.
func (r *UsageReporter) WriteCSV(w io.Writer, rows []repos.UsageRow) error {
	loc := r.cfg.Location()
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "device_code", "zone_code", "facility", "is_occupied", "timestamp"}); err != nil {
		return err
	}
	for _, row := range rows {
		ts := row.Timestamp.In(loc)
		record := []string{
			ts.Format("2006-01-02"),
			row.DeviceCode,
			row.ZoneCode,
			row.FacilityName,
			strconv.FormatBool(row.IsOccupied),
			ts.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
