package monitoring

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/repos"
)

type fakeUsageStore struct {
	rows []repos.UsageRow
	from time.Time
	to   time.Time
}

func (f *fakeUsageStore) UsageRows(_ context.Context, from, to time.Time, _, _ *uuid.UUID) ([]repos.UsageRow, error) {
	f.from, f.to = from, to
	return f.rows, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestReportRangeDefaultsAndSwap(t *testing.T) {
	reporter := NewUsageReporter(&fakeUsageStore{}, testConfig())

	// Missing to defaults to from.
	from := date(2026, 8, 10)
	start, end := reporter.ReportRange(&from, nil)
	if !start.Equal(date(2026, 8, 10)) {
		t.Fatalf("start = %v", start)
	}
	if !end.Equal(date(2026, 8, 10).Add(24*time.Hour - time.Microsecond)) {
		t.Fatalf("end = %v", end)
	}

	// Reversed bounds swap.
	to := date(2026, 8, 5)
	start, end = reporter.ReportRange(&from, &to)
	if !start.Equal(date(2026, 8, 5)) || end.Before(start) {
		t.Fatalf("swap failed: %v .. %v", start, end)
	}

	// Missing both: today, one whole day.
	start, end = reporter.ReportRange(nil, nil)
	if end.Sub(start) != 24*time.Hour-time.Microsecond {
		t.Fatalf("default window = %v", end.Sub(start))
	}
}

func TestReportQueriesResolvedWindow(t *testing.T) {
	store := &fakeUsageStore{}
	reporter := NewUsageReporter(store, testConfig())

	from, to := date(2026, 8, 1), date(2026, 8, 3)
	if _, err := reporter.Report(context.Background(), &from, &to, nil, nil); err != nil {
		t.Fatal(err)
	}
	if !store.from.Equal(date(2026, 8, 1)) {
		t.Fatalf("query from = %v", store.from)
	}
	if !store.to.Equal(date(2026, 8, 3).Add(24*time.Hour - time.Microsecond)) {
		t.Fatalf("query to = %v", store.to)
	}
}

func TestWriteCSV(t *testing.T) {
	reporter := NewUsageReporter(&fakeUsageStore{}, testConfig())
	rows := []repos.UsageRow{
		{DeviceCode: "dev-1", ZoneCode: "Z1", FacilityName: "North Lot", IsOccupied: true, Timestamp: time.Date(2026, 8, 14, 9, 30, 0, 0, time.UTC)},
		{DeviceCode: "dev-2", ZoneCode: "Z2", FacilityName: "North Lot", IsOccupied: false, Timestamp: time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)},
	}

	var sb strings.Builder
	if err := reporter.WriteCSV(&sb, rows); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "date,device_code,zone_code,facility,is_occupied,timestamp" {
		t.Fatalf("header = %q", lines[0])
	}
	if lines[1] != "2026-08-14,dev-1,Z1,North Lot,true,2026-08-14T09:30:00Z" {
		t.Fatalf("row = %q", lines[1])
	}
	if lines[2] != "2026-08-14,dev-2,Z2,North Lot,false,2026-08-14T10:00:00Z" {
		t.Fatalf("row = %q", lines[2])
	}
}

func TestWriteCSVEmptyStillHasHeader(t *testing.T) {
	reporter := NewUsageReporter(&fakeUsageStore{}, testConfig())
	var sb strings.Builder
	if err := reporter.WriteCSV(&sb, nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(sb.String()) != "date,device_code,zone_code,facility,is_occupied,timestamp" {
		t.Fatalf("got %q", sb.String())
	}
}
