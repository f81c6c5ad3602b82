package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/monitor/internal/repos"
)

type fakeDashboardStore struct {
	stats repos.WindowStats
	from  time.Time
	to    time.Time
}

func (f *fakeDashboardStore) CollectWindow(_ context.Context, from, to time.Time, _ string, _ time.Time) (repos.WindowStats, error) {
	f.from, f.to = from, to
	return f.stats, nil
}

func emptyStats() repos.WindowStats {
	return repos.WindowStats{
		LastOccupied:   map[uuid.UUID]bool{},
		ReadingDevices: map[uuid.UUID]struct{}{},
		EventDevices:   map[uuid.UUID]struct{}{},
		HourlyCounts:   map[int]int{},
		EventsByDevice: map[uuid.UUID]int{},
		DeviceZone:     map[uuid.UUID]uuid.UUID{},
		DeviceCodes:    map[uuid.UUID]string{},
		ZoneCodes:      map[uuid.UUID]string{},
	}
}

func TestDayWindowBounds(t *testing.T) {
	agg := NewDashboardAggregator(&fakeDashboardStore{stats: emptyStats()}, testConfig())
	day := time.Date(2026, 8, 14, 15, 4, 5, 0, time.UTC)
	from, to := agg.DayWindow(day)
	if !from.Equal(time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("from = %v", from)
	}
	if !to.Equal(time.Date(2026, 8, 14, 23, 59, 59, 999999000, time.UTC)) {
		t.Fatalf("to = %v", to)
	}
}

func TestSummarizeOccupancyAndActivity(t *testing.T) {
	stats := emptyStats()
	zone := uuid.New()
	devA, devB, devC := uuid.New(), uuid.New(), uuid.New()
	stats.ZoneCodes[zone] = "Z1"
	for _, id := range []uuid.UUID{devA, devB, devC} {
		stats.DeviceZone[id] = zone
	}
	stats.DeviceCodes[devA] = "a"
	stats.DeviceCodes[devB] = "b"
	stats.DeviceCodes[devC] = "c"

	// A ended occupied, B ended free, C only sent readings.
	stats.TotalEvents = 5
	stats.LastOccupied[devA] = true
	stats.LastOccupied[devB] = false
	stats.EventDevices[devA] = struct{}{}
	stats.EventDevices[devB] = struct{}{}
	stats.ReadingDevices[devB] = struct{}{}
	stats.ReadingDevices[devC] = struct{}{}
	stats.AlertsTriggered = 2
	stats.HourlyCounts[9] = 3
	stats.HourlyCounts[14] = 2

	agg := NewDashboardAggregator(&fakeDashboardStore{stats: stats}, testConfig())
	summary, err := agg.Summarize(context.Background(), time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	if summary.Date != "2026-08-14" {
		t.Fatalf("date = %q", summary.Date)
	}
	if summary.TotalEvents != 5 || summary.AlertsTriggered != 2 {
		t.Fatalf("totals: %+v", summary)
	}
	if summary.CurrentOccupancyCount != 1 {
		t.Fatalf("current occupancy = %d, want 1", summary.CurrentOccupancyCount)
	}
	// Union of event devices {A,B} and reading devices {B,C}.
	if summary.ActiveDevicesCount != 3 {
		t.Fatalf("active devices = %d, want 3", summary.ActiveDevicesCount)
	}
	if len(summary.HourlyUsage) != 2 || summary.HourlyUsage[0].Hour != 9 || summary.HourlyUsage[1].Hour != 14 {
		t.Fatalf("hourly usage not ascending: %v", summary.HourlyUsage)
	}
	if len(summary.ZoneBreakdown) != 1 || summary.ZoneBreakdown[0].OccupiedNow != 1 || summary.ZoneBreakdown[0].TotalDevices != 3 {
		t.Fatalf("zone breakdown: %v", summary.ZoneBreakdown)
	}
	if summary.EfficiencyPct != nil || summary.TargetActualComparison != nil {
		t.Fatal("no targets must mean absent efficiency")
	}
}

func TestSummarizeEfficiencyCappedPerRow(t *testing.T) {
	stats := emptyStats()
	zone := uuid.New()
	device := uuid.New()
	stats.ZoneCodes[zone] = "Z1"
	stats.DeviceZone[device] = zone
	stats.DeviceCodes[device] = "dev-1"
	// Park and free-up events alike count toward the target.
	stats.EventsByDevice[device] = 12
	stats.LastOccupied[device] = true

	stats.Targets = []models.Target{
		{TargetID: uuid.New(), Scope: models.TargetScopeZone, ZoneID: &zone, TargetValue: 10},
	}

	agg := NewDashboardAggregator(&fakeDashboardStore{stats: stats}, testConfig())
	summary, err := agg.Summarize(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Efficiency) != 1 {
		t.Fatalf("efficiency rows: %v", summary.Efficiency)
	}
	// 12/10 = 120%, capped at 100 per row.
	if summary.Efficiency[0].EfficiencyPct != 100.0 {
		t.Fatalf("row pct = %v, want 100", summary.Efficiency[0].EfficiencyPct)
	}
	// The aggregate is not capped.
	if summary.EfficiencyPct == nil || *summary.EfficiencyPct != 120.0 {
		t.Fatalf("aggregate pct = %v, want 120", summary.EfficiencyPct)
	}
	if summary.TargetActualComparison == nil || summary.TargetActualComparison.Target != 10 || summary.TargetActualComparison.Actual != 12 {
		t.Fatalf("comparison: %+v", summary.TargetActualComparison)
	}
}

func TestSummarizeEfficiencyZeroTarget(t *testing.T) {
	stats := emptyStats()
	zone := uuid.New()
	stats.ZoneCodes[zone] = "Z1"
	stats.Targets = []models.Target{
		{TargetID: uuid.New(), Scope: models.TargetScopeZone, ZoneID: &zone, TargetValue: 0},
	}

	agg := NewDashboardAggregator(&fakeDashboardStore{stats: stats}, testConfig())
	summary, err := agg.Summarize(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Efficiency[0].EfficiencyPct != 0 {
		t.Fatalf("zero target must give 0%%, got %v", summary.Efficiency[0].EfficiencyPct)
	}
	if summary.EfficiencyPct == nil || *summary.EfficiencyPct != 0 {
		t.Fatalf("aggregate with zero total target must be 0, got %v", summary.EfficiencyPct)
	}
}

func TestSummarizeMixedScopesSorted(t *testing.T) {
	stats := emptyStats()
	zone := uuid.New()
	devA, devB := uuid.New(), uuid.New()
	stats.ZoneCodes[zone] = "Z1"
	stats.DeviceZone[devA] = zone
	stats.DeviceZone[devB] = zone
	stats.DeviceCodes[devA] = "a"
	stats.DeviceCodes[devB] = "b"
	stats.EventsByDevice[devA] = 2
	stats.EventsByDevice[devB] = 3

	stats.Targets = []models.Target{
		{TargetID: uuid.New(), Scope: models.TargetScopeDevice, DeviceID: &devB, TargetValue: 6},
		{TargetID: uuid.New(), Scope: models.TargetScopeDevice, DeviceID: &devA, TargetValue: 4},
		{TargetID: uuid.New(), Scope: models.TargetScopeZone, ZoneID: &zone, TargetValue: 10},
	}

	agg := NewDashboardAggregator(&fakeDashboardStore{stats: stats}, testConfig())
	summary, err := agg.Summarize(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Efficiency) != 3 {
		t.Fatalf("rows: %v", summary.Efficiency)
	}
	if summary.Efficiency[0].Scope != "zone" {
		t.Fatalf("zone rows first, got %v", summary.Efficiency)
	}
	if summary.Efficiency[1].DeviceCode != "a" || summary.Efficiency[2].DeviceCode != "b" {
		t.Fatalf("device rows sorted by code, got %v", summary.Efficiency)
	}
	// Zone actual is the sum over its devices: 5/10 = 50%.
	if summary.Efficiency[0].EfficiencyPct != 50.0 {
		t.Fatalf("zone pct = %v", summary.Efficiency[0].EfficiencyPct)
	}
}
