package monitoring

import (
	"context"
	"math"
	"sort"
	"time"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/monitor/internal/repos"
	"parking-lot-monitoring-system/shared/config"
)

// DashboardStore supplies the raw window aggregates. The repo gathers
// them in one consistent transaction.
type DashboardStore interface {
	CollectWindow(ctx context.Context, from, to time.Time, tzName string, day time.Time) (repos.WindowStats, error)
}

type DashboardAggregator struct {
	store DashboardStore
	cfg   config.Config
}

func NewDashboardAggregator(store DashboardStore, cfg config.Config) *DashboardAggregator {
	return &DashboardAggregator{store: store, cfg: cfg}
}

type HourlyUsage struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type ZoneOccupancy struct {
	ZoneCode     string `json:"zone_code"`
	OccupiedNow  int    `json:"occupied_now"`
	TotalDevices int    `json:"total_devices"`
}

type EfficiencyRow struct {
	Scope         string  `json:"scope"`
	ZoneCode      string  `json:"zone_code,omitempty"`
	DeviceCode    string  `json:"device_code,omitempty"`
	TargetValue   float64 `json:"target_value"`
	Actual        float64 `json:"actual"`
	EfficiencyPct float64 `json:"efficiency_pct"`
}

type TargetActual struct {
	Target float64 `json:"target"`
	Actual float64 `json:"actual"`
}

// Summary is the dashboard payload for one day window.
type Summary struct {
	Date                   string          `json:"date"`
	TotalEvents            int             `json:"total_events"`
	CurrentOccupancyCount  int             `json:"current_occupancy_count"`
	ActiveDevicesCount     int             `json:"active_devices_count"`
	AlertsTriggered        int             `json:"alerts_triggered"`
	HourlyUsage            []HourlyUsage   `json:"hourly_usage"`
	ZoneBreakdown          []ZoneOccupancy `json:"zone_breakdown"`
	Efficiency             []EfficiencyRow `json:"efficiency"`
	EfficiencyPct          *float64        `json:"efficiency_pct"`
	TargetActualComparison *TargetActual   `json:"target_actual_comparison"`
}

// DayWindow returns the inclusive bounds of the day in the configured
// time zone: [00:00:00, 23:59:59.999999].
func (a *DashboardAggregator) DayWindow(day time.Time) (time.Time, time.Time) {
	loc := a.cfg.Location()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	to := from.Add(24*time.Hour - time.Microsecond)
	return from, to
}

// Summarize aggregates the day's activity. All raw numbers come from
// one snapshot, so no mid-computation drift is possible; everything
// derived here is pure arithmetic over that snapshot.
func (a *DashboardAggregator) Summarize(ctx context.Context, day time.Time) (Summary, error) {
	from, to := a.DayWindow(day)
	dayKey := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	stats, err := a.store.CollectWindow(ctx, from, to, a.cfg.Timezone, dayKey)
	if err != nil {
		return Summary{}, err
	}
	return a.derive(from, stats), nil
}

func (a *DashboardAggregator) derive(from time.Time, stats repos.WindowStats) Summary {
	summary := Summary{
		Date:            from.Format("2006-01-02"),
		TotalEvents:     stats.TotalEvents,
		AlertsTriggered: stats.AlertsTriggered,
		HourlyUsage:     []HourlyUsage{},
		ZoneBreakdown:   []ZoneOccupancy{},
		Efficiency:      []EfficiencyRow{},
	}

	for _, occupied := range stats.LastOccupied {
		if occupied {
			summary.CurrentOccupancyCount++
		}
	}

	active := map[string]struct{}{}
	for id := range stats.ReadingDevices {
		active[id.String()] = struct{}{}
	}
	for id := range stats.EventDevices {
		active[id.String()] = struct{}{}
	}
	summary.ActiveDevicesCount = len(active)

	hours := make([]int, 0, len(stats.HourlyCounts))
	for hour := range stats.HourlyCounts {
		hours = append(hours, hour)
	}
	sort.Ints(hours)
	for _, hour := range hours {
		summary.HourlyUsage = append(summary.HourlyUsage, HourlyUsage{Hour: hour, Count: stats.HourlyCounts[hour]})
	}

	summary.ZoneBreakdown = zoneBreakdown(stats)
	summary.Efficiency, summary.EfficiencyPct, summary.TargetActualComparison = efficiency(stats)
	return summary
}

func zoneBreakdown(stats repos.WindowStats) []ZoneOccupancy {
	type zoneAgg struct {
		occupied int
		devices  int
	}
	perZone := map[string]*zoneAgg{}
	for deviceID, zoneID := range stats.DeviceZone {
		code := stats.ZoneCodes[zoneID]
		agg := perZone[code]
		if agg == nil {
			agg = &zoneAgg{}
			perZone[code] = agg
		}
		agg.devices++
		if stats.LastOccupied[deviceID] {
			agg.occupied++
		}
	}

	codes := make([]string, 0, len(perZone))
	for code := range perZone {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	out := make([]ZoneOccupancy, 0, len(codes))
	for _, code := range codes {
		out = append(out, ZoneOccupancy{ZoneCode: code, OccupiedNow: perZone[code].occupied, TotalDevices: perZone[code].devices})
	}
	return out
}

func efficiency(stats repos.WindowStats) ([]EfficiencyRow, *float64, *TargetActual) {
	rows := make([]EfficiencyRow, 0, len(stats.Targets))
	if len(stats.Targets) == 0 {
		return rows, nil, nil
	}

	eventsByZone := map[string]float64{}
	for deviceID, count := range stats.EventsByDevice {
		if zoneID, ok := stats.DeviceZone[deviceID]; ok {
			eventsByZone[zoneID.String()] += float64(count)
		}
	}

	var totalTarget, totalActual float64
	for _, target := range stats.Targets {
		row := EfficiencyRow{Scope: string(target.Scope), TargetValue: target.TargetValue}
		switch target.Scope {
		case models.TargetScopeZone:
			row.ZoneCode = stats.ZoneCodes[*target.ZoneID]
			row.Actual = eventsByZone[target.ZoneID.String()]
		case models.TargetScopeDevice:
			row.DeviceCode = stats.DeviceCodes[*target.DeviceID]
			row.Actual = float64(stats.EventsByDevice[*target.DeviceID])
		}
		if target.TargetValue > 0 {
			row.EfficiencyPct = round1(math.Min(100, row.Actual/target.TargetValue*100))
		}
		totalTarget += target.TargetValue
		totalActual += row.Actual
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Scope != rows[j].Scope {
			return rows[i].Scope > rows[j].Scope // zone before device
		}
		if rows[i].ZoneCode != rows[j].ZoneCode {
			return rows[i].ZoneCode < rows[j].ZoneCode
		}
		return rows[i].DeviceCode < rows[j].DeviceCode
	})

	var pct float64
	if totalTarget > 0 {
		pct = round1(totalActual / totalTarget * 100)
	}
	return rows, &pct, &TargetActual{Target: totalTarget, Actual: totalActual}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
