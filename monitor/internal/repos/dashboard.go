package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parking-lot-monitoring-system/monitor/internal/models"
)

// WindowStats holds the raw aggregates for one dashboard day window.
// Everything here comes out of a single repeatable-read read-only
// transaction, so the numbers describe one consistent instant even
// while ingestion keeps writing.
type WindowStats struct {
	TotalEvents     int
	LastOccupied    map[uuid.UUID]bool
	ReadingDevices  map[uuid.UUID]struct{}
	EventDevices    map[uuid.UUID]struct{}
	AlertsTriggered int
	HourlyCounts    map[int]int
	EventsByDevice  map[uuid.UUID]int
	DeviceZone      map[uuid.UUID]uuid.UUID
	DeviceCodes     map[uuid.UUID]string
	ZoneCodes       map[uuid.UUID]string
	Targets         []models.Target
}

type DashboardRepo struct {
	pool *pgxpool.Pool
}

func NewDashboardRepo(pool *pgxpool.Pool) *DashboardRepo {
	return &DashboardRepo{pool: pool}
}

// CollectWindow gathers every raw aggregate for [from, to]. tzName is
// the IANA zone used for hour bucketing. day is the target date for
// target rows.
func (r *DashboardRepo) CollectWindow(ctx context.Context, from, to time.Time, tzName string, day time.Time) (WindowStats, error) {
	stats := WindowStats{
		LastOccupied:   map[uuid.UUID]bool{},
		ReadingDevices: map[uuid.UUID]struct{}{},
		EventDevices:   map[uuid.UUID]struct{}{},
		HourlyCounts:   map[int]int{},
		EventsByDevice: map[uuid.UUID]int{},
		DeviceZone:     map[uuid.UUID]uuid.UUID{},
		DeviceCodes:    map[uuid.UUID]string{},
		ZoneCodes:      map[uuid.UUID]string{},
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return WindowStats{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		SELECT count(1) FROM occupancy_events WHERE ts >= $1 AND ts <= $2
	`, from, to).Scan(&stats.TotalEvents)
	if err != nil {
		return WindowStats{}, err
	}

	// Latest event per device; seq breaks timestamp ties so the most
	// recently inserted event wins deterministically.
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT ON (device_id) device_id, is_occupied
		FROM occupancy_events
		WHERE ts >= $1 AND ts <= $2
		ORDER BY device_id, ts DESC, seq DESC
	`, from, to)
	if err != nil {
		return WindowStats{}, err
	}
	for rows.Next() {
		var id uuid.UUID
		var occupied bool
		if err := rows.Scan(&id, &occupied); err != nil {
			rows.Close()
			return WindowStats{}, err
		}
		stats.LastOccupied[id] = occupied
		stats.EventDevices[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return WindowStats{}, err
	}

	rows, err = tx.Query(ctx, `
		SELECT DISTINCT device_id FROM readings WHERE ts >= $1 AND ts <= $2
	`, from, to)
	if err != nil {
		return WindowStats{}, err
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return WindowStats{}, err
		}
		stats.ReadingDevices[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return WindowStats{}, err
	}

	err = tx.QueryRow(ctx, `
		SELECT count(1) FROM alerts WHERE created_at >= $1 AND created_at <= $2
	`, from, to).Scan(&stats.AlertsTriggered)
	if err != nil {
		return WindowStats{}, err
	}

	rows, err = tx.Query(ctx, `
		SELECT date_part('hour', ts AT TIME ZONE $3)::int AS hour, count(1)
		FROM occupancy_events
		WHERE ts >= $1 AND ts <= $2
		GROUP BY hour
	`, from, to, tzName)
	if err != nil {
		return WindowStats{}, err
	}
	for rows.Next() {
		var hour, count int
		if err := rows.Scan(&hour, &count); err != nil {
			rows.Close()
			return WindowStats{}, err
		}
		stats.HourlyCounts[hour] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return WindowStats{}, err
	}

	// Every event counts toward target efficiency, occupied or not:
	// targets measure expected daily usage, not occupancy level.
	rows, err = tx.Query(ctx, `
		SELECT device_id, count(1)
		FROM occupancy_events
		WHERE ts >= $1 AND ts <= $2
		GROUP BY device_id
	`, from, to)
	if err != nil {
		return WindowStats{}, err
	}
	for rows.Next() {
		var id uuid.UUID
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			rows.Close()
			return WindowStats{}, err
		}
		stats.EventsByDevice[id] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return WindowStats{}, err
	}

	rows, err = tx.Query(ctx, `
		SELECT d.device_id, d.code, d.zone_id, z.code
		FROM devices d
		JOIN zones z ON z.zone_id = d.zone_id
	`)
	if err != nil {
		return WindowStats{}, err
	}
	for rows.Next() {
		var deviceID, zoneID uuid.UUID
		var deviceCode, zoneCode string
		if err := rows.Scan(&deviceID, &deviceCode, &zoneID, &zoneCode); err != nil {
			rows.Close()
			return WindowStats{}, err
		}
		stats.DeviceZone[deviceID] = zoneID
		stats.DeviceCodes[deviceID] = deviceCode
		stats.ZoneCodes[zoneID] = zoneCode
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return WindowStats{}, err
	}

	rows, err = tx.Query(ctx, `
		SELECT target_id, scope, zone_id, device_id, date, target_value, created_at, updated_at
		FROM targets
		WHERE date = $1
	`, day)
	if err != nil {
		return WindowStats{}, err
	}
	for rows.Next() {
		var t models.Target
		if err := rows.Scan(&t.TargetID, &t.Scope, &t.ZoneID, &t.DeviceID, &t.Date, &t.TargetValue, &t.CreatedAt, &t.UpdatedAt); err != nil {
			rows.Close()
			return WindowStats{}, err
		}
		stats.Targets = append(stats.Targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return WindowStats{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return WindowStats{}, err
	}
	return stats, nil
}
