package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"parking-lot-monitoring-system/monitor/internal/models"
)

type OccupancyRepo struct {
	pool *pgxpool.Pool
}

func NewOccupancyRepo(pool *pgxpool.Pool) *OccupancyRepo {
	return &OccupancyRepo{pool: pool}
}

func (r *OccupancyRepo) Insert(ctx context.Context, event models.OccupancyEvent) (models.OccupancyEvent, error) {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO occupancy_events (event_id, device_id, is_occupied, ts, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING event_id, seq, device_id, is_occupied, ts, created_at
	`, event.EventID, event.DeviceID, event.IsOccupied, event.Timestamp, event.CreatedAt).
		Scan(&event.EventID, &event.Seq, &event.DeviceID, &event.IsOccupied, &event.Timestamp, &event.CreatedAt)
	return event, err
}

// LastEventTimestamps returns the newest occupancy event timestamp
// per device in a single scan. Devices with no events are absent from
// the map.
func (r *OccupancyRepo) LastEventTimestamps(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT device_id, max(ts) FROM occupancy_events GROUP BY device_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]time.Time)
	for rows.Next() {
		var id uuid.UUID
		var ts time.Time
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		out[id] = ts
	}
	return out, rows.Err()
}

// UsageRow is one occupancy event joined with its device hierarchy,
// as emitted by the usage report.
type UsageRow struct {
	DeviceCode   string
	ZoneCode     string
	FacilityName string
	IsOccupied   bool
	Timestamp    time.Time
}

// UsageRows lists occupancy events inside [from, to] joined with zone
// and facility labels, ordered by event timestamp ascending. Facility
// and zone filters are optional.
func (r *OccupancyRepo) UsageRows(ctx context.Context, from, to time.Time, facilityID, zoneID *uuid.UUID) ([]UsageRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.code, z.code, f.name, e.is_occupied, e.ts
		FROM occupancy_events e
		JOIN devices d ON d.device_id = e.device_id
		JOIN zones z ON z.zone_id = d.zone_id
		JOIN facilities f ON f.facility_id = z.facility_id
		WHERE e.ts >= $1 AND e.ts <= $2
			AND ($3::uuid IS NULL OR f.facility_id = $3)
			AND ($4::uuid IS NULL OR z.zone_id = $4)
		ORDER BY e.ts ASC
	`, from, to, facilityID, zoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageRow
	for rows.Next() {
		var row UsageRow
		if err := rows.Scan(&row.DeviceCode, &row.ZoneCode, &row.FacilityName, &row.IsOccupied, &row.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
