package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parking-lot-monitoring-system/monitor/internal/models"
)

type ReadingsRepo struct {
	pool *pgxpool.Pool
}

func NewReadingsRepo(pool *pgxpool.Pool) *ReadingsRepo {
	return &ReadingsRepo{pool: pool}
}

// Insert stores a reading unless one already exists for the same
// (device_id, ts). The UNIQUE constraint arbitrates concurrent inserts;
// created=false means the slot was already taken and nothing changed.
func (r *ReadingsRepo) Insert(ctx context.Context, reading models.Reading) (models.Reading, bool, error) {
	return insertReading(ctx, r.pool, reading)
}

// InsertBatch stores the given readings in one transaction. The caller
// is expected to have deduplicated the batch; a mid-batch conflict
// still aborts nothing because each insert is ON CONFLICT DO NOTHING.
func (r *ReadingsRepo) InsertBatch(ctx context.Context, readings []models.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created := 0
	for _, reading := range readings {
		_, ok, err := insertReading(ctx, tx, reading)
		if err != nil {
			return 0, err
		}
		if ok {
			created++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return created, nil
}

func insertReading(ctx context.Context, db DBTX, reading models.Reading) (models.Reading, bool, error) {
	if reading.ReadingID == uuid.Nil {
		reading.ReadingID = uuid.New()
	}
	if reading.CreatedAt.IsZero() {
		reading.CreatedAt = time.Now().UTC()
	}
	err := db.QueryRow(ctx, `
		INSERT INTO readings (reading_id, device_id, voltage, current, power_factor, ts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id, ts) DO NOTHING
		RETURNING reading_id, device_id, voltage, current, power_factor, ts, created_at
	`, reading.ReadingID, reading.DeviceID, reading.Voltage, reading.Current, reading.PowerFactor, reading.Timestamp, reading.CreatedAt).
		Scan(&reading.ReadingID, &reading.DeviceID, &reading.Voltage, &reading.Current, &reading.PowerFactor, &reading.Timestamp, &reading.CreatedAt)
	if err == nil {
		return reading, true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Reading{}, false, nil
	}
	return models.Reading{}, false, err
}

// Exists reports whether a reading is already stored for the pair.
func (r *ReadingsRepo) Exists(ctx context.Context, deviceID uuid.UUID, ts time.Time) (bool, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(1) FROM readings WHERE device_id = $1 AND ts = $2
	`, deviceID, ts).Scan(&n)
	return n > 0, err
}

// LastTimestamp returns the newest reading timestamp for the device,
// or nil when the device has never reported.
func (r *ReadingsRepo) LastTimestamp(ctx context.Context, deviceID uuid.UUID) (*time.Time, error) {
	var ts *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT max(ts) FROM readings WHERE device_id = $1
	`, deviceID).Scan(&ts)
	return ts, err
}

// LastTimestamps returns the newest reading timestamp per device in a
// single scan. Devices with no readings are absent from the map.
func (r *ReadingsRepo) LastTimestamps(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT device_id, max(ts) FROM readings GROUP BY device_id
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
