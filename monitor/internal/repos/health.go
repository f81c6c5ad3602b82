package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"parking-lot-monitoring-system/monitor/internal/models"
)

type HealthRepo struct {
	pool *pgxpool.Pool
}

func NewHealthRepo(pool *pgxpool.Pool) *HealthRepo {
	return &HealthRepo{pool: pool}
}

func (r *HealthRepo) InsertSnapshot(ctx context.Context, snapshot models.HealthSnapshot) (models.HealthSnapshot, error) {
	if snapshot.SnapshotID == uuid.Nil {
		snapshot.SnapshotID = uuid.New()
	}
	if snapshot.CalculatedAt.IsZero() {
		snapshot.CalculatedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO health_snapshots (snapshot_id, device_id, score, calculated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING snapshot_id, device_id, score, calculated_at
	`, snapshot.SnapshotID, snapshot.DeviceID, snapshot.Score, snapshot.CalculatedAt).
		Scan(&snapshot.SnapshotID, &snapshot.DeviceID, &snapshot.Score, &snapshot.CalculatedAt)
	return snapshot, err
}
