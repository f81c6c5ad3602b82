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

type TargetsRepo struct {
	pool *pgxpool.Pool
}

func NewTargetsRepo(pool *pgxpool.Pool) *TargetsRepo {
	return &TargetsRepo{pool: pool}
}

// Upsert creates the target or, when one already exists for the same
// scope and date, updates its target_value. The partial unique indexes
// on (zone_id, date) and (device_id, date) back the conflict clause.
func (r *TargetsRepo) Upsert(ctx context.Context, target models.Target) (models.Target, bool, error) {
	if err := target.Validate(); err != nil {
		return models.Target{}, false, err
	}
	if target.TargetID == uuid.Nil {
		target.TargetID = uuid.New()
	}
	now := time.Now().UTC()
	if target.CreatedAt.IsZero() {
		target.CreatedAt = now
	}
	target.UpdatedAt = now

	conflict := `ON CONFLICT (zone_id, date) WHERE zone_id IS NOT NULL`
	if target.Scope == models.TargetScopeDevice {
		conflict = `ON CONFLICT (device_id, date) WHERE device_id IS NOT NULL`
	}
	var created bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO targets (target_id, scope, zone_id, device_id, date, target_value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		`+conflict+` DO UPDATE SET target_value = EXCLUDED.target_value, updated_at = EXCLUDED.updated_at
		RETURNING target_id, scope, zone_id, device_id, date, target_value, created_at, updated_at,
			(created_at = updated_at)
	`, target.TargetID, target.Scope, target.ZoneID, target.DeviceID, target.Date, target.TargetValue, now).
		Scan(&target.TargetID, &target.Scope, &target.ZoneID, &target.DeviceID, &target.Date, &target.TargetValue,
			&target.CreatedAt, &target.UpdatedAt, &created)
	return target, created, err
}

// UpdateValue changes target_value for an existing target.
func (r *TargetsRepo) UpdateValue(ctx context.Context, targetID uuid.UUID, value float64) (models.Target, error) {
	var target models.Target
	err := r.pool.QueryRow(ctx, `
		UPDATE targets
		SET target_value = $2, updated_at = now()
		WHERE target_id = $1
		RETURNING target_id, scope, zone_id, device_id, date, target_value, created_at, updated_at
	`, targetID, value).
		Scan(&target.TargetID, &target.Scope, &target.ZoneID, &target.DeviceID, &target.Date, &target.TargetValue, &target.CreatedAt, &target.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Target{}, ErrNotFound
	}
	return target, err
}

// TargetFilter narrows List. Nil fields mean no filtering.
type TargetFilter struct {
	Date     *time.Time
	ZoneID   *uuid.UUID
	DeviceID *uuid.UUID
}

func (r *TargetsRepo) List(ctx context.Context, filter TargetFilter, limit int) ([]models.Target, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT target_id, scope, zone_id, device_id, date, target_value, created_at, updated_at
		FROM targets
		WHERE ($1::date IS NULL OR date = $1)
			AND ($2::uuid IS NULL OR zone_id = $2)
			AND ($3::uuid IS NULL OR device_id = $3)
		ORDER BY date DESC, created_at DESC
		LIMIT $4
	`, filter.Date, filter.ZoneID, filter.DeviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []models.Target
	for rows.Next() {
		var t models.Target
		if err := rows.Scan(&t.TargetID, &t.Scope, &t.ZoneID, &t.DeviceID, &t.Date, &t.TargetValue, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}
