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

type AlertsRepo struct {
	pool   *pgxpool.Pool
	outbox *OutboxRepo
}

func NewAlertsRepo(pool *pgxpool.Pool, outbox *OutboxRepo) *AlertsRepo {
	return &AlertsRepo{pool: pool, outbox: outbox}
}

// OpenOrSkip opens an alert unless one of the same type is already
// open for the device. The partial unique index on (device_id,
// alert_type) WHERE acknowledged_at IS NULL arbitrates concurrent
// opens, so there is never a read-then-insert window. When the alert
// is created and makeOutbox is non-nil, the outbox row it builds is
// written in the same transaction.
func (r *AlertsRepo) OpenOrSkip(ctx context.Context, alert models.Alert, makeOutbox func(models.Alert) (models.OutboxEvent, error)) (models.Alert, bool, error) {
	if alert.AlertID == uuid.Nil {
		alert.AlertID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Alert{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO alerts (alert_id, device_id, severity, alert_type, message, created_at, acknowledged_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
		ON CONFLICT (device_id, alert_type) WHERE acknowledged_at IS NULL DO NOTHING
		RETURNING alert_id, device_id, severity, alert_type, message, created_at, acknowledged_at
	`, alert.AlertID, alert.DeviceID, alert.Severity, alert.AlertType, alert.Message, alert.CreatedAt).
		Scan(&alert.AlertID, &alert.DeviceID, &alert.Severity, &alert.AlertType, &alert.Message, &alert.CreatedAt, &alert.AcknowledgedAt)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Alert{}, false, err
		}
		var existing models.Alert
		err = tx.QueryRow(ctx, `
			SELECT alert_id, device_id, severity, alert_type, message, created_at, acknowledged_at
			FROM alerts
			WHERE device_id = $1 AND alert_type = $2 AND acknowledged_at IS NULL
		`, alert.DeviceID, alert.AlertType).
			Scan(&existing.AlertID, &existing.DeviceID, &existing.Severity, &existing.AlertType, &existing.Message, &existing.CreatedAt, &existing.AcknowledgedAt)
		if err != nil {
			return models.Alert{}, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return models.Alert{}, false, err
		}
		return existing, false, nil
	}

	if makeOutbox != nil {
		event, err := makeOutbox(alert)
		if err != nil {
			return models.Alert{}, false, err
		}
		if _, err := r.outbox.Insert(ctx, tx, event); err != nil {
			return models.Alert{}, false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Alert{}, false, err
	}
	return alert, true, nil
}

// AcknowledgeByID closes the alert once. acked=false with a nil error
// means the alert exists but was already acknowledged.
func (r *AlertsRepo) AcknowledgeByID(ctx context.Context, alertID uuid.UUID) (models.Alert, bool, error) {
	var alert models.Alert
	err := r.pool.QueryRow(ctx, `
		UPDATE alerts
		SET acknowledged_at = now()
		WHERE alert_id = $1 AND acknowledged_at IS NULL
		RETURNING alert_id, device_id, severity, alert_type, message, created_at, acknowledged_at
	`, alertID).
		Scan(&alert.AlertID, &alert.DeviceID, &alert.Severity, &alert.AlertType, &alert.Message, &alert.CreatedAt, &alert.AcknowledgedAt)
	if err == nil {
		return alert, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Alert{}, false, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT alert_id, device_id, severity, alert_type, message, created_at, acknowledged_at
		FROM alerts
		WHERE alert_id = $1
	`, alertID).
		Scan(&alert.AlertID, &alert.DeviceID, &alert.Severity, &alert.AlertType, &alert.Message, &alert.CreatedAt, &alert.AcknowledgedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Alert{}, false, ErrNotFound
	}
	if err != nil {
		return models.Alert{}, false, err
	}
	return alert, false, nil
}

// AcknowledgeOpenByType closes every open alert of the given type for
// the device and returns how many were closed.
func (r *AlertsRepo) AcknowledgeOpenByType(ctx context.Context, deviceID uuid.UUID, alertType string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE alerts
		SET acknowledged_at = now()
		WHERE device_id = $1 AND alert_type = $2 AND acknowledged_at IS NULL
	`, deviceID, alertType)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// AlertFilter narrows List. Zero values mean no filtering: a nil
// Active returns open and acknowledged alerts alike, true only open
// ones, false only acknowledged ones.
type AlertFilter struct {
	Active   *bool
	Severity string
	DeviceID *uuid.UUID
}

func (r *AlertsRepo) List(ctx context.Context, filter AlertFilter, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT alert_id, device_id, severity, alert_type, message, created_at, acknowledged_at
		FROM alerts
		WHERE ($1::bool IS NULL OR ($1 AND acknowledged_at IS NULL) OR (NOT $1 AND acknowledged_at IS NOT NULL))
			AND ($2::text = '' OR severity = $2)
			AND ($3::uuid IS NULL OR device_id = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, filter.Active, filter.Severity, filter.DeviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.AlertID, &a.DeviceID, &a.Severity, &a.AlertType, &a.Message, &a.CreatedAt, &a.AcknowledgedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountOpenBySeverity returns the unacknowledged alert counts per
// device, keyed by severity. Devices with none are absent from the
// outer map.
func (r *AlertsRepo) CountOpenBySeverity(ctx context.Context) (map[uuid.UUID]map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT device_id, severity, count(1)
		FROM alerts
		WHERE acknowledged_at IS NULL AND device_id IS NOT NULL
		GROUP BY device_id, severity
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]map[string]int)
	for rows.Next() {
		var id uuid.UUID
		var severity string
		var n int
		if err := rows.Scan(&id, &severity, &n); err != nil {
			return nil, err
		}
		if out[id] == nil {
			out[id] = make(map[string]int)
		}
		out[id][severity] = n
	}
	return out, rows.Err()
}

func (r *AlertsRepo) CountOpenForDevice(ctx context.Context, deviceID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(1) FROM alerts WHERE device_id = $1 AND acknowledged_at IS NULL
	`, deviceID).Scan(&n)
	return n, err
}
