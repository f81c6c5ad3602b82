package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/shared/config"
	"parking-lot-monitoring-system/shared/events"
	"parking-lot-monitoring-system/shared/logx"
	"parking-lot-monitoring-system/shared/metricsx"
)

// AlertStore is the slice of the alerts repository the engine needs.
type AlertStore interface {
	OpenOrSkip(ctx context.Context, alert models.Alert, makeOutbox func(models.Alert) (models.OutboxEvent, error)) (models.Alert, bool, error)
	AcknowledgeByID(ctx context.Context, alertID uuid.UUID) (models.Alert, bool, error)
	AcknowledgeOpenByType(ctx context.Context, deviceID uuid.UUID, alertType string) (int, error)
}

// AlertEngine opens and acknowledges alerts with per-(device, type)
// deduplication and publishes lifecycle events through the outbox.
type AlertEngine struct {
	store AlertStore
	cfg   config.Config
	log   logx.Logger
}

func NewAlertEngine(store AlertStore, cfg config.Config, log logx.Logger) *AlertEngine {
	return &AlertEngine{store: store, cfg: cfg, log: log}
}

// Open raises an alert for the device unless one of the same type is
// already open. Deduplication is delegated to the store's conditional
// insert, so concurrent callers race safely.
func (e *AlertEngine) Open(ctx context.Context, device models.Device, alertType, severity, message string) (models.Alert, bool, error) {
	alert := models.Alert{
		DeviceID:  &device.DeviceID,
		Severity:  severity,
		AlertType: alertType,
		Message:   message,
	}
	alert, created, err := e.store.OpenOrSkip(ctx, alert, func(created models.Alert) (models.OutboxEvent, error) {
		return outboxForAlert(created, device.Code, events.EventAlertOpened)
	})
	if err != nil {
		return models.Alert{}, false, err
	}
	if created {
		metricsx.IncAlertOpened(alertType)
		e.log.Info(ctx, "alert.opened", "alert opened",
			slog.String("device_code", device.Code),
			slog.String("alert_type", alertType),
			slog.String("severity", severity),
		)
	}
	return alert, created, nil
}

// Acknowledge closes the alert by id. Acknowledging twice is a no-op
// on the second call; unknown ids surface ErrNotFound.
func (e *AlertEngine) Acknowledge(ctx context.Context, alertID uuid.UUID) (models.Alert, error) {
	alert, acked, err := e.store.AcknowledgeByID(ctx, alertID)
	if err != nil {
		return models.Alert{}, mapStoreNotFound(err)
	}
	if acked {
		metricsx.IncAlertAcknowledged()
	}
	return alert, nil
}

// AcknowledgeOpenByType closes every open alert of the type for the
// device. Used when a device comes back online.
func (e *AlertEngine) AcknowledgeOpenByType(ctx context.Context, deviceID uuid.UUID, alertType string) (int, error) {
	n, err := e.store.AcknowledgeOpenByType(ctx, deviceID, alertType)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		metricsx.IncAlertAcknowledged()
	}
	return n, nil
}

// EvaluateReading applies the power and plausibility thresholds to an
// accepted reading. Both checks are independent and may both fire.
func (e *AlertEngine) EvaluateReading(ctx context.Context, device models.Device, reading models.Reading) error {
	watts := reading.Watts()
	if watts > e.cfg.HighPowerWatts {
		message := fmt.Sprintf("Power %.1f W exceeds threshold %v W", watts, e.cfg.HighPowerWatts)
		if _, _, err := e.Open(ctx, device, models.AlertTypeHighPower, models.SeverityCritical, message); err != nil {
			return err
		}
	}
	if reading.Current > e.cfg.MaxCurrentAmps || reading.Voltage > e.cfg.MaxVoltage {
		message := fmt.Sprintf("Abnormal reading: voltage=%v, current=%v", reading.Voltage, reading.Current)
		if _, _, err := e.Open(ctx, device, models.AlertTypeInvalidData, models.SeverityWarning, message); err != nil {
			return err
		}
	}
	return nil
}

func outboxForAlert(alert models.Alert, deviceCode, eventType string) (models.OutboxEvent, error) {
	payload, err := json.Marshal(events.AlertPayload{
		AlertID:    alert.AlertID,
		DeviceCode: deviceCode,
		Severity:   alert.Severity,
		AlertType:  alert.AlertType,
		Message:    alert.Message,
		CreatedAt:  alert.CreatedAt,
	})
	if err != nil {
		return models.OutboxEvent{}, err
	}
	aggregateID := uuid.Nil
	if alert.DeviceID != nil {
		aggregateID = *alert.DeviceID
	}
	envelope, err := json.Marshal(events.Envelope{
		EventID:       uuid.New(),
		OccurredAt:    time.Now().UTC(),
		AggregateType: events.AggregateDevice,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	})
	if err != nil {
		return models.OutboxEvent{}, err
	}
	return models.OutboxEvent{
		AggregateType: events.AggregateDevice,
		AggregateID:   aggregateID,
		Topic:         events.TopicAlerts,
		Payload:       envelope,
	}, nil
}
