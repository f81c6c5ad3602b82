package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/shared/events"
)

func TestOpenDeduplicatesPerDeviceAndType(t *testing.T) {
	store := newFakeStore()
	device := store.addDevice("dev-1", "Z1", "North Lot")
	engine := NewAlertEngine(store, testConfig(), testLogger())

	first, created, err := engine.Open(context.Background(), device, models.AlertTypeOffline, models.SeverityWarning, "No telemetry received for 2 minutes.")
	if err != nil || !created {
		t.Fatalf("first open: created=%v err=%v", created, err)
	}
	second, created, err := engine.Open(context.Background(), device, models.AlertTypeOffline, models.SeverityWarning, "No telemetry received for 2 minutes.")
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if created {
		t.Fatal("second open must not create a duplicate")
	}
	if second.AlertID != first.AlertID {
		t.Fatalf("second open returned a different alert: %s vs %s", second.AlertID, first.AlertID)
	}

	// A different type for the same device is independent.
	_, created, err = engine.Open(context.Background(), device, models.AlertTypeHighPower, models.SeverityCritical, "Power 2500.0 W exceeds threshold 2000 W")
	if err != nil || !created {
		t.Fatalf("different type open: created=%v err=%v", created, err)
	}
}

func TestOpenAfterAcknowledgeCreatesFresh(t *testing.T) {
	store := newFakeStore()
	device := store.addDevice("dev-1", "Z1", "North Lot")
	engine := NewAlertEngine(store, testConfig(), testLogger())

	first, _, err := engine.Open(context.Background(), device, models.AlertTypeOffline, models.SeverityWarning, "m")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Acknowledge(context.Background(), first.AlertID); err != nil {
		t.Fatal(err)
	}
	second, created, err := engine.Open(context.Background(), device, models.AlertTypeOffline, models.SeverityWarning, "m")
	if err != nil || !created {
		t.Fatalf("reopen after ack: created=%v err=%v", created, err)
	}
	if second.AlertID == first.AlertID {
		t.Fatal("reopened alert reused the acknowledged one")
	}
}

func TestAcknowledgeIsIdempotentAndNotFound(t *testing.T) {
	store := newFakeStore()
	device := store.addDevice("dev-1", "Z1", "North Lot")
	engine := NewAlertEngine(store, testConfig(), testLogger())

	alert, _, err := engine.Open(context.Background(), device, models.AlertTypeOffline, models.SeverityWarning, "m")
	if err != nil {
		t.Fatal(err)
	}

	acked, err := engine.Acknowledge(context.Background(), alert.AlertID)
	if err != nil || acked.AcknowledgedAt == nil {
		t.Fatalf("first ack: %+v err=%v", acked, err)
	}
	firstAckAt := *acked.AcknowledgedAt

	again, err := engine.Acknowledge(context.Background(), alert.AlertID)
	if err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if again.AcknowledgedAt == nil || !again.AcknowledgedAt.Equal(firstAckAt) {
		t.Fatal("second ack must not move acknowledged_at")
	}

	if _, err := engine.Acknowledge(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvaluateReadingBothThresholdsFire(t *testing.T) {
	store := newFakeStore()
	device := store.addDevice("dev-1", "Z1", "North Lot")
	engine := NewAlertEngine(store, testConfig(), testLogger())

	// 600 V * 150 A trips both the power and the plausibility checks.
	reading := models.Reading{Voltage: 600, Current: 150, PowerFactor: 0.9}
	if err := engine.EvaluateReading(context.Background(), device, reading); err != nil {
		t.Fatal(err)
	}

	high := store.openAlerts(device.DeviceID, models.AlertTypeHighPower)
	invalid := store.openAlerts(device.DeviceID, models.AlertTypeInvalidData)
	if len(high) != 1 || len(invalid) != 1 {
		t.Fatalf("expected both alerts, got high=%d invalid=%d", len(high), len(invalid))
	}
	if invalid[0].Message != "Abnormal reading: voltage=600, current=150" {
		t.Fatalf("unexpected message %q", invalid[0].Message)
	}
	if invalid[0].Severity != models.SeverityWarning || high[0].Severity != models.SeverityCritical {
		t.Fatalf("unexpected severities: %s / %s", invalid[0].Severity, high[0].Severity)
	}
}

func TestEvaluateReadingAtThresholdDoesNotFire(t *testing.T) {
	store := newFakeStore()
	device := store.addDevice("dev-1", "Z1", "North Lot")
	engine := NewAlertEngine(store, testConfig(), testLogger())

	// Exactly 2000 W and exactly the plausibility limits: no alerts.
	reading := models.Reading{Voltage: 500, Current: 4, PowerFactor: 0.9}
	if err := engine.EvaluateReading(context.Background(), device, reading); err != nil {
		t.Fatal(err)
	}
	if len(store.alerts) != 0 {
		t.Fatalf("threshold is strict, got %v", store.alerts)
	}
}

func TestOpenWritesOutboxEnvelope(t *testing.T) {
	store := newFakeStore()
	device := store.addDevice("dev-1", "Z1", "North Lot")
	engine := NewAlertEngine(store, testConfig(), testLogger())

	alert, _, err := engine.Open(context.Background(), device, models.AlertTypeHighPower, models.SeverityCritical, "Power 2500.0 W exceeds threshold 2000 W")
	if err != nil {
		t.Fatal(err)
	}
	if len(store.outbox) != 1 {
		t.Fatalf("expected 1 outbox row, got %d", len(store.outbox))
	}
	row := store.outbox[0]
	if row.Topic != events.TopicAlerts || row.AggregateID != device.DeviceID {
		t.Fatalf("unexpected outbox row %+v", row)
	}

	var envelope events.Envelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		t.Fatalf("bad envelope: %v", err)
	}
	if envelope.EventType != events.EventAlertOpened {
		t.Fatalf("unexpected event type %q", envelope.EventType)
	}
	var payload events.AlertPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.AlertID != alert.AlertID || payload.DeviceCode != "dev-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
