package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"parking-lot-monitoring-system/monitor/internal/models"
)

func newTelemetryIngestor(store *fakeStore, mirror ReadingMirror) *TelemetryIngestor {
	cfg := testConfig()
	log := testLogger()
	engine := NewAlertEngine(store, cfg, log)
	return NewTelemetryIngestor(store, store, engine, mirror, cfg, log)
}

func TestIngestReadingValidation(t *testing.T) {
	store := newFakeStore()
	store.addDevice("dev-1", "Z1", "North Lot")
	ingestor := newTelemetryIngestor(store, nil)

	tests := []struct {
		name  string
		input ReadingInput
		field string
	}{
		{"negative voltage", ReadingInput{DeviceCode: "dev-1", Voltage: -1, Current: 1, PowerFactor: 0.9, Timestamp: time.Now()}, "voltage"},
		{"negative current", ReadingInput{DeviceCode: "dev-1", Voltage: 230, Current: -2, PowerFactor: 0.9, Timestamp: time.Now()}, "current"},
		{"power factor above one", ReadingInput{DeviceCode: "dev-1", Voltage: 230, Current: 1, PowerFactor: 1.2, Timestamp: time.Now()}, "power_factor"},
		{"future timestamp", ReadingInput{DeviceCode: "dev-1", Voltage: 230, Current: 1, PowerFactor: 0.9, Timestamp: time.Now().Add(5 * time.Minute)}, "timestamp"},
		{"missing timestamp", ReadingInput{DeviceCode: "dev-1", Voltage: 230, Current: 1, PowerFactor: 0.9}, "timestamp"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestor.IngestReading(context.Background(), tc.input)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(verr.Fields[tc.field]) == 0 {
				t.Fatalf("expected error on %q, got %v", tc.field, verr.Fields)
			}
		})
	}
}

func TestIngestReadingTimestampWithinSkewAccepted(t *testing.T) {
	store := newFakeStore()
	store.addDevice("dev-1", "Z1", "North Lot")
	ingestor := newTelemetryIngestor(store, nil)

	// 30s ahead is inside the configured 60s window.
	_, err := ingestor.IngestReading(context.Background(), ReadingInput{
		DeviceCode: "dev-1", Voltage: 230, Current: 1, PowerFactor: 0.9,
		Timestamp: time.Now().Add(30 * time.Second),
	})
	if err != nil {
		t.Fatalf("expected accept, got %v", err)
	}
}

func TestIngestReadingUnknownDevice(t *testing.T) {
	ingestor := newTelemetryIngestor(newFakeStore(), nil)
	_, err := ingestor.IngestReading(context.Background(), ReadingInput{
		DeviceCode: "nope", Voltage: 230, Current: 1, PowerFactor: 0.9, Timestamp: time.Now(),
	})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestIngestReadingDuplicateNeverOverwrites(t *testing.T) {
	store := newFakeStore()
	store.addDevice("dev-1", "Z1", "North Lot")
	ingestor := newTelemetryIngestor(store, nil)

	ts := time.Now().Add(-time.Minute)
	first := ReadingInput{DeviceCode: "dev-1", Voltage: 230, Current: 1, PowerFactor: 0.9, Timestamp: ts}
	if _, err := ingestor.IngestReading(context.Background(), first); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	second := first
	second.Voltage = 999
	_, err := ingestor.IngestReading(context.Background(), second)
	if !errors.Is(err, ErrDuplicateReading) {
		t.Fatalf("expected ErrDuplicateReading, got %v", err)
	}
	if len(store.readings) != 1 {
		t.Fatalf("expected 1 stored reading, got %d", len(store.readings))
	}
	for _, stored := range store.readings {
		if stored.Voltage != 230 {
			t.Fatalf("duplicate overwrote stored reading: %v", stored.Voltage)
		}
	}
}

func TestIngestReadingAcknowledgesOfflineAndEvaluates(t *testing.T) {
	store := newFakeStore()
	device := store.addDevice("dev-1", "Z1", "North Lot")
	ingestor := newTelemetryIngestor(store, nil)

	// Simulate a sweeper-opened offline alert.
	offline := models.Alert{DeviceID: &device.DeviceID, AlertType: models.AlertTypeOffline, Severity: models.SeverityWarning}
	if _, _, err := store.OpenOrSkip(context.Background(), offline, nil); err != nil {
		t.Fatal(err)
	}

	// 300 V * 10 A = 3000 W, over the 2000 W threshold.
	_, err := ingestor.IngestReading(context.Background(), ReadingInput{
		DeviceCode: "dev-1", Voltage: 300, Current: 10, PowerFactor: 0.9, Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if open := store.openAlerts(device.DeviceID, models.AlertTypeOffline); len(open) != 0 {
		t.Fatalf("offline alert not acknowledged: %v", open)
	}
	high := store.openAlerts(device.DeviceID, models.AlertTypeHighPower)
	if len(high) != 1 {
		t.Fatalf("expected 1 high_power alert, got %d", len(high))
	}
	if high[0].Message != "Power 3000.0 W exceeds threshold 2000 W" {
		t.Fatalf("unexpected message %q", high[0].Message)
	}
}

func TestIngestReadingMirrorFailureDoesNotFail(t *testing.T) {
	store := newFakeStore()
	store.addDevice("dev-1", "Z1", "North Lot")
	mirror := &fakeMirror{err: errors.New("influx down")}
	ingestor := newTelemetryIngestor(store, mirror)

	_, err := ingestor.IngestReading(context.Background(), ReadingInput{
		DeviceCode: "dev-1", Voltage: 230, Current: 1, PowerFactor: 0.9, Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("mirror failure must not fail ingest: %v", err)
	}
}

func TestIngestBulkPartialSuccess(t *testing.T) {
	store := newFakeStore()
	store.addDevice("dev-1", "Z1", "North Lot")
	ingestor := newTelemetryIngestor(store, nil)

	ts := time.Now().Add(-time.Minute)
	items := []ReadingInput{
		{DeviceCode: "dev-1", Voltage: 230, Current: 1, PowerFactor: 0.9, Timestamp: ts},
		{DeviceCode: "dev-1", Voltage: -5, Current: 1, PowerFactor: 0.9, Timestamp: ts.Add(time.Second)},
		{DeviceCode: "ghost", Voltage: 230, Current: 1, PowerFactor: 0.9, Timestamp: ts.Add(2 * time.Second)},
	}
	result, err := ingestor.IngestBulk(context.Background(), items)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected created=1, got %d", result.Created)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 item errors, got %v", result.Errors)
	}
	if result.Errors[0].Index != 1 || result.Errors[1].Index != 2 {
		t.Fatalf("expected errors at indexes 1 and 2, got %v", result.Errors)
	}
}

func TestIngestBulkDeduplicatesWithinBatchAndStore(t *testing.T) {
	store := newFakeStore()
	store.addDevice("dev-1", "Z1", "North Lot")
	ingestor := newTelemetryIngestor(store, nil)

	ts := time.Now().Add(-time.Minute)
	stored := ReadingInput{DeviceCode: "dev-1", Voltage: 230, Current: 1, PowerFactor: 0.9, Timestamp: ts}
	if _, err := ingestor.IngestReading(context.Background(), stored); err != nil {
		t.Fatal(err)
	}

	fresh := ts.Add(time.Second)
	result, err := ingestor.IngestBulk(context.Background(), []ReadingInput{
		{DeviceCode: "dev-1", Voltage: 231, Current: 1, PowerFactor: 0.9, Timestamp: ts},    // store dup
		{DeviceCode: "dev-1", Voltage: 232, Current: 1, PowerFactor: 0.9, Timestamp: fresh}, // new
		{DeviceCode: "dev-1", Voltage: 233, Current: 1, PowerFactor: 0.9, Timestamp: fresh}, // batch dup
	})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected created=1, got %d", result.Created)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 duplicate errors, got %v", result.Errors)
	}
}

func TestIngestBulkAllInvalidStillSucceeds(t *testing.T) {
	store := newFakeStore()
	store.addDevice("dev-1", "Z1", "North Lot")
	ingestor := newTelemetryIngestor(store, nil)

	result, err := ingestor.IngestBulk(context.Background(), []ReadingInput{
		{DeviceCode: "dev-1", Voltage: -1, Current: 1, PowerFactor: 0.9, Timestamp: time.Now()},
	})
	if err != nil {
		t.Fatalf("bulk with zero valid items is still a success: %v", err)
	}
	if result.Created != 0 || len(result.Errors) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestIngestOccupancyEvent(t *testing.T) {
	store := newFakeStore()
	store.addDevice("dev-1", "Z1", "North Lot")
	cfg := testConfig()
	ingestor := NewOccupancyIngestor(store, fakeOccupancyStore{store}, cfg, testLogger())

	_, err := ingestor.IngestEvent(context.Background(), OccupancyInput{
		DeviceCode: "dev-1", IsOccupied: true, Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("ingest event: %v", err)
	}
	// Events are immutable and repeatable: same payload stores again.
	_, err = ingestor.IngestEvent(context.Background(), OccupancyInput{
		DeviceCode: "dev-1", IsOccupied: true, Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if len(store.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(store.events))
	}

	if _, err := ingestor.IngestEvent(context.Background(), OccupancyInput{
		DeviceCode: "ghost", IsOccupied: true, Timestamp: time.Now(),
	}); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
}
