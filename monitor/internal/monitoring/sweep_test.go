package monitoring

import (
	"context"
	"testing"
	"time"

	"parking-lot-monitoring-system/monitor/internal/models"
)

func newSweeper(store *fakeStore) *OfflineSweeper {
	cfg := testConfig()
	log := testLogger()
	return NewOfflineSweeper(store, NewAlertEngine(store, cfg, log), cfg, log)
}

func TestSweepOpensForSilentAndNeverReported(t *testing.T) {
	store := newFakeStore()
	silent := store.addDevice("silent", "Z1", "North Lot")
	fresh := store.addDevice("fresh", "Z1", "North Lot")
	ghost := store.addDevice("never-reported", "Z2", "North Lot")

	store.lastSeen[silent.DeviceID] = time.Now().Add(-10 * time.Minute)
	store.lastSeen[fresh.DeviceID] = time.Now().Add(-30 * time.Second)
	// ghost has no reading at all and must still be flagged.

	result, err := newSweeper(store).Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Scanned != 3 || result.Offline != 2 || result.Opened != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(store.openAlerts(silent.DeviceID, models.AlertTypeOffline)) != 1 {
		t.Fatal("silent device missing offline alert")
	}
	if len(store.openAlerts(ghost.DeviceID, models.AlertTypeOffline)) != 1 {
		t.Fatal("never-reported device missing offline alert")
	}
	if len(store.openAlerts(fresh.DeviceID, models.AlertTypeOffline)) != 0 {
		t.Fatal("fresh device must not be flagged")
	}

	alerts := store.openAlerts(silent.DeviceID, models.AlertTypeOffline)
	if alerts[0].Message != "No telemetry received for 2 minutes." {
		t.Fatalf("unexpected message %q", alerts[0].Message)
	}
	if alerts[0].Severity != models.SeverityWarning {
		t.Fatalf("unexpected severity %q", alerts[0].Severity)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	store := newFakeStore()
	silent := store.addDevice("silent", "Z1", "North Lot")
	store.lastSeen[silent.DeviceID] = time.Now().Add(-10 * time.Minute)
	sweeper := newSweeper(store)

	first, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.Opened != 1 || second.Opened != 0 {
		t.Fatalf("expected 1 then 0 opened, got %d then %d", first.Opened, second.Opened)
	}
	if len(store.openAlerts(silent.DeviceID, models.AlertTypeOffline)) != 1 {
		t.Fatal("repeat sweep duplicated the offline alert")
	}
}

func TestSweepNeverAcknowledges(t *testing.T) {
	store := newFakeStore()
	device := store.addDevice("dev-1", "Z1", "North Lot")
	store.lastSeen[device.DeviceID] = time.Now() // fresh

	// An open alert from an earlier outage; the device is back but only
	// ingestion may close it.
	offline := models.Alert{DeviceID: &device.DeviceID, AlertType: models.AlertTypeOffline, Severity: models.SeverityWarning}
	if _, _, err := store.OpenOrSkip(context.Background(), offline, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := newSweeper(store).Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.openAlerts(device.DeviceID, models.AlertTypeOffline)) != 1 {
		t.Fatal("sweep must never acknowledge alerts")
	}
}
