package monitoring

import (
	"context"
	"testing"
	"time"

	"parking-lot-monitoring-system/monitor/internal/models"
)

func TestHealthScoreDerivation(t *testing.T) {
	scorer := NewHealthScorer(nil, testConfig())

	tests := []struct {
		name       string
		openAlerts int
		stale      bool
		want       float64
	}{
		{"healthy", 0, false, 100.0},
		{"one alert", 1, false, 90.0},
		{"stale only", 0, true, 70.0},
		{"three alerts stale", 3, true, 40.0},
		{"clamped at zero", 12, true, 0.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := scorer.Derive(tc.openAlerts, tc.stale); got != tc.want {
				t.Fatalf("derive(%d, %v) = %v, want %v", tc.openAlerts, tc.stale, got, tc.want)
			}
		})
	}
}

func TestHealthScoreFromStore(t *testing.T) {
	store := newFakeStore()
	device := store.addDevice("dev-1", "Z1", "North Lot")
	scorer := NewHealthScorer(store, testConfig())

	// Never reported: the offline penalty applies exactly once.
	score, err := scorer.Score(context.Background(), device.DeviceID)
	if err != nil {
		t.Fatal(err)
	}
	if score != 70.0 {
		t.Fatalf("never-reported score = %v, want 70.0", score)
	}

	// Fresh telemetry, one open alert.
	store.lastSeen[device.DeviceID] = time.Now().Add(-time.Minute)
	alert := models.Alert{DeviceID: &device.DeviceID, AlertType: models.AlertTypeHighPower, Severity: models.SeverityCritical}
	if _, _, err := store.OpenOrSkip(context.Background(), alert, nil); err != nil {
		t.Fatal(err)
	}
	score, err = scorer.Score(context.Background(), device.DeviceID)
	if err != nil {
		t.Fatal(err)
	}
	if score != 90.0 {
		t.Fatalf("score = %v, want 90.0", score)
	}

	// Telemetry older than the stale window adds the offline penalty.
	store.lastSeen[device.DeviceID] = time.Now().Add(-10 * time.Minute)
	score, err = scorer.Score(context.Background(), device.DeviceID)
	if err != nil {
		t.Fatal(err)
	}
	if score != 60.0 {
		t.Fatalf("stale score = %v, want 60.0", score)
	}
}
