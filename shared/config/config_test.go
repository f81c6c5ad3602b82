package config

import "testing"

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestLoadDefaultsThresholds(t *testing.T) {
	t.Setenv("ENV", "test")
	cfg, _ := Load("monitor-test", 8080)
	if cfg.OfflineAfterSec != 120 {
		t.Fatalf("OfflineAfterSec = %d, want 120", cfg.OfflineAfterSec)
	}
	if cfg.HealthStaleSec != 300 {
		t.Fatalf("HealthStaleSec = %d, want 300", cfg.HealthStaleSec)
	}
	if cfg.HighPowerWatts != 2000 {
		t.Fatalf("HighPowerWatts = %v, want 2000", cfg.HighPowerWatts)
	}
	if cfg.HealthAlertPenalty != 10 || cfg.HealthOfflinePenalty != 30 {
		t.Fatalf("penalties = %v/%v, want 10/30", cfg.HealthAlertPenalty, cfg.HealthOfflinePenalty)
	}
}

func TestLoadEnvOverridesAndProblems(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("OFFLINE_AFTER_SECONDS", "30")
	t.Setenv("HIGH_POWER_WATTS", "not-a-number")
	t.Setenv("TIMEZONE", "Nowhere/Invalid")
	cfg, problems := Load("monitor-test", 8080)
	if cfg.OfflineAfterSec != 30 {
		t.Fatalf("OfflineAfterSec = %d, want 30", cfg.OfflineAfterSec)
	}
	if cfg.HighPowerWatts != 2000 {
		t.Fatalf("HighPowerWatts = %v, want default 2000 after bad input", cfg.HighPowerWatts)
	}
	if cfg.Timezone != "UTC" {
		t.Fatalf("Timezone = %q, want fallback UTC", cfg.Timezone)
	}
	var fields []string
	for _, p := range problems {
		fields = append(fields, p.Field)
	}
	wantProblem := func(field string) {
		for _, f := range fields {
			if f == field {
				return
			}
		}
		t.Fatalf("expected problem for %s, got %v", field, fields)
	}
	wantProblem("HIGH_POWER_WATTS")
	wantProblem("TIMEZONE")
}
