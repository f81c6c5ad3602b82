package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/shared/config"
	"parking-lot-monitoring-system/shared/logx"
	"parking-lot-monitoring-system/shared/metricsx"
)

// SweepStore is the fleet slice the sweeper scans.
type SweepStore interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	LastTimestamps(ctx context.Context) (map[uuid.UUID]time.Time, error)
}

// OfflineSweeper opens offline alerts for devices that have gone
// silent. Devices that have never reported at all count as silent.
// Sweeps are idempotent: the alert engine's dedup means a second pass
// over the same silence opens nothing new, and the sweeper never
// acknowledges anything.
type OfflineSweeper struct {
	store  SweepStore
	alerts *AlertEngine
	cfg    config.Config
	log    logx.Logger
}

func NewOfflineSweeper(store SweepStore, alerts *AlertEngine, cfg config.Config, log logx.Logger) *OfflineSweeper {
	return &OfflineSweeper{store: store, alerts: alerts, cfg: cfg, log: log}
}

// SweepResult reports one sweep pass.
type SweepResult struct {
	Scanned int
	Offline int
	Opened  int
}

func (s *OfflineSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	offlineAfter := time.Duration(s.cfg.OfflineAfterSec) * time.Second
	cutoff := start.Add(-offlineAfter)

	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	lastSeen, err := s.store.LastTimestamps(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	minutes := int(offlineAfter / time.Minute)
	message := fmt.Sprintf("No telemetry received for %d minutes.", minutes)

	result := SweepResult{Scanned: len(devices)}
	for _, device := range devices {
		last, reported := lastSeen[device.DeviceID]
		if reported && last.After(cutoff) {
			continue
		}
		result.Offline++
		_, created, err := s.alerts.Open(ctx, device, models.AlertTypeOffline, models.SeverityWarning, message)
		if err != nil {
			return SweepResult{}, err
		}
		if created {
			result.Opened++
		}
	}

	metricsx.ObserveSweepDuration(time.Since(start))
	metricsx.SetSweepOffline(result.Offline)
	s.log.Info(ctx, "sweep.done", "offline sweep finished",
		slog.Int("scanned", result.Scanned),
		slog.Int("offline", result.Offline),
		slog.Int("opened", result.Opened),
	)
	return result, nil
}
