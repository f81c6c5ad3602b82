package monitoring

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/shared/config"
)

// HealthStore is the per-device slice the scorer reads.
type HealthStore interface {
	CountOpenForDevice(ctx context.Context, deviceID uuid.UUID) (int, error)
	LastTimestamp(ctx context.Context, deviceID uuid.UUID) (*time.Time, error)
}

// HealthScorer derives a 0..100 score from open alerts and telemetry
// recency. Penalties come from configuration.
type HealthScorer struct {
	store HealthStore
	cfg   config.Config
}

func NewHealthScorer(store HealthStore, cfg config.Config) *HealthScorer {
	return &HealthScorer{store: store, cfg: cfg}
}

// Score computes the current health of a device. Each open alert costs
// HealthAlertPenalty; stale or absent telemetry costs
// HealthOfflinePenalty exactly once.
func (s *HealthScorer) Score(ctx context.Context, deviceID uuid.UUID) (float64, error) {
	openAlerts, err := s.store.CountOpenForDevice(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	last, err := s.store.LastTimestamp(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	stale := last == nil || time.Since(*last) > time.Duration(s.cfg.HealthStaleSec)*time.Second
	return s.Derive(openAlerts, stale), nil
}

// Derive computes the score from already-gathered inputs. Exposed so
// list endpoints can score a whole fleet from two batched queries.
func (s *HealthScorer) Derive(openAlerts int, stale bool) float64 {
	score := 100.0 - s.cfg.HealthAlertPenalty*float64(openAlerts)
	if stale {
		score -= s.cfg.HealthOfflinePenalty
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return math.Round(score*10) / 10
}
