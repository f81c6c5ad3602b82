package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/monitor/internal/repos"
	"parking-lot-monitoring-system/shared/config"
	"parking-lot-monitoring-system/shared/logx"
	"parking-lot-monitoring-system/shared/metricsx"
)

type DeviceStore interface {
	GetDeviceByCode(ctx context.Context, code string) (models.Device, error)
	GetDeviceContext(ctx context.Context, deviceID uuid.UUID) (repos.DeviceContext, error)
}

type ReadingStore interface {
	Insert(ctx context.Context, reading models.Reading) (models.Reading, bool, error)
	InsertBatch(ctx context.Context, readings []models.Reading) (int, error)
	Exists(ctx context.Context, deviceID uuid.UUID, ts time.Time) (bool, error)
}

// ReadingMirror receives accepted readings for time-series storage.
// Mirror failures never fail ingestion.
type ReadingMirror interface {
	WriteReading(ctx context.Context, deviceCode, zoneCode, facility string, voltage, current, powerFactor float64, ts time.Time) error
}

// TelemetryIngestor validates, deduplicates and stores electrical
// readings, then drives the alert engine with the accepted values.
type TelemetryIngestor struct {
	devices  DeviceStore
	readings ReadingStore
	alerts   *AlertEngine
	mirror   ReadingMirror
	cfg      config.Config
	log      logx.Logger
}

func NewTelemetryIngestor(devices DeviceStore, readings ReadingStore, alerts *AlertEngine, mirror ReadingMirror, cfg config.Config, log logx.Logger) *TelemetryIngestor {
	return &TelemetryIngestor{devices: devices, readings: readings, alerts: alerts, mirror: mirror, cfg: cfg, log: log}
}

// ReadingInput is one telemetry submission.
type ReadingInput struct {
	DeviceCode  string
	Voltage     float64
	Current     float64
	PowerFactor float64
	Timestamp   time.Time
}

func (in ReadingInput) validate(futureSkew time.Duration) *ValidationError {
	verr := NewValidationError()
	if in.DeviceCode == "" {
		verr.Add("device_code", "is required")
	}
	if in.Voltage < 0 {
		verr.Add("voltage", "must be non-negative")
	}
	if in.Current < 0 {
		verr.Add("current", "must be non-negative")
	}
	if in.PowerFactor < 0 || in.PowerFactor > 1 {
		verr.Add("power_factor", "must be between 0 and 1")
	}
	if in.Timestamp.IsZero() {
		verr.Add("timestamp", "is required")
	} else if in.Timestamp.After(time.Now().Add(futureSkew)) {
		verr.Add("timestamp", "must not be in the future")
	}
	return verr
}

// IngestReading stores one reading. Duplicates by (device, timestamp)
// return ErrDuplicateReading and leave the stored reading untouched.
// On success any open offline alerts for the device are acknowledged
// and the threshold checks run with the new values.
func (s *TelemetryIngestor) IngestReading(ctx context.Context, in ReadingInput) (models.Reading, error) {
	if verr := in.validate(s.futureSkew()); !verr.Empty() {
		metricsx.IncReadingIngested("invalid")
		return models.Reading{}, verr
	}

	device, err := s.devices.GetDeviceByCode(ctx, in.DeviceCode)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			metricsx.IncReadingIngested("unknown_device")
			return models.Reading{}, ErrUnknownDevice
		}
		return models.Reading{}, err
	}

	reading, created, err := s.readings.Insert(ctx, models.Reading{
		DeviceID:    device.DeviceID,
		Voltage:     in.Voltage,
		Current:     in.Current,
		PowerFactor: in.PowerFactor,
		Timestamp:   in.Timestamp,
	})
	if err != nil {
		return models.Reading{}, err
	}
	if !created {
		metricsx.IncReadingIngested("duplicate")
		return models.Reading{}, ErrDuplicateReading
	}
	metricsx.IncReadingIngested("created")

	if err := s.afterAccept(ctx, device, reading); err != nil {
		return models.Reading{}, err
	}
	return reading, nil
}

// afterAccept runs the post-storage effects of an accepted reading:
// the device is evidently back, so open offline alerts close, then the
// threshold checks run, then the reading is mirrored best-effort.
func (s *TelemetryIngestor) afterAccept(ctx context.Context, device models.Device, reading models.Reading) error {
	if _, err := s.alerts.AcknowledgeOpenByType(ctx, device.DeviceID, models.AlertTypeOffline); err != nil {
		return err
	}
	if err := s.alerts.EvaluateReading(ctx, device, reading); err != nil {
		return err
	}
	s.mirrorReading(ctx, device, reading)
	return nil
}

func (s *TelemetryIngestor) mirrorReading(ctx context.Context, device models.Device, reading models.Reading) {
	if s.mirror == nil {
		return
	}
	dc, err := s.devices.GetDeviceContext(ctx, device.DeviceID)
	if err == nil {
		err = s.mirror.WriteReading(ctx, device.Code, dc.ZoneCode, dc.FacilityName,
			reading.Voltage, reading.Current, reading.PowerFactor, reading.Timestamp)
	}
	if err != nil {
		metricsx.IncInfluxWriteFailure()
		s.log.Warn(ctx, "influx.mirror_failed", "reading mirror failed",
			slog.String("device_code", device.Code),
			slog.String("error", err.Error()),
		)
	}
}

// BulkItemError reports why one batch item was rejected.
type BulkItemError struct {
	Index  int                 `json:"index"`
	Errors map[string][]string `json:"errors"`
}

// BulkResult is the outcome of a bulk ingest. A batch where every item
// failed is still a successful call with Created == 0.
type BulkResult struct {
	Created int             `json:"created"`
	Errors  []BulkItemError `json:"errors"`
}

// IngestBulk validates each item independently, deduplicates against
// both the store and earlier items in the same batch, and persists the
// surviving items as one batch.
func (s *TelemetryIngestor) IngestBulk(ctx context.Context, items []ReadingInput) (BulkResult, error) {
	result := BulkResult{Errors: []BulkItemError{}}

	type pending struct {
		device  models.Device
		reading models.Reading
	}
	var accepted []pending
	seen := map[string]struct{}{}
	futureSkew := s.futureSkew()

	for i, in := range items {
		verr := in.validate(futureSkew)
		if !verr.Empty() {
			metricsx.IncReadingIngested("invalid")
			result.Errors = append(result.Errors, BulkItemError{Index: i, Errors: verr.Fields})
			continue
		}

		device, err := s.devices.GetDeviceByCode(ctx, in.DeviceCode)
		if err != nil {
			if errors.Is(err, repos.ErrNotFound) {
				metricsx.IncReadingIngested("unknown_device")
				result.Errors = append(result.Errors, BulkItemError{Index: i, Errors: map[string][]string{
					"device_code": {fmt.Sprintf("unknown device %q", in.DeviceCode)},
				}})
				continue
			}
			return BulkResult{}, err
		}

		key := device.DeviceID.String() + "|" + in.Timestamp.UTC().Format(time.RFC3339Nano)
		dup := false
		if _, inBatch := seen[key]; inBatch {
			dup = true
		} else {
			exists, err := s.readings.Exists(ctx, device.DeviceID, in.Timestamp)
			if err != nil {
				return BulkResult{}, err
			}
			dup = exists
		}
		if dup {
			metricsx.IncReadingIngested("duplicate")
			result.Errors = append(result.Errors, BulkItemError{Index: i, Errors: map[string][]string{
				"timestamp": {"duplicate reading for device and timestamp"},
			}})
			continue
		}
		seen[key] = struct{}{}

		accepted = append(accepted, pending{device: device, reading: models.Reading{
			DeviceID:    device.DeviceID,
			Voltage:     in.Voltage,
			Current:     in.Current,
			PowerFactor: in.PowerFactor,
			Timestamp:   in.Timestamp,
		}})
	}

	if len(accepted) > 0 {
		readings := make([]models.Reading, len(accepted))
		for i, p := range accepted {
			readings[i] = p.reading
		}
		created, err := s.readings.InsertBatch(ctx, readings)
		if err != nil {
			return BulkResult{}, err
		}
		result.Created = created
		for i := 0; i < created; i++ {
			metricsx.IncReadingIngested("created")
		}
		for _, p := range accepted {
			if err := s.afterAccept(ctx, p.device, p.reading); err != nil {
				return BulkResult{}, err
			}
		}
	}
	return result, nil
}

func (s *TelemetryIngestor) futureSkew() time.Duration {
	return time.Duration(s.cfg.FutureSkewSec) * time.Second
}

// OccupancyStore is the occupancy slice used by ingestion.
type OccupancyStore interface {
	Insert(ctx context.Context, event models.OccupancyEvent) (models.OccupancyEvent, error)
}

// OccupancyIngestor records sensor occupancy transitions. Events are
// immutable; a device may report any number of them.
type OccupancyIngestor struct {
	devices DeviceStore
	store   OccupancyStore
	cfg     config.Config
	log     logx.Logger
}

func NewOccupancyIngestor(devices DeviceStore, store OccupancyStore, cfg config.Config, log logx.Logger) *OccupancyIngestor {
	return &OccupancyIngestor{devices: devices, store: store, cfg: cfg, log: log}
}

// OccupancyInput is one occupancy submission.
type OccupancyInput struct {
	DeviceCode string
	IsOccupied bool
	Timestamp  time.Time
}

func (s *OccupancyIngestor) IngestEvent(ctx context.Context, in OccupancyInput) (models.OccupancyEvent, error) {
	verr := NewValidationError()
	if in.DeviceCode == "" {
		verr.Add("device_code", "is required")
	}
	if in.Timestamp.IsZero() {
		verr.Add("timestamp", "is required")
	} else if in.Timestamp.After(time.Now().Add(time.Duration(s.cfg.FutureSkewSec) * time.Second)) {
		verr.Add("timestamp", "must not be in the future")
	}
	if !verr.Empty() {
		return models.OccupancyEvent{}, verr
	}

	device, err := s.devices.GetDeviceByCode(ctx, in.DeviceCode)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			return models.OccupancyEvent{}, ErrUnknownDevice
		}
		return models.OccupancyEvent{}, err
	}

	event, err := s.store.Insert(ctx, models.OccupancyEvent{
		DeviceID:   device.DeviceID,
		IsOccupied: in.IsOccupied,
		Timestamp:  in.Timestamp,
	})
	if err != nil {
		return models.OccupancyEvent{}, err
	}
	metricsx.IncOccupancyEvent()
	return event, nil
}
