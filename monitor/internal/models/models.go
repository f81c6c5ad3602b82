package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Facility struct {
	FacilityID uuid.UUID
	Name       string
	Code       *string
	Address    string
	CreatedAt  time.Time
}

type Zone struct {
	ZoneID     uuid.UUID
	FacilityID uuid.UUID
	Name       string
	Code       string
	CreatedAt  time.Time
}

type Device struct {
	DeviceID  uuid.UUID
	ZoneID    uuid.UUID
	Code      string
	Name      string
	CreatedAt time.Time
}

type Reading struct {
	ReadingID   uuid.UUID
	DeviceID    uuid.UUID
	Voltage     float64
	Current     float64
	PowerFactor float64
	Timestamp   time.Time
	CreatedAt   time.Time
}

// Watts is the instantaneous power implied by the reading.
func (r Reading) Watts() float64 {
	return r.Voltage * r.Current
}

type OccupancyEvent struct {
	EventID    uuid.UUID
	Seq        int64
	DeviceID   uuid.UUID
	IsOccupied bool
	Timestamp  time.Time
	CreatedAt  time.Time
}

const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

const (
	AlertTypeHighPower   = "high_power"
	AlertTypeInvalidData = "invalid_data"
	AlertTypeOffline     = "offline"
)

type Alert struct {
	AlertID        uuid.UUID
	DeviceID       *uuid.UUID
	Severity       string
	AlertType      string
	Message        string
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
}

func (a Alert) Active() bool {
	return a.AcknowledgedAt == nil
}

// TargetScope tags whether a usage target binds to a zone or to a
// single device. The two are mutually exclusive.
type TargetScope string

const (
	TargetScopeZone   TargetScope = "zone"
	TargetScopeDevice TargetScope = "device"
)

func (s TargetScope) Valid() bool {
	return s == TargetScopeZone || s == TargetScopeDevice
}

type Target struct {
	TargetID    uuid.UUID
	Scope       TargetScope
	ZoneID      *uuid.UUID
	DeviceID    *uuid.UUID
	Date        time.Time
	TargetValue float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate enforces the scope/foreign-key pairing.
func (t Target) Validate() error {
	if !t.Scope.Valid() {
		return fmt.Errorf("unknown target scope %q", t.Scope)
	}
	if t.Scope == TargetScopeZone && (t.ZoneID == nil || t.DeviceID != nil) {
		return fmt.Errorf("zone-scoped target must set zone_id only")
	}
	if t.Scope == TargetScopeDevice && (t.DeviceID == nil || t.ZoneID != nil) {
		return fmt.Errorf("device-scoped target must set device_id only")
	}
	if t.TargetValue < 0 {
		return fmt.Errorf("target_value must be non-negative")
	}
	return nil
}

type HealthSnapshot struct {
	SnapshotID   uuid.UUID
	DeviceID     uuid.UUID
	Score        float64
	CalculatedAt time.Time
}

type OutboxEvent struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	Topic         string
	Payload       []byte
	Status        string
	Attempts      int
	NextRetryAt   *time.Time
	LockedAt      *time.Time
	LockedBy      *string
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PublishedAt   *time.Time
}

const (
	DeviceStatusOK       = "OK"
	DeviceStatusWarning  = "WARNING"
	DeviceStatusCritical = "CRITICAL"
)

// DeviceStatus is the per-device row served by the status endpoint.
type DeviceStatus struct {
	DeviceID         uuid.UUID  `json:"id"`
	Code             string     `json:"code"`
	ZoneID           uuid.UUID  `json:"zone_id"`
	ZoneCode         string     `json:"zone_code"`
	FacilityID       uuid.UUID  `json:"facility_id"`
	FacilityName     string     `json:"facility_name"`
	LastTelemetryAt  *time.Time `json:"last_telemetry_at"`
	LastParkingLogAt *time.Time `json:"last_parking_log_at"`
	Status           string     `json:"status"`
	HealthScore      float64    `json:"health_score"`
}

// StatusFromOpenAlerts ranks a device by its worst open alert.
// INFO alerts affect the health score but never the status.
func StatusFromOpenAlerts(openBySeverity map[string]int) string {
	switch {
	case openBySeverity[SeverityCritical] > 0:
		return DeviceStatusCritical
	case openBySeverity[SeverityWarning] > 0:
		return DeviceStatusWarning
	default:
		return DeviceStatusOK
	}
}
