package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every event published to Kafka. AggregateID is the device the
// event concerns (uuid.Nil for system-wide alerts).
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

const (
	TopicAlerts = "parking.alerts"
)

const (
	AggregateDevice = "device"
)

const (
	EventAlertOpened       = "alert_opened"
	EventAlertAcknowledged = "alert_acknowledged"
)

// AlertPayload is the payload carried by alert lifecycle events.
type AlertPayload struct {
	AlertID    uuid.UUID `json:"alert_id"`
	DeviceCode string    `json:"device_code,omitempty"`
	Severity   string    `json:"severity"`
	AlertType  string    `json:"alert_type"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
