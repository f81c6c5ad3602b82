package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"parking-lot-monitoring-system/monitor/internal/models"
	"parking-lot-monitoring-system/monitor/internal/repos"
	"parking-lot-monitoring-system/shared/config"
	"parking-lot-monitoring-system/shared/logx"
)

func testConfig() config.Config {
	return config.Config{
		OfflineAfterSec:      120,
		HealthStaleSec:       300,
		HighPowerWatts:       2000,
		MaxCurrentAmps:       100,
		MaxVoltage:           500,
		HealthAlertPenalty:   10,
		HealthOfflinePenalty: 30,
		FutureSkewSec:        60,
		Timezone:             "UTC",
	}
}

func testLogger() logx.Logger {
	return logx.New("monitor-test", "test", "dev", "error")
}

// fakeStore backs every store interface the core package consumes,
// enforcing the same uniqueness rules the database constraints do.
type fakeStore struct {
	devices   map[string]models.Device
	contexts  map[uuid.UUID]repos.DeviceContext
	readings  map[string]models.Reading
	lastSeen  map[uuid.UUID]time.Time
	events    []models.OccupancyEvent
	alerts    []models.Alert
	outbox    []models.OutboxEvent
	nextSeq   int64
	failExist error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices:  map[string]models.Device{},
		contexts: map[uuid.UUID]repos.DeviceContext{},
		readings: map[string]models.Reading{},
		lastSeen: map[uuid.UUID]time.Time{},
	}
}

func (f *fakeStore) addDevice(code, zoneCode, facility string) models.Device {
	device := models.Device{DeviceID: uuid.New(), ZoneID: uuid.New(), Code: code, Name: code}
	f.devices[code] = device
	f.contexts[device.DeviceID] = repos.DeviceContext{Device: device, ZoneCode: zoneCode, FacilityName: facility}
	return device
}

func (f *fakeStore) GetDeviceByCode(_ context.Context, code string) (models.Device, error) {
	device, ok := f.devices[code]
	if !ok {
		return models.Device{}, repos.ErrNotFound
	}
	return device, nil
}

func (f *fakeStore) GetDeviceContext(_ context.Context, deviceID uuid.UUID) (repos.DeviceContext, error) {
	dc, ok := f.contexts[deviceID]
	if !ok {
		return repos.DeviceContext{}, repos.ErrNotFound
	}
	return dc, nil
}

func (f *fakeStore) ListDevices(_ context.Context) ([]models.Device, error) {
	var out []models.Device
	for _, device := range f.devices {
		out = append(out, device)
	}
	return out, nil
}

func readingKey(deviceID uuid.UUID, ts time.Time) string {
	return deviceID.String() + "|" + ts.UTC().Format(time.RFC3339Nano)
}

func (f *fakeStore) Insert(_ context.Context, reading models.Reading) (models.Reading, bool, error) {
	key := readingKey(reading.DeviceID, reading.Timestamp)
	if _, exists := f.readings[key]; exists {
		return models.Reading{}, false, nil
	}
	reading.ReadingID = uuid.New()
	f.readings[key] = reading
	if last, ok := f.lastSeen[reading.DeviceID]; !ok || reading.Timestamp.After(last) {
		f.lastSeen[reading.DeviceID] = reading.Timestamp
	}
	return reading, true, nil
}

func (f *fakeStore) InsertBatch(ctx context.Context, readings []models.Reading) (int, error) {
	created := 0
	for _, reading := range readings {
		if _, ok, err := f.Insert(ctx, reading); err != nil {
			return 0, err
		} else if ok {
			created++
		}
	}
	return created, nil
}

func (f *fakeStore) Exists(_ context.Context, deviceID uuid.UUID, ts time.Time) (bool, error) {
	if f.failExist != nil {
		return false, f.failExist
	}
	_, ok := f.readings[readingKey(deviceID, ts)]
	return ok, nil
}

func (f *fakeStore) LastTimestamp(_ context.Context, deviceID uuid.UUID) (*time.Time, error) {
	if last, ok := f.lastSeen[deviceID]; ok {
		return &last, nil
	}
	return nil, nil
}

func (f *fakeStore) LastTimestamps(_ context.Context) (map[uuid.UUID]time.Time, error) {
	out := make(map[uuid.UUID]time.Time, len(f.lastSeen))
	for id, ts := range f.lastSeen {
		out[id] = ts
	}
	return out, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, event models.OccupancyEvent) (models.OccupancyEvent, error) {
	event.EventID = uuid.New()
	f.nextSeq++
	event.Seq = f.nextSeq
	f.events = append(f.events, event)
	return event, nil
}

// OpenOrSkip mirrors the partial unique index: at most one open alert
// per (device, type).
func (f *fakeStore) OpenOrSkip(_ context.Context, alert models.Alert, makeOutbox func(models.Alert) (models.OutboxEvent, error)) (models.Alert, bool, error) {
	for _, existing := range f.alerts {
		if existing.AcknowledgedAt == nil && existing.AlertType == alert.AlertType &&
			existing.DeviceID != nil && alert.DeviceID != nil && *existing.DeviceID == *alert.DeviceID {
			return existing, false, nil
		}
	}
	alert.AlertID = uuid.New()
	alert.CreatedAt = time.Now().UTC()
	f.alerts = append(f.alerts, alert)
	if makeOutbox != nil {
		event, err := makeOutbox(alert)
		if err != nil {
			return models.Alert{}, false, err
		}
		f.outbox = append(f.outbox, event)
	}
	return alert, true, nil
}

func (f *fakeStore) AcknowledgeByID(_ context.Context, alertID uuid.UUID) (models.Alert, bool, error) {
	for i, alert := range f.alerts {
		if alert.AlertID != alertID {
			continue
		}
		if alert.AcknowledgedAt != nil {
			return alert, false, nil
		}
		now := time.Now().UTC()
		f.alerts[i].AcknowledgedAt = &now
		return f.alerts[i], true, nil
	}
	return models.Alert{}, false, repos.ErrNotFound
}

func (f *fakeStore) AcknowledgeOpenByType(_ context.Context, deviceID uuid.UUID, alertType string) (int, error) {
	closed := 0
	now := time.Now().UTC()
	for i, alert := range f.alerts {
		if alert.AcknowledgedAt == nil && alert.AlertType == alertType &&
			alert.DeviceID != nil && *alert.DeviceID == deviceID {
			f.alerts[i].AcknowledgedAt = &now
			closed++
		}
	}
	return closed, nil
}

func (f *fakeStore) CountOpenForDevice(_ context.Context, deviceID uuid.UUID) (int, error) {
	n := 0
	for _, alert := range f.alerts {
		if alert.AcknowledgedAt == nil && alert.DeviceID != nil && *alert.DeviceID == deviceID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) openAlerts(deviceID uuid.UUID, alertType string) []models.Alert {
	var out []models.Alert
	for _, alert := range f.alerts {
		if alert.AcknowledgedAt == nil && alert.AlertType == alertType &&
			alert.DeviceID != nil && *alert.DeviceID == deviceID {
			out = append(out, alert)
		}
	}
	return out
}

// fakeOccupancyStore adapts fakeStore to the OccupancyStore interface,
// whose Insert signature collides with the readings one.
type fakeOccupancyStore struct{ store *fakeStore }

func (f fakeOccupancyStore) Insert(ctx context.Context, event models.OccupancyEvent) (models.OccupancyEvent, error) {
	return f.store.InsertEvent(ctx, event)
}

// fakeMirror records mirrored readings and can be told to fail.
type fakeMirror struct {
	writes int
	err    error
}

func (m *fakeMirror) WriteReading(context.Context, string, string, string, float64, float64, float64, time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.writes++
	return nil
}
