package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parking-lot-monitoring-system/monitor/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type DevicesRepo struct {
	pool *pgxpool.Pool
}

func NewDevicesRepo(pool *pgxpool.Pool) *DevicesRepo {
	return &DevicesRepo{pool: pool}
}

func (r *DevicesRepo) CreateFacility(ctx context.Context, name string, code *string, address string) (models.Facility, error) {
	f := models.Facility{FacilityID: uuid.New(), Name: name, Code: code, Address: address, CreatedAt: time.Now().UTC()}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO facilities (facility_id, name, code, address, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING facility_id, name, code, address, created_at
	`, f.FacilityID, f.Name, f.Code, f.Address, f.CreatedAt).
		Scan(&f.FacilityID, &f.Name, &f.Code, &f.Address, &f.CreatedAt)
	if isUniqueViolation(err) {
		return models.Facility{}, ErrConflict
	}
	return f, err
}

func (r *DevicesRepo) CreateZone(ctx context.Context, facilityID uuid.UUID, name, code string) (models.Zone, error) {
	z := models.Zone{ZoneID: uuid.New(), FacilityID: facilityID, Name: name, Code: code, CreatedAt: time.Now().UTC()}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO zones (zone_id, facility_id, name, code, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING zone_id, facility_id, name, code, created_at
	`, z.ZoneID, z.FacilityID, z.Name, z.Code, z.CreatedAt).
		Scan(&z.ZoneID, &z.FacilityID, &z.Name, &z.Code, &z.CreatedAt)
	if isUniqueViolation(err) {
		return models.Zone{}, ErrConflict
	}
	return z, err
}

func (r *DevicesRepo) CreateDevice(ctx context.Context, zoneID uuid.UUID, code, name string) (models.Device, error) {
	d := models.Device{DeviceID: uuid.New(), ZoneID: zoneID, Code: code, Name: name, CreatedAt: time.Now().UTC()}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO devices (device_id, zone_id, code, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING device_id, zone_id, code, name, created_at
	`, d.DeviceID, d.ZoneID, d.Code, d.Name, d.CreatedAt).
		Scan(&d.DeviceID, &d.ZoneID, &d.Code, &d.Name, &d.CreatedAt)
	if isUniqueViolation(err) {
		return models.Device{}, ErrConflict
	}
	return d, err
}

func (r *DevicesRepo) GetDeviceByCode(ctx context.Context, code string) (models.Device, error) {
	var d models.Device
	err := r.pool.QueryRow(ctx, `
		SELECT device_id, zone_id, code, name, created_at
		FROM devices
		WHERE code = $1
	`, code).Scan(&d.DeviceID, &d.ZoneID, &d.Code, &d.Name, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Device{}, ErrNotFound
	}
	return d, err
}

func (r *DevicesRepo) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT device_id, zone_id, code, name, created_at
		FROM devices
		ORDER BY code ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.DeviceID, &d.ZoneID, &d.Code, &d.Name, &d.CreatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeviceContext carries the zone and facility labels for a device,
// used for Influx tags and the status endpoint.
type DeviceContext struct {
	Device       models.Device
	ZoneCode     string
	FacilityID   uuid.UUID
	FacilityName string
}

func (r *DevicesRepo) GetDeviceContext(ctx context.Context, deviceID uuid.UUID) (DeviceContext, error) {
	var dc DeviceContext
	err := r.pool.QueryRow(ctx, `
		SELECT d.device_id, d.zone_id, d.code, d.name, d.created_at, z.code, f.facility_id, f.name
		FROM devices d
		JOIN zones z ON z.zone_id = d.zone_id
		JOIN facilities f ON f.facility_id = z.facility_id
		WHERE d.device_id = $1
	`, deviceID).Scan(
		&dc.Device.DeviceID, &dc.Device.ZoneID, &dc.Device.Code, &dc.Device.Name, &dc.Device.CreatedAt,
		&dc.ZoneCode, &dc.FacilityID, &dc.FacilityName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeviceContext{}, ErrNotFound
	}
	return dc, err
}

// ListDeviceContexts lists the fleet ordered by device code. Facility
// and zone filters are optional.
func (r *DevicesRepo) ListDeviceContexts(ctx context.Context, facilityID, zoneID *uuid.UUID) ([]DeviceContext, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.device_id, d.zone_id, d.code, d.name, d.created_at, z.code, f.facility_id, f.name
		FROM devices d
		JOIN zones z ON z.zone_id = d.zone_id
		JOIN facilities f ON f.facility_id = z.facility_id
		WHERE ($1::uuid IS NULL OR f.facility_id = $1)
			AND ($2::uuid IS NULL OR z.zone_id = $2)
		ORDER BY d.code ASC
	`, facilityID, zoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeviceContext
	for rows.Next() {
		var dc DeviceContext
		if err := rows.Scan(
			&dc.Device.DeviceID, &dc.Device.ZoneID, &dc.Device.Code, &dc.Device.Name, &dc.Device.CreatedAt,
			&dc.ZoneCode, &dc.FacilityID, &dc.FacilityName,
		); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}
