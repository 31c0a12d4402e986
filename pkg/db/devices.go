/*
 * Copyright 2025 BranchWatch Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/branchwatch/branchwatch/pkg/models"
)

const deviceColumns = `id, device_ip, hostname, display_name, vendor, device_type,
	branch_id, region, tags, custom_fields, monitoring_enabled,
	snmp_version, snmp_credential, snmp_port,
	down_since, is_flapping, flap_count, flapping_since, status_change_times,
	sys_object_id, last_seen, created_at, updated_at`

// UpsertDevice inserts or updates a device keyed by its IP. Importing the same
// device set twice yields the same rows; state fields are never touched here —
// they belong to the ping worker.
func (db *DB) UpsertDevice(ctx context.Context, device *models.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	customFields, err := json.Marshal(orEmptyMap(device.CustomFields))
	if err != nil {
		return fmt.Errorf("db: marshal custom fields: %w", err)
	}

	query := `INSERT INTO standalone_devices (
			id, device_ip, hostname, display_name, vendor, device_type,
			branch_id, region, tags, custom_fields, monitoring_enabled,
			snmp_version, snmp_credential, snmp_port)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (device_ip) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			display_name = EXCLUDED.display_name,
			vendor = EXCLUDED.vendor,
			device_type = EXCLUDED.device_type,
			branch_id = EXCLUDED.branch_id,
			region = EXCLUDED.region,
			tags = EXCLUDED.tags,
			custom_fields = EXCLUDED.custom_fields,
			monitoring_enabled = EXCLUDED.monitoring_enabled,
			snmp_version = EXCLUDED.snmp_version,
			snmp_credential = EXCLUDED.snmp_credential,
			snmp_port = EXCLUDED.snmp_port,
			updated_at = now()`

	_, err = db.pool.Exec(ctx, query,
		device.ID, device.IP, device.Hostname, device.DisplayName, device.Vendor, device.DeviceType,
		device.BranchID, device.Region, orEmptySlice(device.Tags), customFields, device.MonitoringEnabled,
		device.SNMPVersion, device.SNMPCredential, int32(device.SNMPPort),
	)
	if err != nil {
		return fmt.Errorf("db: upsert device %s: %w", device.IP, err)
	}

	return nil
}

// GetDevice loads one device row by ID.
func (db *DB) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM standalone_devices WHERE id = $1`, id)

	return scanDevice(row)
}

// GetDeviceByIP loads one device row by IP.
func (db *DB) GetDeviceByIP(ctx context.Context, ip string) (*models.Device, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM standalone_devices WHERE device_ip = $1`, ip)

	return scanDevice(row)
}

// ListDevices returns devices matching the filter, ordered by IP.
func (db *DB) ListDevices(ctx context.Context, filter DeviceFilter) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM standalone_devices WHERE 1=1`

	args := []interface{}{}

	if filter.Region != "" {
		args = append(args, filter.Region)
		query += fmt.Sprintf(" AND region = $%d", len(args))
	}

	if filter.BranchID != nil {
		args = append(args, *filter.BranchID)
		query += fmt.Sprintf(" AND branch_id = $%d", len(args))
	}

	if filter.DeviceType != "" {
		args = append(args, filter.DeviceType)
		query += fmt.Sprintf(" AND device_type = $%d", len(args))
	}

	if filter.EnabledOnly {
		query += " AND monitoring_enabled"
	}

	query += " ORDER BY device_ip"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db: list devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device

	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}

		devices = append(devices, device)
	}

	return devices, rows.Err()
}

// ListEnabledDeviceIDs returns the IDs of every device with monitoring on.
// This is the dispatcher's source for batch coverage.
func (db *DB) ListEnabledDeviceIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id FROM standalone_devices WHERE monitoring_enabled ORDER BY device_ip`)
	if err != nil {
		return nil, fmt.Errorf("db: list enabled device ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// UpdateDeviceState writes the state-machine fields. Only the worker that
// observed the transition calls this; per-device ordering is serialized by the
// row lock.
func (db *DB) UpdateDeviceState(ctx context.Context, id uuid.UUID, update DeviceStateUpdate) error {
	ring, err := json.Marshal(update.StatusChangeTimes)
	if err != nil {
		return fmt.Errorf("db: marshal status ring: %w", err)
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE standalone_devices SET
			down_since = $2,
			is_flapping = $3,
			flap_count = $4,
			flapping_since = $5,
			status_change_times = $6,
			last_seen = $7,
			updated_at = now()
		WHERE id = $1`,
		id, update.DownSince, update.IsFlapping, update.FlapCount,
		update.FlappingSince, ring, update.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("db: update device state %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// UpdateDeviceSysObjectID records the detected sysObjectID used for vendor
// OID selection.
func (db *DB) UpdateDeviceSysObjectID(ctx context.Context, id uuid.UUID, sysObjectID string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE standalone_devices SET sys_object_id = $2, updated_at = now() WHERE id = $1`,
		id, sysObjectID)
	if err != nil {
		return fmt.Errorf("db: update sys_object_id %s: %w", id, err)
	}

	return nil
}

// DeleteDevice removes a device; interfaces, alerts and scoped rules cascade.
func (db *DB) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM standalone_devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db: delete device %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// InsertPingResult appends one reachability row backing the bulk lookups.
func (db *DB) InsertPingResult(ctx context.Context, sample *models.PingSample) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO ping_results (device_ip, timestamp, is_reachable, avg_rtt_ms, packet_loss_pct)
		VALUES ($1,$2,$3,$4,$5)`,
		sample.DeviceIP, sample.Timestamp, sample.IsReachable, sample.AvgRTTMs, sample.PacketLoss)
	if err != nil {
		return fmt.Errorf("db: insert ping result %s: %w", sample.DeviceIP, err)
	}

	return nil
}

// LatestPings is the bulk latest-ping lookup keyed by IP set; list endpoints
// must use this instead of per-device queries.
func (db *DB) LatestPings(ctx context.Context, ips []string) (map[string]LatestPing, error) {
	result := make(map[string]LatestPing, len(ips))

	if len(ips) == 0 {
		return result, nil
	}

	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT ON (device_ip)
			device_ip, timestamp, is_reachable, avg_rtt_ms, packet_loss_pct
		FROM ping_results
		WHERE device_ip = ANY($1)
		ORDER BY device_ip, timestamp DESC`, ips)
	if err != nil {
		return nil, fmt.Errorf("db: latest pings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lp LatestPing
		if err := rows.Scan(&lp.DeviceIP, &lp.Timestamp, &lp.IsReachable, &lp.AvgRTTMs, &lp.PacketLoss); err != nil {
			return nil, err
		}

		result[lp.DeviceIP] = lp
	}

	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var (
		device       models.Device
		customFields []byte
		ring         []byte
		snmpPort     int32
	)

	err := row.Scan(
		&device.ID, &device.IP, &device.Hostname, &device.DisplayName, &device.Vendor, &device.DeviceType,
		&device.BranchID, &device.Region, &device.Tags, &customFields, &device.MonitoringEnabled,
		&device.SNMPVersion, &device.SNMPCredential, &snmpPort,
		&device.DownSince, &device.IsFlapping, &device.FlapCount, &device.FlappingSince, &ring,
		&device.SysObjectID, &device.LastSeen, &device.CreatedAt, &device.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}

		return nil, fmt.Errorf("db: scan device: %w", err)
	}

	device.SNMPPort = uint16(snmpPort)

	if len(customFields) > 0 {
		if err := json.Unmarshal(customFields, &device.CustomFields); err != nil {
			return nil, fmt.Errorf("db: unmarshal custom fields: %w", err)
		}
	}

	if len(ring) > 0 {
		var times []time.Time
		if err := json.Unmarshal(ring, &times); err != nil {
			return nil, fmt.Errorf("db: unmarshal status ring: %w", err)
		}

		device.StatusChangeTimes = times
	}

	return &device, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}

	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}
