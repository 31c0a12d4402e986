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
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/branchwatch/branchwatch/pkg/models"
)

const interfaceColumns = `id, device_id, if_index, if_name, if_descr, if_alias, if_type,
	admin_status, oper_status, speed, mtu, phys_address,
	interface_type, isp_provider, is_critical, parser_confidence,
	connected_to_device_id, connected_to_interface_id,
	lldp_neighbor_name, lldp_neighbor_port,
	last_seen, created_at, updated_at`

// UpsertInterface inserts or refreshes an interface row keyed by
// (device_id, if_index). Discovery runs are idempotent.
func (db *DB) UpsertInterface(ctx context.Context, iface *models.Interface) error {
	if iface.ID == uuid.Nil {
		iface.ID = uuid.New()
	}

	query := `INSERT INTO device_interfaces (
			id, device_id, if_index, if_name, if_descr, if_alias, if_type,
			admin_status, oper_status, speed, mtu, phys_address,
			interface_type, isp_provider, is_critical, parser_confidence, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now())
		ON CONFLICT (device_id, if_index) DO UPDATE SET
			if_name = EXCLUDED.if_name,
			if_descr = EXCLUDED.if_descr,
			if_alias = EXCLUDED.if_alias,
			if_type = EXCLUDED.if_type,
			admin_status = EXCLUDED.admin_status,
			oper_status = EXCLUDED.oper_status,
			speed = EXCLUDED.speed,
			mtu = EXCLUDED.mtu,
			phys_address = EXCLUDED.phys_address,
			interface_type = EXCLUDED.interface_type,
			isp_provider = EXCLUDED.isp_provider,
			is_critical = EXCLUDED.is_critical,
			parser_confidence = EXCLUDED.parser_confidence,
			last_seen = now(),
			updated_at = now()`

	_, err := db.pool.Exec(ctx, query,
		iface.ID, iface.DeviceID, iface.IfIndex, iface.IfName, iface.IfDescr, iface.IfAlias, iface.IfType,
		iface.AdminStatus, iface.OperStatus, int64(iface.Speed), iface.MTU, iface.PhysAddress,
		string(iface.InterfaceType), iface.ISPProvider, iface.IsCritical, iface.ParserConfidence,
	)
	if err != nil {
		return fmt.Errorf("db: upsert interface %s/%d: %w", iface.DeviceID, iface.IfIndex, err)
	}

	return nil
}

// GetInterface loads one interface row.
func (db *DB) GetInterface(ctx context.Context, deviceID uuid.UUID, ifIndex int32) (*models.Interface, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+interfaceColumns+` FROM device_interfaces WHERE device_id = $1 AND if_index = $2`,
		deviceID, ifIndex)

	return scanInterface(row)
}

// ListInterfaces returns every interface of a device ordered by if_index.
func (db *DB) ListInterfaces(ctx context.Context, deviceID uuid.UUID) ([]*models.Interface, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+interfaceColumns+` FROM device_interfaces WHERE device_id = $1 ORDER BY if_index`,
		deviceID)
	if err != nil {
		return nil, fmt.Errorf("db: list interfaces %s: %w", deviceID, err)
	}
	defer rows.Close()

	return collectInterfaces(rows)
}

// ListCriticalInterfaces returns every critical, non-loopback interface.
// Loopbacks are stored but never count as critical monitoring targets.
func (db *DB) ListCriticalInterfaces(ctx context.Context) ([]*models.Interface, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+interfaceColumns+` FROM device_interfaces
		WHERE is_critical AND interface_type <> 'loopback'
		ORDER BY device_id, if_index`)
	if err != nil {
		return nil, fmt.Errorf("db: list critical interfaces: %w", err)
	}
	defer rows.Close()

	return collectInterfaces(rows)
}

// UpdateInterfaceStatus refreshes admin/oper status from the status poll.
func (db *DB) UpdateInterfaceStatus(ctx context.Context, deviceID uuid.UUID, ifIndex, adminStatus, operStatus int32) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE device_interfaces SET admin_status = $3, oper_status = $4, last_seen = now(), updated_at = now()
		WHERE device_id = $1 AND if_index = $2`,
		deviceID, ifIndex, adminStatus, operStatus)
	if err != nil {
		return fmt.Errorf("db: update interface status %s/%d: %w", deviceID, ifIndex, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrInterfaceNotFound
	}

	return nil
}

// UpdateInterfaceNeighbor writes the topology fields resolved by discovery.
func (db *DB) UpdateInterfaceNeighbor(ctx context.Context, iface *models.Interface) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE device_interfaces SET
			connected_to_device_id = $3,
			connected_to_interface_id = $4,
			lldp_neighbor_name = $5,
			lldp_neighbor_port = $6,
			updated_at = now()
		WHERE device_id = $1 AND if_index = $2`,
		iface.DeviceID, iface.IfIndex,
		iface.ConnectedToDeviceID, iface.ConnectedToInterfaceID,
		iface.LLDPNeighborName, iface.LLDPNeighborPort)
	if err != nil {
		return fmt.Errorf("db: update interface neighbor %s/%d: %w", iface.DeviceID, iface.IfIndex, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrInterfaceNotFound
	}

	return nil
}

// UpsertInterfaceSummary stores the cached 24h aggregate row.
func (db *DB) UpsertInterfaceSummary(ctx context.Context, summary *models.InterfaceSummary) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO interface_metrics_summary (
			interface_id, avg_in_mbps, avg_out_mbps, max_in_mbps, max_out_mbps,
			total_gb, in_errors, out_errors, in_discards, out_discards, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (interface_id) DO UPDATE SET
			avg_in_mbps = EXCLUDED.avg_in_mbps,
			avg_out_mbps = EXCLUDED.avg_out_mbps,
			max_in_mbps = EXCLUDED.max_in_mbps,
			max_out_mbps = EXCLUDED.max_out_mbps,
			total_gb = EXCLUDED.total_gb,
			in_errors = EXCLUDED.in_errors,
			out_errors = EXCLUDED.out_errors,
			in_discards = EXCLUDED.in_discards,
			out_discards = EXCLUDED.out_discards,
			computed_at = EXCLUDED.computed_at`,
		summary.InterfaceID, summary.AvgInMbps, summary.AvgOutMbps, summary.MaxInMbps, summary.MaxOutMbps,
		summary.TotalGB, int64(summary.InErrors), int64(summary.OutErrors),
		int64(summary.InDiscards), int64(summary.OutDiscards), summary.ComputedAt)
	if err != nil {
		return fmt.Errorf("db: upsert interface summary %s: %w", summary.InterfaceID, err)
	}

	return nil
}

// UpsertTopologyLink stores a neighbor adjacency keyed by the local port.
func (db *DB) UpsertTopologyLink(ctx context.Context, link *models.TopologyLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO network_topology (
			id, protocol, local_device_id, local_if_index,
			neighbor_device_id, neighbor_interface_id,
			neighbor_name, neighbor_port, neighbor_platform, discovered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (local_device_id, local_if_index) DO UPDATE SET
			protocol = EXCLUDED.protocol,
			neighbor_device_id = EXCLUDED.neighbor_device_id,
			neighbor_interface_id = EXCLUDED.neighbor_interface_id,
			neighbor_name = EXCLUDED.neighbor_name,
			neighbor_port = EXCLUDED.neighbor_port,
			neighbor_platform = EXCLUDED.neighbor_platform,
			discovered_at = EXCLUDED.discovered_at`,
		link.ID, link.Protocol, link.LocalDeviceID, link.LocalIfIndex,
		link.NeighborDeviceID, link.NeighborIfID,
		link.NeighborName, link.NeighborPort, link.NeighborPlatform, link.DiscoveredAt)
	if err != nil {
		return fmt.Errorf("db: upsert topology link %s/%d: %w", link.LocalDeviceID, link.LocalIfIndex, err)
	}

	return nil
}

func collectInterfaces(rows pgx.Rows) ([]*models.Interface, error) {
	var interfaces []*models.Interface

	for rows.Next() {
		iface, err := scanInterface(rows)
		if err != nil {
			return nil, err
		}

		interfaces = append(interfaces, iface)
	}

	return interfaces, rows.Err()
}

func scanInterface(row rowScanner) (*models.Interface, error) {
	var (
		iface models.Interface
		speed int64
		kind  string
	)

	err := row.Scan(
		&iface.ID, &iface.DeviceID, &iface.IfIndex, &iface.IfName, &iface.IfDescr, &iface.IfAlias, &iface.IfType,
		&iface.AdminStatus, &iface.OperStatus, &speed, &iface.MTU, &iface.PhysAddress,
		&kind, &iface.ISPProvider, &iface.IsCritical, &iface.ParserConfidence,
		&iface.ConnectedToDeviceID, &iface.ConnectedToInterfaceID,
		&iface.LLDPNeighborName, &iface.LLDPNeighborPort,
		&iface.LastSeen, &iface.CreatedAt, &iface.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInterfaceNotFound
		}

		return nil, fmt.Errorf("db: scan interface: %w", err)
	}

	iface.Speed = uint64(speed)
	iface.InterfaceType = models.InterfaceType(kind)

	return &iface, nil
}
