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
	"fmt"
)

// migrations are idempotent DDL statements applied at startup, in order.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS branches (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		region TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS standalone_devices (
		id UUID PRIMARY KEY,
		device_ip TEXT NOT NULL UNIQUE,
		hostname TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		vendor TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		branch_id UUID REFERENCES branches(id) ON DELETE SET NULL,
		region TEXT NOT NULL DEFAULT '',
		tags TEXT[] NOT NULL DEFAULT '{}',
		custom_fields JSONB NOT NULL DEFAULT '{}',
		monitoring_enabled BOOLEAN NOT NULL DEFAULT true,
		snmp_version TEXT NOT NULL DEFAULT 'v2c',
		snmp_credential TEXT NOT NULL DEFAULT '',
		snmp_port INTEGER NOT NULL DEFAULT 161,
		down_since TIMESTAMPTZ,
		is_flapping BOOLEAN NOT NULL DEFAULT false,
		flap_count INTEGER NOT NULL DEFAULT 0,
		flapping_since TIMESTAMPTZ,
		status_change_times JSONB NOT NULL DEFAULT '[]',
		sys_object_id TEXT NOT NULL DEFAULT '',
		last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS ping_results (
		device_ip TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		is_reachable BOOLEAN NOT NULL,
		avg_rtt_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
		packet_loss_pct DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ping_results_ip_ts
		ON ping_results (device_ip, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS device_interfaces (
		id UUID PRIMARY KEY,
		device_id UUID NOT NULL REFERENCES standalone_devices(id) ON DELETE CASCADE,
		if_index INTEGER NOT NULL,
		if_name TEXT NOT NULL DEFAULT '',
		if_descr TEXT NOT NULL DEFAULT '',
		if_alias TEXT NOT NULL DEFAULT '',
		if_type INTEGER NOT NULL DEFAULT 0,
		admin_status INTEGER NOT NULL DEFAULT 0,
		oper_status INTEGER NOT NULL DEFAULT 0,
		speed BIGINT NOT NULL DEFAULT 0,
		mtu INTEGER NOT NULL DEFAULT 0,
		phys_address TEXT NOT NULL DEFAULT '',
		interface_type TEXT NOT NULL DEFAULT 'other',
		isp_provider TEXT NOT NULL DEFAULT '',
		is_critical BOOLEAN NOT NULL DEFAULT false,
		parser_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		connected_to_device_id UUID,
		connected_to_interface_id UUID,
		lldp_neighbor_name TEXT NOT NULL DEFAULT '',
		lldp_neighbor_port TEXT NOT NULL DEFAULT '',
		last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (device_id, if_index)
	)`,

	`CREATE TABLE IF NOT EXISTS interface_metrics_summary (
		interface_id UUID PRIMARY KEY REFERENCES device_interfaces(id) ON DELETE CASCADE,
		avg_in_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_out_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_in_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_out_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_gb DOUBLE PRECISION NOT NULL DEFAULT 0,
		in_errors BIGINT NOT NULL DEFAULT 0,
		out_errors BIGINT NOT NULL DEFAULT 0,
		in_discards BIGINT NOT NULL DEFAULT 0,
		out_discards BIGINT NOT NULL DEFAULT 0,
		computed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS interface_baselines (
		interface_id UUID NOT NULL REFERENCES device_interfaces(id) ON DELETE CASCADE,
		hour_of_day INTEGER NOT NULL,
		day_of_week INTEGER NOT NULL,
		mean_in_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
		stddev_in_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
		min_in_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_in_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
		sample_count INTEGER NOT NULL DEFAULT 0,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (interface_id, hour_of_day, day_of_week)
	)`,

	`CREATE TABLE IF NOT EXISTS alert_rules (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		expression TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'MEDIUM',
		device_id UUID REFERENCES standalone_devices(id) ON DELETE CASCADE,
		branch_id UUID REFERENCES branches(id) ON DELETE CASCADE,
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS alert_history (
		id UUID PRIMARY KEY,
		device_id UUID NOT NULL REFERENCES standalone_devices(id) ON DELETE CASCADE,
		rule_name TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		value DOUBLE PRECISION NOT NULL DEFAULT 0,
		threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
		triggered_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		acknowledged BOOLEAN NOT NULL DEFAULT false,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		acknowledged_at TIMESTAMPTZ,
		notifications_sent INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_history_device_resolved
		ON alert_history (device_id, resolved_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_history_one_active
		ON alert_history (device_id, rule_name) WHERE resolved_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS monitoring_profiles (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		mode TEXT NOT NULL DEFAULT 'standard',
		is_active BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_monitoring_profiles_one_active
		ON monitoring_profiles (is_active) WHERE is_active`,

	`CREATE TABLE IF NOT EXISTS network_topology (
		id UUID PRIMARY KEY,
		protocol TEXT NOT NULL,
		local_device_id UUID NOT NULL REFERENCES standalone_devices(id) ON DELETE CASCADE,
		local_if_index INTEGER NOT NULL,
		neighbor_device_id UUID REFERENCES standalone_devices(id) ON DELETE SET NULL,
		neighbor_interface_id UUID REFERENCES device_interfaces(id) ON DELETE SET NULL,
		neighbor_name TEXT NOT NULL DEFAULT '',
		neighbor_port TEXT NOT NULL DEFAULT '',
		neighbor_platform TEXT NOT NULL DEFAULT '',
		discovered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (local_device_id, local_if_index)
	)`,

	`CREATE TABLE IF NOT EXISTS device_status_history (
		device_id UUID NOT NULL REFERENCES standalone_devices(id) ON DELETE CASCADE,
		old_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_status_history_device_ts
		ON device_status_history (device_id, changed_at DESC)`,
}

// Migrate applies the schema. Statements are idempotent so restarts are safe.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("db: migration %d failed: %w", i, err)
		}
	}

	return nil
}
