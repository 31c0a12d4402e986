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
	"time"
)

// Cleanup prunes aged rows: raw ping results, resolved alerts and stale
// discovery data. Active alerts are never touched.
func (db *DB) Cleanup(ctx context.Context, pingOlderThan, resolvedOlderThan, discoveryOlderThan time.Duration) (CleanupStats, error) {
	var stats CleanupStats

	now := time.Now()

	tag, err := db.pool.Exec(ctx,
		`DELETE FROM ping_results WHERE timestamp < $1`, now.Add(-pingOlderThan))
	if err != nil {
		return stats, fmt.Errorf("db: cleanup ping results: %w", err)
	}

	stats.PingResults = tag.RowsAffected()

	tag, err = db.pool.Exec(ctx,
		`DELETE FROM alert_history WHERE resolved_at IS NOT NULL AND resolved_at < $1`,
		now.Add(-resolvedOlderThan))
	if err != nil {
		return stats, fmt.Errorf("db: cleanup resolved alerts: %w", err)
	}

	stats.ResolvedAlerts = tag.RowsAffected()

	tag, err = db.pool.Exec(ctx,
		`DELETE FROM network_topology WHERE discovered_at < $1`, now.Add(-discoveryOlderThan))
	if err != nil {
		return stats, fmt.Errorf("db: cleanup topology: %w", err)
	}

	stats.TopologyLinks = tag.RowsAffected()

	tag, err = db.pool.Exec(ctx,
		`DELETE FROM device_status_history WHERE changed_at < $1`, now.Add(-discoveryOlderThan))
	if err != nil {
		return stats, fmt.Errorf("db: cleanup status history: %w", err)
	}

	stats.StatusHistory = tag.RowsAffected()

	return stats, nil
}
