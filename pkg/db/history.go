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

	"github.com/google/uuid"

	"github.com/branchwatch/branchwatch/pkg/models"
)

// AppendStatusHistory records one reachability transition.
func (db *DB) AppendStatusHistory(ctx context.Context, entry *models.StatusHistoryEntry) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO device_status_history (device_id, old_status, new_status, changed_at)
		VALUES ($1,$2,$3,$4)`,
		entry.DeviceID, string(entry.OldStatus), string(entry.NewStatus), entry.ChangedAt)
	if err != nil {
		return fmt.Errorf("db: append status history %s: %w", entry.DeviceID, err)
	}

	return nil
}

// StatusHistory returns the transitions of one device inside [start, end],
// oldest first so uptime segments can be replayed in order.
func (db *DB) StatusHistory(ctx context.Context, deviceID uuid.UUID, start, end time.Time) ([]*models.StatusHistoryEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT device_id, old_status, new_status, changed_at
		FROM device_status_history
		WHERE device_id = $1 AND changed_at BETWEEN $2 AND $3
		ORDER BY changed_at`, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("db: status history %s: %w", deviceID, err)
	}
	defer rows.Close()

	var entries []*models.StatusHistoryEntry

	for rows.Next() {
		var (
			entry    models.StatusHistoryEntry
			from, to string
		)

		if err := rows.Scan(&entry.DeviceID, &from, &to, &entry.ChangedAt); err != nil {
			return nil, fmt.Errorf("db: scan status history: %w", err)
		}

		entry.OldStatus = models.DeviceStatus(from)
		entry.NewStatus = models.DeviceStatus(to)
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
