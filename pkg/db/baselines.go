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

// UpsertBaseline writes one (interface, hour, day-of-week) traffic cell.
func (db *DB) UpsertBaseline(ctx context.Context, cell *models.InterfaceBaseline) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO interface_baselines (
			interface_id, hour_of_day, day_of_week,
			mean_in_mbps, stddev_in_mbps, min_in_mbps, max_in_mbps,
			sample_count, confidence, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		ON CONFLICT (interface_id, hour_of_day, day_of_week) DO UPDATE SET
			mean_in_mbps = EXCLUDED.mean_in_mbps,
			stddev_in_mbps = EXCLUDED.stddev_in_mbps,
			min_in_mbps = EXCLUDED.min_in_mbps,
			max_in_mbps = EXCLUDED.max_in_mbps,
			sample_count = EXCLUDED.sample_count,
			confidence = EXCLUDED.confidence,
			updated_at = now()`,
		cell.InterfaceID, cell.HourOfDay, cell.DayOfWeek,
		cell.MeanInMbps, cell.StddevInMbps, cell.MinInMbps, cell.MaxInMbps,
		cell.SampleCount, cell.Confidence)
	if err != nil {
		return fmt.Errorf("db: upsert baseline %s/%d/%d: %w", cell.InterfaceID, cell.HourOfDay, cell.DayOfWeek, err)
	}

	return nil
}

// GetBaseline loads one baseline cell.
func (db *DB) GetBaseline(ctx context.Context, interfaceID uuid.UUID, hour, dow int) (*models.InterfaceBaseline, error) {
	var cell models.InterfaceBaseline

	err := db.pool.QueryRow(ctx,
		`SELECT interface_id, hour_of_day, day_of_week,
			mean_in_mbps, stddev_in_mbps, min_in_mbps, max_in_mbps,
			sample_count, confidence, updated_at
		FROM interface_baselines
		WHERE interface_id = $1 AND hour_of_day = $2 AND day_of_week = $3`,
		interfaceID, hour, dow).
		Scan(&cell.InterfaceID, &cell.HourOfDay, &cell.DayOfWeek,
			&cell.MeanInMbps, &cell.StddevInMbps, &cell.MinInMbps, &cell.MaxInMbps,
			&cell.SampleCount, &cell.Confidence, &cell.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBaselineNotFound
		}

		return nil, fmt.Errorf("db: get baseline %s/%d/%d: %w", interfaceID, hour, dow, err)
	}

	return &cell, nil
}
