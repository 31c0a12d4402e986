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

// ActiveProfile returns the single active monitoring profile.
func (db *DB) ActiveProfile(ctx context.Context) (*models.MonitoringProfile, error) {
	var profile models.MonitoringProfile

	err := db.pool.QueryRow(ctx,
		`SELECT id, name, mode, is_active, created_at FROM monitoring_profiles WHERE is_active`).
		Scan(&profile.ID, &profile.Name, &profile.Mode, &profile.IsActive, &profile.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}

		return nil, fmt.Errorf("db: active profile: %w", err)
	}

	return &profile, nil
}

// ActivateProfile switches the active profile in one transaction so the
// partial unique index never observes two active rows.
func (db *DB) ActivateProfile(ctx context.Context, id uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: begin profile switch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE monitoring_profiles SET is_active = false WHERE is_active`); err != nil {
		return fmt.Errorf("db: deactivate profiles: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE monitoring_profiles SET is_active = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db: activate profile %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db: commit profile switch: %w", err)
	}

	return nil
}
