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

	"github.com/google/uuid"

	"github.com/branchwatch/branchwatch/pkg/models"
)

// UpsertAlertRule inserts or updates a rule keyed by its unique name.
func (db *DB) UpsertAlertRule(ctx context.Context, rule *models.AlertRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO alert_rules (id, name, description, expression, severity, device_id, branch_id, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			expression = EXCLUDED.expression,
			severity = EXCLUDED.severity,
			device_id = EXCLUDED.device_id,
			branch_id = EXCLUDED.branch_id,
			enabled = EXCLUDED.enabled`,
		rule.ID, rule.Name, rule.Description, rule.Expression, string(rule.Severity),
		rule.DeviceID, rule.BranchID, rule.Enabled)
	if err != nil {
		return fmt.Errorf("db: upsert alert rule %q: %w", rule.Name, err)
	}

	return nil
}

// ListAlertRules returns the configured rules, optionally only enabled ones.
func (db *DB) ListAlertRules(ctx context.Context, enabledOnly bool) ([]*models.AlertRule, error) {
	query := `SELECT id, name, description, expression, severity, device_id, branch_id, enabled, created_at
		FROM alert_rules`
	if enabledOnly {
		query += ` WHERE enabled`
	}

	query += ` ORDER BY name`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db: list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule

	for rows.Next() {
		var (
			rule     models.AlertRule
			severity string
		)

		err := rows.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.Expression, &severity,
			&rule.DeviceID, &rule.BranchID, &rule.Enabled, &rule.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("db: scan alert rule: %w", err)
		}

		rule.Severity = models.Severity(severity)
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}
