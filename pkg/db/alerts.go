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
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/branchwatch/branchwatch/pkg/models"
)

const alertColumns = `id, device_id, rule_name, severity, message, value, threshold,
	triggered_at, resolved_at, acknowledged, acknowledged_by, acknowledged_at, notifications_sent`

// CreateAlertIfAbsent performs the conditional insert that enforces the
// one-active-alert-per-(device, rule) invariant. It returns false when an
// unresolved alert already exists; losing the insert race to a concurrent
// evaluator is treated the same way.
func (db *DB) CreateAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error) {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}

	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now()
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("db: begin alert insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO alert_history (id, device_id, rule_name, severity, message, value, threshold, triggered_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM alert_history
			WHERE device_id = $2 AND rule_name = $3 AND resolved_at IS NULL
		)`,
		alert.ID, alert.DeviceID, alert.RuleName, string(alert.Severity),
		alert.Message, alert.Value, alert.Threshold, alert.TriggeredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}

		return false, fmt.Errorf("db: conditional alert insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}

		return false, fmt.Errorf("db: commit alert insert: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ResolveAlerts resolves every unresolved alert of the device matching the
// given rule names and returns how many rows changed.
func (db *DB) ResolveAlerts(ctx context.Context, deviceID uuid.UUID, ruleNames []string, resolvedAt time.Time) (int64, error) {
	if len(ruleNames) == 0 {
		return 0, nil
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE alert_history SET resolved_at = $3
		WHERE device_id = $1 AND rule_name = ANY($2) AND resolved_at IS NULL`,
		deviceID, ruleNames, resolvedAt)
	if err != nil {
		return 0, fmt.Errorf("db: resolve alerts %s: %w", deviceID, err)
	}

	return tag.RowsAffected(), nil
}

// ResolveAlertByID resolves a single alert row (manual resolution).
func (db *DB) ResolveAlertByID(ctx context.Context, alertID uuid.UUID, resolvedAt time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE alert_history SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL`,
		alertID, resolvedAt)
	if err != nil {
		return fmt.Errorf("db: resolve alert %s: %w", alertID, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}

	return nil
}

// AcknowledgeAlert marks an alert acknowledged by an operator.
func (db *DB) AcknowledgeAlert(ctx context.Context, alertID uuid.UUID, who string, at time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE alert_history SET acknowledged = true, acknowledged_by = $2, acknowledged_at = $3
		WHERE id = $1`,
		alertID, who, at)
	if err != nil {
		return fmt.Errorf("db: acknowledge alert %s: %w", alertID, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}

	return nil
}

// ActiveAlerts returns the unresolved alerts of one device.
func (db *DB) ActiveAlerts(ctx context.Context, deviceID uuid.UUID) ([]*models.Alert, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM alert_history
		WHERE device_id = $1 AND resolved_at IS NULL
		ORDER BY triggered_at DESC`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("db: active alerts %s: %w", deviceID, err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListAlerts returns alerts matching the filter, newest first.
func (db *DB) ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alert_history WHERE 1=1`

	args := []interface{}{}

	if filter.DeviceID != nil {
		args = append(args, *filter.DeviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}

	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}

	if filter.ActiveOnly {
		query += " AND resolved_at IS NULL"
	}

	query += " ORDER BY triggered_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db: list alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ActiveAlertCounts is the bulk active-alert count keyed by device-id set;
// list endpoints must use this instead of per-device queries.
func (db *DB) ActiveAlertCounts(ctx context.Context, deviceIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(deviceIDs))

	if len(deviceIDs) == 0 {
		return counts, nil
	}

	rows, err := db.pool.Query(ctx,
		`SELECT device_id, count(*) FROM alert_history
		WHERE resolved_at IS NULL AND device_id = ANY($1)
		GROUP BY device_id`, deviceIDs)
	if err != nil {
		return nil, fmt.Errorf("db: active alert counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    uuid.UUID
			count int
		)

		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}

		counts[id] = count
	}

	return counts, rows.Err()
}

// IncrementNotifications bumps the delivery counter for an alert.
func (db *DB) IncrementNotifications(ctx context.Context, alertID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE alert_history SET notifications_sent = notifications_sent + 1 WHERE id = $1`,
		alertID)
	if err != nil {
		return fmt.Errorf("db: increment notifications %s: %w", alertID, err)
	}

	return nil
}

func collectAlerts(rows pgx.Rows) ([]*models.Alert, error) {
	var alerts []*models.Alert

	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}

		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		alert    models.Alert
		severity string
	)

	err := row.Scan(
		&alert.ID, &alert.DeviceID, &alert.RuleName, &severity, &alert.Message,
		&alert.Value, &alert.Threshold, &alert.TriggeredAt, &alert.ResolvedAt,
		&alert.Acknowledged, &alert.AcknowledgedBy, &alert.AcknowledgedAt, &alert.NotificationsSent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}

		return nil, fmt.Errorf("db: scan alert: %w", err)
	}

	alert.Severity = models.Severity(severity)

	return &alert, nil
}
