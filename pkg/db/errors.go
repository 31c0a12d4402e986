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
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDeviceNotFound indicates the requested device row does not exist.
	ErrDeviceNotFound = errors.New("db: device not found")
	// ErrInterfaceNotFound indicates the requested interface row does not exist.
	ErrInterfaceNotFound = errors.New("db: interface not found")
	// ErrAlertNotFound indicates the requested alert row does not exist.
	ErrAlertNotFound = errors.New("db: alert not found")
	// ErrProfileNotFound indicates no monitoring profile matched.
	ErrProfileNotFound = errors.New("db: monitoring profile not found")
	// ErrBaselineNotFound indicates the requested baseline cell does not exist.
	ErrBaselineNotFound = errors.New("db: baseline cell not found")
)

const pgUniqueViolation = "23505"

// isUniqueViolation reports whether the error is a unique-constraint race.
// Losing the conditional-insert race is not an error for callers.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
