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

package models

import (
	"time"

	"github.com/google/uuid"
)

// InterfaceBaseline is one (interface, hour_of_day, day_of_week) traffic cell.
type InterfaceBaseline struct {
	InterfaceID  uuid.UUID `json:"interface_id" db:"interface_id"`
	HourOfDay    int       `json:"hour_of_day" db:"hour_of_day"`
	DayOfWeek    int       `json:"day_of_week" db:"day_of_week"`
	MeanInMbps   float64   `json:"mean_in_mbps" db:"mean_in_mbps"`
	StddevInMbps float64   `json:"stddev_in_mbps" db:"stddev_in_mbps"`
	MinInMbps    float64   `json:"min_in_mbps" db:"min_in_mbps"`
	MaxInMbps    float64   `json:"max_in_mbps" db:"max_in_mbps"`
	SampleCount  int       `json:"sample_count" db:"sample_count"`
	Confidence   float64   `json:"confidence" db:"confidence"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// MonitoringProfile gates optional engine features. Exactly one row may be
// active at a time; the constraint lives in the relational store.
type MonitoringProfile struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Mode      string    `json:"mode" db:"mode"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
