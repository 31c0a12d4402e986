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

// Sample is one labeled time-series point.
type Sample struct {
	Metric    string            `json:"metric"`
	Labels    map[string]string `json:"labels,omitempty"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
}

// PingResult is the outcome of one ICMP probe of a single host.
type PingResult struct {
	IP          string        `json:"ip"`
	Sent        int           `json:"sent"`
	Received    int           `json:"received"`
	PacketLoss  float64       `json:"packet_loss_pct"`
	MinRTT      time.Duration `json:"min_rtt"`
	AvgRTT      time.Duration `json:"avg_rtt"`
	MaxRTT      time.Duration `json:"max_rtt"`
	IsAlive     bool          `json:"is_alive"`
	ProbedAt    time.Time     `json:"probed_at"`
}

// PingSample is the latest stored reachability observation for a device.
type PingSample struct {
	DeviceID    uuid.UUID `json:"device_id"`
	DeviceIP    string    `json:"device_ip"`
	Timestamp   time.Time `json:"timestamp"`
	IsReachable bool      `json:"is_reachable"`
	AvgRTTMs    float64   `json:"avg_rtt_ms"`
	PacketLoss  float64   `json:"packet_loss_pct"`
}

// StatusHistoryEntry is one persisted reachability transition.
type StatusHistoryEntry struct {
	DeviceID  uuid.UUID    `json:"device_id" db:"device_id"`
	OldStatus DeviceStatus `json:"old_status" db:"old_status"`
	NewStatus DeviceStatus `json:"new_status" db:"new_status"`
	ChangedAt time.Time    `json:"changed_at" db:"changed_at"`
}
