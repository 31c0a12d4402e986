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

// Severity orders alert importance from informational to critical.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns a comparable weight. Unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Built-in rule names. The evaluator derives these directly from device and
// interface rows; no expression DSL is interpreted for them.
const (
	RuleDeviceUnreachable = "Device Unreachable"
	RuleDeviceFlapping    = "Device Flapping"
	RuleHighLatency       = "High Latency"
	RulePacketLoss        = "Packet Loss"
	RuleInterfaceDown     = "Interface Down"
	RuleTrafficAnomaly    = "Traffic Anomaly"
)

// AlertRule is a configured alerting condition.
type AlertRule struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description,omitempty" db:"description"`
	Expression  string     `json:"expression,omitempty" db:"expression"`
	Severity    Severity   `json:"severity" db:"severity"`
	DeviceID    *uuid.UUID `json:"device_id,omitempty" db:"device_id"`
	BranchID    *uuid.UUID `json:"branch_id,omitempty" db:"branch_id"`
	Enabled     bool       `json:"enabled" db:"enabled"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Alert is one row of alert history. Append-only until resolved; at most one
// unresolved row exists per (device_id, rule_name).
type Alert struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	DeviceID          uuid.UUID  `json:"device_id" db:"device_id"`
	RuleName          string     `json:"rule_name" db:"rule_name"`
	Severity          Severity   `json:"severity" db:"severity"`
	Message           string     `json:"message" db:"message"`
	Value             float64    `json:"value" db:"value"`
	Threshold         float64    `json:"threshold" db:"threshold"`
	TriggeredAt       time.Time  `json:"triggered_at" db:"triggered_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	Acknowledged      bool       `json:"acknowledged" db:"acknowledged"`
	AcknowledgedBy    string     `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt    *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	NotificationsSent int        `json:"notifications_sent" db:"notifications_sent"`
}

// IsActive reports whether the alert is still unresolved.
func (a *Alert) IsActive() bool {
	return a.ResolvedAt == nil
}

// FaultSide is the ISP fault classifier verdict.
type FaultSide string

const (
	FaultCustomerSide FaultSide = "CUSTOMER_SIDE"
	FaultISPSide      FaultSide = "ISP_SIDE"
	FaultUndetermined FaultSide = "UNDETERMINED"
)

// FaultVerdict carries the classifier decision with its confidence and a
// human-readable explanation used in interface-level alert messages.
type FaultVerdict struct {
	Side       FaultSide `json:"side"`
	Confidence float64   `json:"confidence"`
	Message    string    `json:"message"`
}
