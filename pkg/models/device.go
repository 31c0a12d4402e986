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

// Package models defines the entities shared across the monitoring engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// StatusRingSize bounds the per-device transition ring. Only the most recent
// transitions matter for flap detection.
const StatusRingSize = 10

// DeviceStatus is the reachability state derived from ping samples.
type DeviceStatus string

const (
	DeviceStatusUp       DeviceStatus = "up"
	DeviceStatusDown     DeviceStatus = "down"
	DeviceStatusFlapping DeviceStatus = "flapping"
	DeviceStatusUnknown  DeviceStatus = "unknown"
)

// Device is a monitored network element (router, switch, AP, ATM, NVR, uplink).
type Device struct {
	ID          uuid.UUID `json:"id" db:"id"`
	IP          string    `json:"ip" db:"device_ip"`
	Hostname    string    `json:"hostname,omitempty" db:"hostname"`
	DisplayName string    `json:"display_name,omitempty" db:"display_name"`
	Vendor      string    `json:"vendor,omitempty" db:"vendor"`
	DeviceType  string    `json:"device_type,omitempty" db:"device_type"`

	BranchID     *uuid.UUID        `json:"branch_id,omitempty" db:"branch_id"`
	Region       string            `json:"region,omitempty" db:"region"`
	Tags         []string          `json:"tags,omitempty" db:"tags"`
	CustomFields map[string]string `json:"custom_fields,omitempty" db:"custom_fields"`

	MonitoringEnabled bool   `json:"monitoring_enabled" db:"monitoring_enabled"`
	SNMPVersion       string `json:"snmp_version,omitempty" db:"snmp_version"`
	// SNMPCredential holds the AES-GCM-encrypted credential payload.
	// Plaintext only ever exists inside the SNMP prober.
	SNMPCredential string `json:"-" db:"snmp_credential"`
	SNMPPort       uint16 `json:"snmp_port,omitempty" db:"snmp_port"`

	DownSince         *time.Time  `json:"down_since,omitempty" db:"down_since"`
	IsFlapping        bool        `json:"is_flapping" db:"is_flapping"`
	FlapCount         int         `json:"flap_count" db:"flap_count"`
	FlappingSince     *time.Time  `json:"flapping_since,omitempty" db:"flapping_since"`
	StatusChangeTimes []time.Time `json:"status_change_times,omitempty" db:"status_change_times"`

	SysObjectID string    `json:"sys_object_id,omitempty" db:"sys_object_id"`
	LastSeen    time.Time `json:"last_seen" db:"last_seen"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// IsUp reports reachability derived from down-since accounting:
// down_since == nil exactly when the last processed ping sample was UP.
func (d *Device) IsUp() bool {
	return d.DownSince == nil
}

// Status folds the state fields into a presentation status.
func (d *Device) Status() DeviceStatus {
	switch {
	case d.IsFlapping:
		return DeviceStatusFlapping
	case d.DownSince != nil:
		return DeviceStatusDown
	default:
		return DeviceStatusUp
	}
}

// IsISPLink reports whether the device is an ISP uplink per the addressing
// convention: the IP's final octet is .5. ISP links get stricter thresholds.
func (d *Device) IsISPLink() bool {
	return isLastOctetFive(d.IP)
}

func isLastOctetFive(ip string) bool {
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == '.' {
			return ip[i+1:] == "5"
		}
	}

	return false
}

// StatusChange is a single reachability transition published on the change stream.
type StatusChange struct {
	DeviceID  uuid.UUID    `json:"device_id"`
	DeviceIP  string       `json:"device_ip"`
	OldStatus DeviceStatus `json:"old_status"`
	NewStatus DeviceStatus `json:"new_status"`
	Timestamp time.Time    `json:"timestamp"`
}

// Branch is the organizational grouping devices belong to.
type Branch struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Region    string    `json:"region,omitempty" db:"region"`
	Address   string    `json:"address,omitempty" db:"address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
