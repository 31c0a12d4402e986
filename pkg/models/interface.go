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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InterfaceType is the classified role of a device interface.
type InterfaceType string

const (
	InterfaceTypeISP        InterfaceType = "isp"
	InterfaceTypeTrunk      InterfaceType = "trunk"
	InterfaceTypeAccess     InterfaceType = "access"
	InterfaceTypeServerLink InterfaceType = "server_link"
	InterfaceTypeBranchLink InterfaceType = "branch_link"
	InterfaceTypeManagement InterfaceType = "management"
	InterfaceTypeLoopback   InterfaceType = "loopback"
	InterfaceTypeVoice      InterfaceType = "voice"
	InterfaceTypeCamera     InterfaceType = "camera"
	InterfaceTypeOther      InterfaceType = "other"
)

// IF-MIB admin/oper status values.
const (
	IfStatusUp   int32 = 1
	IfStatusDown int32 = 2
)

// Interface is a device interface row keyed by (device_id, if_index).
type Interface struct {
	ID       uuid.UUID `json:"id" db:"id"`
	DeviceID uuid.UUID `json:"device_id" db:"device_id"`
	IfIndex  int32     `json:"if_index" db:"if_index"`

	IfName       string `json:"if_name,omitempty" db:"if_name"`
	IfDescr      string `json:"if_descr,omitempty" db:"if_descr"`
	IfAlias      string `json:"if_alias,omitempty" db:"if_alias"`
	IfType       int32  `json:"if_type,omitempty" db:"if_type"`
	AdminStatus  int32  `json:"admin_status,omitempty" db:"admin_status"`
	OperStatus   int32  `json:"oper_status,omitempty" db:"oper_status"`
	Speed        uint64 `json:"speed,omitempty" db:"speed"`
	MTU          int32  `json:"mtu,omitempty" db:"mtu"`
	PhysAddress  string `json:"phys_address,omitempty" db:"phys_address"`

	InterfaceType    InterfaceType `json:"interface_type" db:"interface_type"`
	ISPProvider      string        `json:"isp_provider,omitempty" db:"isp_provider"`
	IsCritical       bool          `json:"is_critical" db:"is_critical"`
	ParserConfidence float64       `json:"parser_confidence" db:"parser_confidence"`

	ConnectedToDeviceID    *uuid.UUID `json:"connected_to_device_id,omitempty" db:"connected_to_device_id"`
	ConnectedToInterfaceID *uuid.UUID `json:"connected_to_interface_id,omitempty" db:"connected_to_interface_id"`
	LLDPNeighborName       string     `json:"lldp_neighbor_name,omitempty" db:"lldp_neighbor_name"`
	LLDPNeighborPort       string     `json:"lldp_neighbor_port,omitempty" db:"lldp_neighbor_port"`

	LastSeen  time.Time `json:"last_seen" db:"last_seen"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayName prefers ifName, then ifDescr, then the raw index.
func (i *Interface) DisplayName() string {
	switch {
	case i.IfName != "":
		return i.IfName
	case i.IfDescr != "":
		return i.IfDescr
	default:
		return fmt.Sprintf("if%d", i.IfIndex)
	}
}

// IsLoopback reports whether the interface was classified as a loopback.
// Loopbacks are recorded but excluded from critical monitoring.
func (i *Interface) IsLoopback() bool {
	return i.InterfaceType == InterfaceTypeLoopback
}

// TopologyLink is a discovered neighbor adjacency (LLDP or CDP).
type TopologyLink struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	Protocol         string     `json:"protocol" db:"protocol"`
	LocalDeviceID    uuid.UUID  `json:"local_device_id" db:"local_device_id"`
	LocalIfIndex     int32      `json:"local_if_index" db:"local_if_index"`
	NeighborDeviceID *uuid.UUID `json:"neighbor_device_id,omitempty" db:"neighbor_device_id"`
	NeighborIfID     *uuid.UUID `json:"neighbor_interface_id,omitempty" db:"neighbor_interface_id"`
	NeighborName     string     `json:"neighbor_name,omitempty" db:"neighbor_name"`
	NeighborPort     string     `json:"neighbor_port,omitempty" db:"neighbor_port"`
	NeighborPlatform string     `json:"neighbor_platform,omitempty" db:"neighbor_platform"`
	DiscoveredAt     time.Time  `json:"discovered_at" db:"discovered_at"`
}

// InterfaceSummary is the cached 24h traffic aggregate for one interface.
type InterfaceSummary struct {
	InterfaceID  uuid.UUID `json:"interface_id" db:"interface_id"`
	AvgInMbps    float64   `json:"avg_in_mbps" db:"avg_in_mbps"`
	AvgOutMbps   float64   `json:"avg_out_mbps" db:"avg_out_mbps"`
	MaxInMbps    float64   `json:"max_in_mbps" db:"max_in_mbps"`
	MaxOutMbps   float64   `json:"max_out_mbps" db:"max_out_mbps"`
	TotalGB      float64   `json:"total_gb" db:"total_gb"`
	InErrors     uint64    `json:"in_errors" db:"in_errors"`
	OutErrors    uint64    `json:"out_errors" db:"out_errors"`
	InDiscards   uint64    `json:"in_discards" db:"in_discards"`
	OutDiscards  uint64    `json:"out_discards" db:"out_discards"`
	ComputedAt   time.Time `json:"computed_at" db:"computed_at"`
}
