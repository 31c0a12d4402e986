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

package tsdb

// Metric names written by the workers. Labels carry the device/interface
// identity; values are plain floats.
const (
	MetricDeviceStatus = "device_status" // 1 up, 0 down
	MetricPingRTTMs    = "ping_rtt_ms"
	MetricPingLossPct  = "ping_loss_pct"

	MetricIfInOctets   = "if_hc_in_octets"
	MetricIfOutOctets  = "if_hc_out_octets"
	MetricIfInUcast    = "if_hc_in_ucast_pkts"
	MetricIfOutUcast   = "if_hc_out_ucast_pkts"
	MetricIfInErrors   = "if_in_errors"
	MetricIfOutErrors  = "if_out_errors"
	MetricIfInDiscards = "if_in_discards"
	MetricIfOutDiscard = "if_out_discards"
	MetricIfOperStatus = "if_oper_status"

	MetricIfInMbps  = "if_in_mbps"
	MetricIfOutMbps = "if_out_mbps"

	MetricSysUptime = "sys_uptime_seconds"
	MetricCPUUtil   = "cpu_util_pct"
	MetricMemUsed   = "mem_used_bytes"
	MetricMemFree   = "mem_free_bytes"
)

// Label keys used across metrics.
const (
	LabelDeviceID    = "device_id"
	LabelDeviceIP    = "device_ip"
	LabelInterfaceID = "interface_id"
	LabelIfIndex     = "if_index"
	LabelOID         = "oid"
	LabelVendor      = "vendor"
)
