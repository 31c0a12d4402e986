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

	"gopkg.in/yaml.v3"
)

// SNMPVersion selects the protocol version for a device.
type SNMPVersion string

const (
	SNMPVersion2c SNMPVersion = "v2c"
	SNMPVersion3  SNMPVersion = "v3"
)

// SNMPCredential is the decrypted credential material handed to the prober.
// For v2c only Community is set; for v3 the USM fields are set.
type SNMPCredential struct {
	Version SNMPVersion `json:"version"`

	// v2c
	Community string `json:"community,omitempty"`

	// v3
	Username      string `json:"username,omitempty"`
	AuthProtocol  string `json:"auth_protocol,omitempty"`
	AuthPassword  string `json:"auth_password,omitempty"`
	PrivProtocol  string `json:"priv_protocol,omitempty"`
	PrivPassword  string `json:"priv_password,omitempty"`
	SecurityLevel string `json:"security_level,omitempty"`
}

// ProbeConfig tunes the ICMP and SNMP probers.
type ProbeConfig struct {
	PingCount       int           `json:"ping_count" yaml:"ping_count"`
	PingInterval    time.Duration `json:"ping_interval" yaml:"ping_interval"`
	PingTimeout     time.Duration `json:"ping_timeout" yaml:"ping_timeout"`
	PingConcurrency int64         `json:"ping_concurrency" yaml:"ping_concurrency"`

	SNMPTimeout     time.Duration `json:"snmp_timeout" yaml:"snmp_timeout"`
	SNMPRetries     int           `json:"snmp_retries" yaml:"snmp_retries"`
	SNMPMaxWalk     int           `json:"snmp_max_walk" yaml:"snmp_max_walk"`
	SNMPConcurrency int64         `json:"snmp_concurrency" yaml:"snmp_concurrency"`
	SNMPPort        uint16        `json:"snmp_port" yaml:"snmp_port"`
	SNMPCommunity   string        `json:"snmp_community" yaml:"snmp_community"`
}

// DefaultProbeConfig returns the stock probe tuning.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		PingCount:       2,
		PingInterval:    200 * time.Millisecond,
		PingTimeout:     time.Second,
		PingConcurrency: 50,
		SNMPTimeout:     5 * time.Second,
		SNMPRetries:     1,
		SNMPMaxWalk:     10000,
		SNMPConcurrency: 50,
		SNMPPort:        161,
		SNMPCommunity:   "public",
	}
}

// AlertThresholds carries the per-class alerting limits. ISP-class devices
// (IP last octet .5) use the stricter ISP* values.
type AlertThresholds struct {
	LatencyMs    float64 `json:"latency_ms" yaml:"latency_ms"`
	ISPLatencyMs float64 `json:"isp_latency_ms" yaml:"isp_latency_ms"`

	LossPct    float64 `json:"loss_pct" yaml:"loss_pct"`
	ISPLossPct float64 `json:"isp_loss_pct" yaml:"isp_loss_pct"`

	FlapThreshold    int `json:"flap_threshold" yaml:"flap_threshold"`
	ISPFlapThreshold int `json:"isp_flap_threshold" yaml:"isp_flap_threshold"`

	// FlapWindow bounds the transition-count window. The window doubles as the
	// "unstable device" horizon for the adaptive poller; it is a tunable because
	// the appropriate horizon is deployment-specific.
	FlapWindow time.Duration `json:"flap_window" yaml:"flap_window"`

	// DownGrace is how long a device must be down before device_down fires.
	DownGrace time.Duration `json:"down_grace" yaml:"down_grace"`
}

// DefaultAlertThresholds returns the stock thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		LatencyMs:        200,
		ISPLatencyMs:     100,
		LossPct:          10,
		ISPLossPct:       5,
		FlapThreshold:    3,
		ISPFlapThreshold: 2,
		FlapWindow:       5 * time.Minute,
		DownGrace:        10 * time.Second,
	}
}

// UnmarshalYAML decodes thresholds, accepting Go duration strings for the
// window fields.
func (t *AlertThresholds) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		LatencyMs        float64  `yaml:"latency_ms"`
		ISPLatencyMs     float64  `yaml:"isp_latency_ms"`
		LossPct          float64  `yaml:"loss_pct"`
		ISPLossPct       float64  `yaml:"isp_loss_pct"`
		FlapThreshold    int      `yaml:"flap_threshold"`
		ISPFlapThreshold int      `yaml:"isp_flap_threshold"`
		FlapWindow       Duration `yaml:"flap_window"`
		DownGrace        Duration `yaml:"down_grace"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	*t = AlertThresholds{
		LatencyMs:        raw.LatencyMs,
		ISPLatencyMs:     raw.ISPLatencyMs,
		LossPct:          raw.LossPct,
		ISPLossPct:       raw.ISPLossPct,
		FlapThreshold:    raw.FlapThreshold,
		ISPFlapThreshold: raw.ISPFlapThreshold,
		FlapWindow:       raw.FlapWindow.Std(),
		DownGrace:        raw.DownGrace.Std(),
	}

	return nil
}

// UnmarshalYAML decodes probe tuning, accepting Go duration strings.
func (p *ProbeConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		PingCount       int      `yaml:"ping_count"`
		PingInterval    Duration `yaml:"ping_interval"`
		PingTimeout     Duration `yaml:"ping_timeout"`
		PingConcurrency int64    `yaml:"ping_concurrency"`
		SNMPTimeout     Duration `yaml:"snmp_timeout"`
		SNMPRetries     int      `yaml:"snmp_retries"`
		SNMPMaxWalk     int      `yaml:"snmp_max_walk"`
		SNMPConcurrency int64    `yaml:"snmp_concurrency"`
		SNMPPort        uint16   `yaml:"snmp_port"`
		SNMPCommunity   string   `yaml:"snmp_community"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	*p = ProbeConfig{
		PingCount:       raw.PingCount,
		PingInterval:    raw.PingInterval.Std(),
		PingTimeout:     raw.PingTimeout.Std(),
		PingConcurrency: raw.PingConcurrency,
		SNMPTimeout:     raw.SNMPTimeout.Std(),
		SNMPRetries:     raw.SNMPRetries,
		SNMPMaxWalk:     raw.SNMPMaxWalk,
		SNMPConcurrency: raw.SNMPConcurrency,
		SNMPPort:        raw.SNMPPort,
		SNMPCommunity:   raw.SNMPCommunity,
	}

	return nil
}

// LatencyFor returns the latency threshold for the device class.
func (t AlertThresholds) LatencyFor(ispLink bool) float64 {
	if ispLink {
		return t.ISPLatencyMs
	}

	return t.LatencyMs
}

// LossFor returns the packet-loss threshold for the device class.
func (t AlertThresholds) LossFor(ispLink bool) float64 {
	if ispLink {
		return t.ISPLossPct
	}

	return t.LossPct
}

// FlapFor returns the flap-count threshold for the device class.
func (t AlertThresholds) FlapFor(ispLink bool) int {
	if ispLink {
		return t.ISPFlapThreshold
	}

	return t.FlapThreshold
}
