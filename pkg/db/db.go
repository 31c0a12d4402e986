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

// Package db is the typed PostgreSQL gateway for every engine entity. All
// alert mutations run in short transactions; the conditional alert insert is
// the line of defense for the one-active-alert-per-rule invariant.
package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/branchwatch/branchwatch/pkg/models"
)

// DeviceStateUpdate carries the state-machine fields the ping worker owns.
type DeviceStateUpdate struct {
	DownSince         *time.Time
	IsFlapping        bool
	FlapCount         int
	FlappingSince     *time.Time
	StatusChangeTimes []time.Time
	LastSeen          time.Time
}

// LatestPing is one row of the bulk latest-ping lookup.
type LatestPing struct {
	DeviceIP    string
	Timestamp   time.Time
	IsReachable bool
	AvgRTTMs    float64
	PacketLoss  float64
}

// DeviceFilter narrows device listings.
type DeviceFilter struct {
	Region      string
	BranchID    *uuid.UUID
	DeviceType  string
	EnabledOnly bool
}

// Service is the full relational gateway contract.
type Service interface {
	// Devices
	UpsertDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	GetDeviceByIP(ctx context.Context, ip string) (*models.Device, error)
	ListDevices(ctx context.Context, filter DeviceFilter) ([]*models.Device, error)
	ListEnabledDeviceIDs(ctx context.Context) ([]uuid.UUID, error)
	UpdateDeviceState(ctx context.Context, id uuid.UUID, update DeviceStateUpdate) error
	UpdateDeviceSysObjectID(ctx context.Context, id uuid.UUID, sysObjectID string) error
	DeleteDevice(ctx context.Context, id uuid.UUID) error

	// Ping results (latest reachability rows backing list endpoints)
	InsertPingResult(ctx context.Context, sample *models.PingSample) error
	LatestPings(ctx context.Context, ips []string) (map[string]LatestPing, error)

	// Interfaces
	UpsertInterface(ctx context.Context, iface *models.Interface) error
	GetInterface(ctx context.Context, deviceID uuid.UUID, ifIndex int32) (*models.Interface, error)
	ListInterfaces(ctx context.Context, deviceID uuid.UUID) ([]*models.Interface, error)
	ListCriticalInterfaces(ctx context.Context) ([]*models.Interface, error)
	UpdateInterfaceStatus(ctx context.Context, deviceID uuid.UUID, ifIndex, adminStatus, operStatus int32) error
	UpdateInterfaceNeighbor(ctx context.Context, iface *models.Interface) error
	UpsertInterfaceSummary(ctx context.Context, summary *models.InterfaceSummary) error

	// Topology
	UpsertTopologyLink(ctx context.Context, link *models.TopologyLink) error

	// Alerts
	CreateAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error)
	ResolveAlerts(ctx context.Context, deviceID uuid.UUID, ruleNames []string, resolvedAt time.Time) (int64, error)
	ResolveAlertByID(ctx context.Context, alertID uuid.UUID, resolvedAt time.Time) error
	AcknowledgeAlert(ctx context.Context, alertID uuid.UUID, who string, at time.Time) error
	ActiveAlerts(ctx context.Context, deviceID uuid.UUID) ([]*models.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error)
	ActiveAlertCounts(ctx context.Context, deviceIDs []uuid.UUID) (map[uuid.UUID]int, error)
	IncrementNotifications(ctx context.Context, alertID uuid.UUID) error

	// Rules
	UpsertAlertRule(ctx context.Context, rule *models.AlertRule) error
	ListAlertRules(ctx context.Context, enabledOnly bool) ([]*models.AlertRule, error)

	// Profiles
	ActiveProfile(ctx context.Context) (*models.MonitoringProfile, error)
	ActivateProfile(ctx context.Context, id uuid.UUID) error

	// Baselines
	UpsertBaseline(ctx context.Context, cell *models.InterfaceBaseline) error
	GetBaseline(ctx context.Context, interfaceID uuid.UUID, hour, dow int) (*models.InterfaceBaseline, error)

	// Status history
	AppendStatusHistory(ctx context.Context, entry *models.StatusHistoryEntry) error
	StatusHistory(ctx context.Context, deviceID uuid.UUID, start, end time.Time) ([]*models.StatusHistoryEntry, error)

	// Housekeeping
	Cleanup(ctx context.Context, pingOlderThan, resolvedOlderThan, discoveryOlderThan time.Duration) (CleanupStats, error)

	HealthCheck(ctx context.Context) error
	Close()
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	DeviceID   *uuid.UUID
	Severity   models.Severity
	ActiveOnly bool
	Limit      int
}

// CleanupStats summarizes one housekeeping pass.
type CleanupStats struct {
	PingResults    int64
	ResolvedAlerts int64
	TopologyLinks  int64
	StatusHistory  int64
}
