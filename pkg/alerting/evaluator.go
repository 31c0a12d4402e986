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

// Package alerting evaluates alert conditions against device and interface
// state. Conditions are derived directly from rows, not from an expression
// language; custom rules bind a name and severity to one of the built-in
// conditions. Per-device failures are counted and skipped so one bad device
// never stalls a cycle, and dedup failures bias toward creating the alert.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/branchwatch/branchwatch/pkg/db"
	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
)

// Condition identifies one derivable alert condition. Each condition is its
// own dedup group: at most one active alert per (device, condition).
type Condition string

const (
	CondDeviceDown  Condition = "device_down"
	CondFlapping    Condition = "flapping"
	CondHighLatency Condition = "high_latency"
	CondPacketLoss  Condition = "packet_loss"
	CondIfaceDown   Condition = "interface_down"
	CondAnomaly     Condition = "traffic_anomaly"
)

// builtinGroups maps the built-in rule names onto their dedup group.
var builtinGroups = map[string]Condition{
	models.RuleDeviceUnreachable: CondDeviceDown,
	models.RuleDeviceFlapping:    CondFlapping,
	models.RuleHighLatency:       CondHighLatency,
	models.RulePacketLoss:        CondPacketLoss,
	models.RuleInterfaceDown:     CondIfaceDown,
	models.RuleTrafficAnomaly:    CondAnomaly,
}

// Store is the relational surface the evaluator needs.
type Store interface {
	ListDevices(ctx context.Context, filter db.DeviceFilter) ([]*models.Device, error)
	LatestPings(ctx context.Context, ips []string) (map[string]db.LatestPing, error)
	ListCriticalInterfaces(ctx context.Context) ([]*models.Interface, error)
	ListAlertRules(ctx context.Context, enabledOnly bool) ([]*models.AlertRule, error)
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	ActiveAlerts(ctx context.Context, deviceID uuid.UUID) ([]*models.Alert, error)
	CreateAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error)
	ResolveAlerts(ctx context.Context, deviceID uuid.UUID, ruleNames []string, resolvedAt time.Time) (int64, error)
}

// candidate is one alert that could fire this tick.
type candidate struct {
	name      string
	severity  models.Severity
	message   string
	value     float64
	threshold float64
}

// Evaluator derives and reconciles alerts every tick.
type Evaluator struct {
	store      Store
	thresholds models.AlertThresholds
	log        logger.Logger
}

// NewEvaluator builds an evaluator over the store.
func NewEvaluator(store Store, thresholds models.AlertThresholds, log logger.Logger) *Evaluator {
	return &Evaluator{
		store:      store,
		thresholds: thresholds,
		log:        log.WithComponent("alerting"),
	}
}

// EvaluateAll runs one evaluator tick over every enabled device plus the
// critical interfaces. The tick commits what it can.
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	devices, err := e.store.ListDevices(ctx, db.DeviceFilter{EnabledOnly: true})
	if err != nil {
		return fmt.Errorf("alerting: list devices: %w", err)
	}

	ips := make([]string, len(devices))
	for i, device := range devices {
		ips[i] = device.IP
	}

	pings, err := e.store.LatestPings(ctx, ips)
	if err != nil {
		return fmt.Errorf("alerting: latest pings: %w", err)
	}

	rules, err := e.store.ListAlertRules(ctx, true)
	if err != nil {
		return fmt.Errorf("alerting: list rules: %w", err)
	}

	failed := 0

	for _, device := range devices {
		ping, hasPing := pings[device.IP]

		var pingPtr *db.LatestPing
		if hasPing {
			pingPtr = &ping
		}

		if err := e.evaluateDevice(ctx, device, pingPtr, rules); err != nil {
			failed++

			e.log.Error().
				Str("device_ip", device.IP).
				Err(err).
				Msg("Device evaluation failed, skipping")
		}
	}

	if err := e.evaluateInterfaces(ctx); err != nil {
		e.log.Error().Err(err).Msg("Interface evaluation failed")
	}

	e.log.Debug().
		Int("devices", len(devices)).
		Int("failed", failed).
		Msg("Evaluator tick complete")

	return nil
}

// evaluateDevice derives the condition states for one device and reconciles
// the alert rows per dedup group.
func (e *Evaluator) evaluateDevice(ctx context.Context, device *models.Device, ping *db.LatestPing, rules []*models.AlertRule) error {
	now := time.Now()
	isp := device.IsISPLink()

	conditions := e.deriveConditions(device, ping, now)
	candidates := e.builtinCandidates(device, ping, conditions, isp)

	// Custom rules bind extra names and severities to the same conditions.
	for _, rule := range rules {
		if _, known := builtinGroups[rule.Name]; known {
			continue // built-ins are derived directly
		}

		cond := Condition(rule.Expression)

		switch cond {
		case CondDeviceDown, CondFlapping, CondHighLatency, CondPacketLoss:
		default:
			continue
		}

		if !ruleApplies(rule, device) || !conditions[cond] {
			continue
		}

		candidates[cond] = append(candidates[cond], candidate{
			name:     rule.Name,
			severity: rule.Severity,
			message:  fmt.Sprintf("%s on %s (%s)", rule.Name, deviceLabel(device), device.IP),
		})
	}

	actives, err := e.store.ActiveAlerts(ctx, device.ID)
	if err != nil {
		return err
	}

	groups := ruleGroups(rules)

	for _, cond := range []Condition{CondDeviceDown, CondFlapping, CondHighLatency, CondPacketLoss} {
		if err := e.reconcileGroup(ctx, device.ID, cond, conditions[cond], candidates[cond], actives, groups, now); err != nil {
			return err
		}
	}

	return nil
}

// deriveConditions computes the truth of each condition from current state.
func (e *Evaluator) deriveConditions(device *models.Device, ping *db.LatestPing, now time.Time) map[Condition]bool {
	isp := device.IsISPLink()
	conditions := make(map[Condition]bool, 4)

	conditions[CondDeviceDown] = device.DownSince != nil &&
		now.Sub(*device.DownSince) >= e.thresholds.DownGrace &&
		!device.IsFlapping // flapping suppresses per-transition alerts

	conditions[CondFlapping] = device.IsFlapping && device.FlapCount >= e.thresholds.FlapFor(isp)

	if ping != nil && ping.IsReachable {
		conditions[CondHighLatency] = ping.AvgRTTMs > e.thresholds.LatencyFor(isp)
		conditions[CondPacketLoss] = ping.PacketLoss > e.thresholds.LossFor(isp)
	}

	return conditions
}

func (e *Evaluator) builtinCandidates(device *models.Device, ping *db.LatestPing, conditions map[Condition]bool, isp bool) map[Condition][]candidate {
	candidates := make(map[Condition][]candidate, 4)
	label := deviceLabel(device)

	perfSeverity := models.SeverityMedium
	if isp {
		perfSeverity = models.SeverityHigh
	}

	if conditions[CondDeviceDown] {
		candidates[CondDeviceDown] = append(candidates[CondDeviceDown], candidate{
			name:     models.RuleDeviceUnreachable,
			severity: models.SeverityCritical,
			message:  fmt.Sprintf("%s (%s) is unreachable", label, device.IP),
		})
	}

	if conditions[CondFlapping] {
		candidates[CondFlapping] = append(candidates[CondFlapping], candidate{
			name:      models.RuleDeviceFlapping,
			severity:  models.SeverityHigh,
			message:   fmt.Sprintf("%s (%s) is flapping, %d transitions in %s", label, device.IP, device.FlapCount, e.thresholds.FlapWindow),
			value:     float64(device.FlapCount),
			threshold: float64(e.thresholds.FlapFor(isp)),
		})
	}

	if conditions[CondHighLatency] {
		candidates[CondHighLatency] = append(candidates[CondHighLatency], candidate{
			name:      models.RuleHighLatency,
			severity:  perfSeverity,
			message:   fmt.Sprintf("%s (%s) latency %.1fms exceeds %.0fms", label, device.IP, ping.AvgRTTMs, e.thresholds.LatencyFor(isp)),
			value:     ping.AvgRTTMs,
			threshold: e.thresholds.LatencyFor(isp),
		})
	}

	if conditions[CondPacketLoss] {
		candidates[CondPacketLoss] = append(candidates[CondPacketLoss], candidate{
			name:      models.RulePacketLoss,
			severity:  perfSeverity,
			message:   fmt.Sprintf("%s (%s) packet loss %.1f%% exceeds %.0f%%", label, device.IP, ping.PacketLoss, e.thresholds.LossFor(isp)),
			value:     ping.PacketLoss,
			threshold: e.thresholds.LossFor(isp),
		})
	}

	return candidates
}

// reconcileGroup enforces one-active-alert-per-group: the highest-severity
// true candidate wins, lower-severity actives in the group resolve, and a
// false condition resolves everything in the group.
func (e *Evaluator) reconcileGroup(ctx context.Context, deviceID uuid.UUID, cond Condition, condTrue bool,
	candidates []candidate, actives []*models.Alert, groups map[string]Condition, now time.Time) error {
	if !condTrue || len(candidates) == 0 {
		stale := groupRuleNames(actives, groups, cond, models.Severity(""))
		if len(stale) > 0 {
			if _, err := e.store.ResolveAlerts(ctx, deviceID, stale, now); err != nil {
				return err
			}
		}

		return nil
	}

	// Highest severity wins; on a tie the more specific custom rule beats
	// the built-in.
	best := candidates[0]

	for _, c := range candidates[1:] {
		switch {
		case c.severity.Rank() > best.severity.Rank():
			best = c
		case c.severity.Rank() == best.severity.Rank() && isBuiltin(best.name) && !isBuiltin(c.name):
			best = c
		}
	}

	alert := &models.Alert{
		DeviceID:    deviceID,
		RuleName:    best.name,
		Severity:    best.severity,
		Message:     best.message,
		Value:       best.value,
		Threshold:   best.threshold,
		TriggeredAt: now,
	}

	if _, err := e.store.CreateAlertIfAbsent(ctx, alert); err != nil {
		return err
	}

	// Auto-resolve losing actives in the same group, the winner excepted.
	// Equal severity counts as losing: the group carries one active alert.
	weaker := make([]string, 0, 2)

	for _, active := range actives {
		if active.RuleName == best.name {
			continue
		}

		if groups[active.RuleName] == cond && active.Severity.Rank() <= best.severity.Rank() {
			weaker = append(weaker, active.RuleName)
		}
	}

	if len(weaker) > 0 {
		if _, err := e.store.ResolveAlerts(ctx, deviceID, weaker, now); err != nil {
			return err
		}
	}

	return nil
}

// evaluateInterfaces raises an interface-down alert for each critical
// interface that is oper-down while its device is reachable. When the device
// itself is down the device alert carries the incident.
func (e *Evaluator) evaluateInterfaces(ctx context.Context) error {
	interfaces, err := e.store.ListCriticalInterfaces(ctx)
	if err != nil {
		return err
	}

	now := time.Now()

	devices := make(map[uuid.UUID]*models.Device)

	for _, iface := range interfaces {
		device, ok := devices[iface.DeviceID]
		if !ok {
			device, err = e.store.GetDevice(ctx, iface.DeviceID)
			if err != nil {
				e.log.Error().
					Str("device_id", iface.DeviceID.String()).
					Err(err).
					Msg("Interface evaluation: device lookup failed")

				continue
			}

			devices[iface.DeviceID] = device
		}

		down := iface.OperStatus == models.IfStatusDown && device.IsUp()
		if !down {
			continue
		}

		verdict := ClassifyFault(FaultInput{
			DevicePingUp: device.IsUp(),
			OperUp:       iface.OperStatus == models.IfStatusUp,
			AdminUp:      iface.AdminStatus == models.IfStatusUp,
			Provider:     iface.ISPProvider,
		})

		alert := &models.Alert{
			DeviceID:    device.ID,
			RuleName:    models.RuleInterfaceDown,
			Severity:    models.SeverityMedium,
			Message:     fmt.Sprintf("Interface %s down on %s (%s): %s", iface.DisplayName(), deviceLabel(device), device.IP, verdict.Message),
			TriggeredAt: now,
		}

		if _, err := e.store.CreateAlertIfAbsent(ctx, alert); err != nil {
			e.log.Error().
				Str("device_ip", device.IP).
				Str("interface", iface.DisplayName()).
				Err(err).
				Msg("Interface alert insert failed")
		}
	}

	// Resolve interface-down alerts for devices whose critical interfaces all
	// recovered.
	recovered := make(map[uuid.UUID]bool)

	for _, iface := range interfaces {
		device, ok := devices[iface.DeviceID]
		if !ok || !device.IsUp() {
			continue
		}

		if iface.OperStatus == models.IfStatusDown {
			recovered[iface.DeviceID] = false
		} else if _, seen := recovered[iface.DeviceID]; !seen {
			recovered[iface.DeviceID] = true
		}
	}

	for deviceID, allUp := range recovered {
		if !allUp {
			continue
		}

		if _, err := e.store.ResolveAlerts(ctx, deviceID, []string{models.RuleInterfaceDown}, now); err != nil {
			e.log.Error().
				Str("device_id", deviceID.String()).
				Err(err).
				Msg("Interface alert resolve failed")
		}
	}

	return nil
}

func isBuiltin(name string) bool {
	_, ok := builtinGroups[name]
	return ok
}

// ruleGroups maps every known rule name onto its dedup group.
func ruleGroups(rules []*models.AlertRule) map[string]Condition {
	groups := make(map[string]Condition, len(builtinGroups)+len(rules))

	for name, cond := range builtinGroups {
		groups[name] = cond
	}

	for _, rule := range rules {
		if _, known := groups[rule.Name]; known {
			continue
		}

		groups[rule.Name] = Condition(rule.Expression)
	}

	return groups
}

// groupRuleNames returns the active rule names of the group below the given
// severity; an empty severity matches every active in the group.
func groupRuleNames(actives []*models.Alert, groups map[string]Condition, cond Condition, below models.Severity) []string {
	var names []string

	for _, active := range actives {
		if groups[active.RuleName] != cond {
			continue
		}

		if below != "" && active.Severity.Rank() >= below.Rank() {
			continue
		}

		names = append(names, active.RuleName)
	}

	return names
}

func ruleApplies(rule *models.AlertRule, device *models.Device) bool {
	if rule.DeviceID != nil && *rule.DeviceID != device.ID {
		return false
	}

	if rule.BranchID != nil && (device.BranchID == nil || *rule.BranchID != *device.BranchID) {
		return false
	}

	return true
}

func deviceLabel(device *models.Device) string {
	switch {
	case device.DisplayName != "":
		return device.DisplayName
	case device.Hostname != "":
		return device.Hostname
	default:
		return device.IP
	}
}
