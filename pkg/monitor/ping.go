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

// Package monitor hosts the probing workers: the ping worker drives the
// device reachability state machine, the SNMP worker ships counters and the
// interface pollers keep status and traffic summaries current.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/branchwatch/branchwatch/pkg/db"
	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
	"github.com/branchwatch/branchwatch/pkg/tsdb"
)

// PingStore is the relational surface the ping worker needs.
type PingStore interface {
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	UpdateDeviceState(ctx context.Context, id uuid.UUID, update db.DeviceStateUpdate) error
	InsertPingResult(ctx context.Context, sample *models.PingSample) error
	AppendStatusHistory(ctx context.Context, entry *models.StatusHistoryEntry) error
	CreateAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error)
	ResolveAlerts(ctx context.Context, deviceID uuid.UUID, ruleNames []string, resolvedAt time.Time) (int64, error)
}

// Prober probes one host.
type Prober interface {
	PingHost(ctx context.Context, ip string) (*models.PingResult, error)
}

// SampleWriter ships labeled points to the time-series store.
type SampleWriter interface {
	WriteBatch(ctx context.Context, samples []models.Sample) error
}

// Publisher pushes status transitions onto the change stream.
type Publisher interface {
	Publish(change models.StatusChange)
}

// Invalidator drops the status-listing cache namespaces.
type Invalidator interface {
	InvalidateDevice()
}

// PingWorker runs the per-device reachability state machine.
type PingWorker struct {
	store      PingStore
	prober     Prober
	ts         SampleWriter
	stream     Publisher
	cache      Invalidator
	thresholds models.AlertThresholds
	log        logger.Logger
}

// NewPingWorker wires the state machine to its collaborators. stream and
// cache may be nil in tests.
func NewPingWorker(store PingStore, prober Prober, ts SampleWriter, stream Publisher,
	cache Invalidator, thresholds models.AlertThresholds, log logger.Logger) *PingWorker {
	return &PingWorker{
		store:      store,
		prober:     prober,
		ts:         ts,
		stream:     stream,
		cache:      cache,
		thresholds: thresholds,
		log:        log.WithComponent("ping_worker"),
	}
}

// ProcessBatch probes every device in the batch. Per-device errors are
// logged and counted, never fatal to the batch.
func (w *PingWorker) ProcessBatch(ctx context.Context, ids []uuid.UUID) error {
	failed := 0

	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := w.ProcessDevice(ctx, id); err != nil {
			failed++

			w.log.Error().
				Str("device_id", id.String()).
				Err(err).
				Msg("Ping cycle failed for device")
		}
	}

	w.log.Debug().
		Int("devices", len(ids)).
		Int("failed", failed).
		Msg("Ping batch complete")

	return nil
}

// ProcessDevice runs one full state-machine step for one device.
func (w *PingWorker) ProcessDevice(ctx context.Context, id uuid.UUID) error {
	device, err := w.store.GetDevice(ctx, id)
	if err != nil {
		return err
	}

	result, err := w.prober.PingHost(ctx, device.IP)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A probe that could not run counts as an unreachable observation.
		result = &models.PingResult{IP: device.IP, PacketLoss: 100, ProbedAt: time.Now()}
	}

	return w.apply(ctx, device, result)
}

// apply folds one ping observation into the device row and its side effects.
func (w *PingWorker) apply(ctx context.Context, device *models.Device, result *models.PingResult) error {
	now := result.ProbedAt
	if now.IsZero() {
		now = time.Now()
	}

	prevUp := device.IsUp()
	curUp := result.IsAlive
	transitioned := prevUp != curUp

	oldStatus := device.Status()

	update := db.DeviceStateUpdate{
		DownSince:         device.DownSince,
		IsFlapping:        device.IsFlapping,
		FlapCount:         device.FlapCount,
		FlappingSince:     device.FlappingSince,
		StatusChangeTimes: device.StatusChangeTimes,
		LastSeen:          now,
	}

	if transitioned {
		update.StatusChangeTimes = appendBounded(update.StatusChangeTimes, now)
	}

	// Flap accounting runs on every observation so the window drains even
	// without new transitions.
	windowCount := countRecent(update.StatusChangeTimes, now, w.thresholds.FlapWindow)
	update.FlapCount = windowCount

	flapLimit := w.thresholds.FlapFor(device.IsISPLink())

	switch {
	case !update.IsFlapping && windowCount >= flapLimit:
		update.IsFlapping = true
		update.FlappingSince = &now
	case update.IsFlapping && windowCount < 2:
		update.IsFlapping = false
		update.FlappingSince = nil

		if _, err := w.store.ResolveAlerts(ctx, device.ID, []string{models.RuleDeviceFlapping}, now); err != nil {
			return err
		}
	}

	switch {
	case transitioned && !curUp:
		update.DownSince = &now

		if !update.IsFlapping {
			if err := w.raiseUnreachable(ctx, device, now); err != nil {
				return err
			}
		}
	case transitioned && curUp:
		var downtime time.Duration
		if device.DownSince != nil {
			downtime = now.Sub(*device.DownSince)
		}

		update.DownSince = nil

		if _, err := w.store.ResolveAlerts(ctx, device.ID, []string{models.RuleDeviceUnreachable}, now); err != nil {
			return err
		}

		w.log.Info().
			Str("device_ip", device.IP).
			Dur("downtime", downtime).
			Msg("Device recovered")
	}
	// DOWN -> DOWN keeps down_since untouched: the outage start survives
	// restarts and repeated observations. UP -> UP only moves last_seen.

	if update.IsFlapping {
		if err := w.raiseFlapping(ctx, device, windowCount, flapLimit, now); err != nil {
			return err
		}
	}

	if err := w.store.UpdateDeviceState(ctx, device.ID, update); err != nil {
		return err
	}

	if err := w.recordObservation(ctx, device, result, curUp, now); err != nil {
		return err
	}

	newStatus := statusOf(update.DownSince, update.IsFlapping)

	if transitioned || oldStatus != newStatus {
		if err := w.store.AppendStatusHistory(ctx, &models.StatusHistoryEntry{
			DeviceID:  device.ID,
			OldStatus: oldStatus,
			NewStatus: newStatus,
			ChangedAt: now,
		}); err != nil {
			return err
		}

		if w.stream != nil {
			w.stream.Publish(models.StatusChange{
				DeviceID:  device.ID,
				DeviceIP:  device.IP,
				OldStatus: oldStatus,
				NewStatus: newStatus,
				Timestamp: now,
			})
		}

		if w.cache != nil {
			w.cache.InvalidateDevice()
		}
	}

	return nil
}

func (w *PingWorker) raiseUnreachable(ctx context.Context, device *models.Device, now time.Time) error {
	alert := &models.Alert{
		DeviceID:    device.ID,
		RuleName:    models.RuleDeviceUnreachable,
		Severity:    models.SeverityCritical,
		Message:     fmt.Sprintf("%s is unreachable", device.IP),
		TriggeredAt: now,
	}

	_, err := w.store.CreateAlertIfAbsent(ctx, alert)

	return err
}

func (w *PingWorker) raiseFlapping(ctx context.Context, device *models.Device, count, limit int, now time.Time) error {
	alert := &models.Alert{
		DeviceID:    device.ID,
		RuleName:    models.RuleDeviceFlapping,
		Severity:    models.SeverityHigh,
		Message:     fmt.Sprintf("%s is flapping, %d transitions in %s", device.IP, count, w.thresholds.FlapWindow),
		Value:       float64(count),
		Threshold:   float64(limit),
		TriggeredAt: now,
	}

	_, err := w.store.CreateAlertIfAbsent(ctx, alert)

	return err
}

// recordObservation writes the sample to both stores: the relational row
// backs list endpoints, the TS points back charts.
func (w *PingWorker) recordObservation(ctx context.Context, device *models.Device, result *models.PingResult, up bool, now time.Time) error {
	rttMs := float64(result.AvgRTT) / float64(time.Millisecond)

	if err := w.store.InsertPingResult(ctx, &models.PingSample{
		DeviceID:    device.ID,
		DeviceIP:    device.IP,
		Timestamp:   now,
		IsReachable: up,
		AvgRTTMs:    rttMs,
		PacketLoss:  result.PacketLoss,
	}); err != nil {
		return err
	}

	labels := map[string]string{
		tsdb.LabelDeviceID: device.ID.String(),
		tsdb.LabelDeviceIP: device.IP,
	}

	status := 0.0
	if up {
		status = 1.0
	}

	samples := []models.Sample{
		{Metric: tsdb.MetricDeviceStatus, Labels: labels, Value: status, Timestamp: now},
		{Metric: tsdb.MetricPingLossPct, Labels: labels, Value: result.PacketLoss, Timestamp: now},
	}

	if up {
		samples = append(samples, models.Sample{
			Metric: tsdb.MetricPingRTTMs, Labels: labels, Value: rttMs, Timestamp: now,
		})
	}

	if w.ts == nil {
		return nil
	}

	return w.ts.WriteBatch(ctx, samples)
}

// appendBounded appends to the transition ring, keeping only the newest
// entries.
func appendBounded(ring []time.Time, t time.Time) []time.Time {
	ring = append(ring, t)
	if len(ring) > models.StatusRingSize {
		ring = ring[len(ring)-models.StatusRingSize:]
	}

	return ring
}

// countRecent counts ring entries inside the window ending at now.
func countRecent(ring []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	count := 0

	for _, t := range ring {
		if t.After(cutoff) || t.Equal(cutoff) {
			count++
		}
	}

	return count
}

func statusOf(downSince *time.Time, flapping bool) models.DeviceStatus {
	switch {
	case flapping:
		return models.DeviceStatusFlapping
	case downSince != nil:
		return models.DeviceStatusDown
	default:
		return models.DeviceStatusUp
	}
}
