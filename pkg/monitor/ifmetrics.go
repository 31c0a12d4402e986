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

package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
	"github.com/branchwatch/branchwatch/pkg/probe"
	"github.com/branchwatch/branchwatch/pkg/tsdb"
)

// IF-MIB column roots. The poller appends .<ifIndex> for targeted GETs.
const (
	oidIfAdminStatus = ".1.3.6.1.2.1.2.2.1.7"
	oidIfOperStatus  = ".1.3.6.1.2.1.2.2.1.8"
	oidIfInDiscards  = ".1.3.6.1.2.1.2.2.1.13"
	oidIfInErrors    = ".1.3.6.1.2.1.2.2.1.14"
	oidIfOutDiscards = ".1.3.6.1.2.1.2.2.1.19"
	oidIfOutErrors   = ".1.3.6.1.2.1.2.2.1.20"

	oidIfHCInOctets  = ".1.3.6.1.2.1.31.1.1.1.6"
	oidIfHCInUcast   = ".1.3.6.1.2.1.31.1.1.1.7"
	oidIfHCOutOctets = ".1.3.6.1.2.1.31.1.1.1.10"
	oidIfHCOutUcast  = ".1.3.6.1.2.1.31.1.1.1.11"
)

const (
	summaryWindow = 24 * time.Hour
	summaryStep   = 5 * time.Minute
)

// IfStore is the relational surface the interface poller needs.
type IfStore interface {
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	ListInterfaces(ctx context.Context, deviceID uuid.UUID) ([]*models.Interface, error)
	ListCriticalInterfaces(ctx context.Context) ([]*models.Interface, error)
	UpdateInterfaceStatus(ctx context.Context, deviceID uuid.UUID, ifIndex, adminStatus, operStatus int32) error
	UpsertInterfaceSummary(ctx context.Context, summary *models.InterfaceSummary) error
}

// Series is the time-series query surface the summarizer reads back from.
type Series interface {
	QueryRange(ctx context.Context, metric string, labels map[string]string, start, end time.Time, step time.Duration) ([]tsdb.Point, error)
}

// counterSnapshot remembers the previous octet counters so the poller can
// derive rates between polls.
type counterSnapshot struct {
	at        time.Time
	inOctets  uint64
	outOctets uint64
}

// InterfacePoller polls status and traffic counters for critical interfaces
// and maintains the cached 24h summaries.
type InterfacePoller struct {
	store    IfStore
	creds    CredentialSource
	sessions SessionFactory
	ts       SampleWriter
	series   Series
	cfg      models.ProbeConfig
	log      logger.Logger

	mu   sync.Mutex
	prev map[uuid.UUID]counterSnapshot
}

// NewInterfacePoller wires the counter and status poller.
func NewInterfacePoller(store IfStore, creds CredentialSource, sessions SessionFactory,
	ts SampleWriter, series Series, cfg models.ProbeConfig, log logger.Logger) *InterfacePoller {
	return &InterfacePoller{
		store:    store,
		creds:    creds,
		sessions: sessions,
		ts:       ts,
		series:   series,
		cfg:      cfg,
		log:      log.WithComponent("if_poller"),
		prev:     make(map[uuid.UUID]counterSnapshot),
	}
}

// PollBatch polls the devices in the batch concurrently, bounded by the
// configured SNMP concurrency. Per-device failures are logged and skipped.
func (p *InterfacePoller) PollBatch(ctx context.Context, ids []uuid.UUID) error {
	limit := p.cfg.SNMPConcurrency
	if limit <= 0 {
		limit = models.DefaultProbeConfig().SNMPConcurrency
	}

	sem := semaphore.NewWeighted(limit)

	var wg sync.WaitGroup

	for _, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)

		go func(id uuid.UUID) {
			defer wg.Done()
			defer sem.Release(1)

			if err := p.PollDevice(ctx, id); err != nil {
				p.log.Warn().
					Str("device_id", id.String()).
					Err(err).
					Msg("Interface poll failed for device")
			}
		}(id)
	}

	wg.Wait()

	return ctx.Err()
}

// PollDevice reads status and HC counters for every critical interface of
// one device in a single session.
func (p *InterfacePoller) PollDevice(ctx context.Context, id uuid.UUID) error {
	device, err := p.store.GetDevice(ctx, id)
	if err != nil {
		return err
	}

	interfaces, err := p.store.ListInterfaces(ctx, id)
	if err != nil {
		return err
	}

	critical := interfaces[:0:0]

	for _, iface := range interfaces {
		if iface.IsCritical {
			critical = append(critical, iface)
		}
	}

	if len(critical) == 0 {
		return nil
	}

	cred, err := p.resolveCredential(device)
	if err != nil {
		return err
	}

	session, err := p.sessions(device, cred)
	if err != nil {
		return err
	}

	if err := session.Connect(); err != nil {
		return err
	}
	defer session.Close()

	now := time.Now()

	var samples []models.Sample

	for _, iface := range critical {
		ifSamples, err := p.pollInterface(ctx, session, device, iface, now)
		if err != nil {
			p.log.Debug().
				Str("device_ip", device.IP).
				Int32("if_index", iface.IfIndex).
				Err(err).
				Msg("Interface counters unavailable")

			continue
		}

		samples = append(samples, ifSamples...)
	}

	if len(samples) == 0 || p.ts == nil {
		return nil
	}

	return p.ts.WriteBatch(ctx, samples)
}

func (p *InterfacePoller) pollInterface(ctx context.Context, session Session,
	device *models.Device, iface *models.Interface, now time.Time) ([]models.Sample, error) {
	idx := fmt.Sprintf(".%d", iface.IfIndex)

	oids := []string{
		oidIfAdminStatus + idx,
		oidIfOperStatus + idx,
		oidIfHCInOctets + idx,
		oidIfHCOutOctets + idx,
		oidIfHCInUcast + idx,
		oidIfHCOutUcast + idx,
		oidIfInErrors + idx,
		oidIfOutErrors + idx,
		oidIfInDiscards + idx,
		oidIfOutDiscards + idx,
	}

	pdus, err := session.Get(oids)
	if err != nil {
		return nil, err
	}

	labels := map[string]string{
		tsdb.LabelDeviceID:    device.ID.String(),
		tsdb.LabelInterfaceID: iface.ID.String(),
		tsdb.LabelIfIndex:     fmt.Sprintf("%d", iface.IfIndex),
	}

	counterMetrics := map[string]string{
		oidIfHCInOctets + idx:  tsdb.MetricIfInOctets,
		oidIfHCOutOctets + idx: tsdb.MetricIfOutOctets,
		oidIfHCInUcast + idx:   tsdb.MetricIfInUcast,
		oidIfHCOutUcast + idx:  tsdb.MetricIfOutUcast,
		oidIfInErrors + idx:    tsdb.MetricIfInErrors,
		oidIfOutErrors + idx:   tsdb.MetricIfOutErrors,
		oidIfInDiscards + idx:  tsdb.MetricIfInDiscards,
		oidIfOutDiscards + idx: tsdb.MetricIfOutDiscard,
	}

	samples := make([]models.Sample, 0, len(oids)+2)

	for oid, metric := range counterMetrics {
		pdu, found := pdus[oid]
		if !found {
			continue
		}

		samples = append(samples, models.Sample{
			Metric:    metric,
			Labels:    labels,
			Value:     float64(probe.PDUUint64(pdu)),
			Timestamp: now,
		})
	}

	adminPDU, adminOK := pdus[oidIfAdminStatus+idx]
	operPDU, operOK := pdus[oidIfOperStatus+idx]

	if adminOK && operOK {
		admin := int32(probe.PDUInt(adminPDU))
		oper := int32(probe.PDUInt(operPDU))

		if err := p.store.UpdateInterfaceStatus(ctx, device.ID, iface.IfIndex, admin, oper); err != nil {
			return nil, err
		}

		samples = append(samples, models.Sample{
			Metric:    tsdb.MetricIfOperStatus,
			Labels:    labels,
			Value:     float64(oper),
			Timestamp: now,
		})
	}

	inPDU, inOK := pdus[oidIfHCInOctets+idx]
	outPDU, outOK := pdus[oidIfHCOutOctets+idx]

	if inOK && outOK {
		inRate, outRate, ok := p.rates(iface.ID, probe.PDUUint64(inPDU), probe.PDUUint64(outPDU), now)
		if ok {
			samples = append(samples,
				models.Sample{Metric: tsdb.MetricIfInMbps, Labels: labels, Value: inRate, Timestamp: now},
				models.Sample{Metric: tsdb.MetricIfOutMbps, Labels: labels, Value: outRate, Timestamp: now},
			)
		}
	}

	return samples, nil
}

// rates derives Mbps from the octet deltas since the previous poll. The
// first observation and counter wraps yield no rate.
func (p *InterfacePoller) rates(interfaceID uuid.UUID, inOctets, outOctets uint64, now time.Time) (inMbps, outMbps float64, ok bool) {
	p.mu.Lock()
	prev, seen := p.prev[interfaceID]
	p.prev[interfaceID] = counterSnapshot{at: now, inOctets: inOctets, outOctets: outOctets}
	p.mu.Unlock()

	if !seen {
		return 0, 0, false
	}

	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 || inOctets < prev.inOctets || outOctets < prev.outOctets {
		return 0, 0, false
	}

	inMbps = float64(inOctets-prev.inOctets) * 8 / elapsed / 1e6
	outMbps = float64(outOctets-prev.outOctets) * 8 / elapsed / 1e6

	return inMbps, outMbps, true
}

// Summarize recomputes the cached 24h aggregates for every critical
// interface from the rate series.
func (p *InterfacePoller) Summarize(ctx context.Context) error {
	interfaces, err := p.store.ListCriticalInterfaces(ctx)
	if err != nil {
		return err
	}

	end := time.Now()
	start := end.Add(-summaryWindow)

	for _, iface := range interfaces {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		summary, err := p.summarizeInterface(ctx, iface, start, end)
		if err != nil {
			p.log.Warn().
				Str("interface_id", iface.ID.String()).
				Err(err).
				Msg("Summary computation failed, keeping previous")

			continue
		}

		if summary == nil {
			continue
		}

		if err := p.store.UpsertInterfaceSummary(ctx, summary); err != nil {
			return err
		}
	}

	return nil
}

func (p *InterfacePoller) summarizeInterface(ctx context.Context, iface *models.Interface, start, end time.Time) (*models.InterfaceSummary, error) {
	labels := map[string]string{tsdb.LabelInterfaceID: iface.ID.String()}

	inPoints, err := p.series.QueryRange(ctx, tsdb.MetricIfInMbps, labels, start, end, summaryStep)
	if err != nil {
		return nil, err
	}

	outPoints, err := p.series.QueryRange(ctx, tsdb.MetricIfOutMbps, labels, start, end, summaryStep)
	if err != nil {
		return nil, err
	}

	if len(inPoints) == 0 && len(outPoints) == 0 {
		return nil, nil
	}

	avgIn, maxIn := avgMax(inPoints)
	avgOut, maxOut := avgMax(outPoints)

	inErrors, err := p.counterDelta(ctx, tsdb.MetricIfInErrors, labels, start, end)
	if err != nil {
		return nil, err
	}

	outErrors, err := p.counterDelta(ctx, tsdb.MetricIfOutErrors, labels, start, end)
	if err != nil {
		return nil, err
	}

	inDiscards, err := p.counterDelta(ctx, tsdb.MetricIfInDiscards, labels, start, end)
	if err != nil {
		return nil, err
	}

	outDiscards, err := p.counterDelta(ctx, tsdb.MetricIfOutDiscard, labels, start, end)
	if err != nil {
		return nil, err
	}

	return &models.InterfaceSummary{
		InterfaceID: iface.ID,
		AvgInMbps:   avgIn,
		AvgOutMbps:  avgOut,
		MaxInMbps:   maxIn,
		MaxOutMbps:  maxOut,
		TotalGB:     (avgIn + avgOut) * summaryWindow.Seconds() / 8 / 1000,
		InErrors:    inErrors,
		OutErrors:   outErrors,
		InDiscards:  inDiscards,
		OutDiscards: outDiscards,
		ComputedAt:  end,
	}, nil
}

// counterDelta returns how much a monotonic counter grew over the window,
// tolerating resets by clamping to zero.
func (p *InterfacePoller) counterDelta(ctx context.Context, metric string, labels map[string]string, start, end time.Time) (uint64, error) {
	points, err := p.series.QueryRange(ctx, metric, labels, start, end, summaryStep)
	if err != nil {
		return 0, err
	}

	if len(points) < 2 {
		return 0, nil
	}

	first := points[0].Value
	last := points[len(points)-1].Value

	if last < first {
		return 0, nil
	}

	return uint64(last - first), nil
}

func (p *InterfacePoller) resolveCredential(device *models.Device) (models.SNMPCredential, error) {
	if device.SNMPCredential == "" {
		return models.SNMPCredential{
			Version:   models.SNMPVersion2c,
			Community: p.cfg.SNMPCommunity,
		}, nil
	}

	cred, err := p.creds.DecryptCredential(device.SNMPCredential)
	if err != nil {
		return models.SNMPCredential{}, err
	}

	return *cred, nil
}

func avgMax(points []tsdb.Point) (avg, maxV float64) {
	if len(points) == 0 {
		return 0, 0
	}

	for _, pt := range points {
		avg += pt.Value

		if pt.Value > maxV {
			maxV = pt.Value
		}
	}

	return avg / float64(len(points)), maxV
}
