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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosnmp/gosnmp"
	"golang.org/x/sync/semaphore"

	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
	"github.com/branchwatch/branchwatch/pkg/probe"
	"github.com/branchwatch/branchwatch/pkg/tsdb"
)

// MIB-II system scalars polled on every device regardless of vendor.
const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysObjectID = ".1.3.6.1.2.1.1.2.0"
	oidSysUpTime   = ".1.3.6.1.2.1.1.3.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
)

// credWarnInterval rate-limits credential failure logging per device.
const credWarnInterval = 10 * time.Minute

// Session is the SNMP transport the workers poll through.
type Session interface {
	Connect() error
	Close() error
	Get(oids []string) (map[string]gosnmp.SnmpPDU, error)
	Walk(rootOID string, fn func(pdu gosnmp.SnmpPDU) error) error
}

// SessionFactory opens a session against one device with decrypted
// credentials. Tests substitute a fake.
type SessionFactory func(device *models.Device, cred models.SNMPCredential) (Session, error)

// DefaultSessionFactory builds real gosnmp sessions from probe config.
func DefaultSessionFactory(cfg models.ProbeConfig) SessionFactory {
	return func(device *models.Device, cred models.SNMPCredential) (Session, error) {
		port := device.SNMPPort
		if port == 0 {
			port = cfg.SNMPPort
		}

		return probe.NewSNMPSession(device.IP, port, cred, cfg)
	}
}

// vendorPrefixes maps sysObjectID enterprise prefixes to vendor names.
// Order matters: longer, more specific prefixes first.
var vendorPrefixes = []struct {
	prefix string
	vendor string
}{
	{".1.3.6.1.4.1.9.", "cisco"},
	{".1.3.6.1.4.1.2636.", "juniper"},
	{".1.3.6.1.4.1.30065.", "arista"},
	{".1.3.6.1.4.1.2011.", "huawei"},
	{".1.3.6.1.4.1.12356.", "fortinet"},
	{".1.3.6.1.4.1.14988.", "mikrotik"},
	{".1.3.6.1.4.1.11.", "hpe"},
	{".1.3.6.1.4.1.8072.", "net-snmp"},
}

// vendorOIDs lists the extra health OIDs polled per detected vendor, keyed by
// the metric each value feeds. Unknown vendors get universal OIDs only.
var vendorOIDs = map[string]map[string]string{
	"cisco": {
		tsdb.MetricCPUUtil: ".1.3.6.1.4.1.9.9.109.1.1.1.1.8.1",
		tsdb.MetricMemUsed: ".1.3.6.1.4.1.9.9.48.1.1.1.5.1",
		tsdb.MetricMemFree: ".1.3.6.1.4.1.9.9.48.1.1.1.6.1",
	},
	"juniper": {
		tsdb.MetricCPUUtil: ".1.3.6.1.4.1.2636.3.1.13.1.8.9.1.0.0",
	},
	"mikrotik": {
		tsdb.MetricCPUUtil: ".1.3.6.1.2.1.25.3.3.1.2.1",
	},
}

// VendorForSysObjectID resolves a vendor name from a sysObjectID, or ""
// when the enterprise prefix is unknown.
func VendorForSysObjectID(sysObjectID string) string {
	if sysObjectID != "" && !strings.HasPrefix(sysObjectID, ".") {
		sysObjectID = "." + sysObjectID
	}

	for _, entry := range vendorPrefixes {
		if strings.HasPrefix(sysObjectID, entry.prefix) {
			return entry.vendor
		}
	}

	return ""
}

// SNMPStore is the relational surface the SNMP worker needs.
type SNMPStore interface {
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	UpdateDeviceSysObjectID(ctx context.Context, id uuid.UUID, sysObjectID string) error
}

// CredentialSource decrypts stored SNMP credential payloads.
type CredentialSource interface {
	DecryptCredential(encoded string) (*models.SNMPCredential, error)
}

// SNMPWorker polls system health over SNMP and ships labeled samples.
type SNMPWorker struct {
	store    SNMPStore
	creds    CredentialSource
	sessions SessionFactory
	ts       SampleWriter
	cfg      models.ProbeConfig
	log      logger.Logger

	mu           sync.Mutex
	lastCredWarn map[uuid.UUID]time.Time
}

// NewSNMPWorker wires the health poller.
func NewSNMPWorker(store SNMPStore, creds CredentialSource, sessions SessionFactory,
	ts SampleWriter, cfg models.ProbeConfig, log logger.Logger) *SNMPWorker {
	return &SNMPWorker{
		store:        store,
		creds:        creds,
		sessions:     sessions,
		ts:           ts,
		cfg:          cfg,
		log:          log.WithComponent("snmp_worker"),
		lastCredWarn: make(map[uuid.UUID]time.Time),
	}
}

// PollBatch polls the devices in the batch concurrently, bounded by the
// configured SNMP concurrency. Per-device failures are logged and skipped.
func (w *SNMPWorker) PollBatch(ctx context.Context, ids []uuid.UUID) error {
	limit := w.cfg.SNMPConcurrency
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

			if err := w.PollDevice(ctx, id); err != nil {
				w.log.Warn().
					Str("device_id", id.String()).
					Err(err).
					Msg("SNMP poll failed for device")
			}
		}(id)
	}

	wg.Wait()

	return ctx.Err()
}

// PollDevice runs one health poll: system scalars, vendor detection, vendor
// OIDs. Per-OID failures are recorded, never fatal.
func (w *SNMPWorker) PollDevice(ctx context.Context, id uuid.UUID) error {
	device, err := w.store.GetDevice(ctx, id)
	if err != nil {
		return err
	}

	cred, ok := w.resolveCredential(device)
	if !ok {
		return nil // credential failure already logged, skip this cycle
	}

	session, err := w.sessions(device, cred)
	if err != nil {
		return err
	}

	if err := session.Connect(); err != nil {
		return err
	}
	defer session.Close()

	pdus, err := session.Get([]string{oidSysUpTime, oidSysObjectID, oidSysName, oidSysDescr})
	if err != nil {
		return err
	}

	now := time.Now()
	labels := map[string]string{
		tsdb.LabelDeviceID: device.ID.String(),
		tsdb.LabelDeviceIP: device.IP,
	}

	var samples []models.Sample

	if pdu, found := pdus[oidSysUpTime]; found {
		// sysUpTime is TimeTicks, hundredths of a second.
		samples = append(samples, models.Sample{
			Metric:    tsdb.MetricSysUptime,
			Labels:    labels,
			Value:     float64(probe.PDUUint64(pdu)) / 100,
			Timestamp: now,
		})
	}

	vendor := device.Vendor

	if pdu, found := pdus[oidSysObjectID]; found {
		sysObjectID := probe.PDUString(pdu)

		if sysObjectID != "" && sysObjectID != device.SysObjectID {
			if err := w.store.UpdateDeviceSysObjectID(ctx, device.ID, sysObjectID); err != nil {
				w.log.Error().
					Str("device_ip", device.IP).
					Err(err).
					Msg("Failed to record sysObjectID")
			}
		}

		if detected := VendorForSysObjectID(sysObjectID); detected != "" {
			vendor = detected
		}
	}

	samples = append(samples, w.pollVendorOIDs(session, device, vendor, now)...)

	if len(samples) == 0 || w.ts == nil {
		return nil
	}

	return w.ts.WriteBatch(ctx, samples)
}

// pollVendorOIDs fetches the vendor-specific health OIDs in one request.
// Objects the agent does not implement are simply absent from the reply and
// never hide the rest.
func (w *SNMPWorker) pollVendorOIDs(session Session, device *models.Device, vendor string, now time.Time) []models.Sample {
	oids := vendorOIDs[strings.ToLower(vendor)]
	if len(oids) == 0 {
		return nil
	}

	request := make([]string, 0, len(oids))
	for _, oid := range oids {
		request = append(request, oid)
	}

	pdus, err := session.Get(request)
	if err != nil {
		w.log.Debug().
			Str("device_ip", device.IP).
			Str("vendor", vendor).
			Err(err).
			Msg("Vendor OIDs unavailable")

		return nil
	}

	samples := make([]models.Sample, 0, len(oids))

	for metric, oid := range oids {
		pdu, found := pdus[oid]
		if !found {
			continue
		}

		samples = append(samples, models.Sample{
			Metric: metric,
			Labels: map[string]string{
				tsdb.LabelDeviceID: device.ID.String(),
				tsdb.LabelDeviceIP: device.IP,
				tsdb.LabelVendor:   vendor,
				tsdb.LabelOID:      oid,
			},
			Value:     float64(probe.PDUUint64(pdu)),
			Timestamp: now,
		})
	}

	return samples
}

// resolveCredential decrypts the stored credential, falling back to the
// default v2c community when the device has none configured. Decrypt
// failures are logged at most once per device per interval.
func (w *SNMPWorker) resolveCredential(device *models.Device) (models.SNMPCredential, bool) {
	if device.SNMPCredential == "" {
		return models.SNMPCredential{
			Version:   models.SNMPVersion2c,
			Community: w.cfg.SNMPCommunity,
		}, true
	}

	cred, err := w.creds.DecryptCredential(device.SNMPCredential)
	if err != nil {
		w.mu.Lock()
		last, seen := w.lastCredWarn[device.ID]
		warn := !seen || time.Since(last) >= credWarnInterval
		if warn {
			w.lastCredWarn[device.ID] = time.Now()
		}
		w.mu.Unlock()

		if warn {
			w.log.Warn().
				Str("device_ip", device.IP).
				Err(err).
				Msg("SNMP credential could not be decrypted, skipping device this cycle")
		}

		return models.SNMPCredential{}, false
	}

	return *cred, true
}
