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

package discovery

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosnmp/gosnmp"

	"github.com/branchwatch/branchwatch/pkg/db"
	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
	"github.com/branchwatch/branchwatch/pkg/probe"
)

// IF-MIB and ifXTable column roots walked during discovery.
const (
	oidIfDescr       = ".1.3.6.1.2.1.2.2.1.2"
	oidIfType        = ".1.3.6.1.2.1.2.2.1.3"
	oidIfMtu         = ".1.3.6.1.2.1.2.2.1.4"
	oidIfSpeed       = ".1.3.6.1.2.1.2.2.1.5"
	oidIfPhysAddress = ".1.3.6.1.2.1.2.2.1.6"
	oidIfAdminStatus = ".1.3.6.1.2.1.2.2.1.7"
	oidIfOperStatus  = ".1.3.6.1.2.1.2.2.1.8"

	oidIfName      = ".1.3.6.1.2.1.31.1.1.1.1"
	oidIfHighSpeed = ".1.3.6.1.2.1.31.1.1.1.15"
	oidIfAlias     = ".1.3.6.1.2.1.31.1.1.1.18"
)

// Session is the SNMP transport the discoverer walks through.
type Session interface {
	Connect() error
	Close() error
	Get(oids []string) (map[string]gosnmp.SnmpPDU, error)
	Walk(rootOID string, fn func(pdu gosnmp.SnmpPDU) error) error
}

// SessionFactory opens a session against one device. Tests substitute fakes.
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

// CredentialSource decrypts stored SNMP credential payloads.
type CredentialSource interface {
	DecryptCredential(encoded string) (*models.SNMPCredential, error)
}

// Store is the relational surface discovery needs.
type Store interface {
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	ListDevices(ctx context.Context, filter db.DeviceFilter) ([]*models.Device, error)
	UpsertInterface(ctx context.Context, iface *models.Interface) error
	ListInterfaces(ctx context.Context, deviceID uuid.UUID) ([]*models.Interface, error)
	UpdateInterfaceNeighbor(ctx context.Context, iface *models.Interface) error
	UpsertTopologyLink(ctx context.Context, link *models.TopologyLink) error
}

// Discoverer walks a device's interface table and neighbor tables.
type Discoverer struct {
	store    Store
	creds    CredentialSource
	sessions SessionFactory
	cfg      models.ProbeConfig
	log      logger.Logger
}

// NewDiscoverer wires the discovery jobs.
func NewDiscoverer(store Store, creds CredentialSource, sessions SessionFactory,
	cfg models.ProbeConfig, log logger.Logger) *Discoverer {
	return &Discoverer{
		store:    store,
		creds:    creds,
		sessions: sessions,
		cfg:      cfg,
		log:      log.WithComponent("discovery"),
	}
}

// DiscoverBatch runs interface and topology discovery for each device,
// logging per-device failures.
func (d *Discoverer) DiscoverBatch(ctx context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := d.DiscoverDevice(ctx, id); err != nil {
			d.log.Warn().
				Str("device_id", id.String()).
				Err(err).
				Msg("Discovery failed for device")
		}
	}

	return nil
}

// DiscoverDevice walks IF-MIB, classifies each interface and upserts the
// rows, then runs topology discovery on the same session.
func (d *Discoverer) DiscoverDevice(ctx context.Context, id uuid.UUID) error {
	device, err := d.store.GetDevice(ctx, id)
	if err != nil {
		return err
	}

	session, err := d.openSession(device)
	if err != nil {
		return err
	}
	defer session.Close()

	interfaces, err := d.walkInterfaces(session, device)
	if err != nil {
		return err
	}

	for _, iface := range interfaces {
		if err := d.store.UpsertInterface(ctx, iface); err != nil {
			return err
		}
	}

	d.log.Info().
		Str("device_ip", device.IP).
		Int("interfaces", len(interfaces)).
		Msg("Interface discovery complete")

	return d.discoverTopology(ctx, session, device)
}

func (d *Discoverer) openSession(device *models.Device) (Session, error) {
	cred := models.SNMPCredential{
		Version:   models.SNMPVersion2c,
		Community: d.cfg.SNMPCommunity,
	}

	if device.SNMPCredential != "" {
		decrypted, err := d.creds.DecryptCredential(device.SNMPCredential)
		if err != nil {
			return nil, err
		}

		cred = *decrypted
	}

	session, err := d.sessions(device, cred)
	if err != nil {
		return nil, err
	}

	if err := session.Connect(); err != nil {
		return nil, err
	}

	return session, nil
}

// walkInterfaces collects every IF-MIB column by ifIndex and assembles the
// classified rows.
func (d *Discoverer) walkInterfaces(session Session, device *models.Device) ([]*models.Interface, error) {
	descrs, err := walkColumn(session, oidIfDescr)
	if err != nil {
		return nil, err
	}

	types, _ := walkColumn(session, oidIfType)
	mtus, _ := walkColumn(session, oidIfMtu)
	speeds, _ := walkColumn(session, oidIfSpeed)
	physAddrs, _ := walkColumn(session, oidIfPhysAddress)
	adminStatuses, _ := walkColumn(session, oidIfAdminStatus)
	operStatuses, _ := walkColumn(session, oidIfOperStatus)

	// ifXTable may be absent on old gear; names and aliases stay empty then.
	names, _ := walkColumn(session, oidIfName)
	highSpeeds, _ := walkColumn(session, oidIfHighSpeed)
	aliases, _ := walkColumn(session, oidIfAlias)

	now := time.Now()
	interfaces := make([]*models.Interface, 0, len(descrs))

	for ifIndex, descrPDU := range descrs {
		iface := &models.Interface{
			DeviceID: device.ID,
			IfIndex:  ifIndex,
			IfDescr:  probe.PDUString(descrPDU),
			LastSeen: now,
		}

		if pdu, ok := names[ifIndex]; ok {
			iface.IfName = probe.PDUString(pdu)
		}

		if pdu, ok := aliases[ifIndex]; ok {
			iface.IfAlias = probe.PDUString(pdu)
		}

		if pdu, ok := types[ifIndex]; ok {
			iface.IfType = int32(probe.PDUInt(pdu))
		}

		if pdu, ok := mtus[ifIndex]; ok {
			iface.MTU = int32(probe.PDUInt(pdu))
		}

		if pdu, ok := physAddrs[ifIndex]; ok {
			iface.PhysAddress = probe.PDUPhysAddress(pdu)
		}

		if pdu, ok := adminStatuses[ifIndex]; ok {
			iface.AdminStatus = int32(probe.PDUInt(pdu))
		}

		if pdu, ok := operStatuses[ifIndex]; ok {
			iface.OperStatus = int32(probe.PDUInt(pdu))
		}

		// ifHighSpeed reports Mbps and is the only accurate value for
		// >4 Gbps links; fall back to the 32-bit ifSpeed in bps.
		if pdu, ok := highSpeeds[ifIndex]; ok && probe.PDUUint64(pdu) > 0 {
			iface.Speed = probe.PDUUint64(pdu) * 1_000_000
		} else if pdu, ok := speeds[ifIndex]; ok {
			iface.Speed = probe.PDUUint64(pdu)
		}

		c := Classify(iface.IfName, iface.IfDescr, iface.IfAlias)
		iface.InterfaceType = c.Type
		iface.ISPProvider = c.ISPProvider
		iface.IsCritical = c.IsCritical
		iface.ParserConfidence = c.Confidence

		interfaces = append(interfaces, iface)
	}

	return interfaces, nil
}

// walkColumn walks one table column and keys the PDUs by the trailing
// ifIndex component.
func walkColumn(session Session, root string) (map[int32]gosnmp.SnmpPDU, error) {
	out := make(map[int32]gosnmp.SnmpPDU)

	err := session.Walk(root, func(pdu gosnmp.SnmpPDU) error {
		index, ok := indexAfter(pdu.Name, root)
		if !ok {
			return nil
		}

		out[index] = pdu

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// indexAfter parses the single integer index following the column root.
func indexAfter(name, root string) (int32, bool) {
	suffix := strings.TrimPrefix(strings.TrimPrefix(name, root), ".")
	if suffix == "" || strings.Contains(suffix, ".") {
		return 0, false
	}

	index, err := strconv.ParseInt(suffix, 10, 32)
	if err != nil {
		return 0, false
	}

	return int32(index), true
}
