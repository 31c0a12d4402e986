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

	"github.com/gosnmp/gosnmp"

	"github.com/branchwatch/branchwatch/pkg/db"
	"github.com/branchwatch/branchwatch/pkg/models"
	"github.com/branchwatch/branchwatch/pkg/probe"
)

// LLDP remote table columns (LLDP-MIB). Row index is
// (timeMark, localPortNum, remIndex); localPortNum maps to ifIndex.
const (
	oidLLDPRemChassisID = ".1.0.8802.1.1.2.1.4.1.1.5"
	oidLLDPRemPortID    = ".1.0.8802.1.1.2.1.4.1.1.7"
	oidLLDPRemPortDesc  = ".1.0.8802.1.1.2.1.4.1.1.8"
	oidLLDPRemSysName   = ".1.0.8802.1.1.2.1.4.1.1.9"
)

// CDP cache columns (CISCO-CDP-MIB). Row index is (ifIndex, deviceIndex).
const (
	oidCDPCacheAddress    = ".1.3.6.1.4.1.9.9.23.1.2.1.1.4"
	oidCDPCacheDeviceID   = ".1.3.6.1.4.1.9.9.23.1.2.1.1.6"
	oidCDPCacheDevicePort = ".1.3.6.1.4.1.9.9.23.1.2.1.1.7"
	oidCDPCachePlatform   = ".1.3.6.1.4.1.9.9.23.1.2.1.1.8"
)

// neighbor is one remote adjacency read from LLDP or CDP.
type neighbor struct {
	localIfIndex int32
	name         string
	port         string
	platform     string
}

// discoverTopology reads neighbor adjacencies over the open session and
// resolves them against the device inventory. LLDP wins; CDP is the
// fallback when the LLDP table is empty.
func (d *Discoverer) discoverTopology(ctx context.Context, session Session, device *models.Device) error {
	protocol := "lldp"

	neighbors, err := d.walkLLDP(session)
	if err != nil {
		d.log.Debug().
			Str("device_ip", device.IP).
			Err(err).
			Msg("LLDP walk failed, trying CDP")
	}

	if len(neighbors) == 0 {
		protocol = "cdp"

		neighbors, err = d.walkCDP(session)
		if err != nil {
			return err
		}
	}

	if len(neighbors) == 0 {
		return nil
	}

	devices, err := d.store.ListDevices(ctx, db.DeviceFilter{})
	if err != nil {
		return err
	}

	interfaces, err := d.store.ListInterfaces(ctx, device.ID)
	if err != nil {
		return err
	}

	byIndex := make(map[int32]*models.Interface, len(interfaces))
	for _, iface := range interfaces {
		byIndex[iface.IfIndex] = iface
	}

	now := time.Now()
	resolved := 0

	for _, n := range neighbors {
		local, ok := byIndex[n.localIfIndex]
		if !ok {
			continue // neighbor on an interface we have not discovered
		}

		link := &models.TopologyLink{
			Protocol:         protocol,
			LocalDeviceID:    device.ID,
			LocalIfIndex:     n.localIfIndex,
			NeighborName:     n.name,
			NeighborPort:     n.port,
			NeighborPlatform: n.platform,
			DiscoveredAt:     now,
		}

		local.LLDPNeighborName = n.name
		local.LLDPNeighborPort = n.port

		if remote := matchDevice(devices, n.name); remote != nil {
			link.NeighborDeviceID = &remote.ID
			local.ConnectedToDeviceID = &remote.ID

			remoteIfaces, err := d.store.ListInterfaces(ctx, remote.ID)
			if err != nil {
				return err
			}

			if remoteIface := matchInterface(remoteIfaces, n.port); remoteIface != nil {
				link.NeighborIfID = &remoteIface.ID
				local.ConnectedToInterfaceID = &remoteIface.ID
			}

			resolved++
		} else {
			// Orphan: keep the raw neighbor strings on the local row only.
			local.ConnectedToDeviceID = nil
			local.ConnectedToInterfaceID = nil
		}

		if err := d.store.UpsertTopologyLink(ctx, link); err != nil {
			return err
		}

		if err := d.store.UpdateInterfaceNeighbor(ctx, local); err != nil {
			return err
		}
	}

	d.log.Info().
		Str("device_ip", device.IP).
		Str("protocol", protocol).
		Int("neighbors", len(neighbors)).
		Int("resolved", resolved).
		Msg("Topology discovery complete")

	return nil
}

func (d *Discoverer) walkLLDP(session Session) ([]neighbor, error) {
	names, err := walkIndexed(session, oidLLDPRemSysName, lldpPortIndex)
	if err != nil {
		return nil, err
	}

	ports, _ := walkIndexed(session, oidLLDPRemPortID, lldpPortIndex)
	portDescs, _ := walkIndexed(session, oidLLDPRemPortDesc, lldpPortIndex)
	chassis, _ := walkIndexed(session, oidLLDPRemChassisID, lldpPortIndex)

	neighbors := make([]neighbor, 0, len(names))

	for ifIndex, name := range names {
		n := neighbor{localIfIndex: ifIndex, name: name}

		if port, ok := ports[ifIndex]; ok {
			n.port = port
		}

		// Port description is usually friendlier than the raw port ID.
		if desc, ok := portDescs[ifIndex]; ok && desc != "" {
			n.port = desc
		}

		if n.name == "" {
			n.name = chassis[ifIndex]
		}

		if n.name == "" {
			continue
		}

		neighbors = append(neighbors, n)
	}

	return neighbors, nil
}

func (d *Discoverer) walkCDP(session Session) ([]neighbor, error) {
	names, err := walkIndexed(session, oidCDPCacheDeviceID, cdpIfIndex)
	if err != nil {
		return nil, err
	}

	ports, _ := walkIndexed(session, oidCDPCacheDevicePort, cdpIfIndex)
	platforms, _ := walkIndexed(session, oidCDPCachePlatform, cdpIfIndex)

	neighbors := make([]neighbor, 0, len(names))

	for ifIndex, name := range names {
		if name == "" {
			continue
		}

		neighbors = append(neighbors, neighbor{
			localIfIndex: ifIndex,
			name:         name,
			port:         ports[ifIndex],
			platform:     platforms[ifIndex],
		})
	}

	return neighbors, nil
}

// walkIndexed walks a column, extracting the local ifIndex from each row's
// composite index with the supplied parser.
func walkIndexed(session Session, root string, parse func(suffix string) (int32, bool)) (map[int32]string, error) {
	out := make(map[int32]string)

	err := session.Walk(root, func(pdu gosnmp.SnmpPDU) error {
		suffix := strings.TrimPrefix(strings.TrimPrefix(pdu.Name, root), ".")

		ifIndex, ok := parse(suffix)
		if !ok {
			return nil
		}

		out[ifIndex] = probe.PDUString(pdu)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// lldpPortIndex pulls localPortNum from a (timeMark, localPortNum, remIndex)
// row suffix.
func lldpPortIndex(suffix string) (int32, bool) {
	parts := strings.Split(suffix, ".")
	if len(parts) < 2 {
		return 0, false
	}

	index, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return 0, false
	}

	return int32(index), true
}

// cdpIfIndex pulls ifIndex from a (ifIndex, deviceIndex) row suffix.
func cdpIfIndex(suffix string) (int32, bool) {
	parts := strings.Split(suffix, ".")
	if len(parts) < 1 || parts[0] == "" {
		return 0, false
	}

	index, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, false
	}

	return int32(index), true
}

// matchDevice resolves a neighbor system name against the inventory: exact
// hostname or display name first, then fuzzy (strip domain, normalize
// separators).
func matchDevice(devices []*models.Device, name string) *models.Device {
	if name == "" {
		return nil
	}

	for _, device := range devices {
		if strings.EqualFold(device.Hostname, name) || strings.EqualFold(device.DisplayName, name) {
			return device
		}
	}

	normalized := normalizeName(name)

	for _, device := range devices {
		if normalizeName(device.Hostname) == normalized || normalizeName(device.DisplayName) == normalized {
			return device
		}
	}

	return nil
}

// matchInterface resolves a neighbor port string: exact match on if_name or
// if_descr first, then substring either way.
func matchInterface(interfaces []*models.Interface, port string) *models.Interface {
	if port == "" {
		return nil
	}

	for _, iface := range interfaces {
		if strings.EqualFold(iface.IfName, port) || strings.EqualFold(iface.IfDescr, port) {
			return iface
		}
	}

	lower := strings.ToLower(port)

	for _, iface := range interfaces {
		for _, candidate := range []string{strings.ToLower(iface.IfName), strings.ToLower(iface.IfDescr)} {
			if candidate == "" {
				continue
			}

			if strings.Contains(candidate, lower) || strings.Contains(lower, candidate) {
				return iface
			}
		}
	}

	return nil
}

// normalizeName lowercases, strips the domain and collapses separator runs
// so "CORE-SW01.branch.example.com" matches "core_sw01".
func normalizeName(name string) string {
	if name == "" {
		return ""
	}

	name = strings.ToLower(name)

	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}

	var b strings.Builder

	for _, r := range name {
		switch r {
		case '-', '_', ' ':
			// separator, drop
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}
