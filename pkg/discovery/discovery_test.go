package discovery

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchwatch/branchwatch/pkg/db"
	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		ifName   string
		descr    string
		alias    string
		want     models.InterfaceType
		critical bool
	}{
		{"isp alias", "Gi0/0", "GigabitEthernet0/0", "WAN: Telco-East", models.InterfaceTypeISP, true},
		{"isp descr", "Gi0/1", "Internet uplink", "", models.InterfaceTypeISP, true},
		{"trunk keyword", "Gi0/2", "trunk to core", "", models.InterfaceTypeTrunk, true},
		{"port-channel", "Po1", "Port-channel1", "", models.InterfaceTypeTrunk, true},
		{"server plain", "Gi0/3", "server rack 3", "", models.InterfaceTypeServerLink, false},
		{"server prod", "Gi0/4", "server link", "prod database", models.InterfaceTypeServerLink, true},
		{"branch", "Gi0/5", "", "MPLS to branch 12", models.InterfaceTypeBranchLink, true},
		{"management", "Gi0/6", "mgmt vlan", "", models.InterfaceTypeManagement, false},
		{"access", "Gi0/7", "user access port", "", models.InterfaceTypeAccess, false},
		{"loopback", "Lo0", "", "", models.InterfaceTypeLoopback, false},
		{"voice", "Gi0/8", "voice vlan", "", models.InterfaceTypeVoice, false},
		{"camera", "Gi0/9", "cctv feed", "", models.InterfaceTypeCamera, false},
		{"unclassified", "Gi0/10", "GigabitEthernet0/10", "", models.InterfaceTypeOther, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.ifName, tt.descr, tt.alias)
			assert.Equal(t, tt.want, c.Type)
			assert.Equal(t, tt.critical, c.IsCritical)
		})
	}
}

func TestClassifyExtractsProvider(t *testing.T) {
	c := Classify("Gi0/0", "", "WAN: Telco-East")
	assert.Equal(t, models.InterfaceTypeISP, c.Type)
	assert.Equal(t, "Telco-East", c.ISPProvider)
	assert.True(t, c.IsCritical)

	c = Classify("Gi0/1", "isp-comcast", "")
	assert.Equal(t, "comcast", c.ISPProvider)
}

func TestClassifyISPWinsOverTrunk(t *testing.T) {
	// Alias says uplink, descr says trunk: ISP rule is checked first.
	c := Classify("Po2", "trunk", "internet uplink")
	assert.Equal(t, models.InterfaceTypeISP, c.Type)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "coresw01", normalizeName("CORE-SW01.branch.example.com"))
	assert.Equal(t, "coresw01", normalizeName("core_sw01"))
	assert.Equal(t, "coresw01", normalizeName("Core SW01"))
	assert.Empty(t, normalizeName(""))
}

func TestMatchDevice(t *testing.T) {
	devices := []*models.Device{
		{ID: uuid.New(), Hostname: "core-sw01.branch.example.com"},
		{ID: uuid.New(), DisplayName: "Branch Router 7"},
	}

	assert.Same(t, devices[0], matchDevice(devices, "core-sw01.branch.example.com"))
	assert.Same(t, devices[0], matchDevice(devices, "CORE_SW01"))
	assert.Nil(t, matchDevice(devices, "unknown-host"))
	assert.Nil(t, matchDevice(devices, ""))
}

func TestMatchInterface(t *testing.T) {
	interfaces := []*models.Interface{
		{ID: uuid.New(), IfName: "Gi0/1", IfDescr: "GigabitEthernet0/1"},
		{ID: uuid.New(), IfName: "Gi0/2", IfDescr: "GigabitEthernet0/2"},
	}

	assert.Same(t, interfaces[0], matchInterface(interfaces, "Gi0/1"))
	assert.Same(t, interfaces[1], matchInterface(interfaces, "GigabitEthernet0/2"))
	assert.Nil(t, matchInterface(interfaces, "Te1/1"))
}

func TestIndexParsers(t *testing.T) {
	idx, ok := indexAfter(".1.3.6.1.2.1.2.2.1.2.3", oidIfDescr)
	require.True(t, ok)
	assert.Equal(t, int32(3), idx)

	_, ok = indexAfter(".1.3.6.1.2.1.2.2.1.2.3.4", oidIfDescr)
	assert.False(t, ok)

	idx, ok = lldpPortIndex("0.2.1")
	require.True(t, ok)
	assert.Equal(t, int32(2), idx)

	idx, ok = cdpIfIndex("4.1")
	require.True(t, ok)
	assert.Equal(t, int32(4), idx)
}

// fakeDiscoveryStore keeps interfaces keyed by (device, ifIndex) so upserts
// behave like the real table.
type fakeDiscoveryStore struct {
	devices    map[uuid.UUID]*models.Device
	interfaces map[uuid.UUID]map[int32]*models.Interface
	links      []*models.TopologyLink
	neighbors  []*models.Interface
}

func newFakeDiscoveryStore(devices ...*models.Device) *fakeDiscoveryStore {
	s := &fakeDiscoveryStore{
		devices:    make(map[uuid.UUID]*models.Device),
		interfaces: make(map[uuid.UUID]map[int32]*models.Interface),
	}

	for _, d := range devices {
		s.devices[d.ID] = d
	}

	return s
}

func (s *fakeDiscoveryStore) GetDevice(_ context.Context, id uuid.UUID) (*models.Device, error) {
	d, ok := s.devices[id]
	if !ok {
		return nil, db.ErrDeviceNotFound
	}

	return d, nil
}

func (s *fakeDiscoveryStore) ListDevices(context.Context, db.DeviceFilter) ([]*models.Device, error) {
	out := make([]*models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}

	return out, nil
}

func (s *fakeDiscoveryStore) UpsertInterface(_ context.Context, iface *models.Interface) error {
	rows, ok := s.interfaces[iface.DeviceID]
	if !ok {
		rows = make(map[int32]*models.Interface)
		s.interfaces[iface.DeviceID] = rows
	}

	if existing, found := rows[iface.IfIndex]; found {
		iface.ID = existing.ID
	} else if iface.ID == uuid.Nil {
		iface.ID = uuid.New()
	}

	rows[iface.IfIndex] = iface

	return nil
}

func (s *fakeDiscoveryStore) ListInterfaces(_ context.Context, deviceID uuid.UUID) ([]*models.Interface, error) {
	var out []*models.Interface
	for _, iface := range s.interfaces[deviceID] {
		out = append(out, iface)
	}

	return out, nil
}

func (s *fakeDiscoveryStore) UpdateInterfaceNeighbor(_ context.Context, iface *models.Interface) error {
	s.neighbors = append(s.neighbors, iface)
	return nil
}

func (s *fakeDiscoveryStore) UpsertTopologyLink(_ context.Context, link *models.TopologyLink) error {
	s.links = append(s.links, link)
	return nil
}

// walkSession serves canned PDUs per column root.
type walkSession struct {
	columns map[string][]gosnmp.SnmpPDU
}

func (s *walkSession) Connect() error { return nil }
func (s *walkSession) Close() error   { return nil }

func (s *walkSession) Get([]string) (map[string]gosnmp.SnmpPDU, error) {
	return map[string]gosnmp.SnmpPDU{}, nil
}

func (s *walkSession) Walk(root string, fn func(gosnmp.SnmpPDU) error) error {
	for _, pdu := range s.columns[root] {
		if err := fn(pdu); err != nil {
			return err
		}
	}

	return nil
}

func column(root string, values map[int]interface{}) []gosnmp.SnmpPDU {
	out := make([]gosnmp.SnmpPDU, 0, len(values))
	for idx, v := range values {
		out = append(out, gosnmp.SnmpPDU{Name: fmt.Sprintf("%s.%d", root, idx), Value: v})
	}

	return out
}

func newWalkSession() *walkSession {
	return &walkSession{columns: map[string][]gosnmp.SnmpPDU{
		oidIfDescr: column(oidIfDescr, map[int]interface{}{
			1: "GigabitEthernet0/0",
			2: "GigabitEthernet0/1",
			3: "Loopback0",
		}),
		oidIfName: column(oidIfName, map[int]interface{}{
			1: "Gi0/0", 2: "Gi0/1", 3: "Lo0",
		}),
		oidIfAlias: column(oidIfAlias, map[int]interface{}{
			1: "WAN: Telco-East", 2: "trunk to core", 3: "",
		}),
		oidIfOperStatus: column(oidIfOperStatus, map[int]interface{}{
			1: 1, 2: 1, 3: 1,
		}),
		oidIfAdminStatus: column(oidIfAdminStatus, map[int]interface{}{
			1: 1, 2: 1, 3: 1,
		}),
		oidIfHighSpeed: column(oidIfHighSpeed, map[int]interface{}{
			1: uint(1000), 2: uint(10000), 3: uint(0),
		}),
	}}
}

func newTestDiscoverer(store Store, session Session) *Discoverer {
	factory := func(*models.Device, models.SNMPCredential) (Session, error) {
		return session, nil
	}

	return NewDiscoverer(store, nil, factory, models.DefaultProbeConfig(), logger.NewTestLogger())
}

func TestDiscoverDeviceUpsertsClassifiedInterfaces(t *testing.T) {
	device := &models.Device{ID: uuid.New(), IP: "10.20.1.1"}
	store := newFakeDiscoveryStore(device)

	d := newTestDiscoverer(store, newWalkSession())

	require.NoError(t, d.DiscoverDevice(context.Background(), device.ID))

	rows := store.interfaces[device.ID]
	require.Len(t, rows, 3)

	wan := rows[1]
	assert.Equal(t, models.InterfaceTypeISP, wan.InterfaceType)
	assert.Equal(t, "Telco-East", wan.ISPProvider)
	assert.True(t, wan.IsCritical)
	assert.Equal(t, uint64(1000*1_000_000), wan.Speed)

	trunk := rows[2]
	assert.Equal(t, models.InterfaceTypeTrunk, trunk.InterfaceType)
	assert.True(t, trunk.IsCritical)

	loopback := rows[3]
	assert.Equal(t, models.InterfaceTypeLoopback, loopback.InterfaceType)
	assert.False(t, loopback.IsCritical)
}

func TestDiscoveryIsIdempotent(t *testing.T) {
	device := &models.Device{ID: uuid.New(), IP: "10.20.1.1"}
	store := newFakeDiscoveryStore(device)

	d := newTestDiscoverer(store, newWalkSession())

	require.NoError(t, d.DiscoverDevice(context.Background(), device.ID))

	firstIDs := make(map[int32]uuid.UUID)
	for idx, iface := range store.interfaces[device.ID] {
		firstIDs[idx] = iface.ID
	}

	require.NoError(t, d.DiscoverDevice(context.Background(), device.ID))

	rows := store.interfaces[device.ID]
	require.Len(t, rows, 3, "second run must not add rows")

	for idx, iface := range rows {
		assert.Equal(t, firstIDs[idx], iface.ID, "upsert must keep row identity")
	}
}

func TestTopologyResolvesNeighborsAndRecordsOrphans(t *testing.T) {
	local := &models.Device{ID: uuid.New(), IP: "10.20.1.1", Hostname: "branch-rtr-01"}
	remote := &models.Device{ID: uuid.New(), IP: "10.20.1.2", Hostname: "core-sw01.branch.example.com"}
	store := newFakeDiscoveryStore(local, remote)

	// Pre-seed the remote device's interface table for port matching.
	require.NoError(t, store.UpsertInterface(context.Background(), &models.Interface{
		DeviceID: remote.ID, IfIndex: 7, IfName: "Gi0/7", IfDescr: "GigabitEthernet0/7",
	}))

	session := newWalkSession()
	session.columns[oidLLDPRemSysName] = []gosnmp.SnmpPDU{
		{Name: oidLLDPRemSysName + ".0.1.1", Value: "CORE_SW01"},
		{Name: oidLLDPRemSysName + ".0.2.1", Value: "printer-closet-3"},
	}
	session.columns[oidLLDPRemPortDesc] = []gosnmp.SnmpPDU{
		{Name: oidLLDPRemPortDesc + ".0.1.1", Value: "GigabitEthernet0/7"},
		{Name: oidLLDPRemPortDesc + ".0.2.1", Value: "eth0"},
	}

	d := newTestDiscoverer(store, session)

	require.NoError(t, d.DiscoverDevice(context.Background(), local.ID))

	require.Len(t, store.links, 2)

	byName := make(map[string]*models.TopologyLink)
	for _, link := range store.links {
		byName[link.NeighborName] = link
	}

	matched := byName["CORE_SW01"]
	require.NotNil(t, matched)
	assert.Equal(t, "lldp", matched.Protocol)
	require.NotNil(t, matched.NeighborDeviceID)
	assert.Equal(t, remote.ID, *matched.NeighborDeviceID)
	require.NotNil(t, matched.NeighborIfID)

	orphan := byName["printer-closet-3"]
	require.NotNil(t, orphan)
	assert.Nil(t, orphan.NeighborDeviceID)

	// The orphan still lands on the local row's neighbor strings.
	var orphanLocal *models.Interface
	for _, iface := range store.neighbors {
		if iface.LLDPNeighborName == "printer-closet-3" {
			orphanLocal = iface
		}
	}

	require.NotNil(t, orphanLocal)
	assert.Nil(t, orphanLocal.ConnectedToDeviceID)
}

func TestTopologyFallsBackToCDP(t *testing.T) {
	local := &models.Device{ID: uuid.New(), IP: "10.20.1.1"}
	store := newFakeDiscoveryStore(local)

	session := newWalkSession()
	session.columns[oidCDPCacheDeviceID] = []gosnmp.SnmpPDU{
		{Name: oidCDPCacheDeviceID + ".2.1", Value: "atm-lobby-01"},
	}
	session.columns[oidCDPCacheDevicePort] = []gosnmp.SnmpPDU{
		{Name: oidCDPCacheDevicePort + ".2.1", Value: "eth0"},
	}
	session.columns[oidCDPCachePlatform] = []gosnmp.SnmpPDU{
		{Name: oidCDPCachePlatform + ".2.1", Value: "NCR SelfServ"},
	}

	d := newTestDiscoverer(store, session)

	require.NoError(t, d.DiscoverDevice(context.Background(), local.ID))

	require.Len(t, store.links, 1)
	assert.Equal(t, "cdp", store.links[0].Protocol)
	assert.Equal(t, "atm-lobby-01", store.links[0].NeighborName)
	assert.Equal(t, "NCR SelfServ", store.links[0].NeighborPlatform)
	assert.Equal(t, int32(2), store.links[0].LocalIfIndex)
}
