package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchwatch/branchwatch/pkg/db"
	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
)

type fakePingStore struct {
	devices map[uuid.UUID]*models.Device

	updates  []db.DeviceStateUpdate
	pings    []*models.PingSample
	history  []*models.StatusHistoryEntry
	created  []*models.Alert
	resolved [][]string
}

func newFakePingStore(devices ...*models.Device) *fakePingStore {
	s := &fakePingStore{devices: make(map[uuid.UUID]*models.Device)}
	for _, d := range devices {
		s.devices[d.ID] = d
	}

	return s
}

func (s *fakePingStore) GetDevice(_ context.Context, id uuid.UUID) (*models.Device, error) {
	d, ok := s.devices[id]
	if !ok {
		return nil, db.ErrDeviceNotFound
	}

	copied := *d

	return &copied, nil
}

func (s *fakePingStore) UpdateDeviceState(_ context.Context, id uuid.UUID, update db.DeviceStateUpdate) error {
	s.updates = append(s.updates, update)

	d := s.devices[id]
	d.DownSince = update.DownSince
	d.IsFlapping = update.IsFlapping
	d.FlapCount = update.FlapCount
	d.FlappingSince = update.FlappingSince
	d.StatusChangeTimes = update.StatusChangeTimes
	d.LastSeen = update.LastSeen

	return nil
}

func (s *fakePingStore) InsertPingResult(_ context.Context, sample *models.PingSample) error {
	s.pings = append(s.pings, sample)
	return nil
}

func (s *fakePingStore) AppendStatusHistory(_ context.Context, entry *models.StatusHistoryEntry) error {
	s.history = append(s.history, entry)
	return nil
}

func (s *fakePingStore) CreateAlertIfAbsent(_ context.Context, alert *models.Alert) (bool, error) {
	for _, a := range s.created {
		if a.DeviceID == alert.DeviceID && a.RuleName == alert.RuleName && a.ResolvedAt == nil {
			return false, nil
		}
	}

	s.created = append(s.created, alert)

	return true, nil
}

func (s *fakePingStore) ResolveAlerts(_ context.Context, deviceID uuid.UUID, ruleNames []string, resolvedAt time.Time) (int64, error) {
	s.resolved = append(s.resolved, ruleNames)

	var count int64

	for _, a := range s.created {
		if a.DeviceID != deviceID || a.ResolvedAt != nil {
			continue
		}

		for _, name := range ruleNames {
			if a.RuleName == name {
				a.ResolvedAt = &resolvedAt
				count++
			}
		}
	}

	return count, nil
}

func (s *fakePingStore) activeAlerts(rule string) []*models.Alert {
	var out []*models.Alert

	for _, a := range s.created {
		if a.RuleName == rule && a.ResolvedAt == nil {
			out = append(out, a)
		}
	}

	return out
}

type scriptedProber struct {
	results []*models.PingResult
	calls   int
}

func (p *scriptedProber) PingHost(context.Context, string) (*models.PingResult, error) {
	r := p.results[p.calls%len(p.results)]
	p.calls++

	return r, nil
}

type recordingStream struct {
	changes []models.StatusChange
}

func (r *recordingStream) Publish(change models.StatusChange) {
	r.changes = append(r.changes, change)
}

func upResult(at time.Time) *models.PingResult {
	return &models.PingResult{
		Sent: 2, Received: 2, AvgRTT: 20 * time.Millisecond, IsAlive: true, ProbedAt: at,
	}
}

func downResult(at time.Time) *models.PingResult {
	return &models.PingResult{Sent: 2, PacketLoss: 100, ProbedAt: at}
}

func testDevice(ip string) *models.Device {
	return &models.Device{ID: uuid.New(), IP: ip, MonitoringEnabled: true}
}

func newTestWorker(store *fakePingStore, prober Prober, stream Publisher) *PingWorker {
	return NewPingWorker(store, prober, nil, stream, nil,
		models.DefaultAlertThresholds(), logger.NewTestLogger())
}

func TestUpToDownSetsDownSinceAndAlerts(t *testing.T) {
	device := testDevice("10.20.1.1")
	store := newFakePingStore(device)
	stream := &recordingStream{}

	at := time.Now()
	w := newTestWorker(store, &scriptedProber{results: []*models.PingResult{downResult(at)}}, stream)

	require.NoError(t, w.ProcessDevice(context.Background(), device.ID))

	require.NotNil(t, device.DownSince)
	assert.Equal(t, at, *device.DownSince)

	alerts := store.activeAlerts(models.RuleDeviceUnreachable)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)

	require.Len(t, stream.changes, 1)
	assert.Equal(t, models.DeviceStatusUp, stream.changes[0].OldStatus)
	assert.Equal(t, models.DeviceStatusDown, stream.changes[0].NewStatus)

	require.Len(t, store.history, 1)
	assert.Equal(t, models.DeviceStatusDown, store.history[0].NewStatus)
}

func TestDownToDownPreservesDownSince(t *testing.T) {
	device := testDevice("10.20.1.1")
	store := newFakePingStore(device)

	outage := time.Now().Add(-45 * time.Minute)
	device.DownSince = &outage

	at := time.Now()
	w := newTestWorker(store, &scriptedProber{results: []*models.PingResult{downResult(at)}}, nil)

	// Several more failed probes must not move the outage start.
	for i := 0; i < 3; i++ {
		require.NoError(t, w.ProcessDevice(context.Background(), device.ID))
	}

	require.NotNil(t, device.DownSince)
	assert.Equal(t, outage, *device.DownSince)
	assert.Empty(t, store.history, "no transition, no history rows")
}

func TestDownToUpClearsStateAndResolves(t *testing.T) {
	device := testDevice("10.20.1.1")
	store := newFakePingStore(device)
	stream := &recordingStream{}

	outage := time.Now().Add(-10 * time.Minute)
	device.DownSince = &outage

	store.created = append(store.created, &models.Alert{
		DeviceID: device.ID, RuleName: models.RuleDeviceUnreachable, TriggeredAt: outage,
	})

	at := time.Now()
	w := newTestWorker(store, &scriptedProber{results: []*models.PingResult{upResult(at)}}, stream)

	require.NoError(t, w.ProcessDevice(context.Background(), device.ID))

	assert.Nil(t, device.DownSince)
	assert.Empty(t, store.activeAlerts(models.RuleDeviceUnreachable))

	require.Len(t, stream.changes, 1)
	assert.Equal(t, models.DeviceStatusDown, stream.changes[0].OldStatus)
	assert.Equal(t, models.DeviceStatusUp, stream.changes[0].NewStatus)
}

func TestUpToUpOnlyMovesLastSeen(t *testing.T) {
	device := testDevice("10.20.1.1")
	store := newFakePingStore(device)
	stream := &recordingStream{}

	at := time.Now()
	w := newTestWorker(store, &scriptedProber{results: []*models.PingResult{upResult(at)}}, stream)

	require.NoError(t, w.ProcessDevice(context.Background(), device.ID))

	assert.Nil(t, device.DownSince)
	assert.Equal(t, at, device.LastSeen)
	assert.Empty(t, store.created)
	assert.Empty(t, store.history)
	assert.Empty(t, stream.changes)
}

func TestFlappingSuppressesTransitionAlerts(t *testing.T) {
	device := testDevice("10.20.1.1")
	store := newFakePingStore(device)

	base := time.Now()

	// Alternate down/up fast enough to stay inside the flap window.
	results := []*models.PingResult{
		downResult(base),
		upResult(base.Add(10 * time.Second)),
		downResult(base.Add(20 * time.Second)),
		upResult(base.Add(30 * time.Second)),
		downResult(base.Add(40 * time.Second)),
	}

	w := newTestWorker(store, &scriptedProber{results: results}, nil)

	for range results {
		require.NoError(t, w.ProcessDevice(context.Background(), device.ID))
	}

	assert.True(t, device.IsFlapping)
	require.NotNil(t, device.FlappingSince)
	assert.GreaterOrEqual(t, device.FlapCount, 3)

	// One flapping alert; the flood of transitions after flap onset must not
	// pile on unreachable alerts.
	assert.Len(t, store.activeAlerts(models.RuleDeviceFlapping), 1)

	unreachable := store.activeAlerts(models.RuleDeviceUnreachable)
	assert.LessOrEqual(t, len(unreachable), 1,
		"only the pre-flap transition may have alerted")
}

func TestFlappingClearsWhenWindowDrains(t *testing.T) {
	device := testDevice("10.20.1.1")
	store := newFakePingStore(device)

	// Already flapping, with stale transitions far outside the window.
	old := time.Now().Add(-time.Hour)
	device.IsFlapping = true
	device.FlappingSince = &old
	device.StatusChangeTimes = []time.Time{old, old.Add(time.Minute), old.Add(2 * time.Minute)}

	store.created = append(store.created, &models.Alert{
		DeviceID: device.ID, RuleName: models.RuleDeviceFlapping, TriggeredAt: old,
	})

	w := newTestWorker(store, &scriptedProber{results: []*models.PingResult{upResult(time.Now())}}, nil)

	require.NoError(t, w.ProcessDevice(context.Background(), device.ID))

	assert.False(t, device.IsFlapping)
	assert.Nil(t, device.FlappingSince)
	assert.Empty(t, store.activeAlerts(models.RuleDeviceFlapping))
}

func TestTransitionRingIsBounded(t *testing.T) {
	device := testDevice("10.20.1.1")
	store := newFakePingStore(device)

	base := time.Now().Add(-2 * time.Hour)

	results := make([]*models.PingResult, 0, 2*models.StatusRingSize)
	for i := 0; i < 2*models.StatusRingSize; i++ {
		at := base.Add(time.Duration(i) * 6 * time.Minute)
		if i%2 == 0 {
			results = append(results, downResult(at))
		} else {
			results = append(results, upResult(at))
		}
	}

	w := newTestWorker(store, &scriptedProber{results: results}, nil)

	for range results {
		require.NoError(t, w.ProcessDevice(context.Background(), device.ID))
	}

	assert.LessOrEqual(t, len(device.StatusChangeTimes), models.StatusRingSize)
}

func TestISPLinkUsesStricterFlapThreshold(t *testing.T) {
	device := testDevice("10.20.1.5") // .5 marks the ISP uplink
	store := newFakePingStore(device)

	base := time.Now()

	// Two transitions inside the window: below the default threshold of 3,
	// at the ISP threshold of 2.
	results := []*models.PingResult{
		downResult(base),
		upResult(base.Add(10 * time.Second)),
	}

	w := newTestWorker(store, &scriptedProber{results: results}, nil)

	for range results {
		require.NoError(t, w.ProcessDevice(context.Background(), device.ID))
	}

	assert.True(t, device.IsFlapping)
}

func TestProbeRecordsSamplesAndPingRow(t *testing.T) {
	device := testDevice("10.20.1.1")
	store := newFakePingStore(device)

	at := time.Now()
	w := newTestWorker(store, &scriptedProber{results: []*models.PingResult{upResult(at)}}, nil)

	require.NoError(t, w.ProcessDevice(context.Background(), device.ID))

	require.Len(t, store.pings, 1)
	assert.True(t, store.pings[0].IsReachable)
	assert.InDelta(t, 20, store.pings[0].AvgRTTMs, 1e-9)
}

func TestCountRecent(t *testing.T) {
	now := time.Now()
	ring := []time.Time{
		now.Add(-10 * time.Minute),
		now.Add(-4 * time.Minute),
		now.Add(-1 * time.Minute),
		now,
	}

	assert.Equal(t, 3, countRecent(ring, now, 5*time.Minute))
	assert.Equal(t, 4, countRecent(ring, now, time.Hour))
	assert.Equal(t, 1, countRecent(ring, now, time.Second))
}
