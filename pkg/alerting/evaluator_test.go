package alerting

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

// fakeStore is an in-memory Store with the same one-active-per-rule
// semantics as the relational gateway.
type fakeStore struct {
	devices    []*models.Device
	pings      map[string]db.LatestPing
	interfaces []*models.Interface
	rules      []*models.AlertRule
	alerts     []*models.Alert
}

func (f *fakeStore) ListDevices(_ context.Context, filter db.DeviceFilter) ([]*models.Device, error) {
	if !filter.EnabledOnly {
		return f.devices, nil
	}

	var out []*models.Device

	for _, d := range f.devices {
		if d.MonitoringEnabled {
			out = append(out, d)
		}
	}

	return out, nil
}

func (f *fakeStore) LatestPings(_ context.Context, ips []string) (map[string]db.LatestPing, error) {
	out := make(map[string]db.LatestPing)

	for _, ip := range ips {
		if ping, ok := f.pings[ip]; ok {
			out[ip] = ping
		}
	}

	return out, nil
}

func (f *fakeStore) ListCriticalInterfaces(context.Context) ([]*models.Interface, error) {
	return f.interfaces, nil
}

func (f *fakeStore) ListAlertRules(context.Context, bool) ([]*models.AlertRule, error) {
	return f.rules, nil
}

func (f *fakeStore) GetDevice(_ context.Context, id uuid.UUID) (*models.Device, error) {
	for _, d := range f.devices {
		if d.ID == id {
			return d, nil
		}
	}

	return nil, db.ErrDeviceNotFound
}

func (f *fakeStore) ActiveAlerts(_ context.Context, deviceID uuid.UUID) ([]*models.Alert, error) {
	var out []*models.Alert

	for _, a := range f.alerts {
		if a.DeviceID == deviceID && a.IsActive() {
			out = append(out, a)
		}
	}

	return out, nil
}

func (f *fakeStore) CreateAlertIfAbsent(_ context.Context, alert *models.Alert) (bool, error) {
	for _, a := range f.alerts {
		if a.DeviceID == alert.DeviceID && a.RuleName == alert.RuleName && a.IsActive() {
			return false, nil
		}
	}

	alert.ID = uuid.New()
	f.alerts = append(f.alerts, alert)

	return true, nil
}

func (f *fakeStore) ResolveAlerts(_ context.Context, deviceID uuid.UUID, ruleNames []string, resolvedAt time.Time) (int64, error) {
	names := make(map[string]bool, len(ruleNames))
	for _, n := range ruleNames {
		names[n] = true
	}

	var count int64

	for _, a := range f.alerts {
		if a.DeviceID == deviceID && names[a.RuleName] && a.IsActive() {
			at := resolvedAt
			a.ResolvedAt = &at
			count++
		}
	}

	return count, nil
}

func (f *fakeStore) active(deviceID uuid.UUID) []*models.Alert {
	out, _ := f.ActiveAlerts(context.Background(), deviceID)
	return out
}

func upDevice(ip string) *models.Device {
	return &models.Device{
		ID:                uuid.New(),
		IP:                ip,
		MonitoringEnabled: true,
	}
}

func newEvaluator(store *fakeStore) *Evaluator {
	return NewEvaluator(store, models.DefaultAlertThresholds(), logger.NewTestLogger())
}

func TestDeviceDownRaisesCriticalAlert(t *testing.T) {
	device := upDevice("10.0.0.10")
	downSince := time.Now().Add(-time.Minute)
	device.DownSince = &downSince

	store := &fakeStore{devices: []*models.Device{device}}
	e := newEvaluator(store)

	require.NoError(t, e.EvaluateAll(context.Background()))

	actives := store.active(device.ID)
	require.Len(t, actives, 1)
	assert.Equal(t, models.RuleDeviceUnreachable, actives[0].RuleName)
	assert.Equal(t, models.SeverityCritical, actives[0].Severity)
}

func TestDeviceDownWithinGraceIsQuiet(t *testing.T) {
	device := upDevice("10.0.0.10")
	downSince := time.Now().Add(-2 * time.Second)
	device.DownSince = &downSince

	store := &fakeStore{devices: []*models.Device{device}}
	e := newEvaluator(store)

	require.NoError(t, e.EvaluateAll(context.Background()))
	assert.Empty(t, store.active(device.ID))
}

func TestEvaluatorIsIdempotent(t *testing.T) {
	device := upDevice("10.0.0.10")
	downSince := time.Now().Add(-time.Minute)
	device.DownSince = &downSince

	store := &fakeStore{devices: []*models.Device{device}}
	e := newEvaluator(store)

	require.NoError(t, e.EvaluateAll(context.Background()))
	require.NoError(t, e.EvaluateAll(context.Background()))

	assert.Len(t, store.alerts, 1)
}

func TestFlappingSuppressesUnreachable(t *testing.T) {
	device := upDevice("10.0.0.10")
	downSince := time.Now().Add(-time.Minute)
	flapSince := time.Now().Add(-3 * time.Minute)
	device.DownSince = &downSince
	device.IsFlapping = true
	device.FlappingSince = &flapSince
	device.FlapCount = 4

	store := &fakeStore{devices: []*models.Device{device}}
	e := newEvaluator(store)

	require.NoError(t, e.EvaluateAll(context.Background()))

	actives := store.active(device.ID)
	require.Len(t, actives, 1)
	assert.Equal(t, models.RuleDeviceFlapping, actives[0].RuleName)
}

func TestISPLinkUsesStricterThresholds(t *testing.T) {
	isp := upDevice("10.0.0.5")
	branch := upDevice("10.0.0.20")

	store := &fakeStore{
		devices: []*models.Device{isp, branch},
		pings: map[string]db.LatestPing{
			// 150ms breaches the 100ms ISP limit but not the 200ms default.
			isp.IP:    {DeviceIP: isp.IP, IsReachable: true, AvgRTTMs: 150},
			branch.IP: {DeviceIP: branch.IP, IsReachable: true, AvgRTTMs: 150},
		},
	}
	e := newEvaluator(store)

	require.NoError(t, e.EvaluateAll(context.Background()))

	ispActives := store.active(isp.ID)
	require.Len(t, ispActives, 1)
	assert.Equal(t, models.RuleHighLatency, ispActives[0].RuleName)
	assert.Equal(t, models.SeverityHigh, ispActives[0].Severity)

	assert.Empty(t, store.active(branch.ID))
}

func TestHigherSeverityResolvesLowerInGroup(t *testing.T) {
	device := upDevice("10.0.0.10")
	downSince := time.Now().Add(-time.Minute)
	device.DownSince = &downSince

	high := &models.AlertRule{
		ID:         uuid.New(),
		Name:       "Device Down - High",
		Expression: string(CondDeviceDown),
		Severity:   models.SeverityHigh,
		Enabled:    true,
	}
	critical := &models.AlertRule{
		ID:         uuid.New(),
		Name:       "Device Down - Critical",
		Expression: string(CondDeviceDown),
		Severity:   models.SeverityCritical,
		Enabled:    true,
	}

	// First tick: only the HIGH rule exists and fires.
	store := &fakeStore{devices: []*models.Device{device}, rules: []*models.AlertRule{high}}
	e := newEvaluator(store)
	require.NoError(t, e.EvaluateAll(context.Background()))

	// The built-in CRITICAL candidate outranks the custom rule, so remove it
	// from contention for this scenario by resolving it up front.
	_, err := store.ResolveAlerts(context.Background(), device.ID, []string{models.RuleDeviceUnreachable}, time.Now())
	require.NoError(t, err)
	store.alerts = append([]*models.Alert{}, &models.Alert{
		ID: uuid.New(), DeviceID: device.ID, RuleName: high.Name,
		Severity: models.SeverityHigh, TriggeredAt: time.Now(),
	})

	// Second tick: the CRITICAL rule joins and must win the group outright,
	// beating the built-in on the severity tie.
	store.rules = []*models.AlertRule{high, critical}
	require.NoError(t, e.EvaluateAll(context.Background()))

	actives := store.active(device.ID)
	require.Len(t, actives, 1)
	assert.Equal(t, critical.Name, actives[0].RuleName)
	assert.Equal(t, models.SeverityCritical, actives[0].Severity)
}

func TestCustomRuleWinsSeverityTie(t *testing.T) {
	device := upDevice("10.0.0.10")
	downSince := time.Now().Add(-time.Minute)
	device.DownSince = &downSince

	custom := &models.AlertRule{
		ID:         uuid.New(),
		Name:       "Branch Router Down",
		Expression: string(CondDeviceDown),
		Severity:   models.SeverityCritical,
		Enabled:    true,
	}

	store := &fakeStore{devices: []*models.Device{device}}
	e := newEvaluator(store)

	// First tick with no custom rule: the built-in fires.
	require.NoError(t, e.EvaluateAll(context.Background()))

	actives := store.active(device.ID)
	require.Len(t, actives, 1)
	require.Equal(t, models.RuleDeviceUnreachable, actives[0].RuleName)

	// The custom rule appears at the same severity: it takes over the group
	// and the built-in resolves.
	store.rules = []*models.AlertRule{custom}
	require.NoError(t, e.EvaluateAll(context.Background()))

	actives = store.active(device.ID)
	require.Len(t, actives, 1)
	assert.Equal(t, custom.Name, actives[0].RuleName)
	assert.Equal(t, models.SeverityCritical, actives[0].Severity)
}

func TestConditionClearedResolvesGroup(t *testing.T) {
	device := upDevice("10.0.0.10")

	store := &fakeStore{
		devices: []*models.Device{device},
		pings: map[string]db.LatestPing{
			device.IP: {DeviceIP: device.IP, IsReachable: true, AvgRTTMs: 300},
		},
	}
	e := newEvaluator(store)

	require.NoError(t, e.EvaluateAll(context.Background()))
	require.Len(t, store.active(device.ID), 1)

	store.pings[device.IP] = db.LatestPing{DeviceIP: device.IP, IsReachable: true, AvgRTTMs: 20}

	require.NoError(t, e.EvaluateAll(context.Background()))
	assert.Empty(t, store.active(device.ID))
}

func TestCriticalInterfaceDownRaisesMediumAlert(t *testing.T) {
	device := upDevice("10.0.0.10")

	iface := &models.Interface{
		ID:            uuid.New(),
		DeviceID:      device.ID,
		IfIndex:       1,
		IfName:        "Gi0/0",
		AdminStatus:   models.IfStatusUp,
		OperStatus:    models.IfStatusDown,
		InterfaceType: models.InterfaceTypeISP,
		ISPProvider:   "Telco-East",
		IsCritical:    true,
	}

	store := &fakeStore{devices: []*models.Device{device}, interfaces: []*models.Interface{iface}}
	e := newEvaluator(store)

	require.NoError(t, e.EvaluateAll(context.Background()))

	actives := store.active(device.ID)
	require.Len(t, actives, 1)
	assert.Equal(t, models.RuleInterfaceDown, actives[0].RuleName)
	assert.Equal(t, models.SeverityMedium, actives[0].Severity)
	assert.Contains(t, actives[0].Message, "Gi0/0")

	// Recovery resolves it.
	iface.OperStatus = models.IfStatusUp
	require.NoError(t, e.EvaluateAll(context.Background()))
	assert.Empty(t, store.active(device.ID))
}

func TestInterfaceDownOnDownDeviceIsQuiet(t *testing.T) {
	device := upDevice("10.0.0.10")
	downSince := time.Now().Add(-2 * time.Second) // inside grace, no device alert yet
	device.DownSince = &downSince

	iface := &models.Interface{
		ID:          uuid.New(),
		DeviceID:    device.ID,
		IfIndex:     1,
		AdminStatus: models.IfStatusUp,
		OperStatus:  models.IfStatusDown,
		IsCritical:  true,
	}

	store := &fakeStore{devices: []*models.Device{device}, interfaces: []*models.Interface{iface}}
	e := newEvaluator(store)

	require.NoError(t, e.EvaluateAll(context.Background()))
	assert.Empty(t, store.active(device.ID))
}
