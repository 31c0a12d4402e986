package tsdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepFor(t *testing.T) {
	tests := []struct {
		name     string
		rangeDur time.Duration
		want     time.Duration
	}{
		{"one hour", time.Hour, 5 * time.Minute},
		{"exactly 24h", 24 * time.Hour, 5 * time.Minute},
		{"two days", 48 * time.Hour, 15 * time.Minute},
		{"exactly 7d", 7 * 24 * time.Hour, 15 * time.Minute},
		{"thirty days", 30 * 24 * time.Hour, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StepFor(tt.rangeDur))
		})
	}
}

func TestStepForSevenDayRangeBoundsPointCount(t *testing.T) {
	// A 7-day range at 15m resolution must return at most 672 points.
	step := StepFor(7 * 24 * time.Hour)
	points := int((7 * 24 * time.Hour) / step)
	assert.LessOrEqual(t, points, 672)
}

func TestBuildRangeQuery(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	flux := buildRangeQuery("monitoring", "ping_rtt_ms", map[string]string{
		"device_id": "abc",
		"device_ip": "10.0.0.1",
	}, start, end, 5*time.Minute)

	assert.Contains(t, flux, `from(bucket: "monitoring")`)
	assert.Contains(t, flux, `range(start: 2025-01-01T00:00:00Z, stop: 2025-01-02T00:00:00Z)`)
	assert.Contains(t, flux, `r._measurement == "ping_rtt_ms"`)
	// Label filters are emitted in sorted key order for deterministic queries.
	assert.Contains(t, flux, `r.device_id == "abc" and r.device_ip == "10.0.0.1"`)
	assert.Contains(t, flux, `aggregateWindow(every: 5m, fn: mean, createEmpty: false)`)
}

func TestBuildInstantQuery(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	flux := buildInstantQuery("monitoring", "ping_status", map[string]string{"device_id": "abc"}, at, time.Hour)

	assert.Contains(t, flux, `range(start: 2025-01-01T11:00:00Z, stop: 2025-01-01T12:00:00Z)`)
	assert.Contains(t, flux, `|> last()`)
}

func TestFluxDuration(t *testing.T) {
	assert.Equal(t, "5m", fluxDuration(5*time.Minute))
	assert.Equal(t, "1h", fluxDuration(time.Hour))
	assert.Equal(t, "90s", fluxDuration(90*time.Second))
}
