package baseline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchwatch/branchwatch/pkg/models"
	"github.com/branchwatch/branchwatch/pkg/tsdb"
)

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 0.0, Confidence(0), 1e-9)
	assert.InDelta(t, 0.5, Confidence(14), 1e-9)
	assert.InDelta(t, 1.0, Confidence(28), 1e-9)
	assert.InDelta(t, 1.0, Confidence(100), 1e-9)
}

func TestAnomalySeverity(t *testing.T) {
	assert.Equal(t, models.SeverityMedium, AnomalySeverity(3.2))
	assert.Equal(t, models.SeverityMedium, AnomalySeverity(-3.9))
	assert.Equal(t, models.SeverityHigh, AnomalySeverity(4.0))
	assert.Equal(t, models.SeverityHigh, AnomalySeverity(-4.5))
	assert.Equal(t, models.SeverityCritical, AnomalySeverity(5.0))
	assert.Equal(t, models.SeverityCritical, AnomalySeverity(-7.3))
}

func TestBuildCellsPartitionsByHourAndWeekday(t *testing.T) {
	id := uuid.New()

	// Monday 2025-01-06 10:xx and Tuesday 2025-01-07 10:xx.
	monday := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	tuesday := time.Date(2025, 1, 7, 10, 0, 0, 0, time.UTC)

	points := []tsdb.Point{
		{Timestamp: monday, Value: 10},
		{Timestamp: monday.Add(15 * time.Minute), Value: 20},
		{Timestamp: monday.Add(30 * time.Minute), Value: 30},
		{Timestamp: tuesday, Value: 100},
	}

	cells := BuildCells(id, points)
	require.Len(t, cells, 2)

	byDow := make(map[int]*models.InterfaceBaseline, 2)
	for _, c := range cells {
		byDow[c.DayOfWeek] = c
	}

	mon := byDow[int(time.Monday)]
	require.NotNil(t, mon)
	assert.Equal(t, 10, mon.HourOfDay)
	assert.Equal(t, 3, mon.SampleCount)
	assert.InDelta(t, 20, mon.MeanInMbps, 1e-9)
	assert.InDelta(t, 10, mon.StddevInMbps, 1e-9)
	assert.InDelta(t, 10, mon.MinInMbps, 1e-9)
	assert.InDelta(t, 30, mon.MaxInMbps, 1e-9)
	assert.InDelta(t, 3.0/28, mon.Confidence, 1e-9)

	tue := byDow[int(time.Tuesday)]
	require.NotNil(t, tue)
	assert.Equal(t, 1, tue.SampleCount)
	assert.InDelta(t, 100, tue.MeanInMbps, 1e-9)
	assert.InDelta(t, 0, tue.StddevInMbps, 1e-9)
}

func TestBuildCellsEmpty(t *testing.T) {
	assert.Empty(t, BuildCells(uuid.New(), nil))
}

func TestMeanStddev(t *testing.T) {
	mean, stddev := meanStddev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5, mean, 1e-9)
	assert.InDelta(t, 2.138, stddev, 0.001)

	mean, stddev = meanStddev(nil)
	assert.Zero(t, mean)
	assert.Zero(t, stddev)
}
