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

// Package baseline learns weekly traffic baselines per critical interface and
// checks live rates against them. A baseline cell is one (hour-of-day,
// day-of-week) slot; the learner needs two weeks of history before a cell is
// trusted.
package baseline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
	"github.com/branchwatch/branchwatch/pkg/tsdb"
)

const (
	learnWindow = 14 * 24 * time.Hour
	learnStep   = 15 * time.Minute

	// fullConfidenceSamples is two weeks of hourly cells: 14 days x 2
	// observations per (hour, dow) slot per week.
	fullConfidenceSamples = 28

	minConfidence = 0.5
)

// Store is the relational surface the baseline jobs need.
type Store interface {
	ListCriticalInterfaces(ctx context.Context) ([]*models.Interface, error)
	UpsertBaseline(ctx context.Context, cell *models.InterfaceBaseline) error
	GetBaseline(ctx context.Context, interfaceID uuid.UUID, hour, dow int) (*models.InterfaceBaseline, error)
	CreateAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error)
	ResolveAlerts(ctx context.Context, deviceID uuid.UUID, ruleNames []string, resolvedAt time.Time) (int64, error)
}

// Series is the time-series surface the baseline jobs need.
type Series interface {
	QueryRange(ctx context.Context, metric string, labels map[string]string, start, end time.Time, step time.Duration) ([]tsdb.Point, error)
	QueryInstant(ctx context.Context, metric string, labels map[string]string, ts time.Time) (*tsdb.Point, error)
}

// Learner recomputes baseline cells from history.
type Learner struct {
	store  Store
	series Series
	log    logger.Logger
}

// NewLearner builds the weekly baseline job.
func NewLearner(store Store, series Series, log logger.Logger) *Learner {
	return &Learner{store: store, series: series, log: log.WithComponent("baseline")}
}

// LearnAll recomputes every critical interface's cells from the last two
// weeks of inbound rate. Per-interface failures are logged and skipped.
func (l *Learner) LearnAll(ctx context.Context) error {
	interfaces, err := l.store.ListCriticalInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("baseline: list interfaces: %w", err)
	}

	end := time.Now()
	start := end.Add(-learnWindow)

	learned := 0

	for _, iface := range interfaces {
		points, err := l.series.QueryRange(ctx, tsdb.MetricIfInMbps,
			map[string]string{tsdb.LabelInterfaceID: iface.ID.String()},
			start, end, learnStep)
		if err != nil {
			l.log.Warn().
				Str("interface_id", iface.ID.String()).
				Err(err).
				Msg("Baseline query failed, keeping previous cells")

			continue
		}

		for _, cell := range BuildCells(iface.ID, points) {
			if err := l.store.UpsertBaseline(ctx, cell); err != nil {
				l.log.Error().
					Str("interface_id", iface.ID.String()).
					Err(err).
					Msg("Baseline upsert failed")

				break
			}
		}

		learned++
	}

	l.log.Info().
		Int("interfaces", len(interfaces)).
		Int("learned", learned).
		Msg("Baseline learning pass complete")

	return nil
}

// BuildCells partitions rate points into (hour, day-of-week) cells and
// computes the per-cell statistics.
func BuildCells(interfaceID uuid.UUID, points []tsdb.Point) []*models.InterfaceBaseline {
	type key struct{ hour, dow int }

	buckets := make(map[key][]float64)

	for _, p := range points {
		k := key{hour: p.Timestamp.Hour(), dow: int(p.Timestamp.Weekday())}
		buckets[k] = append(buckets[k], p.Value)
	}

	cells := make([]*models.InterfaceBaseline, 0, len(buckets))

	for k, values := range buckets {
		mean, stddev := meanStddev(values)
		minV, maxV := minMax(values)

		cells = append(cells, &models.InterfaceBaseline{
			InterfaceID:  interfaceID,
			HourOfDay:    k.hour,
			DayOfWeek:    k.dow,
			MeanInMbps:   mean,
			StddevInMbps: stddev,
			MinInMbps:    minV,
			MaxInMbps:    maxV,
			SampleCount:  len(values),
			Confidence:   Confidence(len(values)),
		})
	}

	return cells
}

// Confidence scales sample count into [0, 1]; two full weeks of observations
// reach 1.0.
func Confidence(sampleCount int) float64 {
	c := float64(sampleCount) / fullConfidenceSamples
	if c > 1 {
		return 1
	}

	return c
}

func meanStddev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}

	for _, v := range values {
		mean += v
	}

	mean /= float64(len(values))

	if len(values) < 2 {
		return mean, 0
	}

	var sum float64

	for _, v := range values {
		d := v - mean
		sum += d * d
	}

	return mean, math.Sqrt(sum / float64(len(values)-1))
}

func minMax(values []float64) (minV, maxV float64) {
	if len(values) == 0 {
		return 0, 0
	}

	minV, maxV = values[0], values[0]

	for _, v := range values[1:] {
		if v < minV {
			minV = v
		}

		if v > maxV {
			maxV = v
		}
	}

	return minV, maxV
}
