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

package baseline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/branchwatch/branchwatch/pkg/db"
	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
	"github.com/branchwatch/branchwatch/pkg/tsdb"
)

const (
	anomalyZ  = 3.0
	highZ     = 4.0
	criticalZ = 5.0
)

// Detector checks live rates against the learned cells.
type Detector struct {
	store  Store
	series Series
	log    logger.Logger
}

// NewDetector builds the online anomaly check.
func NewDetector(store Store, series Series, log logger.Logger) *Detector {
	return &Detector{store: store, series: series, log: log.WithComponent("anomaly")}
}

// CheckAll runs one anomaly pass over every critical interface. Cells with
// confidence below 0.5 or no spread are skipped.
func (d *Detector) CheckAll(ctx context.Context) error {
	interfaces, err := d.store.ListCriticalInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("baseline: list interfaces: %w", err)
	}

	now := time.Now()

	for _, iface := range interfaces {
		if err := d.checkInterface(ctx, iface, now); err != nil {
			d.log.Warn().
				Str("interface_id", iface.ID.String()).
				Err(err).
				Msg("Anomaly check failed, skipping interface")
		}
	}

	return nil
}

func (d *Detector) checkInterface(ctx context.Context, iface *models.Interface, now time.Time) error {
	cell, err := d.store.GetBaseline(ctx, iface.ID, now.Hour(), int(now.Weekday()))
	if err != nil {
		if errors.Is(err, db.ErrBaselineNotFound) {
			return nil // not learned yet
		}

		return err
	}

	if cell.Confidence < minConfidence || cell.StddevInMbps == 0 {
		return nil
	}

	point, err := d.series.QueryInstant(ctx, tsdb.MetricIfInMbps,
		map[string]string{tsdb.LabelInterfaceID: iface.ID.String()}, now)
	if err != nil {
		return err
	}

	if point == nil {
		return nil
	}

	z := (point.Value - cell.MeanInMbps) / cell.StddevInMbps

	if math.Abs(z) <= anomalyZ {
		_, err := d.store.ResolveAlerts(ctx, iface.DeviceID, []string{models.RuleTrafficAnomaly}, now)
		return err
	}

	alert := &models.Alert{
		DeviceID: iface.DeviceID,
		RuleName: models.RuleTrafficAnomaly,
		Severity: AnomalySeverity(z),
		Message: fmt.Sprintf("Traffic on %s is %.1f Mbps, %.1f standard deviations from the %.1f Mbps baseline",
			iface.DisplayName(), point.Value, z, cell.MeanInMbps),
		Value:       point.Value,
		Threshold:   cell.MeanInMbps + anomalyZ*cell.StddevInMbps,
		TriggeredAt: now,
	}

	_, err = d.store.CreateAlertIfAbsent(ctx, alert)

	return err
}

// AnomalySeverity scales severity with how far the rate drifted.
func AnomalySeverity(z float64) models.Severity {
	switch abs := math.Abs(z); {
	case abs >= criticalZ:
		return models.SeverityCritical
	case abs >= highZ:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}
