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

package tsdb

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	stepFine   = 5 * time.Minute
	stepMedium = 15 * time.Minute
	stepCoarse = time.Hour
)

// StepFor picks the query resolution for a requested range:
// up to 24h -> 5m, up to 7d -> 15m, beyond -> 1h.
func StepFor(rangeDur time.Duration) time.Duration {
	switch {
	case rangeDur <= 24*time.Hour:
		return stepFine
	case rangeDur <= 7*24*time.Hour:
		return stepMedium
	default:
		return stepCoarse
	}
}

// buildRangeQuery renders the Flux pipeline for a windowed range read.
func buildRangeQuery(bucket, metric string, labels map[string]string, start, end time.Time, step time.Duration) string {
	var b strings.Builder

	fmt.Fprintf(&b, `from(bucket: %q)`, bucket)
	fmt.Fprintf(&b, ` |> range(start: %s, stop: %s)`, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ` |> filter(fn: (r) => r._measurement == %q and r._field == "value"%s)`, metric, labelFilter(labels))
	fmt.Fprintf(&b, ` |> aggregateWindow(every: %s, fn: mean, createEmpty: false)`, fluxDuration(step))

	return b.String()
}

// buildInstantQuery renders the Flux pipeline for a latest-value read. The
// lookback is bounded so a silent series does not return stale data forever.
func buildInstantQuery(bucket, metric string, labels map[string]string, ts time.Time, lookback time.Duration) string {
	var b strings.Builder

	fmt.Fprintf(&b, `from(bucket: %q)`, bucket)
	fmt.Fprintf(&b, ` |> range(start: %s, stop: %s)`,
		ts.Add(-lookback).UTC().Format(time.RFC3339), ts.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ` |> filter(fn: (r) => r._measurement == %q and r._field == "value"%s)`, metric, labelFilter(labels))
	b.WriteString(` |> last()`)

	return b.String()
}

func labelFilter(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, ` and r.%s == %q`, k, labels[k])
	}

	return b.String()
}

func fluxDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}

	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}

	return fmt.Sprintf("%ds", int(d.Seconds()))
}
