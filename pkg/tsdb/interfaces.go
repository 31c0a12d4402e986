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

// Package tsdb is the time-series store client. Writes are batched line
// protocol; reads are windowed range queries and latest-value lookups.
// Time-series failures are non-fatal to probing: callers log the loss and
// continue.
package tsdb

import (
	"context"
	"time"

	"github.com/branchwatch/branchwatch/pkg/models"
)

// Point is one value returned by a query.
type Point struct {
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Client is the time-series store contract used by workers and the query API.
type Client interface {
	// WriteBatch ships a coalesced batch of samples. Samples carry explicit
	// timestamps; out-of-order points within one cycle are tolerated by the store.
	WriteBatch(ctx context.Context, samples []models.Sample) error

	// QueryRange returns windowed means for one metric between start and end.
	QueryRange(ctx context.Context, metric string, labels map[string]string, start, end time.Time, step time.Duration) ([]Point, error)

	// QueryInstant returns the latest point for one metric at or before ts.
	QueryInstant(ctx context.Context, metric string, labels map[string]string, ts time.Time) (*Point, error)

	// HealthCheck pings the store.
	HealthCheck(ctx context.Context) error

	Close()
}
