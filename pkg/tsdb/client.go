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
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxConns    = 10
	defaultLookback    = time.Hour
	retryInitial       = 500 * time.Millisecond
	retryMax           = 3
	httpTooManyReqs    = 429
	httpServerErrorMin = 500
)

// ErrStoreUnhealthy indicates the health check failed.
var ErrStoreUnhealthy = errors.New("tsdb: store unhealthy")

// Config describes the time-series store connection.
type Config struct {
	URL      string
	Token    string
	Org      string
	Bucket   string
	Timeout  time.Duration
	MaxConns int
}

// InfluxClient implements Client against an InfluxDB v2 compatible store.
type InfluxClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	logger   logger.Logger
}

// NewInfluxClient dials the store. Construction never fails fast on an
// unreachable store; probing must not depend on TS availability.
func NewInfluxClient(cfg Config, log logger.Logger) *InfluxClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}

	httpClient := &nethttp.Client{
		Timeout: timeout,
		Transport: &nethttp.Transport{
			MaxIdleConns:        maxConns,
			MaxIdleConnsPerHost: maxConns,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	options := influxdb2.DefaultOptions().
		SetHTTPClient(httpClient).
		SetHTTPRequestTimeout(uint(timeout / time.Second))

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	return &InfluxClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		logger:   log.WithComponent("tsdb"),
	}
}

// WriteBatch coalesces the samples into line-protocol points and ships them in
// one call, retrying transient failures with exponential backoff.
func (c *InfluxClient) WriteBatch(ctx context.Context, samples []models.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(samples))

	for _, s := range samples {
		p := influxdb2.NewPointWithMeasurement(s.Metric)
		for k, v := range s.Labels {
			p.AddTag(k, v)
		}

		p.AddField("value", s.Value)
		p.SetTime(s.Timestamp)
		points = append(points, p)
	}

	err := c.withRetry(ctx, func() error {
		return c.writeAPI.WritePoint(ctx, points...)
	})
	if err != nil {
		return fmt.Errorf("tsdb: write batch of %d: %w", len(points), err)
	}

	return nil
}

// QueryRange returns windowed means for the metric between start and end.
func (c *InfluxClient) QueryRange(
	ctx context.Context, metric string, labels map[string]string,
	start, end time.Time, step time.Duration) ([]Point, error) {
	flux := buildRangeQuery(c.bucket, metric, labels, start, end, step)

	var points []Point

	err := c.withRetry(ctx, func() error {
		result, err := c.queryAPI.Query(ctx, flux)
		if err != nil {
			return err
		}

		points = points[:0]

		for result.Next() {
			points = append(points, Point{
				Timestamp: result.Record().Time(),
				Value:     toFloat(result.Record().Value()),
			})
		}

		return result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("tsdb: range query %s: %w", metric, err)
	}

	return points, nil
}

// QueryInstant returns the latest point at or before ts, or nil when the
// series has been silent for the whole lookback window.
func (c *InfluxClient) QueryInstant(
	ctx context.Context, metric string, labels map[string]string, ts time.Time) (*Point, error) {
	flux := buildInstantQuery(c.bucket, metric, labels, ts, defaultLookback)

	var point *Point

	err := c.withRetry(ctx, func() error {
		result, err := c.queryAPI.Query(ctx, flux)
		if err != nil {
			return err
		}

		point = nil

		for result.Next() {
			point = &Point{
				Timestamp: result.Record().Time(),
				Value:     toFloat(result.Record().Value()),
			}
		}

		return result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("tsdb: instant query %s: %w", metric, err)
	}

	return point, nil
}

// HealthCheck pings the store.
func (c *InfluxClient) HealthCheck(ctx context.Context) error {
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnhealthy, err)
	}

	if !ok {
		return ErrStoreUnhealthy
	}

	return nil
}

// Close releases the underlying HTTP resources.
func (c *InfluxClient) Close() {
	c.client.Close()
}

// withRetry runs op with up to retryMax retries at 0.5s, 1s, 2s. Client errors
// other than 429 are never retried.
func (c *InfluxClient) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitial
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}

		if isTransient(err) {
			return err
		}

		return backoff.Permanent(err)
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, retryMax), ctx))
}

// isTransient reports whether the error is worth retrying: timeouts, 429, and
// 5xx. Other HTTP statuses are caller bugs and retrying would not help.
func isTransient(err error) bool {
	var httpErr *influxhttp.Error
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == httpTooManyReqs || httpErr.StatusCode >= httpServerErrorMin
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Connection-level failures surface as plain errors from the transport.
	return !errors.Is(err, context.Canceled)
}

func toFloat(v interface{}) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case int64:
		return float64(value)
	case uint64:
		return float64(value)
	case bool:
		if value {
			return 1
		}

		return 0
	default:
		return 0
	}
}
