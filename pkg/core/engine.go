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

// Package core assembles the monitoring engine: workers, scheduler, stream,
// cache and the query API, wired from one resolved configuration.
package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/branchwatch/branchwatch/pkg/alerting"
	"github.com/branchwatch/branchwatch/pkg/baseline"
	"github.com/branchwatch/branchwatch/pkg/cache"
	"github.com/branchwatch/branchwatch/pkg/config"
	"github.com/branchwatch/branchwatch/pkg/db"
	"github.com/branchwatch/branchwatch/pkg/discovery"
	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/monitor"
	"github.com/branchwatch/branchwatch/pkg/probe"
	"github.com/branchwatch/branchwatch/pkg/scheduler"
	"github.com/branchwatch/branchwatch/pkg/secrets"
	"github.com/branchwatch/branchwatch/pkg/stream"
	"github.com/branchwatch/branchwatch/pkg/tsdb"
)

const shutdownTimeout = 10 * time.Second

// Engine owns every long-running component of the monitoring process.
type Engine struct {
	cfg *config.Config
	log logger.Logger

	store  db.Service
	ts     tsdb.Client
	cache  *cache.Store
	fanout *stream.Fanout
	nats   *stream.NATSPublisher

	queue  *scheduler.Queue
	beater *scheduler.Beater
	pool   *scheduler.Pool

	ping     *monitor.PingWorker
	snmp     *monitor.SNMPWorker
	ifPoller *monitor.InterfacePoller
	disc     *discovery.Discoverer

	evaluator *alerting.Evaluator
	learner   *baseline.Learner
	detector  *baseline.Detector

	httpServer *http.Server
}

// NewEngine connects to the stores and builds every worker. It fails fast on
// a bad encryption key or an unreachable relational store.
func NewEngine(ctx context.Context, cfg *config.Config, log logger.Logger) (*Engine, error) {
	cipher, err := secrets.NewCipherFromBase64(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("core: encryption key: %w", err)
	}

	store, err := db.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("core: relational store: %w", err)
	}

	ts := tsdb.NewInfluxClient(tsdb.Config{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
	}, log)

	memCache := cache.New()
	fanout := stream.NewFanout(log)

	var nats *stream.NATSPublisher

	if cfg.NATSURL != "" {
		nats, err = stream.NewNATSPublisher(cfg.NATSURL, fanout, log)
		if err != nil {
			// Event mirroring is best-effort; the engine runs without it.
			log.Warn().Err(err).Msg("NATS publisher unavailable, continuing without event mirroring")
		}
	}

	pinger := probe.NewPinger(cfg.Probe, log)
	sessions := monitor.DefaultSessionFactory(cfg.Probe)

	engine := &Engine{
		cfg:    cfg,
		log:    log.WithComponent("engine"),
		store:  store,
		ts:     ts,
		cache:  memCache,
		fanout: fanout,
		nats:   nats,

		queue: scheduler.NewQueue(cfg.QueueSize),

		ping:     monitor.NewPingWorker(store, pinger, ts, fanout, memCache, cfg.Thresholds, log),
		snmp:     monitor.NewSNMPWorker(store, cipher, sessions, ts, cfg.Probe, log),
		ifPoller: monitor.NewInterfacePoller(store, cipher, sessions, ts, ts, cfg.Probe, log),
		disc: discovery.NewDiscoverer(store, cipher,
			discovery.DefaultSessionFactory(cfg.Probe), cfg.Probe, log),

		evaluator: alerting.NewEvaluator(store, cfg.Thresholds, log),
		learner:   baseline.NewLearner(store, ts, log),
		detector:  baseline.NewDetector(store, ts, log),
	}

	engine.beater = scheduler.NewBeater(engine.queue, log)
	engine.pool = scheduler.NewPool(engine.queue, cfg.Workers, log)

	api := NewAPI(store, ts, memCache, stream.NewWSHandler(fanout, log), log)
	engine.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	engine.registerBeats()

	return engine, nil
}

// registerBeats installs every recurring job on its cadence and priority.
func (e *Engine) registerBeats() {
	c := e.cfg.Cadences

	e.beater.Add(scheduler.Beat{
		Name:     "ping",
		Interval: c.Ping,
		Priority: scheduler.PriorityPing,
		Produce:  e.batchTasks("ping", e.ping.ProcessBatch),
	})

	e.beater.Add(scheduler.Beat{
		Name:     "alert_eval",
		Interval: c.Alerts,
		Priority: scheduler.PriorityAlerts,
		Produce:  e.singleTask("alert_eval", e.evaluator.EvaluateAll),
	})

	e.beater.Add(scheduler.Beat{
		Name:     "snmp_health",
		Interval: c.SNMPCounters,
		Priority: scheduler.PrioritySNMP,
		Produce:  e.batchTasks("snmp_health", e.snmp.PollBatch),
	})

	e.beater.Add(scheduler.Beat{
		Name:     "interface_poll",
		Interval: c.InterfaceStatus,
		Priority: scheduler.PrioritySNMP,
		Produce:  e.batchTasks("interface_poll", e.ifPoller.PollBatch),
	})

	e.beater.Add(scheduler.Beat{
		Name:     "interface_summary",
		Interval: c.InterfaceSummary,
		Priority: scheduler.PriorityMaintenance,
		Produce:  e.singleTask("interface_summary", e.ifPoller.Summarize),
	})

	e.beater.Add(scheduler.Beat{
		Name:     "anomaly_check",
		Interval: c.AnomalyCheck,
		Priority: scheduler.PriorityAlerts,
		Produce:  e.singleTask("anomaly_check", e.detector.CheckAll),
	})

	e.beater.Add(scheduler.Beat{
		Name:     "baseline_learn",
		Interval: c.BaselineLearn,
		Priority: scheduler.PriorityMaintenance,
		Produce:  e.singleTask("baseline_learn", e.learner.LearnAll),
	})

	e.beater.Add(scheduler.Beat{
		Name:     "discovery",
		Interval: c.Discovery,
		Priority: scheduler.PriorityMaintenance,
		Produce:  e.batchTasks("discovery", e.disc.DiscoverBatch),
	})

	e.beater.Add(scheduler.Beat{
		Name:     "cleanup",
		Interval: c.Cleanup,
		Priority: scheduler.PriorityMaintenance,
		Produce:  e.singleTask("cleanup", e.runCleanup),
	})
}

// batchTasks produces one task per disjoint device batch so the pool can
// spread a cycle across workers. Every enabled device appears in exactly one
// batch.
func (e *Engine) batchTasks(name string, run func(ctx context.Context, ids []uuid.UUID) error) func(ctx context.Context) []*scheduler.Task {
	return func(ctx context.Context) []*scheduler.Task {
		ids, err := e.store.ListEnabledDeviceIDs(ctx)
		if err != nil {
			e.log.Error().Str("beat", name).Err(err).Msg("Device listing failed, skipping cycle")
			return nil
		}

		if len(ids) == 0 {
			return nil
		}

		batches := scheduler.SplitBatches(ids)
		tasks := make([]*scheduler.Task, 0, len(batches))

		for i, batch := range batches {
			batch := batch

			tasks = append(tasks, &scheduler.Task{
				Name: fmt.Sprintf("%s[%d/%d]", name, i+1, len(batches)),
				Run: func(ctx context.Context) error {
					return run(ctx, batch)
				},
			})
		}

		return tasks
	}
}

func (e *Engine) singleTask(name string, run func(ctx context.Context) error) func(ctx context.Context) []*scheduler.Task {
	return func(context.Context) []*scheduler.Task {
		return []*scheduler.Task{{Name: name, Run: run}}
	}
}

func (e *Engine) runCleanup(ctx context.Context) error {
	r := e.cfg.Retention

	stats, err := e.store.Cleanup(ctx, r.PingSamples, r.ResolvedAlerts, r.Discovery)
	if err != nil {
		return err
	}

	e.log.Info().
		Int64("ping_results", stats.PingResults).
		Int64("resolved_alerts", stats.ResolvedAlerts).
		Int64("topology_links", stats.TopologyLinks).
		Int64("status_history", stats.StatusHistory).
		Msg("Housekeeping pass complete")

	return nil
}

// Run starts the pool, the beats and the HTTP listener, then blocks until
// the context is canceled and everything has drained.
func (e *Engine) Run(ctx context.Context) error {
	e.pool.Start(ctx)
	e.beater.Start(ctx)

	errCh := make(chan error, 1)

	go func() {
		e.log.Info().Str("addr", e.httpServer.Addr).Msg("HTTP API listening")

		if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("core: http server: %w", err)
	}

	e.log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.httpServer.Shutdown(shutdownCtx); err != nil {
		e.log.Warn().Err(err).Msg("HTTP shutdown did not finish cleanly")
	}

	e.beater.Wait()
	e.pool.Wait()

	if e.nats != nil {
		e.nats.Close()
	}

	e.cache.Stop()
	e.ts.Close()
	e.store.Close()

	return nil
}
