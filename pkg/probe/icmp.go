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

// Package probe implements the ICMP and SNMP probers. Both are bounded by
// weighted semaphores so a large device estate cannot flood the network.
package probe

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"golang.org/x/sync/semaphore"

	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
)

// Pinger probes reachability via ICMP echo.
type Pinger struct {
	cfg models.ProbeConfig
	sem *semaphore.Weighted
	log logger.Logger

	// Privileged switches to raw ICMP sockets. The default UDP mode works
	// unprivileged on Linux with ping_group_range configured.
	Privileged bool
}

// NewPinger builds an ICMP prober with the given tuning.
func NewPinger(cfg models.ProbeConfig, log logger.Logger) *Pinger {
	concurrency := cfg.PingConcurrency
	if concurrency <= 0 {
		concurrency = models.DefaultProbeConfig().PingConcurrency
	}

	return &Pinger{
		cfg: cfg,
		sem: semaphore.NewWeighted(concurrency),
		log: log.WithComponent("icmp"),
	}
}

// PingHost probes one address. A fully lost probe is not an error: the result
// comes back with IsAlive=false. Errors mean the probe could not run at all.
func (p *Pinger) PingHost(ctx context.Context, ip string) (*models.PingResult, error) {
	if err := validateTarget(ip); err != nil {
		return nil, err
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return nil, fmt.Errorf("probe: create pinger for %s: %w", ip, err)
	}

	pinger.Count = p.cfg.PingCount
	pinger.Interval = p.cfg.PingInterval
	pinger.Timeout = p.cfg.PingTimeout
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("probe: ping %s: %w", ip, err)
	}

	stats := pinger.Statistics()

	// RTT data is the proof of a response; PacketsRecv alone can lie when
	// duplicate or late replies arrive.
	alive := len(stats.Rtts) > 0 && stats.AvgRtt > 0

	result := &models.PingResult{
		IP:         ip,
		Sent:       stats.PacketsSent,
		Received:   stats.PacketsRecv,
		PacketLoss: stats.PacketLoss,
		MinRTT:     stats.MinRtt,
		AvgRTT:     stats.AvgRtt,
		MaxRTT:     stats.MaxRtt,
		IsAlive:    alive,
		ProbedAt:   time.Now(),
	}

	if !alive {
		result.PacketLoss = 100
	}

	return result, nil
}

// PingMany probes a batch of addresses concurrently, bounded by the shared
// semaphore. Probe failures are logged and reported as unreachable so one bad
// target never sinks the batch.
func (p *Pinger) PingMany(ctx context.Context, ips []string) map[string]*models.PingResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]*models.PingResult, len(ips))
	)

	for _, ip := range ips {
		wg.Add(1)

		go func(ip string) {
			defer wg.Done()

			result, err := p.PingHost(ctx, ip)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				p.log.Warn().Str("ip", ip).Err(err).Msg("Ping probe failed")

				result = &models.PingResult{
					IP:         ip,
					Sent:       p.cfg.PingCount,
					PacketLoss: 100,
					ProbedAt:   time.Now(),
				}
			}

			mu.Lock()
			results[ip] = result
			mu.Unlock()
		}(ip)
	}

	wg.Wait()

	return results
}

func validateTarget(ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, ip)
	}

	if parsed.IsMulticast() || parsed.IsUnspecified() {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, ip)
	}

	return nil
}
