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

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/branchwatch/branchwatch/pkg/logger"
)

// Beat is one recurring job: on every tick the producer emits the tasks to
// enqueue for that cycle.
type Beat struct {
	Name     string
	Interval time.Duration
	Priority Priority
	Produce  func(ctx context.Context) []*Task
}

// Beater runs the beat loops. Each beat ticks independently; tasks a full
// queue refuses are simply skipped until the next tick.
type Beater struct {
	queue *Queue
	log   logger.Logger
	beats []Beat

	wg sync.WaitGroup
}

// NewBeater builds a beat runner over the queue.
func NewBeater(queue *Queue, log logger.Logger) *Beater {
	return &Beater{queue: queue, log: log.WithComponent("scheduler")}
}

// Add registers a beat. Beats with a non-positive interval are ignored.
func (b *Beater) Add(beat Beat) {
	if beat.Interval <= 0 {
		b.log.Warn().Str("beat", beat.Name).Msg("Beat disabled, non-positive interval")
		return
	}

	b.beats = append(b.beats, beat)
}

// Start launches one goroutine per beat. Loops end when the context does.
func (b *Beater) Start(ctx context.Context) {
	for _, beat := range b.beats {
		b.wg.Add(1)

		go func(beat Beat) {
			defer b.wg.Done()
			b.run(ctx, beat)
		}(beat)
	}
}

// Wait blocks until every beat loop has exited.
func (b *Beater) Wait() {
	b.wg.Wait()
}

func (b *Beater) run(ctx context.Context, beat Beat) {
	ticker := time.NewTicker(beat.Interval)
	defer ticker.Stop()

	b.log.Info().
		Str("beat", beat.Name).
		Dur("interval", beat.Interval).
		Str("priority", beat.Priority.String()).
		Msg("Beat started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tasks := beat.Produce(ctx)

			enqueued := 0

			for _, task := range tasks {
				task.Priority = beat.Priority

				if task.Name == "" {
					task.Name = beat.Name
				}

				if b.queue.Enqueue(task) {
					enqueued++
				}
			}

			if skipped := len(tasks) - enqueued; skipped > 0 {
				b.log.Warn().
					Str("beat", beat.Name).
					Int("skipped", skipped).
					Uint64("total_skipped", b.queue.Skipped(beat.Priority)).
					Msg("Queue full, dropping tasks until next beat")
			}
		}
	}
}
