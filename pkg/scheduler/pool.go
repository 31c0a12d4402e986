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

// Task runtime limits: a run past the soft limit is logged, a run past the
// hard limit has its context canceled so the remaining devices are skipped
// this cycle.
const (
	softTaskLimit = 4 * time.Minute
	hardTaskLimit = 5 * time.Minute
)

// Pool is the fixed worker pool draining the queue. Workers pull exactly one
// task at a time so high-priority work is never stranded behind a prefetch
// buffer.
type Pool struct {
	queue   *Queue
	log     logger.Logger
	workers int

	softLimit time.Duration
	hardLimit time.Duration

	wg sync.WaitGroup
}

// NewPool builds a pool of the given size over the queue.
func NewPool(queue *Queue, workers int, log logger.Logger) *Pool {
	if workers <= 0 {
		workers = 8
	}

	return &Pool{
		queue:     queue,
		log:       log.WithComponent("workers"),
		workers:   workers,
		softLimit: softTaskLimit,
		hardLimit: hardTaskLimit,
	}
}

// Start launches the workers. They exit when the context ends.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)

		go func(id int) {
			defer p.wg.Done()
			p.work(ctx, id)
		}(i)
	}

	p.log.Info().Int("workers", p.workers).Msg("Worker pool started")
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			return
		}

		started := time.Now()

		if err := p.runTask(ctx, task); err != nil {
			if ctx.Err() != nil {
				return
			}

			p.log.Error().
				Int("worker", id).
				Str("task", task.Name).
				Str("priority", task.Priority.String()).
				Err(err).
				Msg("Task failed")

			continue
		}

		p.log.Debug().
			Int("worker", id).
			Str("task", task.Name).
			Dur("queued", started.Sub(task.EnqueuedAt)).
			Dur("took", time.Since(started)).
			Msg("Task done")
	}
}

// runTask executes one task under the runtime limits. Aborting does not roll
// anything back: results the task already wrote stand.
func (p *Pool) runTask(ctx context.Context, task *Task) error {
	runCtx, cancel := context.WithTimeout(ctx, p.hardLimit)
	defer cancel()

	slow := time.AfterFunc(p.softLimit, func() {
		p.log.Warn().
			Str("task", task.Name).
			Dur("limit", p.softLimit).
			Msg("Task running past soft limit")
	})
	defer slow.Stop()

	err := task.Run(runCtx)

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		p.log.Error().
			Str("task", task.Name).
			Dur("limit", p.hardLimit).
			Msg("Task aborted at hard limit")
	}

	return err
}
