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

// Package scheduler owns the beat loops, task queues and the worker pool.
// Queues are strictly prioritized: alert evaluation always preempts probing,
// probing always preempts maintenance. Full queues drop the newest task and
// count the skip; a saturated engine degrades by thinning work, never by
// blocking the beat loops.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"
)

// Priority orders the queue classes, highest first.
type Priority int

const (
	PriorityAlerts Priority = iota
	PriorityPing
	PrioritySNMP
	PriorityMaintenance

	numPriorities
)

// String names the priority class for logs.
func (p Priority) String() string {
	switch p {
	case PriorityAlerts:
		return "alerts"
	case PriorityPing:
		return "ping"
	case PrioritySNMP:
		return "snmp"
	case PriorityMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Task is one unit of queued work.
type Task struct {
	Name       string
	Priority   Priority
	Run        func(ctx context.Context) error
	EnqueuedAt time.Time
}

// Queue is the bounded multi-class task queue.
type Queue struct {
	lanes   [numPriorities]chan *Task
	skipped [numPriorities]atomic.Uint64
}

// NewQueue builds a queue with the given per-class capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}

	q := &Queue{}
	for i := range q.lanes {
		q.lanes[i] = make(chan *Task, capacity)
	}

	return q
}

// Enqueue adds a task without blocking. When the class lane is full the task
// is dropped and the skip counter bumped; the next beat re-covers the work.
func (q *Queue) Enqueue(task *Task) bool {
	task.EnqueuedAt = time.Now()

	select {
	case q.lanes[task.Priority] <- task:
		return true
	default:
		q.skipped[task.Priority].Add(1)
		return false
	}
}

// Dequeue returns the next task in strict priority order, blocking until one
// is available or the context ends. A lower class is only served when every
// higher class is empty at selection time.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		for _, lane := range q.lanes {
			select {
			case task := <-lane:
				return task, nil
			default:
			}
		}

		// All lanes empty: block on any arrival, then re-apply strict order.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case task := <-q.lanes[PriorityAlerts]:
			return task, nil
		case task := <-q.lanes[PriorityPing]:
			return task, nil
		case task := <-q.lanes[PrioritySNMP]:
			return task, nil
		case task := <-q.lanes[PriorityMaintenance]:
			return task, nil
		}
	}
}

// Skipped returns how many tasks of the class were dropped since start.
func (q *Queue) Skipped(p Priority) uint64 {
	return q.skipped[p].Load()
}

// Depth returns the current backlog of the class.
func (q *Queue) Depth(p Priority) int {
	return len(q.lanes[p])
}
