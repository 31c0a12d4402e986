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

// Package stream fans device status transitions out to in-process
// subscribers, WebSocket clients and the optional NATS publisher. Publishing
// never blocks the ping workers: a slow subscriber loses events, counted.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
)

const subscriberBuffer = 64

// Fanout is the in-process change stream.
type Fanout struct {
	mu      sync.RWMutex
	subs    map[int]chan models.StatusChange
	nextID  int
	dropped atomic.Uint64

	log logger.Logger
}

// NewFanout builds an empty change stream.
func NewFanout(log logger.Logger) *Fanout {
	return &Fanout{
		subs: make(map[int]chan models.StatusChange),
		log:  log.WithComponent("stream"),
	}
}

// Subscribe registers a consumer. The returned cancel func must be called to
// release the subscription; the channel is closed by it.
func (f *Fanout) Subscribe() (<-chan models.StatusChange, func()) {
	ch := make(chan models.StatusChange, subscriberBuffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Publish delivers the transition to every subscriber without blocking.
// Subscribers with full buffers miss the event.
func (f *Fanout) Publish(change models.StatusChange) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.subs {
		select {
		case ch <- change:
		default:
			f.dropped.Add(1)
			f.log.Warn().
				Str("device_ip", change.DeviceIP).
				Uint64("total_dropped", f.dropped.Load()).
				Msg("Slow subscriber, dropping status change")
		}
	}
}

// Dropped returns how many events were lost to slow subscribers.
func (f *Fanout) Dropped() uint64 {
	return f.dropped.Load()
}

// Subscribers returns the current subscriber count.
func (f *Fanout) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.subs)
}
