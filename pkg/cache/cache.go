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

// Package cache is the in-process read cache fronting the query paths. Entries
// expire by namespace TTL; status transitions invalidate the list namespaces
// eagerly so dashboards converge faster than the TTL alone would allow.
package cache

import (
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Per-namespace TTLs. List endpoints tolerate short staleness; profile and
// rule reads change rarely and cache longer.
const (
	TTLDeviceList   = 30 * time.Second
	TTLAlertList    = 30 * time.Second
	TTLHistory      = 30 * time.Second
	TTLRules        = 60 * time.Second
	TTLProfile      = 5 * time.Minute
)

// Key namespaces. Keys are "<namespace>:<discriminator>".
const (
	NSDeviceList = "devices"
	NSAlertList  = "alerts"
	NSHistory    = "history"
	NSRules      = "rules"
	NSProfile    = "profile"
)

// Store is the namespaced TTL cache.
type Store struct {
	cache *ttlcache.Cache[string, any]
}

// New builds the cache and starts its janitor goroutine.
func New() *Store {
	c := ttlcache.New[string, any]()
	go c.Start()

	return &Store{cache: c}
}

// Key joins a namespace and discriminator into a cache key.
func Key(namespace, discriminator string) string {
	return namespace + ":" + discriminator
}

// Get returns the cached value and whether it was present.
func (s *Store) Get(key string) (any, bool) {
	item := s.cache.Get(key)
	if item == nil {
		return nil, false
	}

	return item.Value(), true
}

// Set stores a value under its namespace TTL.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	s.cache.Set(key, value, ttl)
}

// Delete removes one key.
func (s *Store) Delete(key string) {
	s.cache.Delete(key)
}

// InvalidateNamespace removes every key of the namespace.
func (s *Store) InvalidateNamespace(namespace string) {
	prefix := namespace + ":"

	var stale []string

	s.cache.Range(func(item *ttlcache.Item[string, any]) bool {
		if strings.HasPrefix(item.Key(), prefix) {
			stale = append(stale, item.Key())
		}

		return true
	})

	for _, key := range stale {
		s.cache.Delete(key)
	}
}

// InvalidateDevice drops the list namespaces affected by a device transition.
func (s *Store) InvalidateDevice() {
	s.InvalidateNamespace(NSDeviceList)
	s.InvalidateNamespace(NSAlertList)
}

// Stop halts the janitor goroutine.
func (s *Store) Stop() {
	s.cache.Stop()
}
