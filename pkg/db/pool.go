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

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/branchwatch/branchwatch/pkg/logger"
)

const (
	defaultStatementTimeout = 30 * time.Second
	defaultMaxConns         = 10
)

// DB implements Service on a pgx connection pool.
type DB struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ Service = (*DB)(nil)

// New dials the relational store and runs migrations. An unreachable store
// refuses startup.
func New(ctx context.Context, databaseURL string, log logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: parse connection string: %w", err)
	}

	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = defaultMaxConns
	}

	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}

	poolConfig.ConnConfig.RuntimeParams["statement_timeout"] =
		fmt.Sprintf("%d", defaultStatementTimeout/time.Millisecond)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("db: initialize pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	d := &DB{pool: pool, logger: log.WithComponent("db")}

	if err := d.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	d.logger.Info().
		Int32("max_conns", poolConfig.MaxConns).
		Msg("connected to relational store")

	return d, nil
}

// HealthCheck pings the pool.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}
