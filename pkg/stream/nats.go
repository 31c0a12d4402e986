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

package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
)

// SubjectStatusChange is the subject status transitions are published on.
const SubjectStatusChange = "branchwatch.events.status"

// NATSPublisher mirrors the change stream onto a NATS subject so external
// consumers (notification relays, data pipelines) can follow along. It is
// optional: with no broker configured the engine runs without it.
type NATSPublisher struct {
	conn *nats.Conn
	log  logger.Logger
}

// NewNATSPublisher connects to the broker and bridges the fanout onto it.
func NewNATSPublisher(url string, fanout *Fanout, log logger.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("stream: connect nats %s: %w", url, err)
	}

	p := &NATSPublisher{conn: conn, log: log.WithComponent("nats")}

	events, unsubscribe := fanout.Subscribe()

	go func() {
		defer unsubscribe()

		for change := range events {
			p.publish(change)
		}
	}()

	return p, nil
}

func (p *NATSPublisher) publish(change models.StatusChange) {
	payload, err := json.Marshal(change)
	if err != nil {
		p.log.Error().Err(err).Msg("Marshal status change failed")
		return
	}

	if err := p.conn.Publish(SubjectStatusChange, payload); err != nil {
		p.log.Warn().
			Err(err).
			Str("device_ip", change.DeviceIP).
			Msg("NATS publish failed")
	}
}

// Close drains and closes the broker connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.log.Warn().Err(err).Msg("NATS drain failed")
	}
}
