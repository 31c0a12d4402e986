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
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
)

const (
	heartbeatInterval = 15 * time.Second
	readTimeout       = 45 * time.Second
	writeTimeout      = 10 * time.Second
)

// WSMessage is the envelope sent over the WebSocket.
type WSMessage struct {
	Type      string               `json:"type"` // "status_change", "ping"
	Change    *models.StatusChange `json:"change,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// WSHandler upgrades HTTP requests and relays the change stream.
type WSHandler struct {
	fanout   *Fanout
	upgrader websocket.Upgrader
	log      logger.Logger
}

// NewWSHandler builds the WebSocket relay over the fanout.
func NewWSHandler(fanout *Fanout, log logger.Logger) *WSHandler {
	return &WSHandler{
		fanout: fanout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log.WithComponent("websocket"),
	}
}

// ServeHTTP upgrades the connection and streams transitions until the client
// goes away. A client that misses two heartbeats is disconnected.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	h.log.Info().Str("remote_addr", r.RemoteAddr).Msg("WebSocket client connected")

	defer func() {
		_ = conn.Close()
		h.log.Info().Str("remote_addr", r.RemoteAddr).Msg("WebSocket client disconnected")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.readLoop(conn, cancel)

	events, unsubscribe := h.fanout.Subscribe()
	defer unsubscribe()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := h.write(conn, WSMessage{Type: "ping", Timestamp: time.Now()}); err != nil {
				h.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Heartbeat failed")
				return
			}
		case change, ok := <-events:
			if !ok {
				return
			}

			msg := WSMessage{Type: "status_change", Change: &change, Timestamp: time.Now()}
			if err := h.write(conn, msg); err != nil {
				h.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, msg WSMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return conn.WriteJSON(msg)
}

// readLoop drains client frames so close messages and pongs are processed.
func (h *WSHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
