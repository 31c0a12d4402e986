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

package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/branchwatch/branchwatch/pkg/cache"
	"github.com/branchwatch/branchwatch/pkg/db"
	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
	"github.com/branchwatch/branchwatch/pkg/tsdb"
)

const (
	defaultHistoryRange = 24 * time.Hour
	maxHistoryRange     = 90 * 24 * time.Hour
	detailHistoryRange  = 24 * time.Hour
	defaultAlertLimit   = 200
)

// API serves the query surface the UI consumes.
type API struct {
	store db.Service
	ts    tsdb.Client
	cache *cache.Store
	ws    http.Handler
	log   logger.Logger
}

// NewAPI wires the handlers.
func NewAPI(store db.Service, ts tsdb.Client, c *cache.Store, ws http.Handler, log logger.Logger) *API {
	return &API{
		store: store,
		ts:    ts,
		cache: c,
		ws:    ws,
		log:   log.WithComponent("api"),
	}
}

// Routes builds the HTTP mux.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/devices", a.listDevices)
	mux.HandleFunc("GET /api/devices/{id}", a.deviceDetail)
	mux.HandleFunc("GET /api/devices/{id}/history", a.deviceHistory)

	mux.HandleFunc("GET /api/alerts", a.listAlerts)
	mux.HandleFunc("GET /api/alerts/realtime", a.realtimeAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/ack", a.acknowledgeAlert)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", a.resolveAlert)

	mux.HandleFunc("GET /api/rules", a.listRules)
	mux.HandleFunc("PUT /api/rules", a.upsertRule)

	mux.HandleFunc("GET /api/profile", a.activeProfile)
	mux.HandleFunc("POST /api/profiles/{id}/activate", a.activateProfile)

	mux.HandleFunc("GET /api/health", a.health)
	mux.Handle("GET /api/ws", a.ws)

	return mux
}

// DeviceSummary is one row of the device list: device row plus the derived
// status, latest ping and active-alert count the dashboard shows.
type DeviceSummary struct {
	Device       *models.Device      `json:"device"`
	Status       models.DeviceStatus `json:"status"`
	LatestPing   *db.LatestPing      `json:"latest_ping,omitempty"`
	ActiveAlerts int                 `json:"active_alerts"`
}

func (a *API) listDevices(w http.ResponseWriter, r *http.Request) {
	filter := db.DeviceFilter{
		Region:     r.URL.Query().Get("region"),
		DeviceType: r.URL.Query().Get("type"),
	}

	if raw := r.URL.Query().Get("branch_id"); raw != "" {
		branchID, err := uuid.Parse(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid branch_id")
			return
		}

		filter.BranchID = &branchID
	}

	key := cache.Key(cache.NSDeviceList, r.URL.RawQuery)

	if cached, ok := a.cache.Get(key); ok {
		a.writeJSON(w, http.StatusOK, cached)
		return
	}

	devices, err := a.store.ListDevices(r.Context(), filter)
	if err != nil {
		a.serverError(w, err)
		return
	}

	ips := make([]string, 0, len(devices))
	ids := make([]uuid.UUID, 0, len(devices))

	for _, d := range devices {
		ips = append(ips, d.IP)
		ids = append(ids, d.ID)
	}

	pings, err := a.store.LatestPings(r.Context(), ips)
	if err != nil {
		a.serverError(w, err)
		return
	}

	counts, err := a.store.ActiveAlertCounts(r.Context(), ids)
	if err != nil {
		a.serverError(w, err)
		return
	}

	summaries := make([]DeviceSummary, 0, len(devices))

	for _, d := range devices {
		summary := DeviceSummary{
			Device:       d,
			Status:       d.Status(),
			ActiveAlerts: counts[d.ID],
		}

		if ping, ok := pings[d.IP]; ok {
			summary.LatestPing = &ping
		}

		summaries = append(summaries, summary)
	}

	a.cache.Set(key, summaries, cache.TTLDeviceList)
	a.writeJSON(w, http.StatusOK, summaries)
}

// DeviceDetail is the full device view: row, latest ping, active alerts and
// recent status transitions.
type DeviceDetail struct {
	Device       *models.Device               `json:"device"`
	Status       models.DeviceStatus          `json:"status"`
	LatestPing   *db.LatestPing               `json:"latest_ping,omitempty"`
	ActiveAlerts []*models.Alert              `json:"active_alerts"`
	History      []*models.StatusHistoryEntry `json:"history"`
	Interfaces   []*models.Interface          `json:"interfaces"`
}

func (a *API) deviceDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	device, err := a.store.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrDeviceNotFound) {
			a.writeError(w, http.StatusNotFound, "device not found")
			return
		}

		a.serverError(w, err)

		return
	}

	pings, err := a.store.LatestPings(r.Context(), []string{device.IP})
	if err != nil {
		a.serverError(w, err)
		return
	}

	alerts, err := a.store.ActiveAlerts(r.Context(), id)
	if err != nil {
		a.serverError(w, err)
		return
	}

	now := time.Now()

	history, err := a.store.StatusHistory(r.Context(), id, now.Add(-detailHistoryRange), now)
	if err != nil {
		a.serverError(w, err)
		return
	}

	interfaces, err := a.store.ListInterfaces(r.Context(), id)
	if err != nil {
		a.serverError(w, err)
		return
	}

	detail := DeviceDetail{
		Device:       device,
		Status:       device.Status(),
		ActiveAlerts: alerts,
		History:      history,
		Interfaces:   interfaces,
	}

	if ping, ok := pings[device.IP]; ok {
		detail.LatestPing = &ping
	}

	a.writeJSON(w, http.StatusOK, detail)
}

// HistoryResponse carries the range-query result with the step the server
// chose for the requested range.
type HistoryResponse struct {
	StepSeconds int          `json:"step_seconds"`
	Status      []tsdb.Point `json:"status"`
	RTTMs       []tsdb.Point `json:"rtt_ms"`
}

func (a *API) deviceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	rangeDur := defaultHistoryRange

	if raw := r.URL.Query().Get("range"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 || parsed > maxHistoryRange {
			a.writeError(w, http.StatusBadRequest, "invalid range")
			return
		}

		rangeDur = parsed
	}

	key := cache.Key(cache.NSHistory, id.String()+":"+rangeDur.String())

	if cached, ok := a.cache.Get(key); ok {
		a.writeJSON(w, http.StatusOK, cached)
		return
	}

	end := time.Now()
	start := end.Add(-rangeDur)
	step := tsdb.StepFor(rangeDur)
	labels := map[string]string{tsdb.LabelDeviceID: id.String()}

	status, err := a.ts.QueryRange(r.Context(), tsdb.MetricDeviceStatus, labels, start, end, step)
	if err != nil {
		a.serverError(w, err)
		return
	}

	rtt, err := a.ts.QueryRange(r.Context(), tsdb.MetricPingRTTMs, labels, start, end, step)
	if err != nil {
		a.serverError(w, err)
		return
	}

	resp := HistoryResponse{
		StepSeconds: int(step.Seconds()),
		Status:      status,
		RTTMs:       rtt,
	}

	a.cache.Set(key, resp, cache.TTLHistory)
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := db.AlertFilter{
		Severity:   models.Severity(q.Get("severity")),
		ActiveOnly: q.Get("active") == "true",
		Limit:      defaultAlertLimit,
	}

	if raw := q.Get("device_id"); raw != "" {
		deviceID, err := uuid.Parse(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid device_id")
			return
		}

		filter.DeviceID = &deviceID
	}

	key := cache.Key(cache.NSAlertList, r.URL.RawQuery)

	if cached, ok := a.cache.Get(key); ok {
		a.writeJSON(w, http.StatusOK, cached)
		return
	}

	alerts, err := a.store.ListAlerts(r.Context(), filter)
	if err != nil {
		a.serverError(w, err)
		return
	}

	a.cache.Set(key, alerts, cache.TTLAlertList)
	a.writeJSON(w, http.StatusOK, alerts)
}

// RealtimeAlerts is the live alert view. Derived marks a degraded response
// built from down-device state instead of alert rows.
type RealtimeAlerts struct {
	Alerts  []*models.Alert `json:"alerts"`
	Derived bool            `json:"derived"`
}

// realtimeAlerts serves the active alert set without the list cache. When the
// alert store cannot answer, the view degrades to alerts derived from
// currently down devices so the dashboard never goes blank.
func (a *API) realtimeAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.store.ListAlerts(r.Context(), db.AlertFilter{ActiveOnly: true, Limit: defaultAlertLimit})
	if err == nil {
		a.writeJSON(w, http.StatusOK, RealtimeAlerts{Alerts: alerts})
		return
	}

	a.log.Warn().Err(err).Msg("Alert listing failed, deriving realtime view from device state")

	devices, derr := a.store.ListDevices(r.Context(), db.DeviceFilter{EnabledOnly: true})
	if derr != nil {
		a.serverError(w, err)
		return
	}

	derived := make([]*models.Alert, 0)

	for _, d := range devices {
		if d.DownSince == nil {
			continue
		}

		derived = append(derived, &models.Alert{
			DeviceID:    d.ID,
			RuleName:    models.RuleDeviceUnreachable,
			Severity:    models.SeverityCritical,
			Message:     fmt.Sprintf("%s is unreachable", d.IP),
			TriggeredAt: *d.DownSince,
		})
	}

	a.writeJSON(w, http.StatusOK, RealtimeAlerts{Alerts: derived, Derived: true})
}

func (a *API) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		By string `json:"by"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.By == "" {
		a.writeError(w, http.StatusBadRequest, "acknowledging user required")
		return
	}

	if err := a.store.AcknowledgeAlert(r.Context(), id, body.By, time.Now()); err != nil {
		if errors.Is(err, db.ErrAlertNotFound) {
			a.writeError(w, http.StatusNotFound, "alert not found")
			return
		}

		a.serverError(w, err)

		return
	}

	a.cache.InvalidateNamespace(cache.NSAlertList)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	if err := a.store.ResolveAlertByID(r.Context(), id, time.Now()); err != nil {
		if errors.Is(err, db.ErrAlertNotFound) {
			a.writeError(w, http.StatusNotFound, "alert not found")
			return
		}

		a.serverError(w, err)

		return
	}

	a.cache.InvalidateNamespace(cache.NSAlertList)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	key := cache.Key(cache.NSRules, r.URL.RawQuery)

	if cached, ok := a.cache.Get(key); ok {
		a.writeJSON(w, http.StatusOK, cached)
		return
	}

	rules, err := a.store.ListAlertRules(r.Context(), r.URL.Query().Get("enabled") == "true")
	if err != nil {
		a.serverError(w, err)
		return
	}

	a.cache.Set(key, rules, cache.TTLRules)
	a.writeJSON(w, http.StatusOK, rules)
}

func (a *API) upsertRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AlertRule

	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid rule payload")
		return
	}

	if rule.Name == "" || rule.Severity.Rank() == 0 {
		a.writeError(w, http.StatusBadRequest, "rule name and a valid severity are required")
		return
	}

	if err := a.store.UpsertAlertRule(r.Context(), &rule); err != nil {
		a.serverError(w, err)
		return
	}

	a.cache.InvalidateNamespace(cache.NSRules)
	a.writeJSON(w, http.StatusOK, &rule)
}

func (a *API) activeProfile(w http.ResponseWriter, r *http.Request) {
	key := cache.Key(cache.NSProfile, "active")

	if cached, ok := a.cache.Get(key); ok {
		a.writeJSON(w, http.StatusOK, cached)
		return
	}

	profile, err := a.store.ActiveProfile(r.Context())
	if err != nil {
		if errors.Is(err, db.ErrProfileNotFound) {
			a.writeError(w, http.StatusNotFound, "no active profile")
			return
		}

		a.serverError(w, err)

		return
	}

	a.cache.Set(key, profile, cache.TTLProfile)
	a.writeJSON(w, http.StatusOK, profile)
}

func (a *API) activateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	if err := a.store.ActivateProfile(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrProfileNotFound) {
			a.writeError(w, http.StatusNotFound, "profile not found")
			return
		}

		a.serverError(w, err)

		return
	}

	a.cache.InvalidateNamespace(cache.NSProfile)
	w.WriteHeader(http.StatusNoContent)
}

// health reports liveness plus per-component checks.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	type componentHealth struct {
		Healthy bool   `json:"healthy"`
		Error   string `json:"error,omitempty"`
	}

	resp := struct {
		Healthy    bool                       `json:"healthy"`
		Components map[string]componentHealth `json:"components"`
	}{
		Healthy:    true,
		Components: make(map[string]componentHealth, 2),
	}

	relational := componentHealth{Healthy: true}
	if err := a.store.HealthCheck(r.Context()); err != nil {
		relational = componentHealth{Error: err.Error()}
		resp.Healthy = false
	}

	series := componentHealth{Healthy: true}
	if err := a.ts.HealthCheck(r.Context()); err != nil {
		series = componentHealth{Error: err.Error()}
		resp.Healthy = false
	}

	resp.Components["relational"] = relational
	resp.Components["timeseries"] = series

	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}

	a.writeJSON(w, status, resp)
}

func (a *API) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}

	return id, true
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("Response encoding failed")
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) serverError(w http.ResponseWriter, err error) {
	a.log.Error().Err(err).Msg("Request failed")
	a.writeError(w, http.StatusInternalServerError, "internal error")
}
