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

// Package config loads engine configuration from the environment, with an
// optional .env file and an optional YAML overrides file for thresholds and
// cadences. Everything has a sane default except the encryption key and the
// relational store URL, which are required.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
)

var (
	// ErrMissingDatabaseURL indicates BW_DATABASE_URL was not provided.
	ErrMissingDatabaseURL = errors.New("config: BW_DATABASE_URL is required")
	// ErrMissingEncryptionKey indicates BW_ENCRYPTION_KEY was not provided.
	ErrMissingEncryptionKey = errors.New("config: BW_ENCRYPTION_KEY is required")
)

// Cadences are the beat intervals for each recurring job.
type Cadences struct {
	Ping             time.Duration `yaml:"ping"`
	Alerts           time.Duration `yaml:"alerts"`
	InterfaceStatus  time.Duration `yaml:"interface_status"`
	SNMPCounters     time.Duration `yaml:"snmp_counters"`
	InterfaceSummary time.Duration `yaml:"interface_summary"`
	AnomalyCheck     time.Duration `yaml:"anomaly_check"`
	BaselineLearn    time.Duration `yaml:"baseline_learn"`
	Discovery        time.Duration `yaml:"discovery"`
	Cleanup          time.Duration `yaml:"cleanup"`
}

// DefaultCadences returns the stock schedule.
func DefaultCadences() Cadences {
	return Cadences{
		Ping:             10 * time.Second,
		Alerts:           10 * time.Second,
		InterfaceStatus:  60 * time.Second,
		SNMPCounters:     60 * time.Second,
		InterfaceSummary: 15 * time.Minute,
		AnomalyCheck:     5 * time.Minute,
		BaselineLearn:    7 * 24 * time.Hour,
		Discovery:        6 * time.Hour,
		Cleanup:          24 * time.Hour,
	}
}

// UnmarshalYAML decodes cadences from Go duration strings.
func (c *Cadences) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Ping             models.Duration `yaml:"ping"`
		Alerts           models.Duration `yaml:"alerts"`
		InterfaceStatus  models.Duration `yaml:"interface_status"`
		SNMPCounters     models.Duration `yaml:"snmp_counters"`
		InterfaceSummary models.Duration `yaml:"interface_summary"`
		AnomalyCheck     models.Duration `yaml:"anomaly_check"`
		BaselineLearn    models.Duration `yaml:"baseline_learn"`
		Discovery        models.Duration `yaml:"discovery"`
		Cleanup          models.Duration `yaml:"cleanup"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	*c = Cadences{
		Ping:             raw.Ping.Std(),
		Alerts:           raw.Alerts.Std(),
		InterfaceStatus:  raw.InterfaceStatus.Std(),
		SNMPCounters:     raw.SNMPCounters.Std(),
		InterfaceSummary: raw.InterfaceSummary.Std(),
		AnomalyCheck:     raw.AnomalyCheck.Std(),
		BaselineLearn:    raw.BaselineLearn.Std(),
		Discovery:        raw.Discovery.Std(),
		Cleanup:          raw.Cleanup.Std(),
	}

	return nil
}

// Retention bounds housekeeping deletions.
type Retention struct {
	PingSamples    time.Duration `yaml:"ping_samples"`
	ResolvedAlerts time.Duration `yaml:"resolved_alerts"`
	Discovery      time.Duration `yaml:"discovery"`
}

// UnmarshalYAML decodes retention windows from Go duration strings.
func (r *Retention) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		PingSamples    models.Duration `yaml:"ping_samples"`
		ResolvedAlerts models.Duration `yaml:"resolved_alerts"`
		Discovery      models.Duration `yaml:"discovery"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	*r = Retention{
		PingSamples:    raw.PingSamples.Std(),
		ResolvedAlerts: raw.ResolvedAlerts.Std(),
		Discovery:      raw.Discovery.Std(),
	}

	return nil
}

// DefaultRetention returns the stock retention windows.
func DefaultRetention() Retention {
	return Retention{
		PingSamples:    30 * 24 * time.Hour,
		ResolvedAlerts: 7 * 24 * time.Hour,
		Discovery:      30 * 24 * time.Hour,
	}
}

// Config is the fully resolved engine configuration.
type Config struct {
	DatabaseURL   string
	EncryptionKey string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	NATSURL string

	ListenAddr string

	Workers   int
	QueueSize int

	Probe      models.ProbeConfig
	Thresholds models.AlertThresholds
	Cadences   Cadences
	Retention  Retention

	Logging logger.Config
}

// overrides is the YAML shape accepted via BW_CONFIG_FILE.
type overrides struct {
	Thresholds *models.AlertThresholds `yaml:"thresholds"`
	Cadences   *Cadences               `yaml:"cadences"`
	Retention  *Retention              `yaml:"retention"`
	Probe      *models.ProbeConfig     `yaml:"probe"`
}

// Load resolves configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:   os.Getenv("BW_DATABASE_URL"),
		EncryptionKey: os.Getenv("BW_ENCRYPTION_KEY"),
		InfluxURL:     envOr("BW_INFLUX_URL", "http://localhost:8086"),
		InfluxToken:   os.Getenv("BW_INFLUX_TOKEN"),
		InfluxOrg:     envOr("BW_INFLUX_ORG", "branchwatch"),
		InfluxBucket:  envOr("BW_INFLUX_BUCKET", "monitoring"),
		NATSURL:       os.Getenv("BW_NATS_URL"),
		ListenAddr:    envOr("BW_LISTEN_ADDR", ":8090"),
		Workers:       envInt("BW_WORKERS", 8),
		QueueSize:     envInt("BW_QUEUE_SIZE", 64),
		Probe:         models.DefaultProbeConfig(),
		Thresholds:    models.DefaultAlertThresholds(),
		Cadences:      DefaultCadences(),
		Retention:     DefaultRetention(),
		Logging: logger.Config{
			Level: envOr("BW_LOG_LEVEL", "info"),
			Debug: envBool("BW_DEBUG"),
		},
	}

	cfg.Probe.PingConcurrency = int64(envInt("BW_PING_CONCURRENCY", int(cfg.Probe.PingConcurrency)))
	cfg.Probe.SNMPConcurrency = int64(envInt("BW_SNMP_CONCURRENCY", int(cfg.Probe.SNMPConcurrency)))
	cfg.Probe.SNMPCommunity = envOr("BW_SNMP_COMMUNITY", cfg.Probe.SNMPCommunity)
	cfg.Probe.SNMPPort = uint16(envInt("BW_SNMP_PORT", int(cfg.Probe.SNMPPort)))

	if path := os.Getenv("BW_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the required settings.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}

	if c.EncryptionKey == "" {
		return ErrMissingEncryptionKey
	}

	if c.Workers <= 0 {
		c.Workers = 8
	}

	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}

	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var ov overrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if ov.Thresholds != nil {
		c.Thresholds = *ov.Thresholds
	}

	if ov.Cadences != nil {
		c.Cadences = *ov.Cadences
	}

	if ov.Retention != nil {
		c.Retention = *ov.Retention
	}

	if ov.Probe != nil {
		c.Probe = *ov.Probe
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}

	return n
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
