// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the per-process YAML configuration
// document: broker endpoints, storage paths, poll-group intervals,
// device/point mappings, and the alarm engine's tuning parameters.
// Every mcs-* binary loads the same document shape and reads only the
// sections it needs.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/microlinkdc/mcs/internal/alarm"
	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/schema"
)

// StorageConfig names the sqlx driver and DSN for this process's
// authoritative database, supporting either sqlite3 or mysql.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite3|mysql
	DB     string `yaml:"db"`
}

// BrokerConfig addresses one MQTT/NATS broker leg (edge-local or cloud).
type BrokerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	TLSCert   string `yaml:"tls_cert,omitempty"`
	TLSKey    string `yaml:"tls_key,omitempty"`
	TLSCACert string `yaml:"tls_ca_cert,omitempty"`
	ClientID  string `yaml:"client_id,omitempty"`
}

// NatsAddress renders the broker leg as a nats:// URL for pkg/nats.
func (b BrokerConfig) NatsAddress() string {
	if b.Port == 0 {
		return "nats://" + b.Host
	}
	return fmt.Sprintf("nats://%s:%d", b.Host, b.Port)
}

// MQTTAddress renders the broker leg as a tcp:// URL for paho.
func (b BrokerConfig) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", b.Host, b.Port)
}

// BufferConfig governs the edge's durable store-and-forward ring
// buffer.
type BufferConfig struct {
	DB              string `yaml:"db"`
	Capacity        int64  `yaml:"capacity"`
	ReplayBatchSize int    `yaml:"replay_batch_size"`
	ReplayPauseMS   int    `yaml:"replay_pause_ms"`
}

// PollGroupConfig is one of the four canonical poll groups' interval.
type PollGroupConfig struct {
	Name       schema.PollGroupName `yaml:"name"`
	IntervalMS int                  `yaml:"interval_ms"`
}

// DeviceConfig is one physical device an adapter polls: its transport
// address and the point mappings read from it.
type DeviceConfig struct {
	Name          string                `yaml:"name"`
	Protocol      string                `yaml:"protocol"` // modbus|snmp|bacnet
	Address       string                `yaml:"address"`
	Port          int                   `yaml:"port"`
	UnitID        int                   `yaml:"unit_id,omitempty"` // Modbus slave/unit ID
	SNMPCommunity string                `yaml:"snmp_community,omitempty"`
	SNMPVersion   string                `yaml:"snmp_version,omitempty"`
	Points        []schema.PointMapping `yaml:"points"`
}

// TimeoutConfig holds the per-operation network timeouts.
type TimeoutConfig struct {
	ModbusMS       int `yaml:"modbus_ms"`
	SNMPMS         int `yaml:"snmp_ms"`
	BACnetMS       int `yaml:"bacnet_ms"`
	DBInsertMS     int `yaml:"db_insert_ms"`
	CloudPublishMS int `yaml:"cloud_publish_ms"`
}

func (t TimeoutConfig) Modbus() time.Duration       { return durOr(t.ModbusMS, 3*time.Second) }
func (t TimeoutConfig) SNMP() time.Duration         { return durOr(t.SNMPMS, 5*time.Second) }
func (t TimeoutConfig) BACnet() time.Duration       { return durOr(t.BACnetMS, 10*time.Second) }
func (t TimeoutConfig) DBInsert() time.Duration     { return durOr(t.DBInsertMS, 30*time.Second) }
func (t TimeoutConfig) CloudPublish() time.Duration { return durOr(t.CloudPublishMS, 10*time.Second) }

func durOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// RedisConfig addresses the sensor-key cache's tier-2 store.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// AlarmEngineYAML mirrors internal/alarm.Config with yaml tags
// expressed the way a human writes the YAML document (hours/seconds,
// not time.Duration strings).
type AlarmEngineYAML struct {
	MaxShelveDurationHours     float64 `yaml:"max_shelve_duration_hours"`
	DefaultShelveDurationHours float64 `yaml:"default_shelve_duration_hours"`
	ShelveRequiresReason       *bool   `yaml:"shelve_requires_reason"`
	ShelveReevalIntervalS      int     `yaml:"shelve_reeval_interval_s"`
	DeadbandPercent            float64 `yaml:"deadband_percent"`
	FloodThresholdCount        int     `yaml:"flood_threshold_count"`
	FloodThresholdSeconds      int     `yaml:"flood_threshold_seconds"`
	StaleTimeoutMinutes        int     `yaml:"stale_alarm_timeout_minutes"`
	StaleSweepSeconds          int     `yaml:"stale_sweep_interval_s"`
	ThresholdRefreshSeconds    int     `yaml:"threshold_refresh_interval_s"`
	CascadeRefreshSeconds      int     `yaml:"cascade_refresh_interval_s"`
}

// ToEngineConfig converts the YAML-shaped section into alarm.Config,
// filling anything left at zero from alarm.DefaultConfig.
func (a AlarmEngineYAML) ToEngineConfig() alarm.Config {
	d := alarm.DefaultConfig()
	cfg := d
	if a.MaxShelveDurationHours > 0 {
		cfg.MaxShelveDurationHours = a.MaxShelveDurationHours
	}
	if a.DefaultShelveDurationHours > 0 {
		cfg.DefaultShelveDurationHours = a.DefaultShelveDurationHours
	}
	if a.ShelveRequiresReason != nil {
		cfg.ShelveRequiresReason = *a.ShelveRequiresReason
	}
	if a.ShelveReevalIntervalS > 0 {
		cfg.ShelveReevalInterval = time.Duration(a.ShelveReevalIntervalS) * time.Second
	}
	if a.DeadbandPercent > 0 {
		if a.DeadbandPercent < 1.0 {
			log.Warnf("config: deadband_percent %.3f is suspiciously small — did you mean a fraction already? value is interpreted as a percent", a.DeadbandPercent)
		}
		cfg.DeadbandFraction = a.DeadbandPercent / 100.0
	}
	if a.FloodThresholdCount > 0 {
		cfg.FloodThresholdCount = a.FloodThresholdCount
	}
	if a.FloodThresholdSeconds > 0 {
		cfg.FloodThresholdWindow = time.Duration(a.FloodThresholdSeconds) * time.Second
	}
	if a.StaleTimeoutMinutes > 0 {
		cfg.StaleTimeout = time.Duration(a.StaleTimeoutMinutes) * time.Minute
	}
	if a.StaleSweepSeconds > 0 {
		cfg.StaleSweep = time.Duration(a.StaleSweepSeconds) * time.Second
	}
	if a.ThresholdRefreshSeconds > 0 {
		cfg.ThresholdRefresh = time.Duration(a.ThresholdRefreshSeconds) * time.Second
	}
	if a.CascadeRefreshSeconds > 0 {
		cfg.CascadeRefresh = time.Duration(a.CascadeRefreshSeconds) * time.Second
	}
	return cfg
}

// ProcessConfig is the full per-process YAML document. Each mcs-*
// binary reads the sections relevant to it; unused sections are
// simply left zero-valued.
type ProcessConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogDateTime bool   `yaml:"log_date_time"`

	Site  string `yaml:"site"`
	Block string `yaml:"block"`

	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`

	EdgeBroker  BrokerConfig `yaml:"edge_broker"`
	CloudBroker BrokerConfig `yaml:"cloud_broker"`

	Buffer     BufferConfig      `yaml:"buffer"`
	PollGroups []PollGroupConfig `yaml:"poll_groups"`
	Devices    []DeviceConfig    `yaml:"devices"`
	Timeouts   TimeoutConfig     `yaml:"timeouts"`

	BatchSize          int `yaml:"batch_size"`
	BatchAgeMS         int `yaml:"batch_age_ms"`
	BatchHighWaterMark int `yaml:"batch_high_water_mark"`

	Alarm AlarmEngineYAML `yaml:"alarm"`
}

// Load reads and validates a ProcessConfig document from path.
func Load(path string) (*ProcessConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := Validate(raw); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}

	var cfg ProcessConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}
