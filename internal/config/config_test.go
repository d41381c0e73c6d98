// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
site: site1
block: block1
storage:
  driver: sqlite3
  db: ./data.db
edge_broker:
  host: 127.0.0.1
  port: 1883
buffer:
  db: ./buffer.db
  capacity: 50000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite3" {
		t.Fatalf("expected driver sqlite3, got %s", cfg.Storage.Driver)
	}
	if cfg.Buffer.Capacity != 50000 {
		t.Fatalf("expected capacity 50000, got %d", cfg.Buffer.Capacity)
	}
}

func TestLoadRejectsInvalidDriver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
storage:
  driver: postgres
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unsupported storage driver")
	}
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
edge_broker:
  host: localhost
  port: 99999
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an out-of-range broker port")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
bogus_top_level_field: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error decoding an unknown top-level field")
	}
}

func TestBrokerAddresses(t *testing.T) {
	b := BrokerConfig{Host: "localhost", Port: 1883}
	if got := b.NatsAddress(); got != "nats://localhost:1883" {
		t.Fatalf("NatsAddress() = %q, want nats://localhost:1883", got)
	}
	if got := b.MQTTAddress(); got != "tcp://localhost:1883" {
		t.Fatalf("MQTTAddress() = %q, want tcp://localhost:1883", got)
	}
}

func TestBrokerNatsAddressNoPort(t *testing.T) {
	b := BrokerConfig{Host: "localhost"}
	if got := b.NatsAddress(); got != "nats://localhost" {
		t.Fatalf("NatsAddress() = %q, want nats://localhost", got)
	}
}

func TestTimeoutDefaults(t *testing.T) {
	var tc TimeoutConfig
	if tc.Modbus().Seconds() != 3 {
		t.Fatalf("expected default Modbus timeout 3s, got %v", tc.Modbus())
	}
	if tc.SNMP().Seconds() != 5 {
		t.Fatalf("expected default SNMP timeout 5s, got %v", tc.SNMP())
	}
}

func TestTimeoutOverride(t *testing.T) {
	tc := TimeoutConfig{ModbusMS: 1500}
	if tc.Modbus().Milliseconds() != 1500 {
		t.Fatalf("expected overridden Modbus timeout 1500ms, got %v", tc.Modbus())
	}
}

func TestAlarmEngineYAMLToEngineConfigFillsDefaults(t *testing.T) {
	var y AlarmEngineYAML
	cfg := y.ToEngineConfig()
	if cfg.MaxShelveDurationHours == 0 {
		t.Fatal("expected zero-valued YAML section to fall back to alarm.DefaultConfig")
	}
}

func TestAlarmEngineYAMLToEngineConfigOverrides(t *testing.T) {
	y := AlarmEngineYAML{
		MaxShelveDurationHours: 12,
		DeadbandPercent:        5,
		FloodThresholdCount:    10,
	}
	cfg := y.ToEngineConfig()
	if cfg.MaxShelveDurationHours != 12 {
		t.Fatalf("expected override 12, got %v", cfg.MaxShelveDurationHours)
	}
	if cfg.DeadbandFraction != 0.05 {
		t.Fatalf("expected deadband_percent 5 to become fraction 0.05, got %v", cfg.DeadbandFraction)
	}
	if cfg.FloodThresholdCount != 10 {
		t.Fatalf("expected override 10, got %v", cfg.FloodThresholdCount)
	}
}
