// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package nats

import (
	"encoding/json"
	"testing"
)

func TestNatsConfigFromAddress(t *testing.T) {
	cfg := NatsConfigFromAddress("nats://localhost:4222", "user", "pass")
	if cfg.Address != "nats://localhost:4222" || cfg.Username != "user" || cfg.Password != "pass" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.CredsFilePath != "" {
		t.Fatalf("expected empty creds path, got %q", cfg.CredsFilePath)
	}
}

func TestInitDecodesValidJSON(t *testing.T) {
	raw := json.RawMessage(`{"address":"nats://localhost:4222","username":"u","password":"p"}`)
	if err := Init(raw); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Keys.Address != "nats://localhost:4222" {
		t.Fatalf("expected Keys.Address to be set, got %q", Keys.Address)
	}
}

func TestInitRejectsUnknownField(t *testing.T) {
	raw := json.RawMessage(`{"address":"nats://localhost:4222","bogus":"x"}`)
	if err := Init(raw); err == nil {
		t.Fatal("expected Init to reject an unknown field")
	}
}

func TestInitNilConfigIsNoop(t *testing.T) {
	if err := Init(nil); err != nil {
		t.Fatalf("Init(nil): %v", err)
	}
}

func TestNewClientRequiresAddress(t *testing.T) {
	if _, err := NewClient(&NatsConfig{}); err == nil {
		t.Fatal("expected an error when address is empty")
	}
}
