// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package mlmqtt

import (
	"math"
	"testing"
	"time"
)

func TestTelemetryPayloadValidateOK(t *testing.T) {
	p := TelemetryPayload{Time: time.Now(), Value: 42.0}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestTelemetryPayloadValidateMissingTime(t *testing.T) {
	p := TelemetryPayload{Value: 1.0}
	if err := p.Validate(); err == nil {
		t.Fatal("expected an error for a zero timestamp")
	}
}

func TestTelemetryPayloadValidateNonFiniteValue(t *testing.T) {
	p := TelemetryPayload{Time: time.Now(), Value: math.NaN()}
	if err := p.Validate(); err == nil {
		t.Fatal("expected an error for a NaN value")
	}
	p.Value = math.Inf(1)
	if err := p.Validate(); err == nil {
		t.Fatal("expected an error for an infinite value")
	}
}

func TestTelemetryPayloadValidateInvalidQuality(t *testing.T) {
	p := TelemetryPayload{Time: time.Now(), Value: 1.0, Qual: "WHATEVER"}
	if err := p.Validate(); err == nil {
		t.Fatal("expected an error for an invalid quality string")
	}
}

func TestTelemetryPayloadValidateInvalidAlarmPriority(t *testing.T) {
	bad := "P9"
	p := TelemetryPayload{Time: time.Now(), Value: 1.0, Alarm: &bad}
	if err := p.Validate(); err == nil {
		t.Fatal("expected an error for an invalid alarm priority")
	}
}

func TestDecodeTelemetryPayloadValid(t *testing.T) {
	raw := []byte(`{"ts":"2026-01-01T00:00:00Z","v":10.5,"q":"GOOD"}`)
	p, err := DecodeTelemetryPayload(raw)
	if err != nil {
		t.Fatalf("DecodeTelemetryPayload: %v", err)
	}
	if p.Value != 10.5 {
		t.Fatalf("expected value 10.5, got %v", p.Value)
	}
}

func TestDecodeTelemetryPayloadMalformedJSON(t *testing.T) {
	if _, err := DecodeTelemetryPayload([]byte("not json")); err == nil {
		t.Fatal("expected a decode error for malformed JSON")
	}
}

func TestDecodeTelemetryPayloadFailsValidation(t *testing.T) {
	raw := []byte(`{"v":1.0}`)
	if _, err := DecodeTelemetryPayload(raw); err == nil {
		t.Fatal("expected a validation error for a missing timestamp")
	}
}
