// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package fanout

import "testing"

func TestAlarmSubject(t *testing.T) {
	if got := AlarmSubject("block1"); got != "mcs.alarms.block1" {
		t.Fatalf("AlarmSubject() = %q, want mcs.alarms.block1", got)
	}
}

func TestTelemetrySubject(t *testing.T) {
	if got := TelemetrySubject("block1"); got != "mcs.telemetry.block1" {
		t.Fatalf("TelemetrySubject() = %q, want mcs.telemetry.block1", got)
	}
}

func TestPublishWithNoClientConfiguredReturnsError(t *testing.T) {
	b := New(nil)
	if err := b.Publish("mcs.alarms.block1", []byte(`{}`)); err == nil {
		t.Fatal("expected Publish to error when no client is configured")
	}
}

func TestConnectedWithNoClientIsFalse(t *testing.T) {
	b := New(nil)
	if b.Connected() {
		t.Fatal("expected Connected() to be false with no client configured")
	}
}

func TestPublishTelemetryMarshalsAndPublishes(t *testing.T) {
	b := New(nil)
	err := b.PublishTelemetry("block1", map[string]int{"v": 1})
	if err == nil {
		t.Fatal("expected an error since no client is configured to actually publish")
	}
}

func TestPublishTelemetryMarshalError(t *testing.T) {
	b := New(nil)
	if err := b.PublishTelemetry("block1", make(chan int)); err == nil {
		t.Fatal("expected a marshal error for an unsupported type")
	}
}

func TestSubscriptionMatchesBlockFilter(t *testing.T) {
	s := Subscription{Block: "block1"}
	if !s.Matches("block1", 0) {
		t.Fatal("expected a matching block to pass")
	}
	if s.Matches("block2", 0) {
		t.Fatal("expected a non-matching block to be filtered out")
	}
}

func TestSubscriptionMatchesEmptyBlockMatchesAll(t *testing.T) {
	s := Subscription{}
	if !s.Matches("any-block", 3) {
		t.Fatal("expected an empty Block filter to match every block")
	}
}

func TestSubscriptionMatchesMinPriority(t *testing.T) {
	min := 1
	s := Subscription{MinPriority: &min}
	if !s.Matches("block1", 0) {
		t.Fatal("expected priority 0 (higher than min 1) to pass")
	}
	if !s.Matches("block1", 1) {
		t.Fatal("expected priority equal to MinPriority to pass")
	}
	if s.Matches("block1", 2) {
		t.Fatal("expected priority lower than MinPriority (larger number) to be filtered out")
	}
}
