// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package alarm

import (
	"testing"
	"time"

	"github.com/microlinkdc/mcs/pkg/schema"
)

func newTestInstance() *Instance {
	return NewInstance(1, schema.SensorKey{Site: "s1", Block: "b1", Subsystem: "electrical", Tag: "t1"}, schema.PriorityP1)
}

func TestRaiseFromCleared(t *testing.T) {
	i := newTestInstance()
	now := time.Now()

	outcome := i.Raise(75.0, now, 70.0, "HIGH")
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %s", outcome)
	}
	if i.State != schema.StateActive {
		t.Fatalf("expected ACTIVE, got %s", i.State)
	}
	if i.ValueAtRaise != 75.0 {
		t.Fatalf("expected ValueAtRaise 75.0, got %v", i.ValueAtRaise)
	}
}

func TestRaiseWhileActiveIsNoChange(t *testing.T) {
	i := newTestInstance()
	now := time.Now()
	i.Raise(75.0, now, 70.0, "HIGH")

	outcome := i.Raise(80.0, now.Add(time.Second), 70.0, "HIGH")
	if outcome != OutcomeNoChange {
		t.Fatalf("expected NO_CHANGE re-raising an active alarm, got %s", outcome)
	}
	if i.LastValue != 80.0 {
		t.Fatalf("expected LastValue updated to 80.0, got %v", i.LastValue)
	}
}

func TestAcknowledgeActiveToAcked(t *testing.T) {
	i := newTestInstance()
	now := time.Now()
	i.Raise(75.0, now, 70.0, "HIGH")

	outcome := i.Acknowledge("operator1", now.Add(time.Minute))
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %s", outcome)
	}
	if i.State != schema.StateAcked {
		t.Fatalf("expected ACKED, got %s", i.State)
	}
	if i.AckedBy != "operator1" {
		t.Fatalf("expected AckedBy operator1, got %s", i.AckedBy)
	}
}

func TestClearConditionActiveGoesToRtnUnack(t *testing.T) {
	i := newTestInstance()
	now := time.Now()
	i.Raise(75.0, now, 70.0, "HIGH")

	outcome := i.ClearCondition(65.0, now.Add(time.Minute))
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %s", outcome)
	}
	if i.State != schema.StateRtnUnack {
		t.Fatalf("expected RTN_UNACK, got %s", i.State)
	}
}

func TestClearConditionAckedGoesToCleared(t *testing.T) {
	i := newTestInstance()
	now := time.Now()
	i.Raise(75.0, now, 70.0, "HIGH")
	i.Acknowledge("op", now.Add(time.Minute))

	outcome := i.ClearCondition(65.0, now.Add(2*time.Minute))
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %s", outcome)
	}
	if i.State != schema.StateCleared {
		t.Fatalf("expected CLEARED, got %s", i.State)
	}
}

func TestAcknowledgeRtnUnackClearsOutright(t *testing.T) {
	i := newTestInstance()
	now := time.Now()
	i.Raise(75.0, now, 70.0, "HIGH")
	i.ClearCondition(65.0, now.Add(time.Minute))

	outcome := i.Acknowledge("op", now.Add(2*time.Minute))
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %s", outcome)
	}
	if i.State != schema.StateCleared {
		t.Fatalf("expected CLEARED, got %s", i.State)
	}
}

func TestShelveRequiresReasonWhenConfigured(t *testing.T) {
	i := newTestInstance()
	now := time.Now()
	i.Raise(75.0, now, 70.0, "HIGH")
	cfg := Config{ShelveRequiresReason: true, MaxShelveDurationHours: 8}

	outcome := i.Shelve("op", "", 4, now, cfg)
	if outcome != OutcomeInvalid {
		t.Fatalf("expected INVALID without a reason, got %s", outcome)
	}

	outcome = i.Shelve("op", "maintenance", 4, now, cfg)
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK with a reason, got %s", outcome)
	}
	if i.State != schema.StateShelved {
		t.Fatalf("expected SHELVED, got %s", i.State)
	}
}

func TestShelveCannotClearedInstance(t *testing.T) {
	i := newTestInstance()
	outcome := i.Shelve("op", "reason", 4, time.Now(), Config{MaxShelveDurationHours: 8})
	if outcome != OutcomeInvalid {
		t.Fatalf("expected INVALID shelving a cleared instance, got %s", outcome)
	}
}

func TestShelveOnAlreadyShelvedIsNoChange(t *testing.T) {
	i := newTestInstance()
	now := time.Now()
	i.Raise(75.0, now, 70.0, "HIGH")
	cfg := Config{MaxShelveDurationHours: 8}

	first := i.Shelve("op", "reason", 4, now, cfg)
	if first != OutcomeOK {
		t.Fatalf("expected OutcomeOK on the first shelve, got %s", first)
	}
	until := i.ShelvedUntil
	count := i.TransitionCount

	outcome := i.Shelve("op2", "different reason", 6, now.Add(time.Hour), cfg)
	if outcome != OutcomeNoChange {
		t.Fatalf("expected NO_CHANGE re-shelving an already-SHELVED instance, got %s", outcome)
	}
	if i.ShelvedBy != "op" || !i.ShelvedUntil.Equal(*until) || i.TransitionCount != count {
		t.Fatalf("expected the SHELVED row to be left untouched by a second shelve, got shelved_by=%s until=%v count=%d",
			i.ShelvedBy, i.ShelvedUntil, i.TransitionCount)
	}
}

func TestShelveClampsDuration(t *testing.T) {
	i := newTestInstance()
	now := time.Now()
	i.Raise(75.0, now, 70.0, "HIGH")
	cfg := Config{MaxShelveDurationHours: 2}

	i.Shelve("op", "reason", 10, now, cfg)
	want := now.Add(2 * time.Hour)
	if !i.ShelvedUntil.Equal(want) {
		t.Fatalf("expected shelve duration clamped to 2h (until %v), got %v", want, i.ShelvedUntil)
	}
}

func TestUnshelveOnlyFromShelved(t *testing.T) {
	i := newTestInstance()
	now := time.Now()
	i.Raise(75.0, now, 70.0, "HIGH")
	i.Shelve("op", "reason", 4, now, Config{MaxShelveDurationHours: 8})

	outcome := i.Unshelve(now.Add(time.Hour))
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %s", outcome)
	}
	if i.State != schema.StateCleared {
		t.Fatalf("expected CLEARED after unshelve, got %s", i.State)
	}

	outcome = i.Unshelve(now.Add(2 * time.Hour))
	if outcome != OutcomeNoChange {
		t.Fatalf("expected NO_CHANGE unshelving a non-shelved instance, got %s", outcome)
	}
}

func TestSuppressAndUnsuppress(t *testing.T) {
	i := newTestInstance()
	now := time.Now()
	i.Raise(75.0, now, 70.0, "HIGH")

	outcome := i.Suppress(42)
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %s", outcome)
	}
	if i.State != schema.StateSuppressed || i.SuppressedBy != 42 {
		t.Fatalf("expected SUPPRESSED by 42, got state=%s suppressedBy=%d", i.State, i.SuppressedBy)
	}

	outcome = i.Unsuppress()
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK, got %s", outcome)
	}
	if i.State != schema.StateCleared {
		t.Fatalf("expected CLEARED after unsuppress, got %s", i.State)
	}
}

func TestSuppressClearedIsNoChange(t *testing.T) {
	i := newTestInstance()
	outcome := i.Suppress(42)
	if outcome != OutcomeNoChange {
		t.Fatalf("expected NO_CHANGE suppressing a cleared instance, got %s", outcome)
	}
}

func TestForceClearFromActiveAndAcked(t *testing.T) {
	i := newTestInstance()
	now := time.Now()
	i.Raise(75.0, now, 70.0, "HIGH")

	outcome := i.ForceClear(now.Add(time.Hour))
	if outcome != OutcomeOK {
		t.Fatalf("expected OutcomeOK force-clearing ACTIVE, got %s", outcome)
	}
	if i.State != schema.StateCleared {
		t.Fatalf("expected CLEARED, got %s", i.State)
	}

	outcome = i.ForceClear(now.Add(2 * time.Hour))
	if outcome != OutcomeNoChange {
		t.Fatalf("expected NO_CHANGE force-clearing an already-cleared instance, got %s", outcome)
	}
}
