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

func newActiveAlarm(sensorID int64, subsystem, tag string) activeAlarm {
	i := NewInstance(sensorID, schema.SensorKey{Site: "s", Block: "b", Subsystem: subsystem, Tag: tag}, schema.PriorityP1)
	i.Raise(100, time.Now(), 90, "HIGH")
	return activeAlarm{SensorID: sensorID, Subsystem: subsystem, Tag: tag, Instance: i}
}

func testRules() []schema.CascadeRule {
	return []schema.CascadeRule{
		{
			CauseTagPattern:   "utility-feed-loss",
			CauseSubsystem:    "electrical",
			EffectTagPatterns: []string{"ups-.*", "genset-.*"},
			EffectSubsystems:  []string{"electrical"},
			Description:       "utility loss suppresses downstream UPS/genset alarms",
		},
	}
}

func TestCascadeSuppressesMatchingEffects(t *testing.T) {
	ce, err := NewCascadeEngine(testRules())
	if err != nil {
		t.Fatalf("NewCascadeEngine: %v", err)
	}

	cause := newActiveAlarm(1, "electrical", "utility-feed-loss")
	effect := newActiveAlarm(2, "electrical", "ups-discharge")

	suppressed := ce.OnAlarmRaised(cause, []activeAlarm{cause, effect})
	if len(suppressed) != 1 || suppressed[0] != 2 {
		t.Fatalf("expected sensor 2 suppressed, got %v", suppressed)
	}
	if effect.Instance.State != schema.StateSuppressed {
		t.Fatalf("expected SUPPRESSED, got %s", effect.Instance.State)
	}
	if effect.Instance.SuppressedBy != 1 {
		t.Fatalf("expected SuppressedBy 1, got %d", effect.Instance.SuppressedBy)
	}
}

func TestCascadeIgnoresNonMatchingSubsystem(t *testing.T) {
	ce, err := NewCascadeEngine(testRules())
	if err != nil {
		t.Fatalf("NewCascadeEngine: %v", err)
	}

	cause := newActiveAlarm(1, "electrical", "utility-feed-loss")
	unrelated := newActiveAlarm(3, "thermal-l1", "crac-fail")

	suppressed := ce.OnAlarmRaised(cause, []activeAlarm{cause, unrelated})
	if len(suppressed) != 0 {
		t.Fatalf("expected no suppression for unrelated subsystem, got %v", suppressed)
	}
}

func TestCascadeUnsuppressReleasesOnCauseClear(t *testing.T) {
	ce, err := NewCascadeEngine(testRules())
	if err != nil {
		t.Fatalf("NewCascadeEngine: %v", err)
	}

	cause := newActiveAlarm(1, "electrical", "utility-feed-loss")
	effect := newActiveAlarm(2, "electrical", "genset-overload")
	ce.OnAlarmRaised(cause, []activeAlarm{cause, effect})

	unsuppressed := ce.OnAlarmCleared(1, []activeAlarm{effect})
	if len(unsuppressed) != 1 || unsuppressed[0] != 2 {
		t.Fatalf("expected sensor 2 unsuppressed, got %v", unsuppressed)
	}
	if effect.Instance.State != schema.StateCleared {
		t.Fatalf("expected CLEARED after unsuppress, got %s", effect.Instance.State)
	}
}

func TestWouldBeSuppressedDetectsActiveCause(t *testing.T) {
	ce, err := NewCascadeEngine(testRules())
	if err != nil {
		t.Fatalf("NewCascadeEngine: %v", err)
	}

	cause := newActiveAlarm(1, "electrical", "utility-feed-loss")

	causeID, would := ce.WouldBeSuppressed("electrical", "ups-discharge", []activeAlarm{cause})
	if !would || causeID != 1 {
		t.Fatalf("expected would-be-suppressed by sensor 1, got causeID=%d would=%v", causeID, would)
	}

	_, would = ce.WouldBeSuppressed("electrical", "ups-discharge", nil)
	if would {
		t.Fatal("expected no suppression with no active alarms")
	}
}

func TestCascadeStats(t *testing.T) {
	ce, err := NewCascadeEngine(testRules())
	if err != nil {
		t.Fatalf("NewCascadeEngine: %v", err)
	}

	cause := newActiveAlarm(1, "electrical", "utility-feed-loss")
	effect := newActiveAlarm(2, "electrical", "ups-discharge")
	ce.OnAlarmRaised(cause, []activeAlarm{cause, effect})
	ce.OnAlarmCleared(1, []activeAlarm{effect})

	stats := ce.Stats()
	if stats.RulesLoaded != 1 {
		t.Fatalf("expected 1 rule loaded, got %d", stats.RulesLoaded)
	}
	if stats.TotalSuppressions != 1 || stats.TotalUnsuppressions != 1 {
		t.Fatalf("expected 1 suppression and 1 unsuppression, got %+v", stats)
	}
}
