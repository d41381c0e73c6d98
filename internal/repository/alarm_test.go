// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"context"
	"testing"
	"time"

	"github.com/microlinkdc/mcs/pkg/schema"
)

func setupAlarmFixture(tb testing.TB) (*AlarmRepository, *SensorRepository, int64) {
	tb.Helper()
	db := openTestDB(tb)

	sensors := &SensorRepository{DB: db}
	s := sampleSensor()
	if err := sensors.Upsert(context.Background(), s); err != nil {
		tb.Fatalf("seed sensor: %v", err)
	}
	row, err := sensors.ByKey(context.Background(), schema.SensorKey{Site: s.Site, Block: s.Block, Subsystem: s.Subsystem, Tag: s.Tag})
	if err != nil {
		tb.Fatalf("lookup seeded sensor: %v", err)
	}

	return &AlarmRepository{DB: db}, sensors, row.ID
}

func TestSaveAndLoadActiveAlarm(t *testing.T) {
	alarms, _, sensorID := setupAlarmFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	inst := &schema.AlarmInstance{
		SensorID: sensorID,
		Priority: schema.PriorityP1,
		State:    schema.StateActive,
		RaisedAt: &now,
	}
	if err := alarms.SaveAlarm(ctx, inst); err != nil {
		t.Fatalf("SaveAlarm: %v", err)
	}
	if inst.ID == 0 {
		t.Fatal("expected SaveAlarm to populate the generated ID on insert")
	}

	active, err := alarms.LoadActiveAlarms(ctx)
	if err != nil {
		t.Fatalf("LoadActiveAlarms: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active alarm, got %d", len(active))
	}
	if active[0].Key.Tag != "main-kw" {
		t.Fatalf("expected the joined sensor key to be populated, got %+v", active[0].Key)
	}
}

func TestLoadActiveAlarmsExcludesCleared(t *testing.T) {
	alarms, _, sensorID := setupAlarmFixture(t)
	ctx := context.Background()

	inst := &schema.AlarmInstance{SensorID: sensorID, Priority: schema.PriorityP2, State: schema.StateCleared}
	if err := alarms.SaveAlarm(ctx, inst); err != nil {
		t.Fatalf("SaveAlarm: %v", err)
	}

	active, err := alarms.LoadActiveAlarms(ctx)
	if err != nil {
		t.Fatalf("LoadActiveAlarms: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected a CLEARED alarm to be excluded, got %d", len(active))
	}
}

func TestSaveAlarmUpsertsOnSensorID(t *testing.T) {
	alarms, _, sensorID := setupAlarmFixture(t)
	ctx := context.Background()

	inst := &schema.AlarmInstance{SensorID: sensorID, Priority: schema.PriorityP1, State: schema.StateActive}
	if err := alarms.SaveAlarm(ctx, inst); err != nil {
		t.Fatalf("first SaveAlarm: %v", err)
	}
	inst.State = schema.StateAcked
	if err := alarms.SaveAlarm(ctx, inst); err != nil {
		t.Fatalf("second SaveAlarm: %v", err)
	}

	active, err := alarms.LoadActiveAlarms(ctx)
	if err != nil {
		t.Fatalf("LoadActiveAlarms: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected a single upserted row, got %d", len(active))
	}
	if active[0].State != schema.StateAcked {
		t.Fatalf("expected state ACKED after second save, got %s", active[0].State)
	}
}

func TestLoadCascadeRulesFallsBackToDefaults(t *testing.T) {
	alarms, _, _ := setupAlarmFixture(t)

	rules, err := alarms.LoadCascadeRules(context.Background())
	if err != nil {
		t.Fatalf("LoadCascadeRules: %v", err)
	}
	if len(rules) == 0 {
		t.Fatal("expected an empty cascade_rules table to fall back to the stock rule set")
	}
}

func TestSaveAuditAndDeadLetter(t *testing.T) {
	alarms, _, _ := setupAlarmFixture(t)
	ctx := context.Background()

	if err := alarms.SaveAudit(ctx, schema.AuditEvent{Time: time.Now(), BlockID: "block1", EventType: "RAISED", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("SaveAudit: %v", err)
	}
	if err := alarms.SaveDeadLetter(ctx, schema.DeadLetterRecord{ReceivedAt: time.Now(), Topic: "microlink/x", Payload: "bad", Category: schema.CategoryParseError}); err != nil {
		t.Fatalf("SaveDeadLetter: %v", err)
	}
}
