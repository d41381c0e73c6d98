// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/microlinkdc/mcs/pkg/schema"
)

type fakeResolver struct {
	rows map[schema.SensorKey]*schema.SensorRow
}

func (f *fakeResolver) Resolve(ctx context.Context, key schema.SensorKey) (*schema.SensorRow, error) {
	row, ok := f.rows[key]
	if !ok {
		return nil, errors.New("unknown sensor")
	}
	return row, nil
}

type fakeDeadLetterWriter struct {
	saved []schema.DeadLetterRecord
}

func (f *fakeDeadLetterWriter) SaveDeadLetter(ctx context.Context, rec schema.DeadLetterRecord) error {
	f.saved = append(f.saved, rec)
	return nil
}

type fakeAlarmPublisher struct {
	published []publishedAlarm
}

type publishedAlarm struct {
	subject string
	payload []byte
}

func (f *fakeAlarmPublisher) Publish(subject string, payload []byte) error {
	f.published = append(f.published, publishedAlarm{subject, payload})
	return nil
}

func newTestPipeline() (*Pipeline, *fakeResolver, *fakeDeadLetterWriter, *fakeAlarmPublisher, *fakeTelemetryStore) {
	key := schema.SensorKey{Site: "site1", Block: "block1", Subsystem: "electrical", Tag: "main-kw"}
	resolver := &fakeResolver{rows: map[schema.SensorKey]*schema.SensorRow{
		key: {ID: 1, Site: key.Site, Block: key.Block, Subsystem: key.Subsystem, Tag: key.Tag},
	}}
	dlw := &fakeDeadLetterWriter{}
	alarms := &fakeAlarmPublisher{}
	store := &fakeTelemetryStore{}
	batch := NewBatchWriter(store, 500, time.Hour, 1000)
	return NewPipeline(resolver, dlw, batch, alarms), resolver, dlw, alarms, store
}

func telemetryTopic() string {
	return "microlink/site1/block1/electrical/main-kw"
}

func TestHandleMessageAcceptsValidTelemetry(t *testing.T) {
	p, _, dlw, _, _ := newTestPipeline()
	raw, _ := json.Marshal(map[string]interface{}{"ts": time.Now().Format(time.RFC3339), "v": 42.5})

	p.HandleMessage(context.Background(), telemetryTopic(), raw)

	if len(dlw.saved) != 0 {
		t.Fatalf("expected no dead letters, got %d", len(dlw.saved))
	}
	if p.batch.Len() != 1 {
		t.Fatalf("expected 1 row appended to the batch, got %d", p.batch.Len())
	}
}

func TestHandleMessageDeadLettersBadTopic(t *testing.T) {
	p, _, dlw, _, _ := newTestPipeline()
	raw, _ := json.Marshal(map[string]interface{}{"ts": time.Now().Format(time.RFC3339), "v": 1.0})

	p.HandleMessage(context.Background(), "not/a/valid/topic", raw)

	if len(dlw.saved) != 1 {
		t.Fatalf("expected 1 dead letter for an invalid topic, got %d", len(dlw.saved))
	}
	if dlw.saved[0].Category != schema.CategoryTopicError {
		t.Fatalf("expected category %s, got %s", schema.CategoryTopicError, dlw.saved[0].Category)
	}
}

func TestHandleMessageDeadLettersBadPayload(t *testing.T) {
	p, _, dlw, _, _ := newTestPipeline()

	p.HandleMessage(context.Background(), telemetryTopic(), []byte("not json"))

	if len(dlw.saved) != 1 {
		t.Fatalf("expected 1 dead letter for malformed JSON, got %d", len(dlw.saved))
	}
	if dlw.saved[0].Category != schema.CategoryParseError {
		t.Fatalf("expected category %s, got %s", schema.CategoryParseError, dlw.saved[0].Category)
	}
}

func TestHandleMessageDeadLettersUnknownSensor(t *testing.T) {
	p, _, dlw, _, _ := newTestPipeline()
	raw, _ := json.Marshal(map[string]interface{}{"ts": time.Now().Format(time.RFC3339), "v": 1.0})

	p.HandleMessage(context.Background(), "microlink/site1/block1/electrical/unknown-tag", raw)

	if len(dlw.saved) != 1 {
		t.Fatalf("expected 1 dead letter for an unresolvable sensor, got %d", len(dlw.saved))
	}
	if dlw.saved[0].Category != schema.CategorySensorUnknown {
		t.Fatalf("expected category %s, got %s", schema.CategorySensorUnknown, dlw.saved[0].Category)
	}
}

func TestHandleMessagePublishesAlarmSignalWhenFlagged(t *testing.T) {
	p, _, _, alarms, _ := newTestPipeline()
	raw, _ := json.Marshal(map[string]interface{}{"ts": time.Now().Format(time.RFC3339), "v": 99.0, "alarm": "P1"})

	p.HandleMessage(context.Background(), telemetryTopic(), raw)

	if len(alarms.published) != 1 {
		t.Fatalf("expected 1 alarm signal published, got %d", len(alarms.published))
	}
	if alarms.published[0].subject != "mcs.alarms.inbound" {
		t.Fatalf("expected subject mcs.alarms.inbound, got %q", alarms.published[0].subject)
	}
}

func TestHandleMessageAcceptsTelemetryWithoutAlarm(t *testing.T) {
	p, _, _, alarms, _ := newTestPipeline()
	raw, _ := json.Marshal(map[string]interface{}{"ts": time.Now().Format(time.RFC3339), "v": 1.0})

	p.HandleMessage(context.Background(), telemetryTopic(), raw)

	if len(alarms.published) != 0 {
		t.Fatalf("expected no alarm signal for a non-alarm reading, got %d", len(alarms.published))
	}
}

func TestHandleMessageAcceptsExplicitGoodQuality(t *testing.T) {
	p, _, dlw, _, _ := newTestPipeline()
	raw := []byte(`{"ts":"` + time.Now().Format(time.RFC3339) + `","v":1.0,"q":"GOOD"}`)

	p.HandleMessage(context.Background(), telemetryTopic(), raw)

	if len(dlw.saved) != 0 {
		t.Fatalf("expected no dead letters, got %d", len(dlw.saved))
	}
}
