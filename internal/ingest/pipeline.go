// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/mlmqtt"
	"github.com/microlinkdc/mcs/pkg/schema"
)

var invalidAlarmPriority = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "mcs_ingest_invalid_alarm_priority_total",
	Help: "Messages whose alarm field failed to parse as a priority; telemetry was still accepted.",
})

func init() {
	prometheus.MustRegister(invalidAlarmPriority)
}

// SensorResolver is the sensor-key cache boundary,
// implemented by internal/sensorcache.Cache.
type SensorResolver interface {
	Resolve(ctx context.Context, key schema.SensorKey) (*schema.SensorRow, error)
}

// DeadLetterWriter persists a message the pipeline could not accept.
type DeadLetterWriter interface {
	SaveDeadLetter(ctx context.Context, rec schema.DeadLetterRecord) error
}

// AlarmSignalPublisher forwards an alarm-flagged reading to the engine's
// inbound channel.
type AlarmSignalPublisher interface {
	Publish(subject string, payload []byte) error
}

// Pipeline runs the five ordered steps for one incoming MQTT message:
// topic parse, payload decode, sensor resolution, batch enqueue, and
// alarm-signal forwarding.
type Pipeline struct {
	resolver   SensorResolver
	deadLetter DeadLetterWriter
	batch      *BatchWriter
	alarms     AlarmSignalPublisher
	clock      func() time.Time
}

// NewPipeline wires a Pipeline from its collaborators.
func NewPipeline(resolver SensorResolver, deadLetter DeadLetterWriter, batch *BatchWriter, alarms AlarmSignalPublisher) *Pipeline {
	return &Pipeline{resolver: resolver, deadLetter: deadLetter, batch: batch, alarms: alarms, clock: time.Now}
}

// HandleMessage runs the full ingest pipeline for one (topic, payload)
// pair received from the cloud broker.
func (p *Pipeline) HandleMessage(ctx context.Context, topic string, raw []byte) {
	// Step 1: topic parse.
	pt, err := mlmqtt.ParseTelemetryTopic(topic)
	if err != nil {
		p.deadLetterRaw(ctx, topic, raw, schema.CategoryTopicError, err.Error())
		return
	}

	// Step 2: payload parse.
	payload, err := mlmqtt.DecodeTelemetryPayload(raw)
	if err != nil {
		p.deadLetterRaw(ctx, topic, raw, schema.CategoryParseError, err.Error())
		return
	}

	// Step 3: sensor resolution.
	key := schema.SensorKey{Site: pt.Site, Block: pt.Block, Subsystem: pt.Subsystem, Tag: pt.Tag}
	sensor, err := p.resolver.Resolve(ctx, key)
	if err != nil {
		p.deadLetterRaw(ctx, topic, raw, schema.CategorySensorUnknown, fmt.Sprintf("sensor %s: %v", key, err))
		return
	}

	// Step 4: enqueue telemetry row.
	quality, err := schema.ParseQuality(payload.Qual)
	if err != nil {
		quality = schema.QualityGood
	}
	row := TelemetryRow{Time: payload.Time, SensorID: sensor.ID, Value: payload.Value, Quality: quality}
	if shouldFlush := p.batch.Append(row); shouldFlush {
		if err := p.batch.Flush(ctx); err != nil {
			log.Errorf("ingest: flush triggered by topic %s failed: %v", topic, err)
		}
	}

	// Step 5: alarm signal publish.
	if payload.Alarm == nil {
		return
	}
	priority, err := schema.ParsePriority(*payload.Alarm)
	if err != nil {
		invalidAlarmPriority.Inc()
		log.Warnf("ingest: invalid alarm priority %q on topic %s, telemetry accepted anyway", *payload.Alarm, topic)
		return
	}
	p.publishAlarmSignal(sensor, key, priority, payload)
}

func (p *Pipeline) publishAlarmSignal(sensor *schema.SensorRow, key schema.SensorKey, priority schema.AlarmPriority, payload mlmqtt.TelemetryPayload) {
	sig := mlmqtt.InboundAlarmSignal{
		SensorID:  sensor.ID,
		Priority:  priority.String(),
		Value:     payload.Value,
		Timestamp: payload.Time,
		SiteID:    key.Site,
		BlockID:   key.Block,
		Subsystem: key.Subsystem,
		Tag:       key.Tag,
	}
	body, err := json.Marshal(sig)
	if err != nil {
		log.Errorf("ingest: marshal alarm signal for sensor %d: %v", sensor.ID, err)
		return
	}
	if err := p.alarms.Publish("mcs.alarms.inbound", body); err != nil {
		log.Warnf("ingest: publish alarm signal for sensor %d: %v", sensor.ID, err)
	}
}

func (p *Pipeline) deadLetterRaw(ctx context.Context, topic string, raw []byte, category, message string) {
	rec := schema.DeadLetterRecord{
		ReceivedAt: p.clock(),
		Topic:      topic,
		Payload:    string(raw),
		Category:   category,
		Message:    message,
	}
	if err := p.deadLetter.SaveDeadLetter(ctx, rec); err != nil {
		log.Errorf("ingest: failed to persist dead letter for topic %s: %v", topic, err)
	}
}
