// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package mlmqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// TelemetryPayload is the JSON body published on a telemetry topic.
type TelemetryPayload struct {
	Time  time.Time `json:"ts"`
	Value float64   `json:"v"`
	Unit  string    `json:"u,omitempty"`
	Qual  string    `json:"q,omitempty"` // GOOD|UNCERTAIN|BAD, default GOOD
	Alarm *string   `json:"alarm,omitempty"`
	Seq   uint64    `json:"seq,omitempty"`
}

// Validate enforces the telemetry payload's required-field and
// finiteness rules.
func (p TelemetryPayload) Validate() error {
	if p.Time.IsZero() {
		return fmt.Errorf("mlmqtt: missing or zero ts")
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return fmt.Errorf("mlmqtt: non-finite value %v", p.Value)
	}
	switch p.Qual {
	case "", "GOOD", "UNCERTAIN", "BAD":
	default:
		return fmt.Errorf("mlmqtt: invalid quality %q", p.Qual)
	}
	if p.Alarm != nil {
		switch *p.Alarm {
		case "P0", "P1", "P2", "P3":
		default:
			return fmt.Errorf("mlmqtt: invalid alarm priority %q", *p.Alarm)
		}
	}
	return nil
}

// DecodeTelemetryPayload parses and validates a raw telemetry payload.
func DecodeTelemetryPayload(raw []byte) (TelemetryPayload, error) {
	var p TelemetryPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("mlmqtt: decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// AlarmEventAction is the lifecycle transition an alarm-edge event
// reports.
type AlarmEventAction string

const (
	ActionRaised    AlarmEventAction = "RAISED"
	ActionEscalated AlarmEventAction = "ESCALATED"
	ActionCleared   AlarmEventAction = "CLEARED"
)

// AlarmEventPayload is the JSON body published on an alarm topic.
type AlarmEventPayload struct {
	Time        time.Time        `json:"ts"`
	AlarmID     int64            `json:"alarm_id"`
	Action      AlarmEventAction `json:"action"`
	Priority    string           `json:"priority"`
	SensorTag   string           `json:"sensor_tag"`
	Subsystem   string           `json:"subsystem"`
	Value       float64          `json:"value"`
	Threshold   float64          `json:"threshold"`
	Direction   string           `json:"direction"` // HIGH|LOW|BOOL
	Description string           `json:"description,omitempty"`
}

// HeartbeatPayload is the periodic edge heartbeat published to
// edge/heartbeat, retained.
type HeartbeatPayload struct {
	EdgeID   string                  `json:"edge_id"`
	UptimeS  float64                 `json:"uptime_s"`
	Adapters map[string]AdapterState `json:"adapters"`
	Buffer   BufferState             `json:"buffer"`
	System   SystemState             `json:"system"`
}

// AdapterState summarizes one adapter process in the heartbeat.
type AdapterState struct {
	Status   string `json:"status"`
	PID      int    `json:"pid"`
	Restarts int    `json:"restarts"`
}

// BufferState summarizes the store-and-forward buffer in the heartbeat.
type BufferState struct {
	Depth          int64      `json:"depth"`
	Capacity       int64      `json:"capacity"`
	OldestTS       *time.Time `json:"oldest_ts,omitempty"`
	CloudConnected bool       `json:"cloud_connected"`
	ReplayActive   bool       `json:"replay_active"`
}

// SystemState summarizes host vitals in the heartbeat.
type SystemState struct {
	CPUPercent  float64 `json:"cpu_pct"`
	MemPercent  float64 `json:"mem_pct"`
	DiskPercent float64 `json:"disk_pct"`
	TempC       float64 `json:"temp_c"`
}

// CommandEnvelope is the body of a command/{kind} message.
type CommandEnvelope struct {
	Cmd       string          `json:"cmd"`
	RequestID string          `json:"request_id"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// CommandResponseStatus is one of the three outcomes a command response
// reports.
type CommandResponseStatus string

const (
	StatusAccepted CommandResponseStatus = "accepted"
	StatusRejected CommandResponseStatus = "rejected"
	StatusError    CommandResponseStatus = "error"
)

// CommandResponse is the body posted to command/response.
type CommandResponse struct {
	RequestID string                 `json:"request_id"`
	Status    CommandResponseStatus  `json:"status"`
	Reason    string                 `json:"reason,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
}

// InboundAlarmSignal is the JSON payload the ingestor publishes to the
// inbound alarm subject (mcs.alarms.inbound).
type InboundAlarmSignal struct {
	SensorID  int64     `json:"sensor_id"`
	Priority  string    `json:"priority"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	SiteID    string    `json:"site_id"`
	BlockID   string    `json:"block_id"`
	Subsystem string    `json:"subsystem"`
	Tag       string    `json:"tag"`
}

// OutboundAlarmEvent is the JSON payload shape for the outbound alarm
// channel (mcs.alarms.{block}).
type OutboundAlarmEvent struct {
	Event     string          `json:"event"`
	Alarm     json.RawMessage `json:"alarm"`
	Timestamp time.Time       `json:"timestamp"`
}
