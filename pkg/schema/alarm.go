// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

// AlarmState is the ISA-18.2 lifecycle state of an alarm instance.
//
//	CLEARED --raise-->  ACTIVE
//	ACTIVE  --ack-->    ACKED
//	ACTIVE  --clear--> RTN_UNACK
//	ACKED   --clear--> CLEARED
//	RTN_UNACK --ack--> CLEARED
//	(ACTIVE|ACKED|RTN_UNACK) --shelve--> SHELVED
//	SHELVED --unshelve--> CLEARED
//	(ACTIVE|ACKED) --cascade suppress--> SUPPRESSED
//	SUPPRESSED --cascade release--> CLEARED
type AlarmState string

const (
	StateCleared    AlarmState = "CLEARED"
	StateActive     AlarmState = "ACTIVE"
	StateAcked      AlarmState = "ACKED"
	StateRtnUnack   AlarmState = "RTN_UNACK"
	StateShelved    AlarmState = "SHELVED"
	StateSuppressed AlarmState = "SUPPRESSED"
)

// IsStanding reports whether the state requires operator attention.
func (s AlarmState) IsStanding() bool {
	return s == StateActive || s == StateRtnUnack
}

// AlarmInstance is the mutable lifecycle object keyed by SensorID.
// At most one non-CLEARED instance exists per sensor at any time.
type AlarmInstance struct {
	ID       int64         `db:"id"`
	SensorID int64         `db:"sensor_id"`
	Key      SensorKey     `db:"-"`
	Priority AlarmPriority `db:"priority"`
	State    AlarmState    `db:"state"`

	RaisedAt  *time.Time `db:"raised_at"`
	AckedAt   *time.Time `db:"acked_at"`
	AckedBy   string     `db:"acked_by"`
	ClearedAt *time.Time `db:"cleared_at"`

	ShelvedAt    *time.Time `db:"shelved_at"`
	ShelvedBy    string     `db:"shelved_by"`
	ShelvedUntil *time.Time `db:"shelved_until"`
	ShelveReason string     `db:"shelve_reason"`

	SuppressedBy int64 `db:"suppressed_by"` // sensor_id of the cascade cause, 0 if none

	ValueAtRaise    float64 `db:"value_at_raise"`
	ValueAtClear    float64 `db:"value_at_clear"`
	ThresholdValue  float64 `db:"threshold_value"`
	ThresholdDirect string  `db:"threshold_direction"`

	TransitionCount int64      `db:"transition_count"`
	LastValue       float64    `db:"last_value"`
	LastSeen        *time.Time `db:"last_seen"`
}

// ResponseTime returns the ack latency, or nil if not yet acked.
func (a *AlarmInstance) ResponseTime() *time.Duration {
	if a.RaisedAt == nil || a.AckedAt == nil {
		return nil
	}
	d := a.AckedAt.Sub(*a.RaisedAt)
	return &d
}

// ResponseTargetMet reports whether the ack happened within the
// priority's target, or nil if not yet acked.
func (a *AlarmInstance) ResponseTargetMet() *bool {
	rt := a.ResponseTime()
	if rt == nil {
		return nil
	}
	ok := *rt <= a.Priority.ResponseTarget()
	return &ok
}

// CascadeRule is a causal relationship where one alarm suppresses others.
// Patterns are anchored (fullmatch) regular expressions over tags.
type CascadeRule struct {
	CauseTagPattern   string   `db:"cause_tag_pattern" yaml:"cause_tag_pattern"`
	CauseSubsystem    string   `db:"cause_subsystem" yaml:"cause_subsystem"`
	EffectTagPatterns []string `db:"-" yaml:"effect_tag_patterns"`
	EffectSubsystems  []string `db:"-" yaml:"effect_subsystems"`
	Description       string   `db:"description" yaml:"description"`
}

// AuditEvent is an immutable, append-only record of an alarm state
// transition or operator action.
type AuditEvent struct {
	ID        int64     `db:"id"`
	Time      time.Time `db:"created_at"`
	BlockID   string    `db:"block_id"`
	EventType string    `db:"event_type"`
	Payload   []byte    `db:"payload"`
}

// DeadLetterRecord is written for every message the ingestor cannot
// accept.
type DeadLetterRecord struct {
	ID         int64     `db:"id"`
	ReceivedAt time.Time `db:"received_at"`
	Topic      string    `db:"mqtt_topic"`
	Payload    string    `db:"raw_payload"`
	Category   string    `db:"error_category"`
	Message    string    `db:"error_message"`
}

// Dead-letter categories recorded when the ingest pipeline rejects an
// inbound message outright.
const (
	CategoryTopicError    = "TOPIC_ERROR"
	CategoryParseError    = "PARSE_ERROR"
	CategorySensorUnknown = "SENSOR_UNKNOWN"
	CategoryValueError    = "VALUE_ERROR"
	CategoryInternalError = "INTERNAL_ERROR"
)

// BufferRecord is one row in the edge's durable store-and-forward ring
// buffer.
type BufferRecord struct {
	ID        int64     `db:"id"`
	Topic     string    `db:"topic"`
	Payload   []byte    `db:"payload"`
	QoS       int       `db:"qos"`
	Retain    bool      `db:"retain"`
	CreatedAt time.Time `db:"created_at"`
}
