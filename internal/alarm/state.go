// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package alarm implements the ISA-18.2 alarm lifecycle engine: per-sensor
// state machine, deadband/debounce threshold evaluation, cascade
// suppression, shelving, stale detection, flood handling, and the
// audit-event persistence that makes every transition replayable.
//
// The state machine is expressed as a sum type: Instance.State is one
// of a small closed set of values, and every operation is a total
// function (instance, event) -> Outcome; the engine writes the audit
// event for every OK outcome.
package alarm

import (
	"time"

	"github.com/microlinkdc/mcs/pkg/schema"
)

// Outcome reports what a state-machine operation actually did.
type Outcome string

const (
	OutcomeOK       Outcome = "OK"
	OutcomeNoChange Outcome = "NO_CHANGE"
	OutcomeInvalid  Outcome = "INVALID"
)

// Instance wraps schema.AlarmInstance with the lifecycle transition
// methods. Engine code always mutates alarms through these methods so
// that every transition is total and auditable.
type Instance struct {
	schema.AlarmInstance
}

// NewInstance creates a fresh CLEARED instance for a sensor.
func NewInstance(sensorID int64, key schema.SensorKey, priority schema.AlarmPriority) *Instance {
	return &Instance{
		AlarmInstance: schema.AlarmInstance{
			SensorID: sensorID,
			Key:      key,
			Priority: priority,
			State:    schema.StateCleared,
		},
	}
}

// Raise transitions CLEARED|RTN_UNACK -> ACTIVE. Any other state is a
// NO_CHANGE (value update only): ACTIVE/ACKED/SHELVED/SUPPRESSED never
// re-raise.
func (i *Instance) Raise(value float64, ts time.Time, threshold float64, direction string) Outcome {
	switch i.State {
	case schema.StateActive, schema.StateAcked, schema.StateShelved, schema.StateSuppressed:
		i.LastValue = value
		i.LastSeen = &ts
		return OutcomeNoChange
	}

	i.State = schema.StateActive
	i.ValueAtRaise = value
	t := ts
	i.RaisedAt = &t
	i.ClearedAt = nil
	i.AckedAt = nil
	i.AckedBy = ""
	i.ThresholdValue = threshold
	i.ThresholdDirect = direction
	i.LastValue = value
	i.LastSeen = &t
	i.TransitionCount++
	return OutcomeOK
}

// Acknowledge handles an operator ack. ACTIVE -> ACKED; RTN_UNACK ->
// CLEARED (ack of an already-returned condition clears it outright).
func (i *Instance) Acknowledge(operator string, ts time.Time) Outcome {
	switch i.State {
	case schema.StateActive:
		i.State = schema.StateAcked
		t := ts
		i.AckedAt = &t
		i.AckedBy = operator
		i.TransitionCount++
		return OutcomeOK
	case schema.StateRtnUnack:
		i.State = schema.StateCleared
		t := ts
		i.AckedAt = &t
		i.AckedBy = operator
		i.TransitionCount++
		return OutcomeOK
	default:
		return OutcomeNoChange
	}
}

// ClearCondition handles the value returning to normal (post-deadband,
// decided by the caller). ACKED -> CLEARED; ACTIVE -> RTN_UNACK.
func (i *Instance) ClearCondition(value float64, ts time.Time) Outcome {
	i.LastValue = value
	t := ts
	i.LastSeen = &t

	switch i.State {
	case schema.StateAcked:
		i.State = schema.StateCleared
		i.ValueAtClear = value
		i.ClearedAt = &t
		i.TransitionCount++
		return OutcomeOK
	case schema.StateActive:
		i.State = schema.StateRtnUnack
		i.ValueAtClear = value
		i.ClearedAt = &t
		i.TransitionCount++
		return OutcomeOK
	default:
		return OutcomeNoChange
	}
}

// UpdateValue records a new reading without a state transition — the
// SHELVED/SUPPRESSED "update value only" rows of the lifecycle table.
func (i *Instance) UpdateValue(value float64, ts time.Time) {
	i.LastValue = value
	t := ts
	i.LastSeen = &t
}

// Shelve transitions ACTIVE|ACKED|RTN_UNACK|SUPPRESSED to SHELVED;
// CLEARED is invalid and SHELVED is a no-op. config governs the reason
// requirement and the duration clamp.
func (i *Instance) Shelve(operator, reason string, durationHours float64, ts time.Time, cfg Config) Outcome {
	if i.State == schema.StateCleared {
		return OutcomeInvalid
	}
	if i.State == schema.StateShelved {
		return OutcomeNoChange
	}
	if cfg.ShelveRequiresReason && reason == "" {
		return OutcomeInvalid
	}

	capped := durationHours
	if capped > cfg.MaxShelveDurationHours {
		capped = cfg.MaxShelveDurationHours
	}

	t := ts
	until := ts.Add(time.Duration(capped * float64(time.Hour)))
	i.State = schema.StateShelved
	i.ShelvedAt = &t
	i.ShelvedBy = operator
	i.ShelvedUntil = &until
	i.ShelveReason = reason
	i.TransitionCount++
	return OutcomeOK
}

// Unshelve transitions SHELVED -> CLEARED, whether triggered by the
// expiry monitor or a manual operator action. The engine re-evaluates
// on the next matching signal; it does not re-raise here.
func (i *Instance) Unshelve(ts time.Time) Outcome {
	if i.State != schema.StateShelved {
		return OutcomeNoChange
	}
	i.State = schema.StateCleared
	i.ShelvedAt = nil
	i.ShelvedBy = ""
	i.ShelvedUntil = nil
	i.ShelveReason = ""
	i.TransitionCount++
	return OutcomeOK
}

// Suppress transitions ACTIVE|ACKED to SUPPRESSED due to a cascade
// cause. Every other state is a no-op.
func (i *Instance) Suppress(causeSensorID int64) Outcome {
	if i.State != schema.StateActive && i.State != schema.StateAcked {
		return OutcomeNoChange
	}
	i.State = schema.StateSuppressed
	i.SuppressedBy = causeSensorID
	i.TransitionCount++
	return OutcomeOK
}

// Unsuppress releases a cascade suppression back to CLEARED so the
// engine can re-evaluate it on the next signal.
func (i *Instance) Unsuppress() Outcome {
	if i.State != schema.StateSuppressed {
		return OutcomeNoChange
	}
	i.State = schema.StateCleared
	i.SuppressedBy = 0
	i.TransitionCount++
	return OutcomeOK
}

// ForceClear is used by the stale-detection sweep: any
// ACTIVE|ACKED instance whose last_seen exceeds the timeout is cleared
// unconditionally, bypassing deadband (the sensor has gone silent, not
// returned to normal).
func (i *Instance) ForceClear(ts time.Time) Outcome {
	if i.State != schema.StateActive && i.State != schema.StateAcked {
		return OutcomeNoChange
	}
	t := ts
	i.State = schema.StateCleared
	i.ClearedAt = &t
	i.TransitionCount++
	return OutcomeOK
}
