// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"fmt"
	"math"
	"time"
)

// Quality is the confidence tag attached to every Measurement.
type Quality int

const (
	QualityGood Quality = iota
	QualityUncertain
	QualityBad
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "GOOD"
	case QualityUncertain:
		return "UNCERTAIN"
	case QualityBad:
		return "BAD"
	default:
		return "UNKNOWN"
	}
}

// ParseQuality maps the wire string form to a Quality. Unknown or empty
// strings default to GOOD.
func ParseQuality(s string) (Quality, error) {
	switch s {
	case "", "GOOD":
		return QualityGood, nil
	case "UNCERTAIN":
		return QualityUncertain, nil
	case "BAD":
		return QualityBad, nil
	default:
		return QualityGood, fmt.Errorf("schema: unknown quality %q", s)
	}
}

// SensorKey is the externally visible 4-tuple identifying a sensor.
type SensorKey struct {
	Site      string
	Block     string
	Subsystem string
	Tag       string
}

func (k SensorKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Site, k.Block, k.Subsystem, k.Tag)
}

// Measurement is the canonical (time, sensor_key, value, quality) tuple.
// SensorID is the dense internal id resolved via the sensor-key cache;
// it is zero until resolution has happened.
type Measurement struct {
	Time     time.Time
	SensorID int64
	Key      SensorKey
	Value    float64
	Quality  Quality
}

// Valid reports whether Value is a number storage can accept. NaN and
// infinities are never valid
func (m Measurement) Valid() bool {
	return !math.IsNaN(m.Value) && !math.IsInf(m.Value, 0)
}

// AlarmPriority is the ISA-18.2 priority band carried by an alarm signal
// or instance.
type AlarmPriority int

const (
	PriorityP0 AlarmPriority = iota // CRITICAL
	PriorityP1                      // HIGH
	PriorityP2                      // MEDIUM
	PriorityP3                      // LOW
)

func (p AlarmPriority) String() string {
	switch p {
	case PriorityP0:
		return "P0"
	case PriorityP1:
		return "P1"
	case PriorityP2:
		return "P2"
	case PriorityP3:
		return "P3"
	default:
		return "UNKNOWN"
	}
}

// ParsePriority parses the wire form "P0".."P3".
func ParsePriority(s string) (AlarmPriority, error) {
	switch s {
	case "P0":
		return PriorityP0, nil
	case "P1":
		return PriorityP1, nil
	case "P2":
		return PriorityP2, nil
	case "P3":
		return PriorityP3, nil
	default:
		return 0, fmt.Errorf("schema: unknown alarm priority %q", s)
	}
}

// ResponseTarget is the ISA-18.2 operator response time target per
// priority, used only for derived, read-only SLA-adjacent reporting,
// not for billing or contractual SLA calculation.
func (p AlarmPriority) ResponseTarget() time.Duration {
	switch p {
	case PriorityP0:
		return 30 * time.Second
	case PriorityP1:
		return 15 * time.Minute
	case PriorityP2:
		return 4 * time.Hour
	case PriorityP3:
		return 8 * time.Hour
	default:
		return 0
	}
}

// AlarmSignal is the optional rider on a measurement observing that it
// crossed a configured band. It is an observation, not an alarm.
type AlarmSignal struct {
	SensorID int64
	Key      SensorKey
	Priority AlarmPriority
	Value    float64
	Time     time.Time
}
