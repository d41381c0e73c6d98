// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package alarm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/schema"
)

// ThresholdDef is a single HH/H/L/LL band for one sensor, decoded from
// the sensor registry's alarm_thresholds_json column.
type ThresholdDef struct {
	Level     schema.ThresholdLevel
	Value     float64
	Priority  schema.AlarmPriority
	Delay     time.Duration
	Direction string // HIGH or LOW, derived from Level
}

func newThresholdDef(level schema.ThresholdLevel, value float64, priority schema.AlarmPriority, delay time.Duration) ThresholdDef {
	dir := "LOW"
	if level == schema.LevelHH || level == schema.LevelH {
		dir = "HIGH"
	}
	return ThresholdDef{Level: level, Value: value, Priority: priority, Delay: delay, Direction: dir}
}

// rawThresholdJSON mirrors the JSON shape stored in
// sensors.alarm_thresholds_json: {"HH": {"value":60,"priority":"P0","delay_s":0}, ...}.
type rawThresholdJSON struct {
	Value    float64 `json:"value"`
	Priority string  `json:"priority"`
	DelayS   float64 `json:"delay_s"`
}

// SensorThresholds holds every threshold band for one sensor plus the
// debounce bookkeeping needed to evaluate it over time.
type SensorThresholds struct {
	SensorID   int64
	Tag        string
	Thresholds []ThresholdDef

	debounceSince map[schema.ThresholdLevel]time.Time
}

// NewSensorThresholds builds a SensorThresholds from decoded bands.
func NewSensorThresholds(sensorID int64, tag string, thresholds []ThresholdDef) *SensorThresholds {
	return &SensorThresholds{
		SensorID:      sensorID,
		Tag:           tag,
		Thresholds:    thresholds,
		debounceSince: make(map[schema.ThresholdLevel]time.Time),
	}
}

// ParseThresholdJSON decodes a sensor's alarm_thresholds_json column.
func ParseThresholdJSON(sensorID int64, tag string, raw []byte) (*SensorThresholds, error) {
	var m map[string]rawThresholdJSON
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("alarm: invalid threshold json for sensor %d (%s): %w", sensorID, tag, err)
	}

	var defs []ThresholdDef
	for levelStr, cfg := range m {
		level := schema.ThresholdLevel(levelStr)
		switch level {
		case schema.LevelHH, schema.LevelH, schema.LevelL, schema.LevelLL:
		default:
			log.Warnf("alarm: unknown threshold level %q for sensor %d", levelStr, sensorID)
			continue
		}
		pr, err := schema.ParsePriority(cfg.Priority)
		if err != nil {
			pr = schema.PriorityP2
		}
		defs = append(defs, newThresholdDef(level, cfg.Value, pr, time.Duration(cfg.DelayS*float64(time.Second))))
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("alarm: no usable threshold bands for sensor %d (%s)", sensorID, tag)
	}
	return NewSensorThresholds(sensorID, tag, defs), nil
}

// Evaluation is one band's result for a single value.
type Evaluation struct {
	Threshold ThresholdDef
	InAlarm   bool
}

// Evaluate checks value against every band, applying debounce delay on
// the way in. now is passed explicitly so tests can control time.
func (s *SensorThresholds) Evaluate(value float64, now time.Time) []Evaluation {
	results := make([]Evaluation, 0, len(s.Thresholds))

	for _, t := range s.Thresholds {
		inAlarm := checkThreshold(value, t)

		if inAlarm && t.Delay > 0 {
			since, started := s.debounceSince[t.Level]
			if !started {
				s.debounceSince[t.Level] = now
				inAlarm = false
			} else if now.Sub(since) < t.Delay {
				inAlarm = false
			}
		} else if !inAlarm {
			delete(s.debounceSince, t.Level)
		}

		results = append(results, Evaluation{Threshold: t, InAlarm: inAlarm})
	}

	return results
}

// checkThreshold is the raw (no-deadband) raise condition.
func checkThreshold(value float64, t ThresholdDef) bool {
	if t.Direction == "HIGH" {
		return value > t.Value
	}
	return value < t.Value
}

// CheckClearWithDeadband reports whether value has returned far enough
// past the band to clear, applying hysteresis so a value oscillating
// right at the threshold does not chatter.
func CheckClearWithDeadband(value float64, t ThresholdDef, cfg Config) bool {
	frac := cfg.DeadbandFraction
	if t.Direction == "HIGH" {
		return value < t.Value*(1.0-frac)
	}
	return value > t.Value*(1.0+frac)
}

// ThresholdRegistry is the in-memory, periodically-refreshed map of
// sensor_id -> SensorThresholds that the engine evaluates every
// telemetry-derived alarm signal against.
type ThresholdRegistry struct {
	sensors map[int64]*SensorThresholds
}

// NewThresholdRegistry returns an empty registry.
func NewThresholdRegistry() *ThresholdRegistry {
	return &ThresholdRegistry{sensors: make(map[int64]*SensorThresholds)}
}

// ThresholdRow is one row of the sensor threshold query the repository
// layer runs at startup and on each refresh tick.
type ThresholdRow struct {
	SensorID int64
	Tag      string
	RawJSON  []byte
}

// LoadFromRows rebuilds the registry wholesale from query results,
// skipping rows with missing or malformed JSON (logged, not fatal).
func (r *ThresholdRegistry) LoadFromRows(rows []ThresholdRow) int {
	loaded := make(map[int64]*SensorThresholds, len(rows))
	count := 0
	for _, row := range rows {
		if len(row.RawJSON) == 0 {
			continue
		}
		st, err := ParseThresholdJSON(row.SensorID, row.Tag, row.RawJSON)
		if err != nil {
			log.Warnf("%s", err.Error())
			continue
		}
		loaded[row.SensorID] = st
		count++
	}
	r.sensors = loaded
	log.Infof("alarm: threshold registry loaded %d sensors with thresholds", count)
	return count
}

// Get returns the thresholds for a sensor, or nil if it has none.
func (r *ThresholdRegistry) Get(sensorID int64) *SensorThresholds {
	return r.sensors[sensorID]
}

// Count returns the number of sensors currently carrying thresholds.
func (r *ThresholdRegistry) Count() int {
	return len(r.sensors)
}
