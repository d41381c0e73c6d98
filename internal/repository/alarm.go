// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/microlinkdc/mcs/internal/alarm"
	"github.com/microlinkdc/mcs/pkg/schema"
)

var (
	alarmRepoOnce     sync.Once
	alarmRepoInstance *AlarmRepository
)

// AlarmRepository is the sqlx-backed implementation of alarm.Store:
// alarm instance rows, audit events, and the threshold/cascade-rule
// queries the engine refreshes on a cadence, written as synchronous
// single-row-at-a-time operations rather than a batch/transaction
// layer.
type AlarmRepository struct {
	DB *sqlx.DB
}

// GetAlarmRepository returns the process-wide singleton.
func GetAlarmRepository() *AlarmRepository {
	alarmRepoOnce.Do(func() {
		alarmRepoInstance = &AlarmRepository{DB: GetConnection().DB}
	})
	return alarmRepoInstance
}

var _ alarm.Store = (*AlarmRepository)(nil)

// SaveAlarm upserts one alarm instance row, keyed by sensor_id.
func (r *AlarmRepository) SaveAlarm(ctx context.Context, a *schema.AlarmInstance) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO alarm_instances (sensor_id, priority, state, raised_at, acked_at, acked_by,
			cleared_at, shelved_at, shelved_by, shelved_until, shelve_reason, suppressed_by,
			value_at_raise, value_at_clear, threshold_value, threshold_direction,
			transition_count, last_value, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (sensor_id) DO UPDATE SET
			priority = excluded.priority, state = excluded.state, raised_at = excluded.raised_at,
			acked_at = excluded.acked_at, acked_by = excluded.acked_by, cleared_at = excluded.cleared_at,
			shelved_at = excluded.shelved_at, shelved_by = excluded.shelved_by,
			shelved_until = excluded.shelved_until, shelve_reason = excluded.shelve_reason,
			suppressed_by = excluded.suppressed_by, value_at_raise = excluded.value_at_raise,
			value_at_clear = excluded.value_at_clear, threshold_value = excluded.threshold_value,
			threshold_direction = excluded.threshold_direction, transition_count = excluded.transition_count,
			last_value = excluded.last_value, last_seen = excluded.last_seen`,
		a.SensorID, a.Priority, a.State, a.RaisedAt, a.AckedAt, a.AckedBy,
		a.ClearedAt, a.ShelvedAt, a.ShelvedBy, a.ShelvedUntil, a.ShelveReason, a.SuppressedBy,
		a.ValueAtRaise, a.ValueAtClear, a.ThresholdValue, a.ThresholdDirect,
		a.TransitionCount, a.LastValue, a.LastSeen)
	if err != nil {
		return fmt.Errorf("repository: save alarm sensor=%d: %w", a.SensorID, err)
	}
	if a.ID == 0 {
		if id, err := res.LastInsertId(); err == nil {
			a.ID = id
		}
	}
	return nil
}

// SaveAudit appends one immutable audit event row.
func (r *AlarmRepository) SaveAudit(ctx context.Context, ev schema.AuditEvent) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO audit_events (created_at, block_id, event_type, payload) VALUES (?, ?, ?, ?)`,
		ev.Time, ev.BlockID, ev.EventType, ev.Payload)
	if err != nil {
		return fmt.Errorf("repository: save audit event block=%s type=%s: %w", ev.BlockID, ev.EventType, err)
	}
	return nil
}

// LoadActiveAlarms returns every non-CLEARED alarm, the engine's
// authoritative boot state. Key is populated by joining
// against sensors since alarm_instances only stores sensor_id.
func (r *AlarmRepository) LoadActiveAlarms(ctx context.Context) ([]schema.AlarmInstance, error) {
	var rows []alarmJoinRow
	err := sqlx.SelectContext(ctx, r.DB, &rows,
		`SELECT a.id, a.sensor_id, a.priority, a.state, a.raised_at, a.acked_at, a.acked_by,
			a.cleared_at, a.shelved_at, a.shelved_by, a.shelved_until, a.shelve_reason,
			a.suppressed_by, a.value_at_raise, a.value_at_clear, a.threshold_value,
			a.threshold_direction, a.transition_count, a.last_value, a.last_seen,
			s.site, s.block, s.subsystem, s.tag
		 FROM alarm_instances a JOIN sensors s ON s.id = a.sensor_id
		 WHERE a.state != 'CLEARED'`)
	if err != nil {
		return nil, fmt.Errorf("repository: load active alarms: %w", err)
	}

	out := make([]schema.AlarmInstance, 0, len(rows))
	for _, row := range rows {
		inst := row.AlarmInstance
		inst.Key = schema.SensorKey{Site: row.Site, Block: row.Block, Subsystem: row.Subsystem, Tag: row.Tag}
		out = append(out, inst)
	}
	return out, nil
}

type alarmJoinRow struct {
	schema.AlarmInstance
	Site      string `db:"site"`
	Block     string `db:"block"`
	Subsystem string `db:"subsystem"`
	Tag       string `db:"tag"`
}

// LoadThresholds returns every sensor's threshold configuration, the
// query the engine runs at boot and on each refresh tick.
func (r *AlarmRepository) LoadThresholds(ctx context.Context) ([]alarm.ThresholdRow, error) {
	rows, err := GetSensorRepository().ThresholdRows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]alarm.ThresholdRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, alarm.ThresholdRow{SensorID: row.SensorID, Tag: row.Tag, RawJSON: []byte(row.RawJSON)})
	}
	return out, nil
}

// LoadCascadeRules returns the site's cascade rule set. If the table
// is empty, it returns alarm.DefaultCascadeRules instead.
func (r *AlarmRepository) LoadCascadeRules(ctx context.Context) ([]schema.CascadeRule, error) {
	var rows []cascadeRuleRow
	err := sqlx.SelectContext(ctx, r.DB, &rows,
		`SELECT cause_tag_pattern, cause_subsystem, effect_tag_patterns, effect_subsystems, description
		 FROM cascade_rules`)
	if err != nil {
		return nil, fmt.Errorf("repository: load cascade rules: %w", err)
	}
	if len(rows) == 0 {
		return alarm.DefaultCascadeRules(), nil
	}

	out := make([]schema.CascadeRule, 0, len(rows))
	for _, row := range rows {
		var effectTags, effectSubs []string
		if err := json.Unmarshal([]byte(row.EffectTagPatterns), &effectTags); err != nil {
			return nil, fmt.Errorf("repository: decode effect_tag_patterns: %w", err)
		}
		if err := json.Unmarshal([]byte(row.EffectSubsystems), &effectSubs); err != nil {
			return nil, fmt.Errorf("repository: decode effect_subsystems: %w", err)
		}
		out = append(out, schema.CascadeRule{
			CauseTagPattern:   row.CauseTagPattern,
			CauseSubsystem:    row.CauseSubsystem,
			EffectTagPatterns: effectTags,
			EffectSubsystems:  effectSubs,
			Description:       row.Description,
		})
	}
	return out, nil
}

type cascadeRuleRow struct {
	CauseTagPattern   string `db:"cause_tag_pattern"`
	CauseSubsystem    string `db:"cause_subsystem"`
	EffectTagPatterns string `db:"effect_tag_patterns"`
	EffectSubsystems  string `db:"effect_subsystems"`
	Description       string `db:"description"`
}

// SaveDeadLetter appends one dead-letter row.
func (r *AlarmRepository) SaveDeadLetter(ctx context.Context, rec schema.DeadLetterRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO dead_letters (received_at, mqtt_topic, raw_payload, error_category, error_message)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ReceivedAt, rec.Topic, rec.Payload, rec.Category, rec.Message)
	if err != nil {
		return fmt.Errorf("repository: save dead letter topic=%s: %w", rec.Topic, err)
	}
	return nil
}
