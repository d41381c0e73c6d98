// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"context"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/schema"
)

var (
	sensorRepoOnce     sync.Once
	sensorRepoInstance *SensorRepository
)

// SensorRepository is the sensor registry: protocol addressing, scaling,
// and the alarm threshold JSON blob evaluated by internal/alarm.
type SensorRepository struct {
	DB        *sqlx.DB
	stmtCache *sq.StmtCache
	driver    string
}

// GetSensorRepository returns the process-wide singleton, created on
// first call from the already-established DB connection.
func GetSensorRepository() *SensorRepository {
	sensorRepoOnce.Do(func() {
		db := GetConnection()
		sensorRepoInstance = &SensorRepository{
			DB:        db.DB,
			driver:    db.Driver,
			stmtCache: sq.NewStmtCache(db.DB),
		}
	})
	return sensorRepoInstance
}

// ByKey resolves one sensor by its natural key, the query the
// sensor-key cache falls through to on a miss.
func (r *SensorRepository) ByKey(ctx context.Context, key schema.SensorKey) (*schema.SensorRow, error) {
	var s schema.SensorRow
	err := sqlx.GetContext(ctx, r.DB, &s,
		`SELECT id, site, block, subsystem, tag, protocol, poll_group, data_type, byte_order,
			register_address, snmp_oid, snmp_kind, bacnet_object_kind, bacnet_instance,
			scale, offset, unit, alarm_thresholds_json, enabled
		 FROM sensors WHERE site = ? AND block = ? AND subsystem = ? AND tag = ?`,
		key.Site, key.Block, key.Subsystem, key.Tag)
	if err != nil {
		return nil, fmt.Errorf("repository: sensor lookup %s: %w", key, err)
	}
	return &s, nil
}

// ByID resolves one sensor by primary key.
func (r *SensorRepository) ByID(ctx context.Context, id int64) (*schema.SensorRow, error) {
	var s schema.SensorRow
	err := sqlx.GetContext(ctx, r.DB, &s,
		`SELECT id, site, block, subsystem, tag, protocol, poll_group, data_type, byte_order,
			register_address, snmp_oid, snmp_kind, bacnet_object_kind, bacnet_instance,
			scale, offset, unit, alarm_thresholds_json, enabled
		 FROM sensors WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("repository: sensor lookup id=%d: %w", id, err)
	}
	return &s, nil
}

// ListByPollGroup returns every enabled sensor belonging to a poll
// group, the query an edge adapter runs once at startup to build its
// PointMapping set.
func (r *SensorRepository) ListByPollGroup(ctx context.Context, block string, group schema.PollGroupName) ([]schema.SensorRow, error) {
	var rows []schema.SensorRow
	err := sqlx.SelectContext(ctx, r.DB, &rows,
		`SELECT id, site, block, subsystem, tag, protocol, poll_group, data_type, byte_order,
			register_address, snmp_oid, snmp_kind, bacnet_object_kind, bacnet_instance,
			scale, offset, unit, alarm_thresholds_json, enabled
		 FROM sensors WHERE block = ? AND poll_group = ? AND enabled = 1`, block, string(group))
	if err != nil {
		return nil, fmt.Errorf("repository: list sensors block=%s group=%s: %w", block, group, err)
	}
	return rows, nil
}

// AllEnabled returns every enabled sensor, the query the sensor-key
// cache runs once at startup to warm its in-process tier.
func (r *SensorRepository) AllEnabled(ctx context.Context) ([]schema.SensorRow, error) {
	var rows []schema.SensorRow
	err := sqlx.SelectContext(ctx, r.DB, &rows,
		`SELECT id, site, block, subsystem, tag, protocol, poll_group, data_type, byte_order,
			register_address, snmp_oid, snmp_kind, bacnet_object_kind, bacnet_instance,
			scale, offset, unit, alarm_thresholds_json, enabled
		 FROM sensors WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("repository: list all enabled sensors: %w", err)
	}
	return rows, nil
}

// ThresholdRows returns (sensor_id, tag, alarm_thresholds_json) for
// every sensor with a non-empty threshold blob, the query the alarm
// engine runs at boot and on each refresh tick.
func (r *SensorRepository) ThresholdRows(ctx context.Context) ([]thresholdQueryRow, error) {
	var rows []thresholdQueryRow
	err := sqlx.SelectContext(ctx, r.DB, &rows,
		`SELECT id AS sensor_id, tag, alarm_thresholds_json
		 FROM sensors WHERE enabled = 1 AND alarm_thresholds_json != ''`)
	if err != nil {
		return nil, fmt.Errorf("repository: threshold rows: %w", err)
	}
	return rows, nil
}

type thresholdQueryRow struct {
	SensorID int64  `db:"sensor_id"`
	Tag      string `db:"tag"`
	RawJSON  string `db:"alarm_thresholds_json"`
}

// Upsert inserts or updates a sensor's registry row, keyed by its
// natural (site, block, subsystem, tag).
func (r *SensorRepository) Upsert(ctx context.Context, s *schema.SensorRow) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO sensors (site, block, subsystem, tag, protocol, poll_group, data_type, byte_order,
			register_address, snmp_oid, snmp_kind, bacnet_object_kind, bacnet_instance,
			scale, offset, unit, alarm_thresholds_json, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (site, block, subsystem, tag) DO UPDATE SET
			protocol = excluded.protocol, poll_group = excluded.poll_group,
			data_type = excluded.data_type, byte_order = excluded.byte_order,
			register_address = excluded.register_address, snmp_oid = excluded.snmp_oid,
			snmp_kind = excluded.snmp_kind, bacnet_object_kind = excluded.bacnet_object_kind,
			bacnet_instance = excluded.bacnet_instance, scale = excluded.scale,
			offset = excluded.offset, unit = excluded.unit,
			alarm_thresholds_json = excluded.alarm_thresholds_json, enabled = excluded.enabled`,
		s.Site, s.Block, s.Subsystem, s.Tag, s.Protocol, s.PollGroup, s.DataType, s.ByteOrder,
		s.RegisterAddress, s.SNMPOid, s.SNMPKind, s.BACnetObjectKind, s.BACnetInstance,
		s.Scale, s.Offset, s.Unit, s.AlarmThresholdsJSON, s.Enabled)
	if err != nil {
		log.Warnf("repository: upsert sensor %s: %v", s.Key(), err)
		return fmt.Errorf("repository: upsert sensor %s: %w", s.Key(), err)
	}
	return nil
}
