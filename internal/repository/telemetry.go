// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/microlinkdc/mcs/internal/ingest"
)

var (
	telemetryRepoOnce     sync.Once
	telemetryRepoInstance *TelemetryRepository
)

// TelemetryRepository is the bulk-insert sink the ingestor's batch
// writer flushes into: a single append-only row shape written with one
// multi-value INSERT per flush.
type TelemetryRepository struct {
	DB *sqlx.DB
}

// GetTelemetryRepository returns the process-wide singleton.
func GetTelemetryRepository() *TelemetryRepository {
	telemetryRepoOnce.Do(func() {
		telemetryRepoInstance = &TelemetryRepository{DB: GetConnection().DB}
	})
	return telemetryRepoInstance
}

var _ ingest.TelemetryStore = (*TelemetryRepository)(nil)

// InsertBatch writes every row in a single multi-value INSERT.
func (r *TelemetryRepository) InsertBatch(ctx context.Context, rows []ingest.TelemetryRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO telemetry (ts, sensor_id, value, quality) VALUES ")
	args := make([]interface{}, 0, len(rows)*4)
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?)")
		args = append(args, row.Time, row.SensorID, row.Value, row.Quality.String())
	}

	if _, err := r.DB.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("repository: insert telemetry batch of %d rows: %w", len(rows), err)
	}
	return nil
}
