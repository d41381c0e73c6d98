// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest implements the cloud ingestion path: one logical
// process per site that parses topics and payloads,
// resolves sensor keys, batches telemetry rows into storage, and
// forwards alarm-flagged readings to the alarm engine's inbound
// channel. Anything that cannot be accepted is dead-lettered, never
// silently dropped.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/microlinkdc/mcs/internal/util"
	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/schema"
)

// recentFlushWindow bounds how many past flush sizes AverageFlushSize
// considers, so the average tracks recent load rather than the whole
// process lifetime.
const recentFlushWindow = 20

var (
	flushLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "mcs_ingest_batch_flush_seconds",
		Help: "Time taken to flush a telemetry batch to storage.",
	})
	flushRows = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "mcs_ingest_batch_flush_rows",
		Help: "Number of rows written per batch flush.",
	})
	flushErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcs_ingest_batch_flush_errors_total",
		Help: "Failed batch flushes, rows returned to the buffer.",
	})
	overflowDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcs_ingest_batch_overflow_dropped_total",
		Help: "Telemetry rows dropped because the batch exceeded its high-water mark.",
	})
)

func init() {
	prometheus.MustRegister(flushLatency, flushRows, flushErrors, overflowDropped)
}

// TelemetryRow is one (ts, id, v, quality) record destined for the
// time-series sink.
type TelemetryRow struct {
	Time     time.Time
	SensorID int64
	Value    float64
	Quality  schema.Quality
}

// TelemetryStore performs the bulk insert a flush issues.
type TelemetryStore interface {
	InsertBatch(ctx context.Context, rows []TelemetryRow) error
}

// BatchWriter accumulates telemetry rows under a short critical
// section and flushes them as a single bulk insert on size or age
// threshold, whichever comes first.
type BatchWriter struct {
	mu   sync.Mutex
	rows []TelemetryRow

	sizeThreshold int
	ageThreshold  time.Duration
	highWaterMark int
	lastFlush     time.Time

	store           TelemetryStore
	clock           func() time.Time
	recentFlushSize []float64
}

// NewBatchWriter constructs a BatchWriter. Defaults (500 rows, 5s age,
// 10000 high-water mark) apply when a zero value is passed.
func NewBatchWriter(store TelemetryStore, sizeThreshold int, ageThreshold time.Duration, highWaterMark int) *BatchWriter {
	if sizeThreshold <= 0 {
		sizeThreshold = 500
	}
	if ageThreshold <= 0 {
		ageThreshold = 5 * time.Second
	}
	if highWaterMark <= 0 {
		highWaterMark = 10000
	}
	return &BatchWriter{
		sizeThreshold: sizeThreshold,
		ageThreshold:  ageThreshold,
		highWaterMark: highWaterMark,
		store:         store,
		clock:         time.Now,
		lastFlush:     time.Now(),
	}
}

// Append adds a row to the batch, dropping it (and counting the drop)
// if the buffer is already at its high-water mark. Returns true if the
// caller should trigger an immediate flush (size/age threshold crossed).
func (w *BatchWriter) Append(row TelemetryRow) (shouldFlush bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.rows) >= w.highWaterMark {
		overflowDropped.Inc()
		log.Warnf("ingest: batch at high-water mark (%d), dropping row for sensor %d", w.highWaterMark, row.SensorID)
		return false
	}

	w.rows = append(w.rows, row)
	return len(w.rows) >= w.sizeThreshold || w.clock().Sub(w.lastFlush) >= w.ageThreshold
}

// Flush detaches the current batch (cheap slice swap) and writes it.
// On failure the rows are returned to the front of the buffer, and if
// that push exceeds the high-water mark the oldest overflow is dropped.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	snapshot := w.rows
	w.rows = nil
	w.lastFlush = w.clock()
	w.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	start := time.Now()
	err := w.store.InsertBatch(ctx, snapshot)
	flushLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		flushErrors.Inc()
		log.Errorf("ingest: batch flush of %d rows failed: %v", len(snapshot), err)

		w.mu.Lock()
		merged := append(snapshot, w.rows...)
		if len(merged) > w.highWaterMark {
			dropped := len(merged) - w.highWaterMark
			overflowDropped.Add(float64(dropped))
			merged = merged[dropped:]
			log.Warnf("ingest: dropped %d oldest rows returning failed flush to an over-capacity buffer", dropped)
		}
		w.rows = merged
		w.mu.Unlock()
		return err
	}

	flushRows.Observe(float64(len(snapshot)))

	w.mu.Lock()
	w.recentFlushSize = append(w.recentFlushSize, float64(len(snapshot)))
	if len(w.recentFlushSize) > recentFlushWindow {
		w.recentFlushSize = w.recentFlushSize[len(w.recentFlushSize)-recentFlushWindow:]
	}
	w.mu.Unlock()

	return nil
}

// Len reports the current buffered row count, for diagnostics.
func (w *BatchWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

// AverageFlushSize reports the mean row count of the last
// recentFlushWindow successful flushes. Returns 0 before the first
// flush.
func (w *BatchWriter) AverageFlushSize() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.recentFlushSize) == 0 {
		return 0
	}
	mean, err := util.Mean(w.recentFlushSize)
	if err != nil {
		return 0
	}
	return mean
}
