// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTelemetryStore struct {
	inserted [][]TelemetryRow
	failNext bool
}

func (f *fakeTelemetryStore) InsertBatch(ctx context.Context, rows []TelemetryRow) error {
	if f.failNext {
		f.failNext = false
		return errors.New("insert failed")
	}
	f.inserted = append(f.inserted, rows)
	return nil
}

func TestAppendTriggersFlushAtSizeThreshold(t *testing.T) {
	store := &fakeTelemetryStore{}
	w := NewBatchWriter(store, 2, time.Hour, 100)

	if shouldFlush := w.Append(TelemetryRow{SensorID: 1}); shouldFlush {
		t.Fatal("expected no flush trigger after the first row")
	}
	if shouldFlush := w.Append(TelemetryRow{SensorID: 2}); !shouldFlush {
		t.Fatal("expected a flush trigger once the size threshold is reached")
	}
}

func TestAppendDropsRowsAtHighWaterMark(t *testing.T) {
	store := &fakeTelemetryStore{}
	w := NewBatchWriter(store, 500, time.Hour, 1)

	w.Append(TelemetryRow{SensorID: 1})
	w.Append(TelemetryRow{SensorID: 2})

	if w.Len() != 1 {
		t.Fatalf("expected the second row to be dropped at the high-water mark, len=%d", w.Len())
	}
}

func TestFlushWritesAndClearsBatch(t *testing.T) {
	store := &fakeTelemetryStore{}
	w := NewBatchWriter(store, 500, time.Hour, 100)
	w.Append(TelemetryRow{SensorID: 1})
	w.Append(TelemetryRow{SensorID: 2})

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if w.Len() != 0 {
		t.Fatalf("expected the batch to be empty after a successful flush, len=%d", w.Len())
	}
	if len(store.inserted) != 1 || len(store.inserted[0]) != 2 {
		t.Fatalf("expected 1 insert of 2 rows, got %+v", store.inserted)
	}
}

func TestFlushEmptyBatchIsNoop(t *testing.T) {
	store := &fakeTelemetryStore{}
	w := NewBatchWriter(store, 500, time.Hour, 100)

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(store.inserted) != 0 {
		t.Fatal("expected no insert call for an empty batch")
	}
}

func TestFlushFailureReturnsRowsToBuffer(t *testing.T) {
	store := &fakeTelemetryStore{failNext: true}
	w := NewBatchWriter(store, 500, time.Hour, 100)
	w.Append(TelemetryRow{SensorID: 1})

	if err := w.Flush(context.Background()); err == nil {
		t.Fatal("expected Flush to propagate the store error")
	}
	if w.Len() != 1 {
		t.Fatalf("expected the failed row to return to the buffer, len=%d", w.Len())
	}
}

func TestFlushFailureRetainsRowsUpToHighWaterMark(t *testing.T) {
	store := &fakeTelemetryStore{failNext: true}
	w := NewBatchWriter(store, 500, time.Hour, 2)
	w.Append(TelemetryRow{SensorID: 1})
	w.Append(TelemetryRow{SensorID: 2})

	if err := w.Flush(context.Background()); err == nil {
		t.Fatal("expected Flush to propagate the store error")
	}
	if w.Len() != 2 {
		t.Fatalf("expected at most the high-water mark rows retained, len=%d", w.Len())
	}
}

func TestAverageFlushSizeZeroBeforeFirstFlush(t *testing.T) {
	store := &fakeTelemetryStore{}
	w := NewBatchWriter(store, 500, time.Hour, 100)
	if avg := w.AverageFlushSize(); avg != 0 {
		t.Fatalf("expected 0 average before any flush, got %v", avg)
	}
}

func TestAverageFlushSizeAfterFlushes(t *testing.T) {
	store := &fakeTelemetryStore{}
	w := NewBatchWriter(store, 1, time.Hour, 100)

	w.Append(TelemetryRow{SensorID: 1})
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	w.Append(TelemetryRow{SensorID: 2})
	w.Append(TelemetryRow{SensorID: 3})
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if avg := w.AverageFlushSize(); avg != 1.5 {
		t.Fatalf("expected average flush size 1.5, got %v", avg)
	}
}
