// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bridge implements the edge orchestrator's store-and-forward
// buffer and cloud bridge: every message bound for the cloud is durably
// queued locally first, replayed to the cloud link in throttled batches,
// and abandoned instantly if the link drops mid-replay so fresh
// telemetry is never starved behind a backlog.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/microlinkdc/mcs/internal/util"
	"github.com/microlinkdc/mcs/pkg/log"
)

// maxOldestBatch caps how many rows a single Oldest call will ever
// request, regardless of the caller's replay batch size, so a
// misconfigured ReplayConfig.BatchSize can't turn one replay tick into
// an unbounded table scan.
const maxOldestBatch = 10000

const createBufferTableSQL = `
CREATE TABLE IF NOT EXISTS buffer_records (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	topic      TEXT    NOT NULL,
	payload    BLOB    NOT NULL,
	qos        INTEGER NOT NULL DEFAULT 0,
	retain     BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_buffer_records_created ON buffer_records(created_at);
`

// Record is one durable store-and-forward entry: an MQTT-shaped
// message captured at the edge while the cloud link was unavailable
// (or simply as a durability measure ahead of every cloud publish).
type Record struct {
	ID        int64     `db:"id"`
	Topic     string    `db:"topic"`
	Payload   []byte    `db:"payload"`
	QoS       int       `db:"qos"`
	Retain    bool      `db:"retain"`
	CreatedAt time.Time `db:"created_at"`
}

// Buffer is the sqlite-backed durable ring buffer: capacity-based
// eviction drops the oldest record once Capacity is reached, so the
// buffer degrades by losing history rather than by refusing new
// writes or unbounded disk growth.
type Buffer struct {
	db       *sqlx.DB
	Capacity int64
}

// Open opens (creating if necessary) the buffer database at dsn.
func Open(dsn string, capacity int64) (*Buffer, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=off", dsn))
	if err != nil {
		return nil, fmt.Errorf("bridge: open buffer db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createBufferTableSQL); err != nil {
		return nil, fmt.Errorf("bridge: init buffer schema: %w", err)
	}
	if capacity <= 0 {
		capacity = 100000
	}
	return &Buffer{db: db, Capacity: capacity}, nil
}

func (b *Buffer) Close() error {
	return b.db.Close()
}

// Enqueue durably stores one record and evicts the oldest rows if the
// buffer is now over capacity.
func (b *Buffer) Enqueue(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO buffer_records (topic, payload, qos, retain, created_at) VALUES (?, ?, ?, ?, ?)`,
		topic, payload, qos, retain, time.Now())
	if err != nil {
		return fmt.Errorf("bridge: enqueue record: %w", err)
	}
	return b.evictOverCapacity(ctx)
}

func (b *Buffer) evictOverCapacity(ctx context.Context) error {
	depth, err := b.Depth(ctx)
	if err != nil {
		return err
	}
	if depth <= b.Capacity {
		return nil
	}
	excess := depth - b.Capacity
	_, err = b.db.ExecContext(ctx,
		`DELETE FROM buffer_records WHERE id IN (SELECT id FROM buffer_records ORDER BY created_at ASC, id ASC LIMIT ?)`,
		excess)
	if err != nil {
		return fmt.Errorf("bridge: evict over-capacity records: %w", err)
	}
	log.Warnf("bridge: buffer over capacity, evicted %d oldest records", excess)
	return nil
}

// Depth reports the current record count.
func (b *Buffer) Depth(ctx context.Context) (int64, error) {
	var n int64
	if err := b.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM buffer_records`); err != nil {
		return 0, fmt.Errorf("bridge: count buffer records: %w", err)
	}
	return n, nil
}

// OldestTimestamp returns the creation time of the oldest buffered
// record, or nil if the buffer is empty — surfaced in the heartbeat's
// BufferState.
func (b *Buffer) OldestTimestamp(ctx context.Context) (*time.Time, error) {
	var ts time.Time
	err := b.db.GetContext(ctx, &ts, `SELECT created_at FROM buffer_records ORDER BY created_at ASC LIMIT 1`)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, fmt.Errorf("bridge: oldest buffer record: %w", err)
	}
	return &ts, nil
}

// Oldest returns up to n of the oldest buffered records, ordered for
// replay.
func (b *Buffer) Oldest(ctx context.Context, n int) ([]Record, error) {
	n = util.Min(n, maxOldestBatch)
	var recs []Record
	err := b.db.SelectContext(ctx, &recs,
		`SELECT id, topic, payload, qos, retain, created_at FROM buffer_records ORDER BY created_at ASC, id ASC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("bridge: select oldest records: %w", err)
	}
	return recs, nil
}

// Delete removes the given records once replay has confirmed delivery.
func (b *Buffer) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM buffer_records WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("bridge: build delete query: %w", err)
	}
	query = b.db.Rebind(query)
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("bridge: delete replayed records: %w", err)
	}
	return nil
}

// Flush forces an immediate eviction check, used by the buffer_flush
// command to drop everything beyond Capacity on demand.
func (b *Buffer) Flush(ctx context.Context) error {
	return b.evictOverCapacity(ctx)
}
