// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/mlmqtt"
)

// CloudLink is the transport the bridge replays buffered records onto.
// Satisfied by internal/fanout.Bus.
type CloudLink interface {
	Publish(subject string, payload []byte) error
	Connected() bool
}

// ReplayConfig tunes the throttled-replay loop: default batch size 500
// with an inter-batch pause so a reconnect after a long outage does
// not saturate the cloud link.
type ReplayConfig struct {
	BatchSize int
	Pause     time.Duration
	PollEvery time.Duration
}

// DefaultReplayConfig returns the documented defaults: 500-record
// batches with a 2s inter-batch pause and a 10s poll interval.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{BatchSize: 500, Pause: 2 * time.Second, PollEvery: 10 * time.Second}
}

// Orchestrator owns the buffer and the cloud link's replay loop: every
// outbound message is enqueued durably first (Enqueue), and a
// background loop drains the buffer to the cloud whenever the link is
// up, abandoning a replay batch instantly if the link drops mid-run so
// fresh traffic is never starved behind a backlog.
type Orchestrator struct {
	buf       *Buffer
	link      CloudLink
	cfg       ReplayConfig
	replaying atomic.Bool
}

// NewOrchestrator builds a bridge over an already-open Buffer and
// CloudLink.
func NewOrchestrator(buf *Buffer, link CloudLink, cfg ReplayConfig) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Pause <= 0 {
		cfg.Pause = 2 * time.Second
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 10 * time.Second
	}
	return &Orchestrator{buf: buf, link: link, cfg: cfg}
}

// Forward is the single entry point every outbound message passes
// through: it durably enqueues the record, then opportunistically
// attempts an immediate publish if the cloud link happens to already
// be idle and caught up, so the common case (link up, buffer empty)
// does not pay an extra database round-trip before the data goes out.
// The opportunistic replay shares the same replaying flag as drain
// (via CompareAndSwap) so the two never run replayBatch concurrently,
// which would otherwise let both fetch the same oldest rows before
// either deletes them and double-publish a record.
func (o *Orchestrator) Forward(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	if err := o.buf.Enqueue(ctx, topic, payload, qos, retain); err != nil {
		return err
	}
	if o.link.Connected() && o.replaying.CompareAndSwap(false, true) {
		defer o.replaying.Store(false)
		depth, err := o.buf.Depth(ctx)
		if err == nil && depth <= int64(o.cfg.BatchSize) {
			o.replayBatch(ctx)
		}
	}
	return nil
}

// Run drives the replay loop until ctx is canceled: whenever the link
// is up and the buffer is non-empty, it replays in throttled batches;
// if the link drops mid-replay the current batch is abandoned (its
// remaining records stay in the buffer for the next attempt) rather
// than blocked on, per the abandon-instantly rule.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.link.Connected() {
				continue
			}
			o.drain(ctx)
		}
	}
}

// drain replays the whole backlog in cfg.BatchSize chunks, pausing
// between chunks, stopping early the moment the link drops or the
// buffer is empty. If Forward's opportunistic replay already holds
// the replaying flag, drain skips this tick rather than blocking.
func (o *Orchestrator) drain(ctx context.Context) {
	if !o.replaying.CompareAndSwap(false, true) {
		return
	}
	defer o.replaying.Store(false)

	for {
		if ctx.Err() != nil || !o.link.Connected() {
			return
		}
		n := o.replayBatch(ctx)
		if n == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.Pause):
		}
	}
}

// replayBatch publishes up to cfg.BatchSize records and deletes the
// ones that were confirmed delivered, returning how many were delivered.
// It stops at the first publish failure (almost always a dropped
// link) and leaves the rest of the batch in the buffer.
func (o *Orchestrator) replayBatch(ctx context.Context) int {
	recs, err := o.buf.Oldest(ctx, o.cfg.BatchSize)
	if err != nil {
		log.Errorf("bridge: replay: %v", err)
		return 0
	}
	if len(recs) == 0 {
		return 0
	}

	delivered := make([]int64, 0, len(recs))
	for _, r := range recs {
		if !o.link.Connected() {
			break
		}
		if err := o.link.Publish(mlmqtt.NatsSubject(r.Topic), r.Payload); err != nil {
			log.Warnf("bridge: replay publish failed, abandoning batch: %v", err)
			break
		}
		delivered = append(delivered, r.ID)
	}

	if len(delivered) > 0 {
		if err := o.buf.Delete(ctx, delivered); err != nil {
			log.Errorf("bridge: delete replayed records: %v", err)
		}
	}
	return len(delivered)
}
