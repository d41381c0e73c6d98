// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fanout is the pub/sub boundary: the outbound alarm channel
// and the per-block telemetry channels, published over NATS and
// consumed by any number of subscribers that do their own
// block/priority filtering client-side. No delivery guarantee beyond
// the transport's at-most-once.
package fanout

import (
	"encoding/json"
	"fmt"

	"github.com/microlinkdc/mcs/pkg/log"
	natsclient "github.com/microlinkdc/mcs/pkg/nats"
)

const (
	alarmSubjectPrefix     = "mcs.alarms"
	telemetrySubjectPrefix = "mcs.telemetry"
)

// Bus wraps a pkg/nats client with the subject-naming conventions the
// engine and ingestor publish under, and satisfies internal/alarm.Publisher.
type Bus struct {
	client *natsclient.Client
}

// New wraps an already-connected NATS client.
func New(client *natsclient.Client) *Bus {
	return &Bus{client: client}
}

// Publish sends a raw payload to subject verbatim, satisfying
// internal/alarm.Publisher and internal/ingest's inbound alarm-signal
// publisher.
func (b *Bus) Publish(subject string, payload []byte) error {
	if b.client == nil {
		return fmt.Errorf("fanout: no NATS client configured")
	}
	return b.client.Publish(subject, payload)
}

// Connected reports whether the underlying NATS connection is up,
// satisfying internal/bridge's CloudLink interface.
func (b *Bus) Connected() bool {
	return b.client != nil && b.client.IsConnected()
}

// AlarmSubject builds the outbound alarm channel subject for a block.
func AlarmSubject(block string) string {
	return fmt.Sprintf("%s.%s", alarmSubjectPrefix, block)
}

// TelemetrySubject builds the per-block telemetry bucket subject.
func TelemetrySubject(block string) string {
	return fmt.Sprintf("%s.%s", telemetrySubjectPrefix, block)
}

// PublishTelemetry marshals v as JSON and publishes it to the block's
// telemetry bucket.
func (b *Bus) PublishTelemetry(block string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("fanout: marshal telemetry for block %s: %w", block, err)
	}
	if err := b.Publish(TelemetrySubject(block), body); err != nil {
		log.Warnf("fanout: publish telemetry block=%s: %v", block, err)
		return err
	}
	return nil
}

// Subscription is a client-side filter applied after receiving the raw
// channel (consumers do their own filtering).
type Subscription struct {
	Block       string // empty matches all blocks
	MinPriority *int   // nil matches all priorities; lower value = higher priority
}

// Matches reports whether a decoded alarm event payload passes this
// subscription's block/priority filter.
func (s Subscription) Matches(block string, priority int) bool {
	if s.Block != "" && s.Block != block {
		return false
	}
	if s.MinPriority != nil && priority > *s.MinPriority {
		return false
	}
	return true
}
