// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package adapter implements the edge protocol adapter framework: one
// connection per device, one cooperative polling task per poll group,
// decoding, quality mapping, source-side alarm evaluation, alarm-edge
// detection, and publication to the local broker. Modbus, SNMP, and
// BACnet each get a Reader implementation; the poll-group loop and
// everything downstream of a raw reading is protocol-agnostic.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/microlinkdc/mcs/pkg/schema"
)

// Reading is one raw value pulled from a device, before scale/offset
// or quality mapping.
type Reading struct {
	Raw   float64
	Err   error
	Delta int64 // raw-protocol-specific, used by counter handling (SNMP)
}

// Reader is the protocol-specific boundary: read one mapped point from
// one device. Implementations must not retry internally — failure
// surfaces as one bad reading for the cycle.
type Reader interface {
	// Connect establishes (or re-establishes) the device connection.
	Connect(ctx context.Context) error
	// Close releases the device connection.
	Close() error
	// Read performs one read of a single mapped point.
	Read(ctx context.Context, m schema.PointMapping) (Reading, error)
}

// ConnState tracks a device's connection lifecycle: online after one
// successful read, offline after N=5 consecutive failures.
type ConnState struct {
	online              bool
	consecutiveFailures int
	backoff             time.Duration
}

const (
	offlineFailureThreshold = 5
	maxBackoff              = 60 * time.Second
	minBackoff              = 1 * time.Second
)

// NewConnState returns a ConnState that starts offline.
func NewConnState() *ConnState {
	return &ConnState{backoff: minBackoff}
}

// Online reports whether the device is currently considered online.
func (c *ConnState) Online() bool { return c.online }

// RecordSuccess marks the device online and resets the failure streak.
func (c *ConnState) RecordSuccess() {
	c.online = true
	c.consecutiveFailures = 0
	c.backoff = minBackoff
}

// RecordFailure increments the failure streak and, past the
// threshold, marks the device offline. Returns the current streak.
func (c *ConnState) RecordFailure() int {
	c.consecutiveFailures++
	if c.consecutiveFailures >= offlineFailureThreshold {
		c.online = false
	}
	return c.consecutiveFailures
}

// NextBackoff returns the current reconnect delay and doubles it
// (capped at 60s) for next time.
func (c *ConnState) NextBackoff() time.Duration {
	d := c.backoff
	c.backoff *= 2
	if c.backoff > maxBackoff {
		c.backoff = maxBackoff
	}
	return d
}

// ErrReadFailed wraps a protocol-level read failure so pollgroup.go can
// apply BAD quality without caring which protocol failed.
type ErrReadFailed struct {
	Tag string
	Err error
}

func (e *ErrReadFailed) Error() string {
	return fmt.Sprintf("adapter: read %s failed: %v", e.Tag, e.Err)
}

func (e *ErrReadFailed) Unwrap() error { return e.Err }
