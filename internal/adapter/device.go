// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/microlinkdc/mcs/internal/config"
	"github.com/microlinkdc/mcs/internal/util"
	"github.com/microlinkdc/mcs/pkg/log"
)

// supportedProtocols is the closed set NewDevice accepts in cfg.Protocol.
var supportedProtocols = []string{"modbus", "snmp", "bacnet"}

// Device pairs one physical device's connection state with the Reader
// that speaks its protocol, tracking per-device connection management.
type Device struct {
	Cfg    config.DeviceConfig
	Reader Reader
	Conn   *ConnState

	nextAttempt time.Time
}

// NewDevice constructs the protocol-appropriate Reader for cfg. An
// unknown protocol is a configuration error caught at startup, not a
// runtime one.
func NewDevice(cfg config.DeviceConfig, timeouts config.TimeoutConfig) (*Device, error) {
	if !util.Contains(supportedProtocols, cfg.Protocol) {
		return nil, fmt.Errorf("adapter: device %s has unknown protocol %q", cfg.Name, cfg.Protocol)
	}
	var r Reader
	switch cfg.Protocol {
	case "modbus":
		r = NewModbusReader(cfg, timeouts.Modbus())
	case "snmp":
		r = NewSNMPReader(cfg, timeouts.SNMP())
	case "bacnet":
		r = NewBACnetReader(cfg)
	default:
		return nil, fmt.Errorf("adapter: device %s has unknown protocol %q", cfg.Name, cfg.Protocol)
	}
	return &Device{Cfg: cfg, Reader: r, Conn: NewConnState()}, nil
}

// ensureConnected connects (or reconnects, respecting the exponential
// backoff schedule) the device. It returns false without error when a
// reconnect attempt is not yet due.
func (d *Device) ensureConnected(ctx context.Context, now time.Time) (bool, error) {
	if d.Conn.Online() {
		return true, nil
	}
	if now.Before(d.nextAttempt) {
		return false, nil
	}

	if err := d.Reader.Connect(ctx); err != nil {
		d.Conn.RecordFailure()
		d.nextAttempt = now.Add(d.Conn.NextBackoff())
		return false, err
	}

	d.Conn.RecordSuccess()
	log.Infof("adapter: device %s online", d.Cfg.Name)
	return true, nil
}

// recordReadOutcome updates connection state after a read attempt, and
// logs the online -> offline transition once, at the threshold.
func (d *Device) recordReadOutcome(err error) {
	if err == nil {
		d.Conn.RecordSuccess()
		return
	}
	streak := d.Conn.RecordFailure()
	if !d.Conn.Online() && streak == offlineFailureThreshold {
		log.Warnf("adapter: device %s offline after %d consecutive failures", d.Cfg.Name, streak)
	}
}
