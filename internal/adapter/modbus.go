// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goburrow/modbus"

	"github.com/microlinkdc/mcs/internal/config"
	"github.com/microlinkdc/mcs/pkg/schema"
)

// ModbusReader reads holding registers over Modbus TCP, applying the
// 4xxxx 1-based holding-register convention and register-assembly
// rules. Built on goburrow/modbus.
type ModbusReader struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewModbusReader builds a reader for one device, not yet connected.
func NewModbusReader(dev config.DeviceConfig, timeout time.Duration) *ModbusReader {
	h := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", dev.Address, dev.Port))
	h.Timeout = timeout
	h.SlaveId = byte(dev.UnitID)
	return &ModbusReader{handler: h}
}

func (r *ModbusReader) Connect(ctx context.Context) error {
	if err := r.handler.Connect(); err != nil {
		return fmt.Errorf("adapter: modbus connect %s: %w", r.handler.Address, err)
	}
	r.client = modbus.NewClient(r.handler)
	return nil
}

func (r *ModbusReader) Close() error {
	return r.handler.Close()
}

func (r *ModbusReader) Read(ctx context.Context, m schema.PointMapping) (Reading, error) {
	addr, err := strconv.Atoi(m.Address)
	if err != nil {
		return Reading{}, fmt.Errorf("adapter: modbus point %s has non-numeric address %q: %w", m.Tag, m.Address, err)
	}

	regAddr := holdingRegisterAddress(addr)
	count := registerCount(m.DataType)

	raw, err := r.client.ReadHoldingRegisters(regAddr, count)
	if err != nil {
		return Reading{}, &ErrReadFailed{Tag: m.Tag, Err: err}
	}

	val, err := decodeModbusRegisters(raw, m.DataType, m.ByteOrder)
	if err != nil {
		return Reading{}, &ErrReadFailed{Tag: m.Tag, Err: err}
	}

	return Reading{Raw: val*m.Scale + m.Offset}, nil
}
