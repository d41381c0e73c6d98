// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package adapter

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/microlinkdc/mcs/pkg/schema"
)

// decodeModbusRegisters assembles a raw register payload (one or two
// 16-bit registers, big-endian as returned by goburrow/modbus) into a
// float64 per the sensor's configured data_type/byte_order.
func decodeModbusRegisters(raw []byte, dt schema.DataType, order schema.ByteOrder) (float64, error) {
	switch dt {
	case schema.TypeUint16, schema.TypeInt16:
		if len(raw) < 2 {
			return 0, fmt.Errorf("adapter: need 2 bytes for %s, got %d", dt, len(raw))
		}
		u := binary.BigEndian.Uint16(raw[:2])
		if dt == schema.TypeInt16 {
			return float64(int16(u)), nil
		}
		return float64(u), nil

	case schema.TypeUint32, schema.TypeInt32, schema.TypeFloat32:
		if len(raw) < 4 {
			return 0, fmt.Errorf("adapter: need 4 bytes for %s, got %d", dt, len(raw))
		}
		ordered := reorderWords(raw[:4], order)
		bits := binary.BigEndian.Uint32(ordered)
		switch dt {
		case schema.TypeUint32:
			return float64(bits), nil
		case schema.TypeInt32:
			return float64(int32(bits)), nil
		default:
			return float64(math.Float32frombits(bits)), nil
		}

	default:
		return 0, fmt.Errorf("adapter: unsupported modbus data_type %q", dt)
	}
}

// reorderWords applies the four byte_order conventions:
// plain big/little endian, and the "word swap" variants common
// on PLCs that transmit 32-bit values as two big-endian 16-bit words in
// reverse word order.
func reorderWords(b []byte, order schema.ByteOrder) []byte {
	hi, lo := b[0:2], b[2:4]
	switch order {
	case schema.OrderBig, "":
		return []byte{b[0], b[1], b[2], b[3]}
	case schema.OrderLittle:
		return []byte{b[3], b[2], b[1], b[0]}
	case schema.OrderBigWordSwap:
		return []byte{lo[0], lo[1], hi[0], hi[1]}
	case schema.OrderLittleWordSwap:
		return []byte{hi[1], hi[0], lo[1], lo[0]}
	default:
		return b
	}
}

// holdingRegisterAddress converts the 1-based 4xxxx convention used in
// device configuration (e.g. 40001) to the 0-based protocol address the
// Modbus wire format expects.
func holdingRegisterAddress(configured int) uint16 {
	if configured >= 40001 {
		return uint16(configured - 40001)
	}
	return uint16(configured)
}

// registerCount reports how many 16-bit holding registers a data type
// spans.
func registerCount(dt schema.DataType) uint16 {
	switch dt {
	case schema.TypeUint16, schema.TypeInt16:
		return 1
	default:
		return 2
	}
}

// counterState tracks the previous sample of an SNMP counter so
// successive reads can be turned into a rate, handling counter
// wraparound.
type counterState struct {
	have     bool
	prevVal  float64
	prevTime time.Time
}

const counter32Modulus = 1 << 32

// rate converts a raw monotonic counter sample into a per-second rate,
// correcting for a single 32-bit wraparound and applying the point's
// counter_scale. The first sample for a counter is always UNCERTAIN
// since there is no prior sample to derive a rate from.
func (c *counterState) rate(raw float64, scale float64, now time.Time) (float64, schema.Quality) {
	if scale == 0 {
		scale = 1
	}
	if !c.have {
		c.have = true
		c.prevVal = raw
		c.prevTime = now
		return 0, schema.QualityUncertain
	}

	elapsed := now.Sub(c.prevTime).Seconds()
	delta := raw - c.prevVal
	if delta < 0 {
		// Single wraparound assumed; a 32-bit counter that dropped more
		// than one full cycle between samples cannot be distinguished
		// from a counter reset, so callers should size poll intervals
		// accordingly.
		delta += counter32Modulus
	}

	c.prevVal = raw
	c.prevTime = now

	if elapsed <= 0 {
		return 0, schema.QualityUncertain
	}
	return (delta / elapsed) * scale, schema.QualityGood
}
