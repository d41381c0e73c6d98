// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/microlinkdc/mcs/internal/config"
	"github.com/microlinkdc/mcs/pkg/schema"
)

// SNMPReader GETs one OID per point over SNMP v2c/v3, applying the
// primitive-to-double mapping and counter/rate rules. Built on
// gosnmp/gosnmp.
type SNMPReader struct {
	snmp *gosnmp.GoSNMP

	mu       sync.Mutex
	counters map[string]*counterState
}

// NewSNMPReader builds a reader for one device, not yet connected.
func NewSNMPReader(dev config.DeviceConfig, timeout time.Duration) *SNMPReader {
	version := gosnmp.Version2c
	if dev.SNMPVersion == "1" {
		version = gosnmp.Version1
	}
	community := dev.SNMPCommunity
	if community == "" {
		community = "public"
	}
	port := dev.Port
	if port == 0 {
		port = 161
	}
	return &SNMPReader{
		snmp: &gosnmp.GoSNMP{
			Target:    dev.Address,
			Port:      uint16(port),
			Community: community,
			Version:   version,
			Timeout:   timeout,
			Retries:   1,
		},
		counters: make(map[string]*counterState),
	}
}

func (r *SNMPReader) Connect(ctx context.Context) error {
	if err := r.snmp.Connect(); err != nil {
		return fmt.Errorf("adapter: snmp connect %s: %w", r.snmp.Target, err)
	}
	return nil
}

func (r *SNMPReader) Close() error {
	if r.snmp.Conn != nil {
		return r.snmp.Conn.Close()
	}
	return nil
}

func (r *SNMPReader) Read(ctx context.Context, m schema.PointMapping) (Reading, error) {
	result, err := r.snmp.Get([]string{m.Address})
	if err != nil {
		return Reading{}, &ErrReadFailed{Tag: m.Tag, Err: err}
	}
	if len(result.Variables) == 0 {
		return Reading{}, &ErrReadFailed{Tag: m.Tag, Err: fmt.Errorf("empty response for oid %s", m.Address)}
	}
	pdu := result.Variables[0]

	primitive, err := snmpPrimitive(pdu)
	if err != nil {
		return Reading{}, &ErrReadFailed{Tag: m.Tag, Err: err}
	}

	switch m.SNMPKind {
	case schema.SNMPCounter:
		r.mu.Lock()
		cs, ok := r.counters[m.Tag]
		if !ok {
			cs = &counterState{}
			r.counters[m.Tag] = cs
		}
		scale := m.CounterScale
		rate, quality := cs.rate(primitive, scale, time.Now())
		r.mu.Unlock()
		if quality == schema.QualityUncertain {
			return Reading{Raw: rate}, nil
		}
		return Reading{Raw: rate*m.Scale + m.Offset}, nil

	case schema.SNMPBool:
		if primitive != 0 {
			return Reading{Raw: 1}, nil
		}
		return Reading{Raw: 0}, nil

	default: // SNMPFloat, SNMPInt
		return Reading{Raw: primitive*m.Scale + m.Offset}, nil
	}
}

// snmpPrimitive converts a PDU's protocol-native value to a float64,
// covering the integer, gauge/counter, and octet-string-encoded-float
// encodings a BMS/PDU/UPS agent commonly returns.
func snmpPrimitive(pdu gosnmp.SnmpPDU) (float64, error) {
	switch pdu.Type {
	case gosnmp.Integer:
		v, ok := pdu.Value.(int)
		if !ok {
			return 0, fmt.Errorf("adapter: snmp integer PDU has unexpected go type %T", pdu.Value)
		}
		return float64(v), nil
	case gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Counter64, gosnmp.Uinteger32:
		return float64(gosnmp.ToBigInt(pdu.Value).Int64()), nil
	case gosnmp.OctetString:
		b, ok := pdu.Value.([]byte)
		if !ok {
			return 0, fmt.Errorf("adapter: snmp octet-string PDU has unexpected go type %T", pdu.Value)
		}
		var f float64
		if _, err := fmt.Sscanf(string(b), "%g", &f); err != nil {
			return 0, fmt.Errorf("adapter: snmp octet-string %q is not numeric: %w", string(b), err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("adapter: unsupported snmp PDU type %v", pdu.Type)
	}
}
