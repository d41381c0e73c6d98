// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "fmt"

// Direction a threshold band alarms in.
type Direction int

const (
	DirectionHigh Direction = iota
	DirectionLow
	DirectionBool
)

func (d Direction) String() string {
	switch d {
	case DirectionHigh:
		return "HIGH"
	case DirectionLow:
		return "LOW"
	default:
		return "BOOL"
	}
}

// ThresholdLevel names one of the four ISA-18.2 bands.
type ThresholdLevel string

const (
	LevelHH ThresholdLevel = "HH"
	LevelH  ThresholdLevel = "H"
	LevelL  ThresholdLevel = "L"
	LevelLL ThresholdLevel = "LL"
)

// ThresholdBand is a single configured alarm band for a sensor.
type ThresholdBand struct {
	Level    ThresholdLevel `json:"level"`
	Value    float64        `json:"value"`
	Priority AlarmPriority  `json:"-"`
	Delay    float64        `json:"delay_s"`
}

// Direction derives HIGH/LOW from the level: HH/H alarm on the high
// side, L/LL on the low side.
func (b ThresholdBand) Direction() Direction {
	if b.Level == LevelHH || b.Level == LevelH {
		return DirectionHigh
	}
	return DirectionLow
}

// ThresholdSet holds up to four bands for one sensor, keyed by level.
type ThresholdSet struct {
	Bands map[ThresholdLevel]ThresholdBand
}

// OrderedLevels returns the sensor's configured bands ordered HH, LL,
// H, L — the precedence the engine uses when more than one band is
// simultaneously in alarm.
func (t ThresholdSet) OrderedLevels() []ThresholdLevel {
	order := []ThresholdLevel{LevelHH, LevelLL, LevelH, LevelL}
	out := make([]ThresholdLevel, 0, len(t.Bands))
	for _, lvl := range order {
		if _, ok := t.Bands[lvl]; ok {
			out = append(out, lvl)
		}
	}
	return out
}

// DataType names the Modbus register encoding of a mapped point.
type DataType string

const (
	TypeUint16  DataType = "UINT16"
	TypeInt16   DataType = "INT16"
	TypeUint32  DataType = "UINT32"
	TypeInt32   DataType = "INT32"
	TypeFloat32 DataType = "FLOAT32"
)

// ByteOrder names the Modbus register/word ordering for multi-register
// values
type ByteOrder string

const (
	OrderBig            ByteOrder = "big"
	OrderLittle         ByteOrder = "little"
	OrderBigWordSwap    ByteOrder = "big_word_swap"
	OrderLittleWordSwap ByteOrder = "little_word_swap"
)

// SNMPKind names the primitive-to-double conversion rule for an SNMP
// mapping
type SNMPKind string

const (
	SNMPFloat   SNMPKind = "float"
	SNMPInt     SNMPKind = "int"
	SNMPBool    SNMPKind = "bool"
	SNMPCounter SNMPKind = "counter"
)

// BACnetObjectKind names the BACnet object type read for a mapping.
type BACnetObjectKind string

const (
	BACnetAI BACnetObjectKind = "AI"
	BACnetAV BACnetObjectKind = "AV"
	BACnetBI BACnetObjectKind = "BI"
	BACnetBV BACnetObjectKind = "BV"
)

// PollGroupName is one of the four canonical poll groups.
type PollGroupName string

const (
	PollSafety PollGroupName = "safety"
	PollFast   PollGroupName = "fast"
	PollNormal PollGroupName = "normal"
	PollSlow   PollGroupName = "slow"
)

// PointMapping is the declarative description of a single sensor point
// read from a device
type PointMapping struct {
	Tag                string           `yaml:"tag"`
	Subsystem          string           `yaml:"subsystem"`
	Unit               string           `yaml:"unit"`
	DataType           DataType         `yaml:"data_type,omitempty"`
	ByteOrder          ByteOrder        `yaml:"byte_order,omitempty"`
	Scale              float64          `yaml:"scale"`
	Offset             float64          `yaml:"offset"`
	PlausibleMin       float64          `yaml:"plausible_min"`
	PlausibleMax       float64          `yaml:"plausible_max"`
	PollGroup          PollGroupName    `yaml:"poll_group"`
	AlarmThresholds    *ThresholdSet    `yaml:"alarm_thresholds,omitempty"`
	Address            string           `yaml:"address"`
	SNMPKind           SNMPKind         `yaml:"snmp_kind,omitempty"`
	CounterScale       float64          `yaml:"counter_scale,omitempty"`
	BACnetObject       BACnetObjectKind `yaml:"bacnet_object,omitempty"`
	BACnetInstance     uint32           `yaml:"bacnet_instance,omitempty"`
	BACnetSubscribeCOV bool             `yaml:"bacnet_subscribe_cov,omitempty"`
}

func (m PointMapping) String() string {
	return fmt.Sprintf("%s/%s", m.Subsystem, m.Tag)
}

// SensorRow is the authoritative, persisted sensor metadata record: the
// commissioning-time protocol address plus the alarm threshold blob.
// It is both the row an edge adapter loads to build its PointMapping
// set and the row the sensor-key cache falls through to on a miss.
type SensorRow struct {
	ID                  int64            `db:"id"`
	Site                string           `db:"site"`
	Block               string           `db:"block"`
	Subsystem           string           `db:"subsystem"`
	Tag                 string           `db:"tag"`
	Protocol            string           `db:"protocol"` // modbus|snmp|bacnet
	PollGroup           PollGroupName    `db:"poll_group"`
	DataType            DataType         `db:"data_type"`
	ByteOrder           ByteOrder        `db:"byte_order"`
	RegisterAddress     int              `db:"register_address"`
	SNMPOid             string           `db:"snmp_oid"`
	SNMPKind            SNMPKind         `db:"snmp_kind"`
	BACnetObjectKind    BACnetObjectKind `db:"bacnet_object_kind"`
	BACnetInstance      uint32           `db:"bacnet_instance"`
	Scale               float64          `db:"scale"`
	Offset              float64          `db:"offset"`
	Unit                string           `db:"unit"`
	AlarmThresholdsJSON string           `db:"alarm_thresholds_json"`
	Enabled             bool             `db:"enabled"`
}

func (s SensorRow) Key() SensorKey {
	return SensorKey{Site: s.Site, Block: s.Block, Subsystem: s.Subsystem, Tag: s.Tag}
}
