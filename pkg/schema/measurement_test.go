// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"math"
	"testing"
	"time"
)

func TestParseQuality(t *testing.T) {
	cases := []struct {
		in      string
		want    Quality
		wantErr bool
	}{
		{"", QualityGood, false},
		{"GOOD", QualityGood, false},
		{"UNCERTAIN", QualityUncertain, false},
		{"BAD", QualityBad, false},
		{"NONSENSE", QualityGood, true},
	}
	for _, c := range cases {
		got, err := ParseQuality(c.in)
		if (err != nil) != c.wantErr {
			t.Fatalf("ParseQuality(%q) err = %v, wantErr %v", c.in, err, c.wantErr)
		}
		if got != c.want {
			t.Fatalf("ParseQuality(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestQualityString(t *testing.T) {
	if QualityGood.String() != "GOOD" {
		t.Fatalf("QualityGood.String() = %q", QualityGood.String())
	}
	if Quality(99).String() != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN for an out-of-range quality")
	}
}

func TestSensorKeyString(t *testing.T) {
	k := SensorKey{Site: "site1", Block: "block1", Subsystem: "electrical", Tag: "main-kw"}
	if got := k.String(); got != "site1/block1/electrical/main-kw" {
		t.Fatalf("SensorKey.String() = %q", got)
	}
}

func TestMeasurementValid(t *testing.T) {
	if !(Measurement{Value: 1.0}).Valid() {
		t.Fatal("expected a finite value to be valid")
	}
	if (Measurement{Value: math.NaN()}).Valid() {
		t.Fatal("expected NaN to be invalid")
	}
	if (Measurement{Value: math.Inf(-1)}).Valid() {
		t.Fatal("expected -Inf to be invalid")
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]AlarmPriority{"P0": PriorityP0, "P1": PriorityP1, "P2": PriorityP2, "P3": PriorityP3}
	for in, want := range cases {
		got, err := ParsePriority(in)
		if err != nil {
			t.Fatalf("ParsePriority(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParsePriority(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParsePriority("P9"); err == nil {
		t.Fatal("expected an error for an unknown priority")
	}
}

func TestAlarmPriorityResponseTarget(t *testing.T) {
	if PriorityP0.ResponseTarget() != 30*time.Second {
		t.Fatalf("P0 target = %v", PriorityP0.ResponseTarget())
	}
	if PriorityP3.ResponseTarget() != 8*time.Hour {
		t.Fatalf("P3 target = %v", PriorityP3.ResponseTarget())
	}
}
