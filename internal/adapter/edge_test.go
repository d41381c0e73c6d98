// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/microlinkdc/mcs/pkg/schema"
)

func sampleThresholdSet() *schema.ThresholdSet {
	return &schema.ThresholdSet{
		Bands: map[schema.ThresholdLevel]schema.ThresholdBand{
			schema.LevelH:  {Level: schema.LevelH, Value: 30, Priority: schema.PriorityP2},
			schema.LevelHH: {Level: schema.LevelHH, Value: 40, Priority: schema.PriorityP0},
		},
	}
}

func TestPointEvaluatorRaisedAndCleared(t *testing.T) {
	e := newPointEvaluator()
	set := sampleThresholdSet()
	now := time.Now()

	band := e.evaluate(10, set, now)
	assert.Nil(t, band)
	assert.Equal(t, edgeNone, e.transition(band))

	band = e.evaluate(35, set, now)
	assert.NotNil(t, band)
	assert.Equal(t, schema.LevelH, band.Level)
	assert.Equal(t, edgeRaised, e.transition(band))

	band = e.evaluate(35, set, now)
	assert.Equal(t, edgeNone, e.transition(band))

	band = e.evaluate(10, set, now)
	assert.Nil(t, band)
	assert.Equal(t, edgeCleared, e.transition(band))
}

func TestPointEvaluatorEscalates(t *testing.T) {
	e := newPointEvaluator()
	set := sampleThresholdSet()
	now := time.Now()

	band := e.evaluate(35, set, now)
	assert.Equal(t, edgeRaised, e.transition(band))

	band = e.evaluate(45, set, now)
	assert.NotNil(t, band)
	assert.Equal(t, schema.LevelHH, band.Level)
	assert.Equal(t, edgeEscalated, e.transition(band))
}

func TestPointEvaluatorPicksHighestPriorityNotLevelOrder(t *testing.T) {
	e := newPointEvaluator()
	// L configured more urgent than H, inverting the canonical
	// HH>LL>H>L precedence: the winner must still be whichever band
	// carries the higher priority, not whichever level sorts first in
	// OrderedLevels.
	set := &schema.ThresholdSet{
		Bands: map[schema.ThresholdLevel]schema.ThresholdBand{
			schema.LevelH: {Level: schema.LevelH, Value: 30, Priority: schema.PriorityP2},
			schema.LevelL: {Level: schema.LevelL, Value: 60, Priority: schema.PriorityP0},
		},
	}
	now := time.Now()

	// 45 is simultaneously above the H threshold (30) and below the L
	// threshold (60), so both bands are raw-in-alarm at once.
	band := e.evaluate(45, set, now)
	if assert.NotNil(t, band) {
		assert.Equal(t, schema.LevelL, band.Level)
		assert.Equal(t, schema.PriorityP0, band.Priority)
	}
}

func TestPointEvaluatorDebounceDelaysRaise(t *testing.T) {
	e := newPointEvaluator()
	set := &schema.ThresholdSet{
		Bands: map[schema.ThresholdLevel]schema.ThresholdBand{
			schema.LevelH: {Level: schema.LevelH, Value: 30, Priority: schema.PriorityP2, Delay: 5},
		},
	}
	now := time.Now()

	band := e.evaluate(35, set, now)
	assert.Nil(t, band, "first crossing should be suppressed by the delay")

	band = e.evaluate(35, set, now.Add(2*time.Second))
	assert.Nil(t, band, "still within the 5s delay")

	band = e.evaluate(35, set, now.Add(6*time.Second))
	assert.NotNil(t, band, "past the delay the band should be in alarm")
}

func TestMapQualityBadOnReadError(t *testing.T) {
	m := schema.PointMapping{PlausibleMin: 0, PlausibleMax: 100}
	v, q := mapQuality(0, m, assertErr{})
	assert.Equal(t, float64(0), v)
	assert.Equal(t, schema.QualityBad, q)
}

func TestMapQualityUncertainOutsideRange(t *testing.T) {
	m := schema.PointMapping{PlausibleMin: 0, PlausibleMax: 100}
	_, q := mapQuality(150, m, nil)
	assert.Equal(t, schema.QualityUncertain, q)
}

func TestMapQualityGood(t *testing.T) {
	m := schema.PointMapping{PlausibleMin: 0, PlausibleMax: 100}
	_, q := mapQuality(50, m, nil)
	assert.Equal(t, schema.QualityGood, q)
}

type assertErr struct{}

func (assertErr) Error() string { return "read failed" }
