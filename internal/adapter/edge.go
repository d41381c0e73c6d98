// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package adapter

import (
	"time"

	"github.com/microlinkdc/mcs/pkg/schema"
)

// pointEvaluator runs a mapped point's configured threshold bands
// against each new reading, applying per-band debounce directly at the
// source — the same logic internal/alarm/threshold.go applies in the
// cloud alarm engine, but operating on the config-time
// schema.ThresholdSet rather than the persisted JSON column since an
// adapter has no database of its own.
type pointEvaluator struct {
	debounceSince map[schema.ThresholdLevel]time.Time
	current       *schema.ThresholdLevel // highest-priority band currently in alarm, if any
}

func newPointEvaluator() *pointEvaluator {
	return &pointEvaluator{debounceSince: make(map[schema.ThresholdLevel]time.Time)}
}

// evaluate returns the active band (if any) after applying debounce,
// choosing the highest-priority band among every band still in alarm,
// matching the comparison internal/alarm/engine.go makes in the cloud
// alarm engine rather than relying on the HH/LL/H/L level order —
// priority is independently configurable per band, so a deployment can
// assign it out of canonical order.
func (e *pointEvaluator) evaluate(value float64, set *schema.ThresholdSet, now time.Time) *schema.ThresholdBand {
	if set == nil {
		return nil
	}
	var winner *schema.ThresholdBand
	for _, level := range set.OrderedLevels() {
		band := set.Bands[level]
		raw := bandInAlarm(value, band)

		if raw && band.Delay > 0 {
			since, started := e.debounceSince[level]
			if !started {
				e.debounceSince[level] = now
				raw = false
			} else if now.Sub(since) < time.Duration(band.Delay*float64(time.Second)) {
				raw = false
			}
		} else if !raw {
			delete(e.debounceSince, level)
		}

		if raw && (winner == nil || band.Priority < winner.Priority) {
			b := band
			winner = &b
		}
	}
	return winner
}

func bandInAlarm(value float64, band schema.ThresholdBand) bool {
	if band.Direction() == schema.DirectionHigh {
		return value > band.Value
	}
	return value < band.Value
}

// edgeAction is the RAISED/ESCALATED/CLEARED transition, defined in
// terms of the previously active band versus the newly evaluated one.
type edgeAction string

const (
	edgeNone      edgeAction = ""
	edgeRaised    edgeAction = "RAISED"
	edgeEscalated edgeAction = "ESCALATED"
	edgeCleared   edgeAction = "CLEARED"
)

// transition records the new band and returns the edge action, if any:
// none->band is RAISED, band->different band is ESCALATED (includes a
// de-escalation to a lower band, which is still reported as a change),
// band->none is CLEARED. No change yields edgeNone.
func (e *pointEvaluator) transition(newBand *schema.ThresholdBand) edgeAction {
	switch {
	case e.current == nil && newBand == nil:
		return edgeNone
	case e.current == nil && newBand != nil:
		lvl := newBand.Level
		e.current = &lvl
		return edgeRaised
	case e.current != nil && newBand == nil:
		e.current = nil
		return edgeCleared
	default:
		if *e.current == newBand.Level {
			return edgeNone
		}
		lvl := newBand.Level
		e.current = &lvl
		return edgeEscalated
	}
}
