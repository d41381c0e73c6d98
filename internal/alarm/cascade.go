// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package alarm

import (
	"regexp"

	"github.com/microlinkdc/mcs/internal/util"
	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/schema"
)

// compiledCascadeRule is a schema.CascadeRule with its tag patterns
// pre-compiled as anchored (fullmatch) regular expressions.
type compiledCascadeRule struct {
	rule      schema.CascadeRule
	causeRE   *regexp.Regexp
	effectREs []*regexp.Regexp
}

// CascadeEngine applies ISA-18.2 suppression-by-design: when a root
// cause alarm raises, matching downstream effects are suppressed so
// operators see the cause, not the flood.
type CascadeEngine struct {
	rules []compiledCascadeRule

	suppressions   int64
	unsuppressions int64
}

// NewCascadeEngine compiles rules, anchoring every tag pattern with
// fullmatch semantics (Go's regexp has no fullmatch, so patterns are
// wrapped in ^(?:...)$).
func NewCascadeEngine(rules []schema.CascadeRule) (*CascadeEngine, error) {
	ce := &CascadeEngine{}
	for _, r := range rules {
		causeRE, err := regexp.Compile(anchor(r.CauseTagPattern))
		if err != nil {
			return nil, err
		}
		effectREs := make([]*regexp.Regexp, 0, len(r.EffectTagPatterns))
		for _, p := range r.EffectTagPatterns {
			re, err := regexp.Compile(anchor(p))
			if err != nil {
				return nil, err
			}
			effectREs = append(effectREs, re)
		}
		ce.rules = append(ce.rules, compiledCascadeRule{rule: r, causeRE: causeRE, effectREs: effectREs})
	}
	return ce, nil
}

func anchor(pattern string) string {
	return "^(?:" + pattern + ")$"
}

// activeAlarm is the minimal view CascadeEngine needs of a live
// *Instance, decoupling it from the engine's storage representation.
type activeAlarm struct {
	SensorID  int64
	Subsystem string
	Tag       string
	Instance  *Instance
}

// OnAlarmRaised checks whether cause matches any rule's cause pattern
// and, if so, suppresses every currently-active alarm matching an
// effect pattern. Returns the sensor IDs of alarms it suppressed.
func (ce *CascadeEngine) OnAlarmRaised(cause activeAlarm, active []activeAlarm) []int64 {
	var suppressed []int64

	for _, cr := range ce.rules {
		if cause.Subsystem != cr.rule.CauseSubsystem {
			continue
		}
		if !cr.causeRE.MatchString(cause.Tag) {
			continue
		}

		for _, a := range active {
			if a.SensorID == cause.SensorID {
				continue
			}
			if a.Instance.State == schema.StateCleared || a.Instance.State == schema.StateSuppressed {
				continue
			}
			if !util.Contains(cr.rule.EffectSubsystems, a.Subsystem) {
				continue
			}
			for _, effectRE := range cr.effectREs {
				if effectRE.MatchString(a.Tag) {
					if a.Instance.Suppress(cause.SensorID) == OutcomeOK {
						suppressed = append(suppressed, a.SensorID)
						ce.suppressions++
					}
					break
				}
			}
		}
	}

	if len(suppressed) > 0 {
		log.Infof("alarm: cascade cause=%s (%s) suppressed %d downstream alarms", cause.Tag, cause.Subsystem, len(suppressed))
	}
	return suppressed
}

// OnAlarmCleared releases every alarm suppressed by cause back to
// CLEARED so the engine re-evaluates them on the next signal.
func (ce *CascadeEngine) OnAlarmCleared(causeSensorID int64, active []activeAlarm) []int64 {
	var unsuppressed []int64

	for _, a := range active {
		if a.Instance.State != schema.StateSuppressed {
			continue
		}
		if a.Instance.SuppressedBy != causeSensorID {
			continue
		}
		if a.Instance.Unsuppress() == OutcomeOK {
			unsuppressed = append(unsuppressed, a.SensorID)
			ce.unsuppressions++
		}
	}

	if len(unsuppressed) > 0 {
		log.Infof("alarm: cascade cause sensor %d cleared, unsuppressed %d alarms", causeSensorID, len(unsuppressed))
	}
	return unsuppressed
}

// WouldBeSuppressed reports whether a not-yet-raised alarm on subsystem/tag
// would be immediately suppressed by any currently active cause, and if
// so returns the cause's sensor ID. The engine uses it to raise such an
// alarm and then suppress it straight away.
func (ce *CascadeEngine) WouldBeSuppressed(subsystem, tag string, active []activeAlarm) (int64, bool) {
	for _, cr := range ce.rules {
		if !util.Contains(cr.rule.EffectSubsystems, subsystem) {
			continue
		}
		isEffect := false
		for _, effectRE := range cr.effectREs {
			if effectRE.MatchString(tag) {
				isEffect = true
				break
			}
		}
		if !isEffect {
			continue
		}

		for _, a := range active {
			if a.Instance.State != schema.StateActive && a.Instance.State != schema.StateAcked {
				continue
			}
			if a.Subsystem != cr.rule.CauseSubsystem {
				continue
			}
			if cr.causeRE.MatchString(a.Tag) {
				return a.SensorID, true
			}
		}
	}
	return 0, false
}

// Stats reports cumulative cascade-engine counters for the heartbeat
// and diagnostics endpoints.
type Stats struct {
	RulesLoaded         int
	TotalSuppressions   int64
	TotalUnsuppressions int64
}

func (ce *CascadeEngine) Stats() Stats {
	return Stats{
		RulesLoaded:         len(ce.rules),
		TotalSuppressions:   ce.suppressions,
		TotalUnsuppressions: ce.unsuppressions,
	}
}
