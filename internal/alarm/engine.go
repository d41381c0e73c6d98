// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/mlmqtt"
	"github.com/microlinkdc/mcs/pkg/schema"
)

// Store is the persistence boundary the engine needs: immediate,
// synchronous writes on every transition, plus the boot-time load that
// makes the in-memory map authoritative again after a restart.
// Implemented by internal/repository.
type Store interface {
	SaveAlarm(ctx context.Context, a *schema.AlarmInstance) error
	SaveAudit(ctx context.Context, ev schema.AuditEvent) error
	LoadActiveAlarms(ctx context.Context) ([]schema.AlarmInstance, error)
	LoadThresholds(ctx context.Context) ([]ThresholdRow, error)
	LoadCascadeRules(ctx context.Context) ([]schema.CascadeRule, error)
}

// Publisher is the outbound fan-out boundary. The
// engine never knows it is NATS underneath.
type Publisher interface {
	Publish(subject string, payload []byte) error
}

// floodWindow tracks the raise-rate for one block
type floodWindow struct {
	firstRaiseAt time.Time
	count        int
	tripped      bool
}

// Engine owns the alarm-state map and is the sole component that
// mutates it; every public method that touches state locks mu. Scan
// operations (cascade, flood) run inside the same critical section as
// the transition that triggered them, matching the "logically
// serialized per instance" model.
type Engine struct {
	mu         sync.Mutex
	instances  map[int64]*Instance // keyed by sensor_id
	thresholds *ThresholdRegistry
	cascade    *CascadeEngine
	cfg        Config

	store     Store
	publisher Publisher

	flood map[string]*floodWindow // keyed by block ID

	clock func() time.Time
}

// NewEngine wires an Engine from its collaborators. clock defaults to
// time.Now; tests inject a fixed/advancing clock.
func NewEngine(cfg Config, store Store, publisher Publisher, cascade *CascadeEngine) *Engine {
	return &Engine{
		instances:  make(map[int64]*Instance),
		thresholds: NewThresholdRegistry(),
		cascade:    cascade,
		cfg:        cfg,
		store:      store,
		publisher:  publisher,
		flood:      make(map[string]*floodWindow),
		clock:      time.Now,
	}
}

// Boot loads the authoritative state from storage: active alarms first
// (so the map is never empty-but-wrong), then thresholds. Must be
// called once before the engine accepts signals.
func (e *Engine) Boot(ctx context.Context) error {
	alarms, err := e.store.LoadActiveAlarms(ctx)
	if err != nil {
		return fmt.Errorf("alarm: boot load active alarms: %w", err)
	}
	e.mu.Lock()
	for i := range alarms {
		inst := &Instance{AlarmInstance: alarms[i]}
		e.instances[inst.SensorID] = inst
	}
	e.mu.Unlock()
	log.Infof("alarm: boot loaded %d non-CLEARED alarm instances", len(alarms))

	rows, err := e.store.LoadThresholds(ctx)
	if err != nil {
		return fmt.Errorf("alarm: boot load thresholds: %w", err)
	}
	e.thresholds.LoadFromRows(rows)

	return nil
}

// RefreshThresholds reloads the threshold registry wholesale; called
// periodically by the scheduler.
func (e *Engine) RefreshThresholds(ctx context.Context) error {
	rows, err := e.store.LoadThresholds(ctx)
	if err != nil {
		return fmt.Errorf("alarm: refresh thresholds: %w", err)
	}
	e.mu.Lock()
	e.thresholds.LoadFromRows(rows)
	e.mu.Unlock()
	return nil
}

// RefreshCascadeRules recompiles the cascade rule set; called
// periodically by the scheduler.
func (e *Engine) RefreshCascadeRules(ctx context.Context) error {
	rows, err := e.store.LoadCascadeRules(ctx)
	if err != nil {
		return fmt.Errorf("alarm: refresh cascade rules: %w", err)
	}
	ce, err := NewCascadeEngine(rows)
	if err != nil {
		return fmt.Errorf("alarm: compile cascade rules: %w", err)
	}
	e.mu.Lock()
	e.cascade = ce
	e.mu.Unlock()
	return nil
}

// getOrCreate returns the instance for sensorID, creating a CLEARED
// one if none exists yet. Caller must hold mu.
func (e *Engine) getOrCreate(sig schema.AlarmSignal) *Instance {
	inst, ok := e.instances[sig.SensorID]
	if !ok {
		inst = NewInstance(sig.SensorID, sig.Key, sig.Priority)
		e.instances[sig.SensorID] = inst
	}
	return inst
}

// HandleSignal is the main entry point: one alarm-relevant reading
// from the inbound channel, produced either by an edge adapter's
// threshold check or by the ingestor forwarding a pre-flagged value.
// It runs threshold evaluation (if configured) and the state machine,
// persists and publishes the transition, then applies flood handling
// and cascade suppression — all under one lock so the instance is never
// observed half-updated.
func (e *Engine) HandleSignal(ctx context.Context, sig schema.AlarmSignal) error {
	now := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.thresholds.Get(sig.SensorID)
	if st == nil {
		// No threshold configuration: trust the signal's priority verbatim
		// — every signal reaching the engine for
		// an unconfigured sensor is itself the alarm condition.
		return e.applySignal(ctx, sig, true, 0, "", now)
	}

	evals := st.Evaluate(sig.Value, now)
	// A sensor may carry multiple bands (HH/H/L/LL); the in-alarm band
	// with the highest priority (lowest P number) wins. Among bands of
	// equal priority the first one in evaluation order is kept.
	var winner *Evaluation
	for i := range evals {
		if !evals[i].InAlarm {
			continue
		}
		if winner == nil || evals[i].Threshold.Priority < winner.Threshold.Priority {
			winner = &evals[i]
		}
	}

	if winner != nil {
		sig.Priority = winner.Threshold.Priority
		return e.applySignal(ctx, sig, true, winner.Threshold.Value, winner.Threshold.Direction, now)
	}

	// Nothing in_alarm raw — but an ACTIVE/ACKED instance may still be
	// held open by deadband hysteresis.
	inst, exists := e.instances[sig.SensorID]
	if !exists || !inst.State.IsStanding() {
		return e.applySignal(ctx, sig, false, 0, "", now)
	}
	cleared := CheckClearWithDeadband(sig.Value, ThresholdDef{Value: inst.ThresholdValue, Direction: inst.ThresholdDirect}, e.cfg)
	return e.applySignal(ctx, sig, !cleared, inst.ThresholdValue, inst.ThresholdDirect, now)
}

// applySignal runs the state machine transition for one signal and
// the cascade/flood/persistence/publish side effects that follow from
// it. Caller holds mu.
func (e *Engine) applySignal(ctx context.Context, sig schema.AlarmSignal, inAlarm bool, threshold float64, direction string, now time.Time) error {
	inst := e.getOrCreate(sig)
	wasStanding := inst.State.IsStanding()

	var outcome Outcome
	if inAlarm {
		if inst.State == schema.StateCleared {
			if causeID, would := e.cascade.WouldBeSuppressed(sig.Key.Subsystem, sig.Key.Tag, e.activeSnapshot()); would {
				// Raise first for a stable instance, then suppress.
				outcome = inst.Raise(sig.Value, now, threshold, direction)
				if outcome == OutcomeOK {
					e.persistTransition(ctx, inst, "RAISED")
					e.publishEvent(inst, mlmqtt.ActionRaised)
				}
				inst.Suppress(causeID)
				e.persistTransition(ctx, inst, "SUPPRESSED")
				return nil
			}
		}
		outcome = inst.Raise(sig.Value, now, threshold, direction)
	} else {
		outcome = inst.ClearCondition(sig.Value, now)
	}

	switch outcome {
	case OutcomeOK:
		eventType := "RAISED"
		action := mlmqtt.ActionRaised
		if inst.State == schema.StateRtnUnack || inst.State == schema.StateCleared {
			eventType = "CLEARED"
			action = mlmqtt.ActionCleared
		}
		e.persistTransition(ctx, inst, eventType)
		e.publishEvent(inst, action)

		if inst.State == schema.StateActive && !wasStanding {
			if e.checkFlood(sig.Key.Block, now, inst.Priority) {
				return nil // flood event already published; this alarm stays suppressed by flood
			}
			suppressed := e.cascade.OnAlarmRaised(activeAlarm{SensorID: inst.SensorID, Subsystem: sig.Key.Subsystem, Tag: sig.Key.Tag, Instance: inst}, e.activeSnapshot())
			for _, sid := range suppressed {
				if si, ok := e.instances[sid]; ok {
					e.persistTransition(ctx, si, "SUPPRESSED")
				}
			}
		}
		if inst.State == schema.StateCleared {
			unsuppressed := e.cascade.OnAlarmCleared(inst.SensorID, e.activeSnapshot())
			for _, sid := range unsuppressed {
				if si, ok := e.instances[sid]; ok {
					e.persistTransition(ctx, si, "UNSUPPRESSED")
				}
			}
		}
	default:
		// NO_CHANGE still updates last_value/last_seen for stale detection.
		_ = e.store.SaveAlarm(ctx, &inst.AlarmInstance)
	}

	return nil
}

// checkFlood tracks the raise rate per block: more than flood_threshold_count raises
// for one block within flood_threshold_seconds trips a single flood
// event and suppresses subsequent P2/P3 raises in that window.
func (e *Engine) checkFlood(block string, now time.Time, priority schema.AlarmPriority) (suppressedByFlood bool) {
	fw, ok := e.flood[block]
	if !ok || now.Sub(fw.firstRaiseAt) > e.cfg.FloodThresholdWindow {
		fw = &floodWindow{firstRaiseAt: now}
		e.flood[block] = fw
	}
	fw.count++

	if fw.tripped {
		return priority == schema.PriorityP2 || priority == schema.PriorityP3
	}

	if fw.count > e.cfg.FloodThresholdCount {
		fw.tripped = true
		payload, _ := json.Marshal(map[string]interface{}{
			"block": block, "count": fw.count, "window_s": e.cfg.FloodThresholdWindow.Seconds(),
		})
		if e.publisher != nil {
			_ = e.publisher.Publish(fmt.Sprintf("mcs:alarms:flood:%s", block), payload)
		}
		log.Warnf("alarm: flood detected on block %s (%d alarms), suppressing P2/P3 raises", block, fw.count)
	}
	return false
}

func (e *Engine) activeSnapshot() []activeAlarm {
	out := make([]activeAlarm, 0, len(e.instances))
	for _, inst := range e.instances {
		out = append(out, activeAlarm{SensorID: inst.SensorID, Subsystem: inst.Key.Subsystem, Tag: inst.Key.Tag, Instance: inst})
	}
	return out
}

func (e *Engine) persistTransition(ctx context.Context, inst *Instance, eventType string) {
	if err := e.store.SaveAlarm(ctx, &inst.AlarmInstance); err != nil {
		log.Errorf("alarm: save instance sensor=%d: %v", inst.SensorID, err)
	}
	payload, _ := json.Marshal(inst.AlarmInstance)
	ev := schema.AuditEvent{Time: e.clock(), BlockID: inst.Key.Block, EventType: eventType, Payload: payload}
	if err := e.store.SaveAudit(ctx, ev); err != nil {
		log.Errorf("alarm: save audit sensor=%d event=%s: %v", inst.SensorID, eventType, err)
	}
}

func (e *Engine) publishEvent(inst *Instance, action mlmqtt.AlarmEventAction) {
	if e.publisher == nil {
		return
	}
	p := mlmqtt.AlarmEventPayload{
		Time:      e.clock(),
		AlarmID:   inst.ID,
		Action:    action,
		Priority:  inst.Priority.String(),
		SensorTag: inst.Key.Tag,
		Subsystem: inst.Key.Subsystem,
		Value:     inst.LastValue,
		Threshold: inst.ThresholdValue,
		Direction: inst.ThresholdDirect,
	}
	body, err := json.Marshal(p)
	if err != nil {
		log.Errorf("alarm: marshal alarm event: %v", err)
		return
	}
	if err := e.publisher.Publish(fmt.Sprintf("mcs.alarms.%s", inst.Key.Block), body); err != nil {
		log.Warnf("alarm: publish alarm event sensor=%d: %v", inst.SensorID, err)
	}
}

// --- Operator API hooks ---

// Filter narrows List results.
type Filter struct {
	Block    string
	Priority *schema.AlarmPriority
	State    *schema.AlarmState
}

func (f Filter) matches(inst *Instance) bool {
	if f.Block != "" && inst.Key.Block != f.Block {
		return false
	}
	if f.Priority != nil && inst.Priority != *f.Priority {
		return false
	}
	if f.State != nil && inst.State != *f.State {
		return false
	}
	return true
}

// List returns a filtered snapshot of in-memory instances.
func (e *Engine) List(f Filter) []schema.AlarmInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schema.AlarmInstance, 0, len(e.instances))
	for _, inst := range e.instances {
		if f.matches(inst) {
			out = append(out, inst.AlarmInstance)
		}
	}
	return out
}

// ErrNotFound is returned when an operator hook targets an unknown sensor.
var ErrNotFound = fmt.Errorf("alarm: sensor not found")

// ErrInvalidTransition is returned when an operator hook's action is
// not valid in the instance's current state.
var ErrInvalidTransition = fmt.Errorf("alarm: invalid transition")

// Acknowledge runs the operator ack transition for sensorID.
func (e *Engine) Acknowledge(ctx context.Context, sensorID int64, operator string) (schema.AlarmInstance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[sensorID]
	if !ok {
		return schema.AlarmInstance{}, ErrNotFound
	}
	outcome := inst.Acknowledge(operator, e.clock())
	if outcome == OutcomeOK {
		e.persistTransition(ctx, inst, "ACKED")
	}
	return inst.AlarmInstance, nil
}

// Shelve runs the operator shelve transition for sensorID.
func (e *Engine) Shelve(ctx context.Context, sensorID int64, operator, reason string, durationHours float64) (schema.AlarmInstance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[sensorID]
	if !ok {
		return schema.AlarmInstance{}, ErrNotFound
	}
	if durationHours <= 0 {
		durationHours = e.cfg.DefaultShelveDurationHours
	}
	outcome := inst.Shelve(operator, reason, durationHours, e.clock(), e.cfg)
	if outcome == OutcomeInvalid {
		return inst.AlarmInstance, ErrInvalidTransition
	}
	if outcome == OutcomeOK {
		e.persistTransition(ctx, inst, "SHELVED")
	}
	return inst.AlarmInstance, nil
}

// Unshelve runs a manual operator unshelve for sensorID.
func (e *Engine) Unshelve(ctx context.Context, sensorID int64) (schema.AlarmInstance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[sensorID]
	if !ok {
		return schema.AlarmInstance{}, ErrNotFound
	}
	outcome := inst.Unshelve(e.clock())
	if outcome == OutcomeOK {
		e.persistTransition(ctx, inst, "UNSHELVED")
	}
	return inst.AlarmInstance, nil
}

// --- Background maintenance (run by the internal/taskmanager scheduler) ---

// RunShelveExpiry unshelves every instance whose ShelvedUntil has
// passed. Intended to run on cfg.ShelveReevalInterval.
func (e *Engine) RunShelveExpiry(ctx context.Context) int {
	now := e.clock()
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, inst := range e.instances {
		if inst.State != schema.StateShelved || inst.ShelvedUntil == nil {
			continue
		}
		if now.After(*inst.ShelvedUntil) {
			if inst.Unshelve(now) == OutcomeOK {
				e.persistTransition(ctx, inst, "UNSHELVED")
				n++
			}
		}
	}
	return n
}

// RunStaleSweep force-clears ACTIVE/ACKED instances whose last_seen
// predates cfg.StaleTimeout. Intended to run every 60s.
func (e *Engine) RunStaleSweep(ctx context.Context) int {
	now := e.clock()
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, inst := range e.instances {
		if inst.LastSeen == nil {
			continue
		}
		if now.Sub(*inst.LastSeen) <= e.cfg.StaleTimeout {
			continue
		}
		if inst.ForceClear(now) == OutcomeOK {
			e.persistTransition(ctx, inst, "STALE_TIMEOUT")
			n++
		}
	}
	return n
}

// CascadeStats exposes cumulative cascade counters for diagnostics.
func (e *Engine) CascadeStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cascade.Stats()
}
