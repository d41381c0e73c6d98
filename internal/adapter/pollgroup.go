// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/microlinkdc/mcs/internal/config"
	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/mlmqtt"
	"github.com/microlinkdc/mcs/pkg/schema"
)

var (
	readLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mcs",
		Subsystem: "adapter",
		Name:      "read_latency_seconds",
		Help:      "End-to-end read latency per poll group cycle.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"poll_group"})

	cycleOverruns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcs",
		Subsystem: "adapter",
		Name:      "cycle_overruns_total",
		Help:      "Poll cycles that took longer than their configured interval.",
	}, []string{"poll_group"})
)

func init() {
	prometheus.MustRegister(readLatency, cycleOverruns)
}

// mappedPoint binds a point's config-time mapping to the device it is
// read from and the per-point evaluation/sequence state that must
// persist across poll cycles.
type mappedPoint struct {
	device       *Device
	mapping      schema.PointMapping
	eval         *pointEvaluator
	seq          uint64
	covAttempted bool
}

// PollGroup runs one cooperative polling task: every cycle it reads
// every point in the group across all devices, evaluates alarms at
// source, publishes telemetry and alarm-edge events to the local
// broker, and sleeps for the remainder of the interval.
type PollGroup struct {
	Name     schema.PollGroupName
	Interval time.Duration
	Site     string
	Block    string

	points []*mappedPoint
	broker *LocalBroker
	clock  func() time.Time
}

// NewPollGroup assembles a poll group from every device's points whose
// poll_group matches name.
func NewPollGroup(name schema.PollGroupName, interval time.Duration, site, block string, devices []*Device, broker *LocalBroker) *PollGroup {
	pg := &PollGroup{
		Name:     name,
		Interval: interval,
		Site:     site,
		Block:    block,
		broker:   broker,
		clock:    time.Now,
	}
	for _, dev := range devices {
		for _, m := range dev.Cfg.Points {
			if m.PollGroup != name {
				continue
			}
			pg.points = append(pg.points, &mappedPoint{device: dev, mapping: m, eval: newPointEvaluator()})
		}
	}
	return pg
}

// Run executes poll cycles until ctx is canceled. It never skips a
// cycle's work to catch up on lost time — an overrun simply means the
// next cycle starts immediately instead of after a sleep.
func (pg *PollGroup) Run(ctx context.Context) {
	log.Infof("adapter: poll group %s starting with %d points, interval %s", pg.Name, len(pg.points), pg.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := pg.clock()
		pg.runCycle(ctx)
		elapsed := pg.clock().Sub(start)
		readLatency.WithLabelValues(string(pg.Name)).Observe(elapsed.Seconds())

		remaining := pg.Interval - elapsed
		if remaining <= 0 {
			cycleOverruns.WithLabelValues(string(pg.Name)).Inc()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(remaining):
		}
	}
}

func (pg *PollGroup) runCycle(ctx context.Context) {
	now := pg.clock()
	for _, p := range pg.points {
		connected, err := p.device.ensureConnected(ctx, now)
		if err != nil {
			log.Warnf("adapter: device %s reconnect failed: %v", p.device.Cfg.Name, err)
			pg.publishQuality(p, now, 0, schema.QualityBad)
			continue
		}
		if !connected {
			pg.publishQuality(p, now, 0, schema.QualityBad)
			continue
		}
		pg.subscribeCOVOnce(ctx, p)

		reading, err := p.device.Reader.Read(ctx, p.mapping)
		p.device.recordReadOutcome(err)

		value, quality := mapQuality(reading.Raw, p.mapping, err)
		pg.publish(p, now, value, quality)
	}
}

// subscribeCOVOnce attempts a BACnet Change-of-Value subscription the
// first time a configured point's device is seen online; a failure
// leaves that point on plain present-value polling for the life of
// the process.
func (pg *PollGroup) subscribeCOVOnce(ctx context.Context, p *mappedPoint) {
	if p.covAttempted || !p.mapping.BACnetSubscribeCOV {
		return
	}
	p.covAttempted = true
	br, ok := p.device.Reader.(*BACnetReader)
	if !ok {
		return
	}
	if err := br.Subscribe(ctx, p.mapping); err != nil {
		log.Warnf("adapter: %s falling back to polling: %v", p.mapping.Tag, err)
	}
}

// publishQuality is used for points whose device is currently
// unreachable: it emits a BAD-quality zero reading rather than
// silently dropping the tag.
func (pg *PollGroup) publishQuality(p *mappedPoint, now time.Time, value float64, quality schema.Quality) {
	pg.publish(p, now, value, quality)
}

func (pg *PollGroup) publish(p *mappedPoint, now time.Time, value float64, quality schema.Quality) {
	p.seq++

	band := p.eval.evaluate(value, p.mapping.AlarmThresholds, now)
	action := p.eval.transition(band)

	payload := mlmqtt.TelemetryPayload{
		Time:  now,
		Value: value,
		Unit:  p.mapping.Unit,
		Qual:  quality.String(),
		Seq:   p.seq,
	}
	if band != nil {
		pr := band.Priority.String()
		payload.Alarm = &pr
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("adapter: marshal telemetry payload for %s: %v", p.mapping.Tag, err)
		return
	}

	topic := mlmqtt.TelemetryTopic(pg.Site, pg.Block, p.mapping.Subsystem, p.mapping.Tag)
	if err := pg.broker.Publish(topic, raw); err != nil {
		log.Warnf("adapter: publish telemetry %s: %v", topic, err)
	}

	if action != edgeNone && action != edgeCleared {
		pg.publishAlarmEvent(p, now, value, *band, action)
	} else if action == edgeCleared {
		pg.publishClearEvent(p, now, value)
	}
}

func (pg *PollGroup) publishAlarmEvent(p *mappedPoint, now time.Time, value float64, band schema.ThresholdBand, action edgeAction) {
	ev := mlmqtt.AlarmEventPayload{
		Time:      now,
		Action:    mlmqtt.AlarmEventAction(action),
		Priority:  band.Priority.String(),
		SensorTag: p.mapping.Tag,
		Subsystem: p.mapping.Subsystem,
		Value:     value,
		Threshold: band.Value,
		Direction: band.Direction().String(),
	}
	pg.publishAlarmPayload(ev)
}

func (pg *PollGroup) publishClearEvent(p *mappedPoint, now time.Time, value float64) {
	ev := mlmqtt.AlarmEventPayload{
		Time:      now,
		Action:    mlmqtt.ActionCleared,
		SensorTag: p.mapping.Tag,
		Subsystem: p.mapping.Subsystem,
		Value:     value,
	}
	pg.publishAlarmPayload(ev)
}

func (pg *PollGroup) publishAlarmPayload(ev mlmqtt.AlarmEventPayload) {
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("adapter: marshal alarm event for %s: %v", ev.SensorTag, err)
		return
	}
	priority := ev.Priority
	if priority == "" {
		priority = "P3"
	}
	topic := mlmqtt.AlarmTopic(pg.Site, pg.Block, priority)
	if err := pg.broker.Publish(topic, raw); err != nil {
		log.Warnf("adapter: publish alarm event %s: %v", topic, err)
	}
}

// BuildPollGroups groups every device's points by poll_group and
// returns one PollGroup per configured group.
func BuildPollGroups(cfg *config.ProcessConfig, devices []*Device, broker *LocalBroker) []*PollGroup {
	groups := make([]*PollGroup, 0, len(cfg.PollGroups))
	for _, g := range cfg.PollGroups {
		interval := time.Duration(g.IntervalMS) * time.Millisecond
		if interval <= 0 {
			interval = time.Second
		}
		groups = append(groups, NewPollGroup(g.Name, interval, cfg.Site, cfg.Block, devices, broker))
	}
	return groups
}
