// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/microlinkdc/mcs/internal/alarm"
	"github.com/microlinkdc/mcs/internal/ingest"
	"github.com/microlinkdc/mcs/pkg/log"
)

var s gocron.Scheduler

// Config holds the tick intervals for every registered job. Zero
// values fall back to the alarm engine's own defaults (see
// internal/alarm.DefaultConfig) or, for the batch flush, 5 seconds.
type Config struct {
	ShelveReevalInterval time.Duration
	StaleSweepInterval   time.Duration
	ThresholdRefresh     time.Duration
	CascadeRefresh       time.Duration
	BatchFlushInterval   time.Duration
}

// Start builds and starts the gocron scheduler, registering the alarm
// engine's maintenance jobs and, if non-nil, the ingest pipeline's
// age-based batch flush.
func Start(ctx context.Context, cfg Config, engine *alarm.Engine, batch *ingest.BatchWriter) error {
	var err error
	s, err = gocron.NewScheduler()
	if err != nil {
		return err
	}

	if engine != nil {
		registerEvery(cfg.ShelveReevalInterval, 5*time.Minute, "alarm-shelve-expiry", func() {
			n := engine.RunShelveExpiry(ctx)
			if n > 0 {
				log.Infof("taskmanager: expired %d shelved alarms", n)
			}
		})

		registerEvery(cfg.StaleSweepInterval, time.Minute, "alarm-stale-sweep", func() {
			n := engine.RunStaleSweep(ctx)
			if n > 0 {
				log.Infof("taskmanager: force-cleared %d stale alarms", n)
			}
		})

		registerEvery(cfg.ThresholdRefresh, 5*time.Minute, "alarm-threshold-refresh", func() {
			if err := engine.RefreshThresholds(ctx); err != nil {
				log.Warnf("taskmanager: threshold refresh: %v", err)
			}
		})

		registerEvery(cfg.CascadeRefresh, 5*time.Minute, "alarm-cascade-refresh", func() {
			if err := engine.RefreshCascadeRules(ctx); err != nil {
				log.Warnf("taskmanager: cascade rule refresh: %v", err)
			}
		})
	}

	if batch != nil {
		registerEvery(cfg.BatchFlushInterval, 5*time.Second, "ingest-batch-flush", func() {
			if batch.Len() == 0 {
				return
			}
			if err := batch.Flush(ctx); err != nil {
				log.Warnf("taskmanager: age-based batch flush: %v", err)
			}
		})
	}

	s.Start()
	return nil
}

func registerEvery(interval, fallback time.Duration, name string, job func()) {
	if interval <= 0 {
		interval = fallback
	}
	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(job),
		gocron.WithName(name),
	); err != nil {
		log.Errorf("taskmanager: could not register job %s: %v", name, err)
	}
}

// Shutdown stops the scheduler.
func Shutdown() {
	if s != nil {
		_ = s.Shutdown()
	}
}
