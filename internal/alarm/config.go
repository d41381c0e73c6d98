// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package alarm

import "time"

// Config holds the engine's tuning parameters.
type Config struct {
	// Shelving
	MaxShelveDurationHours     float64       `yaml:"max_shelve_duration_hours"`
	DefaultShelveDurationHours float64       `yaml:"default_shelve_duration_hours"`
	ShelveRequiresReason       bool          `yaml:"shelve_requires_reason"`
	ShelveReevalInterval       time.Duration `yaml:"shelve_reeval_interval"`

	// Deadband (hysteresis), expressed as a fraction of threshold (0.02 = 2%).
	DeadbandFraction float64 `yaml:"deadband_fraction"`

	// Flood suppression.
	FloodThresholdCount  int           `yaml:"flood_threshold_count"`
	FloodThresholdWindow time.Duration `yaml:"flood_threshold_window"`

	// Stale alarm detection.
	StaleTimeout time.Duration `yaml:"stale_timeout"`
	StaleSweep   time.Duration `yaml:"stale_sweep_interval"`

	// Threshold/cascade registry refresh cadence.
	ThresholdRefresh time.Duration `yaml:"threshold_refresh_interval"`
	CascadeRefresh   time.Duration `yaml:"cascade_refresh_interval"`
}

// DefaultConfig returns the stock tuning parameters for a typical
// MicroLink block deployment.
func DefaultConfig() Config {
	return Config{
		MaxShelveDurationHours:     24,
		DefaultShelveDurationHours: 8,
		ShelveRequiresReason:       true,
		ShelveReevalInterval:       5 * time.Minute,
		DeadbandFraction:           0.02,
		FloodThresholdCount:        20,
		FloodThresholdWindow:       60 * time.Second,
		StaleTimeout:               30 * time.Minute,
		StaleSweep:                 60 * time.Second,
		ThresholdRefresh:           5 * time.Minute,
		CascadeRefresh:             5 * time.Minute,
	}
}
