// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskmanager schedules the alarm engine's periodic maintenance
// jobs — shelve expiry, stale-alarm sweeping, and threshold/cascade-rule
// refresh — plus the ingest pipeline's age-based batch flush, on top of
// go-co-op/gocron/v2.
package taskmanager
