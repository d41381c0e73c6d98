// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package adapter

import (
	"math"

	"github.com/microlinkdc/mcs/pkg/schema"
)

// mapQuality implements quality mapping: a failed read is
// BAD with a zero value, a value outside the point's plausible range is
// UNCERTAIN, everything else is GOOD.
func mapQuality(value float64, m schema.PointMapping, readErr error) (float64, schema.Quality) {
	if readErr != nil {
		return 0, schema.QualityBad
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, schema.QualityBad
	}
	if m.PlausibleMin != 0 || m.PlausibleMax != 0 {
		if value < m.PlausibleMin || value > m.PlausibleMax {
			return value, schema.QualityUncertain
		}
	}
	return value, schema.QualityGood
}
