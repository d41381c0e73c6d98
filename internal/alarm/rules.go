// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package alarm

import "github.com/microlinkdc/mcs/pkg/schema"

// DefaultCascadeRules mirrors the stock rule set for a 1MW MicroLink
// block. Sites override or extend these via the cascade_rules table.
func DefaultCascadeRules() []schema.CascadeRule {
	return []schema.CascadeRule{
		{
			CauseTagPattern:   `ML-PUMP-[AB]-SPEED`,
			CauseSubsystem:    "thermal-l2",
			EffectTagPatterns: []string{`ML-FLOW`, `PHX-01-.*`, `HOST-FLOW`},
			EffectSubsystems:  []string{"thermal-l2", "thermal-l3"},
			Description:       "Primary pump trip suppresses downstream flow and heat exchanger alarms",
		},
		{
			CauseTagPattern:   `CDU-\d{2}-PUMP-SPEED`,
			CauseSubsystem:    "thermal-l1",
			EffectTagPatterns: []string{`CDU-\d{2}-FLOW`, `CDU-\d{2}-P-DIFF`, `RK-\d{2}-T-OUT`},
			EffectSubsystems:  []string{"thermal-l1"},
			Description:       "CDU pump trip suppresses CDU flow, pressure, and rack outlet temp alarms",
		},
		{
			CauseTagPattern:   `V-MSB-L[123]`,
			CauseSubsystem:    "electrical",
			EffectTagPatterns: []string{`UPS-\d{2}-.*`, `P-MSB-TOTAL`},
			EffectSubsystems:  []string{"electrical"},
			Description:       "Mains voltage loss suppresses UPS and power meter alarms",
		},
		{
			CauseTagPattern:   `LSH-0[12]-LEAK-.*`,
			CauseSubsystem:    "thermal-safety",
			EffectTagPatterns: []string{`.*-FLOW`, `.*-P-.*`},
			EffectSubsystems:  []string{"thermal-l1", "thermal-l2", "thermal-l3"},
			Description:       "Leak detection suppresses flow and pressure alarms (isolation valve closing)",
		},
		{
			CauseTagPattern:   `WAN-.*|VPN-STATUS`,
			CauseSubsystem:    "network",
			EffectTagPatterns: []string{`SW-\d{2}-.*`},
			EffectSubsystems:  []string{"network"},
			Description:       "WAN/VPN loss suppresses switch alarms (unreachable, not failed)",
		},
	}
}
