// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package adapter

import (
	"fmt"

	"github.com/microlinkdc/mcs/internal/config"
)

// BuildDevices constructs one Device per configured device, failing
// fast on the first unrecognized protocol so a typo in the YAML
// document is caught at startup rather than mid-poll-cycle.
func BuildDevices(cfg *config.ProcessConfig) ([]*Device, error) {
	devices := make([]*Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		dev, err := NewDevice(d, cfg.Timeouts)
		if err != nil {
			return nil, fmt.Errorf("adapter: building device %s: %w", d.Name, err)
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// ConnectLocalBroker dials the edge-local MQTT broker described in the
// process config's EdgeBroker section.
func ConnectLocalBroker(cfg *config.ProcessConfig) (*LocalBroker, error) {
	url := fmt.Sprintf("tcp://%s:%d", cfg.EdgeBroker.Host, cfg.EdgeBroker.Port)
	clientID := cfg.EdgeBroker.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("mcs-edge-adapter-%s-%s", cfg.Site, cfg.Block)
	}
	return NewLocalBroker(url, clientID)
}
