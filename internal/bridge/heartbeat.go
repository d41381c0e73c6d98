// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/mlmqtt"
)

// AdapterStatus is supplied by whatever supervises adapter processes,
// for the heartbeat's per-adapter section.
type AdapterStatus func() map[string]mlmqtt.AdapterState

// HeartbeatPublisher periodically publishes the retained edge
// heartbeat topic: buffer depth/oldest-record/link state plus host
// vitals sampled with gopsutil.
type HeartbeatPublisher struct {
	Site, Block string
	EdgeID      string
	Interval    time.Duration
	DiskPath    string

	local     LocalLink
	orch      *Orchestrator
	adapters  AdapterStatus
	startedAt time.Time
}

// NewHeartbeatPublisher builds a publisher. adapters may be nil, in
// which case the heartbeat's adapter map is always empty.
func NewHeartbeatPublisher(site, block, edgeID string, interval time.Duration, diskPath string, local LocalLink, orch *Orchestrator, adapters AdapterStatus) *HeartbeatPublisher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &HeartbeatPublisher{
		Site: site, Block: block, EdgeID: edgeID, Interval: interval, DiskPath: diskPath,
		local: local, orch: orch, adapters: adapters, startedAt: time.Now(),
	}
}

// Run publishes a heartbeat every Interval until ctx is canceled.
func (h *HeartbeatPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		h.publishOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *HeartbeatPublisher) publishOnce(ctx context.Context) {
	payload := mlmqtt.HeartbeatPayload{
		EdgeID:  h.EdgeID,
		UptimeS: time.Since(h.startedAt).Seconds(),
		System:  sampleSystemState(h.DiskPath),
	}

	if h.adapters != nil {
		payload.Adapters = h.adapters()
	} else {
		payload.Adapters = map[string]mlmqtt.AdapterState{}
	}

	if h.orch != nil {
		depth, err := h.orch.buf.Depth(ctx)
		if err != nil {
			log.Warnf("bridge: heartbeat buffer depth: %v", err)
		}
		oldest, err := h.orch.buf.OldestTimestamp(ctx)
		if err != nil {
			log.Warnf("bridge: heartbeat oldest record: %v", err)
		}
		payload.Buffer = mlmqtt.BufferState{
			Depth:          depth,
			Capacity:       h.orch.buf.Capacity,
			OldestTS:       oldest,
			CloudConnected: h.orch.link.Connected(),
			ReplayActive:   h.orch.replaying.Load(),
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("bridge: marshal heartbeat: %v", err)
		return
	}
	topic := mlmqtt.HeartbeatTopic(h.Site, h.Block)
	if err := h.local.PublishRetained(topic, raw); err != nil {
		log.Warnf("bridge: publish heartbeat: %v", err)
	}
}

// sampleSystemState reads host vitals via gopsutil; any sampling
// failure leaves that field at zero rather than aborting the
// heartbeat, since a partial heartbeat is still useful.
func sampleSystemState(diskPath string) mlmqtt.SystemState {
	var s mlmqtt.SystemState

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemPercent = vm.UsedPercent
	}
	if du, err := disk.Usage(diskPath); err == nil {
		s.DiskPercent = du.UsedPercent
	}
	// gopsutil's temperature sensors are platform-dependent and often
	// unavailable in containers; TempC stays 0 when unsupported.
	return s
}
