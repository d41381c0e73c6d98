// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// mcs-edge-orchestrator runs the store-and-forward buffer and cloud
// bridge: every message the adapters publish locally is durably
// queued, replayed to the cloud link in throttled batches, and the
// process also serves the four remote commands and the retained
// heartbeat topic.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/microlinkdc/mcs/internal/adapter"
	"github.com/microlinkdc/mcs/internal/bridge"
	"github.com/microlinkdc/mcs/internal/config"
	"github.com/microlinkdc/mcs/internal/fanout"
	"github.com/microlinkdc/mcs/internal/runtimeEnv"
	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/mlmqtt"
	natsclient "github.com/microlinkdc/mcs/pkg/nats"
)

func main() {
	var flagConfigFile string
	flag.StringVar(&flagConfigFile, "config", "./config.yaml", "Path to the process YAML configuration")
	flag.Parse()

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLogLevel(cfg.LogLevel)
	log.SetLogDateTime(cfg.LogDateTime)

	local, err := adapter.ConnectLocalBroker(cfg)
	if err != nil {
		log.Fatalf("edge-orchestrator: connecting to local broker: %s", err.Error())
	}

	natsCfg := natsclient.NatsConfigFromAddress(
		cfg.CloudBroker.NatsAddress(), cfg.CloudBroker.Username, cfg.CloudBroker.Password)
	natsClient, err := natsclient.NewClient(&natsCfg)
	if err != nil {
		log.Warnf("edge-orchestrator: cloud link unavailable at startup, buffering until it recovers: %v", err)
	}
	bus := fanout.New(natsClient)

	buf, err := bridge.Open(cfg.Buffer.DB, cfg.Buffer.Capacity)
	if err != nil {
		log.Fatalf("edge-orchestrator: opening store-and-forward buffer: %s", err.Error())
	}

	replayCfg := bridge.DefaultReplayConfig()
	if cfg.Buffer.ReplayBatchSize > 0 {
		replayCfg.BatchSize = cfg.Buffer.ReplayBatchSize
	}
	if cfg.Buffer.ReplayPauseMS > 0 {
		replayCfg.Pause = time.Duration(cfg.Buffer.ReplayPauseMS) * time.Millisecond
	}
	orch := bridge.NewOrchestrator(buf, bus, replayCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	forwardPrefix := "microlink/" + cfg.Site + "/" + cfg.Block + "/"
	if err := local.Subscribe(forwardPrefix+"#", func(topic string, payload []byte) {
		if mlmqtt.IsCommandTopic(topic) {
			return // commands are request/response, never buffered for cloud replay
		}
		if err := orch.Forward(ctx, topic, payload, 1, false); err != nil {
			log.Errorf("edge-orchestrator: enqueue %s: %v", topic, err)
		}
	}); err != nil {
		log.Fatalf("edge-orchestrator: subscribing to local broker traffic: %s", err.Error())
	}

	diagnose := func(ctx context.Context) map[string]interface{} {
		depth, _ := buf.Depth(ctx)
		return map[string]interface{}{
			"buffer_depth":    depth,
			"buffer_capacity": buf.Capacity,
			"cloud_connected": bus.Connected(),
		}
	}
	cmdHandler := bridge.NewCommandHandler(cfg.Site, cfg.Block, local, orch, nil, nil, diagnose)
	if err := cmdHandler.Listen(); err != nil {
		log.Fatalf("edge-orchestrator: listening for commands: %s", err.Error())
	}

	heartbeat := bridge.NewHeartbeatPublisher(cfg.Site, cfg.Block, cfg.Site+"-"+cfg.Block, 30*time.Second, "/", local, orch, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		orch.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		heartbeat.Run(ctx)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	runtimeEnv.SystemdNotifiy(true, "running")
	log.Infof("edge-orchestrator: running for site=%s block=%s", cfg.Site, cfg.Block)

	<-sigs
	runtimeEnv.SystemdNotifiy(false, "shutting down")
	cancel()
	wg.Wait()

	if err := buf.Close(); err != nil {
		log.Errorf("edge-orchestrator: closing buffer: %v", err)
	}
	local.Close()
	if natsClient != nil {
		natsClient.Close()
	}
	log.Print("Gracefull shutdown completed!")
}
