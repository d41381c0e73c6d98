// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// mcs-edge-adapter runs the protocol adapter framework:
// one cooperative polling goroutine per configured poll group, reading
// every mapped point across every device on that group's cadence and
// publishing to the edge-local MQTT broker.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/microlinkdc/mcs/internal/adapter"
	"github.com/microlinkdc/mcs/internal/config"
	"github.com/microlinkdc/mcs/internal/runtimeEnv"
	"github.com/microlinkdc/mcs/pkg/log"
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

	broker, err := adapter.ConnectLocalBroker(cfg)
	if err != nil {
		log.Fatalf("edge-adapter: connecting to local broker: %s", err.Error())
	}

	devices, err := adapter.BuildDevices(cfg)
	if err != nil {
		log.Fatalf("edge-adapter: building devices: %s", err.Error())
	}
	groups := adapter.BuildPollGroups(cfg, devices, broker)
	if len(groups) == 0 {
		log.Warnf("edge-adapter: no poll groups configured for site=%s block=%s", cfg.Site, cfg.Block)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, pg := range groups {
		wg.Add(1)
		go func(pg *adapter.PollGroup) {
			defer wg.Done()
			pg.Run(ctx)
		}(pg)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	runtimeEnv.SystemdNotifiy(true, "running")
	log.Infof("edge-adapter: running for site=%s block=%s with %d devices", cfg.Site, cfg.Block, len(devices))

	<-sigs
	runtimeEnv.SystemdNotifiy(false, "shutting down")
	cancel()
	wg.Wait()
	broker.Close()
	log.Print("Gracefull shutdown completed!")
}
