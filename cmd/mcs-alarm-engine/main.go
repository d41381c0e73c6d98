// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/microlinkdc/mcs/internal/alarm"
	"github.com/microlinkdc/mcs/internal/config"
	"github.com/microlinkdc/mcs/internal/fanout"
	"github.com/microlinkdc/mcs/internal/repository"
	"github.com/microlinkdc/mcs/internal/runtimeEnv"
	"github.com/microlinkdc/mcs/internal/taskmanager"
	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/mlmqtt"
	natsclient "github.com/microlinkdc/mcs/pkg/nats"
	"github.com/microlinkdc/mcs/pkg/schema"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// mcs-alarm-engine evaluates inbound alarm signals against the
// threshold/cascade registry and publishes alarm lifecycle events.
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

	repository.Connect(cfg.Storage.Driver, cfg.Storage.DB)

	natsCfg := natsclient.NatsConfigFromAddress(
		cfg.CloudBroker.NatsAddress(), cfg.CloudBroker.Username, cfg.CloudBroker.Password)
	natsClient, err := natsclient.NewClient(&natsCfg)
	if err != nil {
		log.Fatalf("alarm-engine: connecting to cloud NATS: %s", err.Error())
	}
	bus := fanout.New(natsClient)

	alarmRepo := repository.GetAlarmRepository()
	engineCfg := cfg.Alarm.ToEngineConfig()
	engine := alarm.NewEngine(engineCfg, alarmRepo, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Boot(ctx); err != nil {
		log.Fatalf("alarm-engine: boot: %s", err.Error())
	}
	if err := engine.RefreshCascadeRules(ctx); err != nil {
		log.Fatalf("alarm-engine: initial cascade rule load: %s", err.Error())
	}

	if err := natsClient.Subscribe("mcs.alarms.inbound", func(subject string, data []byte) {
		var sig mlmqtt.InboundAlarmSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			log.Warnf("alarm-engine: malformed inbound signal: %v", err)
			return
		}
		engine.HandleSignal(ctx, schema.AlarmSignal{
			SensorID:  sig.SensorID,
			Key:       schema.SensorKey{Site: sig.SiteID, Block: sig.BlockID, Subsystem: sig.Subsystem, Tag: sig.Tag},
			Priority:  mustParsePriority(sig.Priority),
			Value:     sig.Value,
			Timestamp: sig.Timestamp,
		})
	}); err != nil {
		log.Fatalf("alarm-engine: subscribing to inbound alarm channel: %s", err.Error())
	}

	if err := taskmanager.Start(ctx, taskmanager.Config{
		ShelveReevalInterval: engineCfg.ShelveReevalInterval,
		StaleSweepInterval:   engineCfg.StaleSweep,
		ThresholdRefresh:     engineCfg.ThresholdRefresh,
		CascadeRefresh:       engineCfg.CascadeRefresh,
	}, engine, nil); err != nil {
		log.Fatalf("alarm-engine: starting scheduled maintenance: %s", err.Error())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		taskmanager.Shutdown()
		natsClient.Close()
		cancel()
	}()

	runtimeEnv.SystemdNotifiy(true, "running")
	log.Infof("alarm-engine: running for site=%s block=%s", cfg.Site, cfg.Block)
	wg.Wait()
	log.Print("Gracefull shutdown completed!")
}

func mustParsePriority(s string) schema.AlarmPriority {
	p, err := schema.ParsePriority(s)
	if err != nil {
		return schema.PriorityP3
	}
	return p
}
