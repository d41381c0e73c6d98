// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/microlinkdc/mcs/internal/config"
	"github.com/microlinkdc/mcs/internal/fanout"
	"github.com/microlinkdc/mcs/internal/ingest"
	"github.com/microlinkdc/mcs/internal/repository"
	"github.com/microlinkdc/mcs/internal/runtimeEnv"
	"github.com/microlinkdc/mcs/internal/sensorcache"
	"github.com/microlinkdc/mcs/internal/taskmanager"
	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/mlmqtt"
	natsclient "github.com/microlinkdc/mcs/pkg/nats"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// mcs-ingestor runs the cloud ingestion path: it subscribes to every
// block's telemetry subject, resolves sensor keys through the
// three-tier cache, batches rows into storage, and forwards
// alarm-flagged readings to the alarm engine.
func main() {
	var flagConfigFile string
	var flagMigrateDB bool
	flag.StringVar(&flagConfigFile, "config", "./config.yaml", "Path to the process YAML configuration")
	flag.BoolVar(&flagMigrateDB, "migrate-db", false, "Migrate the shared sensor/alarm/telemetry schema to the supported version and exit")
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

	if flagMigrateDB {
		if err := repository.MigrateDB(cfg.Storage.Driver, cfg.Storage.DB); err != nil {
			log.Fatalf("ingestor: migrate-db: %s", err.Error())
		}
		log.Print("Database migrated successfully.")
		return
	}

	repository.Connect(cfg.Storage.Driver, cfg.Storage.DB)

	natsCfg := natsclient.NatsConfigFromAddress(
		cfg.CloudBroker.NatsAddress(), cfg.CloudBroker.Username, cfg.CloudBroker.Password)
	natsClient, err := natsclient.NewClient(&natsCfg)
	if err != nil {
		log.Fatalf("ingestor: connecting to cloud NATS: %s", err.Error())
	}
	bus := fanout.New(natsClient)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	sensorRepo := repository.GetSensorRepository()
	cache := sensorcache.New(redisClient, sensorRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cache.Warm(ctx, sensorRepo); err != nil {
		log.Fatalf("ingestor: warming sensor cache: %s", err.Error())
	}

	telemetryRepo := repository.GetTelemetryRepository()
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	batchAge := time.Duration(cfg.BatchAgeMS) * time.Millisecond
	if batchAge <= 0 {
		batchAge = 5 * time.Second
	}
	highWater := cfg.BatchHighWaterMark
	if highWater <= 0 {
		highWater = 5000
	}
	batch := ingest.NewBatchWriter(telemetryRepo, batchSize, batchAge, highWater)

	alarmRepo := repository.GetAlarmRepository()
	pipeline := ingest.NewPipeline(cache, alarmRepo, batch, bus)

	if err := taskmanager.Start(ctx, taskmanager.Config{
		BatchFlushInterval: batchAge,
	}, nil, batch); err != nil {
		log.Warnf("ingestor: starting age-based batch flush: %v", err)
	}

	if err := natsClient.Subscribe("microlink.>", func(subject string, data []byte) {
		topic := mlmqtt.FromNatsSubject(subject)
		if !mlmqtt.IsTelemetryTopic(topic) {
			return // alarm/heartbeat traffic forwarded for fanout subscribers, not ingested here
		}
		pipeline.HandleMessage(ctx, topic, data)
	}); err != nil {
		log.Fatalf("ingestor: subscribing to forwarded edge topics: %s", err.Error())
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
		if err := batch.Flush(context.Background()); err != nil {
			log.Errorf("ingestor: final flush on shutdown: %v", err)
		}
		natsClient.Close()
		cancel()
	}()

	runtimeEnv.SystemdNotifiy(true, "running")
	log.Infof("ingestor: running for site=%s", cfg.Site)
	wg.Wait()
	log.Print("Gracefull shutdown completed!")
}
