// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// mcs-fanout is the standalone pub/sub gateway: it
// embeds a NATS broker so the outbound alarm channel and per-block
// telemetry buckets are reachable without standing up a separate
// nats-server process. The engine and ingestor are themselves NATS
// clients (internal/fanout.Bus) and can instead be pointed at an
// external NATS deployment, in which case this binary isn't run at
// all — "can be embedded in ingestor" in the module layout.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/microlinkdc/mcs/internal/config"
	"github.com/microlinkdc/mcs/internal/runtimeEnv"
	"github.com/microlinkdc/mcs/pkg/log"
)

func main() {
	var flagConfigFile, flagListen string
	var flagPort int
	flag.StringVar(&flagConfigFile, "config", "./config.yaml", "Path to the process YAML configuration")
	flag.StringVar(&flagListen, "listen-host", "", "Override the listen host (defaults to cloud_broker.host from config)")
	flag.IntVar(&flagPort, "listen-port", 0, "Override the listen port (defaults to cloud_broker.port from config)")
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

	host := flagListen
	if host == "" {
		host = cfg.CloudBroker.Host
	}
	port := flagPort
	if port == 0 {
		port = cfg.CloudBroker.Port
	}
	if port == 0 {
		port = 4222
	}

	opts := &server.Options{
		Host:      host,
		Port:      port,
		JetStream: false,
	}
	if cfg.CloudBroker.Username != "" {
		opts.Username = cfg.CloudBroker.Username
		opts.Password = cfg.CloudBroker.Password
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		log.Fatalf("fanout: building embedded NATS server: %s", err.Error())
	}
	ns.SetLoggerV2(&natsLogAdapter{}, false, false, false)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		log.Fatal("fanout: embedded NATS server did not become ready within 10s")
	}
	log.Infof("fanout: embedded pub/sub gateway listening at %s:%d (alarms: mcs.alarms.*, telemetry: mcs.telemetry.*)", host, port)

	runtimeEnv.SystemdNotifiy(true, "running")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	runtimeEnv.SystemdNotifiy(false, "shutting down")
	ns.Shutdown()
	ns.WaitForShutdown()
	log.Print("Gracefull shutdown completed!")
}

// natsLogAdapter routes the embedded server's log lines through
// pkg/log so a single logging convention applies across every mcs-*
// binary.
type natsLogAdapter struct{}

func (natsLogAdapter) Noticef(format string, v ...interface{}) { log.Infof(format, v...) }
func (natsLogAdapter) Warnf(format string, v ...interface{})   { log.Warnf(format, v...) }
func (natsLogAdapter) Errorf(format string, v ...interface{})  { log.Errorf(format, v...) }
func (natsLogAdapter) Fatalf(format string, v ...interface{})  { log.Fatalf(format, v...) }
func (natsLogAdapter) Tracef(format string, v ...interface{})  { log.Debugf(format, v...) }
func (natsLogAdapter) Debugf(format string, v ...interface{})  { log.Debugf(format, v...) }
