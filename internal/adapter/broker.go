// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package adapter

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/microlinkdc/mcs/pkg/log"
)

// LocalBroker is the edge site's local MQTT broker connection: every
// adapter and the orchestrator's bridge publish telemetry and alarm
// signals here using the microlink/... topic tree (pkg/mlmqtt), over
// eclipse/paho.mqtt.golang.
type LocalBroker struct {
	client mqtt.Client
}

// NewLocalBroker dials brokerURL (e.g. "tcp://127.0.0.1:1883") and
// returns a connected broker handle.
func NewLocalBroker(brokerURL, clientID string) (*LocalBroker, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnf("adapter: local broker connection lost: %v", err)
		})

	c := mqtt.NewClient(opts)
	if tok := c.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("adapter: connect local broker %s: %w", brokerURL, tok.Error())
	}
	return &LocalBroker{client: c}, nil
}

// Publish sends payload on topic at QoS 1, an at-least-once delivery
// posture appropriate for ingestible data.
func (b *LocalBroker) Publish(topic string, payload []byte) error {
	tok := b.client.Publish(topic, 1, false, payload)
	tok.Wait()
	return tok.Error()
}

// PublishRetained sends payload on topic at QoS 1, retained — used for
// the heartbeat topic so a newly-connecting subscriber sees the last
// known state immediately.
func (b *LocalBroker) PublishRetained(topic string, payload []byte) error {
	tok := b.client.Publish(topic, 1, true, payload)
	tok.Wait()
	return tok.Error()
}

// Subscribe registers a handler for topic, used by the edge
// orchestrator's command listener.
func (b *LocalBroker) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	tok := b.client.Subscribe(topic, 1, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	tok.Wait()
	return tok.Error()
}

// Close disconnects from the broker, waiting up to 250ms to flush.
func (b *LocalBroker) Close() {
	b.client.Disconnect(250)
}
