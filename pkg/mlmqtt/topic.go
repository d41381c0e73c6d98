// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mlmqtt builds and parses the microlink/... topic tree and its
// JSON payload schemas. It is shared by the edge adapters, the edge
// orchestrator's bridge, and the cloud ingestor so that all three agree
// on the wire format without importing each other.
package mlmqtt

import (
	"fmt"
	"regexp"
	"strings"
)

// Subsystems is the fixed closed set a telemetry topic's subsystem
// segment must belong to.
var Subsystems = map[string]bool{
	"electrical":     true,
	"thermal-l1":     true,
	"thermal-l2":     true,
	"thermal-l3":     true,
	"thermal-reject": true,
	"thermal-safety": true,
	"environmental":  true,
	"network":        true,
	"security":       true,
	"host-bms":       true,
}

var (
	idSeg  = `[a-z0-9_-]+`
	tagSeg = `[A-Za-z0-9_-]+`

	telemetryTopicRE = regexp.MustCompile(`^microlink/(` + idSeg + `)/(` + idSeg + `)/(` + idSeg + `)/(` + tagSeg + `)$`)
	alarmTopicRE     = regexp.MustCompile(`^microlink/(` + idSeg + `)/(` + idSeg + `)/alarms/(P[0-3])$`)
	commandTopicRE   = regexp.MustCompile(`^microlink/(` + idSeg + `)/(` + idSeg + `)/command/(` + idSeg + `)$`)
	heartbeatTopicRE = regexp.MustCompile(`^microlink/(` + idSeg + `)/(` + idSeg + `)/edge/heartbeat$`)
)

// ParsedTopic is the decomposed form of a telemetry topic.
type ParsedTopic struct {
	Site      string
	Block     string
	Subsystem string
	Tag       string
}

// ParseTelemetryTopic validates and decomposes a topic against
// microlink/{site}/{block}/{subsystem}/{tag}, enforcing the character
// classes and closed subsystem set.
func ParseTelemetryTopic(topic string) (ParsedTopic, error) {
	m := telemetryTopicRE.FindStringSubmatch(topic)
	if m == nil {
		return ParsedTopic{}, fmt.Errorf("mlmqtt: topic %q does not match microlink/{site}/{block}/{subsystem}/{tag}", topic)
	}
	pt := ParsedTopic{Site: m[1], Block: m[2], Subsystem: m[3], Tag: m[4]}
	if !Subsystems[pt.Subsystem] {
		return ParsedTopic{}, fmt.Errorf("mlmqtt: unknown subsystem %q", pt.Subsystem)
	}
	return pt, nil
}

// TelemetryTopic builds microlink/{site}/{block}/{subsystem}/{tag}.
func TelemetryTopic(site, block, subsystem, tag string) string {
	return fmt.Sprintf("microlink/%s/%s/%s/%s", site, block, subsystem, tag)
}

// AlarmTopic builds microlink/{site}/{block}/alarms/{priority}.
func AlarmTopic(site, block, priority string) string {
	return fmt.Sprintf("microlink/%s/%s/alarms/%s", site, block, priority)
}

// HeartbeatTopic builds microlink/{site}/{block}/edge/heartbeat.
func HeartbeatTopic(site, block string) string {
	return fmt.Sprintf("microlink/%s/%s/edge/heartbeat", site, block)
}

// CommandTopic builds microlink/{site}/{block}/command/{kind}.
func CommandTopic(site, block, kind string) string {
	return fmt.Sprintf("microlink/%s/%s/command/%s", site, block, kind)
}

// CommandResponseTopic builds microlink/{site}/{block}/command/response.
func CommandResponseTopic(site, block string) string {
	return fmt.Sprintf("microlink/%s/%s/command/response", site, block)
}

// ParseCommandTopic decomposes a command topic, returning the command
// kind (the topic's leaf segment).
func ParseCommandTopic(topic string) (site, block, kind string, err error) {
	m := commandTopicRE.FindStringSubmatch(topic)
	if m == nil {
		return "", "", "", fmt.Errorf("mlmqtt: topic %q is not a command topic", topic)
	}
	return m[1], m[2], m[3], nil
}

// NatsSubject rewrites a slash-delimited microlink/... MQTT topic into
// a dot-delimited NATS subject, so the edge bridge's forwarded traffic
// remains wildcard-subscribable on the cloud leg (NATS tokenizes on
// "." only; "/" is just another literal subject character to it).
func NatsSubject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// FromNatsSubject reverses NatsSubject, recovering the original MQTT
// topic string from a received NATS subject.
func FromNatsSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// IsCommandTopic reports whether topic belongs to the command/# family,
// used by the bridge to exclude it from the local-broker forwarding
// subscription.
func IsCommandTopic(topic string) bool {
	return commandTopicRE.MatchString(topic)
}

// IsTelemetryTopic reports whether topic matches the per-point
// telemetry shape, as opposed to an alarm or heartbeat topic also
// riding the forwarded edge-to-cloud stream. Used by the ingestor to
// skip dead-lettering the alarm/heartbeat traffic it never consumes.
func IsTelemetryTopic(topic string) bool {
	return telemetryTopicRE.MatchString(topic) && !alarmTopicRE.MatchString(topic) && !heartbeatTopicRE.MatchString(topic)
}
