// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/mlmqtt"
)

// LocalLink is the local-broker boundary the command listener and
// heartbeat publisher use. Satisfied by internal/adapter.LocalBroker.
type LocalLink interface {
	Publish(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// AdapterRestarter restarts one named adapter process; registered by
// whatever supervises the adapter binaries.
type AdapterRestarter func(ctx context.Context, name string) error

// CommandHandler listens on microlink/{site}/{block}/command/{kind}
// and dispatches the four commands (config_reload, adapter_restart,
// buffer_flush, diagnostics_request), replying on command/response.
type CommandHandler struct {
	Site, Block string

	local    LocalLink
	orch     *Orchestrator
	reload   func(ctx context.Context) error
	restart  AdapterRestarter
	diagnose func(ctx context.Context) map[string]interface{}
}

// NewCommandHandler builds a handler. reload, restart, and diagnose
// may be nil, in which case the corresponding command is rejected.
func NewCommandHandler(site, block string, local LocalLink, orch *Orchestrator, reload func(ctx context.Context) error, restart AdapterRestarter, diagnose func(ctx context.Context) map[string]interface{}) *CommandHandler {
	return &CommandHandler{Site: site, Block: block, local: local, orch: orch, reload: reload, restart: restart, diagnose: diagnose}
}

// Listen subscribes to every command kind this handler serves.
func (h *CommandHandler) Listen() error {
	for _, kind := range []string{"config_reload", "adapter_restart", "buffer_flush", "diagnostics_request"} {
		topic := mlmqtt.CommandTopic(h.Site, h.Block, kind)
		if err := h.local.Subscribe(topic, h.handle); err != nil {
			return fmt.Errorf("bridge: subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (h *CommandHandler) handle(topic string, payload []byte) {
	var env mlmqtt.CommandEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warnf("bridge: malformed command on %s: %v", topic, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp := h.dispatch(ctx, env)
	resp.RequestID = env.RequestID
	h.respond(resp)
}

func (h *CommandHandler) dispatch(ctx context.Context, env mlmqtt.CommandEnvelope) mlmqtt.CommandResponse {
	switch env.Cmd {
	case "config_reload":
		if h.reload == nil {
			return mlmqtt.CommandResponse{Status: mlmqtt.StatusRejected, Reason: "config reload not supported by this process"}
		}
		if err := h.reload(ctx); err != nil {
			return mlmqtt.CommandResponse{Status: mlmqtt.StatusError, Reason: err.Error()}
		}
		return mlmqtt.CommandResponse{Status: mlmqtt.StatusAccepted}

	case "adapter_restart":
		if h.restart == nil {
			return mlmqtt.CommandResponse{Status: mlmqtt.StatusRejected, Reason: "adapter restart not supported by this process"}
		}
		var params struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(env.Params, &params); err != nil || params.Name == "" {
			return mlmqtt.CommandResponse{Status: mlmqtt.StatusRejected, Reason: "missing adapter name"}
		}
		if err := h.restart(ctx, params.Name); err != nil {
			return mlmqtt.CommandResponse{Status: mlmqtt.StatusError, Reason: err.Error()}
		}
		return mlmqtt.CommandResponse{Status: mlmqtt.StatusAccepted}

	case "buffer_flush":
		if h.orch == nil {
			return mlmqtt.CommandResponse{Status: mlmqtt.StatusRejected, Reason: "no buffer on this process"}
		}
		if err := h.orch.buf.Flush(ctx); err != nil {
			return mlmqtt.CommandResponse{Status: mlmqtt.StatusError, Reason: err.Error()}
		}
		return mlmqtt.CommandResponse{Status: mlmqtt.StatusAccepted}

	case "diagnostics_request":
		if h.diagnose == nil {
			return mlmqtt.CommandResponse{Status: mlmqtt.StatusRejected, Reason: "no diagnostics on this process"}
		}
		return mlmqtt.CommandResponse{Status: mlmqtt.StatusAccepted, Result: h.diagnose(ctx)}

	default:
		return mlmqtt.CommandResponse{Status: mlmqtt.StatusRejected, Reason: fmt.Sprintf("unknown command %q", env.Cmd)}
	}
}

func (h *CommandHandler) respond(resp mlmqtt.CommandResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("bridge: marshal command response: %v", err)
		return
	}
	topic := mlmqtt.CommandResponseTopic(h.Site, h.Block)
	if err := h.local.Publish(topic, raw); err != nil {
		log.Warnf("bridge: publish command response: %v", err)
	}
}
