// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/microlinkdc/mcs/pkg/mlmqtt"
)

// fakeLocalLink records published payloads instead of talking to a
// real broker.
type fakeLocalLink struct {
	published []publishedMsg
}

type publishedMsg struct {
	topic   string
	payload []byte
}

func (f *fakeLocalLink) Publish(topic string, payload []byte) error {
	f.published = append(f.published, publishedMsg{topic, payload})
	return nil
}

func (f *fakeLocalLink) PublishRetained(topic string, payload []byte) error {
	return f.Publish(topic, payload)
}

func (f *fakeLocalLink) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	return nil
}

func (f *fakeLocalLink) lastResponse(tb testing.TB) mlmqtt.CommandResponse {
	tb.Helper()
	if len(f.published) == 0 {
		tb.Fatal("expected a command response to be published")
	}
	var resp mlmqtt.CommandResponse
	if err := json.Unmarshal(f.published[len(f.published)-1].payload, &resp); err != nil {
		tb.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestDispatchConfigReloadAccepted(t *testing.T) {
	local := &fakeLocalLink{}
	h := NewCommandHandler("site1", "block1", local, nil,
		func(ctx context.Context) error { return nil }, nil, nil)

	resp := h.dispatch(context.Background(), mlmqtt.CommandEnvelope{Cmd: "config_reload"})
	if resp.Status != mlmqtt.StatusAccepted {
		t.Fatalf("expected accepted, got %s (%s)", resp.Status, resp.Reason)
	}
}

func TestDispatchConfigReloadRejectedWhenUnsupported(t *testing.T) {
	local := &fakeLocalLink{}
	h := NewCommandHandler("site1", "block1", local, nil, nil, nil, nil)

	resp := h.dispatch(context.Background(), mlmqtt.CommandEnvelope{Cmd: "config_reload"})
	if resp.Status != mlmqtt.StatusRejected {
		t.Fatalf("expected rejected, got %s", resp.Status)
	}
}

func TestDispatchConfigReloadError(t *testing.T) {
	local := &fakeLocalLink{}
	h := NewCommandHandler("site1", "block1", local, nil,
		func(ctx context.Context) error { return errors.New("boom") }, nil, nil)

	resp := h.dispatch(context.Background(), mlmqtt.CommandEnvelope{Cmd: "config_reload"})
	if resp.Status != mlmqtt.StatusError || resp.Reason != "boom" {
		t.Fatalf("expected error status with reason boom, got %s %q", resp.Status, resp.Reason)
	}
}

func TestDispatchAdapterRestartMissingName(t *testing.T) {
	local := &fakeLocalLink{}
	h := NewCommandHandler("site1", "block1", local, nil, nil,
		func(ctx context.Context, name string) error { return nil }, nil)

	resp := h.dispatch(context.Background(), mlmqtt.CommandEnvelope{Cmd: "adapter_restart", Params: json.RawMessage(`{}`)})
	if resp.Status != mlmqtt.StatusRejected {
		t.Fatalf("expected rejected for missing adapter name, got %s", resp.Status)
	}
}

func TestDispatchAdapterRestartAccepted(t *testing.T) {
	local := &fakeLocalLink{}
	var restarted string
	h := NewCommandHandler("site1", "block1", local, nil, nil,
		func(ctx context.Context, name string) error { restarted = name; return nil }, nil)

	resp := h.dispatch(context.Background(), mlmqtt.CommandEnvelope{Cmd: "adapter_restart", Params: json.RawMessage(`{"name":"modbus-1"}`)})
	if resp.Status != mlmqtt.StatusAccepted {
		t.Fatalf("expected accepted, got %s (%s)", resp.Status, resp.Reason)
	}
	if restarted != "modbus-1" {
		t.Fatalf("expected restart called with modbus-1, got %q", restarted)
	}
}

func TestDispatchDiagnosticsRequest(t *testing.T) {
	local := &fakeLocalLink{}
	h := NewCommandHandler("site1", "block1", local, nil, nil, nil,
		func(ctx context.Context) map[string]interface{} { return map[string]interface{}{"ok": true} })

	resp := h.dispatch(context.Background(), mlmqtt.CommandEnvelope{Cmd: "diagnostics_request"})
	if resp.Status != mlmqtt.StatusAccepted {
		t.Fatalf("expected accepted, got %s", resp.Status)
	}
	if resp.Result["ok"] != true {
		t.Fatalf("expected result ok=true, got %v", resp.Result)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	local := &fakeLocalLink{}
	h := NewCommandHandler("site1", "block1", local, nil, nil, nil, nil)

	resp := h.dispatch(context.Background(), mlmqtt.CommandEnvelope{Cmd: "bogus"})
	if resp.Status != mlmqtt.StatusRejected {
		t.Fatalf("expected rejected for unknown command, got %s", resp.Status)
	}
}

func TestHandlePublishesResponseWithRequestID(t *testing.T) {
	local := &fakeLocalLink{}
	h := NewCommandHandler("site1", "block1", local, nil,
		func(ctx context.Context) error { return nil }, nil, nil)

	env := mlmqtt.CommandEnvelope{Cmd: "config_reload", RequestID: "req-42"}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	h.handle("microlink/site1/block1/command/config_reload", raw)

	resp := local.lastResponse(t)
	if resp.RequestID != "req-42" {
		t.Fatalf("expected request id req-42, got %q", resp.RequestID)
	}
	if resp.Status != mlmqtt.StatusAccepted {
		t.Fatalf("expected accepted, got %s", resp.Status)
	}
}

func TestHandleMalformedPayloadIsIgnored(t *testing.T) {
	local := &fakeLocalLink{}
	h := NewCommandHandler("site1", "block1", local, nil, nil, nil, nil)

	h.handle("microlink/site1/block1/command/config_reload", []byte("not json"))

	if len(local.published) != 0 {
		t.Fatal("expected no response published for a malformed command")
	}
}

func TestDispatchBufferFlushNoBuffer(t *testing.T) {
	local := &fakeLocalLink{}
	h := NewCommandHandler("site1", "block1", local, nil, nil, nil, nil)

	resp := h.dispatch(context.Background(), mlmqtt.CommandEnvelope{Cmd: "buffer_flush"})
	if resp.Status != mlmqtt.StatusRejected {
		t.Fatalf("expected rejected when no buffer is attached, got %s", resp.Status)
	}
}
