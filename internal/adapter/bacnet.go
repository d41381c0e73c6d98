// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package adapter

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	bacnet "github.com/alexbeltran/gobacnet"
	bactypes "github.com/alexbeltran/gobacnet/types"

	"github.com/microlinkdc/mcs/internal/config"
	"github.com/microlinkdc/mcs/pkg/log"
	"github.com/microlinkdc/mcs/pkg/schema"
)

// bacnetObjectTypes maps object-kind names to the
// BACnet standard object type codes.
var bacnetObjectTypes = map[schema.BACnetObjectKind]bactypes.ObjectType{
	schema.BACnetAI: bactypes.AnalogInput,
	schema.BACnetAV: bactypes.AnalogValue,
	schema.BACnetBI: bactypes.BinaryInput,
	schema.BACnetBV: bactypes.BinaryValue,
}

// BACnetReader reads the present-value property of AI/AV/BI/BV objects,
// strictly read-only. Subscribe registers a Change-of-Value
// subscription; for a point with BACnetSubscribeCOV set, Read returns
// the value cached by OnCOVNotification when one is present and
// otherwise issues a ReadProperty. This package starts no COV listener
// and nothing in it calls OnCOVNotification, so every Read polls.
//
// Built on alexbeltran/gobacnet, the ecosystem BACnet stack adopted
// for this adapter.
type BACnetReader struct {
	client *bacnet.Client
	device bactypes.Device

	mu  sync.Mutex
	cov map[uint32]float64 // instance -> last COV-reported value
}

// NewBACnetReader builds a reader for one device, not yet connected.
func NewBACnetReader(dev config.DeviceConfig) *BACnetReader {
	return &BACnetReader{cov: make(map[uint32]float64)}
}

func (r *BACnetReader) Connect(ctx context.Context) error {
	c, err := bacnet.NewClient("", 0)
	if err != nil {
		return fmt.Errorf("adapter: bacnet client init: %w", err)
	}
	r.client = c
	return nil
}

func (r *BACnetReader) Close() error {
	if r.client != nil {
		r.client.Close()
	}
	return nil
}

// Subscribe registers a Change-of-Value subscription for a point.
// A failure here is not fatal to the reader: the poll
// group simply falls back to reading present-value every cycle.
func (r *BACnetReader) Subscribe(ctx context.Context, m schema.PointMapping) error {
	objType, ok := bacnetObjectTypes[m.BACnetObject]
	if !ok {
		return fmt.Errorf("adapter: unknown bacnet object kind %q for %s", m.BACnetObject, m.Tag)
	}
	obj := bactypes.Object{
		ID: bactypes.ObjectID{Type: objType, Instance: m.BACnetInstance},
	}
	sub := bactypes.SubscribeCOV{
		Recipient:     r.device,
		SubscriberID:  1,
		ObjectID:      obj.ID,
		Confirmed:     false,
		LifetimeInSec: 3600,
	}
	if err := r.client.SubscribeCOV(r.device, sub); err != nil {
		return fmt.Errorf("adapter: bacnet subscribe cov %s/%d: %w", m.BACnetObject, m.BACnetInstance, err)
	}
	log.Debugf("adapter: subscribed COV for %s instance %d", m.Tag, m.BACnetInstance)
	return nil
}

func (r *BACnetReader) Read(ctx context.Context, m schema.PointMapping) (Reading, error) {
	objType, ok := bacnetObjectTypes[m.BACnetObject]
	if !ok {
		return Reading{}, &ErrReadFailed{Tag: m.Tag, Err: fmt.Errorf("unknown bacnet object kind %q", m.BACnetObject)}
	}

	instance := m.BACnetInstance
	if instance == 0 && m.Address != "" {
		if n, err := strconv.ParseUint(m.Address, 10, 32); err == nil {
			instance = uint32(n)
		}
	}

	if m.BACnetSubscribeCOV {
		r.mu.Lock()
		v, ok := r.cov[instance]
		r.mu.Unlock()
		if ok {
			return Reading{Raw: v*m.Scale + m.Offset}, nil
		}
		// no COV notification yet this cycle; fall through to polling
	}

	rp := bactypes.ReadPropertyData{
		Object: bactypes.Object{
			ID: bactypes.ObjectID{Type: objType, Instance: instance},
			Properties: []bactypes.Property{
				{Type: bactypes.PropPresentValue, ArrayIndex: bactypes.ArrayAll},
			},
		},
	}

	out, err := r.client.ReadProperty(r.device, rp)
	if err != nil {
		return Reading{}, &ErrReadFailed{Tag: m.Tag, Err: err}
	}
	if len(out.Object.Properties) == 0 || len(out.Object.Properties[0].Data) == 0 {
		return Reading{}, &ErrReadFailed{Tag: m.Tag, Err: fmt.Errorf("empty present-value response")}
	}

	val, err := bacnetPrimitive(out.Object.Properties[0].Data[0])
	if err != nil {
		return Reading{}, &ErrReadFailed{Tag: m.Tag, Err: err}
	}
	return Reading{Raw: val*m.Scale + m.Offset}, nil
}

// OnCOVNotification caches a COV-reported value so the next Read() of
// that instance can use it instead of issuing a fresh ReadProperty.
// Nothing in this package calls it.
func (r *BACnetReader) OnCOVNotification(instance uint32, value float64, at time.Time) {
	r.mu.Lock()
	r.cov[instance] = value
	r.mu.Unlock()
}

func bacnetPrimitive(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case uint32:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("adapter: unsupported bacnet present-value go type %T", v)
	}
}
