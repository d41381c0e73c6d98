// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/microlinkdc/mcs/pkg/log"
)

// processSchema is intentionally loose: it enforces the document's
// shape (storage driver is one of the supported drivers, broker ports
// are sane) without requiring every process-specific section, since a
// single schema covers five different binaries that each use a subset
// of the document.
const processSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"storage": {
			"type": "object",
			"properties": {
				"driver": {"enum": ["sqlite3", "mysql"]}
			}
		},
		"edge_broker": {
			"type": "object",
			"properties": {
				"port": {"type": "integer", "minimum": 1, "maximum": 65535}
			}
		},
		"cloud_broker": {
			"type": "object",
			"properties": {
				"port": {"type": "integer", "minimum": 1, "maximum": 65535}
			}
		},
		"buffer": {
			"type": "object",
			"properties": {
				"capacity": {"type": "integer", "minimum": 0}
			}
		}
	}
}`

// Validate checks a raw YAML document against processSchema. YAML is
// decoded to a generic interface{} first since jsonschema validates
// JSON-shaped Go values (map[string]interface{}), not YAML nodes
// directly.
func Validate(raw []byte) error {
	sch, err := jsonschema.CompileString("mcs-process-config.json", processSchema)
	if err != nil {
		log.Fatalf("config: compile schema: %v", err)
	}

	var v interface{}
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}
	v = toStringKeyed(v)

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config: schema validation: %w", err)
	}
	return nil
}

// toStringKeyed recursively walks the map[string]interface{} and
// []interface{} values gopkg.in/yaml.v3 produces when decoding into
// interface{}, copying them into fresh maps and slices for jsonschema.
func toStringKeyed(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[k] = toStringKeyed(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = toStringKeyed(e)
		}
		return out
	default:
		return val
	}
}
