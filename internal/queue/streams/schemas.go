package streams

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Event types carried on docwatch streams.
const (
	EventScanRequested = "scan.requested"
	PayloadV1          = "v1"
)

// Definition is the JSON schema of one event payload version.
type Definition struct {
	EventType string
	Version   string
	Schema    string
}

var scanRequestedV1 = Definition{
	EventType: EventScanRequested,
	Version:   PayloadV1,
	Schema: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["job_id", "org_id", "trigger"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "org_id": {"type": "string", "minLength": 1},
    "trigger": {"type": "string", "enum": ["api", "schedule", "cli", "retry"]},
    "requested_by": {"type": "string"}
  },
  "additionalProperties": false
}`,
}

type schemaKey struct{ event, version string }

// SchemaRegistry holds compiled payload schemas per event type and version.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[schemaKey]*jsonschema.Schema
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[schemaKey]*jsonschema.Schema)}
}

// Register compiles def. Registering the same event and version again
// replaces the previous schema.
func (r *SchemaRegistry) Register(def Definition) error {
	if def.EventType == "" || def.Version == "" {
		return fmt.Errorf("schema needs an event type and version, got %q %q", def.EventType, def.Version)
	}
	url := def.EventType + "." + def.Version + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, strings.NewReader(def.Schema)); err != nil {
		return fmt.Errorf("add %s %s: %w", def.EventType, def.Version, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile %s %s: %w", def.EventType, def.Version, err)
	}
	r.mu.Lock()
	r.schemas[schemaKey{def.EventType, def.Version}] = compiled
	r.mu.Unlock()
	return nil
}

// Validate checks env.Data against the schema of its event type and version.
func (r *SchemaRegistry) Validate(env Envelope) error {
	r.mu.RLock()
	sch, ok := r.schemas[schemaKey{env.EventType, env.PayloadVersion}]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no schema for %s %s", env.EventType, env.PayloadVersion)
	}
	var doc any
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		return fmt.Errorf("decode %s data: %w", env.EventType, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%s data: %w", env.EventType, err)
	}
	return nil
}

// RegisterBaseSchemas installs the schemas of every event docwatch publishes.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	return reg.Register(scanRequestedV1)
}
