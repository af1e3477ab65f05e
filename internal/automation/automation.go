// Package automation holds user configured notification rules and the
// dispatcher that fires them when documents or linked code change.
package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// TriggerKind selects what fires a rule.
type TriggerKind string

const (
	TriggerDoc  TriggerKind = "doc"
	TriggerCode TriggerKind = "code"
)

// DestinationKind selects where a rule delivers.
type DestinationKind string

const (
	DestinationSlack   DestinationKind = "slack"
	DestinationEmail   DestinationKind = "email"
	DestinationWebhook DestinationKind = "webhook"
)

// Trigger is the source side of a rule. DocID is set for doc triggers and
// Repo for code triggers, never both.
type Trigger struct {
	Kind  TriggerKind `json:"kind"`
	DocID string      `json:"docId,omitempty"`
	Repo  string      `json:"repo,omitempty"`
}

// Destination is where a notification goes: a Slack channel name, an email
// address or a webhook URL.
type Destination struct {
	Kind  DestinationKind `json:"kind"`
	Value string          `json:"value"`
}

func (d Destination) String() string { return string(d.Kind) + ":" + d.Value }

// Automation is a validated rule.
type Automation struct {
	ID          string      `json:"id"`
	OrgID       string      `json:"orgId"`
	Name        string      `json:"name"`
	Trigger     Trigger     `json:"trigger"`
	Destination Destination `json:"destination"`
	IsActive    bool        `json:"isActive"`
	CreatedBy   string      `json:"createdBy,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Validate enforces the union rules of trigger and destination.
func (a Automation) Validate() error {
	if a.OrgID == "" {
		return fmt.Errorf("org is required")
	}
	switch a.Trigger.Kind {
	case TriggerDoc:
		if a.Trigger.DocID == "" || a.Trigger.Repo != "" {
			return fmt.Errorf("doc trigger requires docId only")
		}
	case TriggerCode:
		if a.Trigger.Repo == "" || a.Trigger.DocID != "" {
			return fmt.Errorf("code trigger requires repo only")
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", a.Trigger.Kind)
	}
	value := strings.TrimSpace(a.Destination.Value)
	if value == "" {
		return fmt.Errorf("destination value is required")
	}
	switch a.Destination.Kind {
	case DestinationSlack:
		if strings.ContainsAny(strings.TrimPrefix(value, "#"), " #") {
			return fmt.Errorf("invalid slack channel %q", value)
		}
	case DestinationEmail:
		if _, err := mail.ParseAddress(value); err != nil {
			return fmt.Errorf("invalid email address: %w", err)
		}
	case DestinationWebhook:
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("invalid webhook url %q", value)
		}
	default:
		return fmt.Errorf("unknown destination kind %q", a.Destination.Kind)
	}
	return nil
}

// FromRecord converts a stored row into a rule.
func FromRecord(r store.AutomationRecord) Automation {
	return Automation{
		ID:    r.ID,
		OrgID: r.OrgID,
		Name:  r.Name,
		Trigger: Trigger{
			Kind:  TriggerKind(r.TriggerKind),
			DocID: r.TriggerDocID,
			Repo:  r.TriggerRepo,
		},
		Destination: Destination{
			Kind:  DestinationKind(r.DestinationKind),
			Value: r.DestinationValue,
		},
		IsActive:  r.IsActive,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
	}
}

// Record converts a rule into its stored row.
func (a Automation) Record() store.AutomationRecord {
	return store.AutomationRecord{
		ID:               a.ID,
		OrgID:            a.OrgID,
		Name:             a.Name,
		TriggerKind:      string(a.Trigger.Kind),
		TriggerDocID:     a.Trigger.DocID,
		TriggerRepo:      a.Trigger.Repo,
		DestinationKind:  string(a.Destination.Kind),
		DestinationValue: strings.TrimSpace(a.Destination.Value),
		IsActive:         a.IsActive,
		CreatedBy:        a.CreatedBy,
		CreatedAt:        a.CreatedAt,
	}
}

const requestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["trigger", "destination"],
  "properties": {
    "name": {"type": "string", "maxLength": 200},
    "isActive": {"type": "boolean"},
    "trigger": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {"enum": ["doc", "code"]},
        "docId": {"type": "string", "minLength": 1},
        "repo": {"type": "string", "minLength": 1}
      },
      "additionalProperties": false
    },
    "destination": {
      "type": "object",
      "required": ["kind", "value"],
      "properties": {
        "kind": {"enum": ["slack", "email", "webhook"]},
        "value": {"type": "string", "minLength": 1}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func requestValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("automation.json", strings.NewReader(requestSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("automation.json")
	})
	return schema, schemaErr
}

// Decode parses an untrusted request body into a rule for orgID. The body is
// checked against the request schema first, then against Validate. Rules are
// active unless the body says otherwise.
func Decode(orgID string, body []byte) (Automation, error) {
	sch, err := requestValidator()
	if err != nil {
		return Automation{}, err
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Automation{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return Automation{}, fmt.Errorf("invalid automation: %w", err)
	}
	var req struct {
		Name        string      `json:"name"`
		IsActive    *bool       `json:"isActive"`
		Trigger     Trigger     `json:"trigger"`
		Destination Destination `json:"destination"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		return Automation{}, fmt.Errorf("decode automation: %w", err)
	}
	a := Automation{
		OrgID:       orgID,
		Name:        req.Name,
		Trigger:     req.Trigger,
		Destination: req.Destination,
		IsActive:    true,
	}
	if req.IsActive != nil {
		a.IsActive = *req.IsActive
	}
	if err := a.Validate(); err != nil {
		return Automation{}, err
	}
	return a, nil
}
