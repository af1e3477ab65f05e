package streams

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope wraps every entry on a docwatch stream. OrgID scopes the entry so
// lag and drop logs can name the organization without decoding Data.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	PayloadVersion string          `json:"payload_version"`
	OrgID          string          `json:"org_id"`
	Attempt        int             `json:"attempt"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Data           json.RawMessage `json:"data"`
}

// NewEnvelope encodes payload as the data of an orgID-scoped envelope.
func NewEnvelope(eventType, version, orgID string, attempt int, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventType:      eventType,
		PayloadVersion: version,
		OrgID:          orgID,
		Attempt:        attempt,
		OccurredAt:     time.Now().UTC(),
		Data:           data,
	}, nil
}

var errOrgMismatch = errors.New("payload org does not match envelope org")

// Check verifies the envelope fields. A scan.requested envelope must also
// carry the same org as its payload, so a job can never be routed to one
// organization while scanning another.
func (e *Envelope) Check() error {
	switch {
	case e.EventID == "":
		return errors.New("event_id is required")
	case e.EventType == "":
		return errors.New("event_type is required")
	case e.PayloadVersion == "":
		return errors.New("payload_version is required")
	case e.Attempt < 0:
		return fmt.Errorf("attempt %d is negative", e.Attempt)
	case len(e.Data) == 0:
		return errors.New("data is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.EventType != EventScanRequested {
		return nil
	}
	if e.OrgID == "" {
		return fmt.Errorf("%s needs org_id", e.EventType)
	}
	var scope struct {
		OrgID string `json:"org_id"`
	}
	if err := json.Unmarshal(e.Data, &scope); err != nil {
		return fmt.Errorf("decode %s data: %w", e.EventType, err)
	}
	if scope.OrgID != e.OrgID {
		return fmt.Errorf("%w: %q vs %q", errOrgMismatch, scope.OrgID, e.OrgID)
	}
	return nil
}

// Marshal checks and encodes the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.Check(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes and checks a stream entry.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.Check(); err != nil {
		return env, err
	}
	return env, nil
}
