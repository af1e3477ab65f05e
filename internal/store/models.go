package store

import (
	"encoding/json"
	"time"

	"github.com/mohammad-safakhou/docwatch/internal/contentdiff"
)

// Method identifies how a document's content is ingested.
type Method string

const (
	MethodWeb        Method = "web"
	MethodNotion     Method = "notion-private"
	MethodGoogleDocs Method = "googledocs-private"
	MethodConfluence Method = "confluence-private"
	MethodGitHub     Method = "github"
)

// Valid reports whether m is a known ingestion method.
func (m Method) Valid() bool {
	switch m {
	case MethodWeb, MethodNotion, MethodGoogleDocs, MethodConfluence, MethodGitHub:
		return true
	}
	return false
}

// Document is a tracked content source with its latest text snapshot.
type Document struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"orgId"`
	URL           string    `json:"url"`
	Method        Method    `json:"method"`
	Title         string    `json:"title"`
	Favicon       string    `json:"favicon,omitempty"`
	Content       string    `json:"content,omitempty"`
	IsJustAdded   bool      `json:"isJustAdded"`
	CreatedBy     string    `json:"createdBy,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// DocumentUpdate carries a refreshed snapshot produced by a scan pass.
// An empty Title keeps the stored one.
type DocumentUpdate struct {
	ID            string
	Content       string
	Title         string
	LastUpdatedAt time.Time
}

// LinkType is the scope of a code link.
type LinkType string

const (
	LinkFile   LinkType = "file"
	LinkFolder LinkType = "folder"
	LinkLines  LinkType = "lines"
)

// CodeLink binds a document to a file, folder or line range in a repository.
type CodeLink struct {
	ID        string    `json:"id"`
	DocID     string    `json:"docId"`
	OrgID     string    `json:"orgId"`
	Provider  string    `json:"provider"`
	File      string    `json:"file"`
	GitOrg    string    `json:"gitOrg"`
	Repo      string    `json:"repo"`
	Branch    string    `json:"branch,omitempty"`
	Type      LinkType  `json:"type"`
	Line      *int      `json:"line,omitempty"`
	EndLine   *int      `json:"endLine,omitempty"`
	SHA       string    `json:"sha,omitempty"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventType tags an event.
type EventType string

const (
	EventAdd    EventType = "add"
	EventChange EventType = "change"
)

// Event is an append-only record of a document addition or change.
type Event struct {
	ID        string                `json:"id"`
	OrgID     string                `json:"orgId"`
	DocID     string                `json:"docId"`
	Type      EventType             `json:"type"`
	Change    []contentdiff.Segment `json:"change"`
	CreatedAt time.Time             `json:"createdAt"`
}

// AutomationRecord is the flat persisted form of an automation rule.
type AutomationRecord struct {
	ID               string
	OrgID            string
	Name             string
	TriggerKind      string
	TriggerDocID     string
	TriggerRepo      string
	DestinationKind  string
	DestinationValue string
	IsActive         bool
	CreatedBy        string
	CreatedAt        time.Time
}

// Scan job states.
const (
	JobPending   = "pending"
	JobActive    = "active"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// ScanJob tracks one queued scan of an organization.
type ScanJob struct {
	ID            string          `json:"id"`
	OrgID         string          `json:"orgId"`
	State         string          `json:"state"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	Attempts      int             `json:"attempts"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
