package server

import (
	"github.com/mohammad-safakhou/docwatch/internal/alerts"
	"github.com/mohammad-safakhou/docwatch/internal/automation"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// JobResponse carries the id of an enqueued scan.
type JobResponse struct {
	JobID string `json:"jobId"`
}

// DocumentRequest names a page to preview or track.
type DocumentRequest struct {
	URL    string       `json:"url"`
	Method store.Method `json:"method"`
}

// PreviewResponse is the fetched content of a page that is not stored.
type PreviewResponse struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Favicon string `json:"favicon,omitempty"`
	Content string `json:"content"`
}

// DocumentResponse wraps a stored document and the automations report of
// its add event.
type DocumentResponse struct {
	Document store.Document     `json:"document"`
	Created  bool               `json:"created"`
	Notified *automation.Report `json:"notified,omitempty"`
}

// LinkRequest registers a code link. DocID "create" tracks DocURL as a new
// web document first.
type LinkRequest struct {
	DocID    string         `json:"docId"`
	DocURL   string         `json:"docUrl,omitempty"`
	URL      string         `json:"url"`
	Provider string         `json:"provider,omitempty"`
	File     string         `json:"file"`
	GitOrg   string         `json:"gitOrg"`
	Repo     string         `json:"repo"`
	Branch   string         `json:"branch,omitempty"`
	Type     store.LinkType `json:"type"`
	Line     *int           `json:"line,omitempty"`
	EndLine  *int           `json:"endLine,omitempty"`
	SHA      string         `json:"sha,omitempty"`
}

// ToggleRequest flips an automation on or off.
type ToggleRequest struct {
	IsActive *bool `json:"isActive"`
}

// ChangedFileRequest is one file of a change set as GitHub reports it.
type ChangedFileRequest struct {
	Filename string `json:"filename"`
	Patch    string `json:"patch"`
}

// AlertsRequest asks which tracked docs a change set affects.
type AlertsRequest struct {
	Owner      string               `json:"owner"`
	Repo       string               `json:"repo"`
	BaseSHA    string               `json:"baseSha,omitempty"`
	Files      []ChangedFileRequest `json:"files"`
	Candidates []alerts.Candidate   `json:"candidates,omitempty"`
}

// AlertsResponse lists alerts, possibly none.
type AlertsResponse struct {
	Alerts   []alerts.Alert     `json:"alerts"`
	Notified *automation.Report `json:"notified,omitempty"`
}

// HealthResponse reports liveness and queue backlog.
type HealthResponse struct {
	Status     string `json:"status"`
	Pending    int64  `json:"pending"`
	Lag        int64  `json:"lag"`
	OldestIdle string `json:"oldestIdle,omitempty"`
	QueueError string `json:"queueError,omitempty"`
}
