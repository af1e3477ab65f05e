package automation

import (
	"fmt"
	"regexp"

	"github.com/mohammad-safakhou/docwatch/internal/alerts"
	"github.com/mohammad-safakhou/docwatch/internal/contentdiff"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// Message is a rendered notification. Text uses Slack link markup
// (<url|label>); Plain renders the same links as "label (url)".
type Message struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	Plain   string `json:"plain"`
	DocID   string `json:"docId,omitempty"`
	EventID string `json:"eventId,omitempty"`
}

var slackLink = regexp.MustCompile(`<([^|>]+)\|([^>]*)>`)

func newMessage(subject, text string) Message {
	return Message{
		Subject: subject,
		Text:    text,
		Plain:   slackLink.ReplaceAllString(text, "$2 ($1)"),
	}
}

func link(url, label string) string {
	if label == "" {
		label = url
	}
	return fmt.Sprintf("<%s|%s>", url, label)
}

func docTitle(d store.Document) string {
	if d.Title != "" {
		return d.Title
	}
	return d.URL
}

// EventMessage renders the notification for a document event.
func EventMessage(doc store.Document, ev store.Event) Message {
	var m Message
	switch ev.Type {
	case store.EventAdd:
		m = newMessage("Now tracking "+docTitle(doc), fmt.Sprintf("%s is now being tracked", link(doc.URL, docTitle(doc))))
	default:
		text := fmt.Sprintf("Changes have been made to %s", link(doc.URL, docTitle(doc)))
		if summary := contentdiff.Summary(ev.Change); summary != "" {
			text += "\n" + summary
		}
		m = newMessage("Changes to "+docTitle(doc), text)
	}
	m.DocID = doc.ID
	m.EventID = ev.ID
	return m
}

// AlertMessage renders the notification for a code change touching a linked
// document.
func AlertMessage(a alerts.Alert) Message {
	codeURL, file := "", a.MatchedFile
	if a.Code != nil {
		codeURL = a.Code.URL
		if a.Code.File != "" {
			file = a.Code.File
		}
	}
	code := file
	if codeURL != "" {
		code = link(codeURL, file)
	}
	title := a.Doc.Title
	if title == "" {
		title = a.Doc.URL
	}
	text := fmt.Sprintf("Changes have been made to %s connected to %s. Do you need to update your document to reflect the changes?", code, link(a.Doc.URL, title))
	m := newMessage("Code linked to "+title+" changed", text)
	m.DocID = a.DocumentID
	return m
}
