package automation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slackAuthorized(r *http.Request, token string) bool {
	return r.Header.Get("Authorization") == "Bearer "+token || r.FormValue("token") == token
}

func TestSlackSenderRecreatesMissingChannel(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		calls []string
		posts int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r.URL.Path)
		assert.True(t, slackAuthorized(r, "xoxb-test"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/chat.postMessage":
			posts++
			assert.Equal(t, "#docs", r.FormValue("channel"))
			assert.Equal(t, "hi", r.FormValue("text"))
			if posts == 1 {
				_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1.0"}`))
		case "/conversations.create":
			assert.Equal(t, "docs", r.FormValue("name"))
			_, _ = w.Write([]byte(`{"ok":true,"channel":{"id":"C1","name":"docs"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	slack := NewSlackSender("xoxb-test", srv.URL, srv.Client())
	d := NewDispatcher(nil, nil, map[DestinationKind]Sender{DestinationSlack: slack}, nil)
	err := d.deliver(context.Background(), Destination{Kind: DestinationSlack, Value: "#docs"}, Message{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/chat.postMessage", "/conversations.create", "/chat.postMessage"}, calls)
}

func TestSlackSenderGivesUpAfterOneRecovery(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/conversations.create" {
			_, _ = w.Write([]byte(`{"ok":false,"error":"name_taken"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	d := NewDispatcher(nil, nil, map[DestinationKind]Sender{DestinationSlack: NewSlackSender("t", srv.URL, srv.Client())}, nil)
	err := d.deliver(context.Background(), Destination{Kind: DestinationSlack, Value: "docs"}, Message{Text: "hi"})
	require.Error(t, err)
	var ne *NotificationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "channel_not_found", ne.Reason)
}

func TestSlackSenderOtherErrorsNotRecoverable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
	}))
	defer srv.Close()

	err := NewSlackSender("t", srv.URL, srv.Client()).Send(context.Background(), Destination{Kind: DestinationSlack, Value: "docs"}, Message{Text: "hi"})
	var ne *NotificationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "invalid_auth", ne.Reason)
	assert.False(t, ne.Recoverable)
}

func TestWebhookSenderPostsJSON(t *testing.T) {
	t.Parallel()
	got := make(chan Message, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m Message
		_ = json.NewDecoder(r.Body).Decode(&m)
		got <- m
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookSender(time.Second, srv.Client())
	err := w.Send(context.Background(), Destination{Kind: DestinationWebhook, Value: srv.URL}, Message{Subject: "s", Text: "t", DocID: "d1"})
	require.NoError(t, err)
	m := <-got
	assert.Equal(t, "d1", m.DocID)
}

func TestWebhookSenderClientErrorNotRetried(t *testing.T) {
	t.Parallel()
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	err := NewWebhookSender(time.Second, srv.Client()).Send(context.Background(), Destination{Kind: DestinationWebhook, Value: srv.URL}, Message{})
	require.Error(t, err)
	mu.Lock()
	assert.Equal(t, 1, hits)
	mu.Unlock()
}

func TestEmailSenderBuildsMessage(t *testing.T) {
	t.Parallel()
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	e := NewEmailSender("smtp.example.com", 587, "", "", "docwatch@example.com")
	e.sendMail = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}
	err := e.Send(context.Background(), Destination{Kind: DestinationEmail, Value: "dev@example.com"}, newMessage("Changes to Q\nX", "Changes have been made to <https://x.dev|Q>"))
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"dev@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Changes to Q X\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "Changes have been made to Q (https://x.dev)\r\n"))
}
