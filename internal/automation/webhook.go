package automation

import (
	"context"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/docwatch/internal/helpers"
)

// WebhookSender POSTs the message as JSON to the rule's URL.
type WebhookSender struct {
	http *helpers.HTTPClient
}

// NewWebhookSender retries transient failures twice.
func NewWebhookSender(timeout time.Duration, client *http.Client) *WebhookSender {
	hc := helpers.NewHTTPClient(timeout, 2, 500*time.Millisecond)
	if client != nil {
		hc = hc.WithClient(client)
	}
	return &WebhookSender{http: hc}
}

func (w *WebhookSender) Send(ctx context.Context, dest Destination, msg Message) error {
	headers := map[string]string{"User-Agent": "docwatch-webhook/1"}
	if err := w.http.DoJSON(ctx, http.MethodPost, dest.Value, headers, msg, nil); err != nil {
		return &NotificationError{Destination: dest, Reason: "webhook delivery failed", Err: err}
	}
	return nil
}
