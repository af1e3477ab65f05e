package automation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

// SlackSender posts messages with the Web API. A missing channel is
// reported as recoverable and Recover creates it.
type SlackSender struct {
	api     *slack.Client
	limiter *rate.Limiter
}

// NewSlackSender builds a sender limited to roughly one message per second,
// the chat.postMessage tier. baseURL overrides https://slack.com/api/.
func NewSlackSender(token, baseURL string, client *http.Client) *SlackSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	opts := []slack.Option{slack.OptionHTTPClient(client)}
	if baseURL != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &SlackSender{
		api:     slack.New(token, opts...),
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

func channelName(value string) string {
	return strings.TrimPrefix(strings.TrimSpace(value), "#")
}

// errorCode extracts the Web API error string, such as channel_not_found.
func errorCode(err error) string {
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		return se.Err
	}
	return err.Error()
}

// Send posts msg.Text to the channel named by dest.Value.
func (s *SlackSender) Send(ctx context.Context, dest Destination, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return &NotificationError{Destination: dest, Reason: "rate limit wait", Err: err}
	}
	_, _, err := s.api.PostMessageContext(ctx, "#"+channelName(dest.Value), slack.MsgOptionText(msg.Text, false))
	if err == nil {
		return nil
	}
	code := errorCode(err)
	return &NotificationError{
		Destination: dest,
		Reason:      code,
		Recoverable: code == "channel_not_found",
		Err:         err,
	}
}

// Recover creates the channel named by dest.Value.
func (s *SlackSender) Recover(ctx context.Context, dest Destination) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.api.CreateConversationContext(ctx, slack.CreateConversationParams{ChannelName: channelName(dest.Value)})
	if err != nil && errorCode(err) != "name_taken" {
		return fmt.Errorf("conversations.create: %w", err)
	}
	return nil
}
