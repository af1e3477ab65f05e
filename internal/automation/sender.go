package automation

import (
	"context"
	"fmt"
)

// Sender delivers a message to one kind of destination.
type Sender interface {
	Send(ctx context.Context, dest Destination, msg Message) error
}

// Recoverer is implemented by senders that can repair a destination, such as
// recreating a deleted Slack channel, after a recoverable failure.
type Recoverer interface {
	Recover(ctx context.Context, dest Destination) error
}

// NotificationError reports a failed delivery. Recoverable failures get one
// Recover call and one more attempt.
type NotificationError struct {
	Destination Destination
	Reason      string
	Recoverable bool
	Err         error
}

func (e *NotificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notify %s: %s: %v", e.Destination, e.Reason, e.Err)
	}
	return fmt.Sprintf("notify %s: %s", e.Destination, e.Reason)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, dest Destination, msg Message) error

func (f SenderFunc) Send(ctx context.Context, dest Destination, msg Message) error {
	return f(ctx, dest, msg)
}
