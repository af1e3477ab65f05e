package automation

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// EmailSender delivers plain-text mail through an SMTP relay.
type EmailSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// sendMail defaults to smtp.SendMail.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSender returns a sender for the given relay.
func NewEmailSender(host string, port int, username, password, from string) *EmailSender {
	return &EmailSender{Host: host, Port: port, Username: username, Password: password, From: from, sendMail: smtp.SendMail}
}

// Send mails msg.Plain to dest.Value. smtp.SendMail has no context support,
// so cancellation only applies before the dial.
func (e *EmailSender) Send(ctx context.Context, dest Destination, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &NotificationError{Destination: dest, Reason: "cancelled", Err: err}
	}
	if e.Host == "" {
		return &NotificationError{Destination: dest, Reason: "smtp relay not configured"}
	}
	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}
	addr := net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	send := e.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, e.From, []string{dest.Value}, buildMail(e.From, dest.Value, msg)); err != nil {
		return &NotificationError{Destination: dest, Reason: "smtp send failed", Err: err}
	}
	return nil
}

func buildMail(from, to string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Plain, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
