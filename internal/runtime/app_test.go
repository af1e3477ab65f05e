package runtime

import (
	"testing"

	"github.com/mohammad-safakhou/docwatch/config"
	"github.com/mohammad-safakhou/docwatch/internal/automation"
)

func TestSendersOnlyWithCredentials(t *testing.T) {
	got := Senders(config.NotificationsConfig{}.Normalize())
	if len(got) != 1 || got[automation.DestinationWebhook] == nil {
		t.Fatalf("expected webhook sender only, got %v", got)
	}

	got = Senders(config.NotificationsConfig{SlackToken: "xoxb", SMTPHost: "mail", SMTPFrom: "a@b.c"}.Normalize())
	for _, kind := range []automation.DestinationKind{automation.DestinationSlack, automation.DestinationEmail, automation.DestinationWebhook} {
		if got[kind] == nil {
			t.Fatalf("missing %s sender", kind)
		}
	}
}
