package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/mohammad-safakhou/docwatch/internal/alerts"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// RuleSource loads rules for the two trigger paths.
type RuleSource interface {
	ListDocAutomations(ctx context.Context, orgID, docID string) ([]store.AutomationRecord, error)
	ListCodeAutomations(ctx context.Context, orgID, repo string) ([]store.AutomationRecord, error)
}

// DocSource resolves the documents events refer to.
type DocSource interface {
	DocumentsByID(ctx context.Context, orgID string, ids []string) (map[string]store.Document, error)
}

// Report counts the outcome of one dispatch call.
type Report struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Dispatcher fires matching rules. Delivery failures are logged and
// counted, never returned.
type Dispatcher struct {
	Rules   RuleSource
	Docs    DocSource
	Senders map[DestinationKind]Sender
	Logger  *log.Logger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(rules RuleSource, docs DocSource, senders map[DestinationKind]Sender, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{Rules: rules, Docs: docs, Senders: senders, Logger: logger}
}

var (
	metricsOnce    sync.Once
	sentCounter    otelmetric.Int64Counter
	failedCounter  otelmetric.Int64Counter
	metricsInitErr error
)

func initMetrics() {
	meter := otel.Meter("automation")
	var err error
	sentCounter, err = meter.Int64Counter("docwatch_notifications_sent_total")
	if err != nil {
		metricsInitErr = err
		return
	}
	failedCounter, err = meter.Int64Counter("docwatch_notifications_failed_total")
	if err != nil {
		metricsInitErr = err
	}
}

func count(ctx context.Context, ok bool, kind DestinationKind) {
	metricsOnce.Do(initMetrics)
	if metricsInitErr != nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("destination", string(kind)))
	if ok {
		sentCounter.Add(ctx, 1, attrs)
	} else {
		failedCounter.Add(ctx, 1, attrs)
	}
}

// DispatchEvents fires the doc-triggered rules of each event's document.
// Each (event, rule) pair is attempted once. Rules are read when their event
// is processed, so a rule activated later does not fire for events already
// handled.
func (d *Dispatcher) DispatchEvents(ctx context.Context, orgID string, events []store.Event) Report {
	var rep Report
	if len(events) == 0 {
		return rep
	}
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.DocID)
	}
	docs, err := d.Docs.DocumentsByID(ctx, orgID, ids)
	if err != nil {
		d.Logger.Printf("org=%s load documents for dispatch: %v", orgID, err)
		rep.Failed += len(events)
		return rep
	}
	for _, ev := range events {
		doc, ok := docs[ev.DocID]
		if !ok {
			rep.Skipped++
			continue
		}
		rules, err := d.Rules.ListDocAutomations(ctx, orgID, ev.DocID)
		if err != nil {
			d.Logger.Printf("org=%s doc=%s load automations: %v", orgID, ev.DocID, err)
			rep.Failed++
			continue
		}
		msg := EventMessage(doc, ev)
		for _, rec := range rules {
			d.fire(ctx, FromRecord(rec), msg, &rep)
		}
	}
	return rep
}

// DispatchAlerts fires the code-triggered rules of repo for every alert that
// refers to an existing link.
func (d *Dispatcher) DispatchAlerts(ctx context.Context, orgID, repo string, list []alerts.Alert) Report {
	var rep Report
	if len(list) == 0 {
		return rep
	}
	rules, err := d.Rules.ListCodeAutomations(ctx, orgID, repo)
	if err != nil {
		d.Logger.Printf("org=%s repo=%s load automations: %v", orgID, repo, err)
		rep.Failed++
		return rep
	}
	if len(rules) == 0 {
		return rep
	}
	for _, a := range list {
		if a.Type == alerts.TypeNew {
			continue
		}
		msg := AlertMessage(a)
		for _, rec := range rules {
			d.fire(ctx, FromRecord(rec), msg, &rep)
		}
	}
	return rep
}

func (d *Dispatcher) fire(ctx context.Context, rule Automation, msg Message, rep *Report) {
	if !rule.IsActive {
		rep.Skipped++
		return
	}
	if err := d.deliver(ctx, rule.Destination, msg); err != nil {
		d.Logger.Printf("automation=%s destination=%s: %v", rule.ID, rule.Destination, err)
		rep.Failed++
		count(ctx, false, rule.Destination.Kind)
		return
	}
	rep.Sent++
	count(ctx, true, rule.Destination.Kind)
}

func (d *Dispatcher) deliver(ctx context.Context, dest Destination, msg Message) error {
	sender, ok := d.Senders[dest.Kind]
	if !ok || sender == nil {
		return &NotificationError{Destination: dest, Reason: "no sender configured"}
	}
	err := sender.Send(ctx, dest, msg)
	if err == nil {
		return nil
	}
	var ne *NotificationError
	if !errors.As(err, &ne) || !ne.Recoverable {
		return err
	}
	rec, ok := sender.(Recoverer)
	if !ok {
		return err
	}
	if rerr := rec.Recover(ctx, dest); rerr != nil {
		return fmt.Errorf("%w (recovery failed: %v)", err, rerr)
	}
	return sender.Send(ctx, dest, msg)
}
