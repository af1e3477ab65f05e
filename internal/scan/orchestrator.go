// Package scan runs scan passes: it refetches every document of an
// organization, records what changed and fans the changes out.
package scan

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/docwatch/internal/automation"
	"github.com/mohammad-safakhou/docwatch/internal/contentdiff"
	"github.com/mohammad-safakhou/docwatch/internal/fetch"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// Store is the persistence a pass needs.
type Store interface {
	ListDocuments(ctx context.Context, orgID string) ([]store.Document, error)
	BulkUpdateDocuments(ctx context.Context, updates []store.DocumentUpdate) error
	InsertEvents(ctx context.Context, events []store.Event) ([]store.Event, error)
}

// DocumentFetcher returns the current content of a document.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, doc store.Document) (fetch.Content, error)
}

// Indexer receives refreshed documents.
type Indexer interface {
	Update(doc store.Document) error
}

// Dispatcher fans inserted events out to automations.
type Dispatcher interface {
	DispatchEvents(ctx context.Context, orgID string, events []store.Event) automation.Report
}

// Result summarizes one pass.
type Result struct {
	OrgID     string            `json:"orgId"`
	Changed   int               `json:"changed"`
	Unchanged int               `json:"unchanged"`
	Failed    int               `json:"failed"`
	Notified  automation.Report `json:"notified"`
	Duration  time.Duration     `json:"durationNs"`
	Events    []store.Event     `json:"-"`
}

// Orchestrator runs passes. Index and Dispatcher are optional.
type Orchestrator struct {
	Store        Store
	Fetcher      DocumentFetcher
	Index        Indexer
	Dispatcher   Dispatcher
	Locker       Locker
	Logger       *log.Logger
	Concurrency  int
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Options configures New.
type Options struct {
	Index        Indexer
	Dispatcher   Dispatcher
	Locker       Locker
	Logger       *log.Logger
	Concurrency  int
	FetchTimeout time.Duration
}

// New returns an orchestrator with defaults filled in: eight concurrent
// fetches, a 30s fetch timeout and an in-process locker.
func New(st Store, f DocumentFetcher, opts Options) *Orchestrator {
	o := &Orchestrator{
		Store:        st,
		Fetcher:      f,
		Index:        opts.Index,
		Dispatcher:   opts.Dispatcher,
		Locker:       opts.Locker,
		Logger:       opts.Logger,
		Concurrency:  opts.Concurrency,
		FetchTimeout: opts.FetchTimeout,
		Now:          time.Now,
	}
	if o.Locker == nil {
		o.Locker = NewLocalLocker()
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	return o
}

var (
	metricsOnce    sync.Once
	passDuration   otelmetric.Float64Histogram
	passCounter    otelmetric.Int64Counter
	changedCounter otelmetric.Int64Counter
	fetchFailures  otelmetric.Int64Counter
	metricsInitErr error
)

func initMetrics() {
	meter := otel.Meter("scan")
	var err error
	if passDuration, err = meter.Float64Histogram("docwatch_scan_pass_seconds"); err != nil {
		metricsInitErr = err
		return
	}
	if passCounter, err = meter.Int64Counter("docwatch_scan_passes_total"); err != nil {
		metricsInitErr = err
		return
	}
	if changedCounter, err = meter.Int64Counter("docwatch_scan_documents_changed_total"); err != nil {
		metricsInitErr = err
		return
	}
	fetchFailures, metricsInitErr = meter.Int64Counter("docwatch_scan_fetch_failures_total")
}

// recordPass records a finished pass. Failed passes are counted with
// outcome=error alongside their partial counts.
func recordPass(ctx context.Context, res Result, passErr error) {
	metricsOnce.Do(initMetrics)
	if metricsInitErr != nil {
		return
	}
	outcome := "ok"
	if passErr != nil {
		outcome = "error"
	}
	attrs := otelmetric.WithAttributes(attribute.String("org", res.OrgID), attribute.String("outcome", outcome))
	passDuration.Record(ctx, res.Duration.Seconds(), attrs)
	passCounter.Add(ctx, 1, attrs)
	changedCounter.Add(ctx, int64(res.Changed), attrs)
	fetchFailures.Add(ctx, int64(res.Failed), attrs)
}

type outcome struct {
	doc     store.Document
	content fetch.Content
	change  []contentdiff.Segment
	err     error
}

// ScanOrganization runs one pass over orgID's documents. Per-document fetch
// failures are counted, not returned. An error means the pass could not
// list documents or could not persist the refreshed contents.
func (o *Orchestrator) ScanOrganization(ctx context.Context, orgID string) (res Result, err error) {
	res = Result{OrgID: orgID}
	start := o.Now()
	defer func() {
		res.Duration = o.Now().Sub(start)
		recordPass(ctx, res, err)
	}()

	unlock, err := o.Locker.Lock(ctx, orgID)
	if err != nil {
		return res, fmt.Errorf("lock org %s: %w", orgID, err)
	}
	defer unlock()

	docs, err := o.Store.ListDocuments(ctx, orgID)
	if err != nil {
		return res, fmt.Errorf("list documents: %w", err)
	}

	outcomes := o.fetchAll(ctx, docs)

	var (
		updates []store.DocumentUpdate
		events  []store.Event
		changed []store.Document
	)
	now := o.Now().UTC()
	for _, oc := range outcomes {
		switch {
		case oc.err != nil:
			res.Failed++
			o.Logger.Printf("org=%s doc=%s: %v", orgID, oc.doc.ID, oc.err)
		case oc.change == nil:
			res.Unchanged++
		default:
			updates = append(updates, store.DocumentUpdate{ID: oc.doc.ID, Content: oc.content.Text, Title: oc.content.Title, LastUpdatedAt: now})
			events = append(events, store.Event{OrgID: orgID, DocID: oc.doc.ID, Type: store.EventChange, Change: oc.change})
			d := oc.doc
			d.Content = oc.content.Text
			d.LastUpdatedAt = now
			if oc.content.Title != "" {
				d.Title = oc.content.Title
			}
			changed = append(changed, d)
		}
	}

	inserted, err := o.persist(ctx, orgID, updates, events)
	if err != nil {
		res.Failed += len(updates)
		return res, err
	}
	res.Events = inserted

	// Documents whose event could not be stored are not reported as changed.
	reported := make(map[string]struct{}, len(inserted))
	for _, ev := range inserted {
		reported[ev.DocID] = struct{}{}
	}
	res.Changed = len(reported)
	res.Unchanged += len(updates) - len(reported)

	if o.Index != nil {
		for _, d := range changed {
			if err := o.Index.Update(d); err != nil {
				o.Logger.Printf("org=%s doc=%s index update: %v", orgID, d.ID, err)
			}
		}
	}
	if o.Dispatcher != nil && len(inserted) > 0 {
		res.Notified = o.Dispatcher.DispatchEvents(ctx, orgID, inserted)
	}

	o.Logger.Printf("org=%s scan done changed=%d unchanged=%d failed=%d in %s", orgID, res.Changed, res.Unchanged, res.Failed, o.Now().Sub(start))
	return res, nil
}

// fetchAll fetches and diffs docs with bounded concurrency. The returned
// slice is in docs order.
func (o *Orchestrator) fetchAll(ctx context.Context, docs []store.Document) []outcome {
	out := make([]outcome, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)
	for i, d := range docs {
		i, d := i, d
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, o.FetchTimeout)
			defer cancel()
			c, err := o.Fetcher.FetchDocument(fctx, d)
			if err != nil {
				out[i] = outcome{doc: d, err: err}
				return nil
			}
			oc := outcome{doc: d, content: c}
			if segs := contentdiff.Diff(d.Content, c.Text); contentdiff.HasChanges(segs) {
				oc.change = segs
			}
			out[i] = oc
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// persist writes the refreshed contents first and records events only once
// they are committed, so a failed write leaves nothing behind for a retried
// pass to duplicate. An event insert failure is logged and drops those
// documents from the change count; the contents stay updated.
func (o *Orchestrator) persist(ctx context.Context, orgID string, updates []store.DocumentUpdate, events []store.Event) ([]store.Event, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	if err := o.Store.BulkUpdateDocuments(ctx, updates); err != nil {
		return nil, fmt.Errorf("bulk update documents: %w", err)
	}
	inserted, err := o.Store.InsertEvents(ctx, events)
	if err != nil {
		o.Logger.Printf("org=%s insert %d events: %v", orgID, len(events), err)
		return nil, nil
	}
	return inserted, nil
}
