// Package worker consumes scan jobs from the queue stream and runs them.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/mohammad-safakhou/docwatch/internal/queue"
	"github.com/mohammad-safakhou/docwatch/internal/queue/streams"
	"github.com/mohammad-safakhou/docwatch/internal/scan"
)

// JobStore captures the job state transitions the worker performs.
type JobStore interface {
	MarkScanJobActive(ctx context.Context, id string) error
	MarkScanJobPending(ctx context.Context, id, reason string) error
	CompleteScanJob(ctx context.Context, id string, result any) error
	FailScanJob(ctx context.Context, id, reason string) error
}

// Scanner runs one pass for an organization.
type Scanner interface {
	ScanOrganization(ctx context.Context, orgID string) (scan.Result, error)
}

// Queue republishes failed jobs and frees inflight slots.
type Queue interface {
	Requeue(ctx context.Context, req queue.ScanRequest, attempt int) error
	Release(ctx context.Context, orgID, jobID string) error
}

// Options tunes a Processor.
type Options struct {
	Stream      string
	MaxAttempts int
	// ClaimIdle is how long an entry may sit unacknowledged with another
	// consumer before this one takes it over.
	ClaimIdle time.Duration
	Block     time.Duration
	Logger    *log.Logger
}

// Processor drives scan jobs: it reads scan.requested envelopes with a
// consumer group, runs the pass and records the outcome on the job.
type Processor struct {
	logger      *log.Logger
	jobs        JobStore
	scanner     Scanner
	queue       Queue
	consumer    *streams.Consumer
	stream      string
	maxAttempts int
	claimIdle   time.Duration
	block       time.Duration
	claimCursor string
}

// NewProcessor constructs a Processor.
func NewProcessor(jobs JobStore, scanner Scanner, q Queue, cons *streams.Consumer, opts Options) *Processor {
	p := &Processor{
		logger:      opts.Logger,
		jobs:        jobs,
		scanner:     scanner,
		queue:       q,
		consumer:    cons,
		stream:      opts.Stream,
		maxAttempts: opts.MaxAttempts,
		claimIdle:   opts.ClaimIdle,
		block:       opts.Block,
		claimCursor: "0-0",
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard, "", 0)
	}
	if p.stream == "" {
		p.stream = queue.DefaultStream
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.claimIdle <= 0 {
		p.claimIdle = 5 * time.Minute
	}
	if p.block <= 0 {
		p.block = 5 * time.Second
	}
	return p
}

var (
	metricsOnce    sync.Once
	jobsCounter    otelmetric.Int64Counter
	retryCounter   otelmetric.Int64Counter
	metricsInitErr error
)

func initMetrics() {
	meter := otel.Meter("worker")
	var err error
	if jobsCounter, err = meter.Int64Counter("docwatch_worker_jobs_total"); err != nil {
		metricsInitErr = err
		return
	}
	if retryCounter, err = meter.Int64Counter("docwatch_worker_retries_total"); err != nil {
		metricsInitErr = err
	}
}

func recordJob(ctx context.Context, state string) {
	metricsOnce.Do(initMetrics)
	if metricsInitErr != nil || jobsCounter == nil {
		return
	}
	jobsCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("state", state)))
}

func recordRetry(ctx context.Context) {
	metricsOnce.Do(initMetrics)
	if metricsInitErr != nil || retryCounter == nil {
		return
	}
	retryCounter.Add(ctx, 1)
}

// Start blocks, processing scan jobs until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("worker processor starting; consuming stream %s", p.stream)
	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker processor stopping: %v", ctx.Err())
			return nil
		default:
		}

		if err := p.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
			p.logger.Printf("warn: reclaim stale entries: %v", err)
		}

		n, err := p.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			sleep(ctx, time.Second)
			continue
		}
		if n > 0 {
			p.logLag(ctx)
		}
	}
}

// Poll reads one batch of new entries and handles them. It returns how many
// entries were handled.
func (p *Processor) Poll(ctx context.Context) (int, error) {
	msgs, err := p.consumer.Read(ctx, p.stream, streams.WithBlock(p.block), streams.WithCount(8))
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		p.handle(ctx, msg)
	}
	return len(msgs), nil
}

// ReclaimStale takes over entries another consumer left unacknowledged for
// longer than ClaimIdle and handles them.
func (p *Processor) ReclaimStale(ctx context.Context) error {
	msgs, next, err := p.consumer.AutoClaim(ctx, p.stream, p.claimIdle, p.claimCursor, 8)
	if err != nil {
		return err
	}
	if next == "" {
		next = "0-0"
	}
	p.claimCursor = next
	for _, msg := range msgs {
		p.logger.Printf("reclaimed stale entry %s", msg.ID)
		p.handle(ctx, msg)
	}
	return nil
}

func (p *Processor) handle(ctx context.Context, msg streams.Message) {
	if err := p.process(ctx, msg); err != nil {
		p.logger.Printf("error handling entry %s: %v", msg.ID, err)
	}
	if err := p.consumer.Ack(ctx, p.stream, msg.ID); err != nil {
		p.logger.Printf("warn: failed to ack entry %s: %v", msg.ID, err)
	}
}

func (p *Processor) process(ctx context.Context, msg streams.Message) error {
	var req queue.ScanRequest
	if err := json.Unmarshal(msg.Envelope.Data, &req); err != nil {
		return fmt.Errorf("unmarshal scan request: %w", err)
	}
	if err := p.jobs.MarkScanJobActive(ctx, req.JobID); err != nil {
		return err
	}

	res, scanErr := p.scanner.ScanOrganization(ctx, req.OrgID)
	if scanErr == nil {
		p.logger.Printf("org=%s job=%s completed changed=%d unchanged=%d failed=%d", req.OrgID, req.JobID, res.Changed, res.Unchanged, res.Failed)
		recordJob(ctx, "completed")
		err := p.jobs.CompleteScanJob(ctx, req.JobID, res)
		p.release(ctx, req)
		return err
	}

	reason := scanErr.Error()
	attempt := msg.Envelope.Attempt + 1
	if attempt < p.maxAttempts {
		p.logger.Printf("org=%s job=%s attempt %d failed, retrying: %v", req.OrgID, req.JobID, attempt, scanErr)
		if err := p.jobs.MarkScanJobPending(ctx, req.JobID, reason); err != nil {
			return err
		}
		if err := p.queue.Requeue(ctx, req, attempt); err != nil {
			p.release(ctx, req)
			return p.jobs.FailScanJob(ctx, req.JobID, reason)
		}
		recordRetry(ctx)
		return nil
	}

	p.logger.Printf("org=%s job=%s failed after %d attempts: %v", req.OrgID, req.JobID, attempt, scanErr)
	recordJob(ctx, "failed")
	err := p.jobs.FailScanJob(ctx, req.JobID, reason)
	p.release(ctx, req)
	return err
}

func (p *Processor) release(ctx context.Context, req queue.ScanRequest) {
	if err := p.queue.Release(ctx, req.OrgID, req.JobID); err != nil {
		p.logger.Printf("warn: release inflight slot of org %s: %v", req.OrgID, err)
	}
}

func (p *Processor) logLag(ctx context.Context) {
	lag, err := p.consumer.LagMetrics(ctx, p.stream)
	if err != nil {
		return
	}
	if lag.Pending > 0 || lag.Lag > 0 {
		p.logger.Printf("stream %s pending=%d lag=%d oldest_idle=%s", p.stream, lag.Pending, lag.Lag, lag.OldestIdle)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
