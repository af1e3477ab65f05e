package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/docwatch/internal/queue"
)

// OrgLister lists organizations that track documents.
type OrgLister interface {
	ListOrganizations(ctx context.Context) ([]string, error)
}

// Enqueuer publishes scan requests.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.ScanRequest) (string, error)
}

// Scheduler enqueues a scan of every organization on each cron tick. With a
// Redis client, only one replica enqueues a given tick.
type Scheduler struct {
	Orgs   OrgLister
	Queue  Enqueuer
	Redis  redis.UniversalClient
	Logger *log.Logger

	expr *cronexpr.Expression
	now  func() time.Time
}

// NewScheduler parses schedule, a 5-field cron expression or @hourly/@daily.
func NewScheduler(schedule string, orgs OrgLister, q Enqueuer, rdb redis.UniversalClient, logger *log.Logger) (*Scheduler, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", schedule, err)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Scheduler{Orgs: orgs, Queue: q, Redis: rdb, Logger: logger, expr: expr, now: time.Now}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time { return s.expr.Next(t) }

// Run waits for each tick and enqueues it until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.expr.Next(s.now())
		if next.IsZero() {
			return fmt.Errorf("cron expression has no future ticks")
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		n, err := s.Tick(ctx, next)
		if err != nil {
			s.Logger.Printf("tick %s: %v", next.Format(time.RFC3339), err)
			continue
		}
		if n > 0 {
			s.Logger.Printf("tick %s: enqueued %d scans", next.Format(time.RFC3339), n)
		}
	}
}

func tickKey(at time.Time) string { return "sched:lock:" + strconv.FormatInt(at.Unix(), 10) }

// Tick enqueues one scan per organization for the tick at. It returns the
// number of organizations enqueued, zero when another replica owns the tick.
func (s *Scheduler) Tick(ctx context.Context, at time.Time) (int, error) {
	if s.Redis != nil {
		ttl := time.Until(s.expr.Next(at))
		if ttl < time.Minute {
			ttl = time.Minute
		}
		ok, err := s.Redis.SetNX(ctx, tickKey(at), "1", ttl).Result()
		if err != nil {
			return 0, fmt.Errorf("claim tick: %w", err)
		}
		if !ok {
			return 0, nil
		}
	}
	orgs, err := s.Orgs.ListOrganizations(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, org := range orgs {
		if _, err := s.Queue.Enqueue(ctx, queue.ScanRequest{OrgID: org, Trigger: queue.TriggerSchedule}); err != nil {
			s.Logger.Printf("org=%s enqueue: %v", org, err)
			continue
		}
		n++
	}
	return n, nil
}
