package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/docwatch/internal/queue"
)

type staticOrgs []string

func (s staticOrgs) ListOrganizations(context.Context) ([]string, error) { return s, nil }

type recordingEnqueuer struct {
	mu   sync.Mutex
	reqs []queue.ScanRequest
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, req queue.ScanRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return "job", nil
}

func TestSchedulerTickEnqueuesEachOrgOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := &recordingEnqueuer{}
	first, err := NewScheduler("0 * * * *", staticOrgs{"org-1", "org-2"}, q, client, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	replica, err := NewScheduler("0 * * * *", staticOrgs{"org-1", "org-2"}, q, client, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	n, err := first.Tick(context.Background(), at)
	if err != nil || n != 2 {
		t.Fatalf("first tick: n=%d err=%v", n, err)
	}
	n, err = replica.Tick(context.Background(), at)
	if err != nil || n != 0 {
		t.Fatalf("replica tick must be skipped: n=%d err=%v", n, err)
	}
	if len(q.reqs) != 2 || q.reqs[0].Trigger != queue.TriggerSchedule || q.reqs[1].OrgID != "org-2" {
		t.Fatalf("unexpected requests %+v", q.reqs)
	}
	if !mr.Exists(tickKey(at)) {
		t.Fatalf("tick lock not recorded")
	}

	n, err = replica.Tick(context.Background(), at.Add(time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("next tick: n=%d err=%v", n, err)
	}
}

func TestSchedulerNextAndInvalidSpec(t *testing.T) {
	s, err := NewScheduler("@hourly", staticOrgs{}, &recordingEnqueuer{}, nil, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	got := s.Next(time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC))
	if want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Next = %s want %s", got, want)
	}
	if _, err := NewScheduler("not a cron", staticOrgs{}, &recordingEnqueuer{}, nil, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	s, err := NewScheduler("0 0 1 1 *", staticOrgs{}, &recordingEnqueuer{}, nil, nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
}
