package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/docwatch/internal/queue"
	"github.com/mohammad-safakhou/docwatch/internal/queue/streams"
	"github.com/mohammad-safakhou/docwatch/internal/scan"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]store.ScanJob
}

func newMemJobs() *memJobs { return &memJobs{jobs: map[string]store.ScanJob{}} }

func (m *memJobs) update(id string, fn func(*store.ScanJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	fn(&j)
	m.jobs[id] = j
}

func (m *memJobs) get(id string) store.ScanJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func (m *memJobs) CreateScanJob(_ context.Context, id, orgID string) (store.ScanJob, error) {
	j := store.ScanJob{ID: id, OrgID: orgID, State: store.JobPending}
	m.update(id, func(s *store.ScanJob) { *s = j })
	return j, nil
}

func (m *memJobs) GetScanJob(_ context.Context, id string) (store.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ScanJob{}, store.ErrNotFound
	}
	return j, nil
}

func (m *memJobs) MarkScanJobActive(_ context.Context, id string) error {
	m.update(id, func(j *store.ScanJob) { j.State = store.JobActive; j.Attempts++ })
	return nil
}

func (m *memJobs) MarkScanJobPending(_ context.Context, id, reason string) error {
	m.update(id, func(j *store.ScanJob) { j.State = store.JobPending; j.FailureReason = reason })
	return nil
}

func (m *memJobs) CompleteScanJob(_ context.Context, id string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	m.update(id, func(j *store.ScanJob) { j.State = store.JobCompleted; j.Result = payload; j.FailureReason = "" })
	return nil
}

func (m *memJobs) FailScanJob(_ context.Context, id, reason string) error {
	m.update(id, func(j *store.ScanJob) { j.State = store.JobFailed; j.FailureReason = reason })
	return nil
}

type fakeScanner struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeScanner) ScanOrganization(_ context.Context, orgID string) (scan.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, orgID)
	if f.err != nil {
		return scan.Result{}, f.err
	}
	return scan.Result{OrgID: orgID, Changed: 2, Unchanged: 1}, nil
}

type harness struct {
	mr     *miniredis.Miniredis
	client *redis.Client
	reg    *streams.SchemaRegistry
	jobs   *memJobs
	queue  *queue.Queue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	reg := streams.NewSchemaRegistry()
	require.NoError(t, streams.RegisterBaseSchemas(reg))
	require.NoError(t, streams.EnsureGroup(context.Background(), client, queue.DefaultStream, "workers"))
	jobs := newMemJobs()
	return &harness{mr: mr, client: client, reg: reg, jobs: jobs, queue: queue.New(client, jobs, reg, "", time.Minute, nil)}
}

func (h *harness) processor(name string, sc Scanner, maxAttempts int) *Processor {
	cons := streams.NewConsumer(h.client, h.reg, "workers", name)
	return NewProcessor(h.jobs, sc, h.queue, cons, Options{MaxAttempts: maxAttempts, ClaimIdle: time.Millisecond, Block: 10 * time.Millisecond})
}

func TestProcessorCompletesJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.queue.EnqueueScan(ctx, "org-1")
	require.NoError(t, err)

	sc := &fakeScanner{}
	n, err := h.processor("w1", sc, 3).Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"org-1"}, sc.calls)

	job := h.jobs.get(id)
	assert.Equal(t, store.JobCompleted, job.State)
	assert.Equal(t, 1, job.Attempts)
	var res scan.Result
	require.NoError(t, json.Unmarshal(job.Result, &res))
	assert.Equal(t, 2, res.Changed)

	assert.False(t, h.mr.Exists("scan:inflight:org-1"))
	pending, err := h.client.XPending(ctx, queue.DefaultStream, "workers").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestProcessorRetriesThenFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.queue.EnqueueScan(ctx, "org-1")
	require.NoError(t, err)

	sc := &fakeScanner{err: errors.New("bulk update documents: connection reset")}
	p := h.processor("w1", sc, 2)

	_, err = p.Poll(ctx)
	require.NoError(t, err)
	job := h.jobs.get(id)
	assert.Equal(t, store.JobPending, job.State)
	assert.True(t, h.mr.Exists("scan:inflight:org-1"), "slot stays with a retried job")
	n, err := h.client.XLen(ctx, queue.DefaultStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = p.Poll(ctx)
	require.NoError(t, err)
	job = h.jobs.get(id)
	assert.Equal(t, store.JobFailed, job.State)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "bulk update documents: connection reset", job.FailureReason)
	assert.False(t, h.mr.Exists("scan:inflight:org-1"))
	assert.Len(t, sc.calls, 2)
}

func TestProcessorReclaimsStaleEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.queue.EnqueueScan(ctx, "org-1")
	require.NoError(t, err)

	// a consumer that read the entry and died before acking
	crashed := streams.NewConsumer(h.client, h.reg, "workers", "crashed")
	msgs, err := crashed.Read(ctx, queue.DefaultStream, streams.WithBlock(10*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	time.Sleep(20 * time.Millisecond)

	sc := &fakeScanner{}
	p := h.processor("w2", sc, 3)
	require.NoError(t, p.ReclaimStale(ctx))
	assert.Equal(t, store.JobCompleted, h.jobs.get(id).State)

	pending, err := h.client.XPending(ctx, queue.DefaultStream, "workers").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestProcessorStartStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	id, err := h.queue.EnqueueScan(ctx, "org-1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.processor("w1", &fakeScanner{}, 3).Start(ctx) }()

	require.Eventually(t, func() bool {
		return h.jobs.get(id).State == store.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("processor did not stop")
	}
}
