// Package queue schedules scan passes as jobs on a Redis stream and tracks
// their state in Postgres.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/docwatch/internal/queue/streams"
	"github.com/mohammad-safakhou/docwatch/internal/store"
)

// Triggers recorded on scan requests.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
	TriggerRetry    = "retry"
)

// DefaultStream carries scan.requested envelopes.
const DefaultStream = "scan.jobs"

// JobStore persists scan job state.
type JobStore interface {
	CreateScanJob(ctx context.Context, id, orgID string) (store.ScanJob, error)
	GetScanJob(ctx context.Context, id string) (store.ScanJob, error)
	FailScanJob(ctx context.Context, id, reason string) error
}

// ScanRequest is the payload of a scan.requested envelope.
type ScanRequest struct {
	JobID       string `json:"job_id"`
	OrgID       string `json:"org_id"`
	Trigger     string `json:"trigger"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// Status is the externally visible state of a job.
type Status struct {
	JobID         string          `json:"jobId"`
	OrgID         string          `json:"orgId"`
	State         string          `json:"state"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	Attempts      int             `json:"attempts"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Queue enqueues scans with at most one job in flight per organization.
type Queue struct {
	Redis       redis.UniversalClient
	Jobs        JobStore
	Publisher   *streams.Publisher
	Stream      string
	InflightTTL time.Duration
	Logger      *log.Logger
}

// New wires a queue on stream. The inflight TTL bounds how long a crashed
// worker can block new scans of an organization.
func New(client redis.UniversalClient, jobs JobStore, reg *streams.SchemaRegistry, stream string, inflightTTL time.Duration, logger *log.Logger) *Queue {
	if stream == "" {
		stream = DefaultStream
	}
	if inflightTTL <= 0 {
		inflightTTL = time.Hour
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Queue{
		Redis:       client,
		Jobs:        jobs,
		Publisher:   streams.NewPublisher(client, reg),
		Stream:      stream,
		InflightTTL: inflightTTL,
		Logger:      logger,
	}
}

func inflightKey(orgID string) string { return "scan:inflight:" + orgID }

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// EnqueueScan requests a scan of orgID from the API.
func (q *Queue) EnqueueScan(ctx context.Context, orgID string) (string, error) {
	return q.Enqueue(ctx, ScanRequest{OrgID: orgID, Trigger: TriggerAPI})
}

// Enqueue creates a job and publishes it. While a job for the same org is
// pending or active its id is returned instead and nothing is published.
func (q *Queue) Enqueue(ctx context.Context, req ScanRequest) (string, error) {
	if req.OrgID == "" {
		return "", errors.New("org id is required")
	}
	if req.Trigger == "" {
		req.Trigger = TriggerAPI
	}
	key := inflightKey(req.OrgID)
	for attempt := 0; attempt < 3; attempt++ {
		jobID := uuid.NewString()
		ok, err := q.Redis.SetNX(ctx, key, jobID, q.InflightTTL).Result()
		if err != nil {
			return "", fmt.Errorf("claim inflight slot: %w", err)
		}
		if ok {
			req.JobID = jobID
			if err := q.start(ctx, req); err != nil {
				q.release(ctx, req.OrgID, jobID)
				return "", err
			}
			return jobID, nil
		}

		existing, err := q.Redis.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read inflight slot: %w", err)
		}
		job, err := q.Jobs.GetScanJob(ctx, existing)
		if err == nil && (job.State == store.JobPending || job.State == store.JobActive) {
			return existing, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		// The slot outlived its job; clear it and try again.
		q.Logger.Printf("org=%s clearing stale inflight job %s", req.OrgID, existing)
		q.release(ctx, req.OrgID, existing)
	}
	return "", fmt.Errorf("could not claim inflight slot for org %s", req.OrgID)
}

func (q *Queue) start(ctx context.Context, req ScanRequest) error {
	if _, err := q.Jobs.CreateScanJob(ctx, req.JobID, req.OrgID); err != nil {
		return fmt.Errorf("create scan job: %w", err)
	}
	if err := q.publish(ctx, req, 0); err != nil {
		if ferr := q.Jobs.FailScanJob(ctx, req.JobID, "enqueue failed: "+err.Error()); ferr != nil {
			q.Logger.Printf("job=%s mark failed: %v", req.JobID, ferr)
		}
		return fmt.Errorf("publish scan request: %w", err)
	}
	q.Logger.Printf("org=%s job=%s enqueued (%s)", req.OrgID, req.JobID, req.Trigger)
	return nil
}

func (q *Queue) publish(ctx context.Context, req ScanRequest, attempt int) error {
	env, err := streams.NewEnvelope(streams.EventScanRequested, streams.PayloadV1, req.OrgID, attempt, req)
	if err != nil {
		return err
	}
	_, err = q.Publisher.Publish(ctx, q.Stream, env)
	return err
}

// Requeue publishes req again for another attempt. The inflight slot stays
// with the job.
func (q *Queue) Requeue(ctx context.Context, req ScanRequest, attempt int) error {
	req.Trigger = TriggerRetry
	if err := q.publish(ctx, req, attempt); err != nil {
		return fmt.Errorf("republish scan request: %w", err)
	}
	return nil
}

// Release frees orgID's inflight slot if jobID still holds it.
func (q *Queue) Release(ctx context.Context, orgID, jobID string) error {
	return releaseScript.Run(ctx, q.Redis, []string{inflightKey(orgID)}, jobID).Err()
}

func (q *Queue) release(ctx context.Context, orgID, jobID string) {
	if err := q.Release(ctx, orgID, jobID); err != nil {
		q.Logger.Printf("org=%s release inflight %s: %v", orgID, jobID, err)
	}
}

// GetScanStatus reads a job's state.
func (q *Queue) GetScanStatus(ctx context.Context, jobID string) (Status, error) {
	job, err := q.Jobs.GetScanJob(ctx, jobID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		JobID:         job.ID,
		OrgID:         job.OrgID,
		State:         job.State,
		Result:        job.Result,
		FailureReason: job.FailureReason,
		Attempts:      job.Attempts,
		UpdatedAt:     job.UpdatedAt,
	}, nil
}
