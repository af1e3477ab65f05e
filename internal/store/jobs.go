package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

const scanJobColumns = `id::text, org_id, state, result, failure_reason, attempts, created_at, updated_at`

func scanScanJob(row rowScanner) (ScanJob, error) {
	var (
		j      ScanJob
		result []byte
	)
	if err := row.Scan(&j.ID, &j.OrgID, &j.State, &result, &j.FailureReason, &j.Attempts, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return ScanJob{}, err
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	return j, nil
}

// CreateScanJob records a pending job with a caller supplied id.
func (s *Store) CreateScanJob(ctx context.Context, id, orgID string) (ScanJob, error) {
	row := s.DB.QueryRowContext(ctx, `INSERT INTO scan_jobs (id, org_id, state) VALUES ($1,$2,'pending') RETURNING `+scanJobColumns, id, orgID)
	j, err := scanScanJob(row)
	if err != nil {
		return ScanJob{}, wrap("create scan job", err)
	}
	return j, nil
}

// GetScanJob loads a job by id.
func (s *Store) GetScanJob(ctx context.Context, id string) (ScanJob, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+scanJobColumns+` FROM scan_jobs WHERE id = $1`, id)
	j, err := scanScanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ScanJob{}, ErrNotFound
	}
	if err != nil {
		return ScanJob{}, wrap("get scan job", err)
	}
	return j, nil
}

// MarkScanJobActive moves a job to active and counts the attempt.
func (s *Store) MarkScanJobActive(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE scan_jobs SET state = 'active', attempts = attempts + 1, updated_at = NOW() WHERE id = $1`, id)
	return wrap("mark scan job active", err)
}

// MarkScanJobPending returns a job to the queue for another attempt.
func (s *Store) MarkScanJobPending(ctx context.Context, id, reason string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE scan_jobs SET state = 'pending', failure_reason = $2, updated_at = NOW() WHERE id = $1`, id, reason)
	return wrap("mark scan job pending", err)
}

// CompleteScanJob stores the result of a successful pass.
func (s *Store) CompleteScanJob(ctx context.Context, id string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE scan_jobs SET state = 'completed', result = $2, failure_reason = '', updated_at = NOW() WHERE id = $1`, id, payload)
	return wrap("complete scan job", err)
}

// FailScanJob marks a job failed with a reason.
func (s *Store) FailScanJob(ctx context.Context, id, reason string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE scan_jobs SET state = 'failed', failure_reason = $2, updated_at = NOW() WHERE id = $1`, id, reason)
	return wrap("fail scan job", err)
}
