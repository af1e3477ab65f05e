package store

import (
	"context"
	"database/sql"
)

const automationColumns = `id::text, org_id, name, trigger_kind, COALESCE(trigger_doc_id::text, ''), COALESCE(trigger_repo, ''), destination_kind, destination_value, is_active, created_by, created_at`

func scanAutomation(row rowScanner) (AutomationRecord, error) {
	var a AutomationRecord
	err := row.Scan(&a.ID, &a.OrgID, &a.Name, &a.TriggerKind, &a.TriggerDocID, &a.TriggerRepo, &a.DestinationKind, &a.DestinationValue, &a.IsActive, &a.CreatedBy, &a.CreatedAt)
	return a, err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateAutomation persists a validated rule.
func (s *Store) CreateAutomation(ctx context.Context, a AutomationRecord) (AutomationRecord, error) {
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO automations (org_id, name, trigger_kind, trigger_doc_id, trigger_repo, destination_kind, destination_value, is_active, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id::text, created_at`,
		a.OrgID, a.Name, a.TriggerKind, nullableString(a.TriggerDocID), nullableString(a.TriggerRepo),
		a.DestinationKind, a.DestinationValue, a.IsActive, a.CreatedBy,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return AutomationRecord{}, wrap("create automation", err)
	}
	recordWrites(ctx, "automations", 1)
	return a, nil
}

func (s *Store) listAutomations(ctx context.Context, op, where string, args ...any) ([]AutomationRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+automationColumns+` FROM automations WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()
	var out []AutomationRecord
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, a)
	}
	return out, wrap(op, rows.Err())
}

// ListAutomations returns every rule of an organization.
func (s *Store) ListAutomations(ctx context.Context, orgID string) ([]AutomationRecord, error) {
	return s.listAutomations(ctx, "list automations", `org_id = $1`, orgID)
}

// ListDocAutomations returns the doc-triggered rules for one document,
// active or not.
func (s *Store) ListDocAutomations(ctx context.Context, orgID, docID string) ([]AutomationRecord, error) {
	return s.listAutomations(ctx, "list doc automations", `org_id = $1 AND trigger_kind = 'doc' AND trigger_doc_id = $2`, orgID, docID)
}

// ListCodeAutomations returns the code-triggered rules for one repository.
func (s *Store) ListCodeAutomations(ctx context.Context, orgID, repo string) ([]AutomationRecord, error) {
	return s.listAutomations(ctx, "list code automations", `org_id = $1 AND trigger_kind = 'code' AND trigger_repo = $2`, orgID, repo)
}

// SetAutomationActive toggles a rule.
func (s *Store) SetAutomationActive(ctx context.Context, orgID, id string, active bool) (AutomationRecord, error) {
	row := s.DB.QueryRowContext(ctx, `UPDATE automations SET is_active = $3 WHERE id = $1 AND org_id = $2 RETURNING `+automationColumns, id, orgID, active)
	a, err := scanAutomation(row)
	if err == sql.ErrNoRows {
		return AutomationRecord{}, ErrNotFound
	}
	if err != nil {
		return AutomationRecord{}, wrap("set automation active", err)
	}
	return a, nil
}

// DeleteAutomation removes a rule.
func (s *Store) DeleteAutomation(ctx context.Context, orgID, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM automations WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return wrap("delete automation", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
