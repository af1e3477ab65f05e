package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const documentColumns = `id::text, org_id, url, method, title, favicon, content, is_just_added, created_by, created_at, last_updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var method string
	err := row.Scan(&d.ID, &d.OrgID, &d.URL, &method, &d.Title, &d.Favicon, &d.Content, &d.IsJustAdded, &d.CreatedBy, &d.CreatedAt, &d.LastUpdatedAt)
	d.Method = Method(method)
	return d, err
}

// UpsertDocument inserts a document or refreshes the existing row for the same
// (org, url). The method is overwritten, so re-importing a URL through a
// different integration reclassifies it. created reports whether a new row was
// inserted.
func (s *Store) UpsertDocument(ctx context.Context, d Document) (Document, bool, error) {
	if d.OrgID == "" || d.URL == "" {
		return Document{}, false, fmt.Errorf("org_id and url are required")
	}
	if d.Method == "" {
		d.Method = MethodWeb
	}
	if !d.Method.Valid() {
		return Document{}, false, fmt.Errorf("unknown ingestion method %q", d.Method)
	}
	var created bool
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (org_id, url, method, title, favicon, content, is_just_added, created_by)
VALUES ($1,$2,$3,$4,$5,$6,TRUE,$7)
ON CONFLICT (org_id, url) DO UPDATE SET
  method          = EXCLUDED.method,
  title           = EXCLUDED.title,
  favicon         = EXCLUDED.favicon,
  content         = EXCLUDED.content,
  last_updated_at = NOW()
RETURNING id::text, is_just_added, created_at, last_updated_at, (xmax = 0)`,
		d.OrgID, d.URL, string(d.Method), d.Title, d.Favicon, d.Content, d.CreatedBy,
	).Scan(&d.ID, &d.IsJustAdded, &d.CreatedAt, &d.LastUpdatedAt, &created)
	if err != nil {
		return Document{}, false, wrap("upsert document", err)
	}
	recordWrites(ctx, "documents", 1)
	return d, created, nil
}

// GetDocument loads one document owned by orgID.
func (s *Store) GetDocument(ctx context.Context, orgID, id string) (Document, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 AND org_id = $2`, id, orgID)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, wrap("get document", err)
	}
	return d, nil
}

// ListDocuments returns every document tracked by orgID, oldest first.
func (s *Store) ListDocuments(ctx context.Context, orgID string) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, wrap("list documents", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, wrap("list documents", err)
		}
		out = append(out, d)
	}
	return out, wrap("list documents", rows.Err())
}

// DocumentsByID loads the listed documents of orgID keyed by id. Unknown ids
// are absent from the map.
func (s *Store) DocumentsByID(ctx context.Context, orgID string, ids []string) (map[string]Document, error) {
	out := make(map[string]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE org_id = $1 AND id::text = ANY($2)`, orgID, pq.Array(ids))
	if err != nil {
		return nil, wrap("documents by id", err)
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, wrap("documents by id", err)
		}
		out[d.ID] = d
	}
	return out, wrap("documents by id", rows.Err())
}

// BulkUpdateDocuments writes refreshed snapshots in one transaction. Either
// every update is applied or none is.
func (s *Store) BulkUpdateDocuments(ctx context.Context, updates []DocumentUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE documents SET content = $2, last_updated_at = $3, title = COALESCE(NULLIF($4, ''), title), is_just_added = FALSE WHERE id = $1`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, u.ID, u.Content, u.LastUpdatedAt, u.Title); err != nil {
				return fmt.Errorf("update %s: %w", u.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return wrap("bulk update documents", err)
	}
	recordWrites(ctx, "documents", len(updates))
	return nil
}

// DeleteDocument removes a document. Code links, events and automations
// triggered by it are removed by foreign key cascade.
func (s *Store) DeleteDocument(ctx context.Context, orgID, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return wrap("delete document", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOrganizations returns every organization that tracks at least one
// document.
func (s *Store) ListOrganizations(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT org_id FROM documents ORDER BY org_id`)
	if err != nil {
		return nil, wrap("list organizations", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("list organizations", err)
		}
		out = append(out, id)
	}
	return out, wrap("list organizations", rows.Err())
}
