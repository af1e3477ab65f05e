package store

import (
	"context"
	"database/sql"
	"fmt"
)

const codeLinkColumns = `id::text, doc_id::text, org_id, provider, file, git_org, repo, branch, type, line, end_line, sha, url, created_at`

func scanCodeLink(row rowScanner) (CodeLink, error) {
	var (
		l             CodeLink
		typ           string
		line, endLine sql.NullInt64
	)
	if err := row.Scan(&l.ID, &l.DocID, &l.OrgID, &l.Provider, &l.File, &l.GitOrg, &l.Repo, &l.Branch, &typ, &line, &endLine, &l.SHA, &l.URL, &l.CreatedAt); err != nil {
		return CodeLink{}, err
	}
	l.Type = LinkType(typ)
	if line.Valid {
		v := int(line.Int64)
		l.Line = &v
	}
	if endLine.Valid {
		v := int(endLine.Int64)
		l.EndLine = &v
	}
	return l, nil
}

// ValidateCodeLink checks the range rules of a link: lines links carry a
// 1-based range and a baseline sha, file and folder links carry no range.
func ValidateCodeLink(l CodeLink) error {
	if l.OrgID == "" || l.DocID == "" || l.URL == "" || l.File == "" || l.Repo == "" {
		return fmt.Errorf("org, doc, url, file and repo are required")
	}
	switch l.Type {
	case LinkLines:
		if l.Line == nil || l.EndLine == nil {
			return fmt.Errorf("lines link requires line and endLine")
		}
		if *l.Line < 1 || *l.EndLine < *l.Line {
			return fmt.Errorf("invalid line range %d-%d", *l.Line, *l.EndLine)
		}
		if l.SHA == "" {
			return fmt.Errorf("lines link requires a sha")
		}
	case LinkFile, LinkFolder:
		if l.Line != nil || l.EndLine != nil {
			return fmt.Errorf("%s link must not carry a line range", l.Type)
		}
	default:
		return fmt.Errorf("unknown link type %q", l.Type)
	}
	return nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// UpsertCodeLink stores a link keyed by (org, doc, url). Re-linking the same
// url replaces the previous binding.
func (s *Store) UpsertCodeLink(ctx context.Context, l CodeLink) (CodeLink, error) {
	if err := ValidateCodeLink(l); err != nil {
		return CodeLink{}, err
	}
	if l.Provider == "" {
		l.Provider = "github"
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO code_links (doc_id, org_id, provider, file, git_org, repo, branch, type, line, end_line, sha, url)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (org_id, doc_id, url) DO UPDATE SET
  provider = EXCLUDED.provider,
  file     = EXCLUDED.file,
  git_org  = EXCLUDED.git_org,
  repo     = EXCLUDED.repo,
  branch   = EXCLUDED.branch,
  type     = EXCLUDED.type,
  line     = EXCLUDED.line,
  end_line = EXCLUDED.end_line,
  sha      = EXCLUDED.sha
RETURNING id::text, created_at`,
		l.DocID, l.OrgID, l.Provider, l.File, l.GitOrg, l.Repo, l.Branch, string(l.Type),
		nullableInt(l.Line), nullableInt(l.EndLine), l.SHA, l.URL)
	if err := row.Scan(&l.ID, &l.CreatedAt); err != nil {
		return CodeLink{}, wrap("upsert code link", err)
	}
	recordWrites(ctx, "code_links", 1)
	return l, nil
}

func (s *Store) listCodeLinks(ctx context.Context, op, where string, args ...any) ([]CodeLink, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+codeLinkColumns+` FROM code_links WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()
	var out []CodeLink
	for rows.Next() {
		l, err := scanCodeLink(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, l)
	}
	return out, wrap(op, rows.Err())
}

// ListCodeLinksByRepo returns the links registered for one repository.
func (s *Store) ListCodeLinksByRepo(ctx context.Context, orgID, repo string) ([]CodeLink, error) {
	return s.listCodeLinks(ctx, "list code links by repo", `org_id = $1 AND repo = $2`, orgID, repo)
}

// ListCodeLinksByDoc returns the links attached to one document.
func (s *Store) ListCodeLinksByDoc(ctx context.Context, orgID, docID string) ([]CodeLink, error) {
	return s.listCodeLinks(ctx, "list code links by doc", `org_id = $1 AND doc_id = $2`, orgID, docID)
}

// DeleteCodeLink removes one link owned by orgID.
func (s *Store) DeleteCodeLink(ctx context.Context, orgID, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM code_links WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return wrap("delete code link", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
