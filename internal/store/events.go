package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/docwatch/internal/contentdiff"
)

// InsertEvents appends events in a single transaction and returns them with
// their generated ids and timestamps.
func (s *Store) InsertEvents(ctx context.Context, events []Event) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	out := make([]Event, 0, len(events))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (org_id, doc_id, type, change) VALUES ($1,$2,$3,$4) RETURNING id::text, created_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, ev := range events {
			change := ev.Change
			if change == nil {
				change = []contentdiff.Segment{}
			}
			payload, err := json.Marshal(change)
			if err != nil {
				return fmt.Errorf("marshal change: %w", err)
			}
			if err := stmt.QueryRowContext(ctx, ev.OrgID, ev.DocID, string(ev.Type), payload).Scan(&ev.ID, &ev.CreatedAt); err != nil {
				return fmt.Errorf("insert event for %s: %w", ev.DocID, err)
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("insert events", err)
	}
	recordWrites(ctx, "events", len(out))
	return out, nil
}

// ListEvents returns the most recent events of an organization, optionally
// narrowed to one document.
func (s *Store) ListEvents(ctx context.Context, orgID, docID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id::text, org_id, doc_id::text, type, change, created_at FROM events WHERE org_id = $1`
	args := []any{orgID}
	if docID != "" {
		query += ` AND doc_id = $2`
		args = append(args, docID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list events", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			ev      Event
			typ     string
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.DocID, &typ, &payload, &ev.CreatedAt); err != nil {
			return nil, wrap("list events", err)
		}
		ev.Type = EventType(typ)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Change); err != nil {
				return nil, wrap("list events", fmt.Errorf("decode change: %w", err))
			}
		}
		out = append(out, ev)
	}
	return out, wrap("list events", rows.Err())
}
