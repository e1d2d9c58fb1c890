package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/LMDG1/v2-scoringThesis/internal/eventlog"
)

// Write stores an action, so a Store can back an eventlog.Logger.
func (s *Store) Write(ctx context.Context, a eventlog.Action) error {
	attrs := []byte("{}")
	if len(a.Attributes) > 0 {
		var err error
		if attrs, err = json.Marshal(a.Attributes); err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_actions (id, session_id, kind, label, attributes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.Kind, a.Label, string(attrs), a.At,
	)
	return err
}

// ListActions returns logged actions in time order. An empty sessionID lists
// all sessions.
func (s *Store) ListActions(ctx context.Context, sessionID string) ([]eventlog.Action, error) {
	query := `SELECT id, session_id, kind, label, attributes, created_at FROM user_actions`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actions []eventlog.Action
	for rows.Next() {
		var (
			a     eventlog.Action
			attrs string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Kind, &a.Label, &attrs, &a.At); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &a.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of action %s: %w", a.ID, err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
