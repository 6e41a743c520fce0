package storage

import (
	"context"
	"fmt"
	"time"
)

// Update is a progress message emitted while a session runs
type Update struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// InsertUpdate persists a progress message
func (s *Storage) InsertUpdate(ctx context.Context, u *Update) error {
	_, err := s.exec(ctx, `
		INSERT INTO updates (id, session_id, message, timestamp)
		VALUES (?, ?, ?, ?)
	`, u.ID, u.SessionID, u.Message, u.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert update: %w", err)
	}
	return nil
}

// ListUpdates returns a session's updates in emission order. Update ids are
// ULIDs, so ordering by id follows creation time.
func (s *Storage) ListUpdates(ctx context.Context, sessionID string) ([]*Update, error) {
	rows, err := s.query(ctx, `
		SELECT id, session_id, message, timestamp
		FROM updates
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	defer rows.Close()

	updates := []*Update{}
	for rows.Next() {
		var u Update
		if err := rows.Scan(&u.ID, &u.SessionID, &u.Message, &u.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		updates = append(updates, &u)
	}
	return updates, rows.Err()
}
