package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Session statuses
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
)

// Session is one processing request over a set of seed videos
type Session struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"`
	VideoIDs           []string   `json:"video_ids"`
	NumVideos          int        `json:"num_videos"`
	NumComments        int        `json:"num_comments"`
	NumTags            int        `json:"num_tags"`
	ClusteringStrength float64    `json:"clustering_strength"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

const sessionColumns = `id, status, video_ids_json, num_videos, num_comments, num_tags,
	clustering_strength, created_at, updated_at, completed_at`

// CreateSession inserts a new running session
func (s *Storage) CreateSession(ctx context.Context, sess *Session) error {
	idsJSON, err := json.Marshal(sess.VideoIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal video ids: %w", err)
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = sess.CreatedAt
	if sess.Status == "" {
		sess.Status = SessionRunning
	}

	_, err = s.exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Status, string(idsJSON), sess.NumVideos, sess.NumComments, sess.NumTags,
		sess.ClusteringStrength, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(), sess.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *Storage) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first
func (s *Storage) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	rows, err := s.query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var idsJSON string
	var completedAt sql.NullTime
	if err := row.Scan(&sess.ID, &sess.Status, &idsJSON, &sess.NumVideos, &sess.NumComments, &sess.NumTags,
		&sess.ClusteringStrength, &sess.CreatedAt, &sess.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(idsJSON), &sess.VideoIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video ids: %w", err)
	}
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	return sess, nil
}

// CompleteSession marks a running session completed. It reports false when
// the session was already completed, so exactly one caller wins.
func (s *Storage) CompleteSession(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.exec(ctx, `
		UPDATE sessions
		SET status = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status <> ?
	`, SessionCompleted, now, now, id, SessionCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to complete session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}
