package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TagSeparator joins consolidated tags in the videos.tags column
const TagSeparator = ", "

// ReplaceVideoTags stores the consolidated tag set for a video, replacing any
// tags from an earlier run. An empty set clears the video's tags.
func (s *Storage) ReplaceVideoTags(ctx context.Context, videoID string, tags []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM tags WHERE video_id = ?"), videoID); err != nil {
		return fmt.Errorf("failed to delete old tags: %w", err)
	}

	if len(tags) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.rebind("INSERT INTO tags (video_id, tag, processed_date) VALUES (?, ?, ?)"))
		if err != nil {
			return fmt.Errorf("failed to prepare tag insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, tag := range tags {
			if _, err := stmt.ExecContext(ctx, videoID, tag, now); err != nil {
				return fmt.Errorf("failed to insert tag %q: %w", tag, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, s.rebind("UPDATE videos SET tags = ? WHERE video_id = ?"),
		strings.Join(tags, TagSeparator), videoID); err != nil {
		return fmt.Errorf("failed to update video tags: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetVideoTags returns the stored tags of a video in ascending order
func (s *Storage) GetVideoTags(ctx context.Context, videoID string) ([]string, error) {
	rows, err := s.query(ctx, "SELECT tag FROM tags WHERE video_id = ? ORDER BY tag", videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// SearchVideosByTag returns the ids of videos carrying the exact tag
func (s *Storage) SearchVideosByTag(ctx context.Context, tag string) ([]string, error) {
	rows, err := s.query(ctx, "SELECT DISTINCT video_id FROM tags WHERE tag = ? ORDER BY video_id", tag)
	if err != nil {
		return nil, fmt.Errorf("failed to search tags: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan video id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
