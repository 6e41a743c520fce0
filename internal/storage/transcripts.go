package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Transcript statuses
const (
	TranscriptCompleted  = "completed"
	TranscriptInProgress = "in_progress"
	TranscriptFailed     = "failed"
)

// TranscriptSource identifies where caption segments were fetched from
const TranscriptSource = "youtube_transcript_api"

// TranscriptSegment is one timed caption line
type TranscriptSegment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Transcript is one retrieval attempt for a video's captions
type Transcript struct {
	ID            int64               `json:"id"`
	VideoID       string              `json:"video_id"`
	Segments      []TranscriptSegment `json:"transcript,omitempty"`
	RetrievalDate time.Time           `json:"retrieval_date"`
	Status        string              `json:"status"`
	Source        string              `json:"source"`
	ErrorMessage  string              `json:"error_message,omitempty"`
}

// Text joins the segment texts with single spaces
func (t *Transcript) Text() string {
	if t == nil {
		return ""
	}
	out := make([]byte, 0, len(t.Segments)*32)
	for i, seg := range t.Segments {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, seg.Text...)
	}
	return string(out)
}

// SaveTranscript records a retrieval attempt and sets its ID
func (s *Storage) SaveTranscript(ctx context.Context, t *Transcript) error {
	var segments sql.NullString
	if t.Segments != nil {
		data, err := json.Marshal(t.Segments)
		if err != nil {
			return fmt.Errorf("failed to marshal transcript: %w", err)
		}
		segments = sql.NullString{String: string(data), Valid: true}
	}
	if t.Source == "" {
		t.Source = TranscriptSource
	}
	if t.RetrievalDate.IsZero() {
		t.RetrievalDate = time.Now().UTC()
	}

	err := s.queryRow(ctx, `
		INSERT INTO transcripts (video_id, transcript, retrieval_date, status, source, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, t.VideoID, segments, t.RetrievalDate.UTC(), t.Status, t.Source, nullString(t.ErrorMessage)).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	return nil
}

// GetLatestTranscript returns the most recent retrieval attempt for a video
func (s *Storage) GetLatestTranscript(ctx context.Context, videoID string) (*Transcript, error) {
	var t Transcript
	var segments, errMsg sql.NullString

	err := s.queryRow(ctx, `
		SELECT id, video_id, transcript, retrieval_date, status, source, error_message
		FROM transcripts
		WHERE video_id = ?
		ORDER BY retrieval_date DESC, id DESC
		LIMIT 1
	`, videoID).Scan(&t.ID, &t.VideoID, &segments, &t.RetrievalDate, &t.Status, &t.Source, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}

	t.ErrorMessage = errMsg.String
	if segments.Valid && segments.String != "" {
		if err := json.Unmarshal([]byte(segments.String), &t.Segments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
		}
	}
	return &t, nil
}
