package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Channel is a YouTube channel and the videos retrieved for it
type Channel struct {
	ChannelID               string    `json:"channel_id"`
	ChannelName             string    `json:"channel_name"`
	ChannelSlug             string    `json:"channel_slug,omitempty"`
	LinkToChannel           string    `json:"link_to_channel"`
	About                   string    `json:"about"`
	NumberOfTotalVideos     int64     `json:"number_of_total_videos"`
	NumberOfRetrievedVideos int       `json:"number_of_retrieved_videos"`
	IDsOfRetrievedVideos    []string  `json:"ids_of_retrieved_videos"`
	Subscribers             int64     `json:"subscribers"`
	ChannelRetrievalDate    time.Time `json:"channel_retrieval_date"`
}

// Video is a single YouTube video with engagement statistics
type Video struct {
	VideoID       string    `json:"video_id"`
	ChannelID     string    `json:"channel_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Duration      string    `json:"duration"`
	ViewCount     int64     `json:"view_count"`
	LikeCount     int64     `json:"like_count"`
	CommentCount  int64     `json:"comment_count"`
	Tags          string    `json:"tags"` // Consolidated tags joined with ", "
	RetrievalDate time.Time `json:"retrieval_date"`
}

// Comment is a top-level comment or a reply. Replies carry the thread id in ParentID.
type Comment struct {
	CommentID     string    `json:"comment_id"`
	VideoID       string    `json:"video_id"`
	Author        string    `json:"comment_author"`
	Likes         int64     `json:"comment_likes"`
	PublishedAt   string    `json:"comment_published_at"`
	UpdatedAt     string    `json:"comment_updated_at"`
	ParentID      string    `json:"comment_parent_id"`
	Text          string    `json:"comment_text"`
	RetrievalDate time.Time `json:"comment_retrieval_date"`
}

// UpsertChannel inserts or refreshes a channel record
func (s *Storage) UpsertChannel(ctx context.Context, ch *Channel) error {
	idsJSON, err := json.Marshal(ch.IDsOfRetrievedVideos)
	if err != nil {
		return fmt.Errorf("failed to marshal retrieved video ids: %w", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO channels (
			channel_id, channel_name, channel_slug, link_to_channel, about,
			number_of_total_videos, number_of_retrieved_videos, ids_of_retrieved_videos,
			subscribers, channel_retrieval_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			channel_name = excluded.channel_name,
			channel_slug = excluded.channel_slug,
			link_to_channel = excluded.link_to_channel,
			about = excluded.about,
			number_of_total_videos = excluded.number_of_total_videos,
			number_of_retrieved_videos = excluded.number_of_retrieved_videos,
			ids_of_retrieved_videos = excluded.ids_of_retrieved_videos,
			subscribers = excluded.subscribers,
			channel_retrieval_date = excluded.channel_retrieval_date
	`, ch.ChannelID, ch.ChannelName, nullString(ch.ChannelSlug), ch.LinkToChannel, ch.About,
		ch.NumberOfTotalVideos, ch.NumberOfRetrievedVideos, string(idsJSON),
		ch.Subscribers, ch.ChannelRetrievalDate.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert channel %s: %w", ch.ChannelID, err)
	}
	return nil
}

// GetChannel retrieves a channel by ID
func (s *Storage) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	var slug, about, idsJSON sql.NullString
	var retrieved sql.NullTime

	err := s.queryRow(ctx, `
		SELECT channel_id, channel_name, channel_slug, link_to_channel, about,
			number_of_total_videos, number_of_retrieved_videos, ids_of_retrieved_videos,
			subscribers, channel_retrieval_date
		FROM channels
		WHERE channel_id = ?
	`, channelID).Scan(&ch.ChannelID, &ch.ChannelName, &slug, &ch.LinkToChannel, &about,
		&ch.NumberOfTotalVideos, &ch.NumberOfRetrievedVideos, &idsJSON,
		&ch.Subscribers, &retrieved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query channel: %w", err)
	}

	ch.ChannelSlug = slug.String
	ch.About = about.String
	if retrieved.Valid {
		ch.ChannelRetrievalDate = retrieved.Time
	}
	if idsJSON.Valid && idsJSON.String != "" {
		if err := json.Unmarshal([]byte(idsJSON.String), &ch.IDsOfRetrievedVideos); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retrieved video ids: %w", err)
		}
	}
	return &ch, nil
}

// UpsertVideos inserts or refreshes video records in one transaction.
// Previously consolidated tags are left untouched.
func (s *Storage) UpsertVideos(ctx context.Context, videos []*Video) error {
	if len(videos) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO videos (
			video_id, channel_id, title, description, duration,
			view_count, like_count, comment_count, retrieval_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (video_id) DO UPDATE SET
			channel_id = excluded.channel_id,
			title = excluded.title,
			description = excluded.description,
			duration = excluded.duration,
			view_count = excluded.view_count,
			like_count = excluded.like_count,
			comment_count = excluded.comment_count,
			retrieval_date = excluded.retrieval_date
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare video upsert: %w", err)
	}
	defer stmt.Close()

	for _, v := range videos {
		if _, err := stmt.ExecContext(ctx, v.VideoID, nullString(v.ChannelID), v.Title, v.Description, v.Duration,
			v.ViewCount, v.LikeCount, v.CommentCount, v.RetrievalDate.UTC()); err != nil {
			return fmt.Errorf("failed to upsert video %s: %w", v.VideoID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const videoColumns = `video_id, channel_id, title, description, duration,
	view_count, like_count, comment_count, tags, retrieval_date`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVideo(row rowScanner) (*Video, error) {
	var v Video
	var channelID, description, duration, tags sql.NullString
	var retrieved sql.NullTime
	if err := row.Scan(&v.VideoID, &channelID, &v.Title, &description, &duration,
		&v.ViewCount, &v.LikeCount, &v.CommentCount, &tags, &retrieved); err != nil {
		return nil, err
	}
	v.ChannelID = channelID.String
	v.Description = description.String
	v.Duration = duration.String
	v.Tags = tags.String
	if retrieved.Valid {
		v.RetrievalDate = retrieved.Time
	}
	return &v, nil
}

// GetVideo retrieves a video by ID
func (s *Storage) GetVideo(ctx context.Context, videoID string) (*Video, error) {
	v, err := scanVideo(s.queryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE video_id = ?`, videoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query video: %w", err)
	}
	return v, nil
}

// ListChannelVideos returns a channel's videos, most viewed first
func (s *Storage) ListChannelVideos(ctx context.Context, channelID string) ([]*Video, error) {
	rows, err := s.query(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE channel_id = ?
		ORDER BY view_count DESC, video_id
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return videos, nil
}

// UpsertComments inserts or refreshes comments in one transaction
func (s *Storage) UpsertComments(ctx context.Context, comments []*Comment) error {
	if len(comments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO comments (
			comment_id, video_id, comment_author, comment_likes, comment_published_at,
			comment_updated_at, comment_parent_id, comment_text, comment_retrieval_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (comment_id) DO UPDATE SET
			comment_author = excluded.comment_author,
			comment_likes = excluded.comment_likes,
			comment_updated_at = excluded.comment_updated_at,
			comment_text = excluded.comment_text,
			comment_retrieval_date = excluded.comment_retrieval_date
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare comment upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range comments {
		if _, err := stmt.ExecContext(ctx, c.CommentID, c.VideoID, c.Author, c.Likes, c.PublishedAt,
			c.UpdatedAt, c.ParentID, c.Text, c.RetrievalDate.UTC()); err != nil {
			return fmt.Errorf("failed to upsert comment %s: %w", c.CommentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListVideoComments returns the stored comments for a video, threads first
func (s *Storage) ListVideoComments(ctx context.Context, videoID string) ([]*Comment, error) {
	rows, err := s.query(ctx, `
		SELECT comment_id, video_id, comment_author, comment_likes, comment_published_at,
			comment_updated_at, comment_parent_id, comment_text, comment_retrieval_date
		FROM comments
		WHERE video_id = ?
		ORDER BY comment_parent_id, comment_likes DESC, comment_id
	`, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		var c Comment
		var author, published, updated, parent, text sql.NullString
		var retrieved sql.NullTime
		if err := rows.Scan(&c.CommentID, &c.VideoID, &author, &c.Likes, &published,
			&updated, &parent, &text, &retrieved); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.Author = author.String
		c.PublishedAt = published.String
		c.UpdatedAt = updated.String
		c.ParentID = parent.String
		c.Text = text.String
		if retrieved.Valid {
			c.RetrievalDate = retrieved.Time
		}
		comments = append(comments, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return comments, nil
}
