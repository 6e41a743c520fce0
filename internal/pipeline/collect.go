package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zombar/videotagger/internal/clients"
	"github.com/zombar/videotagger/internal/slug"
	"github.com/zombar/videotagger/internal/storage"
)

// collectChannel stores the seed video's channel, its top videos and
// their comments, then dispatches a tag job per collected video.
func (p *Processor) collectChannel(ctx context.Context, sess *storage.Session, seedID string) error {
	snippet, err := p.YouTube.VideoSnippet(ctx, seedID)
	if errors.Is(err, clients.ErrVideoNotFound) {
		p.Reporter.Sendf(ctx, sess.ID, "No data found for video ID: %s", seedID)
		return nil
	}
	if err != nil {
		return err
	}

	channelID := snippet.ChannelID
	videoIDs, err := p.YouTube.TopVideos(ctx, channelID, sess.NumVideos)
	if err != nil {
		return fmt.Errorf("failed to list channel videos: %w", err)
	}
	details, err := p.YouTube.VideoDetails(ctx, videoIDs)
	if err != nil {
		return fmt.Errorf("failed to fetch video details: %w", err)
	}
	stats, err := p.YouTube.ChannelStats(ctx, channelID)
	if err != nil {
		return fmt.Errorf("failed to fetch channel statistics: %w", err)
	}

	now := time.Now().UTC()
	retrieved := make([]string, 0, len(details))
	videos := make([]*storage.Video, 0, len(details))
	for _, d := range details {
		retrieved = append(retrieved, d.VideoID)
		videos = append(videos, &storage.Video{
			VideoID:       d.VideoID,
			ChannelID:     channelID,
			Title:         d.Title,
			Description:   d.Description,
			Duration:      d.Duration,
			ViewCount:     d.ViewCount,
			LikeCount:     d.LikeCount,
			CommentCount:  d.CommentCount,
			RetrievalDate: now,
		})
	}

	about := stats.About
	if about == "" {
		about = snippet.Description
	}
	channel := &storage.Channel{
		ChannelID:               channelID,
		ChannelName:             snippet.ChannelTitle,
		ChannelSlug:             slug.Generate(snippet.ChannelTitle),
		LinkToChannel:           p.opts.ChannelURLBase + channelID,
		About:                   about,
		NumberOfTotalVideos:     stats.TotalVideos,
		NumberOfRetrievedVideos: len(retrieved),
		IDsOfRetrievedVideos:    retrieved,
		Subscribers:             stats.Subscribers,
		ChannelRetrievalDate:    now,
	}
	if err := p.Store.UpsertChannel(ctx, channel); err != nil {
		return err
	}
	p.Reporter.Sendf(ctx, sess.ID, "Updated channel info for %s", channel.ChannelName)

	if err := p.Store.UpsertVideos(ctx, videos); err != nil {
		return err
	}
	p.Reporter.Sendf(ctx, sess.ID, "Saved channel and videos for channel ID: %s", channelID)

	for _, videoID := range retrieved {
		items, err := p.YouTube.Comments(ctx, videoID, sess.NumComments)
		if err != nil {
			return fmt.Errorf("failed to fetch comments for %s: %w", videoID, err)
		}
		comments := make([]*storage.Comment, 0, len(items))
		for _, c := range items {
			comments = append(comments, &storage.Comment{
				CommentID:     c.CommentID,
				VideoID:       videoID,
				Author:        c.Author,
				Likes:         c.Likes,
				PublishedAt:   c.PublishedAt,
				UpdatedAt:     c.UpdatedAt,
				ParentID:      c.ParentID,
				Text:          c.Text,
				RetrievalDate: now,
			})
		}
		if err := p.Store.UpsertComments(ctx, comments); err != nil {
			return err
		}
		p.Reporter.Sendf(ctx, sess.ID, "Saved %d comments for video ID: %s", len(comments), videoID)
	}

	jobs := newJobs(sess.ID, storage.JobTagVideo, retrieved)
	if err := p.Store.EnsureJobs(ctx, jobs); err != nil {
		return fmt.Errorf("failed to save tag jobs: %w", err)
	}
	p.dispatchAll(ctx, jobs)
	return nil
}
