package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zombar/videotagger/internal/clients"
	"github.com/zombar/videotagger/internal/storage"
)

// errTranscriptPending means another worker is still retrieving the transcript
var errTranscriptPending = errors.New("transcript retrieval in progress")

// tagVideo generates candidate tags from a video's transcript, consolidates
// them with the session's clustering strength and replaces the stored tags.
func (p *Processor) tagVideo(ctx context.Context, sess *storage.Session, videoID string) error {
	text, err := p.transcriptText(ctx, sess.ID, videoID)
	if errors.Is(err, errTranscriptPending) {
		return nil
	}
	if err != nil {
		p.countTagged("failed")
		return err
	}

	var raw []string
	if text != "" {
		raw, err = p.Generator.GenerateTags(ctx, text, sess.NumTags)
		if err != nil {
			p.countTagged("failed")
			return fmt.Errorf("failed to generate tags: %w", err)
		}
	}

	if p.opts.IncludeInterviewees {
		raw = append(raw, p.interviewees(ctx, videoID)...)
	}

	start := time.Now()
	tags, err := p.Consolidator.Consolidate(ctx, raw, sess.ClusteringStrength)
	p.Metrics.ObserveConsolidation(start, len(raw), len(tags), err)
	if err != nil {
		p.countTagged("failed")
		return fmt.Errorf("failed to consolidate tags: %w", err)
	}

	if err := p.Store.ReplaceVideoTags(ctx, videoID, tags); err != nil {
		p.countTagged("failed")
		return err
	}
	p.countTagged("success")
	p.Reporter.Sendf(ctx, sess.ID, "Generated and stored %d tags for video ID: %s", len(tags), videoID)
	return nil
}

// transcriptText returns the transcript to tag from, reusing a completed
// retrieval when one exists. A video without captions yields empty text.
func (p *Processor) transcriptText(ctx context.Context, sessionID, videoID string) (string, error) {
	existing, err := p.Store.GetLatestTranscript(ctx, videoID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return "", err
	case existing.Status == storage.TranscriptCompleted:
		p.Reporter.Sendf(ctx, sessionID, "Existing transcription for video ID: %s found and completed.", videoID)
		p.countTranscript("reused")
		return existing.Text(), nil
	case existing.Status == storage.TranscriptInProgress:
		p.Reporter.Sendf(ctx, sessionID, "Existing transcription for video ID: %s is in progress.", videoID)
		p.countTranscript("skipped")
		return "", errTranscriptPending
	case existing.Status == storage.TranscriptFailed:
		p.Reporter.Sendf(ctx, sessionID, "Previous transcription failed for video ID: %s. Requesting new transcription...", videoID)
	}

	segments, err := p.Transcripts.Transcript(ctx, videoID)
	if err != nil {
		p.countTranscript("failed")
		if saveErr := p.Store.SaveTranscript(ctx, &storage.Transcript{
			VideoID:      videoID,
			Status:       storage.TranscriptFailed,
			ErrorMessage: err.Error(),
		}); saveErr != nil {
			p.Log.WithError(saveErr).WithField("video_id", videoID).Warn("failed to record transcript failure")
		}
		p.Reporter.Sendf(ctx, sessionID, "Error retrieving transcript for video %s: %v", videoID, err)
		if errors.Is(err, clients.ErrNoTranscript) {
			return "", nil
		}
		return "", err
	}

	stored := make([]storage.TranscriptSegment, len(segments))
	for i, s := range segments {
		stored[i] = storage.TranscriptSegment{Text: s.Text, Start: s.Start, Duration: s.Duration}
	}
	if err := p.Store.SaveTranscript(ctx, &storage.Transcript{
		VideoID:  videoID,
		Segments: stored,
		Status:   storage.TranscriptCompleted,
	}); err != nil {
		return "", err
	}
	p.countTranscript("fetched")
	p.Reporter.Sendf(ctx, sessionID, "Transcript for video %s retrieved and stored.", videoID)
	return clients.JoinSegments(segments), nil
}

func (p *Processor) interviewees(ctx context.Context, videoID string) []string {
	video, err := p.Store.GetVideo(ctx, videoID)
	if err != nil {
		p.Log.WithError(err).WithField("video_id", videoID).Warn("failed to load video for interviewee lookup")
		return nil
	}
	names, err := p.Generator.IdentifyInterviewees(ctx, video.Title, video.Description)
	if err != nil {
		p.Log.WithError(err).WithField("video_id", videoID).Warn("failed to identify interviewees")
		return nil
	}
	return names
}

func (p *Processor) countTagged(status string) {
	if p.Metrics != nil {
		p.Metrics.VideosTaggedTotal.WithLabelValues(status).Inc()
	}
}

func (p *Processor) countTranscript(result string) {
	if p.Metrics != nil {
		p.Metrics.TranscriptsTotal.WithLabelValues(result).Inc()
	}
}
