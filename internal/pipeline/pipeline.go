// Package pipeline runs a processing session: collecting a channel's top
// videos and comments for each seed video, then tagging every collected
// video from its transcript.
package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/zombar/videotagger/internal/clients"
	"github.com/zombar/videotagger/internal/metrics"
	"github.com/zombar/videotagger/internal/storage"
)

// MetadataSource reads channel, video and comment data from YouTube
type MetadataSource interface {
	VideoSnippet(ctx context.Context, videoID string) (*clients.VideoSnippet, error)
	TopVideos(ctx context.Context, channelID string, n int) ([]string, error)
	VideoDetails(ctx context.Context, videoIDs []string) ([]clients.VideoDetails, error)
	ChannelStats(ctx context.Context, channelID string) (*clients.ChannelStats, error)
	Comments(ctx context.Context, videoID string, n int) ([]clients.CommentItem, error)
}

// TranscriptSource fetches caption segments for a video
type TranscriptSource interface {
	Transcript(ctx context.Context, videoID string) ([]clients.Segment, error)
}

// TagGenerator produces candidate tags from text
type TagGenerator interface {
	GenerateTags(ctx context.Context, transcript string, numTags int) ([]string, error)
	IdentifyInterviewees(ctx context.Context, title, description string) ([]string, error)
}

// TagConsolidator reduces candidate tags to the final set
type TagConsolidator interface {
	Consolidate(ctx context.Context, rawTags []string, distanceThreshold float64) ([]string, error)
}

// Reporter records progress messages for a session
type Reporter interface {
	Send(ctx context.Context, sessionID, message string) error
	Sendf(ctx context.Context, sessionID, format string, args ...interface{})
}

// Dispatcher hands a saved job to whatever executes it. The returned task
// id may be empty when the executor has none.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *storage.ProcessingJob) (string, error)
}

// Deps are the collaborators of a Processor
type Deps struct {
	Store        *storage.Storage
	YouTube      MetadataSource
	Transcripts  TranscriptSource
	Generator    TagGenerator
	Consolidator TagConsolidator
	Reporter     Reporter
	Dispatcher   Dispatcher
	Metrics      *metrics.BusinessMetrics
	Log          *logrus.Entry
}

// Options tune workflow behaviour
type Options struct {
	// ChannelURLBase prefixes a channel id to form its public link
	ChannelURLBase string
	// IncludeInterviewees adds guest names from title and description to the raw tags
	IncludeInterviewees bool
}

// Processor executes session jobs
type Processor struct {
	Deps
	opts Options
}

// NewProcessor creates a processor
func NewProcessor(deps Deps, opts Options) *Processor {
	if opts.ChannelURLBase == "" {
		opts.ChannelURLBase = "https://www.youtube.com/channel/"
	}
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{Deps: deps, opts: opts}
}

// WithDispatcher returns a copy of the processor that dispatches through d
func (p *Processor) WithDispatcher(d Dispatcher) *Processor {
	cp := *p
	cp.Dispatcher = d
	return &cp
}
