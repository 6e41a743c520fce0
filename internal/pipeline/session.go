package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/zombar/videotagger/internal/storage"
)

// Request limits
const (
	MaxNumVideos   = 50
	MaxNumComments = 100
)

// ErrInvalidRequest marks a request rejected before any work starts
var ErrInvalidRequest = errors.New("invalid request")

// Request asks for a processing session over a set of seed videos
type Request struct {
	VideoIDs           []string `json:"video_ids"`
	NumVideos          int      `json:"num_videos"`
	NumComments        int      `json:"num_comments"`
	NumTags            int      `json:"num_tags"`
	ClusteringStrength float64  `json:"clustering_strength"`
}

// Validate trims and deduplicates the seed ids and checks the limits
func (r *Request) Validate() error {
	seen := make(map[string]bool, len(r.VideoIDs))
	ids := make([]string, 0, len(r.VideoIDs))
	for _, id := range r.VideoIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	r.VideoIDs = ids

	switch {
	case len(r.VideoIDs) == 0:
		return fmt.Errorf("%w: at least one video id is required", ErrInvalidRequest)
	case r.NumVideos <= 0 || r.NumVideos > MaxNumVideos:
		return fmt.Errorf("%w: num_videos must be between 1 and %d", ErrInvalidRequest, MaxNumVideos)
	case r.NumComments <= 0 || r.NumComments > MaxNumComments:
		return fmt.Errorf("%w: num_comments must be between 1 and %d", ErrInvalidRequest, MaxNumComments)
	case r.NumTags <= 0:
		return fmt.Errorf("%w: num_tags must be positive", ErrInvalidRequest)
	case r.ClusteringStrength < 0 || math.IsNaN(r.ClusteringStrength) || math.IsInf(r.ClusteringStrength, 0):
		return fmt.Errorf("%w: clustering_strength must be a non-negative number", ErrInvalidRequest)
	}
	return nil
}

// StartSession validates the request, records the session and dispatches
// one collect-channel job per seed video.
func (p *Processor) StartSession(ctx context.Context, req Request) (*storage.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sess := &storage.Session{
		ID:                 uuid.NewString(),
		VideoIDs:           req.VideoIDs,
		NumVideos:          req.NumVideos,
		NumComments:        req.NumComments,
		NumTags:            req.NumTags,
		ClusteringStrength: req.ClusteringStrength,
	}
	if err := p.Store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if p.Metrics != nil {
		p.Metrics.SessionsStartedTotal.Inc()
	}
	p.Reporter.Sendf(ctx, sess.ID, "Starting video processing...")

	// Every job is saved before the first dispatch so the session cannot
	// look finished while seeds are still being queued.
	jobs := newJobs(sess.ID, storage.JobCollectChannel, sess.VideoIDs)
	if err := p.Store.EnsureJobs(ctx, jobs); err != nil {
		p.Log.WithError(err).WithField("session_id", sess.ID).Error("failed to save session jobs")
		p.Reporter.Sendf(ctx, sess.ID, "Failed to queue video processing: %v", err)
		p.finishJob(ctx, sess.ID)
		return nil, err
	}
	p.dispatchAll(ctx, jobs)
	return sess, nil
}

// newJobs builds one job per target with ids derived from the session
func newJobs(sessionID, kind string, targets []string) []*storage.ProcessingJob {
	jobs := make([]*storage.ProcessingJob, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, target := range targets {
		if seen[target] {
			continue
		}
		seen[target] = true
		jobs = append(jobs, &storage.ProcessingJob{
			ID:        storage.JobID(sessionID, kind, target),
			SessionID: sessionID,
			Kind:      kind,
			TargetID:  target,
		})
	}
	return jobs
}

// dispatchAll hands queued jobs to the dispatcher. Jobs that already carry
// a task id or have started were dispatched by an earlier run of the step.
func (p *Processor) dispatchAll(ctx context.Context, jobs []*storage.ProcessingJob) {
	for _, job := range jobs {
		if job.Status != storage.JobQueued || job.AsynqTaskID != "" {
			continue
		}
		taskID, err := p.Dispatcher.Dispatch(ctx, job)
		if err != nil {
			p.Log.WithError(err).WithField("job_id", job.ID).Error("failed to dispatch job")
			p.failJob(ctx, job, fmt.Errorf("failed to enqueue: %w", err))
			continue
		}
		if taskID != "" {
			if err := p.Store.SetJobTaskID(ctx, job.ID, taskID); err != nil {
				p.Log.WithError(err).WithField("job_id", job.ID).Warn("failed to record task id")
			}
		}
	}
}
