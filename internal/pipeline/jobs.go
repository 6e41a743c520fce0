package pipeline

import (
	"context"
	"fmt"

	"github.com/zombar/videotagger/internal/storage"
)

// RunJob executes one processing job. Step failures are reported to the
// session and recorded on the job rather than returned, so the caller only
// sees errors that prevented the job from starting at all.
func (p *Processor) RunJob(ctx context.Context, jobID string) error {
	job, err := p.Store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status == storage.JobCompleted || job.Status == storage.JobFailed {
		return nil
	}

	if err := p.Store.UpdateJobStatus(ctx, job.ID, storage.JobProcessing, ""); err != nil {
		return err
	}
	sess, err := p.Store.GetSession(ctx, job.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", job.SessionID, err)
	}

	log := p.Log.WithFields(map[string]interface{}{
		"session_id": job.SessionID,
		"job_id":     job.ID,
		"kind":       job.Kind,
		"target_id":  job.TargetID,
	})
	log.Info("processing job")

	switch job.Kind {
	case storage.JobCollectChannel:
		err = p.collectChannel(ctx, sess, job.TargetID)
	case storage.JobTagVideo:
		err = p.tagVideo(ctx, sess, job.TargetID)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	if err != nil {
		log.WithError(err).Error("job failed")
		if job.Kind == storage.JobTagVideo {
			if clearErr := p.Store.ReplaceVideoTags(ctx, job.TargetID, nil); clearErr != nil {
				log.WithError(clearErr).Warn("failed to clear tags")
			}
		}
		p.failJob(ctx, job, err)
		return nil
	}

	if err := p.Store.UpdateJobStatus(ctx, job.ID, storage.JobCompleted, ""); err != nil {
		log.WithError(err).Error("failed to mark job completed")
	}
	p.countJob(job.Kind, storage.JobCompleted)
	log.Info("job completed")
	p.finishJob(ctx, job.SessionID)
	return nil
}

// failJob reports a failed job to the session and closes it
func (p *Processor) failJob(ctx context.Context, job *storage.ProcessingJob, cause error) {
	p.Reporter.Sendf(ctx, job.SessionID, "Error processing video ID %s: %v", job.TargetID, cause)
	if err := p.Store.UpdateJobStatus(ctx, job.ID, storage.JobFailed, cause.Error()); err != nil {
		p.Log.WithError(err).WithField("job_id", job.ID).Error("failed to mark job failed")
	}
	p.countJob(job.Kind, storage.JobFailed)
	p.finishJob(ctx, job.SessionID)
}

// finishJob completes the session once no job is left open. Only the
// caller whose update flips the session status sends the final message.
func (p *Processor) finishJob(ctx context.Context, sessionID string) {
	open, err := p.Store.CountOpenJobs(ctx, sessionID)
	if err != nil {
		p.Log.WithError(err).WithField("session_id", sessionID).Error("failed to count open jobs")
		return
	}
	if open > 0 {
		return
	}

	won, err := p.Store.CompleteSession(ctx, sessionID)
	if err != nil {
		p.Log.WithError(err).WithField("session_id", sessionID).Error("failed to complete session")
		return
	}
	if !won {
		return
	}
	if p.Metrics != nil {
		p.Metrics.SessionsCompletedTotal.Inc()
	}
	p.Reporter.Sendf(ctx, sessionID, "Video processing completed.")
	p.Log.WithField("session_id", sessionID).Info("session completed")
}

func (p *Processor) countJob(kind, status string) {
	if p.Metrics != nil {
		p.Metrics.JobsTotal.WithLabelValues(kind, status).Inc()
	}
}

// AbandonJob fails a job whose executor gave up on it, so that its session
// can still complete. Finished jobs are left alone.
func (p *Processor) AbandonJob(ctx context.Context, jobID string, cause error) error {
	job, err := p.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == storage.JobCompleted || job.Status == storage.JobFailed {
		return nil
	}
	p.failJob(ctx, job, cause)
	return nil
}
