package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/zombar/videotagger/internal/storage"
)

// LocalDispatcher runs jobs in goroutines of the current process instead of
// a task queue. Jobs dispatched from inside a running job join the same group.
type LocalDispatcher struct {
	proc *Processor
	ctx  context.Context
	g    *errgroup.Group
	sem  *semaphore.Weighted
}

// RunSession starts a session and blocks until all of its jobs have run
func RunSession(ctx context.Context, p *Processor, req Request, concurrency int) (*storage.Session, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	d := &LocalDispatcher{
		ctx: gctx,
		g:   g,
		sem: semaphore.NewWeighted(int64(concurrency)),
	}
	d.proc = p.WithDispatcher(d)

	sess, err := d.proc.StartSession(gctx, req)
	if err != nil {
		return nil, err
	}
	if err := g.Wait(); err != nil {
		return sess, err
	}
	return p.Store.GetSession(ctx, sess.ID)
}

// Dispatch schedules the job on the group. The group is left without a
// limit because running jobs dispatch their children; the semaphore bounds
// how many execute at once. The returned id marks the job as dispatched.
func (d *LocalDispatcher) Dispatch(_ context.Context, job *storage.ProcessingJob) (string, error) {
	jobID := job.ID
	d.g.Go(func() error {
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			return err
		}
		defer d.sem.Release(1)
		return d.proc.RunJob(d.ctx, jobID)
	})
	return "local:" + jobID, nil
}
