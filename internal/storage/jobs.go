package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Job kinds
const (
	JobCollectChannel = "collect_channel"
	JobTagVideo       = "tag_video"
)

// Job statuses
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// ProcessingJob tracks one queued unit of work belonging to a session
type ProcessingJob struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	Kind         string     `json:"kind"`      // collect_channel, tag_video
	TargetID     string     `json:"target_id"` // seed video or video being tagged
	Status       string     `json:"status"`    // queued, processing, completed, failed
	Retries      int        `json:"retries"`
	ErrorMessage string     `json:"error_message,omitempty"`
	AsynqTaskID  string     `json:"asynq_task_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

const jobColumns = `id, session_id, kind, target_id, status, retries,
	error_message, asynq_task_id, created_at, updated_at, completed_at`

// SaveJob inserts a new processing job
func (s *Storage) SaveJob(ctx context.Context, job *ProcessingJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	if job.Status == "" {
		job.Status = JobQueued
	}

	_, err := s.exec(ctx, `
		INSERT INTO processing_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.SessionID, job.Kind, job.TargetID, job.Status, job.Retries,
		nullString(job.ErrorMessage), nullString(job.AsynqTaskID),
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(), job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save processing job: %w", err)
	}
	return nil
}

// JobID derives the id of a session's job for one kind and target. A step
// that runs again finds the jobs it saved the first time.
func JobID(sessionID, kind, targetID string) string {
	return sessionID + ":" + kind + ":" + targetID
}

// EnsureJobs saves a batch of jobs in one transaction, so either every job
// is stored or none is. A job whose id already exists is not overwritten;
// its slice entry is filled from the stored row instead.
func (s *Storage) EnsureJobs(ctx context.Context, jobs []*ProcessingJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	insert := s.rebind(`
		INSERT INTO processing_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)
	selectByID := s.rebind(`SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = ?`)

	for _, job := range jobs {
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		if job.UpdatedAt.IsZero() {
			job.UpdatedAt = now
		}
		if job.Status == "" {
			job.Status = JobQueued
		}

		result, err := tx.ExecContext(ctx, insert, job.ID, job.SessionID, job.Kind, job.TargetID, job.Status,
			job.Retries, nullString(job.ErrorMessage), nullString(job.AsynqTaskID),
			job.CreatedAt.UTC(), job.UpdatedAt.UTC(), job.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to save processing job %s: %w", job.ID, err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if inserted > 0 {
			continue
		}

		stored, err := scanJob(tx.QueryRowContext(ctx, selectByID, job.ID))
		if err != nil {
			return fmt.Errorf("failed to load existing processing job %s: %w", job.ID, err)
		}
		*job = *stored
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetJob retrieves a processing job by ID
func (s *Storage) GetJob(ctx context.Context, id string) (*ProcessingJob, error) {
	job, err := scanJob(s.queryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processing job: %w", err)
	}
	return job, nil
}

// ListSessionJobs returns every job of a session in creation order
func (s *Storage) ListSessionJobs(ctx context.Context, sessionID string) ([]*ProcessingJob, error) {
	rows, err := s.query(ctx, `
		SELECT `+jobColumns+`
		FROM processing_jobs
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan processing job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processing jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*ProcessingJob, error) {
	job := &ProcessingJob{}
	var errorMessage, asynqTaskID sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(
		&job.ID,
		&job.SessionID,
		&job.Kind,
		&job.TargetID,
		&job.Status,
		&job.Retries,
		&errorMessage,
		&asynqTaskID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	job.ErrorMessage = errorMessage.String
	job.AsynqTaskID = asynqTaskID.String
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

// UpdateJobStatus sets a job's status. Completed and failed jobs get a completion time.
func (s *Storage) UpdateJobStatus(ctx context.Context, id, status, errorMessage string) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status == JobCompleted || status == JobFailed {
		completedAt = &now
	}

	result, err := s.exec(ctx, `
		UPDATE processing_jobs
		SET status = ?, updated_at = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`, status, now, completedAt, nullString(errorMessage), id)
	if err != nil {
		return fmt.Errorf("failed to update processing job status: %w", err)
	}
	return requireRow(result)
}

// SetJobTaskID records the asynq task ID for a job
func (s *Storage) SetJobTaskID(ctx context.Context, id, taskID string) error {
	result, err := s.exec(ctx, `
		UPDATE processing_jobs
		SET asynq_task_id = ?, updated_at = ?
		WHERE id = ?
	`, taskID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update processing job task ID: %w", err)
	}
	return requireRow(result)
}

// IncrementJobRetries increments the retry count for a job
func (s *Storage) IncrementJobRetries(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `
		UPDATE processing_jobs
		SET retries = retries + 1, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to increment processing job retries: %w", err)
	}
	return requireRow(result)
}

// CountOpenJobs counts a session's jobs that are neither completed nor failed
func (s *Storage) CountOpenJobs(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.queryRow(ctx, `
		SELECT COUNT(*) FROM processing_jobs
		WHERE session_id = ? AND status NOT IN (?, ?)
	`, sessionID, JobCompleted, JobFailed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open jobs: %w", err)
	}
	return count, nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
