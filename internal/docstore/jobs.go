package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Podcast job states.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job tracks one asynchronous podcast generation.
type Job struct {
	ID         string    `json:"id"`
	DocumentID int64     `json:"document_id"`
	Status     string    `json:"status"`
	AudioPath  string    `json:"audio_path,omitempty"`
	Turns      int       `json:"turns"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Terminal reports whether the job reached a final state.
func (j Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// CreateJob inserts a queued job for a stored document.
func (s *Store) CreateJob(ctx context.Context, id string, documentID int64) (Job, error) {
	now := s.now()
	job := Job{ID: id, DocumentID: documentID, Status: JobQueued, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO podcast_jobs(id, document_id, status, created_at, updated_at) VALUES(?, ?, ?, ?, ?)`,
		job.ID, job.DocumentID, job.Status, formatTime(now), formatTime(now))
	if err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// JobUpdate carries the mutable job fields.
type JobUpdate struct {
	Status    string
	AudioPath string
	Turns     int
	Error     string
}

// UpdateJob moves a job to a new state.
func (s *Store) UpdateJob(ctx context.Context, id string, upd JobUpdate) error {
	switch upd.Status {
	case JobQueued, JobRunning, JobCompleted, JobFailed:
	default:
		return fmt.Errorf("invalid job status %q", upd.Status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE podcast_jobs SET status = ?, audio_path = ?, turns = ?, error = ?, updated_at = ? WHERE id = ?`,
		upd.Status, upd.AudioPath, upd.Turns, upd.Error, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob returns the job with the given id.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, status, audio_path, turns, error, created_at, updated_at
		 FROM podcast_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobsForDocument returns a document's jobs newest first.
func (s *Store) ListJobsForDocument(ctx context.Context, documentID int64) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, status, audio_path, turns, error, created_at, updated_at
		 FROM podcast_jobs WHERE document_id = ? ORDER BY created_at DESC, rowid DESC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row scanner) (Job, error) {
	var j Job
	var created, updated string
	if err := row.Scan(&j.ID, &j.DocumentID, &j.Status, &j.AudioPath, &j.Turns, &j.Error, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	return j, nil
}
