package store

import (
	"time"

	"newslens/internal/core"
)

// CreateJob opens a processing job in state pending and returns its id.
func (s *Store) CreateJob(jobType string, entityID int64, model string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO processing_jobs (job_type, entity_id, status, llm_model)
		 VALUES (?, ?, 'pending', ?)`,
		jobType, entityID, nullStr(model),
	)
	if err != nil {
		return 0, core.NewError(core.KindStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, core.NewError(core.KindStorage, err)
	}
	return id, nil
}

// StartJob transitions a job to running and stamps started_at.
func (s *Store) StartJob(jobID int64) error {
	_, err := s.db.Exec(
		`UPDATE processing_jobs SET status = 'running', started_at = ? WHERE id = ?`,
		formatTime(time.Now()), jobID,
	)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// CompleteJob closes a job successfully with token counts and wall time.
func (s *Store) CompleteJob(jobID int64, usage core.Usage, elapsed time.Duration) error {
	_, err := s.db.Exec(
		`UPDATE processing_jobs SET
			status = 'completed',
			completed_at = ?,
			prompt_tokens = ?,
			completion_tokens = ?,
			processing_time_ms = ?
		 WHERE id = ?`,
		formatTime(time.Now()), usage.PromptTokens, usage.CompletionTokens,
		elapsed.Milliseconds(), jobID,
	)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// FailJob closes a job with an error message.
func (s *Store) FailJob(jobID int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.Exec(
		`UPDATE processing_jobs SET status = 'failed', error_message = ?, completed_at = ?
		 WHERE id = ?`,
		msg, formatTime(time.Now()), jobID,
	)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// JobStatus returns the status string of a job.
func (s *Store) JobStatus(jobID int64) (string, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM processing_jobs WHERE id = ?`, jobID).Scan(&status)
	if err != nil {
		return "", core.NewError(core.KindStorage, err)
	}
	return status, nil
}
