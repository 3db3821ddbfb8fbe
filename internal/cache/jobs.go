package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// JobRecord is the persisted row backing C8: enough to answer
// GET /jobs/{id}/status even after the client missed the SSE stream.
type JobRecord struct {
	JobID      string
	Kind       string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResultJSON string
}

// PutJob upserts a job record.
func (s *Store) PutJob(ctx context.Context, job JobRecord) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (job_id, kind, status, created_at, updated_at, result_json)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(job_id) DO UPDATE SET
            status = excluded.status,
            updated_at = excluded.updated_at,
            result_json = excluded.result_json`,
		job.JobID, job.Kind, job.Status,
		job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339), job.ResultJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// GetJob fetches a job record by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (JobRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, kind, status, created_at, updated_at, result_json FROM jobs WHERE job_id = ?`, jobID,
	)
	var (
		rec                        JobRecord
		createdAt, updatedAt       string
		resultJSON                 sql.NullString
	)
	if err := row.Scan(&rec.JobID, &rec.Kind, &rec.Status, &createdAt, &updatedAt, &resultJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return JobRecord{}, false, nil
		}
		return JobRecord{}, false, fmt.Errorf("query job: %w", err)
	}
	var parseErr error
	if rec.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
		return JobRecord{}, false, fmt.Errorf("parse created_at: %w", parseErr)
	}
	if rec.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt); parseErr != nil {
		return JobRecord{}, false, fmt.Errorf("parse updated_at: %w", parseErr)
	}
	rec.ResultJSON = resultJSON.String
	return rec, true, nil
}
