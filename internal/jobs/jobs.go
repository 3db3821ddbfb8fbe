// Package jobs implements C8: the job/stream controller that couples each
// scan/plan/apply invocation to a job_id, a buffered final result the
// "jobs" table persists, and a live event stream carrying progress,
// llm_token, warning, and done events (spec.md §4.8).
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/logging"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Controller mints job IDs and exposes the shared event stream filtered per
// job. It deliberately does not run its own fan-out hub: every Job's
// progress/warning/token/done calls are ordinary structured log records
// tagged with job_id, and internal/logging's StreamHub (already built for
// the console/JSON logger) is the single fan-out mechanism for both human
// log-tailing and job-scoped SSE.
type Controller struct {
	store  *cache.Store
	hub    *logging.StreamHub
	logger *slog.Logger
}

// New constructs a Controller. hub may be nil in tests that don't need
// Events(); Start/Finish still work since job state is persisted in store
// regardless of whether anything is listening live.
func New(store *cache.Store, hub *logging.StreamHub, logger *slog.Logger) *Controller {
	return &Controller{store: store, hub: hub, logger: logging.NewComponentLogger(logger, "jobs")}
}

// Job is a single running pipeline invocation.
type Job struct {
	ID     string
	Kind   string
	ctrl   *Controller
	logger *slog.Logger
}

// Start mints a job_id, persists its initial "running" row, and returns a
// Job whose logger is pre-tagged with that job_id.
func (c *Controller) Start(ctx context.Context, kind string) (*Job, error) {
	id := "job_" + uuid.NewString()
	if err := c.store.PutJob(ctx, cache.JobRecord{JobID: id, Kind: kind, Status: StatusRunning}); err != nil {
		return nil, fmt.Errorf("jobs: start %s job: %w", kind, err)
	}
	return &Job{
		ID:     id,
		Kind:   kind,
		ctrl:   c,
		logger: c.logger.With(logging.String(logging.FieldJobID, id)),
	}, nil
}

// Progress emits a "progress" event on the job's stream.
func (j *Job) Progress(ctx context.Context, message string, attrs ...logging.Attr) {
	args := append([]any{logging.String(logging.FieldEventType, "progress")}, logging.Args(attrs...)...)
	j.logger.InfoContext(ctx, message, args...)
}

// Warn emits a "warning" event on the job's stream. Per-item pipeline
// warnings (needs_review, title_low_match, ...) attach to the
// PlanItem itself; this is for job-level warnings a client should surface
// immediately rather than only on reading the final PlanReview.
func (j *Job) Warn(ctx context.Context, message string, attrs ...logging.Attr) {
	args := append([]any{logging.String(logging.FieldEventType, "warning")}, logging.Args(attrs...)...)
	j.logger.WarnContext(ctx, message, args...)
}

// Token emits one "llm_token" event, used while streaming an anthology
// assist completion to give the client incremental feedback.
func (j *Job) Token(ctx context.Context, token string) {
	j.logger.InfoContext(ctx, token, logging.String(logging.FieldEventType, "llm_token"))
}

// Finish persists result as the job's authoritative buffered reply (so a
// client that missed the stream can still GET /jobs/{id}/status) and emits
// the terminal "done" event every SSE subscriber is waiting for.
func (j *Job) Finish(ctx context.Context, status string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("jobs: marshal result for %s: %w", j.ID, err)
	}
	if err := j.ctrl.store.PutJob(ctx, cache.JobRecord{
		JobID: j.ID, Kind: j.Kind, Status: status, ResultJSON: string(payload),
	}); err != nil {
		return fmt.Errorf("jobs: finish %s: %w", j.ID, err)
	}
	j.logger.InfoContext(ctx, "job finished",
		logging.String(logging.FieldEventType, "done"),
		logging.String("status", status),
	)
	return nil
}

// Status returns the persisted job record backing GET /jobs/{id}/status.
func (c *Controller) Status(ctx context.Context, jobID string) (cache.JobRecord, bool, error) {
	return c.store.GetJob(ctx, jobID)
}

// Events returns every stream event tagged with jobID whose sequence is
// greater than since, blocking until at least one such event arrives or ctx
// ends. The returned sequence is always the hub's latest, regardless of
// whether it belongs to a matching event, so callers can keep polling from
// the right cursor even through a run of events for other jobs.
func (c *Controller) Events(ctx context.Context, jobID string, since uint64) ([]logging.LogEvent, uint64, error) {
	if c.hub == nil {
		return nil, since, nil
	}
	for {
		events, next, err := c.hub.Fetch(ctx, since, 0, true)
		if err != nil {
			return nil, next, err
		}
		since = next
		var matched []logging.LogEvent
		for _, evt := range events {
			if evt.JobID == jobID {
				matched = append(matched, evt)
			}
		}
		if len(matched) > 0 {
			return matched, next, nil
		}
		if ctx.Err() != nil {
			return nil, next, ctx.Err()
		}
	}
}
