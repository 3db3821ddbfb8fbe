// Package httpapi implements the REST surface spec.md §6 describes:
// /healthz, /scan, /plan, /disambiguate, /apply, and the job-status/event
// endpoints C8 backs. Grounded on the teacher's internal/daemon/api_server.go
// (stdlib net/http.ServeMux, writeJSON/writeError helpers, one apiServer
// struct holding every dependency) generalized from spindle's queue/status
// API to the scan/plan/disambiguate/apply pipeline, with /jobs/{id}/events
// reworked into true SSE using the pack's denpa-radio stream.go pattern
// (http.Flusher, flush-per-write loop) in place of spindle's poll-once
// JSON response.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/namegnome/serve/internal/apply"
	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/jobs"
	"github.com/namegnome/serve/internal/logging"
	"github.com/namegnome/serve/internal/mapper"
	"github.com/namegnome/serve/internal/planner"
	"github.com/namegnome/serve/internal/provider"
	"github.com/namegnome/serve/internal/scanner"
	"github.com/namegnome/serve/internal/svcerr"
)

// scanBlobTTL bounds how long a scan snapshot stays available for the
// staleness re-check /apply performs against the PlanReview.ScanID it was
// built from.
const scanBlobTTL = 24 * time.Hour

// Server is the REST surface: one struct, like the teacher's apiServer,
// holding every already-constructed component it dispatches requests to.
type Server struct {
	store   *cache.Store
	mapper  *mapper.Mapper
	applier *apply.Executor
	jobs    *jobs.Controller
	logger  *slog.Logger

	listener net.Listener
	server   *http.Server
}

// New constructs a Server. All dependencies are pre-wired by the caller
// (cmd/namegnomed); Server itself only routes and translates.
func New(bind string, store *cache.Store, mp *mapper.Mapper, applier *apply.Executor, jobsCtrl *jobs.Controller, logger *slog.Logger) *Server {
	s := &Server{
		store:   store,
		mapper:  mp,
		applier: applier,
		jobs:    jobsCtrl,
		logger:  logging.NewComponentLogger(logger, "httpapi"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/scan", s.handleScan)
	mux.HandleFunc("/plan", s.handlePlan)
	mux.HandleFunc("/disambiguate", s.handleDisambiguate)
	mux.HandleFunc("/apply", s.handleApply)
	mux.HandleFunc("/apply/rollback", s.handleApplyRollback)
	mux.HandleFunc("/jobs/", s.handleJobs)

	s.server = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /jobs/{id}/events is a long-lived SSE stream.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Start begins serving and returns once the listener is bound; Serve runs
// in a background goroutine until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.server.Addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("httpapi listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr reports the listener's bound address; only meaningful after Start
// returns, and chiefly useful when Start was given a ":0" bind so the
// caller (cmd/namegnomed logging, or a test dialing a real client against
// it) can learn the port the OS actually picked.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// scanRequest is the shared request body for /scan and /plan: both begin
// with a filesystem walk.
type scanRequest struct {
	Root      string          `json:"root"`
	MediaType domain.MediaType `json:"media_type"`
	Anthology bool            `json:"anthology"`
}

func (req scanRequest) validate() error {
	if strings.TrimSpace(req.Root) == "" {
		return svcerr.Wrap(svcerr.ErrValidation, "httpapi", "validate request", "root is required", nil)
	}
	switch req.MediaType {
	case domain.MediaTV, domain.MediaMovie, domain.MediaMusic:
	default:
		return svcerr.Wrap(svcerr.ErrValidation, "httpapi", "validate request",
			fmt.Sprintf("media_type must be one of tv, movie, music, got %q", req.MediaType), nil)
	}
	return nil
}

func (s *Server) runScan(ctx context.Context, req scanRequest) (domain.ScanSnapshot, error) {
	snap, err := scanner.Scan(ctx, scanner.Options{Root: req.Root, MediaType: req.MediaType, Anthology: req.Anthology})
	if err != nil {
		return domain.ScanSnapshot{}, svcerr.Wrap(svcerr.ErrFilesystem, "httpapi", "scan", err.Error(), err)
	}
	payload, err := json.Marshal(snap.Files)
	if err != nil {
		return domain.ScanSnapshot{}, fmt.Errorf("httpapi: marshal scan snapshot: %w", err)
	}
	if err := s.store.PutCacheBlob(ctx, scanBlobKey(snap.ScanID), payload, scanBlobTTL); err != nil {
		return domain.ScanSnapshot{}, fmt.Errorf("httpapi: persist scan snapshot: %w", err)
	}
	return snap, nil
}

func scanBlobKey(scanID string) string { return "httpapi:scan:" + scanID }

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		s.writeServiceError(w, err)
		return
	}

	snap, err := s.runScan(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// planRequest extends scanRequest with plan-generation options.
type planRequest struct {
	scanRequest
	Async bool `json:"async"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		s.writeServiceError(w, err)
		return
	}

	if req.Async {
		job, err := s.jobs.Start(r.Context(), "plan")
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		go s.runPlanJob(job, req)
		s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
		return
	}

	review, disambiguation, err := s.generatePlan(r.Context(), nil, req.scanRequest)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if disambiguation != nil {
		s.writeDisambiguation(w, disambiguation)
		return
	}
	s.writePlanReview(w, http.StatusOK, *review)
}

// writePlanReview serializes via planner.MarshalPlanReview rather than the
// generic json.Marshal writeJSON uses, so the wire body honors the P1
// byte-reproducibility contract (alphabetically sorted top-level keys).
func (s *Server) writePlanReview(w http.ResponseWriter, status int, review domain.PlanReview) {
	payload, err := planner.MarshalPlanReview(review)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode plan review: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		s.logger.Error("failed to write plan review response", logging.Error(err))
	}
}

// runPlanJob generates a plan in the background for an async /plan request,
// reporting progress over job's event stream and persisting the buffered
// PlanReview (or the blocking disambiguation) as the terminal result.
func (s *Server) runPlanJob(job *jobs.Job, req planRequest) {
	ctx := context.Background()
	review, disambiguation, err := s.generatePlan(ctx, job, req.scanRequest)
	if err != nil {
		details := svcerr.Describe(err)
		_ = job.Finish(ctx, jobs.StatusFailed, map[string]any{"error": details.Message, "code": details.Code})
		return
	}
	if disambiguation != nil {
		_ = job.Finish(ctx, jobs.StatusSucceeded, map[string]any{
			"status":               "disambiguation_required",
			"disambiguation_token": disambiguation.Token,
			"field":                disambiguation.Field,
			"candidates":           disambiguation.Candidates,
			"suggested":            disambiguation.Suggested,
		})
		return
	}
	reviewJSON, err := planner.MarshalPlanReview(*review)
	if err != nil {
		_ = job.Finish(ctx, jobs.StatusFailed, map[string]any{"error": "failed to encode plan review: " + err.Error()})
		return
	}
	_ = job.Finish(ctx, jobs.StatusSucceeded, json.RawMessage(reviewJSON))
}

// generatePlan runs a scan followed by a Map pass over every resulting file
// and assembles the review. job may be nil (synchronous request); when set,
// progress is reported on its event stream. A non-nil Disambiguation return
// means planning stopped at the first ambiguous file: the caller (REST
// handler or background job) surfaces it instead of a PlanReview, per
// spec.md §4.6.
func (s *Server) generatePlan(ctx context.Context, job *jobs.Job, req scanRequest) (*domain.PlanReview, *domain.Disambiguation, error) {
	snap, err := s.runScan(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if job != nil {
		job.Progress(ctx, "scan complete", logging.Int("files", len(snap.Files)))
	}

	items := make([]domain.PlanItem, 0, len(snap.Files))
	for i, file := range snap.Files {
		mapped, err := s.mapper.Map(ctx, req.Root, file)
		if err != nil {
			return nil, nil, svcerr.Wrap(providerMarker(err), "httpapi", "map file", err.Error(), err)
		}
		for _, item := range mapped {
			if item.Disambiguation != nil {
				return nil, item.Disambiguation, nil
			}
		}
		items = append(items, mapped...)
		if job != nil && (i+1)%10 == 0 {
			job.Progress(ctx, "mapping in progress", logging.Int("mapped", i+1), logging.Int("total", len(snap.Files)))
		}
	}

	review := planner.Assemble(snap.ScanID, snap.Fingerprint, req.MediaType, items)
	return &review, nil, nil
}

// providerMarker distinguishes a provider-side outage (CLI exit code 5, per
// spec.md §6) from an ordinary transient mapping failure. mapper.Map
// surfaces internal/provider's failures two ways depending on where they
// happen: a direct UnavailableError (offline cache miss, poor-data guard) or
// the gateway's retry loop's own wrap of ErrProviderUnavailable (on a
// permanent 4xx, or once every attempt is exhausted) - errors.Is catches both since UnavailableError
// unwraps to the same sentinel.
func providerMarker(err error) error {
	if errors.Is(err, provider.ErrProviderUnavailable) {
		return svcerr.ErrProviderUnavailable
	}
	return svcerr.ErrTransient
}

func (s *Server) writeDisambiguation(w http.ResponseWriter, d *domain.Disambiguation) {
	s.writeJSON(w, http.StatusConflict, map[string]any{
		"status":               "disambiguation_required",
		"disambiguation_token": d.Token,
		"field":                d.Field,
		"candidates":           d.Candidates,
		"suggested":            d.Suggested,
	})
}

type disambiguateRequest struct {
	Token    string `json:"token"`
	ChoiceID string `json:"choice_id"`
	Provider string `json:"provider"`
	ExtID    string `json:"ext_id"`
}

func (s *Server) handleDisambiguate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req disambiguateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		s.writeServiceError(w, svcerr.Wrap(svcerr.ErrValidation, "httpapi", "disambiguate", "token is required", nil))
		return
	}

	pending, ok, err := s.store.GetDisambiguation(r.Context(), req.Token)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !ok {
		s.writeServiceError(w, svcerr.Wrap(svcerr.ErrNotFound, "httpapi", "disambiguate", "unknown disambiguation token", nil))
		return
	}

	providerName, extID := req.Provider, req.ExtID
	if providerName == "" || extID == "" {
		candidate, found := findCandidate(pending.Candidates, req.ChoiceID)
		if !found {
			s.writeServiceError(w, svcerr.Wrap(svcerr.ErrValidation, "httpapi", "disambiguate",
				fmt.Sprintf("choice_id %q does not match a candidate for token %s", req.ChoiceID, req.Token), nil))
			return
		}
		providerName, extID = candidate.Provider, candidate.ID
	}

	if err := s.store.ResolveDisambiguation(r.Context(), req.Token, pending.ScanID, pending.TitleNorm, pending.Year, providerName, extID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resolved", "token": req.Token})
}

func findCandidate(candidates []domain.Candidate, choiceID string) (domain.Candidate, bool) {
	for _, c := range candidates {
		if c.ID == choiceID {
			return c, true
		}
	}
	return domain.Candidate{}, false
}

type applyRequest struct {
	Root      string               `json:"root"`
	Plan      domain.PlanReview    `json:"plan"`
	Mode      domain.ApplyMode     `json:"mode"`
	Collision domain.CollisionStrategy `json:"collision"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Root) == "" {
		s.writeServiceError(w, svcerr.Wrap(svcerr.ErrValidation, "httpapi", "apply", "root is required", nil))
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ApplyTransactional
	}
	if req.Collision == "" {
		req.Collision = domain.CollisionSkip
	}

	originalFiles, err := s.loadScanSnapshot(r.Context(), req.Plan.ScanID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	currentSnap, err := scanner.Scan(r.Context(), scanner.Options{Root: req.Root, MediaType: req.Plan.MediaType})
	if err != nil {
		s.writeServiceError(w, svcerr.Wrap(svcerr.ErrFilesystem, "httpapi", "apply", err.Error(), err))
		return
	}

	result, err := s.applier.Run(r.Context(), req.Root, req.Plan, originalFiles, currentSnap.Files, apply.Options{
		Mode:      req.Mode,
		Collision: req.Collision,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if !result.DryRun {
		for _, item := range result.Items {
			if item.Status != domain.ItemCommitted {
				status = http.StatusMultiStatus
				break
			}
		}
	}
	s.writeJSON(w, status, result)
}

type rollbackRequest struct {
	Token string `json:"token"`
}

// handleApplyRollback implements `apply rollback <token>`: it undoes a
// continue-on-error run's committed renames in reverse order, verifying
// each entry's recorded inode before restoring it (internal/apply.Rollback).
func (s *Server) handleApplyRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		s.writeServiceError(w, svcerr.Wrap(svcerr.ErrValidation, "httpapi", "rollback", "token is required", nil))
		return
	}

	result, err := s.applier.Rollback(r.Context(), req.Token)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	for _, item := range result.Items {
		if item.Status == domain.ItemRollbackSkipped || item.Status == domain.ItemFailed {
			status = http.StatusMultiStatus
			break
		}
	}
	s.writeJSON(w, status, result)
}

func (s *Server) loadScanSnapshot(ctx context.Context, scanID string) ([]domain.MediaFile, error) {
	if strings.TrimSpace(scanID) == "" {
		return nil, svcerr.Wrap(svcerr.ErrValidation, "httpapi", "apply", "plan.scan_id is required", nil)
	}
	blob, ok, err := s.store.GetCacheBlob(ctx, scanBlobKey(scanID))
	if err != nil {
		return nil, fmt.Errorf("httpapi: load scan snapshot %s: %w", scanID, err)
	}
	if !ok {
		return nil, svcerr.Wrap(svcerr.ErrStalePlan, "httpapi", "apply",
			fmt.Sprintf("scan snapshot %s has expired or was never recorded; re-run /plan", scanID), nil)
	}
	var files []domain.MediaFile
	if err := json.Unmarshal(blob.Payload, &files); err != nil {
		return nil, fmt.Errorf("httpapi: unmarshal scan snapshot %s: %w", scanID, err)
	}
	return files, nil
}

// handleJobs dispatches GET /jobs/{id}/status and GET /jobs/{id}/events.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		s.writeError(w, http.StatusNotFound, "unknown route")
		return
	}

	switch action {
	case "status":
		s.handleJobStatus(w, r, id)
	case "events":
		s.handleJobEvents(w, r, id)
	default:
		s.writeError(w, http.StatusNotFound, "unknown route")
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	rec, ok, err := s.jobs.Status(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown job "+jobID)
		return
	}
	payload := map[string]any{
		"job_id":     rec.JobID,
		"kind":       rec.Kind,
		"status":     rec.Status,
		"created_at": rec.CreatedAt,
		"updated_at": rec.UpdatedAt,
	}
	if rec.ResultJSON != "" {
		var result any
		if err := json.Unmarshal([]byte(rec.ResultJSON), &result); err == nil {
			payload["result"] = result
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// handleJobEvents streams SSE for jobID: one "data: <json>\n\n" frame per
// LogEvent, flushed immediately. Grounded on the pack's denpa-radio
// StreamHandler.ServeHTTP loop (http.Flusher, per-write flush) rather than
// the teacher's poll-once handleLogs, since a REST client awaiting progress
// events needs a live push, not a single snapshot.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, ok, err := s.jobs.Status(r.Context(), jobID); err != nil {
		s.writeServiceError(w, err)
		return
	} else if !ok {
		s.writeError(w, http.StatusNotFound, "unknown job "+jobID)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if canFlush {
		flusher.Flush()
	}

	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	ctx := r.Context()
	for {
		events, next, err := s.jobs.Events(ctx, jobID, since)
		if err != nil {
			return
		}
		since = next
		for _, evt := range events {
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
			if evt.Fields[logging.FieldEventType] == "done" {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError classifies err via svcerr and writes the matching HTTP
// status plus a structured body, so callers get the same machine code and
// hint spec.md §7 requires regardless of which component raised it.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	details := svcerr.Describe(err)
	status := svcerr.HTTPStatus(err)
	s.writeJSON(w, status, map[string]any{
		"error": details.Message,
		"code":  details.Code,
		"kind":  details.Kind,
		"hint":  details.Hint,
	})
}
