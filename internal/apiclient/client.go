// Package apiclient is the CLI-side counterpart to internal/httpapi: one
// method per REST operation, grounded on the teacher's internal/ipc.Client
// (a thin per-RPC wrapper around a single transport), generalized from a
// unix-socket JSON-RPC dial to an HTTP/JSON request against cmd/namegnomed.
package apiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/namegnome/serve/internal/domain"
)

// Client talks to a running namegnomed over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client bound to baseURL (e.g. "http://127.0.0.1:8787").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the client's transport, e.g. to raise the
// timeout for a long-running synchronous /plan call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// APIError is the structured failure body writeServiceError produces,
// carrying enough of the svcerr taxonomy for the CLI to pick an exit code
// and print a hint without re-parsing the message text.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s [%d]: %s (%s)", e.Code, e.Status, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s [%d]: %s", e.Code, e.Status, e.Message)
}

// Healthz checks that the daemon is up and answering.
func (c *Client) Healthz(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	return nil
}

// ScanRequest mirrors httpapi's scanRequest body.
type ScanRequest struct {
	Root      string          `json:"root"`
	MediaType domain.MediaType `json:"media_type"`
	Anthology bool            `json:"anthology"`
}

// Scan runs a filesystem walk and returns the resulting snapshot.
func (c *Client) Scan(ctx context.Context, req ScanRequest) (*domain.ScanSnapshot, error) {
	resp, err := c.do(ctx, http.MethodPost, "/scan", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}
	var snap domain.ScanSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("apiclient: decode scan snapshot: %w", err)
	}
	return &snap, nil
}

// PlanRequest mirrors httpapi's planRequest body.
type PlanRequest struct {
	ScanRequest
}

// disambiguationBody is the wire shape handleDisambiguate/writeDisambiguation
// use for a 409 "disambiguation required" response.
type disambiguationBody struct {
	Token      string             `json:"disambiguation_token"`
	Field      string             `json:"field"`
	Candidates []domain.Candidate `json:"candidates"`
	Suggested  string             `json:"suggested"`
}

// Plan generates a plan synchronously. A non-nil Disambiguation return means
// the plan stopped at the first ambiguous file; callers should resolve it
// with Disambiguate and retry.
func (c *Client) Plan(ctx context.Context, req PlanRequest) (*domain.PlanReview, *domain.Disambiguation, error) {
	resp, err := c.do(ctx, http.MethodPost, "/plan", req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var review domain.PlanReview
		if err := json.NewDecoder(resp.Body).Decode(&review); err != nil {
			return nil, nil, fmt.Errorf("apiclient: decode plan review: %w", err)
		}
		return &review, nil, nil
	case http.StatusConflict:
		var body disambiguationBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, nil, fmt.Errorf("apiclient: decode disambiguation: %w", err)
		}
		return nil, &domain.Disambiguation{
			Token:      body.Token,
			Field:      body.Field,
			Candidates: body.Candidates,
			Suggested:  body.Suggested,
		}, nil
	default:
		return nil, nil, c.apiError(resp)
	}
}

// PlanAsync starts a background plan job and returns its job ID immediately;
// poll JobStatusByID or stream JobEvents to track completion.
func (c *Client) PlanAsync(ctx context.Context, req PlanRequest) (string, error) {
	wireReq := struct {
		PlanRequest
		Async bool `json:"async"`
	}{PlanRequest: req, Async: true}

	resp, err := c.do(ctx, http.MethodPost, "/plan", wireReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return "", c.apiError(resp)
	}
	var body struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("apiclient: decode job acceptance: %w", err)
	}
	return body.JobID, nil
}

// JobStatus is the decoded /jobs/{id}/status response.
type JobStatus struct {
	JobID     string          `json:"job_id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// JobStatusByID fetches a job's current status.
func (c *Client) JobStatusByID(ctx context.Context, jobID string) (*JobStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/jobs/"+jobID+"/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}
	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("apiclient: decode job status: %w", err)
	}
	return &status, nil
}

// JobEvent mirrors internal/logging.LogEvent without importing the logging
// package, keeping the CLI's transport layer decoupled from log internals.
type JobEvent struct {
	Sequence  uint64            `json:"seq"`
	Timestamp time.Time         `json:"ts"`
	Level     string            `json:"level"`
	Message   string            `json:"msg"`
	Stage     string            `json:"stage,omitempty"`
	JobID     string            `json:"job_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// JobEvents streams /jobs/{id}/events (SSE), invoking onEvent for every
// frame until the "done" event arrives, the context is cancelled, or the
// connection ends. Grounded on the pack's denpa-radio SSE-consumer pattern
// (bufio.Scanner over "data: " lines) rather than the teacher's poll-once
// LogTail RPC, since this stream is long-lived and push-based.
func (c *Client) JobEvents(ctx context.Context, jobID string, onEvent func(JobEvent) error) error {
	resp, err := c.do(ctx, http.MethodGet, "/jobs/"+jobID+"/events", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt JobEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			continue
		}
		if err := onEvent(evt); err != nil {
			return err
		}
		if evt.Fields["event_type"] == "done" {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// DisambiguateRequest mirrors httpapi's disambiguateRequest body.
type DisambiguateRequest struct {
	Token    string `json:"token"`
	ChoiceID string `json:"choice_id"`
	Provider string `json:"provider"`
	ExtID    string `json:"ext_id"`
}

// Disambiguate resolves a pending disambiguation by token and choice.
func (c *Client) Disambiguate(ctx context.Context, req DisambiguateRequest) error {
	resp, err := c.do(ctx, http.MethodPost, "/disambiguate", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	return nil
}

// ApplyRequest mirrors httpapi's applyRequest body.
type ApplyRequest struct {
	Root      string                   `json:"root"`
	Plan      domain.PlanReview        `json:"plan"`
	Mode      domain.ApplyMode         `json:"mode"`
	Collision domain.CollisionStrategy `json:"collision"`
}

// Apply executes a plan. A 207-equivalent (multi-status) response still
// decodes successfully; callers should inspect result.Items for per-file
// outcomes rather than treating any non-200 as a hard failure.
func (c *Client) Apply(ctx context.Context, req ApplyRequest) (*domain.ApplyResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/apply", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, c.apiError(resp)
	}
	var result domain.ApplyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("apiclient: decode apply result: %w", err)
	}
	return &result, nil
}

// Rollback undoes a continue-on-error apply run by its rollback token.
func (c *Client) Rollback(ctx context.Context, token string) (*domain.ApplyResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/apply/rollback", struct {
		Token string `json:"token"`
	}{Token: token})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, c.apiError(resp)
	}
	var result domain.ApplyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("apiclient: decode rollback result: %w", err)
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &DialError{BaseURL: c.baseURL, Err: err}
	}
	return resp, nil
}

func (c *Client) apiError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(resp.Body)
	if len(body) > 0 {
		_ = json.Unmarshal(body, apiErr)
	}
	if apiErr.Message == "" {
		apiErr.Message = strconv.Itoa(resp.StatusCode) + " " + http.StatusText(resp.StatusCode)
	}
	apiErr.Status = resp.StatusCode
	return apiErr
}

// DialError wraps a transport-level failure to reach the daemon at all,
// distinct from an APIError the daemon itself returned. Grounded on the
// teacher's context.go dialClient, which rewrites ENOENT/ECONNREFUSED into
// a human "daemon is not running" message instead of a raw syscall error.
type DialError struct {
	BaseURL string
	Err     error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("namegnomed is not reachable at %s: %v", e.BaseURL, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }
