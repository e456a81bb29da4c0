// Package transport carries the SDK's conversations with a backend engine.
// The HTTP implementation speaks the engine's REST surface; the in-memory
// implementation backs tests and offline development with an in-process
// request queue.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/flowlinehq/flowline/pkg/api"
)

const (
	// DefaultBaseURL is where a locally run engine listens.
	DefaultBaseURL = "http://localhost:3001"

	// DefaultTimeout bounds every request except the execution-request
	// poll, which carries its own deadline.
	DefaultTimeout = 5 * time.Second
)

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// BaseURL of the backend engine. Defaults to DefaultBaseURL.
	BaseURL string
	// APIKey, when set, is sent as a bearer token on every request.
	APIKey string
	// Timeout per request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Debug enables request/response logging on the underlying client.
	Debug bool
}

// HTTP talks to a backend engine over its REST API.
type HTTP struct {
	client *resty.Client
	closed atomic.Bool
}

// Ensure HTTP implements the full transport surface.
var (
	_ api.Transport     = (*HTTP)(nil)
	_ api.RunStarter    = (*HTTP)(nil)
	_ api.ReportFetcher = (*HTTP)(nil)
)

// NewHTTP creates a transport for the backend at cfg.BaseURL.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Debug {
		client.SetDebug(true)
	}
	return &HTTP{client: client}
}

// apiError is the backend's error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

func (t *HTTP) request(ctx context.Context) (*resty.Request, error) {
	if t.closed.Load() {
		return nil, api.ErrTransportClosed
	}
	return t.client.R().SetContext(ctx).SetError(&apiError{}), nil
}

func checkStatus(resp *resty.Response) error {
	if resp.StatusCode() < http.StatusBadRequest {
		return nil
	}
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr != nil && apiErr.Message != "" {
		return apiErr
	}
	return fmt.Errorf("backend returned status %d", resp.StatusCode())
}

// registerFlowRequest is the registration body: the payload fields
// flattened together with the trigger flags.
type registerFlowRequest struct {
	api.FlowPayload
	AutoTrigger       bool   `json:"autoTrigger"`
	AutoTriggerConfig string `json:"autoTriggerConfig"`
}

// RegisterFlow uploads a flow definition and returns the backend's id for
// it. When autoTrigger is set the backend starts a run with the given
// configuration immediately after registering.
func (t *HTTP) RegisterFlow(ctx context.Context, payload api.FlowPayload, autoTrigger bool, configuration string) (string, error) {
	req, err := t.request(ctx)
	if err != nil {
		return "", err
	}
	var result struct {
		ID string `json:"id"`
	}
	resp, err := req.
		SetBody(registerFlowRequest{
			FlowPayload:       payload,
			AutoTrigger:       autoTrigger,
			AutoTriggerConfig: configuration,
		}).
		SetResult(&result).
		Post("/api/flows")
	if err != nil {
		return "", fmt.Errorf("register flow %q: %w", payload.Name, err)
	}
	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("register flow %q: %w", payload.Name, err)
	}
	return result.ID, nil
}

// SendLog forwards one log line for a run.
func (t *HTTP) SendLog(ctx context.Context, runID, message string) error {
	req, err := t.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetBody(map[string]string{"log": message}).
		Post(fmt.Sprintf("/api/flows/%s/logs", runID))
	if err != nil {
		return fmt.Errorf("send log for run %s: %w", runID, err)
	}
	return checkStatus(resp)
}

// UpdateTaskState reports a task transition for a run. Fields left nil in
// the update are omitted from the wire body.
func (t *HTTP) UpdateTaskState(ctx context.Context, runID string, taskIndex int, update api.TaskStateUpdate) error {
	req, err := t.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetBody(update).
		Post(fmt.Sprintf("/api/runs/%s/tasks/%d/state", runID, taskIndex))
	if err != nil {
		return fmt.Errorf("update task %d state for run %s: %w", taskIndex, runID, err)
	}
	return checkStatus(resp)
}

// PollExecutionRequest asks the backend for a pending execution request,
// waiting at most timeout. An idle backend yields (nil, nil); the short
// deadline firing is the idle case, not a failure.
func (t *HTTP) PollExecutionRequest(ctx context.Context, timeout time.Duration) (*api.ExecutionRequest, error) {
	req, err := t.request(ctx)
	if err != nil {
		return nil, err
	}
	pollCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var request api.ExecutionRequest
	resp, err := req.
		SetContext(pollCtx).
		SetResult(&request).
		Get("/api/execution-requests")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || pollCtx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("poll execution requests: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || request.RunID == "" {
		return nil, nil
	}
	return &request, nil
}

// Heartbeat signals the backend that this client is alive.
func (t *HTTP) Heartbeat(ctx context.Context) error {
	req, err := t.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.Post("/api/heartbeat")
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return checkStatus(resp)
}

// StartRun asks the backend engine to start a run of a registered flow
// and returns the run id it assigned.
func (t *HTTP) StartRun(ctx context.Context, flowID, configuration string) (string, error) {
	req, err := t.request(ctx)
	if err != nil {
		return "", err
	}
	var result struct {
		RunID string `json:"runId"`
	}
	resp, err := req.
		SetBody(map[string]string{"configuration": configuration}).
		SetResult(&result).
		Post(fmt.Sprintf("/api/engine/run/%s", flowID))
	if err != nil {
		return "", fmt.Errorf("start run of flow %s: %w", flowID, err)
	}
	if err := checkStatus(resp); err != nil {
		return "", fmt.Errorf("start run of flow %s: %w", flowID, err)
	}
	if result.RunID == "" {
		return "", fmt.Errorf("start run of flow %s: backend returned no run id", flowID)
	}
	return result.RunID, nil
}

// CompleteRun tells the backend that a run finished and how many tasks it
// executed.
func (t *HTTP) CompleteRun(ctx context.Context, runID string, taskCount int) error {
	req, err := t.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetBody(map[string]int{"taskCount": taskCount}).
		Post(fmt.Sprintf("/api/runs/%s/complete", runID))
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	return checkStatus(resp)
}

// FetchReport retrieves the report generated for a run.
func (t *HTTP) FetchReport(ctx context.Context, runID string) (*api.Report, error) {
	req, err := t.request(ctx)
	if err != nil {
		return nil, err
	}
	var report api.Report
	resp, err := req.
		SetResult(&report).
		Get(fmt.Sprintf("/api/runs/%s/report", runID))
	if err != nil {
		return nil, fmt.Errorf("fetch report for run %s: %w", runID, err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch report for run %s: %w", runID, err)
	}
	return &report, nil
}

// DownloadReport retrieves a report's rendered content.
func (t *HTTP) DownloadReport(ctx context.Context, reportID string) ([]byte, error) {
	req, err := t.request(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := req.Get(fmt.Sprintf("/api/reports/%s/download", reportID))
	if err != nil {
		return nil, fmt.Errorf("download report %s: %w", reportID, err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("download report %s: %w", reportID, err)
	}
	return resp.Body(), nil
}

// Close releases the transport. Further calls fail with
// api.ErrTransportClosed. Close is idempotent.
func (t *HTTP) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.client.GetClient().CloseIdleConnections()
	return nil
}
