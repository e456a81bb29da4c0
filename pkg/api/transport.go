package api

import (
	"context"
	"time"
)

// FlowPayload is the wire shape of a flow registration. Field names are
// fixed by the backend API.
type FlowPayload struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tags        map[string]string `json:"tags"`
	Tasks       []TaskPayload     `json:"tasks"`
}

// TaskPayload is the wire shape of one task inside a flow registration.
// EstimatedTime is in integer milliseconds.
type TaskPayload struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	EstimatedTime int64  `json:"estimatedTime"`
	CrucialPass   bool   `json:"crucialPass"`
}

// TaskStateUpdate is the wire shape of a task state transition. Progress and
// DurationMs are pointers so that an explicit zero (FAILED reports progress
// 0) is distinguishable from "not provided".
type TaskStateUpdate struct {
	State      TaskState   `json:"state"`
	Progress   *int        `json:"progress,omitempty"`
	DurationMs *int64      `json:"durationMs,omitempty"`
	Result     *TaskResult `json:"result,omitempty"`
}

// Report is backend-side report metadata for a finished run.
type Report struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	FlowName  string `json:"flow_name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Transport performs the HTTP calls the SDK depends on. It carries no retry
// logic: operations fail once and report the error, and callers on the run
// path swallow those errors so a flaky backend never fails a healthy flow.
type Transport interface {
	// RegisterFlow registers a flow definition and returns the
	// backend-assigned flow identifier.
	RegisterFlow(ctx context.Context, payload FlowPayload, autoTrigger bool, configuration string) (string, error)

	// SendLog sends one log line for a run. Best-effort.
	SendLog(ctx context.Context, runID, message string) error

	// UpdateTaskState reports a task state transition for a run. taskIndex
	// is the zero-based position assigned when the task began.
	UpdateTaskState(ctx context.Context, runID string, taskIndex int, update TaskStateUpdate) error

	// PollExecutionRequest polls for a pending execution request. It
	// returns (nil, nil) when no request arrived within the timeout, and
	// must return promptly on timeout or context cancellation so shutdown
	// stays responsive.
	PollExecutionRequest(ctx context.Context, timeout time.Duration) (*ExecutionRequest, error)

	// Heartbeat signals liveness. Best-effort.
	Heartbeat(ctx context.Context) error

	// Close releases transport resources. Idempotent; operations after
	// Close fail with ErrTransportClosed.
	Close() error
}

// RunStarter is implemented by transports that can create and complete runs
// on the backend, enabling client-initiated tracked execution.
type RunStarter interface {
	// StartRun creates a run for a registered flow and returns the run
	// identifier.
	StartRun(ctx context.Context, flowID, configuration string) (string, error)

	// CompleteRun marks a run finished, reporting how many tasks actually
	// executed.
	CompleteRun(ctx context.Context, runID string, taskCount int) error
}

// ReportFetcher is implemented by transports that expose run reports.
type ReportFetcher interface {
	FetchReport(ctx context.Context, runID string) (*Report, error)
	DownloadReport(ctx context.Context, reportID string) ([]byte, error)
}
