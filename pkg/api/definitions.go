package api

import (
	"context"
	"time"
)

// TaskState represents the lifecycle state of a task within a flow run,
// as reported to the backend.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskRetrying  TaskState = "RETRYING"
)

// DefaultEstimatedTime is the task time budget used when a declaration does
// not provide one. The budget only drives progress estimation; tasks are
// never cancelled for exceeding it.
const DefaultEstimatedTime = time.Second

// TaskFunc is a single task of a flow. Tasks are independent in tracked
// execution: they receive no inputs from prior tasks and may return nothing,
// a bare value, or a structured TaskResult.
type TaskFunc func(ctx context.Context) (any, error)

// FlowFunc is the body of a flow. In tracked execution driven by the
// backend, the body is not invoked directly; the tracker runs the flow's
// analyzed task sequence instead. In client-initiated runs the body executes
// with a run context bound, and the wrapped tasks it calls report their own
// state.
type FlowFunc func(ctx context.Context) error

// TaskDefinition describes a declared task. Definitions are created exactly
// once at declaration time and are immutable afterwards.
type TaskDefinition struct {
	// Name is the display label, defaulting to the function identifier.
	Name string

	// FuncName is the function identifier, used by source-scan analysis to
	// find call sites of the form "<FuncName>(".
	FuncName string

	Description string

	// EstimatedTime is the budget against which progress percentage is
	// computed. Always positive; DefaultEstimatedTime when not provided.
	EstimatedTime time.Duration

	// CrucialPass controls failure propagation: when true (the default), a
	// failing task aborts the owning flow run; when false the run continues
	// with the next task.
	CrucialPass bool

	Fn TaskFunc
}

// FlowDefinition describes a declared flow. Tasks is populated lazily by
// analysis, not at declaration time; each analysis recomputes it from
// scratch, so repeated analysis never accumulates duplicates.
type FlowDefinition struct {
	// Name is the human label used to resolve execution requests. It is not
	// necessarily the function identifier and is required at declaration.
	Name string

	FuncName    string
	Description string
	Tags        map[string]string

	// AutoTrigger asks the backend to trigger the flow immediately after
	// registration, using AutoTriggerConfig as the configuration name.
	AutoTrigger       bool
	AutoTriggerConfig string

	Fn FlowFunc

	// Tasks is the analyzed task sequence in task declaration order,
	// filtered to the tasks the flow references.
	Tasks []*TaskDefinition

	// ExplicitTasks, when non-nil, bypasses source scanning: the flow is
	// associated with exactly these declared task functions, in order.
	ExplicitTasks []TaskFunc
}

// ExecutionRequest is a backend-issued request to run a registered flow.
// It is transient: created per poll response and consumed once.
type ExecutionRequest struct {
	RunID         string `json:"run_id"`
	FlowName      string `json:"flow_name"`
	Configuration string `json:"configuration"`
}

// TaskResult is the structured outcome a task may return. Passed is an
// explicit pass/fail signal distinct from returning an error; Table carries
// tabular evidence with uniform keys across rows.
type TaskResult struct {
	Passed bool             `json:"passed"`
	Note   string           `json:"note"`
	Table  []map[string]any `json:"table"`
}

// TaskResult implements ResultProvider, so values and pointers both
// normalize uniformly.
func (r TaskResult) TaskResult() TaskResult { return r }

// ResultProvider is implemented by task return values that carry a
// structured TaskResult. Returning a plain value (or nothing) is valid and
// means "no structured result", not failure.
type ResultProvider interface {
	TaskResult() TaskResult
}

// NormalizeResult extracts the structured TaskResult from a task return
// value, reporting whether one was present.
func NormalizeResult(v any) (TaskResult, bool) {
	switch r := v.(type) {
	case nil:
		return TaskResult{}, false
	case *TaskResult:
		if r == nil {
			return TaskResult{}, false
		}
		return *r, true
	case ResultProvider:
		return r.TaskResult(), true
	default:
		return TaskResult{}, false
	}
}

// RunInfo identifies one flow run for observer callbacks.
type RunInfo struct {
	RunID         string
	FlowName      string
	Configuration string

	// TotalTasks is the analyzed task count, or 0 when the run failed
	// before analysis.
	TotalTasks int
}

// TaskOptions configures a task declaration. Zero values take the
// documented defaults: Name falls back to the function identifier,
// EstimatedTime to DefaultEstimatedTime, and tasks are crucial unless
// Optional is set.
type TaskOptions struct {
	Name          string
	Description   string
	EstimatedTime time.Duration

	// Optional marks the task non-crucial: its failure is reported but does
	// not abort the owning flow run.
	Optional bool
}

// FlowOptions configures a flow declaration. Name is required.
type FlowOptions struct {
	Name              string
	Description       string
	Tags              map[string]string
	AutoTrigger       bool
	AutoTriggerConfig string

	// Tasks, when set, lists the declared task functions this flow uses, in
	// order, instead of relying on source scanning. Either the original or
	// the wrapped function may be listed.
	Tasks []TaskFunc
}
