package api

import (
	"errors"
	"fmt"
)

var (
	// ErrFlowNotFound is returned when a flow name or function has no
	// registered definition.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrTaskNotFound is returned when a task function referenced by an
	// explicit task list was never declared.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTransportClosed is returned by transport operations after Close.
	// Callers reporting run state swallow it; a run that outlives the
	// transport must fail silently, not crash.
	ErrTransportClosed = errors.New("transport closed")

	// ErrReportsUnsupported is returned when the configured transport does
	// not implement ReportFetcher.
	ErrReportsUnsupported = errors.New("transport does not support reports")
)

// ResolutionError indicates that an execution request named a flow this
// client has not registered. The run terminates immediately: one log line,
// no task-state transitions.
type ResolutionError struct {
	FlowName string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("flow %q not found", e.FlowName)
}

// TaskExecutionError wraps the error a task function returned (or the
// recovered panic). It aborts the owning run only when the task is crucial.
type TaskExecutionError struct {
	TaskName  string
	TaskIndex int
	Err       error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %q (index %d) failed: %v", e.TaskName, e.TaskIndex, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// StructuredFailure indicates a task returned a TaskResult with Passed set
// to false without returning an error. It is reported exactly like a task
// error, but carries no underlying cause; the note is the result's own.
type StructuredFailure struct {
	TaskName  string
	TaskIndex int
	Note      string
}

func (e *StructuredFailure) Error() string {
	return fmt.Sprintf("task %q (index %d) reported failure: %s", e.TaskName, e.TaskIndex, e.Note)
}

// AsTaskExecutionError returns the TaskExecutionError in err's chain, if any.
func AsTaskExecutionError(err error) (*TaskExecutionError, bool) {
	var te *TaskExecutionError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// AsStructuredFailure returns the StructuredFailure in err's chain, if any.
func AsStructuredFailure(err error) (*StructuredFailure, bool) {
	var sf *StructuredFailure
	if errors.As(err, &sf) {
		return sf, true
	}
	return nil, false
}

// FailureNote extracts the human note for a run-aborting error: the
// structured note when present, the error message otherwise.
func FailureNote(err error) string {
	if sf, ok := AsStructuredFailure(err); ok {
		return sf.Note
	}
	if te, ok := AsTaskExecutionError(err); ok {
		return te.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
