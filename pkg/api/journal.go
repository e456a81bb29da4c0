package api

import (
	"errors"
	"time"
)

// Journal lookup failures. Implementations wrap or return these directly so
// callers can test with errors.Is regardless of the backing store.
var (
	ErrFlowRecordNotFound = errors.New("flow record not found")
	ErrRunRecordNotFound  = errors.New("run record not found")
)

// FlowRecord is a journal entry correlating a registered flow with the
// backend-assigned identifier.
type FlowRecord struct {
	Name         string
	BackendID    string
	RegisteredAt time.Time
}

// RunRecord is a journal entry for one client-initiated flow run.
type RunRecord struct {
	RunID      string
	FlowName   string
	State      TaskState
	StartedAt  time.Time
	DurationMs int64
	Error      string
}

// RunFilter selects journal entries. Zero values mean "no filter".
type RunFilter struct {
	FlowName string
	State    TaskState
}

// JournalStore persists the client-side record of registrations and
// client-initiated runs. It is a local convenience, not the backend's view:
// losing it never affects tracked execution.
//
// SaveFlow upserts by flow name. SaveRun inserts a new run; UpdateRun
// rewrites an existing one and returns ErrRunRecordNotFound when the run was
// never saved.
type JournalStore interface {
	SaveFlow(rec FlowRecord) error
	GetFlow(name string) (FlowRecord, error)
	ListFlows() ([]FlowRecord, error)

	SaveRun(rec RunRecord) error
	UpdateRun(rec RunRecord) error
	GetRun(runID string) (RunRecord, error)
	ListRuns(filter RunFilter) ([]RunRecord, error)
}
