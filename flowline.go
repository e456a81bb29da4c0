package flowline

import (
	"database/sql"

	"github.com/flowlinehq/flowline/internal/catalog"
	"github.com/flowlinehq/flowline/internal/transport"
	"github.com/flowlinehq/flowline/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	TaskState            = api.TaskState
	TaskFunc             = api.TaskFunc
	FlowFunc             = api.FlowFunc
	TaskOptions          = api.TaskOptions
	FlowOptions          = api.FlowOptions
	TaskDefinition       = api.TaskDefinition
	FlowDefinition       = api.FlowDefinition
	TaskResult           = api.TaskResult
	ExecutionRequest     = api.ExecutionRequest
	Report               = api.Report
	Transport            = api.Transport
	JournalStore         = api.JournalStore
	FlowRecord           = api.FlowRecord
	RunRecord            = api.RunRecord
	RunFilter            = api.RunFilter
	RunInfo              = api.RunInfo
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export task states for convenience.

const (
	TaskPending   = api.TaskPending
	TaskRunning   = api.TaskRunning
	TaskCompleted = api.TaskCompleted
	TaskFailed    = api.TaskFailed
	TaskRetrying  = api.TaskRetrying
)

// DefaultEstimatedTime is the task time budget used when a declaration
// does not provide one.
const DefaultEstimatedTime = api.DefaultEstimatedTime

// Sentinel errors, re-exported from pkg/api.

var (
	ErrFlowNotFound       = api.ErrFlowNotFound
	ErrTaskNotFound       = api.ErrTaskNotFound
	ErrTransportClosed    = api.ErrTransportClosed
	ErrReportsUnsupported = api.ErrReportsUnsupported
)

// Failure types and helpers, re-exported from pkg/api.

type (
	ResolutionError    = api.ResolutionError
	TaskExecutionError = api.TaskExecutionError
	StructuredFailure  = api.StructuredFailure
)

var (
	AsTaskExecutionError = api.AsTaskExecutionError
	AsStructuredFailure  = api.AsStructuredFailure
	FailureNote          = api.FailureNote
)

// MemoryTransport is an in-process Transport for tests and offline
// development. It records everything a backend would receive and lets
// the caller enqueue execution requests by hand.
type MemoryTransport = transport.Memory

type (
	// RegisteredFlow is one registration recorded by a MemoryTransport.
	RegisteredFlow = transport.RegisteredFlow

	// TaskStateEvent is one task-state update recorded by a
	// MemoryTransport.
	TaskStateEvent = transport.TaskStateEvent
)

// NewMemoryTransport returns an in-process transport whose request queue
// holds up to capacity pending execution requests.
func NewMemoryTransport(capacity int) *MemoryTransport {
	return transport.NewMemory(capacity)
}

// Journal constructors
// These wrap the internal/catalog package so external callers
// never need to import internal packages.

// NewInMemoryJournal returns a JournalStore backed entirely by memory.
func NewInMemoryJournal() JournalStore {
	return catalog.NewInMemoryStore()
}

// NewSQLiteJournal returns a JournalStore that persists registrations
// and run outcomes in a SQLite database. The caller is responsible for
// importing the driver, e.g. modernc.org/sqlite.
func NewSQLiteJournal(db *sql.DB) (JournalStore, error) {
	return catalog.NewSQLiteStore(db)
}
