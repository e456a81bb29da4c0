package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the execution tracker for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay run execution.
type Observer interface {
	// OnRunStart is called once per run after the flow has been resolved
	// and analyzed, before the first task starts.
	OnRunStart(ctx context.Context, run *RunInfo)

	// OnRunCompleted is called when every task of a run reached a terminal
	// state without a crucial failure.
	OnRunCompleted(ctx context.Context, run *RunInfo, duration time.Duration)

	// OnRunFailed is called when a started run aborts on a crucial task
	// failure. Runs that fail before OnRunStart (resolution, analysis)
	// produce no observer events.
	OnRunFailed(ctx context.Context, run *RunInfo, err error, duration time.Duration)

	// OnTaskStart is called before a task function is launched.
	// taskIndex is the 0-based position within the run.
	OnTaskStart(ctx context.Context, run *RunInfo, taskName string, taskIndex int)

	// OnTaskCompleted is called after a task reaches a terminal state, for
	// both successes and failures (err != nil).
	OnTaskCompleted(ctx context.Context, run *RunInfo, taskName string, taskIndex int, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run *RunInfo)                          {}
func (NoopObserver) OnRunCompleted(ctx context.Context, run *RunInfo, d time.Duration)     {}
func (NoopObserver) OnRunFailed(ctx context.Context, run *RunInfo, err error, d time.Duration) {
}
func (NoopObserver) OnTaskStart(ctx context.Context, run *RunInfo, taskName string, idx int) {}
func (NoopObserver) OnTaskCompleted(ctx context.Context, run *RunInfo, taskName string, idx int, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *RunInfo) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run *RunInfo, d time.Duration) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run, d)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *RunInfo, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err, d)
	}
}

func (c *CompositeObserver) OnTaskStart(ctx context.Context, run *RunInfo, taskName string, idx int) {
	for _, o := range c.observers {
		o.OnTaskStart(ctx, run, taskName, idx)
	}
}

func (c *CompositeObserver) OnTaskCompleted(ctx context.Context, run *RunInfo, taskName string, idx int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnTaskCompleted(ctx, run, taskName, idx, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / task lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *RunInfo) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("flow", run.FlowName),
		slog.String("run_id", run.RunID),
		slog.Int("total_tasks", run.TotalTasks),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run *RunInfo, d time.Duration) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("flow", run.FlowName),
		slog.String("run_id", run.RunID),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *RunInfo, err error, d time.Duration) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("flow", run.FlowName),
		slog.String("run_id", run.RunID),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnTaskStart(ctx context.Context, run *RunInfo, taskName string, idx int) {
	o.Logger.DebugContext(ctx, "task_start",
		slog.String("flow", run.FlowName),
		slog.String("run_id", run.RunID),
		slog.String("task", taskName),
		slog.Int("task_index", idx),
	)
}

func (o *LoggingObserver) OnTaskCompleted(ctx context.Context, run *RunInfo, taskName string, idx int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "task_completed",
		slog.String("flow", run.FlowName),
		slog.String("run_id", run.RunID),
		slog.String("task", taskName),
		slog.Int("task_index", idx),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate task durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	tasksCompleted    atomic.Int64
	tasksFailed       atomic.Int64
	totalTaskDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	ActiveRuns    int64

	TasksCompleted  int64
	TasksFailed     int64
	AvgTaskDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run *RunInfo) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, run *RunInfo, d time.Duration) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run *RunInfo, err error, d time.Duration) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnTaskCompleted(ctx context.Context, run *RunInfo, taskName string, idx int, err error, d time.Duration) {
	if err != nil {
		m.tasksFailed.Add(1)
		return
	}
	// Only successful tasks count toward the average duration.
	m.tasksCompleted.Add(1)
	m.totalTaskDuration.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	tasks := m.tasksCompleted.Load()
	totalNs := m.totalTaskDuration.Load()

	var avg time.Duration
	if tasks > 0 {
		avg = time.Duration(totalNs / tasks)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		ActiveRuns:      started - completed - failed,
		TasksCompleted:  tasks,
		TasksFailed:     m.tasksFailed.Load(),
		AvgTaskDuration: avg,
	}
}
