// Package tracker executes flows and reports what happens: task state
// transitions, progress sampled against each task's estimated time,
// captured output, and the run's terminal outcome.
//
// Two paths lead here. Execution requests from the backend resolve a
// registered flow and run its analyzed task sequence directly. Client
// initiated runs execute the flow function itself, and the wrapped task
// functions it calls report through the run context bound to ctx. Both
// paths share the same per-task tracking loop.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flowlinehq/flowline/internal/logmux"
	"github.com/flowlinehq/flowline/internal/registry"
	"github.com/flowlinehq/flowline/pkg/api"
)

// DefaultQuantum is the progress sampling interval.
const DefaultQuantum = 10 * time.Millisecond

// Config assembles a Tracker.
type Config struct {
	Transport api.Transport
	Registry  *registry.Registry
	Mux       *logmux.Multiplexer
	// Observer receives lifecycle events. Defaults to NoopObserver.
	Observer api.Observer
	// Logger receives operational diagnostics (transport hiccups).
	// Defaults to slog.Default().
	Logger *slog.Logger
	// Quantum is the progress sampling interval. Defaults to
	// DefaultQuantum.
	Quantum time.Duration
}

// Tracker runs flows under backend tracking.
type Tracker struct {
	transport api.Transport
	registry  *registry.Registry
	mux       *logmux.Multiplexer
	observer  api.Observer
	logger    *slog.Logger
	quantum   time.Duration
}

// New creates a Tracker from cfg.
func New(cfg Config) *Tracker {
	t := &Tracker{
		transport: cfg.Transport,
		registry:  cfg.Registry,
		mux:       cfg.Mux,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
		quantum:   cfg.Quantum,
	}
	if t.observer == nil {
		t.observer = api.NoopObserver{}
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.quantum <= 0 {
		t.quantum = DefaultQuantum
	}
	return t
}

// HandleExecutionRequest runs the flow named by an execution request and
// reports every transition back over the transport. The flow's analyzed
// tasks execute sequentially; a crucial failure aborts the run after its
// own FAILED report, a non-crucial one is logged and skipped. Transport
// errors never fail a healthy flow.
func (t *Tracker) HandleExecutionRequest(ctx context.Context, req *api.ExecutionRequest) error {
	t.sendLog(ctx, req.RunID, fmt.Sprintf("Received execution request with configuration: %s", strings.ToUpper(req.Configuration)))
	t.sendLog(ctx, req.RunID, "Initializing flow execution...")

	def, err := t.registry.FlowByName(req.FlowName)
	if err != nil {
		t.sendLog(ctx, req.RunID, fmt.Sprintf("Flow %q not found", req.FlowName))
		return &api.ResolutionError{FlowName: req.FlowName}
	}

	start := time.Now()

	tasks, err := t.registry.Analyze(def)
	if err != nil {
		t.sendLog(ctx, req.RunID, fmt.Sprintf("Flow execution failed after %dms: %s", time.Since(start).Milliseconds(), err))
		return err
	}

	info := &api.RunInfo{
		RunID:         req.RunID,
		FlowName:      req.FlowName,
		Configuration: req.Configuration,
		TotalTasks:    len(tasks),
	}

	capture := t.mux.NewCapture(req.RunID, t.transport)
	ctx = logmux.With(ctx, capture)
	defer capture.Flush()

	t.observer.OnRunStart(ctx, info)

	for i, td := range tasks {
		t.sendLog(ctx, req.RunID, fmt.Sprintf("Starting task %d/%d: %s", i+1, info.TotalTasks, td.Name))
		if _, err := t.runTracked(ctx, info, i, td); err != nil {
			elapsed := time.Since(start)
			t.sendLog(ctx, req.RunID, fmt.Sprintf("Flow execution failed after %dms: %s", elapsed.Milliseconds(), api.FailureNote(err)))
			t.observer.OnRunFailed(ctx, info, err, elapsed)
			return err
		}
	}

	elapsed := time.Since(start)
	t.sendLog(ctx, req.RunID, fmt.Sprintf("Flow execution completed successfully in %dms", elapsed.Milliseconds()))
	t.observer.OnRunCompleted(ctx, info, elapsed)
	return nil
}

// TrackRun executes a flow body as a client-initiated tracked run. The
// wrapped task functions the body calls find the run through ctx and
// report themselves with run-scoped indexes. Returns how many tracked
// tasks executed, and the body's error.
func (t *Tracker) TrackRun(ctx context.Context, info *api.RunInfo, body api.FlowFunc) (int, error) {
	rc := &RunContext{info: info}
	capture := t.mux.NewCapture(info.RunID, t.transport)
	ctx = logmux.With(ctx, capture)
	ctx = WithRun(ctx, rc)
	defer capture.Flush()

	t.observer.OnRunStart(ctx, info)
	start := time.Now()

	if err := body(ctx); err != nil {
		elapsed := time.Since(start)
		t.sendLog(ctx, info.RunID, fmt.Sprintf("Flow execution failed after %dms: %s", elapsed.Milliseconds(), api.FailureNote(err)))
		t.observer.OnRunFailed(ctx, info, err, elapsed)
		return rc.TaskCount(), err
	}

	elapsed := time.Since(start)
	t.sendLog(ctx, info.RunID, fmt.Sprintf("Flow execution completed successfully in %dms", elapsed.Milliseconds()))
	t.observer.OnRunCompleted(ctx, info, elapsed)
	return rc.TaskCount(), nil
}

// RunTrackedTask executes one task under the run bound to ctx, assigning
// it the next run-scoped index. Outside a tracked run the function is
// called directly with no reporting. Identity probes are answered before
// anything else so the registry can resolve wrappers without running
// them.
func (t *Tracker) RunTrackedTask(ctx context.Context, td *api.TaskDefinition) (any, error) {
	if api.IdentifyTask(ctx, td) {
		return nil, nil
	}
	rc, ok := RunFromContext(ctx)
	if !ok {
		return td.Fn(ctx)
	}
	idx := rc.nextIndex()
	t.sendLog(ctx, rc.info.RunID, fmt.Sprintf("Executing %s (task %d)...", td.Name, idx))
	return t.runTracked(ctx, rc.info, idx, td)
}

// runTracked executes one task under full tracking: RUNNING at zero
// progress, sampled progress while the function runs, then exactly one
// terminal report. The estimate only throttles progress updates; it
// never cancels the task. The returned error is non-nil only when the
// failure must abort the run.
func (t *Tracker) runTracked(ctx context.Context, info *api.RunInfo, idx int, td *api.TaskDefinition) (any, error) {
	t.observer.OnTaskStart(ctx, info, td.Name, idx)
	t.updateState(ctx, info.RunID, idx, api.TaskStateUpdate{State: api.TaskRunning, Progress: intPtr(0)})

	start := time.Now()
	done := make(chan struct{})
	var (
		value   any
		taskErr error
	)
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				taskErr = fmt.Errorf("task panicked: %v", r)
			}
		}()
		value, taskErr = td.Fn(ctx)
	}()

	estimate := td.EstimatedTime
	if estimate <= 0 {
		estimate = api.DefaultEstimatedTime
	}

	// Progress is reported only on strict increase, capped at 99 until
	// the task actually finishes.
	last := 0
	running := true
	for running && time.Since(start) < estimate {
		select {
		case <-done:
			running = false
		case <-time.After(t.quantum):
			progress := int(float64(time.Since(start)) / float64(estimate) * 100)
			if progress > 99 {
				progress = 99
			}
			if progress > last {
				t.updateState(ctx, info.RunID, idx, api.TaskStateUpdate{State: api.TaskRunning, Progress: intPtr(progress)})
				last = progress
			}
		}
	}
	<-done

	duration := time.Since(start)
	durationMs := duration.Milliseconds()

	if taskErr != nil {
		res := api.TaskResult{Passed: false, Note: taskErr.Error(), Table: []map[string]any{}}
		t.updateState(ctx, info.RunID, idx, api.TaskStateUpdate{
			State:      api.TaskFailed,
			Progress:   intPtr(0),
			DurationMs: int64Ptr(durationMs),
			Result:     &res,
		})
		t.sendLog(ctx, info.RunID, fmt.Sprintf("Task %s failed: %s", td.Name, taskErr))
		t.observer.OnTaskCompleted(ctx, info, td.Name, idx, taskErr, duration)
		if td.CrucialPass {
			return nil, &api.TaskExecutionError{TaskName: td.Name, TaskIndex: idx, Err: taskErr}
		}
		t.sendLog(ctx, info.RunID, fmt.Sprintf("Task %s failed but marked as non-crucial - continuing flow", td.Name))
		return nil, nil
	}

	res, structured := api.NormalizeResult(value)
	if structured && res.Table == nil {
		res.Table = []map[string]any{}
	}

	if structured && !res.Passed {
		t.updateState(ctx, info.RunID, idx, api.TaskStateUpdate{
			State:      api.TaskFailed,
			Progress:   intPtr(0),
			DurationMs: int64Ptr(durationMs),
			Result:     &res,
		})
		note := res.Note
		if note == "" {
			note = "task returned passed=false"
		}
		failure := &api.StructuredFailure{TaskName: td.Name, TaskIndex: idx, Note: note}
		t.sendLog(ctx, info.RunID, fmt.Sprintf("Task %s failed: %s", td.Name, note))
		t.observer.OnTaskCompleted(ctx, info, td.Name, idx, failure, duration)
		if td.CrucialPass {
			return nil, failure
		}
		t.sendLog(ctx, info.RunID, fmt.Sprintf("Task %s failed but marked as non-crucial - continuing flow", td.Name))
		return nil, nil
	}

	update := api.TaskStateUpdate{
		State:      api.TaskCompleted,
		Progress:   intPtr(100),
		DurationMs: int64Ptr(durationMs),
	}
	if structured {
		update.Result = &res
		t.sendLog(ctx, info.RunID, fmt.Sprintf("Task result: %s", res.Note))
	}
	t.updateState(ctx, info.RunID, idx, update)
	t.sendLog(ctx, info.RunID, fmt.Sprintf("Task %s completed in %dms", td.Name, durationMs))
	t.observer.OnTaskCompleted(ctx, info, td.Name, idx, nil, duration)
	return value, nil
}

func (t *Tracker) sendLog(ctx context.Context, runID, message string) {
	if err := t.transport.SendLog(ctx, runID, message); err != nil {
		t.logger.Debug("send log failed", "run_id", runID, "error", err)
	}
}

func (t *Tracker) updateState(ctx context.Context, runID string, idx int, update api.TaskStateUpdate) {
	if err := t.transport.UpdateTaskState(ctx, runID, idx, update); err != nil {
		t.logger.Debug("task state update failed", "run_id", runID, "task_index", idx, "error", err)
	}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

// RunContext identifies a client-initiated tracked run and hands out
// run-scoped task indexes.
type RunContext struct {
	info *api.RunInfo
	next atomic.Int64
}

// RunID returns the backend run id this context tracks against.
func (rc *RunContext) RunID() string { return rc.info.RunID }

// TaskCount returns how many tracked tasks have started under this run.
func (rc *RunContext) TaskCount() int { return int(rc.next.Load()) }

func (rc *RunContext) nextIndex() int { return int(rc.next.Add(1)) - 1 }

type runCtxKey struct{}

// WithRun binds a run context into ctx. Wrapped task functions called
// with the returned ctx report themselves against that run.
func WithRun(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, runCtxKey{}, rc)
}

// RunFromContext returns the run context bound to ctx, if any.
func RunFromContext(ctx context.Context) (*RunContext, bool) {
	rc, ok := ctx.Value(runCtxKey{}).(*RunContext)
	return rc, ok
}
