package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flowlinehq/flowline/pkg/api"
)

// RegisteredFlow records one registration made through a Memory transport.
type RegisteredFlow struct {
	FlowID            string
	Payload           api.FlowPayload
	AutoTrigger       bool
	AutoTriggerConfig string
}

// TaskStateEvent records one task-state report, in arrival order.
type TaskStateEvent struct {
	TaskIndex int
	Update    api.TaskStateUpdate
}

// Memory is an in-process transport backed by a buffered request channel.
// It records everything sent through it so tests can assert on the exact
// traffic a run produced, and it imitates the backend closely enough for
// offline development: registering with auto-trigger enqueues an
// execution request, and completed runs yield a downloadable report built
// from their log lines. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	flows      []RegisteredFlow
	logs       map[string][]string
	updates    map[string][]TaskStateEvent
	runFlows   map[string]string
	completed  map[string]int
	heartbeats atomic.Int64

	requests chan api.ExecutionRequest
	done     chan struct{}
	closed   atomic.Bool
}

// Ensure Memory implements the full transport surface.
var (
	_ api.Transport     = (*Memory)(nil)
	_ api.RunStarter    = (*Memory)(nil)
	_ api.ReportFetcher = (*Memory)(nil)
)

// NewMemory creates an in-process transport with the given request queue
// capacity. For tests a modest capacity is fine.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 64
	}
	return &Memory{
		logs:      make(map[string][]string),
		updates:   make(map[string][]TaskStateEvent),
		runFlows:  make(map[string]string),
		completed: make(map[string]int),
		requests:  make(chan api.ExecutionRequest, capacity),
		done:      make(chan struct{}),
	}
}

// EnqueueRequest queues an execution request for the next poll, standing
// in for the backend asking the client to run a flow.
func (m *Memory) EnqueueRequest(ctx context.Context, req api.ExecutionRequest) error {
	if m.closed.Load() {
		return api.ErrTransportClosed
	}
	m.mu.Lock()
	m.runFlows[req.RunID] = req.FlowName
	m.mu.Unlock()
	select {
	case m.requests <- req:
		return nil
	case <-m.done:
		return api.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) RegisterFlow(_ context.Context, payload api.FlowPayload, autoTrigger bool, configuration string) (string, error) {
	if m.closed.Load() {
		return "", api.ErrTransportClosed
	}
	flowID := uuid.NewString()
	m.mu.Lock()
	m.flows = append(m.flows, RegisteredFlow{
		FlowID:            flowID,
		Payload:           payload,
		AutoTrigger:       autoTrigger,
		AutoTriggerConfig: configuration,
	})
	m.mu.Unlock()
	if autoTrigger {
		req := api.ExecutionRequest{
			RunID:         uuid.NewString(),
			FlowName:      payload.Name,
			Configuration: configuration,
		}
		m.mu.Lock()
		m.runFlows[req.RunID] = req.FlowName
		m.mu.Unlock()
		// A full queue drops the trigger rather than blocking the caller.
		select {
		case m.requests <- req:
		default:
		}
	}
	return flowID, nil
}

func (m *Memory) SendLog(_ context.Context, runID, message string) error {
	if m.closed.Load() {
		return api.ErrTransportClosed
	}
	m.mu.Lock()
	m.logs[runID] = append(m.logs[runID], message)
	m.mu.Unlock()
	return nil
}

func (m *Memory) UpdateTaskState(_ context.Context, runID string, taskIndex int, update api.TaskStateUpdate) error {
	if m.closed.Load() {
		return api.ErrTransportClosed
	}
	m.mu.Lock()
	m.updates[runID] = append(m.updates[runID], TaskStateEvent{TaskIndex: taskIndex, Update: update})
	m.mu.Unlock()
	return nil
}

func (m *Memory) PollExecutionRequest(ctx context.Context, timeout time.Duration) (*api.ExecutionRequest, error) {
	if m.closed.Load() {
		return nil, api.ErrTransportClosed
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case req := <-m.requests:
		return &req, nil
	case <-timer.C:
		return nil, nil
	case <-m.done:
		return nil, api.ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) Heartbeat(_ context.Context) error {
	if m.closed.Load() {
		return api.ErrTransportClosed
	}
	m.heartbeats.Add(1)
	return nil
}

func (m *Memory) StartRun(_ context.Context, flowID, _ string) (string, error) {
	if m.closed.Load() {
		return "", api.ErrTransportClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.flows {
		if f.FlowID == flowID {
			runID := uuid.NewString()
			m.runFlows[runID] = f.Payload.Name
			return runID, nil
		}
	}
	return "", fmt.Errorf("start run: flow %s not registered", flowID)
}

func (m *Memory) CompleteRun(_ context.Context, runID string, taskCount int) error {
	if m.closed.Load() {
		return api.ErrTransportClosed
	}
	m.mu.Lock()
	m.completed[runID] = taskCount
	m.mu.Unlock()
	return nil
}

func (m *Memory) FetchReport(_ context.Context, runID string) (*api.Report, error) {
	if m.closed.Load() {
		return nil, api.ErrTransportClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.completed[runID]; !ok {
		return nil, fmt.Errorf("fetch report: run %s has not completed", runID)
	}
	return &api.Report{
		ID:        "report-" + runID,
		RunID:     runID,
		FlowName:  m.runFlows[runID],
		Status:    string(api.TaskCompleted),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (m *Memory) DownloadReport(_ context.Context, reportID string) ([]byte, error) {
	if m.closed.Load() {
		return nil, api.ErrTransportClosed
	}
	runID := strings.TrimPrefix(reportID, "report-")
	m.mu.RLock()
	defer m.mu.RUnlock()
	lines, ok := m.logs[runID]
	if !ok {
		return nil, fmt.Errorf("download report: unknown report %s", reportID)
	}
	return []byte(strings.Join(lines, "\n")), nil
}

// Close shuts the transport down. Further calls fail with
// api.ErrTransportClosed. Close is idempotent.
func (m *Memory) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	close(m.done)
	return nil
}

// Flows returns every registration, in order.
func (m *Memory) Flows() []RegisteredFlow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RegisteredFlow, len(m.flows))
	copy(out, m.flows)
	return out
}

// Logs returns the log lines recorded for a run, in arrival order.
func (m *Memory) Logs(runID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.logs[runID]))
	copy(out, m.logs[runID])
	return out
}

// Updates returns the task-state reports recorded for a run, in arrival
// order.
func (m *Memory) Updates(runID string) []TaskStateEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TaskStateEvent, len(m.updates[runID]))
	copy(out, m.updates[runID])
	return out
}

// Heartbeats returns how many heartbeats arrived.
func (m *Memory) Heartbeats() int64 {
	return m.heartbeats.Load()
}

// CompletedTaskCount reports the task count a CompleteRun call recorded
// for the run, if any.
func (m *Memory) CompletedTaskCount(runID string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.completed[runID]
	return n, ok
}
