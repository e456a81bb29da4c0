package flowline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowlinehq/flowline/internal/catalog"
	"github.com/flowlinehq/flowline/internal/logmux"
	"github.com/flowlinehq/flowline/internal/registry"
	"github.com/flowlinehq/flowline/internal/tracker"
	"github.com/flowlinehq/flowline/internal/transport"
	"github.com/flowlinehq/flowline/pkg/api"
	"github.com/flowlinehq/flowline/pkg/listener"
)

// Client owns one backend connection and the tasks and flows declared
// against it. A typical process declares its tasks and flows once at
// startup, calls RegisterFlows, then either listens for backend-issued
// execution requests or starts runs itself with RunFlow.
type Client struct {
	cfg       Config
	logger    *slog.Logger
	registry  *registry.Registry
	transport api.Transport
	mux       *logmux.Multiplexer
	tracker   *tracker.Tracker
	journal   api.JournalStore

	mu       sync.Mutex
	listener *listener.Listener
	closed   bool
}

// NewClient connects a Client to the backend at cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	tr := transport.NewHTTP(transport.HTTPConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.RequestTimeout,
		Debug:   cfg.Debug,
	})
	return NewClientWithTransport(cfg, tr)
}

// NewClientWithTransport builds a Client over a caller-supplied
// transport, typically a MemoryTransport in tests.
func NewClientWithTransport(cfg Config, tr api.Transport) (*Client, error) {
	if tr == nil {
		return nil, errors.New("flowline: nil transport")
	}
	cfg = cfg.withDefaults()

	journal := cfg.Journal
	if journal == nil && cfg.JournalDB != nil {
		store, err := catalog.NewSQLiteStore(cfg.JournalDB)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		journal = store
	}
	if journal == nil {
		journal = catalog.NewInMemoryStore()
	}

	c := &Client{
		cfg:       cfg,
		logger:    cfg.Logger,
		registry:  registry.New(),
		transport: tr,
		mux:       logmux.New(cfg.Output),
		journal:   journal,
	}
	c.tracker = tracker.New(tracker.Config{
		Transport: tr,
		Registry:  c.registry,
		Mux:       c.mux,
		Observer:  cfg.Observer,
		Logger:    cfg.Logger,
	})
	return c, nil
}

// Task declares fn as a tracked task and returns the wrapped form. The
// wrapper behaves exactly like fn outside a run; inside a client
// initiated run it reports its own state, progress and result against
// the run bound to ctx.
//
// Declaration mistakes (nil function, declaring the same function twice)
// panic: they are startup programming errors, not runtime conditions.
func (c *Client) Task(fn TaskFunc, opts TaskOptions) TaskFunc {
	def, err := c.registry.DeclareTask(fn, opts)
	if err != nil {
		panic(fmt.Sprintf("flowline: %v", err))
	}
	wrapped := func(ctx context.Context) (any, error) {
		return c.tracker.RunTrackedTask(ctx, def)
	}
	// Either form may appear in an explicit task list.
	c.registry.AliasTask(wrapped, def)
	return wrapped
}

// Flow declares fn as a flow and returns it for direct invocation.
// Calling the returned function runs the body untracked; tracked
// execution happens through RunFlow or a listener dispatch. Declaration
// mistakes panic, like Task.
func (c *Client) Flow(fn FlowFunc, opts FlowOptions) FlowFunc {
	def, err := c.registry.DeclareFlow(fn, opts)
	if err != nil {
		panic(fmt.Sprintf("flowline: %v", err))
	}
	return func(ctx context.Context) error {
		return def.Fn(ctx)
	}
}

// RegisterFlows analyzes every declared flow and registers it with the
// backend, journaling the assigned identifiers. One flow failing does
// not stop the others; the errors come back joined.
func (c *Client) RegisterFlows(ctx context.Context) error {
	var errs []error
	for _, def := range c.registry.Flows() {
		tasks, err := c.registry.Analyze(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		configuration := def.AutoTriggerConfig
		if configuration == "" {
			configuration = c.cfg.Configuration
		}

		flowID, err := c.transport.RegisterFlow(ctx, registry.WirePayload(def, tasks), def.AutoTrigger, configuration)
		if err != nil {
			errs = append(errs, fmt.Errorf("register flow %q: %w", def.Name, err))
			continue
		}

		rec := api.FlowRecord{Name: def.Name, BackendID: flowID, RegisteredAt: time.Now()}
		if err := c.journal.SaveFlow(rec); err != nil {
			c.logger.Warn("journal flow failed", "flow", def.Name, "error", err)
		}
		c.logger.Info("flow registered",
			slog.String("flow", def.Name),
			slog.String("flow_id", flowID),
			slog.Int("tasks", len(tasks)))
	}
	return errors.Join(errs...)
}

// HandleExecutionRequest runs one backend-issued execution request to
// completion. The listener calls this for every polled request; it is
// exported for callers that drive their own poll loop.
func (c *Client) HandleExecutionRequest(ctx context.Context, req *api.ExecutionRequest) error {
	return c.tracker.HandleExecutionRequest(ctx, req)
}

// Listen starts polling the backend for execution requests and sending
// heartbeats, then returns. Dispatched runs execute concurrently; stop
// with StopListening or Close.
func (c *Client) Listen(ctx context.Context) error {
	return c.listen(ctx, c.cfg.OnFlowComplete)
}

func (c *Client) listen(ctx context.Context, onComplete func(string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("flowline: client is closed")
	}
	if c.listener != nil {
		return errors.New("flowline: already listening")
	}

	l := listener.New(c.transport, c.tracker, listener.Config{
		PollTimeout:       c.cfg.PollTimeout,
		PollInterval:      c.cfg.PollInterval,
		HeartbeatInterval: c.cfg.HeartbeatInterval,
		OnFlowComplete:    onComplete,
		Logger:            c.logger,
	})
	if err := l.Start(ctx); err != nil {
		return err
	}
	c.listener = l
	return nil
}

// StopListening interrupts the poll loop and joins runs already
// dispatched. Safe to call when not listening.
func (c *Client) StopListening() {
	c.mu.Lock()
	l := c.listener
	c.listener = nil
	c.mu.Unlock()

	if l != nil {
		l.Stop()
		l.Wait()
	}
}

// ListenUntilComplete listens until every declared flow has completed at
// least once, then stops. Repeat triggers of an already completed flow
// still execute but do not count again. Intended for batch processes
// that register, serve their flows once, and exit; returns early with
// ctx's error when cancelled.
func (c *Client) ListenUntilComplete(ctx context.Context) error {
	total := c.registry.FlowCount()
	if total == 0 {
		return nil
	}

	var (
		seen = make(map[string]bool, total)
		mu   sync.Mutex
		done = make(chan struct{})
	)
	onComplete := func(flowName string) {
		mu.Lock()
		if !seen[flowName] {
			seen[flowName] = true
			c.logger.Info("flow completed",
				slog.String("flow", flowName),
				slog.Int("completed", len(seen)),
				slog.Int("total", total))
			if len(seen) == total {
				close(done)
			}
		}
		mu.Unlock()

		if cb := c.cfg.OnFlowComplete; cb != nil {
			cb(flowName)
		}
	}

	if err := c.listen(ctx, onComplete); err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
	c.StopListening()
	return ctx.Err()
}

// RunFlow executes a declared flow as a client-initiated tracked run and
// returns the run id. The backend assigns the id when it knows the flow;
// otherwise a local one is minted and tracking proceeds against it. The
// flow body runs with the run bound to ctx, so the wrapped tasks it
// calls report themselves. The journal records the run's outcome either
// way.
func (c *Client) RunFlow(ctx context.Context, flowName string) (string, error) {
	def, err := c.registry.FlowByName(flowName)
	if err != nil {
		return "", err
	}

	runID, backendRun := c.startBackendRun(ctx, flowName)
	if runID == "" {
		runID = uuid.NewString()
	}

	started := time.Now()
	saveErr := c.journal.SaveRun(api.RunRecord{
		RunID:     runID,
		FlowName:  flowName,
		State:     api.TaskRunning,
		StartedAt: started,
	})
	if saveErr != nil {
		c.logger.Warn("journal run failed", "run_id", runID, "error", saveErr)
	}

	info := &api.RunInfo{RunID: runID, FlowName: flowName, Configuration: c.cfg.Configuration}
	if tasks, err := c.registry.Analyze(def); err == nil {
		info.TotalTasks = len(tasks)
	}

	count, runErr := c.tracker.TrackRun(ctx, info, def.Fn)

	if backendRun {
		if rs, ok := c.transport.(api.RunStarter); ok {
			if err := rs.CompleteRun(ctx, runID, count); err != nil {
				c.logger.Debug("run completion report failed", "run_id", runID, "error", err)
			}
		}
	}

	rec := api.RunRecord{
		RunID:      runID,
		FlowName:   flowName,
		State:      api.TaskCompleted,
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if runErr != nil {
		rec.State = api.TaskFailed
		rec.Error = runErr.Error()
	}
	if err := c.journal.UpdateRun(rec); err != nil && saveErr == nil {
		c.logger.Warn("journal run update failed", "run_id", runID, "error", err)
	}

	return runID, runErr
}

// startBackendRun asks the backend for a run id, when the transport can
// start runs and the flow's backend id is journaled. Failures fall back
// to local tracking.
func (c *Client) startBackendRun(ctx context.Context, flowName string) (string, bool) {
	rs, ok := c.transport.(api.RunStarter)
	if !ok {
		return "", false
	}
	rec, err := c.journal.GetFlow(flowName)
	if err != nil || rec.BackendID == "" {
		return "", false
	}
	runID, err := rs.StartRun(ctx, rec.BackendID, c.cfg.Configuration)
	if err != nil {
		c.logger.Warn("backend run creation failed, tracking locally", "flow", flowName, "error", err)
		return "", false
	}
	return runID, true
}

// Report fetches the backend's report descriptor for a run. Transports
// without report support return ErrReportsUnsupported.
func (c *Client) Report(ctx context.Context, runID string) (*api.Report, error) {
	rf, ok := c.transport.(api.ReportFetcher)
	if !ok {
		return nil, api.ErrReportsUnsupported
	}
	return rf.FetchReport(ctx, runID)
}

// DownloadReport fetches a run's report descriptor and downloads the
// rendered document.
func (c *Client) DownloadReport(ctx context.Context, runID string) ([]byte, error) {
	rf, ok := c.transport.(api.ReportFetcher)
	if !ok {
		return nil, api.ErrReportsUnsupported
	}
	rep, err := rf.FetchReport(ctx, runID)
	if err != nil {
		return nil, err
	}
	return rf.DownloadReport(ctx, rep.ID)
}

// Journal returns the client's journal store.
func (c *Client) Journal() api.JournalStore { return c.journal }

// Flows returns the declared flows in declaration order.
func (c *Client) Flows() []*api.FlowDefinition { return c.registry.Flows() }

// Tasks returns the declared tasks in declaration order.
func (c *Client) Tasks() []*api.TaskDefinition { return c.registry.Tasks() }

// Close stops listening, joins dispatched runs and closes the transport.
// Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.listener
	c.listener = nil
	c.mu.Unlock()

	if l != nil {
		l.Stop()
		l.Wait()
	}
	return c.transport.Close()
}
