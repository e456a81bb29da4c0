package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/flowlinehq/flowline/pkg/api"
)

const (
	// DefaultPollTimeout bounds a single execution-request poll. It is
	// short so Stop interrupts the loop quickly.
	DefaultPollTimeout = 500 * time.Millisecond

	// DefaultPollInterval is the backoff after a failed poll.
	DefaultPollInterval = time.Second

	// DefaultHeartbeatInterval spaces keepalive heartbeats.
	DefaultHeartbeatInterval = 3 * time.Second
)

// Dispatcher handles one execution request. Implementations run the
// requested flow and report its progress; the listener does not care how.
type Dispatcher interface {
	HandleExecutionRequest(ctx context.Context, req *api.ExecutionRequest) error
}

// Config controls listener behavior. Zero values take the defaults.
type Config struct {
	PollTimeout       time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	// OnFlowComplete, when set, is invoked once per dispatched run with
	// the flow's name, after the run finished (success or failure).
	OnFlowComplete func(flowName string)

	// Logger receives operational events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Listener polls a transport for execution requests and dispatches them.
type Listener struct {
	transport api.Transport
	dispatch  Dispatcher
	cfg       Config
	logger    *slog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	dispatchWG sync.WaitGroup
	running    bool
}

// New creates a Listener that feeds requests from transport into dispatch.
func New(transport api.Transport, dispatch Dispatcher, cfg Config) *Listener {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		transport: transport,
		dispatch:  dispatch,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start launches the poll and heartbeat loops. It returns an error if the
// listener is already running.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New("flowline: listener already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	l.wg.Add(2)
	go l.pollLoop(ctx)
	go l.heartbeatLoop(ctx)

	l.logger.Info("listening for execution requests",
		slog.Duration("poll_timeout", l.cfg.PollTimeout),
		slog.Duration("heartbeat_interval", l.cfg.HeartbeatInterval))
	return nil
}

// Stop interrupts the poll and heartbeat loops and waits for them to
// exit. Runs already dispatched keep going; use Wait to join them. Stop
// is idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	l.running = false
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

// Wait blocks until every dispatched run has finished.
func (l *Listener) Wait() {
	l.dispatchWG.Wait()
}

// Running reports whether the listener loops are active.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Listener) pollLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		req, err := l.transport.PollExecutionRequest(ctx, l.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, api.ErrTransportClosed) {
				return
			}
			l.logger.Debug("poll failed, backing off",
				slog.Any("error", err),
				slog.Duration("backoff", l.cfg.PollInterval))
			select {
			case <-time.After(l.cfg.PollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}
		if req == nil {
			continue
		}
		l.dispatchRequest(ctx, req)
	}
}

func (l *Listener) dispatchRequest(ctx context.Context, req *api.ExecutionRequest) {
	// Accepted runs outlive the listener; stopping must not cancel work
	// in flight.
	runCtx := context.WithoutCancel(ctx)
	l.dispatchWG.Add(1)
	go func() {
		defer l.dispatchWG.Done()
		if err := l.dispatch.HandleExecutionRequest(runCtx, req); err != nil {
			l.logger.Warn("flow run failed",
				slog.String("flow", req.FlowName),
				slog.String("run_id", req.RunID),
				slog.Any("error", err))
		}
		if l.cfg.OnFlowComplete != nil {
			l.cfg.OnFlowComplete(req.FlowName)
		}
	}()
}

func (l *Listener) heartbeatLoop(ctx context.Context) {
	defer l.wg.Done()

	// First beat goes out immediately so the backend sees the client as
	// soon as it starts listening.
	l.beat(ctx)

	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.beat(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) beat(ctx context.Context) {
	if err := l.transport.Heartbeat(ctx); err != nil && ctx.Err() == nil {
		l.logger.Debug("heartbeat failed", slog.Any("error", err))
	}
}
