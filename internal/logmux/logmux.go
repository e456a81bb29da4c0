// Package logmux routes text produced by concurrently running flows to the
// backend log stream of the correct run, without cross-talk and without ever
// swallowing output.
//
// Instead of intercepting the process stdout, the multiplexer is an explicit
// writer abstraction: each run owns a Capture, the capture is bound into a
// context.Context, and task code obtains its writer through Output. A
// goroutine inherits a binding only by being handed the bound context;
// bindings never propagate implicitly across goroutine boundaries.
package logmux

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
)

// Sender delivers completed log lines to the backend. api.Transport
// satisfies it.
type Sender interface {
	SendLog(ctx context.Context, runID, message string) error
}

// Multiplexer creates per-run captures that tee to a shared real output
// writer and forward completed lines to a Sender.
type Multiplexer struct {
	mu  sync.Mutex
	out io.Writer
}

// New returns a Multiplexer writing through to out. A nil out defaults to
// os.Stdout.
func New(out io.Writer) *Multiplexer {
	if out == nil {
		out = os.Stdout
	}
	return &Multiplexer{out: out}
}

var (
	installMu sync.Mutex
	installed *Multiplexer
)

// Install returns the process-wide Multiplexer, creating it on the first
// call. Installation is idempotent: later calls return the existing
// instance and ignore out.
func Install(out io.Writer) *Multiplexer {
	installMu.Lock()
	defer installMu.Unlock()

	if installed == nil {
		installed = New(out)
	}
	return installed
}

// NewCapture creates the log capture for one run. Lines written through the
// capture are sent via send tagged with runID.
func (m *Multiplexer) NewCapture(runID string, send Sender) *Capture {
	return &Capture{
		mux:   m,
		runID: runID,
		send:  send,
	}
}

// write copies p to the real output stream. Output is never swallowed, even
// when the underlying writer errors.
func (m *Multiplexer) write(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _ = m.out.Write(p)
}

// Capture buffers one run's output and ships completed lines to the
// backend. It is safe for concurrent use: the owning flow goroutine and a
// task's background goroutine may both write when the capture is inherited.
type Capture struct {
	mux   *Multiplexer
	runID string
	send  Sender

	mu  sync.Mutex
	buf []byte
}

var _ io.Writer = (*Capture)(nil)

// RunID returns the run this capture is bound to.
func (c *Capture) RunID() string { return c.runID }

// Write tees p to the real output, then buffers it and sends every
// completed, non-blank line as a backend log entry. A trailing partial line
// stays buffered until the next write or Flush.
//
// The lock is held across the sends so that concurrent writers of the same
// run cannot reorder its lines.
func (c *Capture) Write(p []byte) (int, error) {
	c.mux.write(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, p...)
	for {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			break
		}
		line := string(c.buf[:i])
		c.buf = c.buf[i+1:]
		if strings.TrimSpace(line) != "" {
			_ = c.send.SendLog(context.Background(), c.runID, line)
		}
	}
	return len(p), nil
}

// Flush sends any remaining non-blank buffered text as a final log entry
// and clears the buffer. It is called at capture teardown.
func (c *Capture) Flush() {
	c.mu.Lock()
	rest := string(c.buf)
	c.buf = nil
	c.mu.Unlock()

	if strings.TrimSpace(rest) != "" {
		_ = c.send.SendLog(context.Background(), c.runID, rest)
	}
}

type captureKey struct{}

// With binds a capture into ctx. Code spawning a goroutine that should stay
// attributed to the same run must pass the bound context along explicitly.
func With(ctx context.Context, c *Capture) context.Context {
	return context.WithValue(ctx, captureKey{}, c)
}

// FromContext returns the capture bound into ctx, if any.
func FromContext(ctx context.Context) (*Capture, bool) {
	c, ok := ctx.Value(captureKey{}).(*Capture)
	return c, ok && c != nil
}

// Output returns the writer task code should print to: the bound capture
// when the context belongs to a tracked run, the real output stream
// otherwise. Untracked writers bypass buffering and transport entirely.
func Output(ctx context.Context) io.Writer {
	if c, ok := FromContext(ctx); ok {
		return c
	}
	installMu.Lock()
	defer installMu.Unlock()
	if installed != nil {
		return installed.out
	}
	return os.Stdout
}
