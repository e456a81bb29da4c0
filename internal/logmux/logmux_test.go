package logmux

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// recordingSender collects sent lines per run.
type recordingSender struct {
	mu    sync.Mutex
	lines map[string][]string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{lines: make(map[string][]string)}
}

func (s *recordingSender) SendLog(_ context.Context, runID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[runID] = append(s.lines[runID], message)
	return nil
}

func (s *recordingSender) Lines(runID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines[runID]))
	copy(out, s.lines[runID])
	return out
}

func TestCapture_SplitsCompletedLines(t *testing.T) {
	var tee bytes.Buffer
	sender := newRecordingSender()
	mux := New(&tee)

	c := mux.NewCapture("run-1", sender)

	if _, err := c.Write([]byte("first line\nsecond line\npartial")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got := sender.Lines("run-1")
	if len(got) != 2 || got[0] != "first line" || got[1] != "second line" {
		t.Fatalf("expected the two completed lines, got %v", got)
	}

	// The trailing partial stays buffered until more output or Flush.
	if _, err := c.Write([]byte(" done\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got = sender.Lines("run-1")
	if len(got) != 3 || got[2] != "partial done" {
		t.Fatalf("partial line not joined: %v", got)
	}

	if tee.String() != "first line\nsecond line\npartial done\n" {
		t.Fatalf("tee output must carry every byte, got %q", tee.String())
	}
}

func TestCapture_FlushSendsRemainder(t *testing.T) {
	sender := newRecordingSender()
	mux := New(&bytes.Buffer{})

	c := mux.NewCapture("run-1", sender)
	if _, err := c.Write([]byte("no newline at all")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(sender.Lines("run-1")) != 0 {
		t.Fatalf("incomplete line must not be sent before Flush")
	}

	c.Flush()
	got := sender.Lines("run-1")
	if len(got) != 1 || got[0] != "no newline at all" {
		t.Fatalf("Flush must send the remainder, got %v", got)
	}

	// A second flush has nothing left to send.
	c.Flush()
	if len(sender.Lines("run-1")) != 1 {
		t.Fatalf("Flush must clear the buffer")
	}
}

func TestCapture_SuppressesBlankLines(t *testing.T) {
	var tee bytes.Buffer
	sender := newRecordingSender()
	mux := New(&tee)

	c := mux.NewCapture("run-1", sender)
	if _, err := c.Write([]byte("\n   \nreal content\n\t\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got := sender.Lines("run-1")
	if len(got) != 1 || got[0] != "real content" {
		t.Fatalf("blank lines must not become log entries, got %v", got)
	}
	// Blank output still reaches the real stream.
	if !strings.Contains(tee.String(), "\n   \n") {
		t.Fatalf("tee must keep blank output, got %q", tee.String())
	}
}

func TestCaptures_IsolateRuns(t *testing.T) {
	sender := newRecordingSender()
	mux := New(&bytes.Buffer{})

	alpha := mux.NewCapture("run-alpha", sender)
	beta := mux.NewCapture("run-beta", sender)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			fmt.Fprintf(alpha, "alpha %d\n", n)
		}(i)
		go func(n int) {
			defer wg.Done()
			fmt.Fprintf(beta, "beta %d\n", n)
		}(i)
	}
	wg.Wait()

	for run, prefix := range map[string]string{"run-alpha": "alpha", "run-beta": "beta"} {
		lines := sender.Lines(run)
		if len(lines) != 20 {
			t.Fatalf("%s: expected 20 lines, got %d", run, len(lines))
		}
		for _, l := range lines {
			if !strings.HasPrefix(l, prefix) {
				t.Fatalf("%s received a foreign line %q", run, l)
			}
		}
	}
}

func TestOutput_ReturnsBoundCapture(t *testing.T) {
	sender := newRecordingSender()
	mux := New(&bytes.Buffer{})
	c := mux.NewCapture("run-1", sender)

	ctx := With(context.Background(), c)

	if got := Output(ctx); got != c {
		t.Fatalf("expected the bound capture, got %T", got)
	}

	fmt.Fprintln(Output(ctx), "routed")
	if lines := sender.Lines("run-1"); len(lines) != 1 || lines[0] != "routed" {
		t.Fatalf("output not routed through the capture: %v", lines)
	}

	if got := Output(context.Background()); got == nil {
		t.Fatalf("unbound context must still yield a writer")
	}

	if rc, ok := FromContext(ctx); !ok || rc != c {
		t.Fatalf("FromContext must return the bound capture")
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("FromContext must report absence on an unbound context")
	}
}

func TestInstall_Idempotent(t *testing.T) {
	first := Install(&bytes.Buffer{})
	second := Install(&bytes.Buffer{})
	if first != second {
		t.Fatalf("Install must return the process-wide instance")
	}
}
