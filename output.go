package flowline

import (
	"context"
	"fmt"
	"io"

	"github.com/flowlinehq/flowline/internal/logmux"
)

// Output returns the writer task code should print to. Inside tracked
// execution everything written is teed to the process stream and
// forwarded line by line to the backend as run logs; outside a run it
// writes straight through. Goroutines spawned by a task inherit the
// binding by receiving the task's ctx.
func Output(ctx context.Context) io.Writer {
	return logmux.Output(ctx)
}

// Printf writes formatted text to the current run's output.
func Printf(ctx context.Context, format string, args ...any) {
	fmt.Fprintf(Output(ctx), format, args...)
}

// Println writes its arguments to the current run's output, followed by
// a newline.
func Println(ctx context.Context, args ...any) {
	fmt.Fprintln(Output(ctx), args...)
}
