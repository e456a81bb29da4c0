// Package flowline is a client SDK for declaring and running tracked
// flows against a flowline backend.
//
// A flow is a named sequence of tasks. The backend decides when flows
// run; this package makes a Go process the place where they execute,
// with every task's state, progress and output reported back live.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Client
//  2. Task and Flow declarations
//  3. Listening
//  4. Client-initiated runs
//  5. Journal
//
// # Client
//
// The Client owns the backend connection and everything declared against
// it. Declare tasks and flows during startup, register them, then serve
// execution requests:
//
//	client, err := flowline.NewClient(flowline.Config{BaseURL: "http://localhost:3001"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	extract := client.Task(extractSales, flowline.TaskOptions{
//	    Name:          "Extract sales data",
//	    EstimatedTime: 5 * time.Second,
//	})
//
//	client.Flow(func(ctx context.Context) error {
//	    if _, err := extract(ctx); err != nil {
//	        return err
//	    }
//	    return nil
//	}, flowline.FlowOptions{
//	    Name:  "Daily Sales ETL",
//	    Tasks: []flowline.TaskFunc{extract},
//	})
//
//	if err := client.RegisterFlows(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.ListenUntilComplete(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Task and Flow declarations
//
// Client.Task wraps a plain function into a tracked task. Outside a run
// the wrapper is the function; inside a run it additionally reports
// RUNNING with estimated progress, then COMPLETED or FAILED with its
// duration and structured result. Estimates drive progress percentages
// only; a task is never cancelled for exceeding its estimate.
//
// Tasks marked Optional report their failure and let the flow continue.
// All other tasks abort the run when they fail.
//
// Flows associate with their tasks either explicitly (FlowOptions.Tasks,
// or the FlowBuilder's Tasks method) or implicitly, by scanning the flow
// body's source for calls to declared tasks.
//
// # Listening
//
// Listen polls the backend for execution requests and dispatches each
// one concurrently, with heartbeats in between. ListenUntilComplete is
// the batch variant: it stops once every declared flow has completed at
// least once.
//
// # Client-initiated runs
//
// RunFlow starts a run from this process instead of waiting for the
// backend. The flow body executes with the run bound to ctx; the wrapped
// tasks it calls report themselves in call order. Anything printed
// through Output, Printf or Println lands in the run's log on the
// backend and on the local stream.
//
// # Journal
//
// The journal is the client's local memory of registered flows and
// client-initiated runs. It defaults to in-process maps, persists to
// SQLite via Config.JournalDB, and extends to Redis, Postgres and
// MongoDB through the flowline/redis, flowline/postgres and
// flowline/mongo submodules. Losing the journal never affects tracked
// execution.
//
// # Testing
//
// NewMemoryTransport returns an in-process backend stand-in that records
// registrations, logs and task-state updates, and lets tests enqueue
// execution requests by hand.
package flowline
