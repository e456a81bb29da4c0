// Package listener connects a process to its backend: it polls for
// execution requests, dispatches each one to a handler on its own
// goroutine, and keeps the connection alive with periodic heartbeats.
//
// # Lifecycle
//
// A Listener is started once and stopped once per cycle:
//
//   - Start launches the poll loop and the heartbeat loop.
//   - Each received request is dispatched concurrently; dispatched runs
//     are never cancelled by Stop, so stopping the listener leaves
//     in-flight flows to finish on their own.
//   - Stop interrupts the loops and returns once they have exited,
//     typically within one poll timeout.
//
// The poll uses a short per-request timeout so shutdown stays
// responsive; an unreachable backend is retried after a backoff rather
// than treated as fatal.
//
// # Completion callbacks
//
// When Config.OnFlowComplete is set it fires exactly once per
// dispatched run, whether the run succeeded or failed. The flowline
// package uses this to shut a process down once every registered flow
// has been executed at least once.
//
// Most applications do not construct a Listener directly; the flowline
// Client wires one to its transport and tracker.
package listener
