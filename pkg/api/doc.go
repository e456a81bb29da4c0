// Package api contains the core building blocks of the flowline SDK: flow
// and task definitions, the wire payload shapes the backend expects, the
// Transport contract, the error taxonomy, and the Observer interface.
//
// Most users interact with the higher-level flowline package, which
// re-exports selected types and helpers from this package. The api package
// is intended for custom transports, custom observers, or contributors
// extending the SDK itself.
//
// # Definitions
//
// TaskDefinition and FlowDefinition describe declared functions. A task
// carries a display name, a description, an estimated time budget, and a
// crucial-pass flag; a flow carries a required name, metadata tags, and an
// auto-trigger setting. Flow task membership is populated by analysis, not
// at declaration time.
//
// # Transport
//
// Transport is the boundary to the orchestration backend: flow
// registration, per-run log lines, task state updates, execution-request
// polling, and heartbeats. Implementations carry no retry logic; the
// execution core swallows transport errors on the reporting path so a
// flaky backend never fails a healthy flow. RunStarter and ReportFetcher
// are optional capabilities for client-initiated runs and report access.
//
// # Errors
//
// ResolutionError, TaskExecutionError, and StructuredFailure distinguish
// the three ways a run can go wrong: an unknown flow name, a task function
// returning an error, and a task result with Passed set to false. They are
// matched with errors.As via the AsTaskExecutionError and
// AsStructuredFailure helpers.
//
// # Observability
//
// Observer receives run and task lifecycle events. Ready-made
// implementations cover structured logging (LoggingObserver, on log/slog)
// and in-memory counters (BasicMetrics); NewCompositeObserver combines
// several observers into one.
package api
