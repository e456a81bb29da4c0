// Package catalog keeps a local journal of registered flows and
// client-initiated runs, so a process can answer what it registered,
// what it ran, and how each run ended without asking the backend.
//
// The store contract lives in pkg/api as JournalStore; this package
// carries the in-memory and SQLite implementations. Backends for other
// databases live in their own submodules.
package catalog
