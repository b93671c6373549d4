// Package store persists the decision audit log in SQLite. Only settled
// outcomes are written; in-flight approval state is memory-only and does
// not survive a restart.
package store
