// Package pending tracks in-flight approval requests. Each entry settles
// exactly once: the first of a human decision, the deadline timer, or
// caller cancellation wins, and every later attempt is a no-op.
package pending
