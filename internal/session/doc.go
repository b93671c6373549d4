// Package session maps agent session ids to their conversation context:
// a stable label and color, the approve-all flag, and the dispatch lock
// that keeps one session's notifications ordered. Contexts are created on
// first sight and live for the rest of the process.
package session
