// Package decision defines the closed taxonomy shared by every layer of the
// approval gateway: action categories, settled outcomes, and the request
// shape that flows from the hook into the pending table.
package decision
