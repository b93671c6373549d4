// Package gateway is the coordination core. It exposes the synchronous
// hook-facing HTTP API, suspends each approval caller on a pending entry,
// and settles entries from operator actions or deadline timers, whichever
// lands first.
package gateway
