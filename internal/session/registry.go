// ABOUTME: Session registry mapping agent session ids to their conversation context.
// ABOUTME: Owns color assignment, the approve-all flag, and per-session dispatch ordering.

package session

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultPalette is the built-in color palette sessions are assigned from.
// Colors are stable per session id for the lifetime of the process.
var DefaultPalette = []string{
	"#e06c75", // red
	"#98c379", // green
	"#e5c07b", // yellow
	"#61afef", // blue
	"#c678dd", // magenta
	"#56b6c2", // cyan
	"#d19a66", // orange
	"#abb2bf", // gray
}

// Context is one agent run's identity: its label, color, approve-all flag,
// and the lazily-created conversation thread all of its notifications post
// into. A Context lives for the rest of the process once created.
type Context struct {
	ID    string
	Label string
	Color string

	approveAll atomic.Bool

	roleMu sync.Mutex
	role   string

	// mu serializes thread creation and notification dispatch so
	// notifications for one session reach the thread in registration order.
	mu         sync.Mutex
	threadRoot string
}

// ApproveAllEnabled reports whether the session's approve-all flag is set.
func (c *Context) ApproveAllEnabled() bool { return c.approveAll.Load() }

// SetApproveAll sets the session's approve-all flag. It is never cleared
// for the lifetime of the process.
func (c *Context) SetApproveAll() { c.approveAll.Store(true) }

// SetAgentRole updates the optional active-agent-role display label.
func (c *Context) SetAgentRole(role string) {
	if role == "" {
		return
	}
	c.roleMu.Lock()
	c.role = role
	c.roleMu.Unlock()
}

// AgentRole returns the active-agent-role display label, if any.
func (c *Context) AgentRole() string {
	c.roleMu.Lock()
	defer c.roleMu.Unlock()
	return c.role
}

// ThreadRoot returns the conversation handle, or "" if none was created yet.
func (c *Context) ThreadRoot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadRoot
}

// Dispatch runs fn under the session's dispatch lock, creating the
// conversation thread via open on first use. The thread is created exactly
// once; if open fails, fn still runs with an empty root (so registrations
// proceed and resolve by timeout) and the next dispatch retries creation.
func (c *Context) Dispatch(open func() (string, error), fn func(threadRoot string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var openErr error
	if c.threadRoot == "" {
		root, err := open()
		if err != nil {
			openErr = err
		} else {
			c.threadRoot = root
		}
	}
	fn(c.threadRoot)
	return openErr
}

// Registry maps session ids to contexts. Contexts are created on first
// sight of a session id and persist for the process lifetime.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Context
	palette  []string
	logger   *slog.Logger
}

// NewRegistry creates a registry assigning colors from the given palette.
// A nil or empty palette falls back to DefaultPalette.
func NewRegistry(palette []string, logger *slog.Logger) *Registry {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Context),
		palette:  palette,
		logger:   logger.With("component", "sessions"),
	}
}

// ResolveOrCreate returns the context for the session id, creating it on
// first sight. An unknown session is never an error.
func (r *Registry) ResolveOrCreate(sessionID string) *Context {
	r.mu.RLock()
	c, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[sessionID]; ok {
		return c
	}

	c = &Context{
		ID:    sessionID,
		Label: shortLabel(sessionID),
		Color: r.colorFor(sessionID),
	}
	r.sessions[sessionID] = c
	r.logger.Info("session created",
		"session_id", sessionID,
		"label", c.Label,
		"color", c.Color,
	)
	return c
}

// SetApproveAll sets the approve-all flag for the session, creating the
// context if needed.
func (r *Registry) SetApproveAll(sessionID string) {
	c := r.ResolveOrCreate(sessionID)
	c.SetApproveAll()
	r.logger.Info("approve-all enabled", "session_id", sessionID)
}

// AssignColor returns the color the session id maps to. The mapping is
// deterministic: the same id yields the same color across lookups.
func (r *Registry) AssignColor(sessionID string) string {
	return r.colorFor(sessionID)
}

// Len returns the number of known sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) colorFor(sessionID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	// Unsigned modulo: Sum32 values above MaxInt32 would go negative
	// through int on 32-bit platforms.
	return r.palette[h.Sum32()%uint32(len(r.palette))]
}

func shortLabel(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8]
}
