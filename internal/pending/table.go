// ABOUTME: Pending-request table correlating in-flight approval requests to their settlement.
// ABOUTME: Guarantees at-most-once settlement when a human action races the deadline timer.

package pending

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-approve/internal/decision"
)

// ErrDuplicateID indicates a registration for a correlation id that already
// has a live entry.
var ErrDuplicateID = errors.New("correlation id already pending")

// Entry is the suspended-wait record for one request. It settles exactly
// once, either with a human decision or with the category's timeout default.
type Entry struct {
	Request *decision.Request

	settled  atomic.Bool
	done     chan struct{}
	decision decision.Decision

	// timer is guarded by the owning Table's mutex.
	timer *time.Timer

	noticeMu sync.Mutex
	noticeID string
}

// Done returns a channel closed when the entry settles.
func (e *Entry) Done() <-chan struct{} { return e.done }

// Decision returns the settled outcome. Only valid after Done is closed.
func (e *Entry) Decision() decision.Decision { return e.decision }

// SetNotice records the external handle of the rendered notification so its
// controls can be disabled after settlement.
func (e *Entry) SetNotice(id string) {
	e.noticeMu.Lock()
	defer e.noticeMu.Unlock()
	e.noticeID = id
}

// Notice returns the rendered notification's external handle, if any.
func (e *Entry) Notice() string {
	e.noticeMu.Lock()
	defer e.noticeMu.Unlock()
	return e.noticeID
}

// Table tracks all outstanding entries keyed by correlation id.
type Table struct {
	mu      sync.Mutex
	entries map[string]*Entry
	logger  *slog.Logger
}

// NewTable creates an empty pending table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		entries: make(map[string]*Entry),
		logger:  logger.With("component", "pending"),
	}
}

// Register creates an entry for the request and schedules the default
// decision at the request's deadline. Returns ErrDuplicateID if the
// correlation id already has a live entry.
func (t *Table) Register(req *decision.Request, def decision.Decision) (*Entry, error) {
	e := &Entry{
		Request: req,
		done:    make(chan struct{}),
	}

	t.mu.Lock()
	if _, exists := t.entries[req.ID]; exists {
		t.mu.Unlock()
		return nil, ErrDuplicateID
	}
	t.entries[req.ID] = e

	// The timer races with Resolve; whichever loses is a no-op. The field
	// is assigned before the lock is released: the callback takes the same
	// lock, so even an already-expired deadline cannot observe a
	// half-initialized entry.
	e.timer = time.AfterFunc(time.Until(req.Deadline), func() {
		if _, ok := t.Resolve(req.ID, def); ok {
			t.logger.Info("request timed out",
				"request_id", req.ID,
				"session_id", req.SessionID,
				"default", def.Kind.String(),
			)
		}
	})
	t.mu.Unlock()

	t.logger.Debug("request registered",
		"request_id", req.ID,
		"session_id", req.SessionID,
		"category", req.Category.String(),
		"deadline", req.Deadline,
	)
	return e, nil
}

// Resolve settles the entry for the given correlation id. It returns the
// entry and true iff this call was the one that settled it; a second call
// for an already-settled or unknown id returns false and changes nothing.
func (t *Table) Resolve(id string, d decision.Decision) (*Entry, bool) {
	t.mu.Lock()
	e, ok := t.entries[id]
	var timer *time.Timer
	if ok {
		timer = e.timer
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}

	if !e.settled.CompareAndSwap(false, true) {
		return nil, false
	}

	e.decision = d
	close(e.done)
	if timer != nil {
		timer.Stop()
	}

	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()

	return e, true
}

// Len returns the number of outstanding entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
