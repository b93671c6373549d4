// ABOUTME: Response decoder routing human actions back to their correlation targets.
// ABOUTME: Tracks live prompts by message id and thread so reactions and replies can be matched.

package notify

import (
	"sync"

	"github.com/2389/coven-approve/internal/decision"
)

// Target identifies where a decoded human action should be delivered.
// Exactly one of CorrelationID (a pending entry awaiting settlement) or
// Pane (a one-shot reply-injection slot) is set.
type Target struct {
	CorrelationID string
	SessionID     string
	Pane          string
	ThreadRoot    string
	EventID       string // prompt message id, set by Add
	Prompt        *Prompt
}

// Action is a decoded human action ready for delivery. AwaitText marks a
// reply-choice selection that settles nothing by itself; the operator's
// next thread message carries the text.
type Action struct {
	Target    *Target
	Decision  decision.Decision
	AwaitText bool
}

// Router is the response decoder's routing table. It maps live prompt
// message ids and threads back to targets. Retired prompts are remembered
// so late actions on them can be acknowledged as stale instead of silently
// dropped; like session contexts, the memory is process-lifetime.
type Router struct {
	mu       sync.Mutex
	byEvent  map[string]*Target
	byThread map[string][]string // thread root -> prompt event ids, oldest first
	retired  map[string]string   // prompt event id -> thread root
}

// NewRouter creates an empty routing table.
func NewRouter() *Router {
	return &Router{
		byEvent:  make(map[string]*Target),
		byThread: make(map[string][]string),
		retired:  make(map[string]string),
	}
}

// Add registers a live prompt under its message id and thread root.
func (r *Router) Add(threadRoot, eventID string, tgt *Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tgt.EventID = eventID
	r.byEvent[eventID] = tgt
	if threadRoot != "" {
		r.byThread[threadRoot] = append(r.byThread[threadRoot], eventID)
	}
}

// Get returns the live target for a prompt message id.
func (r *Router) Get(eventID string) (*Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tgt, ok := r.byEvent[eventID]
	return tgt, ok
}

// Retire removes a prompt from live routing once it is settled. Subsequent
// actions on it decode as stale.
func (r *Router) Retire(threadRoot, eventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byEvent, eventID)
	r.retired[eventID] = threadRoot
}

// StaleThread reports whether the prompt id was retired, returning the
// thread it belonged to for the acknowledgment.
func (r *Router) StaleThread(eventID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	root, ok := r.retired[eventID]
	return root, ok
}

// KnownThread reports whether the thread root ever carried a prompt.
func (r *Router) KnownThread(threadRoot string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byThread[threadRoot]
	return ok
}

// DecodeReaction maps a reaction on a prompt message onto an action.
// Returns false for unknown or retired prompts and unrecognized keys.
func (r *Router) DecodeReaction(eventID, key string) (Action, bool) {
	r.mu.Lock()
	tgt, ok := r.byEvent[eventID]
	r.mu.Unlock()
	if !ok || tgt.Prompt == nil {
		return Action{}, false
	}

	choice, ok := tgt.Prompt.ChoiceFor(key)
	if !ok {
		return Action{}, false
	}
	if choice.Decision == nil {
		return Action{Target: tgt, AwaitText: true}, true
	}
	return Action{Target: tgt, Decision: *choice.Decision}, true
}

// DecodeMessage maps a free-text message in a session thread onto a reply
// action. A message directly replying to a specific prompt targets that
// prompt; otherwise the most recent live prompt in the thread is used.
func (r *Router) DecodeMessage(threadRoot, inReplyTo, text string) (Action, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inReplyTo != "" {
		if tgt, ok := r.byEvent[inReplyTo]; ok {
			return Action{Target: tgt, Decision: decision.Reply(text)}, true
		}
	}

	ids := r.byThread[threadRoot]
	for i := len(ids) - 1; i >= 0; i-- {
		if tgt, ok := r.byEvent[ids[i]]; ok {
			return Action{Target: tgt, Decision: decision.Reply(text)}, true
		}
	}
	return Action{}, false
}
