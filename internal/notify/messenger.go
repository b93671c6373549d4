// ABOUTME: Interfaces between the gateway core and the notification surface.
// ABOUTME: The gateway depends on these, never on the Matrix client directly.

package notify

import (
	"context"

	"github.com/2389/coven-approve/internal/decision"
)

// SessionInfo is the display identity a thread is opened with.
type SessionInfo struct {
	ID        string
	Label     string
	Color     string
	AgentRole string
}

// Messenger is the outbound notification surface. Implementations post
// prompts into a per-session conversation thread and disable their
// interactive controls after settlement.
type Messenger interface {
	// OpenThread creates the session's conversation handle and returns it.
	OpenThread(ctx context.Context, s SessionInfo) (string, error)

	// PostPrompt posts a prompt into the thread and registers tgt for
	// response decoding. Returns the posted message's external handle.
	PostPrompt(ctx context.Context, threadRoot string, tgt *Target) (string, error)

	// MarkResolved disables a settled prompt's controls and annotates it
	// with the outcome so a stale message cannot be re-actioned.
	MarkResolved(ctx context.Context, eventID, outcome string) error

	// PostNotice posts a plain informational message into a thread.
	PostNotice(ctx context.Context, threadRoot, text string) error
}

// ActionSink receives decoded human actions. The gateway implements it.
type ActionSink interface {
	// ResolveDecision settles the pending entry for the correlation id.
	// Returns false if the entry was already settled or never existed.
	ResolveDecision(correlationID string, d decision.Decision) bool

	// InjectText delivers reply text into the session's terminal.
	InjectText(ctx context.Context, sessionID, pane, text string) error
}
