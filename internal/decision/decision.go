// ABOUTME: Decision taxonomy for approval requests: categories, outcomes, and validation.
// ABOUTME: Every request entering the gateway is normalized into these types first.

package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest indicates a malformed request that was rejected before
// any gateway state was touched. Callers should fall back to their local
// default behavior.
var ErrInvalidRequest = errors.New("invalid request")

// ErrUnknownCategory indicates a tool name that maps to no known category.
var ErrUnknownCategory = errors.New("unknown category")

// Kind is the outcome of an approval request.
type Kind int

const (
	// KindAllow permits the action.
	KindAllow Kind = iota
	// KindDeny blocks the action, optionally with a reason.
	KindDeny
	// KindReply redirects the agent with free text instead of a plain
	// allow/deny. For questions this carries the selected answer.
	KindReply
	// KindAllowAll permits the action and all subsequent actions for the
	// same session. The caller observes an allow.
	KindAllowAll
	// KindNoAnswer is the neutral timeout outcome for questions. Unlike
	// KindDeny it tells the agent nobody answered, not that the answer
	// was no.
	KindNoAnswer
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAllow:
		return "allow"
	case KindDeny:
		return "deny"
	case KindReply:
		return "reply"
	case KindAllowAll:
		return "allow_all"
	case KindNoAnswer:
		return "no_answer"
	default:
		return "unknown"
	}
}

// Decision is a settled outcome. Text carries the reply text for KindReply
// or the reason for KindDeny.
type Decision struct {
	Kind Kind
	Text string
}

// Allow returns an allow decision.
func Allow() Decision { return Decision{Kind: KindAllow} }

// Deny returns a deny decision with the given reason.
func Deny(reason string) Decision { return Decision{Kind: KindDeny, Text: reason} }

// Reply returns a free-text reply decision.
func Reply(text string) Decision { return Decision{Kind: KindReply, Text: text} }

// AllowAll returns a session-scoped allow-all decision.
func AllowAll() Decision { return Decision{Kind: KindAllowAll} }

// NoAnswer returns the neutral no-answer decision.
func NoAnswer() Decision { return Decision{Kind: KindNoAnswer} }

// Category classifies what kind of action a request asks about. The set is
// closed: unknown tool names are rejected at the validation boundary rather
// than falling through to a default.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryBash
	CategoryWrite
	CategoryEdit
	CategoryRead
	CategoryFetch
	CategoryTask
	CategoryQuestion
)

// String returns the lowercase category name used in config and logs.
func (c Category) String() string {
	switch c {
	case CategoryBash:
		return "bash"
	case CategoryWrite:
		return "write"
	case CategoryEdit:
		return "edit"
	case CategoryRead:
		return "read"
	case CategoryFetch:
		return "fetch"
	case CategoryTask:
		return "task"
	case CategoryQuestion:
		return "question"
	default:
		return "unknown"
	}
}

// ParseCategory maps a tool name (as reported by the hook) or a lowercase
// category name (as written in config) to a Category.
func ParseCategory(name string) (Category, error) {
	switch name {
	case "Bash", "bash":
		return CategoryBash, nil
	case "Write", "NotebookEdit", "write":
		return CategoryWrite, nil
	case "Edit", "MultiEdit", "edit":
		return CategoryEdit, nil
	case "Read", "Glob", "Grep", "read":
		return CategoryRead, nil
	case "WebFetch", "WebSearch", "fetch":
		return CategoryFetch, nil
	case "Task", "task":
		return CategoryTask, nil
	case "AskUserQuestion", "question":
		return CategoryQuestion, nil
	default:
		return CategoryUnknown, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
}

// Default returns the decision applied when a request for this category
// times out: a neutral no-answer for questions, a deny for everything else.
func (c Category) Default() Decision {
	if c == CategoryQuestion {
		return NoAnswer()
	}
	return Deny("timed out waiting for approval")
}

// Request is one permission decision an agent needs. It is created by the
// gateway on receipt and destroyed when the matching pending entry settles.
type Request struct {
	// ID is the correlation id. At most one live pending entry exists per ID.
	ID        string
	SessionID string
	Category  Category

	// ToolName and Input describe a tool-call request.
	ToolName string
	Input    json.RawMessage

	// Question and Options describe a question request.
	Question string
	Options  []string

	// TmuxPane is the reply-injection target, if the hook runs under tmux.
	TmuxPane string

	// AgentRole is an optional display label for the active agent role.
	AgentRole string

	CreatedAt time.Time
	Deadline  time.Time
}

// Validate checks the request shape. It must be called before the request
// touches any session or pending state; a non-nil error wraps
// ErrInvalidRequest.
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: request id is required", ErrInvalidRequest)
	}
	if r.SessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	if r.Category == CategoryUnknown {
		return fmt.Errorf("%w: category is unknown", ErrInvalidRequest)
	}
	if r.Category == CategoryQuestion && r.Question == "" {
		return fmt.Errorf("%w: question text is required", ErrInvalidRequest)
	}
	if !r.Deadline.After(r.CreatedAt) {
		return fmt.Errorf("%w: deadline must be after creation time", ErrInvalidRequest)
	}
	return nil
}
