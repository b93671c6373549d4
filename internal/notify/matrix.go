// ABOUTME: Matrix implementation of the notification surface using mautrix.
// ABOUTME: Posts per-session threads, decodes reactions and thread replies into decisions.

package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// networkTimeout bounds individual Matrix API calls so a slow homeserver
// cannot stall dispatch.
const networkTimeout = 30 * time.Second

// MatrixOptions configures the Matrix messenger.
type MatrixOptions struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	RoomID       string
	AllowedUsers []string
}

// Matrix is the Matrix-backed Messenger. All notifications for one agent
// session post into a single thread in the configured room; operator
// reactions and thread replies flow back through the Router into the sink.
type Matrix struct {
	client       *mautrix.Client
	roomID       id.RoomID
	allowedUsers map[id.UserID]bool
	sink         ActionSink
	routes       *Router
	logger       *slog.Logger
	ready        atomic.Bool
}

// NewMatrix creates a Matrix messenger. It does not connect until Run.
func NewMatrix(opts MatrixOptions, sink ActionSink, logger *slog.Logger) (*Matrix, error) {
	client, err := mautrix.NewClient(opts.Homeserver, id.UserID(opts.UserID), opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	allowed := make(map[id.UserID]bool, len(opts.AllowedUsers))
	for _, u := range opts.AllowedUsers {
		allowed[id.UserID(u)] = true
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Matrix{
		client:       client,
		roomID:       id.RoomID(opts.RoomID),
		allowedUsers: allowed,
		sink:         sink,
		routes:       NewRouter(),
		logger:       logger.With("component", "matrix"),
	}, nil
}

// Ready reports whether the client has completed at least one sync.
func (m *Matrix) Ready() bool { return m.ready.Load() }

// Run connects to the homeserver and blocks until the context is canceled
// or the sync loop fails.
func (m *Matrix) Run(ctx context.Context) error {
	syncer, ok := m.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", m.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, m.handleMessageEvent)
	syncer.OnEventType(event.EventReaction, m.handleReactionEvent)
	syncer.OnSync(func(ctx context.Context, resp *mautrix.RespSync, since string) bool {
		m.ready.Store(true)
		return true
	})

	m.logger.Info("connecting to matrix homeserver",
		"homeserver", m.client.HomeserverURL.String(),
		"user_id", m.client.UserID.String(),
		"room", m.roomID.String(),
	)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- m.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		m.logger.Info("shutting down matrix messenger")
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// OpenThread posts the session header message whose event id becomes the
// session's conversation handle.
func (m *Matrix) OpenThread(ctx context.Context, s SessionInfo) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	body := fmt.Sprintf("● session %s", s.Label)
	formatted := fmt.Sprintf(`<font color=%q><strong>● session %s</strong></font>`,
		s.Color, html.EscapeString(s.Label))
	if s.AgentRole != "" {
		body += fmt.Sprintf(" (%s)", s.AgentRole)
		formatted += fmt.Sprintf(" <em>(%s)</em>", html.EscapeString(s.AgentRole))
	}

	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          body,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
	resp, err := m.client.SendMessageEvent(ctx, m.roomID, event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("opening session thread: %w", err)
	}
	m.logger.Info("session thread opened", "session_id", s.ID, "root", resp.EventID.String())
	return resp.EventID.String(), nil
}

// PostPrompt posts the prompt into the thread, pre-reacts with its choice
// keys so the operator can tap them, and registers the decode target.
func (m *Matrix) PostPrompt(ctx context.Context, threadRoot string, tgt *Target) (string, error) {
	p := tgt.Prompt
	md := fmt.Sprintf("**%s**\n\n%s", p.Title, p.Body)

	evtID, err := m.sendThreadMessage(ctx, threadRoot, md)
	if err != nil {
		return "", fmt.Errorf("posting prompt: %w", err)
	}

	tgt.ThreadRoot = threadRoot
	m.routes.Add(threadRoot, evtID, tgt)

	// Pre-reacting is best effort; the prompt text lists the choices too.
	for _, c := range p.Choices {
		rctx, cancel := context.WithTimeout(ctx, networkTimeout)
		if _, err := m.client.SendReaction(rctx, m.roomID, id.EventID(evtID), c.Key); err != nil {
			m.logger.Debug("failed to pre-react", "event_id", evtID, "key", c.Key, "error", err)
		}
		cancel()
	}
	return evtID, nil
}

// MarkResolved edits a settled prompt to show its outcome and retires it
// from response routing.
func (m *Matrix) MarkResolved(ctx context.Context, eventID, outcome string) error {
	tgt, ok := m.routes.Get(eventID)
	if !ok {
		// Already retired by a racing resolution.
		return nil
	}
	m.routes.Retire(tgt.ThreadRoot, eventID)

	p := tgt.Prompt
	md := fmt.Sprintf("**%s**\n\n%s\n\n— **%s**", p.Title, p.Body, outcome)
	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          md,
		Format:        event.FormatHTML,
		FormattedBody: RenderHTML(md),
	}
	content.SetEdit(id.EventID(eventID))

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := m.client.SendMessageEvent(ctx, m.roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("editing resolved prompt: %w", err)
	}
	return nil
}

// PostNotice posts a plain informational message into a thread.
func (m *Matrix) PostNotice(ctx context.Context, threadRoot, text string) error {
	_, err := m.sendThreadMessage(ctx, threadRoot, text)
	return err
}

// sendThreadMessage posts markdown into the thread rooted at threadRoot,
// or directly to the room when threadRoot is empty.
func (m *Matrix) sendThreadMessage(ctx context.Context, threadRoot, md string) (string, error) {
	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          md,
		Format:        event.FormatHTML,
		FormattedBody: RenderHTML(md),
	}
	if threadRoot != "" {
		content.RelatesTo = &event.RelatesTo{
			Type:          event.RelThread,
			EventID:       id.EventID(threadRoot),
			IsFallingBack: true,
			InReplyTo:     &event.InReplyTo{EventID: id.EventID(threadRoot)},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	resp, err := m.client.SendMessageEvent(ctx, m.roomID, event.EventMessage, content)
	if err != nil {
		return "", err
	}
	return resp.EventID.String(), nil
}

// handleReactionEvent decodes an operator reaction into a decision.
func (m *Matrix) handleReactionEvent(ctx context.Context, evt *event.Event) {
	if !m.fromOperator(evt) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok {
		return
	}

	targetID := content.RelatesTo.EventID.String()
	key := content.RelatesTo.Key

	act, ok := m.routes.DecodeReaction(targetID, key)
	if !ok {
		if root, stale := m.routes.StaleThread(targetID); stale {
			m.acknowledge(root, "That request was already resolved.")
		}
		return
	}
	m.deliver(act)
}

// handleMessageEvent decodes a free-text thread reply into a decision.
func (m *Matrix) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if !m.fromOperator(evt) {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	rel := content.RelatesTo
	root := rel.GetThreadParent().String()
	if root == "" {
		return
	}
	var inReplyTo string
	if rel != nil && !rel.IsFallingBack {
		inReplyTo = rel.GetReplyTo().String()
	}

	act, ok := m.routes.DecodeMessage(root, inReplyTo, content.Body)
	if !ok {
		if m.routes.KnownThread(root) {
			m.acknowledge(root, "Nothing is waiting for a reply here.")
		}
		return
	}
	m.deliver(act)
}

// deliver hands a decoded action to the sink and acknowledges the operator.
func (m *Matrix) deliver(act Action) {
	tgt := act.Target

	if act.AwaitText {
		m.acknowledge(tgt.ThreadRoot, "Reply with a message in this thread.")
		return
	}

	switch {
	case tgt.CorrelationID != "":
		if !m.sink.ResolveDecision(tgt.CorrelationID, act.Decision) {
			m.acknowledge(tgt.ThreadRoot, "That request was already resolved.")
		}
	case tgt.Pane != "":
		ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
		defer cancel()
		if err := m.sink.InjectText(ctx, tgt.SessionID, tgt.Pane, act.Decision.Text); err != nil {
			m.logger.Error("reply injection failed",
				"session_id", tgt.SessionID,
				"pane", tgt.Pane,
				"error", err,
			)
			m.acknowledge(tgt.ThreadRoot, "Could not reach the terminal session.")
			return
		}
		// The reply slot is one-shot: the next turn's completion prompt
		// opens a fresh one.
		m.routes.Retire(tgt.ThreadRoot, tgt.EventID)
		m.acknowledge(tgt.ThreadRoot, fmt.Sprintf("Sent to terminal: %s", Truncate(act.Decision.Text, 200)))
	default:
		m.acknowledge(tgt.ThreadRoot, "No terminal is attached to this session.")
	}
}

// fromOperator filters out our own events, foreign rooms, and (when an
// allowlist is configured) unknown senders.
func (m *Matrix) fromOperator(evt *event.Event) bool {
	if evt.Sender == m.client.UserID {
		return false
	}
	if evt.RoomID != m.roomID {
		return false
	}
	if len(m.allowedUsers) > 0 && !m.allowedUsers[evt.Sender] {
		m.logger.Debug("ignoring event from non-allowed user", "sender", evt.Sender.String())
		return false
	}
	return true
}

// acknowledge posts a short notice back to the operator, best effort.
func (m *Matrix) acknowledge(threadRoot, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if err := m.PostNotice(ctx, threadRoot, text); err != nil {
		m.logger.Debug("failed to post acknowledgment", "error", err)
	}
}
