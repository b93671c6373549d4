// ABOUTME: Gateway orchestrator coordinating the approval flow end to end.
// ABOUTME: Accepts decision requests, suspends callers, and settles them from chat or timeout.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/coven-approve/internal/config"
	"github.com/2389/coven-approve/internal/decision"
	"github.com/2389/coven-approve/internal/inject"
	"github.com/2389/coven-approve/internal/notify"
	"github.com/2389/coven-approve/internal/pending"
	"github.com/2389/coven-approve/internal/session"
	"github.com/2389/coven-approve/internal/store"
)

// Gateway wires the session registry, pending table, notification surface,
// and terminal injector into the approval coordination engine.
type Gateway struct {
	cfg       *config.Config
	sessions  *session.Registry
	pending   *pending.Table
	messenger notify.Messenger
	injector  inject.Injector
	audit     *store.AuditLog
	logger    *slog.Logger

	// matrix is the concrete messenger when running against a homeserver;
	// nil when a fake messenger is wired in tests.
	matrix *notify.Matrix

	httpServer *http.Server
}

// New creates a fully wired Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	g := newGateway(cfg, logger)

	matrix, err := notify.NewMatrix(notify.MatrixOptions{
		Homeserver:   cfg.Matrix.Homeserver,
		UserID:       cfg.Matrix.UserID,
		AccessToken:  cfg.Matrix.AccessToken,
		RoomID:       cfg.Matrix.RoomID,
		AllowedUsers: cfg.Matrix.AllowedUsers,
	}, g, logger)
	if err != nil {
		return nil, fmt.Errorf("creating matrix messenger: %w", err)
	}
	g.matrix = matrix
	g.messenger = matrix
	g.injector = inject.NewTmux(logger)

	if cfg.Database.Path != "" {
		audit, err := store.OpenAuditLog(cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		g.audit = audit
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/approve", g.handleApprove)
	mux.HandleFunc("/notify-stop", g.handleNotifyStop)
	mux.HandleFunc("/health", g.handleHealth)
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// newGateway builds the core without transport or integrations. Tests wire
// fake messengers and injectors onto the result.
func newGateway(cfg *config.Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	palette := session.DefaultPalette
	if n := cfg.Sessions.PaletteSize; n > 0 && n < len(palette) {
		palette = palette[:n]
	}
	return &Gateway{
		cfg:      cfg,
		sessions: session.NewRegistry(palette, logger),
		pending:  pending.NewTable(logger),
		logger:   logger.With("component", "gateway"),
	}
}

// Run starts the HTTP server and the Matrix sync loop, blocking until the
// context is canceled or a component fails.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	go func() {
		if err := g.matrix.Run(ctx); err != nil {
			errCh <- fmt.Errorf("matrix messenger: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("component failed", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		g.logger.Error("HTTP shutdown", "error", err)
	}
	if err := g.audit.Close(); err != nil {
		g.logger.Error("audit close", "error", err)
	}
	return serverErr
}

// Submit accepts one decision request and blocks the calling goroutine
// until a human settles it or the deadline fires. Only the issuing caller
// suspends; concurrent submissions proceed independently.
func (g *Gateway) Submit(ctx context.Context, req *decision.Request) (decision.Decision, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return decision.Decision{}, err
	}

	if g.autoAllowed(req.Category) {
		d := decision.Allow()
		g.logger.Info("auto-allowed",
			"request_id", req.ID,
			"session_id", req.SessionID,
			"category", req.Category.String(),
		)
		g.record(req, d, time.Since(start))
		return d, nil
	}

	sc := g.sessions.ResolveOrCreate(req.SessionID)
	sc.SetAgentRole(req.AgentRole)

	if sc.ApproveAllEnabled() {
		d := decision.Allow()
		g.logger.Info("approve-all short-circuit", "request_id", req.ID, "session_id", req.SessionID)
		g.record(req, d, time.Since(start))
		return d, nil
	}

	// Register and dispatch under the session lock so notifications reach
	// the thread in registration order. Delivery failures are logged and
	// the entry left to resolve by its timeout; the caller never sees them.
	var entry *pending.Entry
	var regErr error
	if err := sc.Dispatch(g.threadOpener(ctx, sc), func(root string) {
		entry, regErr = g.pending.Register(req, req.Category.Default())
		if regErr != nil || root == "" {
			return
		}
		tgt := &notify.Target{
			CorrelationID: req.ID,
			SessionID:     req.SessionID,
			Prompt:        g.renderPrompt(req),
		}
		evtID, err := g.messenger.PostPrompt(ctx, root, tgt)
		if err != nil {
			g.logger.Error("notification delivery failed, awaiting timeout",
				"request_id", req.ID,
				"error", err,
			)
			return
		}
		entry.SetNotice(evtID)
	}); err != nil {
		g.logger.Error("opening session thread failed, awaiting timeout",
			"session_id", req.SessionID,
			"error", err,
		)
	}
	if regErr != nil {
		return decision.Decision{}, regErr
	}

	select {
	case <-entry.Done():
	case <-ctx.Done():
		// Caller gave up; settle with the default so the entry is not
		// left dangling. The race loser is a no-op.
		g.pending.Resolve(req.ID, req.Category.Default())
		<-entry.Done()
	}
	d := entry.Decision()

	if d.Kind == decision.KindAllowAll {
		g.sessions.SetApproveAll(req.SessionID)
	}

	if noticeID := entry.Notice(); noticeID != "" {
		go g.markResolved(noticeID, d)
	}

	g.logger.Info("request settled",
		"request_id", req.ID,
		"session_id", req.SessionID,
		"decision", d.Kind.String(),
		"elapsed", time.Since(start),
	)
	g.record(req, d, time.Since(start))
	return d, nil
}

// TurnEnd emits the turn-completion notification for a session. It never
// blocks on a human response; when a tmux pane is available the prompt's
// reply actions deliver into the terminal instead of a suspended caller.
func (g *Gateway) TurnEnd(ctx context.Context, sessionID, lastUtterance, pane string) {
	sc := g.sessions.ResolveOrCreate(sessionID)
	p := notify.CompletionPrompt(lastUtterance, pane != "")

	if err := sc.Dispatch(g.threadOpener(ctx, sc), func(root string) {
		if root == "" {
			return
		}
		if len(p.Choices) == 0 {
			md := fmt.Sprintf("**%s**\n\n%s", p.Title, p.Body)
			if err := g.messenger.PostNotice(ctx, root, md); err != nil {
				g.logger.Error("completion notice failed", "session_id", sessionID, "error", err)
			}
			return
		}
		tgt := &notify.Target{SessionID: sessionID, Pane: pane, Prompt: p}
		if _, err := g.messenger.PostPrompt(ctx, root, tgt); err != nil {
			g.logger.Error("completion prompt failed", "session_id", sessionID, "error", err)
		}
	}); err != nil {
		g.logger.Error("opening session thread failed", "session_id", sessionID, "error", err)
	}
}

// ResolveDecision settles the pending entry for a decoded human action.
// Implements notify.ActionSink.
func (g *Gateway) ResolveDecision(correlationID string, d decision.Decision) bool {
	_, ok := g.pending.Resolve(correlationID, d)
	if !ok {
		g.logger.Debug("stale action ignored", "request_id", correlationID)
	}
	return ok
}

// InjectText delivers reply text into the session's terminal.
// Implements notify.ActionSink.
func (g *Gateway) InjectText(ctx context.Context, sessionID, pane, text string) error {
	g.logger.Info("injecting reply", "session_id", sessionID, "pane", pane)
	return g.injector.Inject(ctx, pane, text)
}

func (g *Gateway) autoAllowed(cat decision.Category) bool {
	for _, c := range g.cfg.Approvals.AutoAllowCategories {
		if c == cat {
			return true
		}
	}
	return false
}

func (g *Gateway) renderPrompt(req *decision.Request) *notify.Prompt {
	if req.Category == decision.CategoryQuestion {
		return notify.QuestionPrompt(req)
	}
	return notify.ToolPrompt(req)
}

func (g *Gateway) threadOpener(ctx context.Context, sc *session.Context) func() (string, error) {
	return func() (string, error) {
		return g.messenger.OpenThread(ctx, notify.SessionInfo{
			ID:        sc.ID,
			Label:     sc.Label,
			Color:     sc.Color,
			AgentRole: sc.AgentRole(),
		})
	}
}

// markResolved disables a settled prompt's controls, detached from the
// caller's request lifetime.
func (g *Gateway) markResolved(noticeID string, d decision.Decision) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := g.messenger.MarkResolved(ctx, noticeID, outcomeLabel(d)); err != nil {
		g.logger.Error("failed to mark prompt resolved", "notice_id", noticeID, "error", err)
	}
}

// record appends to the audit log with its own timeout context so a slow
// disk never delays the caller's response.
func (g *Gateway) record(req *decision.Request, d decision.Decision, latency time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := g.audit.Record(ctx, &store.AuditEntry{
		RequestID: req.ID,
		SessionID: req.SessionID,
		Category:  req.Category.String(),
		ToolName:  req.ToolName,
		Outcome:   d.Kind.String(),
		Detail:    d.Text,
		Latency:   latency,
	})
	if err != nil {
		g.logger.Error("failed to record decision", "request_id", req.ID, "error", err)
	}
}

func outcomeLabel(d decision.Decision) string {
	switch d.Kind {
	case decision.KindAllow:
		return "Allowed"
	case decision.KindAllowAll:
		return "Allowed for the rest of the session"
	case decision.KindDeny:
		if d.Text != "" {
			return "Denied: " + d.Text
		}
		return "Denied"
	case decision.KindReply:
		return "Replied: " + notify.Truncate(d.Text, 200)
	case decision.KindNoAnswer:
		return "No answer"
	default:
		return d.Kind.String()
	}
}
