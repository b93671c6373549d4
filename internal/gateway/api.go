// ABOUTME: HTTP API handlers for the approval gateway.
// ABOUTME: Translates hook client JSON into decision requests and back.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-approve/internal/decision"
	"github.com/2389/coven-approve/internal/pending"
)

// approveRequest is the wire shape of a POST /approve call.
type approveRequest struct {
	RequestID      string          `json:"request_id,omitempty"`
	SessionID      string          `json:"session_id"`
	ToolName       string          `json:"tool_name"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
	Question       string          `json:"question,omitempty"`
	Options        []string        `json:"options,omitempty"`
	TmuxPane       string          `json:"tmux_pane,omitempty"`
	AgentRole      string          `json:"agent_role,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
}

// approveResponse is the wire shape of a POST /approve result.
type approveResponse struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
	Text     string `json:"text,omitempty"`
}

// stopRequest is the wire shape of a POST /notify-stop call.
type stopRequest struct {
	SessionID     string `json:"session_id"`
	LastUtterance string `json:"last_utterance,omitempty"`
	TmuxPane      string `json:"tmux_pane,omitempty"`
	AgentRole     string `json:"agent_role,omitempty"`
}

// handleApprove suspends the hook caller until the request settles.
func (g *Gateway) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body approveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	cat, err := decision.ParseCategory(body.ToolName)
	if err != nil {
		// Unknown tools never pass through unreviewed.
		g.logger.Warn("rejecting unknown tool", "tool_name", body.ToolName, "session_id", body.SessionID)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := &decision.Request{
		ID:        body.RequestID,
		SessionID: body.SessionID,
		Category:  cat,
		ToolName:  body.ToolName,
		Input:     body.ToolInput,
		Question:  body.Question,
		Options:   body.Options,
		TmuxPane:  body.TmuxPane,
		AgentRole: body.AgentRole,
		CreatedAt: time.Now(),
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Deadline = req.CreatedAt.Add(g.timeoutFor(body.TimeoutSeconds))

	d, err := g.Submit(r.Context(), req)
	switch {
	case errors.Is(err, pending.ErrDuplicateID):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, decision.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		g.logger.Error("approve failed", "request_id", req.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, g.logger, encodeDecision(d))
}

// handleNotifyStop records a turn-completion notification. The response is
// immediate; the notification posts asynchronously.
func (g *Gateway) handleNotifyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body stopRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	sc := g.sessions.ResolveOrCreate(body.SessionID)
	sc.SetAgentRole(body.AgentRole)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		g.TurnEnd(ctx, body.SessionID, body.LastUtterance, body.TmuxPane)
	}()

	w.WriteHeader(http.StatusAccepted)
}

// handleHealth reports process liveness and Matrix sync readiness.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := g.matrix != nil && g.matrix.Ready()
	writeJSON(w, g.logger, map[string]any{
		"status":       "ok",
		"matrix_ready": ready,
	})
}

// timeoutFor converts a caller-supplied timeout to a clamped duration.
func (g *Gateway) timeoutFor(seconds int) time.Duration {
	if seconds <= 0 {
		return g.cfg.Approvals.DefaultTimeout
	}
	d := time.Duration(seconds) * time.Second
	if max := g.cfg.Approvals.MaxTimeout; d > max {
		return max
	}
	return d
}

// encodeDecision maps an internal decision onto the hook protocol. An
// approve-all settles this request as a plain allow; the session flag is
// what makes future requests skip review.
func encodeDecision(d decision.Decision) approveResponse {
	switch d.Kind {
	case decision.KindAllow, decision.KindAllowAll:
		return approveResponse{Decision: "allow"}
	case decision.KindDeny:
		return approveResponse{Decision: "deny", Reason: d.Text}
	case decision.KindReply:
		return approveResponse{Decision: "reply", Text: d.Text}
	case decision.KindNoAnswer:
		return approveResponse{Decision: "no_answer"}
	default:
		return approveResponse{Decision: "deny", Reason: "unrecognized decision"}
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
