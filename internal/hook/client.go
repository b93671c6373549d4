// ABOUTME: HTTP client the hook binary uses to reach the approval server.
// ABOUTME: Long-polls /approve and fires /notify-stop.

package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ApproveCall carries one approval request to the server.
type ApproveCall struct {
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

// ApproveResult is the server's verdict.
type ApproveResult struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
	Text     string `json:"text,omitempty"`
}

// StopCall carries one turn-completion notification.
type StopCall struct {
	SessionID     string `json:"session_id"`
	LastUtterance string `json:"last_utterance,omitempty"`
	TmuxPane      string `json:"tmux_pane,omitempty"`
	AgentRole     string `json:"agent_role,omitempty"`
}

// Client talks to a running coven-approve server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL. The HTTP timeout
// must exceed the longest approval wait, so it is generous.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Minute},
	}
}

// Approve submits a request and blocks until the server settles it.
func (c *Client) Approve(ctx context.Context, call *ApproveCall) (*ApproveResult, error) {
	var result ApproveResult
	if err := c.post(ctx, "/approve", call, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// NotifyStop reports a completed turn. The server responds before posting
// the notification.
func (c *Client) NotifyStop(ctx context.Context, call *StopCall) error {
	return c.post(ctx, "/notify-stop", call, nil)
}

// Healthy reports whether the server is reachable and answering.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
