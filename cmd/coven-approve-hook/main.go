// ABOUTME: Agent hook binary wired into PreToolUse and Stop hooks
// ABOUTME: Escalates risky tool calls to the coven-approve server

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/2389/coven-approve/internal/hook"
)

// defaultServerURL matches the server's default http_addr.
const defaultServerURL = "http://127.0.0.1:19280"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: coven-approve-hook <pretool|stop>")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "pretool":
		err = runPreTool()
	case "stop":
		err = runStop()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serverURL() string {
	if url := os.Getenv("COVEN_APPROVE_URL"); url != "" {
		return url
	}
	return defaultServerURL
}

// runPreTool judges one tool call. Exiting without output defers to the
// agent's own permission flow; that is the fallback whenever the approval
// server cannot help.
func runPreTool() error {
	evt, err := hook.ParseEvent(os.Stdin)
	if err != nil {
		return err
	}

	call := &hook.ApproveCall{
		SessionID: evt.SessionID,
		ToolName:  evt.ToolName,
		ToolInput: evt.ToolInput,
		TmuxPane:  os.Getenv("TMUX_PANE"),
		AgentRole: os.Getenv("COVEN_AGENT_ROLE"),
	}

	switch evt.ToolName {
	case "Bash":
		if !hook.NeedsReview(evt.BashCommand()) {
			return nil
		}
	case "AskUserQuestion":
		call.Question, call.Options = evt.Question()
	}

	client := hook.NewClient(serverURL())
	ctx := context.Background()
	if !client.Healthy(ctx) {
		// Server down: stay silent rather than blocking the agent.
		return nil
	}

	result, err := client.Approve(ctx, call)
	if err != nil {
		fmt.Fprintf(os.Stderr, "approval server error, deferring: %v\n", err)
		return nil
	}

	switch result.Decision {
	case "allow":
		return hook.WritePermission(os.Stdout, "allow", "")
	case "deny":
		reason := result.Reason
		if reason == "" {
			reason = "denied by operator"
		}
		return hook.WritePermission(os.Stdout, "deny", reason)
	case "reply":
		// Answers come back as a denial carrying the operator's words so
		// the agent reads them and adjusts course.
		return hook.WritePermission(os.Stdout, "deny", "The user answered: "+result.Text)
	default:
		// no_answer: defer to the agent's own flow.
		return nil
	}
}

// runStop reports turn completion. Failures are swallowed; a notification
// must never break the agent's stop sequence.
func runStop() error {
	evt, err := hook.ParseEvent(os.Stdin)
	if err != nil {
		return err
	}
	if evt.StopHookActive {
		// A previous stop hook already fired this turn.
		return nil
	}

	call := &hook.StopCall{
		SessionID: evt.SessionID,
		TmuxPane:  os.Getenv("TMUX_PANE"),
		AgentRole: os.Getenv("COVEN_AGENT_ROLE"),
	}
	if evt.TranscriptPath != "" {
		call.LastUtterance = hook.LastAssistantMessage(evt.TranscriptPath)
	}

	client := hook.NewClient(serverURL())
	ctx := context.Background()
	if !client.Healthy(ctx) {
		return nil
	}
	if err := client.NotifyStop(ctx, call); err != nil {
		fmt.Fprintf(os.Stderr, "stop notification failed: %v\n", err)
	}
	return nil
}
