// ABOUTME: Agent hook payload parsing and response encoding.
// ABOUTME: Reads hook JSON from stdin and extracts transcript context.

package hook

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Event is the JSON payload an agent delivers to its hook processes on
// stdin. PreToolUse events carry ToolName and ToolInput; Stop events carry
// the transcript path for extracting the agent's final message.
type Event struct {
	SessionID      string          `json:"session_id"`
	TranscriptPath string          `json:"transcript_path,omitempty"`
	ToolName       string          `json:"tool_name,omitempty"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
	StopHookActive bool            `json:"stop_hook_active,omitempty"`
}

// ParseEvent decodes a hook event from r.
func ParseEvent(r io.Reader) (*Event, error) {
	var evt Event
	if err := json.NewDecoder(r).Decode(&evt); err != nil {
		return nil, fmt.Errorf("decoding hook event: %w", err)
	}
	if evt.SessionID == "" {
		return nil, fmt.Errorf("hook event missing session_id")
	}
	return &evt, nil
}

// BashCommand extracts the command string from a Bash tool input, or ""
// when the input has no command field.
func (e *Event) BashCommand() string {
	var input struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(e.ToolInput, &input); err != nil {
		return ""
	}
	return input.Command
}

// Question extracts the question text and option labels from an
// AskUserQuestion tool input. Both the flat shape and the nested
// questions-array shape are accepted; only the first question of a batch
// is surfaced.
func (e *Event) Question() (string, []string) {
	var flat struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
	if err := json.Unmarshal(e.ToolInput, &flat); err == nil && flat.Question != "" {
		return flat.Question, flat.Options
	}

	var nested struct {
		Questions []struct {
			Question string `json:"question"`
			Options  []struct {
				Label string `json:"label"`
			} `json:"options"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(e.ToolInput, &nested); err != nil || len(nested.Questions) == 0 {
		return "", nil
	}
	q := nested.Questions[0]
	labels := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		labels = append(labels, o.Label)
	}
	return q.Question, labels
}

// permissionOutput is the hook protocol's pre-tool response envelope.
type permissionOutput struct {
	HookSpecificOutput struct {
		HookEventName            string `json:"hookEventName"`
		PermissionDecision       string `json:"permissionDecision"`
		PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
	} `json:"hookSpecificOutput"`
}

// WritePermission emits the pre-tool hook response on w. decision is
// "allow", "deny", or "ask".
func WritePermission(w io.Writer, decision, reason string) error {
	var out permissionOutput
	out.HookSpecificOutput.HookEventName = "PreToolUse"
	out.HookSpecificOutput.PermissionDecision = decision
	out.HookSpecificOutput.PermissionDecisionReason = reason
	return json.NewEncoder(w).Encode(out)
}

// transcriptLine is one JSONL record of an agent transcript. Only
// assistant text blocks are of interest.
type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// LastAssistantMessage scans a JSONL transcript and returns the text of
// the final assistant message, or "" when none is found. Unparseable lines
// are skipped; transcripts routinely mix record shapes.
func LastAssistantMessage(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Type != "assistant" {
			continue
		}
		var parts []string
		for _, block := range line.Message.Content {
			if block.Type == "text" && block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
		if len(parts) > 0 {
			last = strings.Join(parts, "\n")
		}
	}
	return last
}
