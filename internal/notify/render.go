// ABOUTME: Renders approval requests and turn-completion events into human-actionable prompts.
// ABOUTME: Each category maps to a fixed, bounded choice set selected by emoji reaction.

package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-approve/internal/decision"
)

// Reaction keys for the fixed choice sets.
const (
	KeyAllow    = "✅"
	KeyDeny     = "❌"
	KeyReply    = "💬"
	KeyAllowAll = "♾️"
)

// optionKeys are the reaction keys for multiple-choice question options.
var optionKeys = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣"}

// Choice is one interactive action on a prompt. A nil Decision marks the
// free-text reply choice: selecting it settles nothing by itself, the
// operator's next thread message carries the text.
type Choice struct {
	Key      string
	Label    string
	Decision *decision.Decision
}

// Prompt is a rendered notification: a summary plus a bounded choice set.
// An empty choice set means the prompt is informational only.
type Prompt struct {
	Title   string
	Body    string // markdown
	Choices []Choice
}

// ChoiceFor returns the choice matching a reaction key, if any.
func (p *Prompt) ChoiceFor(key string) (Choice, bool) {
	for _, c := range p.Choices {
		if c.Key == key {
			return c, true
		}
	}
	return Choice{}, false
}

// ToolPrompt renders a tool-call request with the
// Allow / Deny / Reply / Allow-All choice set.
func ToolPrompt(req *decision.Request) *Prompt {
	allow := decision.Allow()
	deny := decision.Deny("denied from chat")
	allowAll := decision.AllowAll()
	return &Prompt{
		Title: fmt.Sprintf("🔧 %s", req.ToolName),
		Body:  FormatToolInput(req.ToolName, req.Input),
		Choices: []Choice{
			{Key: KeyAllow, Label: "Allow", Decision: &allow},
			{Key: KeyDeny, Label: "Deny", Decision: &deny},
			{Key: KeyReply, Label: "Reply", Decision: nil},
			{Key: KeyAllowAll, Label: "Allow all", Decision: &allowAll},
		},
	}
}

// QuestionPrompt renders a question request with one choice per option plus
// a free-text "Other" fallback.
func QuestionPrompt(req *decision.Request) *Prompt {
	var b strings.Builder
	b.WriteString(req.Question)

	choices := make([]Choice, 0, len(req.Options)+1)
	for i, opt := range req.Options {
		if i >= len(optionKeys) {
			break
		}
		d := decision.Reply(opt)
		choices = append(choices, Choice{Key: optionKeys[i], Label: opt, Decision: &d})
		fmt.Fprintf(&b, "\n%s %s", optionKeys[i], opt)
	}
	choices = append(choices, Choice{Key: KeyReply, Label: "Other", Decision: nil})
	b.WriteString("\n\n_React to answer, or reply in this thread._")

	return &Prompt{
		Title:   "❓ Question",
		Body:    b.String(),
		Choices: choices,
	}
}

// CompletionPrompt renders a turn-completion notification. The shape is
// three-way: an interrogative last utterance gets Yes/No/Reply, a
// non-interrogative one gets Reply when a reply channel exists, and plain
// information otherwise.
func CompletionPrompt(lastUtterance string, replyable bool) *Prompt {
	body := Truncate(strings.TrimSpace(lastUtterance), 1500)
	if body == "" {
		body = "Turn complete."
	}

	switch {
	case IsInterrogative(lastUtterance):
		yes := decision.Reply("Yes")
		no := decision.Reply("No")
		return &Prompt{
			Title: "⏸️ Waiting for input",
			Body:  body,
			Choices: []Choice{
				{Key: KeyAllow, Label: "Yes", Decision: &yes},
				{Key: KeyDeny, Label: "No", Decision: &no},
				{Key: KeyReply, Label: "Reply", Decision: nil},
			},
		}
	case replyable:
		return &Prompt{
			Title: "✔️ Turn complete",
			Body:  body + "\n\n_Reply in this thread to continue._",
			Choices: []Choice{
				{Key: KeyReply, Label: "Reply", Decision: nil},
			},
		}
	default:
		return &Prompt{
			Title: "✔️ Turn complete",
			Body:  body,
		}
	}
}

// IsInterrogative reports whether the utterance ends with a question mark,
// ASCII or full-width. This single rule drives the completion prompt shape.
func IsInterrogative(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasSuffix(s, "?") || strings.HasSuffix(s, "？")
}

// FormatToolInput formats tool input for readable chat display, matching
// the per-tool shapes the hook callers expect.
func FormatToolInput(toolName string, input json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return fmt.Sprintf("```\n%s\n```", Truncate(string(input), 1500))
	}

	switch toolName {
	case "Bash":
		if cmd, ok := stringField(fields, "command"); ok {
			return fmt.Sprintf("```bash\n%s\n```", Truncate(cmd, 1500))
		}
	case "Write":
		if path, ok := stringField(fields, "file_path"); ok {
			content, _ := stringField(fields, "content")
			return fmt.Sprintf("**File:** `%s`\n```\n%s\n```", path, Truncate(content, 800))
		}
	case "Edit":
		if path, ok := stringField(fields, "file_path"); ok {
			oldStr, _ := stringField(fields, "old_string")
			newStr, _ := stringField(fields, "new_string")
			return fmt.Sprintf("**File:** `%s`\n**Old:**\n```\n%s\n```\n**New:**\n```\n%s\n```",
				path, Truncate(oldStr, 400), Truncate(newStr, 400))
		}
	case "Read":
		if path, ok := stringField(fields, "file_path"); ok {
			return fmt.Sprintf("**File:** `%s`", path)
		}
	}

	pretty, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Sprintf("```\n%s\n```", Truncate(string(input), 1500))
	}
	return fmt.Sprintf("```json\n%s\n```", Truncate(string(pretty), 1500))
}

// Truncate shortens s to at most max runes, marking the cut.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n… (truncated)"
}

// RenderHTML converts prompt markdown to HTML for the formatted message
// body. On render failure the raw markdown is returned unformatted.
func RenderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return markdown
	}
	return strings.TrimSpace(buf.String())
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
