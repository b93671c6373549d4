// ABOUTME: Best-effort delivery of reply text into a tmux pane's terminal.
// ABOUTME: Sends the literal text then an activation Enter keystroke.

package inject

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// activationDelay separates the literal text from the Enter keystroke so
// the receiving program registers them as two inputs.
const activationDelay = 50 * time.Millisecond

// Injector delivers literal text into a named terminal session. Delivery
// is best effort: no acknowledgment of execution exists.
type Injector interface {
	Inject(ctx context.Context, pane, text string) error
}

// Tmux injects text via `tmux send-keys`.
type Tmux struct {
	logger *slog.Logger

	// run executes a tmux command; replaceable in tests.
	run func(ctx context.Context, args ...string) error
}

// NewTmux creates a tmux injector using the tmux binary on PATH.
func NewTmux(logger *slog.Logger) *Tmux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tmux{
		logger: logger.With("component", "tmux"),
		run: func(ctx context.Context, args ...string) error {
			cmd := exec.CommandContext(ctx, "tmux", args...)
			if out, err := cmd.CombinedOutput(); err != nil {
				return fmt.Errorf("tmux %v: %w (%s)", args, err, out)
			}
			return nil
		},
	}
}

// Inject sends the text literally to the pane, then Enter to submit it.
func (t *Tmux) Inject(ctx context.Context, pane, text string) error {
	if pane == "" {
		return fmt.Errorf("no pane to inject into")
	}
	if err := t.run(ctx, "send-keys", "-t", pane, "-l", text); err != nil {
		return fmt.Errorf("injecting text: %w", err)
	}
	time.Sleep(activationDelay)
	if err := t.run(ctx, "send-keys", "-t", pane, "Enter"); err != nil {
		return fmt.Errorf("sending activation keystroke: %w", err)
	}
	t.logger.Debug("text injected", "pane", pane, "length", len(text))
	return nil
}
