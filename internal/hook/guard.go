// ABOUTME: Heuristic guard deciding which bash commands need human review.
// ABOUTME: Splits compound commands and matches destructive patterns.

package hook

import (
	"regexp"
	"strings"
)

// destructiveCommands are program names whose invocation always requires
// review, regardless of arguments.
var destructiveCommands = map[string]bool{
	"rm":     true,
	"rmdir":  true,
	"shred":  true,
	"unlink": true,
}

// destructiveGitPatterns match git invocations that discard work.
var destructiveGitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^git\s+checkout\s+(--\s|\.)`),
	regexp.MustCompile(`^git\s+restore\b`),
	regexp.MustCompile(`^git\s+reset\s+--hard\b`),
	regexp.MustCompile(`^git\s+clean\b`),
	regexp.MustCompile(`^git\s+push\s+.*(--force\b|-f\b)`),
	regexp.MustCompile(`^git\s+branch\s+(-D|--delete\s+--force)\b`),
	regexp.MustCompile(`^git\s+stash\s+(drop|clear)\b`),
}

// separators split a compound command line into individually judged parts.
var separators = regexp.MustCompile(`\|\||&&|;|\||\n`)

// NeedsReview reports whether a bash command contains a destructive
// operation. Compound commands are split on shell separators and each part
// judged on its own, so `make build && rm -rf dist` is caught.
func NeedsReview(command string) bool {
	for _, part := range separators.Split(command, -1) {
		if partNeedsReview(strings.TrimSpace(part)) {
			return true
		}
	}
	return false
}

func partNeedsReview(part string) bool {
	if part == "" {
		return false
	}

	fields := strings.Fields(part)
	i := 0
	// Skip leading VAR=value assignments and privilege wrappers so the
	// real program name is judged.
prefix:
	for i < len(fields) {
		f := fields[i]
		switch {
		case isAssignment(f):
			i++
		case f == "sudo" || f == "env" || f == "nice" || f == "time":
			i++
		default:
			break prefix
		}
	}
	if i >= len(fields) {
		return false
	}

	name := fields[i]
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if destructiveCommands[name] {
		return true
	}

	rest := strings.Join(fields[i:], " ")
	for _, re := range destructiveGitPatterns {
		if re.MatchString(rest) {
			return true
		}
	}
	return false
}

// isAssignment reports whether f is a VAR=value environment assignment.
func isAssignment(f string) bool {
	idx := strings.Index(f, "=")
	return idx > 0 && !strings.HasPrefix(f, "-")
}
