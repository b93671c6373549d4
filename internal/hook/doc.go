// Package hook implements the agent-side half of the approval protocol:
// parsing hook events from stdin, judging which bash commands need human
// review, and calling the coven-approve server. It is deliberately
// conservative about failure: when the server is unreachable the hook
// binary falls through and lets the agent's own permission flow take over.
package hook
