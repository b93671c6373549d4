// Package notify renders approval requests into interactive chat prompts
// and decodes operator responses back into decisions.
//
// The renderer produces a Prompt with a fixed choice set per request
// category. The Matrix messenger posts prompts into per-session threads,
// pre-reacts with the choice emojis, and feeds reactions and thread replies
// through the Router to the gateway's ActionSink. Stale actions are
// acknowledged but never mutate state.
package notify
