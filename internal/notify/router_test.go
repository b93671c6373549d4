// ABOUTME: Tests for the response decoder's routing table.
// ABOUTME: Covers reaction decoding, thread reply matching, and stale prompts.

package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-approve/internal/decision"
)

func liveTarget(id string) *Target {
	req := &decision.Request{ID: id, Category: decision.CategoryBash, ToolName: "Bash"}
	return &Target{
		CorrelationID: id,
		SessionID:     "sess-1",
		ThreadRoot:    "$thread",
		Prompt:        ToolPrompt(req),
	}
}

func TestDecodeReaction(t *testing.T) {
	r := NewRouter()
	r.Add("$thread", "$evt1", liveTarget("r1"))

	act, ok := r.DecodeReaction("$evt1", KeyAllow)
	require.True(t, ok)
	assert.Equal(t, "r1", act.Target.CorrelationID)
	assert.Equal(t, decision.KindAllow, act.Decision.Kind)
	assert.False(t, act.AwaitText)
}

func TestDecodeReactionReplyAwaitsText(t *testing.T) {
	r := NewRouter()
	r.Add("$thread", "$evt1", liveTarget("r1"))

	act, ok := r.DecodeReaction("$evt1", KeyReply)
	require.True(t, ok)
	assert.True(t, act.AwaitText)
}

func TestDecodeReactionUnknownKey(t *testing.T) {
	r := NewRouter()
	r.Add("$thread", "$evt1", liveTarget("r1"))

	_, ok := r.DecodeReaction("$evt1", "🎉")
	assert.False(t, ok)
}

func TestDecodeReactionUnknownEvent(t *testing.T) {
	r := NewRouter()
	_, ok := r.DecodeReaction("$nope", KeyAllow)
	assert.False(t, ok)
}

func TestRetiredPromptIsStale(t *testing.T) {
	r := NewRouter()
	r.Add("$thread", "$evt1", liveTarget("r1"))
	r.Retire("$thread", "$evt1")

	_, ok := r.DecodeReaction("$evt1", KeyAllow)
	assert.False(t, ok)

	root, stale := r.StaleThread("$evt1")
	assert.True(t, stale)
	assert.Equal(t, "$thread", root)

	_, stale = r.StaleThread("$never-existed")
	assert.False(t, stale)
}

func TestDecodeMessagePrefersDirectReply(t *testing.T) {
	r := NewRouter()
	r.Add("$thread", "$evt1", liveTarget("r1"))
	r.Add("$thread", "$evt2", liveTarget("r2"))

	act, ok := r.DecodeMessage("$thread", "$evt1", "use sudo instead")
	require.True(t, ok)
	assert.Equal(t, "r1", act.Target.CorrelationID)
	assert.Equal(t, decision.Reply("use sudo instead"), act.Decision)
}

func TestDecodeMessageFallsBackToNewestLive(t *testing.T) {
	r := NewRouter()
	r.Add("$thread", "$evt1", liveTarget("r1"))
	r.Add("$thread", "$evt2", liveTarget("r2"))

	act, ok := r.DecodeMessage("$thread", "", "looks good")
	require.True(t, ok)
	assert.Equal(t, "r2", act.Target.CorrelationID)

	// Once the newest settles, the older one becomes the match.
	r.Retire("$thread", "$evt2")
	act, ok = r.DecodeMessage("$thread", "", "looks good")
	require.True(t, ok)
	assert.Equal(t, "r1", act.Target.CorrelationID)
}

func TestAddRecordsEventID(t *testing.T) {
	r := NewRouter()
	tgt := liveTarget("r1")
	r.Add("$thread", "$evt1", tgt)
	assert.Equal(t, "$evt1", tgt.EventID)
}

func TestPaneTargetIsOneShot(t *testing.T) {
	r := NewRouter()
	tgt := &Target{
		SessionID:  "sess-1",
		Pane:       "%3",
		ThreadRoot: "$thread",
		Prompt:     CompletionPrompt("Deployed to staging.", true),
	}
	r.Add("$thread", "$evt1", tgt)

	act, ok := r.DecodeMessage("$thread", "", "run the smoke tests")
	require.True(t, ok)
	assert.Equal(t, "%3", act.Target.Pane)

	// A delivered injection retires its slot; later messages in the
	// thread must not keep feeding the terminal.
	r.Retire(act.Target.ThreadRoot, act.Target.EventID)
	_, ok = r.DecodeMessage("$thread", "", "and another thing")
	assert.False(t, ok)
}

func TestDecodeMessageNoLivePrompt(t *testing.T) {
	r := NewRouter()
	r.Add("$thread", "$evt1", liveTarget("r1"))
	r.Retire("$thread", "$evt1")

	_, ok := r.DecodeMessage("$thread", "", "anyone there")
	assert.False(t, ok)
	assert.True(t, r.KnownThread("$thread"))
	assert.False(t, r.KnownThread("$other"))
}
