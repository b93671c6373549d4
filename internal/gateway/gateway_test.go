// ABOUTME: Tests for the gateway core approval flow with a fake messenger.
// ABOUTME: Covers auto-allow, approve-all, timeouts, races, and delivery failure.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-approve/internal/config"
	"github.com/2389/coven-approve/internal/decision"
	"github.com/2389/coven-approve/internal/notify"
)

// fakeMessenger records every call and hands out synthetic event ids.
type fakeMessenger struct {
	mu       sync.Mutex
	openErr  error
	postErr  error
	opened   int
	prompts  []*notify.Target
	notices  []string
	resolved map[string]string // event id -> outcome
	nextID   int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{resolved: make(map[string]string)}
}

func (f *fakeMessenger) OpenThread(ctx context.Context, s notify.SessionInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return "", f.openErr
	}
	f.opened++
	return fmt.Sprintf("$thread-%s", s.ID), nil
}

func (f *fakeMessenger) PostPrompt(ctx context.Context, threadRoot string, tgt *notify.Target) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	tgt.ThreadRoot = threadRoot
	f.prompts = append(f.prompts, tgt)
	f.nextID++
	return fmt.Sprintf("$evt-%d", f.nextID), nil
}

func (f *fakeMessenger) MarkResolved(ctx context.Context, eventID, outcome string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved[eventID] = outcome
	return nil
}

func (f *fakeMessenger) PostNotice(ctx context.Context, threadRoot, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, text)
	return nil
}

func (f *fakeMessenger) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeMessenger) lastPrompt() *notify.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeInjector struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeInjector) Inject(ctx context.Context, pane, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pane+"|"+text)
	return f.err
}

func testConfig() *config.Config {
	return &config.Config{
		Approvals: config.ApprovalsConfig{
			DefaultTimeout: 5 * time.Minute,
			MaxTimeout:     10 * time.Minute,
		},
	}
}

func testGateway(t *testing.T, cfg *config.Config) (*Gateway, *fakeMessenger, *fakeInjector) {
	t.Helper()
	g := newGateway(cfg, nil)
	fm := newFakeMessenger()
	fi := &fakeInjector{}
	g.messenger = fm
	g.injector = fi
	return g, fm, fi
}

func bashRequest(id, sessionID string, ttl time.Duration) *decision.Request {
	now := time.Now()
	return &decision.Request{
		ID:        id,
		SessionID: sessionID,
		Category:  decision.CategoryBash,
		ToolName:  "Bash",
		Input:     []byte(`{"command":"rm -rf build"}`),
		CreatedAt: now,
		Deadline:  now.Add(ttl),
	}
}

func TestSubmitHumanAllow(t *testing.T) {
	g, fm, _ := testGateway(t, testConfig())

	done := make(chan decision.Decision, 1)
	go func() {
		d, err := g.Submit(context.Background(), bashRequest("r1", "s1", time.Minute))
		require.NoError(t, err)
		done <- d
	}()

	require.Eventually(t, func() bool { return fm.promptCount() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, g.ResolveDecision("r1", decision.Allow()))

	select {
	case d := <-done:
		assert.Equal(t, decision.KindAllow, d.Kind)
	case <-time.After(time.Second):
		t.Fatal("caller not released after resolution")
	}

	// The settled prompt's controls get disabled.
	require.Eventually(t, func() bool {
		fm.mu.Lock()
		defer fm.mu.Unlock()
		return fm.resolved["$evt-1"] == "Allowed"
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitTimeoutFailsClosed(t *testing.T) {
	g, _, _ := testGateway(t, testConfig())

	d, err := g.Submit(context.Background(), bashRequest("r1", "s1", 30*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, decision.KindDeny, d.Kind)
	assert.Contains(t, d.Text, "timed out")
}

func TestSubmitQuestionTimeoutIsNeutral(t *testing.T) {
	g, _, _ := testGateway(t, testConfig())

	now := time.Now()
	req := &decision.Request{
		ID:        "q1",
		SessionID: "s1",
		Category:  decision.CategoryQuestion,
		ToolName:  "AskUserQuestion",
		Question:  "Which approach?",
		Options:   []string{"A", "B"},
		CreatedAt: now,
		Deadline:  now.Add(30 * time.Millisecond),
	}
	d, err := g.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, decision.KindNoAnswer, d.Kind)
}

func TestSubmitStaleResolutionIgnored(t *testing.T) {
	g, fm, _ := testGateway(t, testConfig())

	done := make(chan decision.Decision, 1)
	go func() {
		d, _ := g.Submit(context.Background(), bashRequest("r1", "s1", time.Minute))
		done <- d
	}()
	require.Eventually(t, func() bool { return fm.promptCount() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, g.ResolveDecision("r1", decision.Reply("option A")))
	assert.False(t, g.ResolveDecision("r1", decision.Reply("option B")), "second action must be a no-op")

	d := <-done
	assert.Equal(t, decision.Reply("option A"), d)
}

func TestSubmitAllowAllShortCircuitsSession(t *testing.T) {
	g, fm, _ := testGateway(t, testConfig())

	done := make(chan decision.Decision, 1)
	go func() {
		d, _ := g.Submit(context.Background(), bashRequest("r1", "s1", time.Minute))
		done <- d
	}()
	require.Eventually(t, func() bool { return fm.promptCount() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, g.ResolveDecision("r1", decision.AllowAll()))
	d := <-done
	assert.Equal(t, decision.KindAllowAll, d.Kind)

	// Same session skips notification entirely now.
	d, err := g.Submit(context.Background(), bashRequest("r2", "s1", time.Minute))
	require.NoError(t, err)
	assert.Equal(t, decision.KindAllow, d.Kind)
	assert.Equal(t, 1, fm.promptCount())

	// Other sessions still go through review.
	d, err = g.Submit(context.Background(), bashRequest("r3", "s2", 30*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, decision.KindDeny, d.Kind)
}

func TestSubmitAutoAllowedCategory(t *testing.T) {
	cfg := testConfig()
	cfg.Approvals.AutoAllowCategories = []decision.Category{decision.CategoryRead}
	g, fm, _ := testGateway(t, cfg)

	now := time.Now()
	req := &decision.Request{
		ID:        "r1",
		SessionID: "s1",
		Category:  decision.CategoryRead,
		ToolName:  "Read",
		CreatedAt: now,
		Deadline:  now.Add(time.Minute),
	}
	d, err := g.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, decision.KindAllow, d.Kind)
	assert.Equal(t, 0, fm.promptCount(), "auto-allow must not notify")
}

func TestSubmitInvalidRequest(t *testing.T) {
	g, _, _ := testGateway(t, testConfig())
	req := bashRequest("", "s1", time.Minute)
	_, err := g.Submit(context.Background(), req)
	assert.ErrorIs(t, err, decision.ErrInvalidRequest)
}

func TestSubmitDeliveryFailureResolvesByTimeout(t *testing.T) {
	g, fm, _ := testGateway(t, testConfig())
	fm.postErr = errors.New("homeserver 502")

	d, err := g.Submit(context.Background(), bashRequest("r1", "s1", 30*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, decision.KindDeny, d.Kind)
}

func TestSubmitThreadOpenFailureResolvesByTimeout(t *testing.T) {
	g, fm, _ := testGateway(t, testConfig())
	fm.openErr = errors.New("homeserver unreachable")

	d, err := g.Submit(context.Background(), bashRequest("r1", "s1", 30*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, decision.KindDeny, d.Kind)
	assert.Equal(t, 0, fm.promptCount())
}

func TestSubmitSharesThreadPerSession(t *testing.T) {
	g, fm, _ := testGateway(t, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = g.Submit(context.Background(), bashRequest(fmt.Sprintf("r%d", i), "s1", 50*time.Millisecond))
		}(i)
	}
	wg.Wait()

	fm.mu.Lock()
	defer fm.mu.Unlock()
	assert.Equal(t, 1, fm.opened, "one thread per session")
	assert.Len(t, fm.prompts, 3)
	for _, p := range fm.prompts {
		assert.Equal(t, "$thread-s1", p.ThreadRoot)
	}
}

func TestSubmitCallerCancellation(t *testing.T) {
	g, fm, _ := testGateway(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan decision.Decision, 1)
	go func() {
		d, _ := g.Submit(ctx, bashRequest("r1", "s1", time.Minute))
		done <- d
	}()
	require.Eventually(t, func() bool { return fm.promptCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case d := <-done:
		assert.Equal(t, decision.KindDeny, d.Kind)
	case <-time.After(time.Second):
		t.Fatal("caller not released after cancellation")
	}
	assert.Equal(t, 0, g.pending.Len(), "no dangling entry")
}

func TestInjectTextDelegates(t *testing.T) {
	g, _, fi := testGateway(t, testConfig())
	require.NoError(t, g.InjectText(context.Background(), "s1", "%3", "keep going"))
	assert.Equal(t, []string{"%3|keep going"}, fi.calls)
}

func TestTurnEndInterrogativePostsChoices(t *testing.T) {
	g, fm, _ := testGateway(t, testConfig())

	g.TurnEnd(context.Background(), "s1", "Should I deploy?", "%3")

	require.Equal(t, 1, fm.promptCount())
	p := fm.lastPrompt()
	assert.Empty(t, p.CorrelationID, "completions settle nothing")
	assert.Equal(t, "%3", p.Pane)
	assert.Len(t, p.Prompt.Choices, 3)
}

func TestTurnEndInformationalPostsNotice(t *testing.T) {
	g, fm, _ := testGateway(t, testConfig())

	g.TurnEnd(context.Background(), "s1", "All done.", "")

	assert.Equal(t, 0, fm.promptCount())
	fm.mu.Lock()
	defer fm.mu.Unlock()
	require.Len(t, fm.notices, 1)
	assert.Contains(t, fm.notices[0], "All done.")
}

func TestTimeoutForClamping(t *testing.T) {
	g, _, _ := testGateway(t, testConfig())

	assert.Equal(t, 5*time.Minute, g.timeoutFor(0))
	assert.Equal(t, 5*time.Minute, g.timeoutFor(-1))
	assert.Equal(t, 90*time.Second, g.timeoutFor(90))
	assert.Equal(t, 10*time.Minute, g.timeoutFor(3600))
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "Allowed", outcomeLabel(decision.Allow()))
	assert.Equal(t, "Denied", outcomeLabel(decision.Deny("")))
	assert.Equal(t, "Denied: too risky", outcomeLabel(decision.Deny("too risky")))
	assert.Equal(t, "Replied: use staging", outcomeLabel(decision.Reply("use staging")))
	assert.Equal(t, "No answer", outcomeLabel(decision.NoAnswer()))
	assert.Contains(t, outcomeLabel(decision.AllowAll()), "rest of the session")
}
