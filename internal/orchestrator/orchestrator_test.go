package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/switchboard/internal/engine"
	"github.com/nextlevelbuilder/switchboard/internal/providers"
	"github.com/nextlevelbuilder/switchboard/internal/remote"
)

type delegation struct {
	agentID, orgID, query string
}

// fakeDelegator scripts per-chat check sequences.
type fakeDelegator struct {
	mu        sync.Mutex
	agents    []remote.Agent
	delegated []delegation
	scripts   map[string][]*engine.CheckResult // chatID → results, last repeats
	checks    map[string]int
	failFor   map[string]error // agentID → delegation error
}

func newFakeDelegator(agents ...remote.Agent) *fakeDelegator {
	return &fakeDelegator{
		agents:  agents,
		scripts: make(map[string][]*engine.CheckResult),
		checks:  make(map[string]int),
		failFor: make(map[string]error),
	}
}

func (f *fakeDelegator) DiscoverAgents(context.Context, string) ([]remote.Agent, error) {
	return f.agents, nil
}

func (f *fakeDelegator) Delegate(_ context.Context, agentID, orgID, query string, _ bool) (*engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[agentID]; err != nil {
		return nil, err
	}
	f.delegated = append(f.delegated, delegation{agentID, orgID, query})
	return &engine.Handle{ID: "h-" + agentID, ChatID: "chat-" + agentID, AgentID: agentID, Query: query}, nil
}

func (f *fakeDelegator) CheckResponse(_ context.Context, chatID string) (*engine.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.scripts[chatID]
	if len(script) == 0 {
		return nil, fmt.Errorf("no script for %s", chatID)
	}
	i := f.checks[chatID]
	if i >= len(script) {
		i = len(script) - 1
	}
	f.checks[chatID]++
	return script[i], nil
}

// queueCompleter replies with canned outputs in order.
type queueCompleter struct {
	mu      sync.Mutex
	replies []string
	prompts []string
}

func (q *queueCompleter) Complete(_ context.Context, _ string, user string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prompts = append(q.prompts, user)
	if len(q.replies) == 0 {
		return "", fmt.Errorf("completer exhausted")
	}
	out := q.replies[0]
	q.replies = q.replies[1:]
	return out, nil
}

func completedResult(text string) *engine.CheckResult {
	return &engine.CheckResult{Status: engine.StatusCompleted, Message: "done", Response: text}
}

func processingResult() *engine.CheckResult {
	return &engine.CheckResult{Status: engine.StatusProcessing, Message: "working"}
}

func fastCfg() Config {
	return Config{PollInterval: time.Millisecond, MaxPollInterval: 2 * time.Millisecond, MaxPolls: 50}
}

func TestHandleRoutesDelegatesAndComposes(t *testing.T) {
	docs := remote.Agent{ID: "a1", Name: "Docs", Visible: true}
	billing := remote.Agent{ID: "a2", Name: "Billing", Visible: true}
	d := newFakeDelegator(docs, billing)
	d.scripts["chat-a2"] = []*engine.CheckResult{processingResult(), completedResult("invoice info")}

	llm := &queueCompleter{replies: []string{
		`{"agents": ["a2"], "reason": "billing question"}`,
		"Here is your invoice info.",
	}}

	o := New(d, llm, fastCfg())
	query := "  Where is my invoice?  "
	reply, err := o.Handle(context.Background(), Query{SessionID: "s1", Text: query}, nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(d.delegated) != 1 || d.delegated[0].agentID != "a2" {
		t.Fatalf("delegations: %+v", d.delegated)
	}
	if d.delegated[0].query != query {
		t.Fatalf("query transformed before delegation: %q", d.delegated[0].query)
	}
	if reply.Text != "Here is your invoice info." {
		t.Fatalf("reply = %q", reply.Text)
	}
	if len(reply.Answers) != 1 || !reply.Answers[0].Completed() {
		t.Fatalf("answers: %+v", reply.Answers)
	}
}

func TestHandleWithoutModelConsultsVisibleAgents(t *testing.T) {
	visible := remote.Agent{ID: "a1", Name: "Docs", Visible: true}
	hidden := remote.Agent{ID: "a2", Name: "Internal", Visible: false}
	d := newFakeDelegator(visible, hidden)
	d.scripts["chat-a1"] = []*engine.CheckResult{completedResult("docs say hi")}

	o := New(d, nil, fastCfg())
	reply, err := o.Handle(context.Background(), Query{Text: "hello"}, nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(d.delegated) != 1 || d.delegated[0].agentID != "a1" {
		t.Fatalf("hidden agent should not be consulted: %+v", d.delegated)
	}
	if !strings.Contains(reply.Text, "[Docs]") || !strings.Contains(reply.Text, "docs say hi") {
		t.Fatalf("attributed merge missing: %q", reply.Text)
	}
}

func TestHandleMergePreservesAttributionOrder(t *testing.T) {
	a := remote.Agent{ID: "a1", Name: "Docs", Visible: true}
	b := remote.Agent{ID: "a2", Name: "Billing", Visible: true}
	d := newFakeDelegator(a, b)
	d.scripts["chat-a1"] = []*engine.CheckResult{completedResult("answer one")}
	d.scripts["chat-a2"] = []*engine.CheckResult{completedResult("answer two")}

	o := New(d, nil, fastCfg())
	reply, err := o.Handle(context.Background(), Query{Text: "both of you"}, nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	di := strings.Index(reply.Text, "[Docs]")
	bi := strings.Index(reply.Text, "[Billing]")
	if di < 0 || bi < 0 || di > bi {
		t.Fatalf("attribution order wrong: %q", reply.Text)
	}
}

func TestHandlePartialFailureStillReplies(t *testing.T) {
	a := remote.Agent{ID: "a1", Name: "Docs", Visible: true}
	b := remote.Agent{ID: "a2", Name: "Billing", Visible: true}
	d := newFakeDelegator(a, b)
	d.failFor["a1"] = fmt.Errorf("agent offline")
	d.scripts["chat-a2"] = []*engine.CheckResult{completedResult("still here")}

	o := New(d, nil, fastCfg())
	reply, err := o.Handle(context.Background(), Query{Text: "q"}, nil)
	if err != nil {
		t.Fatalf("one failed delegation must not sink the reply: %v", err)
	}
	if !strings.Contains(reply.Text, "still here") {
		t.Fatalf("surviving answer missing: %q", reply.Text)
	}
	var failed, completed int
	for _, ans := range reply.Answers {
		if ans.Err != nil {
			failed++
		}
		if ans.Completed() {
			completed++
		}
	}
	if failed != 1 || completed != 1 {
		t.Fatalf("answers = %+v", reply.Answers)
	}
}

func TestHandleAllFailedIsAnError(t *testing.T) {
	a := remote.Agent{ID: "a1", Name: "Docs", Visible: true}
	d := newFakeDelegator(a)
	d.failFor["a1"] = fmt.Errorf("offline")

	o := New(d, nil, fastCfg())
	if _, err := o.Handle(context.Background(), Query{Text: "q"}, nil); err == nil {
		t.Fatal("expected an error when every specialist fails")
	}
}

func TestAwaitExhaustsPollBudget(t *testing.T) {
	a := remote.Agent{ID: "a1", Name: "Docs", Visible: true}
	d := newFakeDelegator(a)
	d.scripts["chat-a1"] = []*engine.CheckResult{processingResult()}

	cfg := fastCfg()
	cfg.MaxPolls = 3
	o := New(d, nil, cfg)

	_, err := o.Handle(context.Background(), Query{Text: "q"}, nil)
	if err == nil {
		t.Fatal("only answer timed out, expected error")
	}
	if d.checks["chat-a1"] != 3 {
		t.Fatalf("polls = %d, want exactly the budget (3)", d.checks["chat-a1"])
	}
}

func TestHandleAbortClearsWorkingIndicator(t *testing.T) {
	a := remote.Agent{ID: "a1", Name: "Docs", Visible: true}
	d := newFakeDelegator(a)
	d.scripts["chat-a1"] = []*engine.CheckResult{processingResult()}

	cfg := Config{PollInterval: 5 * time.Millisecond, MaxPollInterval: 5 * time.Millisecond, MaxPolls: 1000}
	o := New(d, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var updates []string
	status := func(s string) {
		mu.Lock()
		updates = append(updates, s)
		mu.Unlock()
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := o.Handle(ctx, Query{Text: "q"}, status); err == nil {
		t.Fatal("expected cancellation error")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 {
		t.Fatal("expected at least one status update")
	}
	if last := updates[len(updates)-1]; last != "" {
		t.Fatalf("working indicator not cleared on abort, last update %q", last)
	}
}

// flakyCompleter fails once with a retryable provider error before
// answering, exercising the retry hook carried in the context.
type flakyCompleter struct {
	mu      sync.Mutex
	calls   int
	replies []string
}

func (f *flakyCompleter) Complete(ctx context.Context, _, _ string) (string, error) {
	return providers.RetryDo(ctx,
		providers.RetryConfig{Attempts: 2, MinDelay: time.Millisecond},
		func() (string, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.calls++
			if f.calls == 1 {
				return "", &providers.HTTPError{Status: 503, Body: "overloaded"}
			}
			if len(f.replies) == 0 {
				return "", fmt.Errorf("completer exhausted")
			}
			out := f.replies[0]
			f.replies = f.replies[1:]
			return out, nil
		})
}

func TestModelRetrySurfacesInStatusUpdates(t *testing.T) {
	a := remote.Agent{ID: "a1", Name: "Docs", Visible: true}
	d := newFakeDelegator(a)
	d.scripts["chat-a1"] = []*engine.CheckResult{completedResult("answer")}

	llm := &flakyCompleter{replies: []string{
		`{"agents": ["a1"], "reason": "only one"}`,
		"composed answer",
	}}

	var mu sync.Mutex
	var updates []string
	status := func(s string) {
		mu.Lock()
		updates = append(updates, s)
		mu.Unlock()
	}

	o := New(d, llm, fastCfg())
	reply, err := o.Handle(context.Background(), Query{Text: "q"}, status)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.Text != "composed answer" {
		t.Fatalf("reply = %q", reply.Text)
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, u := range updates {
		if strings.Contains(u, "retrying") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no retry status update, got %q", updates)
	}
}

func TestHandleTimeoutAnswerKeepsAttribution(t *testing.T) {
	a := remote.Agent{ID: "a1", Name: "Docs", Visible: true}
	b := remote.Agent{ID: "a2", Name: "Billing", Visible: true}
	d := newFakeDelegator(a, b)
	d.scripts["chat-a1"] = []*engine.CheckResult{
		{Status: engine.StatusTimeout, Message: "stalled in queue"},
	}
	d.scripts["chat-a2"] = []*engine.CheckResult{completedResult("fine here")}

	o := New(d, nil, fastCfg())
	reply, err := o.Handle(context.Background(), Query{Text: "q"}, nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(reply.Text, "stalled in queue") || !strings.Contains(reply.Text, "fine here") {
		t.Fatalf("both outcomes should be visible: %q", reply.Text)
	}
}
