package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/switchboard/internal/engine"
	"github.com/nextlevelbuilder/switchboard/internal/remote"
)

func rosterForSelection() []remote.Agent {
	return []remote.Agent{
		{ID: "a1", Name: "Docs", Description: "product documentation"},
		{ID: "a2", Name: "Billing", Description: "invoices and payments"},
	}
}

func TestSelectAgentsParsesFencedJSON(t *testing.T) {
	llm := &queueCompleter{replies: []string{
		"```json\n{\"agents\": [\"a1\"], \"reason\": \"docs question\"}\n```",
	}}
	picked, reason, err := selectAgents(context.Background(), llm, "how do I install?", rosterForSelection())
	if err != nil {
		t.Fatalf("selectAgents: %v", err)
	}
	if len(picked) != 1 || picked[0].ID != "a1" {
		t.Fatalf("picked = %+v", picked)
	}
	if reason != "docs question" {
		t.Fatalf("reason = %q", reason)
	}
}

func TestSelectAgentsDropsUnknownIDs(t *testing.T) {
	llm := &queueCompleter{replies: []string{
		`{"agents": ["ghost", "a2"], "reason": "billing"}`,
	}}
	picked, _, err := selectAgents(context.Background(), llm, "refund me", rosterForSelection())
	if err != nil {
		t.Fatalf("selectAgents: %v", err)
	}
	if len(picked) != 1 || picked[0].ID != "a2" {
		t.Fatalf("hallucinated id should be dropped: %+v", picked)
	}
}

func TestSelectAgentsNoKnownAgentIsError(t *testing.T) {
	llm := &queueCompleter{replies: []string{`{"agents": ["ghost"], "reason": "?"}`}}
	if _, _, err := selectAgents(context.Background(), llm, "q", rosterForSelection()); err == nil {
		t.Fatal("expected an error when only unknown ids come back")
	}
}

func TestSelectAgentsUnparseableOutputIsError(t *testing.T) {
	llm := &queueCompleter{replies: []string{"I think the Docs agent fits best."}}
	if _, _, err := selectAgents(context.Background(), llm, "q", rosterForSelection()); err == nil {
		t.Fatal("prose output should not silently route anywhere")
	}
}

func TestSelectAgentsIncludesRosterInPrompt(t *testing.T) {
	llm := &queueCompleter{replies: []string{`{"agents": ["a1"], "reason": "r"}`}}
	if _, _, err := selectAgents(context.Background(), llm, "q", rosterForSelection()); err != nil {
		t.Fatalf("selectAgents: %v", err)
	}
	prompt := llm.prompts[0]
	if !strings.Contains(prompt, "invoices and payments") || !strings.Contains(prompt, "id=a1") {
		t.Fatalf("roster missing from prompt:\n%s", prompt)
	}
}

func TestFormatAnswersMixedOutcomes(t *testing.T) {
	answers := []AgentAnswer{
		{Agent: remote.Agent{ID: "a1", Name: "Docs"}, Result: &engine.CheckResult{Status: engine.StatusCompleted, Response: "see chapter 3"}},
		{Agent: remote.Agent{ID: "a2"}, Err: fmt.Errorf("connection refused")},
		{Agent: remote.Agent{ID: "a3", Name: "Billing"}, Result: &engine.CheckResult{Status: engine.StatusTimeout, Message: "gave up waiting"}},
	}
	out := formatAnswers(answers)

	if !strings.Contains(out, "[Docs]\nsee chapter 3") {
		t.Fatalf("completed section wrong:\n%s", out)
	}
	if !strings.Contains(out, "[a2]") || !strings.Contains(out, "connection refused") {
		t.Fatalf("failure should fall back to the agent id:\n%s", out)
	}
	if !strings.Contains(out, "[Billing]") || !strings.Contains(out, "gave up waiting") {
		t.Fatalf("timeout message missing:\n%s", out)
	}
	if strings.Count(out, "\n\n") != 2 {
		t.Fatalf("sections should be separated by blank lines:\n%s", out)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}
	for _, c := range cases {
		if got := stripCodeFence(c.in); got != c.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
