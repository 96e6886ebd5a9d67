package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/switchboard/internal/remote"
)

// Completer is the language-model call surface the orchestrator needs:
// one system+user exchange in, prose out. *providers.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const selectSystemPrompt = `You route user questions to specialist agents.
Given the question and the agent roster, pick the agent(s) whose described
capabilities cover the question. Prefer a single agent; pick several only
when the question genuinely spans their specialties.
Respond with JSON only: {"agents": ["<agent_id>", ...], "reason": "<short>"}`

const composeSystemPrompt = `You merge answers from specialist agents into one reply.
Preserve attribution: when specialists disagree or cover different ground,
say which specialist said what. Do not invent content beyond their answers.
Answer in the language of the original question.`

type selection struct {
	Agents []string `json:"agents"`
	Reason string   `json:"reason"`
}

// selectAgents asks the model which specialists should receive the query.
// Unknown ids in the model's output are dropped; an empty result is an error
// so the caller can fall back or surface it.
func selectAgents(ctx context.Context, llm Completer, query string, agents []remote.Agent) ([]remote.Agent, string, error) {
	var roster strings.Builder
	for _, a := range agents {
		fmt.Fprintf(&roster, "- id=%s name=%q: %s\n", a.ID, a.Name, a.Description)
	}

	user := fmt.Sprintf("Question:\n%s\n\nAgents:\n%s", query, roster.String())
	raw, err := llm.Complete(ctx, selectSystemPrompt, user)
	if err != nil {
		return nil, "", fmt.Errorf("agent selection: %w", err)
	}

	var sel selection
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &sel); err != nil {
		return nil, "", fmt.Errorf("agent selection: unparseable model output %q: %w", raw, err)
	}

	byID := make(map[string]remote.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	var picked []remote.Agent
	for _, id := range sel.Agents {
		if a, ok := byID[id]; ok {
			picked = append(picked, a)
		}
	}
	if len(picked) == 0 {
		return nil, "", fmt.Errorf("agent selection: model picked no known agent (%q)", raw)
	}
	return picked, sel.Reason, nil
}

// composeAnswer asks the model to merge the attributed specialist answers
// into one reply for the user.
func composeAnswer(ctx context.Context, llm Completer, query string, answers []AgentAnswer) (string, error) {
	user := fmt.Sprintf("Original question:\n%s\n\nSpecialist answers:\n\n%s",
		query, formatAnswers(answers))
	out, err := llm.Complete(ctx, composeSystemPrompt, user)
	if err != nil {
		return "", fmt.Errorf("compose answer: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// formatAnswers renders the per-agent outcomes as attributed sections.
// Used both as the composition prompt body and as the mechanical fallback
// reply when no composer model is configured.
func formatAnswers(answers []AgentAnswer) string {
	var b strings.Builder
	for i, a := range answers {
		if i > 0 {
			b.WriteString("\n\n")
		}
		name := a.Agent.Name
		if name == "" {
			name = a.Agent.ID
		}
		switch {
		case a.Err != nil:
			fmt.Fprintf(&b, "[%s] — failed: %v", name, a.Err)
		case a.Result == nil:
			fmt.Fprintf(&b, "[%s] — no result", name)
		case a.Result.Response != "":
			fmt.Fprintf(&b, "[%s]\n%s", name, a.Result.Response)
		default:
			fmt.Fprintf(&b, "[%s] — %s", name, a.Result.Message)
		}
	}
	return b.String()
}

// stripCodeFence unwraps a ```json ... ``` block if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
