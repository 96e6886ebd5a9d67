// Package orchestrator drives one inbound user message end to end:
// discover specialists, pick targets, delegate the verbatim query to each,
// poll every handle to a terminal state, and merge the attributed answers
// into a single reply.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/switchboard/internal/engine"
	"github.com/nextlevelbuilder/switchboard/internal/providers"
	"github.com/nextlevelbuilder/switchboard/internal/remote"
)

const (
	defaultPollInterval    = 3 * time.Second
	defaultMaxPollInterval = 15 * time.Second
	defaultMaxPolls        = 40
)

// Delegator is the engine surface the orchestrator drives.
type Delegator interface {
	DiscoverAgents(ctx context.Context, orgID string) ([]remote.Agent, error)
	Delegate(ctx context.Context, agentID, orgID, query string, forceNew bool) (*engine.Handle, error)
	CheckResponse(ctx context.Context, chatID string) (*engine.CheckResult, error)
}

// Config tunes the caller-driven polling loop.
type Config struct {
	OrganizationID  string
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	MaxPolls        int
}

// Query is one inbound conversational message. Text is the user's literal
// input and is forwarded to specialists unmodified.
type Query struct {
	SessionID      string
	UserID         string
	Text           string
	OrganizationID string
}

// AgentAnswer is the outcome of one delegation, attribution included.
type AgentAnswer struct {
	Agent  remote.Agent
	Handle *engine.Handle
	Result *engine.CheckResult
	Err    error
}

// Completed reports whether this specialist produced usable output.
func (a AgentAnswer) Completed() bool {
	return a.Err == nil && a.Result != nil && a.Result.Status == engine.StatusCompleted
}

// Reply is the merged result for one inbound query.
type Reply struct {
	Text    string
	Answers []AgentAnswer
}

// Orchestrator coordinates the delegation engine and the routing model.
// The llm is optional: without it every visible agent is consulted and
// answers are merged mechanically with attribution headers.
type Orchestrator struct {
	delegator Delegator
	llm       Completer
	cfg       Config
	tracer    trace.Tracer
}

// New creates an orchestrator. llm may be nil.
func New(d Delegator, llm Completer, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollInterval <= 0 {
		cfg.MaxPollInterval = defaultMaxPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	return &Orchestrator{
		delegator: d,
		llm:       llm,
		cfg:       cfg,
		tracer:    otel.Tracer("switchboard/orchestrator"),
	}
}

// Handle processes one inbound query. status, when non-nil, receives
// human-readable progress updates; it is called with "" when the request
// is aborted so the channel can clear its working indicator.
func (o *Orchestrator) Handle(ctx context.Context, q Query, status func(string)) (*Reply, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.handle",
		trace.WithAttributes(
			attribute.String("session_id", q.SessionID),
			attribute.Int("query_len", len(q.Text)),
		))
	defer span.End()

	notify := func(msg string) {
		if status != nil {
			status(msg)
		}
	}
	// Never leave a stale "working" indicator behind on abort.
	defer func() {
		if ctx.Err() != nil {
			notify("")
		}
	}()

	// Surface model-call retries in the working indicator instead of
	// leaving the placeholder frozen while the provider backs off.
	ctx = providers.WithRetryHook(ctx, func(attempt, maxAttempts int, err error) {
		notify(fmt.Sprintf("Model call failed (attempt %d/%d), retrying…", attempt, maxAttempts))
		slog.Debug("model call retrying", "attempt", attempt, "max", maxAttempts, "error", err)
	})

	orgID := q.OrganizationID
	if orgID == "" {
		orgID = o.cfg.OrganizationID
	}

	agents, err := o.delegator.DiscoverAgents(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("no specialist agents available")
	}

	targets, reason, err := o.pickTargets(ctx, q.Text, agents)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("targets", len(targets)))
	slog.Info("routing query",
		"session", q.SessionID, "targets", len(targets), "reason", reason)

	if len(targets) == 1 {
		notify(fmt.Sprintf("Consulting %s…", displayName(targets[0])))
	} else {
		notify(fmt.Sprintf("Consulting %d specialists…", len(targets)))
	}

	answers := o.delegateAndAwait(ctx, orgID, q.Text, targets, notify)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	completed := 0
	for _, a := range answers {
		if a.Completed() {
			completed++
		}
	}
	if completed == 0 {
		return nil, fmt.Errorf("no specialist produced an answer: %s", formatAnswers(answers))
	}

	text := formatAnswers(answers)
	if o.llm != nil {
		composed, err := composeAnswer(ctx, o.llm, q.Text, answers)
		if err != nil {
			// The attributed merge is still a usable reply.
			slog.Warn("composition failed, returning attributed merge", "error", err)
		} else {
			text = composed
		}
	}

	return &Reply{Text: text, Answers: answers}, nil
}

// pickTargets chooses which agents get the query: the routing model when
// configured, otherwise every visible agent.
func (o *Orchestrator) pickTargets(ctx context.Context, query string, agents []remote.Agent) ([]remote.Agent, string, error) {
	if o.llm == nil {
		var visible []remote.Agent
		for _, a := range agents {
			if a.Visible {
				visible = append(visible, a)
			}
		}
		if len(visible) == 0 {
			visible = agents
		}
		return visible, "no routing model configured, consulting all", nil
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.select_agents")
	defer span.End()
	return selectAgents(ctx, o.llm, query, agents)
}

// delegateAndAwait fires one delegation per target concurrently and polls
// each handle until terminal. Per-target failures land in the answer
// slice; they never abort the siblings.
func (o *Orchestrator) delegateAndAwait(ctx context.Context, orgID, query string, targets []remote.Agent, notify func(string)) []AgentAnswer {
	answers := make([]AgentAnswer, len(targets))
	var done sync.WaitGroup
	var mu sync.Mutex
	finished := 0

	for i, agent := range targets {
		done.Add(1)
		go func() {
			defer done.Done()
			answers[i] = o.runOne(ctx, orgID, query, agent)

			mu.Lock()
			finished++
			n := finished
			mu.Unlock()
			if n < len(targets) {
				notify(fmt.Sprintf("%s finished (%d/%d)…", displayName(agent), n, len(targets)))
			}
		}()
	}
	done.Wait()
	return answers
}

func (o *Orchestrator) runOne(ctx context.Context, orgID, query string, agent remote.Agent) AgentAnswer {
	ctx, span := o.tracer.Start(ctx, "orchestrator.delegate",
		trace.WithAttributes(attribute.String("agent_id", agent.ID)))
	defer span.End()

	answer := AgentAnswer{Agent: agent}
	handle, err := o.delegator.Delegate(ctx, agent.ID, orgID, query, false)
	if err != nil {
		answer.Err = err
		return answer
	}
	answer.Handle = handle
	answer.Result, answer.Err = o.await(ctx, handle)
	return answer
}

// await polls one handle until it reaches a terminal state, backing off
// between checks. The loop is bounded: when the poll budget runs out the
// handle is reported as timed out rather than waiting forever.
func (o *Orchestrator) await(ctx context.Context, h *engine.Handle) (*engine.CheckResult, error) {
	interval := o.cfg.PollInterval
	var last *engine.CheckResult

	for attempt := 0; attempt < o.cfg.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		res, err := o.delegator.CheckResponse(ctx, h.ChatID)
		if err != nil {
			return nil, err
		}
		if res.Status.Terminal() {
			return res, nil
		}
		last = res

		interval = interval * 3 / 2
		if interval > o.cfg.MaxPollInterval {
			interval = o.cfg.MaxPollInterval
		}
	}

	msg := fmt.Sprintf("Gave up on chat %s after %d polls; the specialist may still answer later.", h.ChatID, o.cfg.MaxPolls)
	slog.Warn("poll budget exhausted", "chat", h.ChatID, "polls", o.cfg.MaxPolls)
	out := &engine.CheckResult{Status: engine.StatusTimeout, Message: msg}
	if last != nil {
		out.ChatStatus = last.ChatStatus
		out.CheckCount = last.CheckCount
	}
	return out, nil
}

func displayName(a remote.Agent) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
