// Package engine implements the delegation core: it opens or continues
// remote chats with specialist agents, tracks per-conversation polling
// state, and classifies remote progress into actionable results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/switchboard/internal/remote"
	"github.com/nextlevelbuilder/switchboard/internal/store"
)

const (
	defaultPollTimeout     = 2 * time.Minute
	defaultConversationTTL = time.Hour
)

// ChatService is the remote chat API surface the engine depends on.
// *remote.Client satisfies it; tests supply fakes.
type ChatService interface {
	ListOrganizations(ctx context.Context) ([]remote.Organization, error)
	ListAgents(ctx context.Context, orgID string) ([]remote.Agent, error)
	CreateChat(ctx context.Context, orgID, agentID, query string, stream bool) (string, error)
	AppendMessage(ctx context.Context, chatID, text string) error
	GetChat(ctx context.Context, chatID string) (*remote.Chat, error)
	GetMessages(ctx context.Context, chatID string) ([]remote.Message, error)
}

// Config tunes the engine. Zero values fall back to defaults; turning
// the staleness gate off is requested explicitly via DisableTTL (the
// config layer maps an explicit zero TTL to it).
type Config struct {
	// DefaultOrganizationID is used when a delegation names no organization.
	DefaultOrganizationID string
	// PollTimeout is how long a queued (non-idle, non-streaming) chat may
	// sit before a check reports timeout.
	PollTimeout time.Duration
	// ConversationTTL is the freshness threshold for reusing an existing
	// chat. Older chats are discarded and recreated so the specialist
	// does not mix stale conversational context into a new topic.
	ConversationTTL time.Duration
	// DisableTTL turns the staleness gate off entirely.
	DisableTTL bool
	// Stream requests streaming mode when creating chats.
	Stream bool
}

// Engine orchestrates delegation lifecycle against one chat service and
// one session-scoped conversation state store. It keeps no state of its
// own: everything needed to resume polling lives in the store.
type Engine struct {
	chat ChatService
	kv   store.KV
	cfg  Config
	now  func() time.Time
}

// New creates an engine. Both dependencies are required.
func New(chat ChatService, kv store.KV, cfg Config) *Engine {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.ConversationTTL <= 0 {
		cfg.ConversationTTL = defaultConversationTTL
	}
	if cfg.DisableTTL {
		cfg.ConversationTTL = 0
	}
	return &Engine{chat: chat, kv: kv, cfg: cfg, now: time.Now}
}

// Handle identifies one outstanding delegation. The engine never retains
// it; the caller polls CheckResponse with the chat id until a terminal
// status comes back.
type Handle struct {
	// ID is a short correlation id for logs, not a remote identifier.
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	AgentID   string `json:"agent_id"`
	Query     string `json:"query"`
	Continued bool   `json:"continued"`
}

// DiscoverAgents lists the specialist agents reachable with the current
// credentials. With an empty orgID the roster spans every accessible
// organization. Results are never cached: rosters change, and staleness
// is worse than an extra round trip.
func (e *Engine) DiscoverAgents(ctx context.Context, orgID string) ([]remote.Agent, error) {
	agents, err := e.chat.ListAgents(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("discover agents: %w", err)
	}
	slog.Debug("discovered agents", "count", len(agents), "organization_id", orgID)
	return agents, nil
}

// Delegate sends the verbatim query to the agent, continuing the
// session's existing chat when one is live and fresh, otherwise creating
// a new one. It returns as soon as the message is accepted remotely —
// it never waits for the specialist to answer.
func (e *Engine) Delegate(ctx context.Context, agentID, orgID, query string, forceNew bool) (*Handle, error) {
	if agentID == "" {
		return nil, fmt.Errorf("delegate: agent id is required")
	}
	if orgID == "" {
		orgID = e.cfg.DefaultOrganizationID
	}

	if !forceNew {
		chatID, ok, err := e.kv.Get(ctx, store.AgentChatKey(agentID))
		if err != nil {
			return nil, fmt.Errorf("delegate: read conversation record: %w", err)
		}
		if ok {
			handle, reused, err := e.continueChat(ctx, agentID, chatID, query)
			if err != nil {
				return nil, err
			}
			if reused {
				return handle, nil
			}
			// Stale or gone — record already cleaned up, create fresh below.
		}
	}

	chatID, err := e.chat.CreateChat(ctx, orgID, agentID, query, e.cfg.Stream)
	if err != nil {
		return nil, fmt.Errorf("delegate to agent %s: %w", agentID, err)
	}
	if err := e.kv.Set(ctx, store.AgentChatKey(agentID), chatID); err != nil {
		return nil, fmt.Errorf("delegate: persist conversation record: %w", err)
	}
	if err := e.kv.Set(ctx, store.CheckCountKey(chatID), "0"); err != nil {
		return nil, fmt.Errorf("delegate: reset poll counter: %w", err)
	}

	handle := &Handle{
		ID:      uuid.NewString()[:12],
		ChatID:  chatID,
		AgentID: agentID,
		Query:   query,
	}
	slog.Info("delegation started", "id", handle.ID, "agent", agentID, "chat", chatID, "continued", false,
		"session", store.SessionIDFromContext(ctx), "user", store.UserIDFromContext(ctx))
	return handle, nil
}

// continueChat tries to append the query to an existing chat. Returns
// (handle, true, nil) on success; (nil, false, nil) when the chat was
// stale or missing and the record has been cleaned up; an error for
// anything else.
func (e *Engine) continueChat(ctx context.Context, agentID, chatID, query string) (*Handle, bool, error) {
	if e.cfg.ConversationTTL > 0 {
		chat, err := e.chat.GetChat(ctx, chatID)
		switch {
		case errors.Is(err, remote.ErrChatNotFound):
			slog.Info("stored chat gone remotely, recreating", "agent", agentID, "chat", chatID)
			e.cleanupRecord(ctx, agentID, chatID)
			return nil, false, nil
		case err != nil:
			return nil, false, fmt.Errorf("delegate: check chat freshness: %w", err)
		}
		if age := e.now().Sub(chat.CreatedAt); age > e.cfg.ConversationTTL {
			slog.Info("stored chat is stale, recreating",
				"agent", agentID, "chat", chatID, "age", age.Round(time.Second))
			e.cleanupRecord(ctx, agentID, chatID)
			return nil, false, nil
		}
	}

	err := e.chat.AppendMessage(ctx, chatID, query)
	switch {
	case errors.Is(err, remote.ErrChatNotFound):
		slog.Info("chat expired on append, recreating", "agent", agentID, "chat", chatID)
		e.cleanupRecord(ctx, agentID, chatID)
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("delegate to agent %s: %w", agentID, err)
	}

	if err := e.kv.Set(ctx, store.CheckCountKey(chatID), "0"); err != nil {
		return nil, false, fmt.Errorf("delegate: reset poll counter: %w", err)
	}
	handle := &Handle{
		ID:        uuid.NewString()[:12],
		ChatID:    chatID,
		AgentID:   agentID,
		Query:     query,
		Continued: true,
	}
	slog.Info("delegation started", "id", handle.ID, "agent", agentID, "chat", chatID, "continued", true,
		"session", store.SessionIDFromContext(ctx), "user", store.UserIDFromContext(ctx))
	return handle, true, nil
}

// cleanupRecord drops both store entries for a dead conversation.
// Errors are logged, not fatal: a leftover counter key is harmless.
func (e *Engine) cleanupRecord(ctx context.Context, agentID, chatID string) {
	if err := e.kv.Delete(ctx, store.AgentChatKey(agentID)); err != nil {
		slog.Warn("failed to delete conversation record", "agent", agentID, "error", err)
	}
	if err := e.kv.Delete(ctx, store.CheckCountKey(chatID)); err != nil {
		slog.Warn("failed to delete poll counter", "chat", chatID, "error", err)
	}
}

// bumpCheckCount increments and persists the poll counter for a chat.
// An absent or malformed value counts as zero. Concurrent pollers of the
// same chat can race here; the counter is informational, so last write
// wins is acceptable.
func (e *Engine) bumpCheckCount(ctx context.Context, chatID string) (int, error) {
	key := store.CheckCountKey(chatID)
	raw, _, err := e.kv.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read poll counter: %w", err)
	}
	n, _ := strconv.Atoi(raw)
	n++
	if err := e.kv.Set(ctx, key, strconv.Itoa(n)); err != nil {
		return 0, fmt.Errorf("persist poll counter: %w", err)
	}
	return n, nil
}
