package store

import (
	"context"
	"strings"
)

// KV is the conversation state store contract: a durable string-keyed
// mapping with get/set/delete semantics and no atomicity across keys.
// The delegation engine tolerates the resulting races (a chat-id key may
// outlive the remote chat; the poll counter is informational only).
type KV interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes the value for key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// AgentChatKey is the key holding the live remote chat id for an agent
// within the current coordinator session. At most one per agent; absence
// means no conversation yet.
func AgentChatKey(agentID string) string {
	return "agent_chat:" + agentID
}

// CheckCountKey is the key holding the poll counter for a chat. Reset to
// zero whenever a message is sent on the chat, incremented on every check.
func CheckCountKey(chatID string) string {
	return "check_count:" + chatID
}

// prefixed namespaces every key of an underlying KV, so one shared
// backend (redis, sqlite) can hold many coordinator sessions without
// collisions.
type prefixed struct {
	kv     KV
	prefix string
}

// Scoped returns a view of kv where every key is prefixed with the
// session id. Concurrent delegations to different agents within one
// session already use distinct keys; the prefix isolates sessions.
func Scoped(kv KV, sessionID string) KV {
	if sessionID == "" {
		return kv
	}
	return &prefixed{kv: kv, prefix: strings.TrimSuffix(sessionID, ":") + ":"}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.kv.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string) error {
	return p.kv.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.kv.Delete(ctx, p.prefix+key)
}
