// Package channels adapts chat surfaces (Slack, Telegram, Discord) to the
// switchboard responder. Each adapter posts a working placeholder, streams
// progress into it, and replaces it with the merged answer.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Responder answers one inbound message. Implemented by the service wiring
// in cmd: it scopes conversation state to sessionID and runs the full
// discover/delegate/poll/merge flow.
type Responder interface {
	Respond(ctx context.Context, sessionID, userID, text string, status func(string)) (string, error)
}

// Channel is one running chat-surface adapter.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager owns the set of configured channels.
type Manager struct {
	mu       sync.Mutex
	channels []Channel
}

func NewManager() *Manager { return &Manager{} }

func (m *Manager) Add(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// StartAll starts every channel; a channel that fails to start is logged
// and dropped from the set so one bad token does not take the others down
// and StopAll never waits on a channel that never ran.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var started []Channel
	for _, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel failed to start", "channel", ch.Name(), "error", err)
			continue
		}
		slog.Info("channel started", "channel", ch.Name())
		started = append(started, ch)
	}
	m.channels = started
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			slog.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
}

// Truncate shortens s to max runes for log previews.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

// SplitMessage chunks content at the platform's message limit, preferring
// to break at a newline in the second half of the chunk.
func SplitMessage(content string, maxLen int) []string {
	var chunks []string
	for len(content) > 0 {
		if len(content) <= maxLen {
			chunks = append(chunks, content)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, content[:cutAt])
		content = content[cutAt:]
	}
	return chunks
}
