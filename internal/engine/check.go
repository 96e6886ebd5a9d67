package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/switchboard/internal/remote"
	"github.com/nextlevelbuilder/switchboard/internal/store"
)

// Status classifies the outcome of one CheckResponse call.
type Status string

const (
	// StatusProcessing means the specialist is still working; poll again.
	StatusProcessing Status = "processing"
	// StatusTimeout means the chat sat in a queued state past the poll
	// timeout. Terminal for this check; the caller may re-delegate.
	StatusTimeout Status = "timeout"
	// StatusError means the remote reported a chat-level error.
	StatusError Status = "error"
	// StatusCompleted means the specialist finished and produced output.
	StatusCompleted Status = "completed"
)

// Terminal reports whether the caller should stop polling this handle.
func (s Status) Terminal() bool { return s != StatusProcessing }

// CheckResult is the outcome of polling one chat once. Message is always
// set: the consuming layer is a language model and needs a prose account
// of the situation, not just the enum.
type CheckResult struct {
	Status     Status            `json:"status"`
	Message    string            `json:"message"`
	ChatStatus remote.ChatStatus `json:"chat_status"`
	CheckCount int               `json:"check_count"`

	// Response holds the concatenated assistant output. Set only when
	// Status is StatusCompleted.
	Response          string `json:"response,omitempty"`
	MessageCount      int    `json:"message_count,omitempty"`
	AssistantMessages int    `json:"assistant_messages,omitempty"`
}

// CheckResponse polls the chat once and classifies its progress.
// Evaluation order is a deliberate policy: a remote-reported error wins
// over everything; an actively streaming chat is never timed out; the
// timeout only applies to queued states; an idle chat with no assistant
// output yet still counts as processing.
func (e *Engine) CheckResponse(ctx context.Context, chatID string) (*CheckResult, error) {
	count, err := e.bumpCheckCount(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("check chat %s: %w", chatID, err)
	}

	chat, err := e.chat.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("check chat %s: %w", chatID, err)
	}

	if chat.Error != "" {
		slog.Warn("chat reported an error", "chat", chatID, "error", chat.Error)
		return &CheckResult{
			Status:     StatusError,
			Message:    fmt.Sprintf("The specialist reported an error: %s", chat.Error),
			ChatStatus: chat.Status,
			CheckCount: count,
		}, nil
	}

	switch {
	case chat.Status == remote.StatusStreaming:
		return &CheckResult{
			Status:     StatusProcessing,
			Message:    fmt.Sprintf("The specialist is actively writing its answer (poll %d). Check again shortly.", count),
			ChatStatus: chat.Status,
			CheckCount: count,
		}, nil

	case chat.Status.Intermediate():
		elapsed := e.now().Sub(chat.CreatedAt)
		if elapsed > e.cfg.PollTimeout {
			slog.Warn("chat timed out in queued state",
				"chat", chatID, "status", chat.Status, "elapsed", elapsed.Round(time.Second))
			return &CheckResult{
				Status: StatusTimeout,
				Message: fmt.Sprintf("No progress after %s (chat status %q). The specialist appears stalled; re-delegate if the answer is still needed.",
					elapsed.Round(time.Second), chat.Status),
				ChatStatus: chat.Status,
				CheckCount: count,
			}, nil
		}
		return &CheckResult{
			Status: StatusProcessing,
			Message: fmt.Sprintf("The chat is queued (status %q) for %s (poll %d). Check again shortly.",
				chat.Status, elapsed.Round(time.Second), count),
			ChatStatus: chat.Status,
			CheckCount: count,
		}, nil
	}

	// Idle: pull the full history and aggregate the specialist's output.
	msgs, err := e.chat.GetMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("check chat %s: %w", chatID, err)
	}

	text, assistantCount := collectAssistantText(msgs)
	if assistantCount == 0 {
		return &CheckResult{
			Status:     StatusProcessing,
			Message:    fmt.Sprintf("The chat went idle but no assistant reply is visible yet (poll %d). Check again shortly.", count),
			ChatStatus: chat.Status,
			CheckCount: count,
		}, nil
	}

	slog.Info("chat completed", "chat", chatID,
		"messages", len(msgs), "assistant_messages", assistantCount, "polls", count,
		"session", store.SessionIDFromContext(ctx))
	return &CheckResult{
		Status:            StatusCompleted,
		Message:           fmt.Sprintf("The specialist finished with %d assistant message(s).", assistantCount),
		ChatStatus:        chat.Status,
		CheckCount:        count,
		Response:          text,
		MessageCount:      len(msgs),
		AssistantMessages: assistantCount,
	}, nil
}

// collectAssistantText concatenates the text parts of every
// assistant-authored message in message order, blank-line separated and
// trimmed. Returns the text and the assistant message count.
func collectAssistantText(msgs []remote.Message) (string, int) {
	var parts []string
	count := 0
	for _, m := range msgs {
		if m.Role != remote.RoleAssistant {
			continue
		}
		count++
		for _, p := range m.Parts {
			if p.Type == remote.PartTypeText && p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n")), count
}
