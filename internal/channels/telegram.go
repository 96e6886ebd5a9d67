package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Telegram message limit.
const telegramMaxLen = 4096

// Telegram answers direct messages and group mentions via long polling.
type Telegram struct {
	bot       *telego.Bot
	responder Responder
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewTelegram(token string, r Responder) (*Telegram, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, responder: r, done: make(chan struct{})}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Start(ctx context.Context) error {
	me, err := t.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram identity: %w", err)
	}
	slog.Info("telegram bot connected", "username", me.Username, "id", me.ID)

	ctx, cancel := context.WithCancel(ctx)
	updates, err := t.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}
	t.cancel = cancel

	go func() {
		defer close(t.done)
		for update := range updates {
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			if update.Message.From != nil && update.Message.From.IsBot {
				continue
			}
			go t.answer(ctx, update.Message)
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the update loop to drain,
// bounded by ctx. A channel whose Start failed has no loop to wait for.
func (t *Telegram) Stop(ctx context.Context) error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Telegram) answer(ctx context.Context, msg *telego.Message) {
	chatID := msg.Chat.ID
	slog.Debug("telegram message received", "chat", chatID, "preview", Truncate(msg.Text, 50))

	var mu sync.Mutex
	placeholderID := 0
	if sent, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), "Thinking…")); err == nil {
		placeholderID = sent.MessageID
	}

	status := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		if placeholderID == 0 {
			return
		}
		if s == "" {
			_ = t.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
				ChatID:    tu.ID(chatID),
				MessageID: placeholderID,
			})
			placeholderID = 0
			return
		}
		_, _ = t.bot.EditMessageText(ctx, tu.EditMessageText(tu.ID(chatID), placeholderID, s))
	}

	userID := ""
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
	}
	sessionID := "telegram:" + strconv.FormatInt(chatID, 10)

	reply, err := t.responder.Respond(ctx, sessionID, userID, msg.Text, status)
	if err != nil {
		slog.Error("telegram respond failed", "chat", chatID, "error", err)
		reply = fmt.Sprintf("Sorry, that didn't work: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	chunks := SplitMessage(reply, telegramMaxLen)
	for i, chunk := range chunks {
		if i == 0 && placeholderID != 0 {
			if _, err := t.bot.EditMessageText(ctx, tu.EditMessageText(tu.ID(chatID), placeholderID, chunk)); err == nil {
				continue
			}
		}
		if _, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			slog.Error("telegram send failed", "chat", chatID, "error", err)
			return
		}
	}
}
