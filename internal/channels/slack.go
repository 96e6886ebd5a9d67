package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SlackConfig holds socket-mode credentials.
type SlackConfig struct {
	BotToken string // xoxb-
	AppToken string // xapp-, socket mode
}

// Slack connects over socket mode and answers mentions and DMs.
type Slack struct {
	api       *slack.Client
	sock      *socketmode.Client
	responder Responder
	botUserID string
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSlack(cfg SlackConfig, r Responder) (*Slack, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack requires both bot and app tokens")
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Slack{
		api:       api,
		sock:      socketmode.New(api),
		responder: r,
		done:      make(chan struct{}),
	}, nil
}

func (s *Slack) Name() string { return "slack" }

// Start opens the socket-mode connection and begins consuming events.
func (s *Slack) Start(ctx context.Context) error {
	auth, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUserID = auth.UserID
	slog.Info("slack bot connected", "user", auth.User, "id", auth.UserID)

	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		if err := s.sock.RunContext(ctx); err != nil && ctx.Err() == nil {
			slog.Error("slack socket loop exited", "error", err)
		}
	}()
	go s.consume(ctx)
	return nil
}

// Stop cancels the socket loop and waits for the consumer to drain,
// bounded by ctx. A channel whose Start failed (or never ran) has no
// consumer to wait for.
func (s *Slack) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Slack) consume(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.sock.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			s.sock.Ack(*evt.Request)
			s.dispatch(ctx, apiEvent)
		}
	}
}

func (s *Slack) dispatch(ctx context.Context, evt slackevents.EventsAPIEvent) {
	if evt.Type != slackevents.CallbackEvent {
		return
	}
	switch inner := evt.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		go s.answer(ctx, inner.Channel, inner.User, stripMention(inner.Text, s.botUserID))
	case *slackevents.MessageEvent:
		// DMs only; channel traffic comes in via app_mention.
		if inner.ChannelType != "im" || inner.BotID != "" || inner.User == s.botUserID {
			return
		}
		go s.answer(ctx, inner.Channel, inner.User, inner.Text)
	}
}

func (s *Slack) answer(ctx context.Context, channelID, userID, text string) {
	if text == "" {
		return
	}
	slog.Debug("slack message received", "channel", channelID, "preview", Truncate(text, 50))

	var mu sync.Mutex
	placeholderTS := ""
	_, ts, err := s.api.PostMessageContext(ctx, channelID, slack.MsgOptionText("Thinking…", false))
	if err == nil {
		placeholderTS = ts
	}

	status := func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		if placeholderTS == "" {
			return
		}
		if msg == "" {
			// Aborted: remove the working indicator.
			_, _, _ = s.api.DeleteMessageContext(ctx, channelID, placeholderTS)
			placeholderTS = ""
			return
		}
		_, _, _, _ = s.api.UpdateMessageContext(ctx, channelID, placeholderTS, slack.MsgOptionText(msg, false))
	}

	sessionID := "slack:" + channelID
	reply, err := s.responder.Respond(ctx, sessionID, userID, text, status)
	if err != nil {
		slog.Error("slack respond failed", "channel", channelID, "error", err)
		reply = fmt.Sprintf("Sorry, that didn't work: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if placeholderTS != "" {
		if _, _, _, err := s.api.UpdateMessageContext(ctx, channelID, placeholderTS, slack.MsgOptionText(reply, false)); err == nil {
			return
		}
		// Edit failed, fall through to a fresh message.
	}
	if _, _, err := s.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(reply, false)); err != nil {
		slog.Error("slack send failed", "channel", channelID, "error", err)
	}
}

// stripMention removes the bot's <@BOTID> tag from a mention.
func stripMention(text, botUserID string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "<@"+botUserID+">", ""))
}
