package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Discord message limit.
const discordMaxLen = 2000

// Discord answers DMs and guild messages via the gateway.
type Discord struct {
	session   *discordgo.Session
	responder Responder
	botUserID string
}

func NewDiscord(token string, r Responder) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Discord{session: session, responder: r}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Start(ctx context.Context) error {
	d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleMessage(ctx, m)
	})
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := d.session.User("@me")
	if err != nil {
		d.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	d.botUserID = user.ID
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

func (d *Discord) Stop(context.Context) error {
	return d.session.Close()
}

func (d *Discord) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == d.botUserID || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	channelID := m.ChannelID
	slog.Debug("discord message received",
		"channel", channelID, "sender", m.Author.ID, "preview", Truncate(m.Content, 50))

	go func() {
		var mu sync.Mutex
		placeholderID := ""
		if placeholder, err := d.session.ChannelMessageSend(channelID, "Thinking…"); err == nil {
			placeholderID = placeholder.ID
		}

		status := func(s string) {
			mu.Lock()
			defer mu.Unlock()
			if placeholderID == "" {
				return
			}
			if s == "" {
				_ = d.session.ChannelMessageDelete(channelID, placeholderID)
				placeholderID = ""
				return
			}
			_, _ = d.session.ChannelMessageEdit(channelID, placeholderID, s)
		}

		sessionID := "discord:" + channelID
		reply, err := d.responder.Respond(ctx, sessionID, m.Author.ID, m.Content, status)
		if err != nil {
			slog.Error("discord respond failed", "channel", channelID, "error", err)
			reply = fmt.Sprintf("Sorry, that didn't work: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		chunks := SplitMessage(reply, discordMaxLen)
		for i, chunk := range chunks {
			if i == 0 && placeholderID != "" {
				if _, err := d.session.ChannelMessageEdit(channelID, placeholderID, chunk); err == nil {
					continue
				}
			}
			if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
				slog.Error("discord send failed", "channel", channelID, "error", err)
				return
			}
		}
	}()
}
