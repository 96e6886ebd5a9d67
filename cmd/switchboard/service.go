package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/switchboard/internal/config"
	"github.com/nextlevelbuilder/switchboard/internal/engine"
	"github.com/nextlevelbuilder/switchboard/internal/orchestrator"
	"github.com/nextlevelbuilder/switchboard/internal/providers"
	"github.com/nextlevelbuilder/switchboard/internal/remote"
	"github.com/nextlevelbuilder/switchboard/internal/store"
)

// service binds the remote client, the state store, and the optional
// routing model. Engines and orchestrators are cheap session-scoped
// views over this shared state, built per request.
type service struct {
	chat      *remote.Client
	kv        store.KV
	llm       orchestrator.Completer
	engineCfg engine.Config
	orchCfg   orchestrator.Config
}

func newService(cfg *config.Config) (*service, func(), error) {
	kv, closeKV, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	var clientOpts []remote.Option
	if cfg.Remote.PerPage > 0 {
		clientOpts = append(clientOpts, remote.WithPerPage(cfg.Remote.PerPage))
	}
	if cfg.Remote.RatePerSecond > 0 {
		clientOpts = append(clientOpts, remote.WithRateLimit(cfg.Remote.RatePerSecond))
	}
	chat := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token, clientOpts...)

	var llm orchestrator.Completer
	if cfg.LLM.APIKey != "" {
		llm = providers.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	}

	var conversationTTL time.Duration
	if cfg.Remote.ConversationTTL != nil {
		conversationTTL = time.Duration(*cfg.Remote.ConversationTTL)
	}

	return &service{
		chat: chat,
		kv:   kv,
		llm:  llm,
		engineCfg: engine.Config{
			DefaultOrganizationID: cfg.Remote.OrganizationID,
			PollTimeout:           cfg.Remote.PollTimeout.Std(0),
			ConversationTTL:       conversationTTL,
			DisableTTL:            cfg.Remote.DisableTTL,
			Stream:                cfg.Remote.Stream,
		},
		orchCfg: orchestrator.Config{
			OrganizationID:  cfg.Remote.OrganizationID,
			PollInterval:    cfg.Orchestrator.PollInterval.Std(0),
			MaxPollInterval: cfg.Orchestrator.MaxPollInterval.Std(0),
			MaxPolls:        cfg.Orchestrator.MaxPolls,
		},
	}, closeKV, nil
}

// engineFor returns a delegation engine whose conversation state is
// isolated to the given session.
func (s *service) engineFor(sessionID string) *engine.Engine {
	return engine.New(s.chat, store.Scoped(s.kv, sessionID), s.engineCfg)
}

// Respond implements channels.Responder: one inbound message, one merged
// reply, conversation state scoped to the session.
func (s *service) Respond(ctx context.Context, sessionID, userID, text string, status func(string)) (string, error) {
	ctx = store.WithSessionID(ctx, sessionID)
	if userID != "" {
		ctx = store.WithUserID(ctx, userID)
	}

	orch := orchestrator.New(s.engineFor(sessionID), s.llm, s.orchCfg)
	reply, err := orch.Handle(ctx, orchestrator.Query{
		SessionID: sessionID,
		UserID:    userID,
		Text:      text,
	}, status)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

func openStore(cfg *config.Config) (store.KV, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "redis":
		kv, err := store.NewRedis(context.Background(),
			cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return kv, func() { kv.Close() }, nil
	case "sqlite":
		kv, err := store.NewSQLite(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return kv, func() { kv.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
