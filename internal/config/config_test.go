package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "switchboard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := writeFile(t, `
remote:
  base_url: https://api.example.com
  organization_id: org-from-file
  poll_timeout: 90s
store:
  backend: sqlite
  sqlite:
    path: /tmp/state.db
`)
	t.Setenv("SWITCHBOARD_API_TOKEN", "tok-123")
	t.Setenv("SWITCHBOARD_ORG_ID", "org-from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.Token != "tok-123" {
		t.Fatalf("token = %q", cfg.Remote.Token)
	}
	if cfg.Remote.OrganizationID != "org-from-env" {
		t.Fatalf("env must override file, got %q", cfg.Remote.OrganizationID)
	}
	if got := cfg.Remote.PollTimeout.Std(0); got != 90*time.Second {
		t.Fatalf("poll_timeout = %v", got)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.SQLite.Path != "/tmp/state.db" {
		t.Fatalf("store = %+v", cfg.Store)
	}
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("SWITCHBOARD_API_URL", "https://api.example.com")
	t.Setenv("SWITCHBOARD_API_TOKEN", "tok")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("default backend = %q", cfg.Store.Backend)
	}
	if cfg.HTTP.Addr != ":8090" {
		t.Fatalf("default addr = %q", cfg.HTTP.Addr)
	}
}

func TestLoadMissingTokenFails(t *testing.T) {
	t.Setenv("SWITCHBOARD_API_URL", "https://api.example.com")
	t.Setenv("SWITCHBOARD_API_TOKEN", "")

	if _, err := Load(""); err == nil {
		t.Fatal("missing API token must be a startup error, not a fallback")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("SWITCHBOARD_API_URL", "https://api.example.com")
	t.Setenv("SWITCHBOARD_API_TOKEN", "tok")
	t.Setenv("SWITCHBOARD_STORE", "cassandra")

	if _, err := Load(""); err == nil {
		t.Fatal("unknown backend should be rejected")
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	t.Setenv("SWITCHBOARD_API_TOKEN", "tok")
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("explicit config path that does not exist should fail")
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	path := writeFile(t, "remote:\n  poll_timeout: soonish\n")
	t.Setenv("SWITCHBOARD_API_TOKEN", "tok")
	if _, err := Load(path); err == nil {
		t.Fatal("unparseable duration should fail loading")
	}
}

func TestDisableTTLFromEnv(t *testing.T) {
	t.Setenv("SWITCHBOARD_API_URL", "https://api.example.com")
	t.Setenv("SWITCHBOARD_API_TOKEN", "tok")
	t.Setenv("SWITCHBOARD_DISABLE_TTL", "true")
	t.Setenv("SWITCHBOARD_CONVERSATION_TTL", "30m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Remote.DisableTTL {
		t.Fatal("DisableTTL not applied from env")
	}
	if cfg.Remote.ConversationTTL == nil || time.Duration(*cfg.Remote.ConversationTTL) != 30*time.Minute {
		t.Fatalf("ttl = %v", cfg.Remote.ConversationTTL)
	}
}

func TestConversationTTLExplicitZeroDisablesGate(t *testing.T) {
	path := writeFile(t, `
remote:
  base_url: https://api.example.com
  conversation_ttl: 0
`)
	t.Setenv("SWITCHBOARD_API_TOKEN", "tok")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Remote.DisableTTL {
		t.Fatal("conversation_ttl: 0 must disable chat reuse expiry, not fall back to the default")
	}
}

func TestConversationTTLZeroFromEnvDisablesGate(t *testing.T) {
	t.Setenv("SWITCHBOARD_API_URL", "https://api.example.com")
	t.Setenv("SWITCHBOARD_API_TOKEN", "tok")
	t.Setenv("SWITCHBOARD_CONVERSATION_TTL", "0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Remote.DisableTTL {
		t.Fatal("a zero TTL from the environment must disable chat reuse expiry")
	}
}

func TestConversationTTLUnsetKeepsDefault(t *testing.T) {
	t.Setenv("SWITCHBOARD_API_URL", "https://api.example.com")
	t.Setenv("SWITCHBOARD_API_TOKEN", "tok")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.ConversationTTL != nil {
		t.Fatalf("unset ttl should stay nil, got %v", cfg.Remote.ConversationTTL)
	}
	if cfg.Remote.DisableTTL {
		t.Fatal("unset ttl must not disable the gate")
	}
}
