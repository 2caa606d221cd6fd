package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stratuscode/stratus/internal/credentials"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{
		Provider: "anthropic",
		Providers: map[string]*ProviderConfig{
			"anthropic": {Type: TypeAnthropic, Model: "claude-sonnet-4-5"},
			"openai":    {Type: TypeOpenAI, Model: "gpt-5"},
		},
	}

	cfg.ApplyOverrides("openai", "gpt-4o")
	key, _, model, err := cfg.ActiveProvider()
	if err != nil {
		t.Fatalf("ActiveProvider: %v", err)
	}
	if key != "openai" {
		t.Fatalf("provider=%q, want %q", key, "openai")
	}
	if model != "gpt-4o" {
		t.Fatalf("model=%q, want %q", model, "gpt-4o")
	}

	cfg.ApplyOverrides("anthropic", "")
	cfg.Model = ""
	_, _, model, _ = cfg.ActiveProvider()
	if model != "claude-sonnet-4-5" {
		t.Fatalf("model=%q, want provider default", model)
	}

	cfg.ApplyOverrides("nope", "")
	if _, _, _, err := cfg.ActiveProvider(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestLoadFileDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	path := writeConfig(t, "provider: anthropic\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Agent != "build" {
		t.Errorf("agent=%q, want build", cfg.Agent)
	}
	if cfg.Reference.MaxBytes != 50*1024 {
		t.Errorf("reference.max_bytes=%d", cfg.Reference.MaxBytes)
	}
	p := cfg.Providers["anthropic"]
	if p == nil || p.APIKey != "sk-env" {
		t.Fatalf("anthropic provider = %+v, want env api key", p)
	}
	if !cfg.Sessions.Enabled {
		t.Error("sessions should default to enabled")
	}
}

func TestLoadFileExpandsEnv(t *testing.T) {
	t.Setenv("MY_KEY", "secret")
	path := writeConfig(t, `
provider: local
providers:
  local:
    type: openai-compat
    base_url: http://localhost:11434/v1
    api_key: $MY_KEY
    model: qwen3-coder
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	_, p, model, err := cfg.ActiveProvider()
	if err != nil {
		t.Fatalf("ActiveProvider: %v", err)
	}
	if p.APIKey != "secret" || p.Type != TypeOpenAICompat || model != "qwen3-coder" {
		t.Errorf("provider = %+v model=%q", p, model)
	}
}

func TestOAuthRecordAndSave(t *testing.T) {
	path := writeConfig(t, `
# default provider
provider: anthropic
log_level: debug
providers:
  # logged in with /login
  anthropic:
    credentials: oauth
    oauth:
      access_token: old
      refresh_token: rt
      expires_at: 1000
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	rec, ok := cfg.OAuthRecord("anthropic")
	if !ok || rec.AccessToken != "old" || rec.ExpiresAt != 1000 {
		t.Fatalf("OAuthRecord = %+v, %v", rec, ok)
	}
	if _, ok := cfg.OAuthRecord("openai"); ok {
		t.Error("api_key provider should have no oauth record")
	}

	var _ credentials.Persister = cfg
	if err := cfg.SaveOAuth("anthropic", credentials.Record{AccessToken: "new", RefreshToken: "rt2", ExpiresAt: 5000}); err != nil {
		t.Fatalf("SaveOAuth: %v", err)
	}

	reloaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	rec, _ = reloaded.OAuthRecord("anthropic")
	if rec.AccessToken != "new" || rec.RefreshToken != "rt2" || rec.ExpiresAt != 5000 {
		t.Errorf("reloaded record = %+v", rec)
	}
	if reloaded.LogLevel != "debug" {
		t.Errorf("log_level=%q, other settings lost", reloaded.LogLevel)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	for _, comment := range []string{"# default provider", "# logged in with /login"} {
		if !strings.Contains(text, comment) {
			t.Errorf("comment %q lost:\n%s", comment, text)
		}
	}
	if p, l, ps := strings.Index(text, "provider:"), strings.Index(text, "log_level:"), strings.Index(text, "providers:"); !(p < l && l < ps) {
		t.Errorf("key order changed:\n%s", text)
	}
}

func TestSaveOAuthCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{path: path}
	if err := cfg.SaveOAuth("anthropic", credentials.Record{AccessToken: "at", RefreshToken: "rt", ExpiresAt: 42}); err != nil {
		t.Fatalf("SaveOAuth: %v", err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	rec, ok := loaded.OAuthRecord("anthropic")
	if !ok || rec.AccessToken != "at" || rec.ExpiresAt != 42 {
		t.Fatalf("OAuthRecord = %+v, %v", rec, ok)
	}
}
