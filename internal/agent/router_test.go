package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stratuscode/stratus/internal/config"
	"github.com/stratuscode/stratus/internal/credentials"
)

func testConfig() *config.Config {
	return &config.Config{
		Provider: "anthropic",
		Providers: map[string]*config.ProviderConfig{
			"anthropic": {Type: config.TypeAnthropic, Model: "claude-sonnet-4-5", Models: []string{"claude-opus-4-1", "claude-sonnet-4-5"}},
			"local":     {Type: config.TypeOpenAICompat, Model: "qwen3", BaseURL: "http://localhost:11434/v1"},
		},
	}
}

func TestBuildProviderValidatesCredentials(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ProviderConfig
		wantErr string
	}{
		{"anthropic without key", config.ProviderConfig{Type: config.TypeAnthropic}, "ANTHROPIC_API_KEY"},
		{"oauth without token", config.ProviderConfig{Type: config.TypeAnthropic, Credentials: config.CredentialsOAuth}, "no OAuth token"},
		{"compat without url", config.ProviderConfig{Type: config.TypeOpenAICompat}, "base_url"},
		{"unknown type", config.ProviderConfig{Type: "carrier-pigeon"}, "unsupported type"},
		{"oauth ok", config.ProviderConfig{Type: config.TypeAnthropic, Credentials: config.CredentialsClaude, OAuth: &credentials.Record{AccessToken: "tok"}}, ""},
		{"openai ok", config.ProviderConfig{Type: config.TypeOpenAI, APIKey: "sk"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			p, err := buildProvider("p", &cfg)
			if tt.wantErr == "" {
				if err != nil || p == nil {
					t.Fatalf("buildProvider() = %v, %v", p, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRouterResolvesProviderAndModel(t *testing.T) {
	r := NewRouter(testConfig(), nil)
	fake := &fakeProvider{script: func(call int, req CallRequest) ([]Event, error) {
		return textEvents("hi", 1, 1), nil
	}}
	var gotKey string
	r.newProvider = func(key string, p *config.ProviderConfig) (Provider, error) {
		gotKey = key
		return fake, nil
	}

	if _, err := r.Run(context.Background(), Request{Provider: "local", Messages: []Message{UserText("x")}}, &recordingSink{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gotKey != "local" || fake.calls[0].Model != "qwen3" {
		t.Errorf("key = %q model = %q", gotKey, fake.calls[0].Model)
	}

	if _, err := r.Run(context.Background(), Request{Provider: "nope"}, &recordingSink{}); err == nil {
		t.Error("expected unknown provider error")
	}
}

func TestModelsListsEveryProvider(t *testing.T) {
	entries := Models(testConfig())
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ProviderKey+"/"+e.ID)
	}
	want := "anthropic/claude-sonnet-4-5,anthropic/claude-opus-4-1,local/qwen3"
	if got := strings.Join(ids, ","); got != want {
		t.Errorf("models = %s, want %s", got, want)
	}
	if !entries[0].Reasoning || entries[2].Reasoning {
		t.Errorf("reasoning flags = %v/%v", entries[0].Reasoning, entries[2].Reasoning)
	}
}
