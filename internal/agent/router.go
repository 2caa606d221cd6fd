package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/stratuscode/stratus/internal/config"
)

// Router is the Engine used by the CLI. It resolves the provider named in
// each request from the config, so provider and model switches and refreshed
// OAuth tokens take effect on the next turn.
type Router struct {
	cfg          *config.Config
	retry        RetryConfig
	contextLimit func(model string) int
	// newProvider is replaceable in tests.
	newProvider func(key string, p *config.ProviderConfig) (Provider, error)
}

// NewRouter creates a router over cfg.
func NewRouter(cfg *config.Config, contextLimit func(model string) int) *Router {
	return &Router{
		cfg:          cfg,
		retry:        DefaultRetryConfig(),
		contextLimit: contextLimit,
		newProvider:  buildProvider,
	}
}

func (r *Router) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	key := req.Provider
	if key == "" {
		key = r.cfg.Provider
	}
	pc, ok := r.cfg.Providers[key]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", key)
	}
	if req.Model == "" {
		req.Model = pc.Model
	}
	if req.Model == "" {
		return nil, fmt.Errorf("no model configured for provider %q", key)
	}

	provider, err := r.newProvider(key, pc)
	if err != nil {
		return nil, err
	}
	return NewLoop(WrapWithRetry(provider, r.retry), r.contextLimit).Run(ctx, req, sink)
}

func buildProvider(key string, p *config.ProviderConfig) (Provider, error) {
	switch p.Type {
	case config.TypeAnthropic:
		if p.Credentials == config.CredentialsOAuth || p.Credentials == config.CredentialsClaude {
			if p.OAuth == nil {
				return nil, fmt.Errorf("provider %q has no OAuth token", key)
			}
			rec := p.OAuth.Snapshot()
			if rec.AccessToken == "" {
				return nil, fmt.Errorf("provider %q has no OAuth token", key)
			}
			return NewAnthropicOAuthProvider(rec.AccessToken), nil
		}
		if p.APIKey == "" {
			return nil, fmt.Errorf("provider %q: ANTHROPIC_API_KEY not set", key)
		}
		return NewAnthropicProvider(p.APIKey, p.BaseURL), nil
	case config.TypeOpenAI:
		if p.APIKey == "" {
			return nil, fmt.Errorf("provider %q: OPENAI_API_KEY not set", key)
		}
		return NewOpenAIProvider(key, p.APIKey, p.BaseURL), nil
	case config.TypeOpenAICompat:
		if p.BaseURL == "" {
			return nil, fmt.Errorf("provider %q: base_url is required", key)
		}
		return NewOpenAIProvider(key, p.APIKey, p.BaseURL), nil
	}
	return nil, fmt.Errorf("provider %q: unsupported type %q", key, p.Type)
}

// ModelEntry is one selectable model.
type ModelEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProviderKey string `json:"providerKey,omitempty"`
	Group       string `json:"group"`
	Reasoning   bool   `json:"reasoning,omitempty"`
}

// Models lists the models offered by every configured provider, grouped by
// provider key.
func Models(cfg *config.Config) []ModelEntry {
	var out []ModelEntry
	for _, key := range cfg.ProviderKeys() {
		p := cfg.Providers[key]
		seen := make(map[string]bool)
		ids := append([]string{p.Model}, p.Models...)
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, ModelEntry{
				ID:          id,
				Name:        id,
				ProviderKey: key,
				Group:       key,
				Reasoning:   supportsReasoning(p.Type, id),
			})
		}
	}
	return out
}

func supportsReasoning(typ, model string) bool {
	switch typ {
	case config.TypeAnthropic:
		return !strings.Contains(model, "haiku-3") && !strings.HasPrefix(model, "claude-3-5")
	case config.TypeOpenAI:
		return strings.HasPrefix(model, "o") || strings.HasPrefix(model, "gpt-5")
	}
	return false
}
