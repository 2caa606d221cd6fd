package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	liteLLMPricingURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"
	pricingCacheTTL   = 24 * time.Hour
	tieredThreshold   = 200_000 // Token threshold for tiered pricing
)

// ModelPricing contains pricing information for a model
type ModelPricing struct {
	InputCostPerToken           float64 `json:"input_cost_per_token"`
	OutputCostPerToken          float64 `json:"output_cost_per_token"`
	InputCostPerTokenAbove200k  float64 `json:"input_cost_per_token_above_200k_tokens"`
	OutputCostPerTokenAbove200k float64 `json:"output_cost_per_token_above_200k_tokens"`
}

// PricingFetcher fetches and caches model pricing from LiteLLM. The table
// is kept on disk so repeated reports work offline.
type PricingFetcher struct {
	mu         sync.RWMutex
	cache      map[string]ModelPricing
	lastFetch  time.Time
	url        string
	cacheFile  string
	httpClient *http.Client
}

// NewPricingFetcher creates a fetcher caching under the user cache dir.
func NewPricingFetcher() *PricingFetcher {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return NewPricingFetcherAt(liteLLMPricingURL, filepath.Join(dir, "stratus", "pricing.json"))
}

// NewPricingFetcherAt creates a fetcher for an explicit source and cache file.
func NewPricingFetcherAt(url, cacheFile string) *PricingFetcher {
	return &PricingFetcher{
		cache:     make(map[string]ModelPricing),
		url:       url,
		cacheFile: cacheFile,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// providerPrefixes are common prefixes to try when looking up model names
var providerPrefixes = []string{
	"anthropic/",
	"openai/",
	"openrouter/anthropic/",
	"openrouter/openai/",
}

// GetPricing returns pricing for a model, fetching if necessary
func (p *PricingFetcher) GetPricing(ctx context.Context, modelName string) (ModelPricing, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return ModelPricing{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if pricing, ok := p.cache[modelName]; ok {
		return pricing, nil
	}
	for _, prefix := range providerPrefixes {
		if pricing, ok := p.cache[prefix+modelName]; ok {
			return pricing, nil
		}
	}

	// Dated snapshots such as claude-sonnet-4-5-20250929 fall back to the
	// longest known key that prefixes them.
	lower := strings.ToLower(modelName)
	best := ""
	for key := range p.cache {
		keyLower := strings.ToLower(key)
		if strings.HasPrefix(lower, keyLower) && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return p.cache[best], nil
	}
	return ModelPricing{}, fmt.Errorf("pricing not found for model: %s", modelName)
}

func (p *PricingFetcher) ensureLoaded(ctx context.Context) error {
	p.mu.RLock()
	if len(p.cache) > 0 && time.Since(p.lastFetch) < pricingCacheTTL {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	return p.fetch(ctx)
}

// fetch retrieves pricing data, preferring a fresh disk cache.
func (p *PricingFetcher) fetch(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if len(p.cache) > 0 && time.Since(p.lastFetch) < pricingCacheTTL {
		return nil
	}

	if info, err := os.Stat(p.cacheFile); err == nil && time.Since(info.ModTime()) < pricingCacheTTL {
		if data, err := os.ReadFile(p.cacheFile); err == nil {
			if err := p.parseData(data); err == nil {
				return nil
			}
		}
	}

	data, err := p.download(ctx)
	if err != nil {
		// Try disk cache even if stale
		if cached, readErr := os.ReadFile(p.cacheFile); readErr == nil {
			if parseErr := p.parseData(cached); parseErr == nil {
				slog.Debug("using stale pricing cache", "error", err)
				return nil
			}
		}
		return err
	}
	if err := p.parseData(data); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p.cacheFile), 0755); err == nil {
		if err := os.WriteFile(p.cacheFile, data, 0644); err != nil {
			slog.Debug("pricing cache write failed", "error", err)
		}
	}
	return nil
}

func (p *PricingFetcher) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pricing: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pricing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch pricing: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing data: %w", err)
	}
	return data, nil
}

// parseData parses the LiteLLM pricing JSON
func (p *PricingFetcher) parseData(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse pricing JSON: %w", err)
	}

	newCache := make(map[string]ModelPricing)
	for key, value := range raw {
		var pricing ModelPricing
		if err := json.Unmarshal(value, &pricing); err != nil {
			continue // Skip invalid entries
		}
		newCache[key] = pricing
	}

	p.cache = newCache
	p.lastFetch = time.Now()
	return nil
}

// CalculateCost calculates the cost for a usage entry
func (p *PricingFetcher) CalculateCost(ctx context.Context, entry Entry) (float64, error) {
	if entry.Model == "" {
		return 0, nil
	}

	pricing, err := p.GetPricing(ctx, entry.Model)
	if err != nil {
		return 0, err
	}

	return calculateTieredCost(entry.InputTokens, pricing.InputCostPerToken, pricing.InputCostPerTokenAbove200k) +
		calculateTieredCost(entry.OutputTokens, pricing.OutputCostPerToken, pricing.OutputCostPerTokenAbove200k), nil
}

// calculateTieredCost calculates cost with tiered pricing (200k threshold)
func calculateTieredCost(tokens int, basePrice, tieredPrice float64) float64 {
	if tokens <= 0 {
		return 0
	}

	if tokens > tieredThreshold && tieredPrice > 0 {
		aboveThreshold := tokens - tieredThreshold
		cost := float64(aboveThreshold) * tieredPrice
		if basePrice > 0 {
			cost += float64(tieredThreshold) * basePrice
		}
		return cost
	}

	if basePrice > 0 {
		return float64(tokens) * basePrice
	}
	return 0
}
