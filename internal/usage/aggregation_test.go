package usage

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stratuscode/stratus/internal/session"
	"github.com/stratuscode/stratus/internal/timeline"
)

func seedSession(t *testing.T, store *session.MemoryStore, project, provider, model string, at time.Time, tokens ...timeline.TokenUsage) {
	t.Helper()
	ctx := context.Background()
	sess := &session.Session{ProjectDir: project, Provider: provider, Model: model}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.AddMessage(ctx, sess.ID, &session.Message{Role: session.RoleUser, Content: "hi", CreatedAt: at}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	for i, tok := range tokens {
		msg := &session.Message{
			Role:      session.RoleAssistant,
			Content:   "ok",
			Tokens:    &tok,
			CreatedAt: at.Add(time.Duration(i+1) * time.Minute),
		}
		if err := store.AddMessage(ctx, sess.ID, msg); err != nil {
			t.Fatalf("add assistant: %v", err)
		}
	}
}

func TestLoadSessionUsage(t *testing.T) {
	store := session.NewMemoryStore()
	day := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	seedSession(t, store, "/p", "anthropic", "claude-sonnet-4-5", day,
		timeline.TokenUsage{Input: 100, Output: 20},
		timeline.TokenUsage{Input: 300, Output: 40, Model: "claude-opus-4-1"},
		timeline.TokenUsage{})
	seedSession(t, store, "/other", "openai", "gpt-5", day.AddDate(0, 0, 1),
		timeline.TokenUsage{Input: 50, Output: 5})

	all, err := LoadSessionUsage(context.Background(), store, "")
	if err != nil {
		t.Fatalf("LoadSessionUsage: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("entries = %d, want 3", len(all))
	}
	if all[0].Model != "claude-sonnet-4-5" || all[0].Provider != "anthropic" {
		t.Errorf("first entry = %+v", all[0])
	}
	if all[1].Model != "claude-opus-4-1" {
		t.Errorf("per-message model not kept: %+v", all[1])
	}
	if !all[2].Timestamp.After(all[1].Timestamp) {
		t.Errorf("entries not sorted by time")
	}

	project, err := LoadSessionUsage(context.Background(), store, "/other")
	if err != nil {
		t.Fatalf("LoadSessionUsage: %v", err)
	}
	if len(project) != 1 || project[0].Provider != "openai" {
		t.Fatalf("project entries = %+v", project)
	}
}

func TestAggregateDailyAndTotals(t *testing.T) {
	d1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	d2 := d1.AddDate(0, 0, 1)
	entries := []Entry{
		{Timestamp: d2, Model: "gpt-5", Provider: "openai", InputTokens: 10, OutputTokens: 1, CostUSD: 0.5},
		{Timestamp: d1, Model: "claude-sonnet-4-5", Provider: "anthropic", InputTokens: 100, OutputTokens: 10, CostUSD: 1},
		{Timestamp: d1.Add(time.Hour), Model: "claude-sonnet-4-5", Provider: "anthropic", InputTokens: 50, OutputTokens: 5},
	}

	daily := AggregateDaily(entries)
	if len(daily) != 2 {
		t.Fatalf("days = %d, want 2", len(daily))
	}
	if daily[0].Date != "2026-03-02" || daily[0].InputTokens != 150 || daily[0].Turns != 2 {
		t.Errorf("day 1 = %+v", daily[0])
	}
	if len(daily[0].ModelsUsed) != 1 {
		t.Errorf("models = %v", daily[0].ModelsUsed)
	}

	total := CalculateTotals(daily)
	if total.TotalTokens() != 176 || total.Turns != 3 || total.TotalCost != 1.5 {
		t.Errorf("totals = %+v", total)
	}
	if len(total.ModelsUsed) != 2 || total.ModelsUsed[0] != "claude-sonnet-4-5" {
		t.Errorf("total models = %v", total.ModelsUsed)
	}

	breakdown := GetModelBreakdown(total.Entries)
	if len(breakdown) != 2 || breakdown[0].Model != "claude-sonnet-4-5" || breakdown[0].Turns != 2 {
		t.Errorf("breakdown = %+v", breakdown)
	}

	if AggregateDaily(nil) != nil {
		t.Error("AggregateDaily(nil) should be nil")
	}
}

func TestFilter(t *testing.T) {
	since, until := DefaultDateRange(time.Date(2026, 3, 10, 15, 0, 0, 0, time.Local))
	entries := []Entry{
		{Timestamp: time.Date(2026, 3, 3, 23, 0, 0, 0, time.Local), Provider: "anthropic"},
		{Timestamp: time.Date(2026, 3, 4, 0, 0, 0, 0, time.Local), Provider: "anthropic"},
		{Timestamp: time.Date(2026, 3, 10, 23, 59, 0, 0, time.Local), Provider: "openai"},
	}

	if got := Filter(entries, FilterOptions{Since: since, Until: until}); len(got) != 2 {
		t.Errorf("date filter kept %d, want 2", len(got))
	}
	if got := Filter(entries, FilterOptions{Provider: "openai"}); len(got) != 1 {
		t.Errorf("provider filter kept %d, want 1", len(got))
	}
}

func TestParseDateYYYYMMDD(t *testing.T) {
	d, err := ParseDateYYYYMMDD("20260115")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Year() != 2026 || d.Month() != time.January || d.Day() != 15 {
		t.Errorf("parsed %v", d)
	}
	if _, err := ParseDateYYYYMMDD("2026-01-15"); err == nil {
		t.Error("expected error for dashed date")
	}
}

const pricingJSON = `{
	"claude-sonnet-4-5": {"input_cost_per_token": 0.000003, "output_cost_per_token": 0.000015,
		"input_cost_per_token_above_200k_tokens": 0.000006},
	"openai/gpt-5": {"input_cost_per_token": 0.00000125, "output_cost_per_token": 0.00001},
	"sample_spec": "not pricing"
}`

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPricingFetcher(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(pricingJSON))
	}))
	defer srv.Close()

	cacheFile := filepath.Join(t.TempDir(), "pricing.json")
	f := NewPricingFetcherAt(srv.URL, cacheFile)
	ctx := context.Background()

	cost, err := f.CalculateCost(ctx, Entry{Model: "claude-sonnet-4-5", InputTokens: 1000, OutputTokens: 100})
	if err != nil {
		t.Fatalf("CalculateCost: %v", err)
	}
	if !approx(cost, 0.0045) {
		t.Errorf("cost = %v, want 0.0045", cost)
	}

	// Provider prefix and dated snapshot lookups.
	if _, err := f.GetPricing(ctx, "gpt-5"); err != nil {
		t.Errorf("prefixed lookup: %v", err)
	}
	if _, err := f.GetPricing(ctx, "claude-sonnet-4-5-20250929"); err != nil {
		t.Errorf("snapshot lookup: %v", err)
	}
	if _, err := f.GetPricing(ctx, "unknown-model"); err == nil {
		t.Error("expected error for unknown model")
	}

	// Tiered input pricing above 200k tokens.
	cost, _ = f.CalculateCost(ctx, Entry{Model: "claude-sonnet-4-5", InputTokens: 300_000})
	if !approx(cost, 200_000*0.000003+100_000*0.000006) {
		t.Errorf("tiered cost = %v", cost)
	}

	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}

	// A second fetcher reads the disk cache without the network.
	srv.Close()
	cached := NewPricingFetcherAt(srv.URL, cacheFile)
	if _, err := cached.GetPricing(ctx, "claude-sonnet-4-5"); err != nil {
		t.Errorf("disk cache lookup: %v", err)
	}

	priced := CalculateCosts(ctx, []Entry{{Model: "claude-sonnet-4-5", InputTokens: 1000}, {Model: "mystery", InputTokens: 5}}, cached)
	if !approx(priced[0].CostUSD, 0.003) || priced[1].CostUSD != 0 {
		t.Errorf("priced = %+v", priced)
	}
}
