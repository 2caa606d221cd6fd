package usage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/stratuscode/stratus/internal/session"
)

// SessionSource is the part of the session store usage reports read from.
type SessionSource interface {
	List(ctx context.Context, opts session.ListOptions) ([]session.Summary, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	GetMessages(ctx context.Context, sessionID string) ([]session.Message, error)
}

const listPageSize = 200

// LoadSessionUsage collects one entry per assistant message that recorded
// tokens. An empty projectDir reads every project.
func LoadSessionUsage(ctx context.Context, src SessionSource, projectDir string) ([]Entry, error) {
	var entries []Entry
	for offset := 0; ; offset += listPageSize {
		page, err := src.List(ctx, session.ListOptions{ProjectDir: projectDir, Limit: listPageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		for _, sum := range page {
			sessEntries, err := loadSession(ctx, src, sum)
			if err != nil {
				return nil, err
			}
			entries = append(entries, sessEntries...)
		}
		if len(page) < listPageSize {
			break
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func loadSession(ctx context.Context, src SessionSource, sum session.Summary) ([]Entry, error) {
	provider := ""
	if sess, err := src.Get(ctx, sum.ID); err == nil {
		provider = sess.Provider
	}
	msgs, err := src.GetMessages(ctx, sum.ID)
	if err != nil {
		return nil, fmt.Errorf("messages of %s: %w", sum.ID, err)
	}
	var entries []Entry
	for _, m := range msgs {
		if m.Role != session.RoleAssistant || m.Tokens == nil {
			continue
		}
		if m.Tokens.Input == 0 && m.Tokens.Output == 0 {
			continue
		}
		model := m.Tokens.Model
		if model == "" {
			model = sum.Model
		}
		entries = append(entries, Entry{
			Timestamp:    m.CreatedAt,
			SessionID:    sum.ID,
			Provider:     provider,
			Model:        model,
			InputTokens:  m.Tokens.Input,
			OutputTokens: m.Tokens.Output,
		})
	}
	return entries, nil
}

// AggregateDaily aggregates usage entries by local day
func AggregateDaily(entries []Entry) []DailyUsage {
	if len(entries) == 0 {
		return nil
	}

	byDate := make(map[string]*DailyUsage)
	for _, e := range entries {
		date := e.Timestamp.Local().Format("2006-01-02")
		daily, ok := byDate[date]
		if !ok {
			daily = &DailyUsage{Date: date}
			byDate[date] = daily
		}

		daily.InputTokens += e.InputTokens
		daily.OutputTokens += e.OutputTokens
		daily.Turns++
		daily.TotalCost += e.CostUSD
		daily.Entries = append(daily.Entries, e)
		if e.Model != "" && !slices.Contains(daily.ModelsUsed, e.Model) {
			daily.ModelsUsed = append(daily.ModelsUsed, e.Model)
		}
	}

	result := make([]DailyUsage, 0, len(byDate))
	for _, daily := range byDate {
		result = append(result, *daily)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result
}

// GetModelBreakdown returns token usage broken down by model, largest first
func GetModelBreakdown(entries []Entry) []ModelBreakdown {
	byModel := make(map[string]*ModelBreakdown)
	for _, e := range entries {
		model := e.Model
		if model == "" {
			model = "unknown"
		}
		mb, ok := byModel[model]
		if !ok {
			mb = &ModelBreakdown{Model: model, Provider: e.Provider}
			byModel[model] = mb
		}
		mb.InputTokens += e.InputTokens
		mb.OutputTokens += e.OutputTokens
		mb.Turns++
		mb.Cost += e.CostUSD
	}

	result := make([]ModelBreakdown, 0, len(byModel))
	for _, mb := range byModel {
		result = append(result, *mb)
	}
	sort.Slice(result, func(i, j int) bool {
		iTotal := result[i].InputTokens + result[i].OutputTokens
		jTotal := result[j].InputTokens + result[j].OutputTokens
		if iTotal != jTotal {
			return iTotal > jTotal
		}
		return result[i].Model < result[j].Model
	})
	return result
}

// CalculateTotals calculates total usage across all daily entries
func CalculateTotals(daily []DailyUsage) DailyUsage {
	var total DailyUsage
	total.Date = "Total"
	modelSet := make(map[string]bool)

	for _, d := range daily {
		total.InputTokens += d.InputTokens
		total.OutputTokens += d.OutputTokens
		total.Turns += d.Turns
		total.TotalCost += d.TotalCost
		total.Entries = append(total.Entries, d.Entries...)
		for _, m := range d.ModelsUsed {
			modelSet[m] = true
		}
	}
	for m := range modelSet {
		total.ModelsUsed = append(total.ModelsUsed, m)
	}
	sort.Strings(total.ModelsUsed)
	return total
}

// CalculateCosts prices entries that have no cost yet. Entries whose model
// has no known price keep a zero cost.
func CalculateCosts(ctx context.Context, entries []Entry, fetcher *PricingFetcher) []Entry {
	result := make([]Entry, len(entries))
	copy(result, entries)
	for i := range result {
		if result[i].CostUSD > 0 {
			continue
		}
		if cost, err := fetcher.CalculateCost(ctx, result[i]); err == nil {
			result[i].CostUSD = cost
		}
	}
	return result
}

// DefaultDateRange returns the default date range (last 7 days)
func DefaultDateRange(now time.Time) (since, until time.Time) {
	until = time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	since = until.AddDate(0, 0, -6) // 7 days including today
	since = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, since.Location())
	return since, until
}

// ParseDateYYYYMMDD parses a date in YYYYMMDD format in local time
func ParseDateYYYYMMDD(s string) (time.Time, error) {
	return time.ParseInLocation("20060102", s, time.Local)
}
