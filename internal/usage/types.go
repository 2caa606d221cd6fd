package usage

import "time"

// Entry is the token usage of one assistant turn.
type Entry struct {
	Timestamp    time.Time
	SessionID    string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// TotalTokens returns input plus output tokens.
func (e Entry) TotalTokens() int {
	return e.InputTokens + e.OutputTokens
}

// DailyUsage represents aggregated usage for a single day
type DailyUsage struct {
	Date         string // YYYY-MM-DD format
	InputTokens  int
	OutputTokens int
	Turns        int
	TotalCost    float64
	ModelsUsed   []string
	Entries      []Entry // Raw entries for this day (used for breakdown)
}

// TotalTokens returns the sum of all token types for the day
func (d DailyUsage) TotalTokens() int {
	return d.InputTokens + d.OutputTokens
}

// ModelBreakdown represents usage breakdown by model
type ModelBreakdown struct {
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
	Turns        int
	Cost         float64
}

// FilterOptions contains options for filtering usage data
type FilterOptions struct {
	Since    time.Time // Include entries on or after this time
	Until    time.Time // Include entries on or before this time
	Provider string    // Filter to specific provider key, or empty for all
}

// Filter returns entries matching the filter options
func Filter(entries []Entry, opts FilterOptions) []Entry {
	var result []Entry
	for _, e := range entries {
		if opts.Provider != "" && e.Provider != opts.Provider {
			continue
		}
		if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && e.Timestamp.After(opts.Until) {
			continue
		}
		result = append(result, e)
	}
	return result
}
