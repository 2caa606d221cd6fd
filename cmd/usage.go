package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratuscode/stratus/internal/usage"
)

var (
	usageProvider  string
	usageSince     string
	usageUntil     string
	usageJSON      bool
	usageBreakdown bool
	usageAll       bool
	usageNoCost    bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage and estimated costs",
	Long: `Show token usage recorded in stored sessions, aggregated by day.

Costs are estimated from the LiteLLM price table, cached locally for a day.

Examples:
  stratus usage                              # last 7 days, this project
  stratus usage --all                        # every project
  stratus usage --provider anthropic
  stratus usage --since 20260101 --breakdown
  stratus usage --json`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().StringVarP(&usageProvider, "provider", "p", "", "Filter by provider key")
	usageCmd.Flags().StringVar(&usageSince, "since", "", "Start date (YYYYMMDD)")
	usageCmd.Flags().StringVar(&usageUntil, "until", "", "End date (YYYYMMDD)")
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Output as JSON")
	usageCmd.Flags().BoolVar(&usageBreakdown, "breakdown", false, "Show per-model breakdown")
	usageCmd.Flags().BoolVar(&usageAll, "all", false, "Include sessions from every project")
	usageCmd.Flags().BoolVar(&usageNoCost, "no-cost", false, "Skip cost estimation (no network)")
}

func runUsage(cmd *cobra.Command, args []string) error {
	since, until := usage.DefaultDateRange(time.Now())
	if usageSince != "" {
		t, err := usage.ParseDateYYYYMMDD(usageSince)
		if err != nil {
			return fmt.Errorf("invalid --since date (expected YYYYMMDD): %w", err)
		}
		since = t
	}
	if usageUntil != "" {
		t, err := usage.ParseDateYYYYMMDD(usageUntil)
		if err != nil {
			return fmt.Errorf("invalid --until date (expected YYYYMMDD): %w", err)
		}
		until = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
	}

	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	dir := ""
	if !usageAll {
		if dir, err = resolveProjectDir(projectDir); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := usage.LoadSessionUsage(ctx, store, dir)
	if err != nil {
		return fmt.Errorf("failed to load usage: %w", err)
	}
	filtered := usage.Filter(entries, usage.FilterOptions{
		Since:    since,
		Until:    until,
		Provider: usageProvider,
	})

	if len(filtered) == 0 {
		if usageJSON {
			fmt.Println(`{"daily": [], "totals": {}}`)
		} else {
			fmt.Println("No usage data found for the specified date range.")
		}
		return nil
	}

	if !usageNoCost {
		filtered = usage.CalculateCosts(ctx, filtered, usage.NewPricingFetcher())
	}

	daily := usage.AggregateDaily(filtered)
	totals := usage.CalculateTotals(daily)

	if usageJSON {
		return outputUsageJSON(daily, totals)
	}
	return outputUsageTable(daily, totals, since, until)
}

type usageJSONOutput struct {
	Daily  []usageJSONDay `json:"daily"`
	Totals usageJSONDay   `json:"totals"`
}

type usageJSONDay struct {
	Date         string               `json:"date,omitempty"`
	InputTokens  int                  `json:"inputTokens"`
	OutputTokens int                  `json:"outputTokens"`
	TotalTokens  int                  `json:"totalTokens"`
	Turns        int                  `json:"turns"`
	TotalCost    float64              `json:"totalCost"`
	ModelsUsed   []string             `json:"modelsUsed"`
	Breakdown    []usageJSONBreakdown `json:"breakdown,omitempty"`
}

type usageJSONBreakdown struct {
	Model        string  `json:"model"`
	Provider     string  `json:"provider,omitempty"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	Turns        int     `json:"turns"`
	Cost         float64 `json:"cost"`
}

func usageDayJSON(d usage.DailyUsage, breakdown bool) usageJSONDay {
	jd := usageJSONDay{
		Date:         d.Date,
		InputTokens:  d.InputTokens,
		OutputTokens: d.OutputTokens,
		TotalTokens:  d.TotalTokens(),
		Turns:        d.Turns,
		TotalCost:    d.TotalCost,
		ModelsUsed:   d.ModelsUsed,
	}
	if breakdown {
		for _, mb := range usage.GetModelBreakdown(d.Entries) {
			jd.Breakdown = append(jd.Breakdown, usageJSONBreakdown{
				Model:        mb.Model,
				Provider:     mb.Provider,
				InputTokens:  mb.InputTokens,
				OutputTokens: mb.OutputTokens,
				Turns:        mb.Turns,
				Cost:         mb.Cost,
			})
		}
	}
	return jd
}

func outputUsageJSON(daily []usage.DailyUsage, totals usage.DailyUsage) error {
	output := usageJSONOutput{
		Daily:  make([]usageJSONDay, len(daily)),
		Totals: usageDayJSON(totals, usageBreakdown),
	}
	output.Totals.Date = ""
	for i, d := range daily {
		output.Daily[i] = usageDayJSON(d, usageBreakdown)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func outputUsageTable(daily []usage.DailyUsage, totals usage.DailyUsage, since, until time.Time) error {
	fmt.Printf("Usage from %s to %s\n\n", since.Format("2006-01-02"), until.Format("2006-01-02"))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "Date\t Turns\t Input\t Output\t Cost\t\n")
	fmt.Fprintf(w, "────\t ─────\t ─────\t ──────\t ────\t\n")

	for _, d := range daily {
		fmt.Fprintf(w, "%s\t %d\t %s\t %s\t %s\t\n",
			d.Date, d.Turns, formatTokens(d.InputTokens), formatTokens(d.OutputTokens), formatCost(d.TotalCost))
		if usageBreakdown {
			for _, mb := range usage.GetModelBreakdown(d.Entries) {
				fmt.Fprintf(w, "  %s\t %d\t %s\t %s\t %s\t\n",
					shortenModelName(mb.Model), mb.Turns, formatTokens(mb.InputTokens),
					formatTokens(mb.OutputTokens), formatCost(mb.Cost))
			}
		}
	}

	fmt.Fprintf(w, "────\t ─────\t ─────\t ──────\t ────\t\n")
	if !usageBreakdown {
		for _, mb := range usage.GetModelBreakdown(totals.Entries) {
			fmt.Fprintf(w, "%s\t %d\t %s\t %s\t %s\t\n",
				shortenModelName(mb.Model), mb.Turns, formatTokens(mb.InputTokens),
				formatTokens(mb.OutputTokens), formatCost(mb.Cost))
		}
	}
	fmt.Fprintf(w, "Total\t %d\t %s\t %s\t %s\t\n",
		totals.Turns, formatTokens(totals.InputTokens), formatTokens(totals.OutputTokens), formatCost(totals.TotalCost))

	return w.Flush()
}

// formatTokens formats a token count in human-readable form (e.g., 1.5M, 384k)
func formatTokens(n int) string {
	if n >= 1_000_000 {
		val := float64(n) / 1_000_000
		if val >= 100 {
			return fmt.Sprintf("%.0fM", val)
		} else if val >= 10 {
			return fmt.Sprintf("%.1fM", val)
		}
		return fmt.Sprintf("%.2fM", val)
	}
	if n >= 1_000 {
		val := float64(n) / 1_000
		if val >= 100 {
			return fmt.Sprintf("%.0fk", val)
		} else if val >= 10 {
			return fmt.Sprintf("%.1fk", val)
		}
		return fmt.Sprintf("%.2fk", val)
	}
	return fmt.Sprintf("%d", n)
}

// formatCost formats a cost in USD
func formatCost(cost float64) string {
	return fmt.Sprintf("$%.2f", cost)
}

// shortenModelName drops provider prefixes and date suffixes:
// anthropic/claude-sonnet-4-5-20250929 -> claude-sonnet-4-5
func shortenModelName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	parts := strings.Split(name, "-")
	if last := parts[len(parts)-1]; len(parts) >= 3 && len(last) == 8 && strings.Trim(last, "0123456789") == "" {
		name = strings.Join(parts[:len(parts)-1], "-")
	}
	return name
}
