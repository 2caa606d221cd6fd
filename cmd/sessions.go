package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratuscode/stratus/internal/mode"
	"github.com/stratuscode/stratus/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored sessions",
	Long: `List, search, show, rename and delete stored sessions.

Examples:
  stratus sessions                       # List recent sessions for this project
  stratus sessions list --all
  stratus sessions search "retry"
  stratus sessions show <id>
  stratus sessions rename <id> "Cache design"
  stratus sessions plan <id>             # Print the plan written in plan mode
  stratus sessions delete <id>`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search message content",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsSearch,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Set a session title",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSessionsRename,
}

var sessionsPlanCmd = &cobra.Command{
	Use:   "plan <id>",
	Short: "Print a session's plan file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsPlan,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var (
	sessionsLimit int
	sessionsAll   bool
	sessionsJSON  bool
)

func init() {
	for _, c := range []*cobra.Command{sessionsCmd, sessionsListCmd} {
		c.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions to list")
		c.Flags().BoolVar(&sessionsAll, "all", false, "Include sessions from every project")
	}
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSearchCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsPlanCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	rootCmd.AddCommand(sessionsCmd)
}

func getSessionStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel, os.Stderr)
	if !cfg.Sessions.Enabled {
		return nil, errors.New("session storage is disabled in config")
	}
	return openStore(cfg)
}

// resolveSessionID accepts a full id or a unique prefix.
func resolveSessionID(ctx context.Context, store session.Store, id string) (string, error) {
	if _, err := store.Get(ctx, id); err == nil {
		return id, nil
	}
	summaries, err := store.List(ctx, session.ListOptions{Limit: 1000})
	if err != nil {
		return "", err
	}
	var match string
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, id) {
			if match != "" {
				return "", fmt.Errorf("session prefix %q is ambiguous", id)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("session '%s' not found", id)
	}
	return match, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts := session.ListOptions{Limit: sessionsLimit}
	if !sessionsAll {
		dir, err := resolveProjectDir(projectDir)
		if err != nil {
			return err
		}
		opts.ProjectDir = dir
	}

	ctx := context.Background()
	summaries, err := store.List(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Printf("%-10s %-36s %4s %-11s %-9s %s\n", "ID", "TITLE", "MSGS", "TOKENS", "STATUS", "AGE")
	fmt.Println(strings.Repeat("-", 84))
	for _, s := range summaries {
		title := s.Title
		if len(title) > 36 {
			title = title[:33] + "..."
		}
		status := string(s.Status)
		if status == "" {
			status = string(session.StatusActive)
		}
		fmt.Printf("%-10s %-36s %4d %-11s %-9s %s\n",
			shortID(s.ID), title, s.MessageCount,
			formatSessionTokens(s.InputTokens, s.OutputTokens), status,
			formatRelativeTime(s.UpdatedAt))
	}
	return nil
}

func runSessionsSearch(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results, err := store.Search(context.Background(), query, 20)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Printf("No results found for '%s'\n", query)
		return nil
	}

	fmt.Printf("Found %d matches for '%s':\n\n", len(results), query)
	for _, r := range results {
		title := r.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %s\n", shortID(r.SessionID), title)
		fmt.Printf("  %s\n\n", r.Snippet)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := resolveSessionID(ctx, store, args[0])
	if err != nil {
		return err
	}
	sess, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	messages, err := store.GetMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get messages: %w", err)
	}

	if sessionsJSON {
		data := struct {
			Session  *session.Session  `json:"session"`
			Messages []session.Message `json:"messages"`
		}{
			Session:  sess,
			Messages: messages,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	in, out, err := store.TokenTotals(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get token totals: %w", err)
	}

	fmt.Printf("Session: %s\n", sess.ID)
	if sess.Title != "" {
		fmt.Printf("Title: %s\n", sess.Title)
	}
	fmt.Printf("Project: %s\n", sess.ProjectDir)
	fmt.Printf("Agent: %s\n", sess.Agent)
	fmt.Printf("Provider: %s\n", sess.Provider)
	fmt.Printf("Model: %s\n", sess.Model)
	fmt.Printf("Status: %s\n", sess.Status)
	fmt.Printf("Created: %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", sess.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("Tokens: %s (input: %d, output: %d)\n", formatSessionTokens(in, out), in, out)
	fmt.Println()

	for _, msg := range messages {
		role := "you"
		if msg.Role == session.RoleAssistant {
			role = "assistant"
		}
		content := msg.Content
		if len(content) > 200 {
			content = content[:197] + "..."
		}
		fmt.Printf("%s: %s\n\n", role, content)
	}
	return nil
}

func runSessionsRename(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := resolveSessionID(ctx, store, args[0])
	if err != nil {
		return err
	}
	sess, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	sess.Title = session.TruncateTitle(strings.Join(args[1:], " "))
	if err := store.Update(ctx, sess); err != nil {
		return fmt.Errorf("failed to rename session: %w", err)
	}
	fmt.Printf("Renamed session %s to %q\n", shortID(id), sess.Title)
	return nil
}

func runSessionsPlan(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := resolveSessionID(context.Background(), store, args[0])
	if err != nil {
		return err
	}
	dataDir, err := session.GetDataDir()
	if err != nil {
		return err
	}
	path := mode.NewManager(dataDir).PlanFile(id)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session %s has no plan", shortID(id))
	}
	if err != nil {
		return fmt.Errorf("failed to read plan: %w", err)
	}
	fmt.Fprintf(os.Stderr, "# %s\n", path)
	fmt.Print(string(data))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := resolveSessionID(ctx, store, args[0])
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Printf("Deleted session: %s\n", id)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatSessionTokens formats input/output tokens in compact form
func formatSessionTokens(input, output int) string {
	if input == 0 && output == 0 {
		return "-"
	}
	return fmt.Sprintf("%s/%s", formatSessionCount(input), formatSessionCount(output))
}

// formatSessionCount formats a number in compact form (e.g., 1k, 1.2k, 3.4M)
func formatSessionCount(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		val := float64(n) / 1000
		if val == float64(int(val)) {
			return fmt.Sprintf("%dk", int(val))
		}
		return fmt.Sprintf("%.1fk", val)
	}
	val := float64(n) / 1000000
	if val == float64(int(val)) {
		return fmt.Sprintf("%dM", int(val))
	}
	return fmt.Sprintf("%.1fM", val)
}

func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 02")
	}
}
