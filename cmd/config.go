package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratuscode/stratus/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show stratus configuration",
	Long: `Show the effective configuration, with credentials reported by status
only. Subcommands print the config path and open it in $EDITOR.`,
	Args: cobra.NoArgs,
	RunE: configShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file in $EDITOR",
	Args:  cobra.NoArgs,
	RunE:  runConfigEdit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)
}

func configShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := cfg.Path()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		fmt.Printf("# No config file (using defaults)\n")
		fmt.Printf("# Create one at: %s\n\n", path)
	} else {
		fmt.Printf("# %s\n\n", path)
	}

	fmt.Printf("provider: %s\n", cfg.Provider)
	if cfg.Model != "" {
		fmt.Printf("model: %s\n", cfg.Model)
	}
	fmt.Printf("agent: %s\n", cfg.Agent)
	if cfg.ReasoningEffort != "" {
		fmt.Printf("reasoning_effort: %s\n", cfg.ReasoningEffort)
	}
	fmt.Printf("log_level: %s\n", cfg.LogLevel)
	fmt.Printf("max_turns: %d\n", cfg.MaxTurns)
	fmt.Printf("flush_interval: %s\n", cfg.FlushInterval)

	fmt.Printf("\nsessions:\n")
	fmt.Printf("  enabled: %t\n", cfg.Sessions.Enabled)
	if cfg.Sessions.Path != "" {
		fmt.Printf("  path: %s\n", cfg.Sessions.Path)
	}
	if cfg.Sessions.MaxAgeDays > 0 {
		fmt.Printf("  max_age_days: %d\n", cfg.Sessions.MaxAgeDays)
	}
	if cfg.Sessions.MaxCount > 0 {
		fmt.Printf("  max_count: %d\n", cfg.Sessions.MaxCount)
	}

	fmt.Printf("\nproviders:\n")
	for _, name := range cfg.ProviderKeys() {
		p := cfg.Providers[name]
		fmt.Printf("  %s:\n", name)
		fmt.Printf("    type: %s\n", p.Type)
		if p.Model != "" {
			fmt.Printf("    model: %s\n", p.Model)
		}
		if p.BaseURL != "" {
			fmt.Printf("    base_url: %s\n", p.BaseURL)
		}
		fmt.Printf("    credentials: %s\n", credentialStatus(p))
	}
	return nil
}

// credentialStatus describes a provider's credentials without printing them.
func credentialStatus(p *config.ProviderConfig) string {
	switch p.Credentials {
	case config.CredentialsOAuth, config.CredentialsClaude:
		if p.OAuth == nil {
			return p.Credentials + " [NOT SET]"
		}
		rec := p.OAuth.Snapshot()
		if rec.AccessToken == "" {
			return p.Credentials + " [NOT SET]"
		}
		if rec.ExpiresAt > 0 {
			expires := time.UnixMilli(rec.ExpiresAt)
			if time.Now().After(expires) {
				return p.Credentials + " [expired, refreshed on next turn]"
			}
			return fmt.Sprintf("%s [OK, expires %s]", p.Credentials, expires.Format(time.RFC3339))
		}
		return p.Credentials + " [OK]"
	default:
		if p.APIKey != "" {
			return "api_key [set]"
		}
		return "api_key [NOT SET]"
	}
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}
	c := exec.Command(editor, path)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

// resolveConfigPath returns --config when given, else the default location.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}
