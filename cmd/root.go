package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/stratus/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Project directory")
}

var rootCmd = &cobra.Command{
	Use:   "stratus",
	Short: "A terminal coding assistant",
	Long: `stratus runs an AI coding assistant against a project directory.

Examples:
  stratus backend                         # serve JSON-RPC on stdio for a UI
  stratus ask "where is the retry logic?"  # one-shot question
  stratus ask --agent plan "add caching"
  stratus sessions                        # list recent sessions
  stratus models                          # list configured models`,
	Version:           Version,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
}

var (
	configPath string
	logLevel   string
	projectDir string
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
