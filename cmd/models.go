package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stratuscode/stratus/internal/agent"
	"github.com/stratuscode/stratus/internal/usage"
)

var (
	modelsProvider string
	modelsJSON     bool
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List configured models",
	Long: `List the models offered by the configured providers, with the
context window used for token accounting.

Examples:
  stratus models
  stratus models --provider openai
  stratus models --json`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().StringVarP(&modelsProvider, "provider", "p", "", "Only list models of this provider key")
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var entries []agent.ModelEntry
	for _, e := range agent.Models(cfg) {
		if modelsProvider == "" || e.ProviderKey == modelsProvider {
			entries = append(entries, e)
		}
	}

	if modelsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No models configured.")
		return nil
	}

	fmt.Printf("%-14s %-36s %9s %s\n", "PROVIDER", "MODEL", "CONTEXT", "REASONING")
	for _, e := range entries {
		reasoning := "-"
		if e.Reasoning {
			reasoning = "yes"
		}
		marker := " "
		if e.ProviderKey == cfg.Provider && (e.ID == cfg.Model || (cfg.Model == "" && e.ID == cfg.Providers[e.ProviderKey].Model)) {
			marker = "*"
		}
		fmt.Printf("%-14s %s%-35s %9s %s\n", e.ProviderKey, marker, e.ID,
			formatSessionCount(usage.ContextLimit(e.ID, cfg.ContextLimits)), reasoning)
	}
	return nil
}
