package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/stratuscode/stratus/internal/config"
)

// SessionFlags holds the per-command overrides of the configured provider,
// model, mode and reasoning effort.
type SessionFlags struct {
	Provider        string
	Model           string
	Agent           string
	ReasoningEffort string
	MaxTurns        int
}

// AddSessionFlags registers the override flags on cmd.
func AddSessionFlags(cmd *cobra.Command, f *SessionFlags) {
	cmd.Flags().StringVarP(&f.Provider, "provider", "p", "", "Override provider, optionally with model (e.g., openai:gpt-5)")
	cmd.Flags().StringVarP(&f.Model, "model", "m", "", "Override model")
	cmd.Flags().StringVarP(&f.Agent, "agent", "a", "", "Start in mode: build or plan")
	cmd.Flags().StringVar(&f.ReasoningEffort, "reasoning-effort", "", "Reasoning effort: off, low, medium, high")
	cmd.Flags().IntVar(&f.MaxTurns, "max-turns", 0, "Maximum model calls per turn (0 uses config)")
	if err := cmd.RegisterFlagCompletionFunc("provider", providerFlagCompletion); err != nil {
		panic("failed to register provider completion: " + err.Error())
	}
	if err := cmd.RegisterFlagCompletionFunc("agent", cobra.FixedCompletions([]string{"build", "plan"}, cobra.ShellCompDirectiveNoFileComp)); err != nil {
		panic("failed to register agent completion: " + err.Error())
	}
}

// Apply writes the overrides onto cfg.
func (f *SessionFlags) Apply(cfg *config.Config) {
	provider, model := parseProviderModel(f.Provider)
	if f.Model != "" {
		model = f.Model
	}
	if provider != "" && model == "" && provider != cfg.Provider {
		// Switching provider drops a model configured for the old one.
		cfg.Model = ""
	}
	cfg.ApplyOverrides(provider, model)
	if f.Agent != "" {
		cfg.Agent = f.Agent
	}
	if f.ReasoningEffort != "" {
		cfg.ReasoningEffort = f.ReasoningEffort
	}
	if f.MaxTurns > 0 {
		cfg.MaxTurns = f.MaxTurns
	}
}

// parseProviderModel splits "provider:model".
func parseProviderModel(s string) (string, string) {
	provider, model, _ := strings.Cut(s, ":")
	return provider, model
}

func providerFlagCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, key := range cfg.ProviderKeys() {
		if strings.HasPrefix(key, toComplete) {
			out = append(out, key)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
