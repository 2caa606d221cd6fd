package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/stratuscode/stratus/internal/credentials"
)

// Credential schemes for a provider.
const (
	CredentialsAPIKey = "api_key"
	CredentialsOAuth  = "oauth"
	CredentialsClaude = "claude" // import the Claude CLI login as OAuth
)

// Provider types understood by the engine router.
const (
	TypeAnthropic    = "anthropic"
	TypeOpenAI       = "openai"
	TypeOpenAICompat = "openai-compat"
)

type Config struct {
	Provider        string                     `mapstructure:"provider"`
	Model           string                     `mapstructure:"model"`
	Agent           string                     `mapstructure:"agent"`
	ReasoningEffort string                     `mapstructure:"reasoning_effort"`
	LogLevel        string                     `mapstructure:"log_level"`
	FlushInterval   time.Duration              `mapstructure:"flush_interval"`
	MaxTurns        int                        `mapstructure:"max_turns"`
	Instructions    string                     `mapstructure:"instructions"` // extra system prompt text
	ContextLimits   map[string]int             `mapstructure:"context_limits"`
	Reference       ReferenceConfig            `mapstructure:"reference"`
	Sessions        SessionsConfig             `mapstructure:"sessions"`
	Providers       map[string]*ProviderConfig `mapstructure:"providers"`

	// path is the file the config was read from; refreshed credentials are
	// written back there.
	path string
}

// ProviderConfig configures one model provider.
type ProviderConfig struct {
	Type        string              `mapstructure:"type"` // anthropic, openai, openai-compat
	APIKey      string              `mapstructure:"api_key"`
	BaseURL     string              `mapstructure:"base_url"`
	Model       string              `mapstructure:"model"`
	Models      []string            `mapstructure:"models"`      // offered by list_models
	Credentials string              `mapstructure:"credentials"` // api_key (default), oauth or claude
	OAuth       *credentials.Record `mapstructure:"oauth"`
}

// ReferenceConfig bounds @path expansion.
type ReferenceConfig struct {
	MaxBytes int `mapstructure:"max_bytes"` // per file
	MaxFiles int `mapstructure:"max_files"` // per message
}

// SessionsConfig configures session storage.
type SessionsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`         // sqlite file; empty uses the data dir
	MaxAgeDays int    `mapstructure:"max_age_days"` // 0 keeps sessions forever
	MaxCount   int    `mapstructure:"max_count"`    // 0 is unlimited
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "anthropic")
	v.SetDefault("agent", "build")
	v.SetDefault("log_level", "info")
	v.SetDefault("flush_interval", 150*time.Millisecond)
	v.SetDefault("max_turns", 50)
	v.SetDefault("reference.max_bytes", 50*1024)
	v.SetDefault("reference.max_files", 20)
	v.SetDefault("sessions.enabled", true)
	v.SetDefault("providers.anthropic.type", TypeAnthropic)
	v.SetDefault("providers.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("providers.openai.type", TypeOpenAI)
	v.SetDefault("providers.openai.model", "gpt-5")
}

// Load reads config.yaml from the config dir or the working directory.
// A missing file is not an error.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads the config from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	cfg, err := load(v)
	if err != nil {
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Read config file (optional - won't error if missing)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.path = v.ConfigFileUsed()

	for key, p := range cfg.Providers {
		if p == nil {
			delete(cfg.Providers, key)
			continue
		}
		if err := resolveCredentials(key, p); err != nil {
			return nil, fmt.Errorf("%s credentials: %w", key, err)
		}
	}
	return &cfg, nil
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		c.Model = model
	}
}

// ActiveProvider returns the selected provider and the model to use with it.
func (c *Config) ActiveProvider() (string, *ProviderConfig, string, error) {
	p, ok := c.Providers[c.Provider]
	if !ok {
		return c.Provider, nil, "", fmt.Errorf("unknown provider %q", c.Provider)
	}
	model := c.Model
	if model == "" {
		model = p.Model
	}
	if model == "" {
		return c.Provider, p, "", fmt.Errorf("no model configured for provider %q", c.Provider)
	}
	return c.Provider, p, model, nil
}

// ProviderKeys returns configured provider keys in sorted order.
func (c *Config) ProviderKeys() []string {
	keys := make([]string, 0, len(c.Providers))
	for k := range c.Providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OAuthRecord returns the live OAuth record for a provider using an OAuth
// credential scheme.
func (c *Config) OAuthRecord(providerKey string) (*credentials.Record, bool) {
	p, ok := c.Providers[providerKey]
	if !ok || p.OAuth == nil {
		return nil, false
	}
	if p.Credentials != CredentialsOAuth && p.Credentials != CredentialsClaude {
		return nil, false
	}
	return p.OAuth, true
}

// Path returns the config file in use, or the default location.
func (c *Config) Path() (string, error) {
	if c.path != "" {
		return c.path, nil
	}
	return GetConfigPath()
}

// resolveCredentials fills in API keys and imported OAuth records.
func resolveCredentials(key string, cfg *ProviderConfig) error {
	if cfg.Type == "" {
		cfg.Type = key
	}
	cfg.BaseURL = expandEnv(cfg.BaseURL)

	switch cfg.Credentials {
	case CredentialsOAuth:
		if cfg.OAuth == nil || cfg.OAuth.AccessToken == "" {
			return fmt.Errorf("credentials: oauth requires providers.%s.oauth.access_token", key)
		}
	case CredentialsClaude:
		rec, err := credentials.LoadClaude()
		if err != nil {
			if cfg.OAuth != nil && cfg.OAuth.AccessToken != "" {
				// keep the copy written back by an earlier refresh
				return nil
			}
			return err
		}
		if cfg.OAuth == nil || rec.ExpiresAt > cfg.OAuth.ExpiresAt {
			cfg.OAuth = rec
		}
	default:
		cfg.APIKey = expandEnv(cfg.APIKey)
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv(envKey(key, cfg.Type))
		}
	}
	return nil
}

func envKey(key, typ string) string {
	switch typ {
	case TypeAnthropic:
		return "ANTHROPIC_API_KEY"
	case TypeOpenAI:
		return "OPENAI_API_KEY"
	}
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_")) + "_API_KEY"
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for stratus.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "stratus"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "stratus"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}
