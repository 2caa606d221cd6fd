package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

type claudeCredentials struct {
	ClaudeAiOauth *claudeOAuth `json:"claudeAiOauth"`
}

type claudeOAuth struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// LoadClaude imports the OAuth login of an installed Claude CLI as a Record.
// On macOS it reads the system keychain, elsewhere ~/.claude/.credentials.json.
func LoadClaude() (*Record, error) {
	var data []byte
	var err error
	if runtime.GOOS == "darwin" {
		data, err = claudeFromKeychain()
	} else {
		data, err = claudeFromFile()
	}
	if err != nil {
		return nil, err
	}
	return parseClaude(data)
}

func parseClaude(data []byte) (*Record, error) {
	var creds claudeCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse claude credentials: %w", err)
	}
	if creds.ClaudeAiOauth == nil || creds.ClaudeAiOauth.AccessToken == "" {
		return nil, fmt.Errorf("no access token found in claude credentials")
	}
	return &Record{
		AccessToken:  creds.ClaudeAiOauth.AccessToken,
		RefreshToken: creds.ClaudeAiOauth.RefreshToken,
		ExpiresAt:    creds.ClaudeAiOauth.ExpiresAt,
		TokenURL:     AnthropicTokenURL,
		ClientID:     ClaudeClientID,
	}, nil
}

func claudeFromKeychain() ([]byte, error) {
	user := os.Getenv("USER")
	if user == "" {
		return nil, fmt.Errorf("USER environment variable not set")
	}
	cmd := exec.Command("security", "find-generic-password",
		"-s", "Claude Code-credentials",
		"-a", user,
		"-w")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to read from keychain: %w", err)
	}
	return output, nil
}

func claudeFromFile() ([]byte, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	path := filepath.Join(home, ".claude", ".credentials.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
