package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Token is the result of a refresh.
type Token struct {
	AccessToken  string
	RefreshToken string // empty when the server did not rotate it
	ExpiresAt    int64
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, rec Record) (Token, error)
}

// HTTPRefresher performs a standard OAuth2 refresh_token grant.
type HTTPRefresher struct {
	Client *http.Client
}

// Refresh implements Refresher.
func (h *HTTPRefresher) Refresh(ctx context.Context, rec Record) (Token, error) {
	if rec.RefreshToken == "" {
		return Token{}, fmt.Errorf("no refresh token")
	}
	tokenURL := rec.TokenURL
	if tokenURL == "" {
		tokenURL = AnthropicTokenURL
	}
	clientID := rec.ClientID
	if clientID == "" {
		clientID = ClaudeClientID
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", rec.RefreshToken)
	data.Set("client_id", clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("failed to refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Token{}, fmt.Errorf("token refresh failed: %s: %s", resp.Status, string(body))
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return Token{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return Token{}, fmt.Errorf("token response missing access_token")
	}

	tok := Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
	}
	if tokenResp.ExpiresIn > 0 {
		tok.ExpiresAt = time.Now().UnixMilli() + int64(tokenResp.ExpiresIn)*1000
	}
	return tok, nil
}
