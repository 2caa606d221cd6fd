// Package credentials holds OAuth credential records and keeps them fresh.
package credentials

import (
	"sync"
	"time"
)

// AnthropicTokenURL is the default token endpoint for Anthropic OAuth.
const AnthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"

// ClaudeClientID is the public OAuth client id used by Claude logins.
const ClaudeClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

// recordMu guards the fields of every live Record. Records are refreshed
// in place while providers are being built from them on other goroutines.
var recordMu sync.RWMutex

// Record is a refreshable OAuth credential. ExpiresAt is unix millis; zero
// means the token does not expire. Once a record is shared, read it through
// Snapshot.
type Record struct {
	AccessToken  string `mapstructure:"access_token" yaml:"access_token"`
	RefreshToken string `mapstructure:"refresh_token" yaml:"refresh_token"`
	ExpiresAt    int64  `mapstructure:"expires_at" yaml:"expires_at"`
	TokenURL     string `mapstructure:"token_url" yaml:"token_url,omitempty"`
	ClientID     string `mapstructure:"client_id" yaml:"client_id,omitempty"`
}

// Snapshot returns a copy of the record taken under the refresh lock.
func (r *Record) Snapshot() Record {
	recordMu.RLock()
	defer recordMu.RUnlock()
	return *r
}

// apply stores a refreshed token and returns the updated record.
func (r *Record) apply(tok Token) Record {
	recordMu.Lock()
	defer recordMu.Unlock()
	r.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		r.RefreshToken = tok.RefreshToken
	}
	r.ExpiresAt = tok.ExpiresAt
	return *r
}

// ExpiresWithin reports whether the token expires within margin of now.
func (r *Record) ExpiresWithin(margin time.Duration, now time.Time) bool {
	if r == nil || r.ExpiresAt == 0 {
		return false
	}
	return now.UnixMilli() >= r.ExpiresAt-margin.Milliseconds()
}

// Source resolves the live credential record for a provider key. The
// returned pointer is mutated in place on refresh.
type Source interface {
	OAuthRecord(providerKey string) (*Record, bool)
}

// Persister writes a refreshed record to durable storage.
type Persister interface {
	SaveOAuth(providerKey string, rec Record) error
}
