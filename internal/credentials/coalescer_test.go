package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mapSource map[string]*Record

func (m mapSource) OAuthRecord(key string) (*Record, bool) {
	r, ok := m[key]
	return r, ok
}

type gatedRefresher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error
}

func (g *gatedRefresher) Refresh(ctx context.Context, rec Record) (Token, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	if g.err != nil {
		return Token{}, g.err
	}
	return Token{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}, nil
}

type recordingPersister struct {
	mu    sync.Mutex
	saved []Record
	err   error
}

func (p *recordingPersister) SaveOAuth(_ string, rec Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, rec)
	return p.err
}

func expiringRecord() *Record {
	return &Record{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(30 * time.Second).UnixMilli(),
	}
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	ref := &gatedRefresher{started: make(chan struct{}), release: make(chan struct{})}
	per := &recordingPersister{}
	c := NewCoalescer(ref, per)
	rec := expiringRecord()
	src := mapSource{"anthropic": rec}

	const callers = 8
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.EnsureFresh(context.Background(), src, "anthropic")
	}()
	<-ref.started

	for i := 0; i < callers-1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.EnsureFresh(context.Background(), src, "anthropic")
		}()
	}
	// give the followers time to join the flight
	time.Sleep(20 * time.Millisecond)
	close(ref.release)
	wg.Wait()

	require.Equal(t, int32(1), ref.calls.Load())
	require.Equal(t, "new-access", rec.AccessToken)
	require.Equal(t, "new-refresh", rec.RefreshToken)
	require.Len(t, per.saved, 1)

	// fresh now, no further refresh
	c.EnsureFresh(context.Background(), src, "anthropic")
	require.Equal(t, int32(1), ref.calls.Load())
}

func TestSnapshotDuringRefresh(t *testing.T) {
	ref := &gatedRefresher{started: make(chan struct{}), release: make(chan struct{})}
	close(ref.release)
	c := NewCoalescer(ref, nil)
	rec := expiringRecord()
	src := mapSource{"anthropic": rec}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := rec.Snapshot()
				if snap.AccessToken != "old-access" && snap.AccessToken != "new-access" {
					t.Errorf("torn access token %q", snap.AccessToken)
					return
				}
			}
		}()
	}
	c.EnsureFresh(context.Background(), src, "anthropic")
	close(stop)
	readers.Wait()

	snap := rec.Snapshot()
	require.Equal(t, "new-access", snap.AccessToken)
	require.Equal(t, "new-refresh", snap.RefreshToken)
	require.Equal(t, int32(1), ref.calls.Load())
}

func TestFreshCredentialIsNoop(t *testing.T) {
	ref := &gatedRefresher{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCoalescer(ref, nil)
	src := mapSource{
		"fresh":   {AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()},
		"forever": {AccessToken: "a", RefreshToken: "r"},
	}

	c.EnsureFresh(context.Background(), src, "fresh")
	c.EnsureFresh(context.Background(), src, "forever")
	c.EnsureFresh(context.Background(), src, "missing")
	require.Equal(t, int32(0), ref.calls.Load())
}

func TestRefreshFailureIsSwallowed(t *testing.T) {
	ref := &gatedRefresher{started: make(chan struct{}), release: make(chan struct{}), err: errors.New("401")}
	close(ref.release)
	c := NewCoalescer(ref, nil)
	rec := expiringRecord()

	c.EnsureFresh(context.Background(), mapSource{"anthropic": rec}, "anthropic")
	require.Equal(t, "old-access", rec.AccessToken)
}

func TestPersistFailureKeepsMemory(t *testing.T) {
	ref := &gatedRefresher{started: make(chan struct{}), release: make(chan struct{})}
	close(ref.release)
	c := NewCoalescer(ref, &recordingPersister{err: errors.New("read-only")})
	rec := expiringRecord()

	c.EnsureFresh(context.Background(), mapSource{"anthropic": rec}, "anthropic")
	require.Equal(t, "new-access", rec.AccessToken)
}

func TestCallerCancelReturnsEarly(t *testing.T) {
	ref := &gatedRefresher{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCoalescer(ref, nil)
	rec := expiringRecord()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.EnsureFresh(ctx, mapSource{"anthropic": rec}, "anthropic")
		close(done)
	}()
	<-ref.started
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EnsureFresh did not return after cancel")
	}
	close(ref.release)
}

func TestHTTPRefresher(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at2","refresh_token":"rt2","expires_in":3600}`))
	}))
	defer srv.Close()

	h := &HTTPRefresher{Client: srv.Client()}
	tok, err := h.Refresh(context.Background(), Record{RefreshToken: "rt", TokenURL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "at2", tok.AccessToken)
	require.Equal(t, "rt2", tok.RefreshToken)
	require.Greater(t, tok.ExpiresAt, time.Now().UnixMilli())

	_, err = h.Refresh(context.Background(), Record{RefreshToken: "bad", TokenURL: srv.URL})
	require.Error(t, err)
	require.Equal(t, int32(2), hits.Load())
}

func TestParseClaude(t *testing.T) {
	rec, err := parseClaude([]byte(`{"claudeAiOauth":{"accessToken":"a","refreshToken":"r","expiresAt":123}}`))
	require.NoError(t, err)
	require.Equal(t, "r", rec.RefreshToken)
	require.Equal(t, int64(123), rec.ExpiresAt)
	require.Equal(t, AnthropicTokenURL, rec.TokenURL)

	_, err = parseClaude([]byte(`{}`))
	require.Error(t, err)
}
