package credentials

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshMargin is how close to expiry a token must be before it is refreshed.
const RefreshMargin = 60 * time.Second

// refreshTimeout bounds a shared refresh independently of any one caller.
const refreshTimeout = 30 * time.Second

// Coalescer refreshes OAuth credentials with at most one refresh in flight
// per provider key. Concurrent callers for the same key wait on the pending
// attempt. Every failure is swallowed: callers continue with whatever
// credential they have.
type Coalescer struct {
	refresher Refresher
	persister Persister
	margin    time.Duration
	now       func() time.Time

	group singleflight.Group
}

// NewCoalescer creates a coalescer. persister may be nil.
func NewCoalescer(refresher Refresher, persister Persister) *Coalescer {
	if refresher == nil {
		refresher = &HTTPRefresher{}
	}
	return &Coalescer{
		refresher: refresher,
		persister: persister,
		margin:    RefreshMargin,
		now:       time.Now,
	}
}

// EnsureFresh refreshes the credential for providerKey if it is within the
// refresh margin. It returns when the credential is fresh, the shared
// refresh attempt finishes, or ctx is done.
func (c *Coalescer) EnsureFresh(ctx context.Context, src Source, providerKey string) {
	if src == nil {
		return
	}
	rec, ok := src.OAuthRecord(providerKey)
	if !ok || rec == nil || !c.needsRefresh(rec) {
		return
	}

	ch := c.group.DoChan(providerKey, func() (any, error) {
		// A flight that just finished may already have refreshed it.
		if !c.needsRefresh(rec) {
			return nil, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		tok, err := c.refresher.Refresh(rctx, rec.Snapshot())
		if err != nil {
			return nil, err
		}
		updated := rec.apply(tok)
		if c.persister != nil {
			if err := c.persister.SaveOAuth(providerKey, updated); err != nil {
				slog.Debug("refreshed credential not persisted", "provider", providerKey, "error", err)
			}
		}
		return nil, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			slog.Debug("credential refresh failed", "provider", providerKey, "error", res.Err)
		}
	case <-ctx.Done():
	}
}

func (c *Coalescer) needsRefresh(rec *Record) bool {
	snap := rec.Snapshot()
	return snap.RefreshToken != "" && snap.ExpiresWithin(c.margin, c.now())
}
