package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrRefreshFailed means the session could not be renewed. It is terminal for
// the whole session: the credential store has been cleared and the teardown
// hook fired by the time a caller sees it.
var ErrRefreshFailed = errors.New("session refresh failed")

// ErrNoCredential means there is no session to refresh.
var ErrNoCredential = errors.New("no credential")

// RefreshFunc performs the raw token-refresh call. It must bypass the request
// pipeline's auth interceptor so a 401 from the refresh endpoint can never
// recurse into another refresh.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credential, error)

// Coordinator guards the refresh call with a single-flight guarantee: any
// number of callers may discover an expired credential at once, but at most
// one refresh request is in flight, and every concurrent caller receives that
// one call's outcome.
type Coordinator struct {
	store   *Store
	refresh RefreshFunc
	skew    time.Duration
	group   singleflight.Group

	teardownOnce sync.Once
	teardown     func()
}

// NewCoordinator creates a Coordinator. skew is how far ahead of expiry a
// token is already considered stale.
func NewCoordinator(store *Store, refresh RefreshFunc, skew time.Duration) *Coordinator {
	return &Coordinator{store: store, refresh: refresh, skew: skew}
}

// OnTeardown registers the session-teardown hook invoked at most once when a
// refresh fails terminally.
func (c *Coordinator) OnTeardown(fn func()) {
	c.teardown = fn
}

// EnsureFresh returns a credential valid for at least the skew window,
// refreshing it first if needed. Refresh is attempted exactly once per expiry
// event; on failure the store is cleared, the teardown hook fires once, and
// every waiter gets ErrRefreshFailed.
func (c *Coordinator) EnsureFresh(ctx context.Context) (Credential, error) {
	cred, ok := c.store.Get()
	if !ok {
		return Credential{}, ErrNoCredential
	}
	if !IsExpired(cred.AccessToken, c.skew) {
		return cred, nil
	}

	v, err, _ := c.group.Do("refresh", func() (any, error) {
		// A waiter queued behind a completed refresh re-checks before
		// issuing another network call.
		cur, ok := c.store.Get()
		if !ok {
			return nil, ErrNoCredential
		}
		if !IsExpired(cur.AccessToken, c.skew) {
			return cur, nil
		}

		slog.Debug("refreshing access token")
		fresh, err := c.refresh(ctx, cur.RefreshToken)
		if err != nil {
			c.fail(err)
			return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = cur.RefreshToken
		}
		c.store.Set(fresh)
		slog.Debug("access token rotated")
		return fresh, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// fail degrades the session: the credential is gone and the teardown hook
// (logout) runs exactly once no matter how many waiters observe the failure.
func (c *Coordinator) fail(cause error) {
	slog.Warn("token refresh failed, ending session", "error", cause)
	c.store.Clear()
	c.teardownOnce.Do(func() {
		if c.teardown != nil {
			c.teardown()
		}
	})
}
