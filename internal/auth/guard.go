package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// refreshSkew is the safety margin before expiry that triggers a refresh.
const refreshSkew = 30 * time.Second

// Refresher renews a credential. *Flow satisfies it; tests substitute fakes.
type Refresher interface {
	Refresh(ctx context.Context, credential *Credential) (*Credential, error)
}

// Guard hands out valid access tokens on top of a Store, collapsing
// concurrent refreshes into a single network call.
type Guard struct {
	// store persists the credential between runs.
	store *Store
	// refresher executes the actual token refresh.
	refresher Refresher
	// group ensures at most one refresh is in flight.
	group singleflight.Group
	// now is injectable for expiry tests.
	now func() time.Time
}

// NewGuard constructs a Guard over the given store and refresher.
func NewGuard(store *Store, refresher Refresher) *Guard {
	return &Guard{store: store, refresher: refresher}
}

// Token returns a non-expired access token, refreshing the stored credential
// when it is expired or within the safety margin of expiry. Concurrent
// callers share one refresh and observe the same outcome.
func (g *Guard) Token(ctx context.Context) (string, error) {
	credential, err := g.store.Load()
	if err != nil {
		return "", err
	}
	if credential.ValidFor(g.clock(), refreshSkew) {
		return credential.AccessToken, nil
	}

	// Collapse concurrent refreshes onto one in-flight call; every waiter
	// receives the winning call's credential or error.
	result, err, _ := g.group.Do("refresh", func() (any, error) {
		// Re-check under the flight: an earlier winner may already have
		// persisted a fresh credential.
		current, err := g.store.Load()
		if err != nil {
			return nil, err
		}
		if current.ValidFor(g.clock(), refreshSkew) {
			return current, nil
		}

		refreshed, err := g.refresher.Refresh(ctx, current)
		if err != nil {
			return nil, err
		}
		if err := g.store.Save(refreshed); err != nil {
			return nil, fmt.Errorf("%w: persist refreshed credential: %v", ErrRefreshFailed, err)
		}
		return refreshed, nil
	})
	if err != nil {
		return "", err
	}
	return result.(*Credential).AccessToken, nil
}

// clock returns the current time, honoring the test override.
func (g *Guard) clock() time.Time {
	if g.now != nil {
		return g.now()
	}
	return time.Now()
}
