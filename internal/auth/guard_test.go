package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gemx-cli/gemx/internal/testutil"
)

// countingRefresher counts refresh calls and simulates network latency so
// concurrent callers overlap the in-flight refresh.
type countingRefresher struct {
	// calls counts Refresh invocations.
	calls atomic.Int64
	// delay stretches each refresh to widen the overlap window.
	delay time.Duration
	// err, when set, fails every refresh.
	err error
}

func (r *countingRefresher) Refresh(ctx context.Context, credential *Credential) (*Credential, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Credential{
		AccessToken:  "refreshed-token",
		RefreshToken: credential.RefreshToken,
		ObtainedAt:   time.Now().Unix(),
		ExpiresIn:    3600,
	}, nil
}

// expiredStore seeds a store with a credential past its lifetime.
func expiredStore(testingHandle *testing.T) *Store {
	testingHandle.Helper()
	store := NewStore(filepath.Join(testingHandle.TempDir(), "oauth_token.json"))
	err := store.Save(&Credential{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ObtainedAt:   time.Now().Add(-2 * time.Hour).Unix(),
		ExpiresIn:    3600,
	})
	testutil.RequireNoError(testingHandle, err, "seed store")
	return store
}

// TestGuardSingleFlightRefresh verifies concurrent callers trigger exactly
// one refresh and all observe the same token.
func TestGuardSingleFlightRefresh(testingHandle *testing.T) {
	refresher := &countingRefresher{delay: 50 * time.Millisecond}
	guard := NewGuard(expiredStore(testingHandle), refresher)

	const callers = 16
	tokens := make([]string, callers)
	failures := make([]error, callers)

	var waitGroup sync.WaitGroup
	for index := 0; index < callers; index++ {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			tokens[slot], failures[slot] = guard.Token(context.Background())
		}(index)
	}
	waitGroup.Wait()

	testutil.RequireEqual(testingHandle, refresher.calls.Load(), int64(1), "expected exactly one refresh")
	for index := 0; index < callers; index++ {
		testutil.RequireNoError(testingHandle, failures[index], "caller error")
		testutil.RequireEqual(testingHandle, tokens[index], "refreshed-token", "token mismatch")
	}
}

// TestGuardRefreshFailureSharedByAllCallers verifies waiters receive the
// in-flight refresh's error.
func TestGuardRefreshFailureSharedByAllCallers(testingHandle *testing.T) {
	refresher := &countingRefresher{delay: 50 * time.Millisecond, err: ErrRefreshFailed}
	guard := NewGuard(expiredStore(testingHandle), refresher)

	const callers = 8
	failures := make([]error, callers)

	var waitGroup sync.WaitGroup
	for index := 0; index < callers; index++ {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			_, failures[slot] = guard.Token(context.Background())
		}(index)
	}
	waitGroup.Wait()

	testutil.RequireEqual(testingHandle, refresher.calls.Load(), int64(1), "expected exactly one refresh attempt")
	for index := 0; index < callers; index++ {
		testutil.RequireTrue(testingHandle, errors.Is(failures[index], ErrRefreshFailed), "expected shared refresh failure")
	}
}

// TestGuardValidTokenSkipsRefresh verifies no network call happens while the
// stored credential is comfortably valid.
func TestGuardValidTokenSkipsRefresh(testingHandle *testing.T) {
	store := NewStore(filepath.Join(testingHandle.TempDir(), "oauth_token.json"))
	err := store.Save(&Credential{
		AccessToken: "fresh-token",
		ObtainedAt:  time.Now().Unix(),
		ExpiresIn:   3600,
	})
	testutil.RequireNoError(testingHandle, err, "seed store")

	refresher := &countingRefresher{}
	guard := NewGuard(store, refresher)

	token, err := guard.Token(context.Background())
	testutil.RequireNoError(testingHandle, err, "token lookup")
	testutil.RequireEqual(testingHandle, token, "fresh-token", "token mismatch")
	testutil.RequireEqual(testingHandle, refresher.calls.Load(), int64(0), "refresh should not run")
}

// TestGuardPersistsRefreshedCredential verifies the store is overwritten
// after a successful refresh.
func TestGuardPersistsRefreshedCredential(testingHandle *testing.T) {
	store := expiredStore(testingHandle)
	guard := NewGuard(store, &countingRefresher{})

	_, err := guard.Token(context.Background())
	testutil.RequireNoError(testingHandle, err, "token lookup")

	persisted, err := store.Load()
	testutil.RequireNoError(testingHandle, err, "reload store")
	testutil.RequireEqual(testingHandle, persisted.AccessToken, "refreshed-token", "store should hold the refreshed token")
	testutil.RequireEqual(testingHandle, persisted.RefreshToken, "refresh-1", "refresh token should carry over")
}

// TestGuardMissingCredential verifies the needs-login signal is preserved.
func TestGuardMissingCredential(testingHandle *testing.T) {
	store := NewStore(filepath.Join(testingHandle.TempDir(), "oauth_token.json"))
	guard := NewGuard(store, &countingRefresher{})

	_, err := guard.Token(context.Background())
	testutil.RequireTrue(testingHandle, errors.Is(err, ErrNoCredential), "expected ErrNoCredential")
}
