// Package oauth provides generic token refresh scheduling for providers whose
// tokens are persisted in the oauth_tokens table. It performs jittered checks
// and refreshes when expiry falls within a configured window.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/guildbot/db"
)

// Store reads and writes one provider's token.
type Store interface {
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
	GetOAuthToken(ctx context.Context, provider string) (db.Token, error)
}

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope)
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// ErrNoToken is returned when a provider has no stored token.
var ErrNoToken = errors.New("oauth: no token stored")

// RefreshOnce refreshes provider's token when it expires within window. It
// reports whether a refresh happened.
func RefreshOnce(ctx context.Context, store Store, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	tok, err := store.GetOAuthToken(ctx, provider)
	if err != nil {
		return false, err
	}
	if tok.RefreshToken == "" {
		return false, nil
	}
	// If still outside window skip quickly
	if !tok.Expiry.IsZero() && time.Until(tok.Expiry) > window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, tok.RefreshToken)
	cancel()
	if err != nil {
		return false, fmt.Errorf("refresh %s token: %w", provider, err)
	}
	if newRT == "" {
		newRT = tok.RefreshToken
	}
	if newScope == "" {
		newScope = tok.Scope
	}
	if err := store.UpsertOAuthToken(ctx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		return false, fmt.Errorf("persist %s token: %w", provider, err)
	}
	return true, nil
}

// StartRefresher launches a goroutine that periodically checks a provider's token and refreshes it.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, store Store, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			refreshed, err := RefreshOnce(ctx, store, provider, window, fn)
			switch {
			case err != nil:
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err), slog.String("component", "oauth"))
			case refreshed:
				slog.Info("token refreshed", slog.String("provider", provider), slog.String("component", "oauth"))
			}

			// Add per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

// Seed stores refreshToken for provider with an already expired access token,
// unless a token is stored. The next refresh then mints a real access token.
func Seed(ctx context.Context, store Store, provider, refreshToken string) (bool, error) {
	if refreshToken == "" {
		return false, nil
	}
	tok, err := store.GetOAuthToken(ctx, provider)
	if err != nil {
		return false, err
	}
	if tok.RefreshToken != "" {
		return false, nil
	}
	if err := store.UpsertOAuthToken(ctx, provider, "", refreshToken, time.Now().Add(-time.Minute), ""); err != nil {
		return false, err
	}
	return true, nil
}

// TokenFunc returns a function yielding provider's current access token. When
// the stored token is expired it refreshes inline with fn first; concurrent
// callers share one refresh, since a rotated refresh token is single use.
func TokenFunc(store Store, provider string, fn RefreshFunc) func(ctx context.Context) (string, error) {
	var group singleflight.Group
	return func(ctx context.Context) (string, error) {
		tok, err := store.GetOAuthToken(ctx, provider)
		if err != nil {
			return "", err
		}
		if tok.AccessToken != "" && (tok.Expiry.IsZero() || time.Until(tok.Expiry) > 30*time.Second) {
			return tok.AccessToken, nil
		}
		if fn == nil || tok.RefreshToken == "" {
			if tok.AccessToken != "" {
				return tok.AccessToken, nil
			}
			return "", fmt.Errorf("%w: %s", ErrNoToken, provider)
		}
		v, err, _ := group.Do(provider, func() (any, error) {
			if _, err := RefreshOnce(ctx, store, provider, 30*time.Second, fn); err != nil {
				return "", err
			}
			tok, err := store.GetOAuthToken(ctx, provider)
			if err != nil {
				return "", err
			}
			return tok.AccessToken, nil
		})
		if err != nil {
			return "", err
		}
		return v.(string), nil
	}
}
