// Package oauth keeps the commenting account's token fresh. Tokens live in
// the oauth_tokens table (encrypted when ENCRYPTION_KEY is set); the
// refresher wakes on a jittered interval and refreshes when expiry falls
// within a configured window.
package oauth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/tsnip/db"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope)
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// OAuth2Refresh adapts an oauth2 config into a RefreshFunc.
func OAuth2Refresh(cfg *oauth2.Config) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		if cfg == nil {
			return "", "", time.Time{}, "", errors.New("nil oauth2 config")
		}
		// Zero expiry forces the token source to hit the endpoint.
		tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		scope, _ := tok.Extra("scope").(string)
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, scope, nil
	}
}

// StartRefresher launches a goroutine that periodically checks an oauth token row and refreshes it.
// provider: key in oauth_tokens table.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, dbx *sql.DB, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// ±20% of interval per iteration.
			jitterRange := int64(interval / 5)
			var jitter time.Duration
			if jitterRange > 0 {
				//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
				jitter = time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			}
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			if _, err := RefreshOnce(ctx, dbx, provider, window, fn); err != nil {
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err), slog.String("component", "oauth_refresh"))
			}
		}
	}()
}

// RefreshOnce refreshes the stored token for provider when it expires within
// window. It reports whether a new token was persisted. Missing rows and rows
// without a refresh token are skipped silently.
func RefreshOnce(ctx context.Context, dbx *sql.DB, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	_, rt, exp, scope, err := db.GetOAuthToken(ctx, dbx, provider)
	if err != nil {
		return false, err
	}
	if rt == "" {
		return false, nil
	}
	if time.Until(exp) > window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		return false, err
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := db.UpsertOAuthToken(ctx, dbx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		return false, err
	}
	slog.Info("token refreshed", slog.String("provider", provider), slog.String("component", "oauth_refresh"))
	return true, nil
}
