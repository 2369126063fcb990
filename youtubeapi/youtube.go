// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API
// for the calls tsnip needs: video metadata, the members-only probe, comment
// posting and channel stream search. Tokens are persisted via the provided
// TokenStore interface so they can be refreshed and reused across runs.
package youtubeapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/tsnip/config"
)

// Provider is the oauth_tokens key for the commenting account.
const Provider = "youtube"

// DefaultScope allows reading metadata and posting comments.
const DefaultScope = "https://www.googleapis.com/auth/youtube.force-ssl"

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, scope string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, scope string, err error)
}

// Service owns the OAuth config and hands out authenticated API services.
type Service struct {
	cfg   *config.Config
	db    TokenStore
	oauth *oauth2.Config
	opts  []option.ClientOption
}

func New(cfg *config.Config, ts TokenStore, opts ...option.ClientOption) *Service {
	scopes := []string{DefaultScope}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		s := strings.ReplaceAll(cfg.YTScopes, ",", " ")
		if fields := strings.Fields(s); len(fields) > 0 {
			scopes = fields
		}
	}
	oc := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{cfg: cfg, db: ts, oauth: oc, opts: opts}
}

// OAuthConfig exposes the oauth2 config for the background refresher.
func (s *Service) OAuthConfig() *oauth2.Config { return s.oauth }

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and persists it.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, tok); err != nil {
		return tok, err
	}
	return tok, nil
}

// Bootstrap seeds the token store from a refresh token when no token row
// exists yet. It is a no-op when a token is already stored.
func (s *Service) Bootstrap(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	access, _, _, _, err := s.db.GetOAuthToken(ctx, Provider)
	if err != nil {
		return err
	}
	if access != "" {
		return nil
	}
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return s.persist(ctx, tok)
}

// persist stores the token columns only; a serialized token would carry the
// secrets past the column encryption.
func (s *Service) persist(ctx context.Context, tok *oauth2.Token) error {
	scope, _ := tok.Extra("scope").(string)
	return s.db.UpsertOAuthToken(ctx, Provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, scope)
}

func (s *Service) refreshIfNeeded(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, _, err := s.db.GetOAuthToken(ctx, Provider)
	if err != nil {
		return nil, err
	}
	if access == "" && refresh == "" {
		return nil, errors.New("no youtube token stored")
	}
	tok := oauth2.Token{AccessToken: access, TokenType: "Bearer", RefreshToken: refresh, Expiry: expiry}
	if time.Until(tok.Expiry) > 2*time.Minute {
		return &tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, &tok).Token()
	if err != nil {
		return &tok, err
	}
	if err := s.persist(ctx, newTok); err != nil {
		return newTok, err
	}
	return newTok, nil
}

// API returns a YouTube service authenticated as the stored account.
func (s *Service) API(ctx context.Context) (*yt.Service, error) {
	tok, err := s.refreshIfNeeded(ctx)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(s.oauth.Client(ctx, tok))}, s.opts...)
	return yt.NewService(ctx, opts...)
}

// StaticSource serves a fixed API service, e.g. one built from an API key or
// pointed at a test server.
type StaticSource struct{ Svc *yt.Service }

func (s StaticSource) API(context.Context) (*yt.Service, error) {
	if s.Svc == nil {
		return nil, errors.New("nil youtube service")
	}
	return s.Svc, nil
}

// NewAPIKeySource builds a read-only source authenticated with an API key.
func NewAPIKeySource(ctx context.Context, key string, opts ...option.ClientOption) (StaticSource, error) {
	svc, err := yt.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(key)}, opts...)...)
	if err != nil {
		return StaticSource{}, err
	}
	return StaticSource{Svc: svc}, nil
}
