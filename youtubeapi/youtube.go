// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API
// for the social relay: posting to a live chat and reading its messages. Tokens
// are persisted via the provided TokenStore so they can be refreshed and reused.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/guildbot/config"
	"github.com/onnwee/guildbot/db"
)

// Provider is the oauth_tokens provider key for YouTube.
const Provider = "youtube"

// TokenStore persists the YouTube OAuth token.
type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
	GetOAuthToken(ctx context.Context, provider string) (db.Token, error)
}

// Message is one live chat text message.
type Message struct {
	ID         string
	AuthorID   string
	AuthorName string
	Text       string
	Published  time.Time
}

// Service posts to and reads from one live chat.
type Service struct {
	LiveChatID string
	// Endpoint overrides the API base URL.
	Endpoint string

	store TokenStore
	oauth *oauth2.Config
}

// New builds a Service from the YT_* configuration.
func New(cfg *config.Config, ts TokenStore) *Service {
	scopes := []string{yt.YoutubeForceSslScope}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
			scopes = fields
		}
	}
	return &Service{
		LiveChatID: cfg.YTLiveChatID,
		store:      ts,
		oauth: &oauth2.Config{
			ClientID:     cfg.YTClientID,
			ClientSecret: cfg.YTClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.YTRedirectURI,
			Scopes:       scopes,
		},
	}
}

// AuthCodeURL returns the consent URL requesting offline access.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// Token returns the stored token, refreshing it when it expires within two minutes.
func (s *Service) Token(ctx context.Context) (*oauth2.Token, error) {
	stored, err := s.store.GetOAuthToken(ctx, Provider)
	if err != nil {
		return nil, err
	}
	if stored.AccessToken == "" {
		return nil, errors.New("no youtube token stored")
	}
	tok := &oauth2.Token{AccessToken: stored.AccessToken, RefreshToken: stored.RefreshToken, Expiry: stored.Expiry}
	if time.Until(tok.Expiry) > 2*time.Minute {
		return tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		return tok, fmt.Errorf("refresh youtube token: %w", err)
	}
	if err := s.save(ctx, newTok); err != nil {
		return nil, err
	}
	return newTok, nil
}

func (s *Service) save(ctx context.Context, tok *oauth2.Token) error {
	scope, _ := tok.Extra("scope").(string)
	if scope == "" {
		scope = strings.Join(s.oauth.Scopes, " ")
	}
	return s.store.UpsertOAuthToken(ctx, Provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, scope)
}

// Client returns an authorized YouTube API client.
func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(s.oauth.Client(ctx, tok))}
	if s.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.Endpoint))
	}
	return yt.NewService(ctx, opts...)
}

// Post sends text to the live chat.
func (s *Service) Post(ctx context.Context, text string) error {
	if s.LiveChatID == "" {
		return errors.New("youtube live chat id not configured")
	}
	svc, err := s.Client(ctx)
	if err != nil {
		return err
	}
	msg := &yt.LiveChatMessage{Snippet: &yt.LiveChatMessageSnippet{
		LiveChatId:         s.LiveChatID,
		Type:               "textMessageEvent",
		TextMessageDetails: &yt.LiveChatTextMessageDetails{MessageText: text},
	}}
	if _, err := svc.LiveChatMessages.Insert([]string{"snippet"}, msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("youtube live chat insert: %w", err)
	}
	return nil
}

// Messages lists live chat messages after pageToken and returns the token for the next call.
func (s *Service) Messages(ctx context.Context, pageToken string) ([]Message, string, error) {
	if s.LiveChatID == "" {
		return nil, pageToken, errors.New("youtube live chat id not configured")
	}
	svc, err := s.Client(ctx)
	if err != nil {
		return nil, pageToken, err
	}
	call := svc.LiveChatMessages.List(s.LiveChatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return nil, pageToken, fmt.Errorf("youtube live chat list: %w", err)
	}
	out := make([]Message, 0, len(res.Items))
	for _, it := range res.Items {
		if it.Snippet == nil || it.Snippet.Type != "textMessageEvent" {
			continue
		}
		m := Message{ID: it.Id, Text: it.Snippet.DisplayMessage}
		if m.Text == "" && it.Snippet.TextMessageDetails != nil {
			m.Text = it.Snippet.TextMessageDetails.MessageText
		}
		if it.AuthorDetails != nil {
			m.AuthorID = it.AuthorDetails.ChannelId
			m.AuthorName = it.AuthorDetails.DisplayName
		}
		if ts, err := time.Parse(time.RFC3339, it.Snippet.PublishedAt); err == nil {
			m.Published = ts
		}
		out = append(out, m)
	}
	return out, res.NextPageToken, nil
}

// Refresh runs the refresh token grant; its shape matches the background refresher.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", "", time.Time{}, "", fmt.Errorf("refresh youtube token: %w", err)
	}
	scope, _ := tok.Extra("scope").(string)
	return tok.AccessToken, tok.RefreshToken, tok.Expiry, scope, nil
}
