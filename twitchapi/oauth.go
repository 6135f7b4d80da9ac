package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// UserToken is the reply to an authorization code or refresh token grant.
type UserToken struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// Expiry returns the absolute expiry of t.
func (t *UserToken) Expiry() time.Time { return ComputeExpiry(t.ExpiresIn) }

// OAuthApp performs the user token grants for the bot's Twitch application.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string
	TokenURL     string
	HTTPClient   *http.Client
}

// AuthorizeURL constructs the user authorization URL for the code grant.
func (a *OAuthApp) AuthorizeURL(state string) (string, error) {
	if a.ClientID == "" || a.RedirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", a.ClientID)
	v.Set("redirect_uri", a.RedirectURI)
	if a.Scopes != "" {
		v.Set("scope", strings.Join(strings.Fields(strings.ReplaceAll(a.Scopes, ",", " ")), " "))
	}
	if state != "" {
		v.Set("state", state)
	}
	return "https://id.twitch.tv/oauth2/authorize?" + v.Encode(), nil
}

// Exchange trades an authorization code for access and refresh tokens.
func (a *OAuthApp) Exchange(ctx context.Context, code string) (*UserToken, error) {
	if a.ClientID == "" || a.ClientSecret == "" || code == "" || a.RedirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("client_id", a.ClientID)
	form.Set("client_secret", a.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", a.RedirectURI)
	var res UserToken
	if err := postForm(ctx, a.HTTPClient, a.TokenURL, form, &res); err != nil {
		return nil, errors.Join(errors.New("twitch auth code exchange failed"), err)
	}
	return &res, nil
}

// Refresh exchanges a refresh token for a new access token.
func (a *OAuthApp) Refresh(ctx context.Context, refreshToken string) (*UserToken, error) {
	if a.ClientID == "" || a.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("client_id", a.ClientID)
	form.Set("client_secret", a.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	var res UserToken
	if err := postForm(ctx, a.HTTPClient, a.TokenURL, form, &res); err != nil {
		return nil, errors.Join(errors.New("twitch refresh failed"), err)
	}
	return &res, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
