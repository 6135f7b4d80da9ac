// Package twitchapi contains minimal helpers for the Twitch Helix API: login to
// user id resolution and channel title updates used for status rotation, plus
// app and user token handling.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// ErrUnauthorized is returned when Helix rejects the token (401).
var ErrUnauthorized = errors.New("twitch: unauthorized")

// TokenFunc returns a bearer token for a request.
type TokenFunc func(ctx context.Context) (string, error)

// HelixClient calls Helix with the token Token returns. Channel updates need a
// user token carrying channel:manage:broadcast; lookups work with an app token.
type HelixClient struct {
	ClientID   string
	Token      TokenFunc
	BaseURL    string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) endpoint(path string, q url.Values) string {
	base := hc.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u := base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (hc *HelixClient) do(ctx context.Context, method, path string, q url.Values, body any) (*http.Response, error) {
	if hc.Token == nil {
		return nil, errors.New("twitch: no token source configured")
	}
	tok, err := hc.Token(ctx)
	if err != nil {
		return nil, err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, hc.endpoint(path, q), rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		closeBody(resp)
		return nil, ErrUnauthorized
	}
	return resp, nil
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	resp, err := hc.do(ctx, http.MethodGet, "/users", url.Values{"login": {login}}, nil)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return "", statusError("get user", resp)
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// ModifyChannelTitle sets the stream title of broadcasterID.
func (hc *HelixClient) ModifyChannelTitle(ctx context.Context, broadcasterID, title string) error {
	if broadcasterID == "" {
		return fmt.Errorf("broadcasterID empty")
	}
	if title == "" {
		return fmt.Errorf("title empty")
	}
	resp, err := hc.do(ctx, http.MethodPatch, "/channels", url.Values{"broadcaster_id": {broadcasterID}},
		map[string]string{"title": title})
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError("modify channel", resp)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("twitch %s: %s: %s", op, resp.Status, bytes.TrimSpace(b))
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
