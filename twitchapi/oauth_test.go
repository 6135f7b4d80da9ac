package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAuthorizeURL(t *testing.T) {
	tests := []struct {
		name      string
		app       OAuthApp
		state     string
		wantErr   bool
		wantParts []string
	}{
		{
			name:      "valid request",
			app:       OAuthApp{ClientID: "test-client-id", RedirectURI: "http://localhost/callback", Scopes: "chat:read chat:edit"},
			state:     "random-state",
			wantParts: []string{"client_id=test-client-id", "state=random-state", "scope=chat%3Aread+chat%3Aedit", "response_type=code"},
		},
		{
			name:    "empty client ID",
			app:     OAuthApp{RedirectURI: "http://localhost/callback"},
			wantErr: true,
		},
		{
			name:    "empty redirect URI",
			app:     OAuthApp{ClientID: "client"},
			wantErr: true,
		},
		{
			name:      "comma separated scopes",
			app:       OAuthApp{ClientID: "client-id", RedirectURI: "http://localhost/callback", Scopes: "chat:read,channel:manage:broadcast"},
			wantParts: []string{"scope=chat%3Aread+channel%3Amanage%3Abroadcast"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.app.AuthorizeURL(tt.state)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("AuthorizeURL: %v", err)
			}
			if !strings.HasPrefix(u, "https://id.twitch.tv/oauth2/authorize?") {
				t.Errorf("url = %s", u)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(u, part) {
					t.Errorf("url %s missing %q", u, part)
				}
			}
		})
	}
}

func TestExchangeAndRefresh(t *testing.T) {
	var grants []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		grants = append(grants, r.PostForm.Get("grant_type"))
		if r.PostForm.Get("client_secret") != "secret" {
			http.Error(w, "bad secret", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-" + r.PostForm.Get("grant_type"),
			"refresh_token": "refresh-next",
			"expires_in":    14400,
			"scope":         []string{"chat:read"},
		})
	}))
	defer srv.Close()

	app := &OAuthApp{ClientID: "cid", ClientSecret: "secret", RedirectURI: "http://localhost/cb", TokenURL: srv.URL}
	ctx := context.Background()

	tok, err := app.Exchange(ctx, "code-1")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if tok.AccessToken != "access-authorization_code" || tok.RefreshToken != "refresh-next" {
		t.Errorf("Exchange token = %+v", tok)
	}
	if d := time.Until(tok.Expiry()); d < 3*time.Hour || d > 4*time.Hour+time.Minute {
		t.Errorf("expiry in %v, want about 4h", d)
	}

	tok, err = app.Refresh(ctx, "refresh-1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if tok.AccessToken != "access-refresh_token" {
		t.Errorf("Refresh token = %+v", tok)
	}
	if len(grants) != 2 {
		t.Errorf("grants = %v", grants)
	}

	bad := &OAuthApp{ClientID: "cid", ClientSecret: "wrong", TokenURL: srv.URL}
	if _, err := bad.Refresh(ctx, "refresh-1"); err == nil || !strings.Contains(err.Error(), "bad secret") {
		t.Errorf("Refresh with bad secret err = %v", err)
	}
	if _, err := app.Exchange(ctx, ""); err == nil {
		t.Error("expected error for empty code")
	}
	if _, err := app.Refresh(ctx, ""); err == nil {
		t.Error("expected error for empty refresh token")
	}
}

func TestComputeExpiry(t *testing.T) {
	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{seconds: 3600, want: time.Hour},
		{seconds: 0, want: 60 * time.Minute},
		{seconds: -5, want: 60 * time.Minute},
	}
	for _, tt := range tests {
		got := time.Until(ComputeExpiry(tt.seconds))
		if got < tt.want-time.Second || got > tt.want+time.Second {
			t.Errorf("ComputeExpiry(%d) in %v, want %v", tt.seconds, got, tt.want)
		}
	}
}
