package oauth

import (
	"context"
	"strings"
	"time"

	"github.com/onnwee/guildbot/twitchapi"
)

// Provider keys in oauth_tokens.
const (
	ProviderTwitch  = "twitch"
	ProviderYouTube = "youtube"
)

// TwitchRefresh adapts the Twitch refresh token grant to a RefreshFunc.
func TwitchRefresh(app *twitchapi.OAuthApp) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		tok, err := app.Refresh(ctx, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return tok.AccessToken, tok.RefreshToken, tok.Expiry(), strings.Join(tok.Scope, " "), nil
	}
}
