package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

func (h *Handlers) newState(w http.ResponseWriter) (string, bool) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return "", false
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	return st, true
}

// callbackCode validates the state and returns the authorization code.
func (h *Handlers) callbackCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return "", false
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return "", false
	}
	return code, true
}

// HandleTwitchOAuthStart initiates the Twitch OAuth flow for the bot's user token.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.d.TwitchOAuth == nil || h.d.Tokens == nil {
		http.Error(w, "twitch oauth not configured", http.StatusBadRequest)
		return
	}
	st, ok := h.newState(w)
	if !ok {
		return
	}
	authURL, err := h.d.TwitchOAuth.AuthorizeURL(st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback handles the OAuth callback from Twitch and stores tokens.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.d.TwitchOAuth == nil || h.d.Tokens == nil {
		http.Error(w, "twitch oauth not configured", http.StatusBadRequest)
		return
	}
	code, ok := h.callbackCode(w, r)
	if !ok {
		return
	}
	res, err := h.d.TwitchOAuth.Exchange(r.Context(), code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if err := h.d.Tokens.UpsertOAuthToken(r.Context(), "twitch", res.AccessToken, res.RefreshToken, res.Expiry(), strings.Join(res.Scope, " ")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scopes": res.Scope, "expires_in": res.ExpiresIn})
}

// HandleYouTubeOAuthStart initiates the YouTube OAuth flow for the relay.
func (h *Handlers) HandleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.d.YouTube == nil {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	st, ok := h.newState(w)
	if !ok {
		return
	}
	http.Redirect(w, r, h.d.YouTube.AuthCodeURL(st), http.StatusFound)
}

// HandleYouTubeOAuthCallback handles the OAuth callback from YouTube and stores tokens.
func (h *Handlers) HandleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.d.YouTube == nil {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	code, ok := h.callbackCode(w, r)
	if !ok {
		return
	}
	tok, err := h.d.YouTube.Exchange(r.Context(), code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "expiry": tok.Expiry, "access_token_present": tok.AccessToken != "", "refresh_token_present": tok.RefreshToken != ""})
}
