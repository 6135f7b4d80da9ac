// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/guildbot/db"
	"github.com/onnwee/guildbot/magick"
	"github.com/onnwee/guildbot/twitchapi"
	"github.com/onnwee/guildbot/youtubeapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Pinger checks database connectivity.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// GuildLister lists guild records for the admin surface.
type GuildLister interface {
	ListGuilds(ctx context.Context) ([]db.Guild, error)
}

// CountLoader loads the global command counters.
type CountLoader interface {
	LoadCounts(ctx context.Context) (map[string]int64, bool, error)
}

// TokenSaver persists OAuth tokens from the consent callbacks.
type TokenSaver interface {
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// Deps are the collaborators the handlers use. Nil optional fields disable
// the routes that need them.
type Deps struct {
	DB     Pinger
	Engine *magick.Engine
	// ChatReady reports whether the chat connection is up; nil skips the check.
	ChatReady func() bool

	Guilds GuildLister
	Counts CountLoader

	TwitchOAuth *twitchapi.OAuthApp
	Tokens      TokenSaver
	YouTube     *youtubeapi.Service

	AdminToken     string
	MaxUploadBytes int64
	MagickTimeout  time.Duration
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	d          Deps
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(d Deps) *Handlers {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 8 << 20
	}
	if d.MagickTimeout <= 0 {
		d.MagickTimeout = 2 * time.Minute
	}
	return &Handlers{
		d:          d,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	// Refuse new states past the cap; the flow fails instead of memory growing.
	if len(h.stateStore) >= maxOAuthStates {
		return
	}
	h.stateStore[state] = expiry
}

// consumeOAuthState reports whether state was issued and unexpired, and forgets it.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}

func methodAllowed(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}
