package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix and OAuth responses.
// Helix routes live under /helix; point HelixClient.BaseURL at URL+"/helix".
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu     sync.Mutex
	titles []string
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockUserResponse adds a handler for GET /helix/users
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["GET /helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]string{}
		if r.URL.Query().Get("login") == login {
			data = append(data, map[string]string{"id": userID, "login": login})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data}) //nolint:errcheck // test mock response
	}
}

// MockChannelUpdates adds a handler for PATCH /helix/channels that records
// every title it receives. Requests for other broadcasters get 403.
func (m *MockTwitchServer) MockChannelUpdates(broadcasterID string) {
	m.Handlers["PATCH /helix/channels"] = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("broadcaster_id") != broadcasterID {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body struct {
			Title string `json:"title"`
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.titles = append(m.titles, body.Title)
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

// Titles returns the channel titles received so far.
func (m *MockTwitchServer) Titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.titles...)
}

// MockOAuthTokenResponse adds a handler for POST /oauth2/token
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.Handlers["POST /oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"scope":         []string{"channel:manage:broadcast"},
			"token_type":    "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
