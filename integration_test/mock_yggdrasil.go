package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"accountd/core/providers"
)

type mockUser struct {
	Password  string
	ProfileID string
	Name      string
	Migrated  bool
}

var mockUsers = map[string]mockUser{
	"steve@example.com": {
		Password:  "hunter2",
		ProfileID: "5627dd98e6be3c21b8a8e92344183641",
		Name:      "Steve",
	},
	"alex@example.com": {
		Password:  "correct-horse",
		ProfileID: "6ab4317889fd490597f60f67d9d76fd9",
		Name:      "Alex",
	},
	"legacy@example.com": {
		Password: "old-password",
		Name:     "Legacy",
		Migrated: true,
	},
}

// MockYggdrasilServer is a Yggdrasil auth server. It is mounted at the root
// and under /auth, the prefix Ely.by uses.
type MockYggdrasilServer struct {
	server *httptest.Server

	mu       sync.Mutex
	tokens   map[string]string // access token -> user name
	issued   int
	requests map[string]int
}

func NewMockYggdrasilServer() *MockYggdrasilServer {
	m := &MockYggdrasilServer{
		tokens:   make(map[string]string),
		requests: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /authenticate", m.handleAuthenticate)
	mux.HandleFunc("POST /refresh", m.handleRefresh)

	root := http.NewServeMux()
	root.Handle("/auth/", http.StripPrefix("/auth", mux))
	root.Handle("/", mux)

	m.server = httptest.NewServer(root)
	return m
}

func (m *MockYggdrasilServer) URL() string {
	return m.server.URL
}

func (m *MockYggdrasilServer) Close() {
	m.server.Close()
}

// Requests reports how often path was called.
func (m *MockYggdrasilServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

// IsLive reports whether token is the current access token of a user.
func (m *MockYggdrasilServer) IsLive(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[token]
	return ok
}

// Revoke invalidates every access token of username.
func (m *MockYggdrasilServer) Revoke(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, user := range m.tokens {
		if user == username {
			delete(m.tokens, token)
		}
	}
}

func (m *MockYggdrasilServer) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	m.count("/authenticate")

	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		ClientToken string `json:"clientToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeYggdrasilError(w, http.StatusBadRequest, "IllegalArgumentException", "malformed request")
		return
	}

	user, ok := mockUsers[req.Username]
	switch {
	case ok && user.Migrated:
		writeYggdrasilError(w, http.StatusForbidden, "ForbiddenOperationException", "Account migrated, use Microsoft account.")
		return
	case !ok || user.Password != req.Password:
		writeYggdrasilError(w, http.StatusForbidden, "ForbiddenOperationException", "Invalid credentials. Invalid username or password.")
		return
	}

	m.writeSession(w, req.Username, user, req.ClientToken)
}

func (m *MockYggdrasilServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	m.count("/refresh")

	var req struct {
		AccessToken string `json:"accessToken"`
		ClientToken string `json:"clientToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeYggdrasilError(w, http.StatusBadRequest, "IllegalArgumentException", "malformed request")
		return
	}

	m.mu.Lock()
	username, ok := m.tokens[req.AccessToken]
	if ok {
		delete(m.tokens, req.AccessToken)
	}
	m.mu.Unlock()
	if !ok {
		writeYggdrasilError(w, http.StatusForbidden, "ForbiddenOperationException", "Invalid token.")
		return
	}

	m.writeSession(w, username, mockUsers[username], req.ClientToken)
}

func (m *MockYggdrasilServer) writeSession(w http.ResponseWriter, username string, user mockUser, clientToken string) {
	now := time.Now()
	m.mu.Lock()
	m.issued++
	token := providers.MintMockToken(user.ProfileID, m.issued, now, now.Add(24*time.Hour))
	m.tokens[token] = username
	m.mu.Unlock()

	profile := map[string]string{"id": user.ProfileID, "name": user.Name}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"accessToken":       token,
		"clientToken":       clientToken,
		"availableProfiles": []map[string]string{profile},
		"selectedProfile":   profile,
		"user":              map[string]string{"id": fmt.Sprintf("user-%s", user.ProfileID), "username": username},
	})
}

func (m *MockYggdrasilServer) count(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[path]++
}

func writeYggdrasilError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": kind, "errorMessage": message})
}
