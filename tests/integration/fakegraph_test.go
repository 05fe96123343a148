//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// fakeGraph is an in-process stand-in for the Microsoft Graph API plus its
// token endpoint. One instance backs the whole suite; call reset between
// tests.
type fakeGraph struct {
	mu sync.Mutex

	server *httptest.Server

	subscriptions map[string]*fakeSubscription
	teams         []fakeTeam
	nextID        int

	// Behavior overrides.
	renewStatus  map[string]int // subscription ID -> HTTP status forced on PATCH
	createStatus int            // non-zero forces this status on POST /subscriptions
	teamsStatus  int            // non-zero forces this status on joinedTeams
	meStatus     int            // non-zero forces this status on /me
}

type fakeSubscription struct {
	ID                 string    `json:"id"`
	Resource           string    `json:"resource"`
	ChangeType         string    `json:"changeType"`
	ClientState        string    `json:"clientState"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	NotificationURL    string    `json:"notificationUrl"`
}

type fakeTeam struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

func newFakeGraph() *fakeGraph {
	g := &fakeGraph{
		subscriptions: make(map[string]*fakeSubscription),
		renewStatus:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /{tenant}/oauth2/v2.0/token", g.handleToken)
	mux.HandleFunc("GET /v1.0/me", g.handleMe)
	mux.HandleFunc("GET /v1.0/me/joinedTeams", g.handleJoinedTeams)
	mux.HandleFunc("POST /v1.0/subscriptions", g.handleCreate)
	mux.HandleFunc("PATCH /v1.0/subscriptions/{id}", g.handleRenew)
	mux.HandleFunc("DELETE /v1.0/subscriptions/{id}", g.handleDelete)

	g.server = httptest.NewServer(mux)
	return g
}

func (g *fakeGraph) URL() string { return g.server.URL }

func (g *fakeGraph) Close() { g.server.Close() }

func (g *fakeGraph) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptions = make(map[string]*fakeSubscription)
	g.teams = nil
	g.renewStatus = make(map[string]int)
	g.createStatus = 0
	g.teamsStatus = 0
	g.meStatus = 0
}

func (g *fakeGraph) setTeams(teams ...fakeTeam) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.teams = teams
}

func (g *fakeGraph) forceRenewStatus(subscriptionID string, status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.renewStatus[subscriptionID] = status
}

func (g *fakeGraph) subscription(id string) *fakeSubscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sub, ok := g.subscriptions[id]; ok {
		cp := *sub
		return &cp
	}
	return nil
}

func (g *fakeGraph) subscriptionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subscriptions)
}

func graphError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (g *fakeGraph) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		graphError(w, http.StatusBadRequest, "invalid_request", "bad grant")
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "app-token",
		"expires_in":   3600,
	})
}

func (g *fakeGraph) handleMe(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	status := g.meStatus
	g.mu.Unlock()
	if status != 0 {
		graphError(w, status, "InvalidAuthenticationToken", "token rejected")
		return
	}

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		graphError(w, http.StatusUnauthorized, "InvalidAuthenticationToken", "missing token")
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":                "aad-user-1",
		"displayName":       "Alice",
		"userPrincipalName": "alice@example.com",
	})
}

func (g *fakeGraph) handleJoinedTeams(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	status := g.teamsStatus
	teams := append([]fakeTeam(nil), g.teams...)
	g.mu.Unlock()

	if status != 0 {
		graphError(w, status, "Forbidden", "cannot enumerate teams")
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"value": teams})
}

func (g *fakeGraph) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req fakeSubscription
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		graphError(w, http.StatusBadRequest, "BadRequest", "invalid body")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.createStatus != 0 {
		graphError(w, g.createStatus, "ServiceUnavailable", "forced failure")
		return
	}

	g.nextID++
	sub := req
	sub.ID = fmt.Sprintf("graph-sub-%d", g.nextID)
	g.subscriptions[sub.ID] = &sub

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(sub)
}

func (g *fakeGraph) handleRenew(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var payload struct {
		ExpirationDateTime time.Time `json:"expirationDateTime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		graphError(w, http.StatusBadRequest, "BadRequest", "invalid body")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if status, ok := g.renewStatus[id]; ok {
		graphError(w, status, "ResourceNotFound", "forced failure")
		return
	}

	sub, ok := g.subscriptions[id]
	if !ok {
		graphError(w, http.StatusNotFound, "ResourceNotFound", "no such subscription")
		return
	}

	sub.ExpirationDateTime = payload.ExpirationDateTime
	_ = json.NewEncoder(w).Encode(sub)
}

func (g *fakeGraph) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.subscriptions[id]; !ok {
		graphError(w, http.StatusNotFound, "ResourceNotFound", "no such subscription")
		return
	}
	delete(g.subscriptions, id)
	w.WriteHeader(http.StatusNoContent)
}
