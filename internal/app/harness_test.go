package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"corkboard/internal/access"
	"corkboard/internal/config"
	"corkboard/internal/realtime"
	"corkboard/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t       *testing.T
	store   *store.MemoryStore
	clock   *testClock
	hub     *realtime.Hub
	service *Service
	handler http.Handler

	admin   Session
	teamID  string
	boardID string
}

func newTestService(t *testing.T, st store.Store, clock *testClock) (*Service, *realtime.Hub) {
	t.Helper()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
	resolver := access.TokenResolver{Secret: []byte(cfg.JWTSecret), Store: st}
	gate := access.NewGate(st, resolver).WithClock(clock.Now)
	hub := realtime.NewHub(gate, realtime.Options{Now: clock.Now})
	t.Cleanup(hub.Close)
	return New(cfg, Deps{Store: st, Gate: gate, Resolver: resolver, Hub: hub}), hub
}

// newHarness returns a server with one team, administered by "Admin", that
// owns one board.
func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{now: time.Now().UTC()}
	st := store.NewMemoryStore()
	svc, hub := newTestService(t, st, clock)
	h := &harness{
		t:       t,
		store:   st,
		clock:   clock,
		hub:     hub,
		service: svc,
		handler: NewHTTPServer(svc, "*").Handler(),
	}

	ctx := context.Background()
	admin, err := svc.Login(ctx, "Admin")
	if err != nil {
		t.Fatalf("login admin: %v", err)
	}
	h.admin = admin
	team, err := svc.CreateTeam(ctx, admin, "Core")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	h.teamID = team.ID
	board, err := svc.CreateBoard(ctx, admin, team.ID, "Roadmap", "")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	h.boardID = board.ID
	return h
}

// member adds name to the team with role and returns a session for them.
func (h *harness) member(name, role string) Session {
	h.t.Helper()
	ctx := context.Background()
	if _, err := h.service.AddTeamMember(ctx, h.admin, h.teamID, "", name, role); err != nil {
		h.t.Fatalf("add member %s: %v", name, err)
	}
	session, err := h.service.Login(ctx, name)
	if err != nil {
		h.t.Fatalf("login %s: %v", name, err)
	}
	return session
}

func (h *harness) outsider(name string) Session {
	h.t.Helper()
	session, err := h.service.Login(context.Background(), name)
	if err != nil {
		h.t.Fatalf("login %s: %v", name, err)
	}
	return session
}

type header map[string]string

func bearer(session Session) header {
	return header{"Authorization": "Bearer " + session.Token}
}

func (h *harness) do(method, path string, body any, headers header) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *harness) boardPath(suffix string) string {
	return "/api/boards/" + h.boardID + suffix
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	expectStatus(t, rr, status)
	payload := decode[map[string]any](t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
	return payload
}

func (h *harness) createColumn(title string, wipLimit *int, as Session) store.Column {
	h.t.Helper()
	rr := h.do(http.MethodPost, h.boardPath("/columns"), map[string]any{"title": title, "wipLimit": wipLimit}, bearer(as))
	expectStatus(h.t, rr, http.StatusCreated)
	return decode[store.Column](h.t, rr)
}

func (h *harness) createCard(columnID, title, afterID string, as Session) store.Card {
	h.t.Helper()
	rr := h.do(http.MethodPost, h.boardPath("/cards"), map[string]any{"columnId": columnID, "title": title, "afterId": afterID}, bearer(as))
	expectStatus(h.t, rr, http.StatusCreated)
	return decode[store.Card](h.t, rr)
}

// columnOrder returns the card titles of columnID in board order.
func (h *harness) columnOrder(columnID string) []string {
	h.t.Helper()
	rr := h.do(http.MethodGet, h.boardPath(""), nil, bearer(h.admin))
	expectStatus(h.t, rr, http.StatusOK)
	snapshot := decode[BoardSnapshot](h.t, rr)
	var cards []store.Card
	for _, card := range snapshot.Cards {
		if card.ColumnID == columnID {
			cards = append(cards, card)
		}
	}
	titles := make([]string, 0, len(cards))
	for len(cards) > 0 {
		min := 0
		for i := range cards {
			if cards[i].Position < cards[min].Position {
				min = i
			}
		}
		titles = append(titles, cards[min].Title)
		cards = append(cards[:min], cards[min+1:]...)
	}
	return titles
}

func intPtr(v int) *int { return &v }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
