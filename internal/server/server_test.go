package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"herlink/internal/app"
	"herlink/internal/usertoken"
	"herlink/pkg/domain"
	"herlink/pkg/store"
)

const testPassword = "Str0ng#Password!"

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	tokens, err := usertoken.New(usertoken.Config{Secret: "server-test-secret"})
	if err != nil {
		t.Fatalf("token authority: %v", err)
	}
	a, err := app.New(app.Config{Store: store.NewMemoryStore(), Tokens: tokens})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: a}).Router())
	t.Cleanup(srv.Close)
	return srv, a
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type authResult struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func registerUser(t *testing.T, baseURL, email, name string) authResult {
	t.Helper()
	resp := doJSON(t, http.MethodPost, baseURL+"/api/auth/register", "", map[string]string{
		"email": email, "password": testPassword, "fullName": name,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", email, resp.StatusCode)
	}
	return decode[authResult](t, resp)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz expected 200, got %d", resp.StatusCode)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	srv, _ := newTestServer(t)
	reg := registerUser(t, srv.URL, "ada@example.com", "Ada")
	if reg.Token == "" || reg.User.ID == "" {
		t.Fatalf("register returned empty token or user: %+v", reg)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/register", "", map[string]string{
		"email": "ada@example.com", "password": testPassword, "fullName": "Other",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register expected 409, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/auth/register", "", map[string]string{
		"email": "weak@example.com", "password": "short", "fullName": "Weak",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("weak password expected 400, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login expected 401, got %d", resp.StatusCode)
	}
}

func TestSendMessageRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/messages", "", map[string]string{
		"receiverId": "u2", "content": "hi",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSendAndReadHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	ada := registerUser(t, srv.URL, "ada@example.com", "Ada")
	grace := registerUser(t, srv.URL, "grace@example.com", "Grace")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/messages", ada.Token, map[string]string{
		"receiverId": grace.User.ID, "content": "hello grace",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send expected 201, got %d", resp.StatusCode)
	}
	sent := decode[domain.Message](t, resp)
	if sent.ID == "" || sent.CreatedAt.IsZero() {
		t.Fatalf("send response missing server fields: %+v", sent)
	}

	// Both participants see the same history.
	for _, view := range []struct {
		token string
		other string
	}{
		{ada.Token, grace.User.ID},
		{grace.Token, ada.User.ID},
	} {
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/messages/chat/"+view.other, view.token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("history expected 200, got %d", resp.StatusCode)
		}
		msgs := decode[[]domain.Message](t, resp)
		if len(msgs) != 1 || msgs[0].ID != sent.ID {
			t.Fatalf("unexpected history: %+v", msgs)
		}
	}
}

func TestSendValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	ada := registerUser(t, srv.URL, "ada@example.com", "Ada")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/messages", ada.Token, map[string]string{
		"receiverId": ada.User.ID, "content": "hi me",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self message expected 400, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/messages", ada.Token, map[string]string{
		"receiverId": "u2", "content": "   ",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank content expected 400, got %d", resp.StatusCode)
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

func TestSendRateLimitedReturns429(t *testing.T) {
	tokens, err := usertoken.New(usertoken.Config{Secret: "server-test-secret"})
	if err != nil {
		t.Fatalf("token authority: %v", err)
	}
	a, err := app.New(app.Config{Store: store.NewMemoryStore(), Tokens: tokens, Limiter: denyLimiter{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: a}).Router())
	t.Cleanup(srv.Close)

	ada := registerUser(t, srv.URL, "ada@example.com", "Ada")
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/messages", ada.Token, map[string]string{
		"receiverId": "u2", "content": "hi",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("rate limited send expected 429, got %d", resp.StatusCode)
	}
}

func TestEmptyHistoryIsEmptyArray(t *testing.T) {
	srv, _ := newTestServer(t)
	ada := registerUser(t, srv.URL, "ada@example.com", "Ada")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/messages/chat/nobody", ada.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty history expected 200, got %d", resp.StatusCode)
	}
	msgs := decode[[]domain.Message](t, resp)
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty array, got %#v", msgs)
	}
}

func TestConversationsListsCounterparts(t *testing.T) {
	srv, _ := newTestServer(t)
	ada := registerUser(t, srv.URL, "ada@example.com", "Ada")
	grace := registerUser(t, srv.URL, "grace@example.com", "Grace")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/messages", ada.Token, map[string]string{
		"receiverId": grace.User.ID, "content": "hello",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send expected 201, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/messages/conversations", grace.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("conversations expected 200, got %d", resp.StatusCode)
	}
	items := decode[[]domain.ConversationSummary](t, resp)
	if len(items) != 1 {
		t.Fatalf("expected one conversation, got %+v", items)
	}
	if items[0].CounterpartID != ada.User.ID || items[0].CounterpartName != "Ada" {
		t.Fatalf("unexpected summary: %+v", items[0])
	}
}

func TestUpdateProfile(t *testing.T) {
	srv, _ := newTestServer(t)
	ada := registerUser(t, srv.URL, "ada@example.com", "Ada")

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/users/profile", ada.Token, map[string]string{
		"fullName": "Ada L.", "bio": "builder", "avatarUrl": "https://cdn/ada.png",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("profile update expected 204, got %d", resp.StatusCode)
	}

	// The new name shows up on the counterpart's conversation list.
	grace := registerUser(t, srv.URL, "grace@example.com", "Grace")
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/messages", ada.Token, map[string]string{
		"receiverId": grace.User.ID, "content": "hello",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send expected 201, got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/messages/conversations", grace.Token, nil)
	items := decode[[]domain.ConversationSummary](t, resp)
	if len(items) != 1 || items[0].CounterpartName != "Ada L." ||
		items[0].CounterpartAvatar != "https://cdn/ada.png" {
		t.Fatalf("unexpected summary after rename: %+v", items)
	}
}

func TestChatPathValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	ada := registerUser(t, srv.URL, "ada@example.com", "Ada")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/messages/chat/", ada.Token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty counterpart expected 400, got %d", resp.StatusCode)
	}
}
