package app

import (
	"context"
	"errors"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coursewright/api/internal/authpw"
	"coursewright/api/internal/store"
)

// memUserStore backs the account service in HTTP tests.
type memUserStore struct {
	users  map[string]store.User
	resets map[string]string
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]store.User{}, resets: map[string]string{}}
}

func (m *memUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, errNotFound
}
func (m *memUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	u, ok := m.users[id]
	if !ok {
		return store.User{}, errNotFound
	}
	return u, nil
}
func (m *memUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	return nil
}
func (m *memUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	u := m.users[userID]
	u.VerificationToken = token
	m.users[userID] = u
	return nil
}
func (m *memUserStore) VerifyUserEmail(_ context.Context, token string) error {
	for id, u := range m.users {
		if u.VerificationToken == token && token != "" {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			m.users[id] = u
			return nil
		}
	}
	return errNotFound
}
func (m *memUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	u := m.users[userID]
	u.PasswordHash = passwordHash
	m.users[userID] = u
	return nil
}
func (m *memUserStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	m.resets[token] = userID
	return nil
}
func (m *memUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	userID, ok := m.resets[token]
	if !ok {
		return "", errNotFound
	}
	return userID, nil
}
func (m *memUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	delete(m.resets, token)
	return nil
}

var errNotFound = errors.New("not found")

func newAuthTestServer(t *testing.T) (*HTTPServer, *memUserStore) {
	t.Helper()
	users := newMemUserStore()
	fs := &fakeStore{
		getUserByIDFn: func(ctx context.Context, id string) (store.User, error) {
			return users.GetUserByID(ctx, id)
		},
	}
	svc := New(testConfig(), fs, newFakeSessions(), nil)
	svc.SetAuthPassword(authpw.NewService(users))
	return NewHTTPServer(svc, "*"), users
}

func postJSON(t *testing.T, server *HTTPServer, path string, body map[string]any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	var decoded map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &decoded)
	return rr, decoded
}

func TestSignUpSignInFlow(t *testing.T) {
	server, _ := newAuthTestServer(t)

	rr, resp := postJSON(t, server, "/api/auth/signup", map[string]any{
		"email":       "sam@example.com",
		"password":    "correct-horse",
		"displayName": "Sam",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status = %d: %s", rr.Code, rr.Body.String())
	}
	// Mail is not configured in tests, so the token is surfaced for dev use.
	token, _ := resp["devVerificationToken"].(string)
	if token == "" {
		t.Fatal("expected devVerificationToken in response")
	}

	// Signing in before verification is refused.
	rr, _ = postJSON(t, server, "/api/auth/signin", map[string]any{
		"email":    "sam@example.com",
		"password": "correct-horse",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("pre-verify signin status = %d", rr.Code)
	}

	rr, _ = postJSON(t, server, "/api/auth/verify-email", map[string]any{"token": token})
	if rr.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", rr.Code, rr.Body.String())
	}

	rr, resp = postJSON(t, server, "/api/auth/signin", map[string]any{
		"email":    "sam@example.com",
		"password": "correct-horse",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("signin status = %d: %s", rr.Code, rr.Body.String())
	}
	access, _ := resp["accessToken"].(string)
	refresh, _ := resp["refreshToken"].(string)
	if access == "" || refresh == "" {
		t.Fatal("signin response missing tokens")
	}

	// The access token authenticates the session endpoint.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rr2 := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr2, req)
	var sessionResp map[string]any
	_ = json.Unmarshal(rr2.Body.Bytes(), &sessionResp)
	if sessionResp["authenticated"] != true {
		t.Fatalf("session response = %v", sessionResp)
	}
	if sessionResp["userName"] != "Sam" {
		t.Fatalf("userName = %v", sessionResp["userName"])
	}

	// Refresh rotates the pair.
	rr, resp = postJSON(t, server, "/api/auth/refresh", map[string]any{"refreshToken": refresh})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rr.Code, rr.Body.String())
	}
	if resp["refreshToken"] == refresh {
		t.Fatal("refresh token not rotated")
	}

	// The old refresh token is dead.
	rr, _ = postJSON(t, server, "/api/auth/refresh", map[string]any{"refreshToken": refresh})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("stale refresh status = %d", rr.Code)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	server, _ := newAuthTestServer(t)

	rr, resp := postJSON(t, server, "/api/auth/signup", map[string]any{
		"email":       "sam@example.com",
		"password":    "correct-horse",
		"displayName": "Sam",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status = %d", rr.Code)
	}
	token, _ := resp["devVerificationToken"].(string)
	postJSON(t, server, "/api/auth/verify-email", map[string]any{"token": token})

	rr, _ = postJSON(t, server, "/api/auth/signin", map[string]any{
		"email":    "sam@example.com",
		"password": "battery-staple",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", rr.Code)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	server, _ := newAuthTestServer(t)

	body := map[string]any{
		"email":       "sam@example.com",
		"password":    "correct-horse",
		"displayName": "Sam",
	}
	if rr, _ := postJSON(t, server, "/api/auth/signup", body); rr.Code != http.StatusCreated {
		t.Fatalf("first signup status = %d", rr.Code)
	}
	rr, _ := postJSON(t, server, "/api/auth/signup", body)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d", rr.Code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	server, _ := newAuthTestServer(t)

	rr, resp := postJSON(t, server, "/api/auth/signup", map[string]any{
		"email":       "sam@example.com",
		"password":    "correct-horse",
		"displayName": "Sam",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status = %d", rr.Code)
	}
	verifyToken, _ := resp["devVerificationToken"].(string)
	postJSON(t, server, "/api/auth/verify-email", map[string]any{"token": verifyToken})

	rr, resp = postJSON(t, server, "/api/auth/request-reset", map[string]any{"email": "sam@example.com"})
	if rr.Code != http.StatusOK {
		t.Fatalf("request-reset status = %d", rr.Code)
	}
	resetToken, _ := resp["devResetToken"].(string)
	if resetToken == "" {
		t.Fatal("expected devResetToken in response")
	}

	rr, _ = postJSON(t, server, "/api/auth/reset-password", map[string]any{
		"token":       resetToken,
		"newPassword": "battery-staple-9",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d: %s", rr.Code, rr.Body.String())
	}

	rr, _ = postJSON(t, server, "/api/auth/signin", map[string]any{
		"email":    "sam@example.com",
		"password": "battery-staple-9",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("signin with new password status = %d", rr.Code)
	}
}
