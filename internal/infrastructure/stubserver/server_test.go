package stubserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ucmc/clinic-client/internal/core/domain"
	"github.com/ucmc/clinic-client/internal/pkg/config"
)

type testServer struct {
	url      string
	users    *InMemoryUsers
	recovery *MemoryRecovery
}

func newServer(t *testing.T) *testServer {
	t.Helper()

	users := NewInMemoryUsers()
	recovery := NewMemoryRecovery()

	ctx := context.Background()
	Seed(ctx, users, domain.User{
		Email:   "coordinator@ucmc.edu.co",
		Name:    "Carolina",
		Surname: "Mejia",
		Role:    domain.RoleCoordinator,
	}, "coordinator123")
	Seed(ctx, users, domain.User{
		Email:       "student@ucmc.edu.co",
		Name:        "Laura",
		Surname:     "Gomez",
		Role:        domain.RoleStudent,
		StudentCode: "20231001",
	}, "student123")

	cfg := &config.Stub{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}
	e := New(cfg, Deps{Users: users, Recovery: recovery}, zerolog.Nop())

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &testServer{url: srv.URL, users: users, recovery: recovery}
}

func (s *testServer) request(t *testing.T, method, path, bearer string, body any) (int, map[string]json.RawMessage) {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.url+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var parsed map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&parsed)
	return resp.StatusCode, parsed
}

func rawString(t *testing.T, m map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(m[key], &s); err != nil {
		t.Fatalf("field %q: %v (raw: %s)", key, err, m[key])
	}
	return s
}

func (s *testServer) login(t *testing.T, email, password string) (access, refresh string) {
	t.Helper()
	status, body := s.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if status != http.StatusOK {
		t.Fatalf("login returned %d: %v", status, body)
	}
	return rawString(t, body, "access_token"), rawString(t, body, "refresh_token")
}

func TestServer_LoginMeRefreshFlow(t *testing.T) {
	s := newServer(t)

	access, refresh := s.login(t, "student@ucmc.edu.co", "student123")

	status, body := s.request(t, http.MethodGet, "/api/auth/me", access, nil)
	if status != http.StatusOK {
		t.Fatalf("me returned %d: %v", status, body)
	}
	if got := rawString(t, body, "email"); got != "student@ucmc.edu.co" {
		t.Fatalf("me returned wrong user: %s", got)
	}

	status, body = s.request(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	if status != http.StatusOK {
		t.Fatalf("refresh returned %d: %v", status, body)
	}
	newAccess := rawString(t, body, "access_token")
	if newAccess == "" {
		t.Fatalf("refresh returned no access token")
	}
	if _, ok := body["refresh_token"]; ok {
		t.Fatalf("refresh must not rotate the refresh token")
	}

	if status, _ := s.request(t, http.MethodGet, "/api/auth/me", newAccess, nil); status != http.StatusOK {
		t.Fatalf("renewed access token rejected: %d", status)
	}
}

func TestServer_LoginWrongPassword(t *testing.T) {
	s := newServer(t)

	status, body := s.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "student@ucmc.edu.co",
		"password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	if got := rawString(t, body, "detail"); got != "Invalid credentials" {
		t.Fatalf("detail = %q", got)
	}
}

func TestServer_LoginUnknownEmailSameAnswer(t *testing.T) {
	s := newServer(t)

	status, body := s.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "nobody@ucmc.edu.co",
		"password": "whatever1",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	if got := rawString(t, body, "detail"); got != "Invalid credentials" {
		t.Fatalf("unknown email must answer like a bad password, got %q", got)
	}
}

func TestServer_MeRejectsRefreshToken(t *testing.T) {
	s := newServer(t)

	_, refresh := s.login(t, "student@ucmc.edu.co", "student123")

	// The two token types must not be interchangeable.
	if status, _ := s.request(t, http.MethodGet, "/api/auth/me", refresh, nil); status != http.StatusUnauthorized {
		t.Fatalf("refresh token accepted as access token: %d", status)
	}
}

func TestServer_RegisterDuplicateEmail(t *testing.T) {
	s := newServer(t)

	payload := map[string]string{
		"email":     "student@ucmc.edu.co",
		"password":  "newpassword1",
		"nombre":    "Otra",
		"apellidos": "Persona",
		"role":      "student",
	}
	status, _ := s.request(t, http.MethodPost, "/api/auth/register", "", payload)
	if status != http.StatusConflict {
		t.Fatalf("duplicate register returned %d, want 409", status)
	}
}

func TestServer_PasswordRecoveryFlow(t *testing.T) {
	s := newServer(t)
	email := "student@ucmc.edu.co"

	status, _ := s.request(t, http.MethodPost, "/api/auth/request-password-reset", "", map[string]string{
		"email": email,
	})
	if status != http.StatusOK {
		t.Fatalf("request-password-reset returned %d", status)
	}

	// The stub only logs the generated code; plant a known one instead.
	if err := s.recovery.Put(context.Background(), email, "654321", time.Minute); err != nil {
		t.Fatalf("seed recovery code: %v", err)
	}

	status, body := s.request(t, http.MethodPost, "/api/auth/verify-recovery-code", "", map[string]string{
		"email": email,
		"code":  "654321",
	})
	if status != http.StatusOK {
		t.Fatalf("verify returned %d", status)
	}
	var valid bool
	if err := json.Unmarshal(body["valid"], &valid); err != nil || !valid {
		t.Fatalf("expected valid code, got %v (%v)", string(body["valid"]), err)
	}

	status, _ = s.request(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{
		"email":        email,
		"code":         "654321",
		"new_password": "freshpassword1",
	})
	if status != http.StatusOK {
		t.Fatalf("reset-password returned %d", status)
	}

	// The code is consumed; a replay must fail.
	status, _ = s.request(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{
		"email":        email,
		"code":         "654321",
		"new_password": "anotherpass1",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("replayed code returned %d, want 400", status)
	}

	// And the new password works.
	s.login(t, email, "freshpassword1")
}

func TestServer_RequestPasswordResetUnknownEmail(t *testing.T) {
	s := newServer(t)

	status, _ := s.request(t, http.MethodPost, "/api/auth/request-password-reset", "", map[string]string{
		"email": "nobody@ucmc.edu.co",
	})
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestServer_StudentManagementRBAC(t *testing.T) {
	s := newServer(t)

	studentAccess, _ := s.login(t, "student@ucmc.edu.co", "student123")
	coordAccess, _ := s.login(t, "coordinator@ucmc.edu.co", "coordinator123")

	if status, _ := s.request(t, http.MethodGet, "/api/auth/coordinator/students", studentAccess, nil); status != http.StatusForbidden {
		t.Fatalf("student reached coordinator endpoint: %d", status)
	}
	if status, _ := s.request(t, http.MethodGet, "/api/auth/coordinator/students", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("anonymous request returned %d, want 401", status)
	}

	status, body := s.request(t, http.MethodPost, "/api/auth/coordinator/students", coordAccess, map[string]any{
		"email":             "nuevo@ucmc.edu.co",
		"nombre":            "Nuevo",
		"apellidos":         "Estudiante",
		"codigo_estudiante": "20249999",
		"semestre":          3,
	})
	if status != http.StatusCreated {
		t.Fatalf("register student returned %d: %v", status, body)
	}
	id := rawString(t, body, "id")

	status, _ = s.request(t, http.MethodPut, "/api/auth/coordinator/students/"+id, coordAccess, map[string]any{
		"email":             "nuevo@ucmc.edu.co",
		"nombre":            "Nuevo",
		"apellidos":         "Actualizado",
		"codigo_estudiante": "20249999",
	})
	if status != http.StatusOK {
		t.Fatalf("update student returned %d", status)
	}

	status, _ = s.request(t, http.MethodDelete, "/api/auth/coordinator/students/"+id, coordAccess, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete student returned %d", status)
	}
}

func TestServer_ValidationEnvelope(t *testing.T) {
	s := newServer(t)

	status, body := s.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "not-an-email",
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", status)
	}
	if _, ok := body["detail"]; !ok {
		t.Fatalf("validation failure must use the detail envelope: %v", body)
	}
}

func TestServer_HealthProbes(t *testing.T) {
	s := newServer(t)

	if status, _ := s.request(t, http.MethodGet, "/health", "", nil); status != http.StatusOK {
		t.Fatalf("liveness returned %d", status)
	}
	// No external stores configured: readiness is trivially ok.
	status, body := s.request(t, http.MethodGet, "/health/ready", "", nil)
	if status != http.StatusOK {
		t.Fatalf("readiness returned %d: %v", status, body)
	}
	if got := rawString(t, body, "status"); got != "ok" {
		t.Fatalf("readiness status = %q", got)
	}
}

func TestTokenIssuer_VerifyRejectsForgedToken(t *testing.T) {
	issuer := NewTokenIssuer("secret-a", time.Minute, time.Hour)
	other := NewTokenIssuer("secret-b", time.Minute, time.Hour)

	access, _, err := other.Issue(&domain.User{ID: "u1", Role: domain.RoleStudent})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := issuer.Verify(access, tokenTypeAccess); err == nil {
		t.Fatalf("token signed with another secret must be rejected")
	}
}

func TestTokenIssuer_ExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Nanosecond, time.Hour)

	access, err := issuer.IssueAccess(&domain.User{ID: "u1", Role: domain.RoleStudent})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, _, err := issuer.Verify(access, tokenTypeAccess); err == nil {
		t.Fatalf("expired token must be rejected")
	}
}
