package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ucmc/clinic-client/internal/core/domain"
	"github.com/ucmc/clinic-client/internal/core/ports"
	filestore "github.com/ucmc/clinic-client/internal/infrastructure/store/file"
)

// stubAuthAPI is a programmable ports.AuthAPI with call counters.
type stubAuthAPI struct {
	loginPayload *ports.AuthPayload
	loginErr     error
	loginCalls   int

	meUser  *domain.User
	meErr   error
	meCalls int
}

func (s *stubAuthAPI) Login(_ context.Context, _, _ string) (*ports.AuthPayload, error) {
	s.loginCalls++
	return s.loginPayload, s.loginErr
}

func (s *stubAuthAPI) Register(_ context.Context, _ ports.RegisterInput) (*ports.AuthPayload, error) {
	return s.loginPayload, s.loginErr
}

func (s *stubAuthAPI) Me(_ context.Context) (*domain.User, error) {
	s.meCalls++
	return s.meUser, s.meErr
}

func (s *stubAuthAPI) UpdateProfile(_ context.Context, _ ports.ProfileInput) (*domain.User, error) {
	return s.meUser, s.meErr
}

func (s *stubAuthAPI) RequestPasswordReset(_ context.Context, _ string) (string, error) {
	return "Recovery code sent to your email address.", nil
}

func (s *stubAuthAPI) VerifyRecoveryCode(_ context.Context, _, code string) (bool, string, error) {
	return code == "123456", "", nil
}

func (s *stubAuthAPI) ResetPassword(_ context.Context, _, _, _ string) (string, error) {
	return "Password updated successfully.", nil
}

func (s *stubAuthAPI) ListStudents(_ context.Context) ([]domain.User, error) { return nil, nil }

func (s *stubAuthAPI) RegisterStudent(_ context.Context, _ ports.StudentInput) (*domain.User, error) {
	return nil, nil
}

func (s *stubAuthAPI) UpdateStudent(_ context.Context, _ string, _ ports.StudentInput) (*domain.User, error) {
	return nil, nil
}

func (s *stubAuthAPI) DeleteStudent(_ context.Context, _ string) error { return nil }

// stubBearer is an in-memory ports.BearerSource.
type stubBearer struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func (b *stubBearer) Set(access, refresh string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.access, b.refresh = access, refresh
}

func (b *stubBearer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.access, b.refresh = "", ""
}

func (b *stubBearer) Access() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.access
}

func (b *stubBearer) Refresh() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refresh
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func studentUser() *domain.User {
	return &domain.User{
		ID:    "u1",
		Email: "student@ucmc.edu.co",
		Name:  "Laura",
		Role:  domain.RoleStudent,
	}
}

type fixture struct {
	manager *SessionManager
	api     *stubAuthAPI
	bearer  *stubBearer
	store   *filestore.Store
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := &stubAuthAPI{}
	bearer := &stubBearer{}
	store := filestore.New(filepath.Join(t.TempDir(), "session.json"), zerolog.Nop())
	clock := newFakeClock(time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC))

	m := NewSessionManager(store, api, bearer, nil, domain.DefaultTimeoutPolicy, zerolog.Nop(),
		WithClock(clock.Now))
	t.Cleanup(m.Logout)

	return &fixture{manager: m, api: api, bearer: bearer, store: store, clock: clock}
}

func TestSessionManager_LoginSuccess(t *testing.T) {
	f := newFixture(t)
	f.api.loginPayload = &ports.AuthPayload{
		User:         studentUser(),
		AccessToken:  "acc",
		RefreshToken: "ref",
	}

	if err := f.manager.Login(context.Background(), "student@ucmc.edu.co", "student123"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	snap := f.manager.Snapshot()
	if !snap.IsAuthenticated || snap.User == nil || snap.User.ID != "u1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Phase() != domain.PhaseAuthenticated {
		t.Fatalf("phase = %s", snap.Phase())
	}
	if f.bearer.Access() != "acc" || f.bearer.Refresh() != "ref" {
		t.Fatalf("bearer slot not populated")
	}

	creds, err := f.store.Load()
	if err != nil {
		t.Fatalf("store after login: %v", err)
	}
	if !creds.Consistent() || creds.UserID != "u1" {
		t.Fatalf("persisted credentials inconsistent: %+v", creds)
	}
}

func TestSessionManager_LoginValidationRejectsLocally(t *testing.T) {
	f := newFixture(t)

	err := f.manager.Login(context.Background(), "not-an-email", "")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if f.api.loginCalls != 0 {
		t.Fatalf("invalid input must not reach the network")
	}
	if _, err := f.store.Load(); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("store touched by rejected input")
	}
}

func TestSessionManager_LoginRejectedByServer(t *testing.T) {
	f := newFixture(t)
	f.api.loginErr = &domain.APIError{Status: 401, Message: "Invalid credentials"}

	err := f.manager.Login(context.Background(), "student@ucmc.edu.co", "wrong")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	snap := f.manager.Snapshot()
	if snap.IsAuthenticated || snap.User != nil {
		t.Fatalf("rejected login left a session: %+v", snap)
	}
	if snap.Error != "Incorrect credentials. Check your email address and password." {
		t.Fatalf("error message = %q", snap.Error)
	}
	if _, err := f.store.Load(); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("rejected login left persisted credentials")
	}
}

func TestSessionManager_LoginUnreachableServer(t *testing.T) {
	f := newFixture(t)
	f.api.loginErr = domain.ErrUnreachable

	err := f.manager.Login(context.Background(), "student@ucmc.edu.co", "pw")
	if !errors.Is(err, domain.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if snap := f.manager.Snapshot(); snap.Error != msgUnreachable {
		t.Fatalf("error message = %q", snap.Error)
	}
}

func TestSessionManager_LogoutIdempotent(t *testing.T) {
	f := newFixture(t)
	f.api.loginPayload = &ports.AuthPayload{User: studentUser(), AccessToken: "acc", RefreshToken: "ref"}
	if err := f.manager.Login(context.Background(), "student@ucmc.edu.co", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.manager.Logout()
	f.manager.Logout()

	snap := f.manager.Snapshot()
	if snap.IsAuthenticated || snap.User != nil || snap.AccessToken != "" {
		t.Fatalf("logout left residue: %+v", snap)
	}
	if f.bearer.Access() != "" || f.bearer.Refresh() != "" {
		t.Fatalf("bearer slot not cleared")
	}
	if _, err := f.store.Load(); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("store not cleared by logout")
	}
}

func TestSessionManager_InitializeEmptyStore(t *testing.T) {
	f := newFixture(t)

	f.manager.Initialize(context.Background())

	snap := f.manager.Snapshot()
	if snap.IsAuthenticated || snap.Loading || !snap.Initialized {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if f.api.meCalls != 0 {
		t.Fatalf("empty store must not trigger an identity check")
	}
}

func TestSessionManager_InitializeExpiredWithoutNetwork(t *testing.T) {
	f := newFixture(t)

	// Persist a session whose last activity lies outside the window.
	stale := f.clock.Now().Add(-20 * time.Minute)
	if err := f.store.Save(domain.Credentials{
		AccessToken:  "acc",
		RefreshToken: "ref",
		User:         studentUser(),
		UserID:       "u1",
		Role:         domain.RoleStudent,
		LastActivity: stale.UnixMilli(),
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	f.manager.Initialize(context.Background())

	if f.api.meCalls != 0 {
		t.Fatalf("expired session must be discarded before any network call")
	}
	snap := f.manager.Snapshot()
	if snap.IsAuthenticated || !snap.Initialized {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if _, err := f.store.Load(); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("expired credentials not swept")
	}
}

func TestSessionManager_InitializeIdentityMismatch(t *testing.T) {
	f := newFixture(t)

	if err := f.store.Save(domain.Credentials{
		AccessToken:  "acc",
		User:         studentUser(),
		UserID:       "u1",
		Role:         domain.RoleStudent,
		LastActivity: f.clock.Now().Add(-time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	f.api.meUser = &domain.User{ID: "someone-else", Email: "other@ucmc.edu.co", Role: domain.RoleProfessor}

	f.manager.Initialize(context.Background())

	snap := f.manager.Snapshot()
	if snap.IsAuthenticated {
		t.Fatalf("mismatched identity must never be adopted")
	}
	if _, err := f.store.Load(); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("mismatched credentials not swept")
	}
	if f.bearer.Access() != "" {
		t.Fatalf("bearer slot not cleared after mismatch")
	}
}

func TestSessionManager_InitializeRejectedToken(t *testing.T) {
	f := newFixture(t)

	if err := f.store.Save(domain.Credentials{
		AccessToken:  "acc",
		User:         studentUser(),
		UserID:       "u1",
		Role:         domain.RoleStudent,
		LastActivity: f.clock.Now().Add(-time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	f.api.meErr = &domain.APIError{Status: 401, Message: "Token expired"}

	f.manager.Initialize(context.Background())

	snap := f.manager.Snapshot()
	if snap.IsAuthenticated || !snap.Initialized || snap.Loading {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if _, err := f.store.Load(); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("rejected credentials not swept")
	}
}

func TestSessionManager_InitializeRestoresSession(t *testing.T) {
	f := newFixture(t)

	lastActivity := f.clock.Now().Add(-2 * time.Minute)
	if err := f.store.Save(domain.Credentials{
		AccessToken:  "acc",
		RefreshToken: "ref",
		User:         studentUser(),
		UserID:       "u1",
		Role:         domain.RoleStudent,
		LastActivity: lastActivity.UnixMilli(),
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	f.api.meUser = studentUser()

	f.manager.Initialize(context.Background())

	snap := f.manager.Snapshot()
	if !snap.IsAuthenticated || snap.User == nil || snap.User.ID != "u1" {
		t.Fatalf("session not restored: %+v", snap)
	}
	if !snap.LastActivity.Equal(f.clock.Now()) {
		t.Fatalf("restoration must count as fresh activity: %v", snap.LastActivity)
	}
	if f.bearer.Access() != "acc" {
		t.Fatalf("bearer slot not populated from store")
	}

	creds, err := f.store.Load()
	if err != nil {
		t.Fatalf("store after restore: %v", err)
	}
	if creds.LastActivity != f.clock.Now().UnixMilli() {
		t.Fatalf("refreshed activity not persisted: %d", creds.LastActivity)
	}
}

func TestSessionManager_InitializeRunsOnce(t *testing.T) {
	f := newFixture(t)

	if err := f.store.Save(domain.Credentials{
		AccessToken:  "acc",
		User:         studentUser(),
		UserID:       "u1",
		Role:         domain.RoleStudent,
		LastActivity: f.clock.Now().Add(-time.Minute).UnixMilli(),
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	f.api.meUser = studentUser()

	f.manager.Initialize(context.Background())
	f.manager.Initialize(context.Background())

	if f.api.meCalls != 1 {
		t.Fatalf("identity check ran %d times, want 1", f.api.meCalls)
	}
}

func TestSessionManager_RecordActivityWhileUnauthenticated(t *testing.T) {
	f := newFixture(t)

	f.manager.RecordActivity()

	if _, err := f.store.Load(); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("unauthenticated activity must not persist anything")
	}
}

func TestSessionManager_RecordActivityMovesTimestamp(t *testing.T) {
	f := newFixture(t)
	f.api.loginPayload = &ports.AuthPayload{User: studentUser(), AccessToken: "acc"}
	if err := f.manager.Login(context.Background(), "student@ucmc.edu.co", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.clock.Advance(3 * time.Minute)
	f.manager.RecordActivity()

	snap := f.manager.Snapshot()
	if !snap.LastActivity.Equal(f.clock.Now()) {
		t.Fatalf("last activity = %v, want %v", snap.LastActivity, f.clock.Now())
	}
	creds, err := f.store.Load()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if creds.LastActivity != f.clock.Now().UnixMilli() {
		t.Fatalf("activity not persisted: %d", creds.LastActivity)
	}
}

func TestSessionManager_HandleTokenRenewed(t *testing.T) {
	f := newFixture(t)
	f.api.loginPayload = &ports.AuthPayload{User: studentUser(), AccessToken: "acc", RefreshToken: "ref"}
	if err := f.manager.Login(context.Background(), "student@ucmc.edu.co", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.manager.HandleTokenRenewed("acc2", "ref2")

	snap := f.manager.Snapshot()
	if snap.AccessToken != "acc2" || snap.RefreshToken != "ref2" {
		t.Fatalf("renewed tokens not folded in: %q/%q", snap.AccessToken, snap.RefreshToken)
	}
	if !snap.IsAuthenticated || snap.User == nil {
		t.Fatalf("renewal must keep the session authenticated")
	}

	creds, err := f.store.Load()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if creds.AccessToken != "acc2" || creds.RefreshToken != "ref2" {
		t.Fatalf("renewed tokens not persisted: %q/%q", creds.AccessToken, creds.RefreshToken)
	}
}

func TestSessionManager_HandleTokenRenewedBeforeSession(t *testing.T) {
	f := newFixture(t)

	// A renewal during the initializer's identity check arrives before any
	// session exists; it must not fabricate one.
	f.manager.HandleTokenRenewed("acc", "ref")

	if snap := f.manager.Snapshot(); snap.IsAuthenticated {
		t.Fatalf("renewal without a session created one: %+v", snap)
	}
}

func TestSessionManager_HandleAuthExpired(t *testing.T) {
	f := newFixture(t)
	f.api.loginPayload = &ports.AuthPayload{User: studentUser(), AccessToken: "acc", RefreshToken: "ref"}
	if err := f.manager.Login(context.Background(), "student@ucmc.edu.co", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.manager.HandleAuthExpired()

	snap := f.manager.Snapshot()
	if snap.IsAuthenticated || snap.User != nil {
		t.Fatalf("expired authorization left a session: %+v", snap)
	}
	if _, err := f.store.Load(); !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("store not cleared")
	}
	if f.bearer.Access() != "" {
		t.Fatalf("bearer slot not cleared")
	}
}

func TestSessionManager_ResetPasswordRejectsBadCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.ResetPassword(context.Background(), ResetPasswordInput{
		Email:       "student@ucmc.edu.co",
		Code:        "000000",
		NewPassword: "newpassword1",
	})
	if err == nil {
		t.Fatalf("expected rejection for a bad code")
	}
	if snap := f.manager.Snapshot(); snap.Error == "" {
		t.Fatalf("failed reset must surface an error message")
	}
}

func TestSessionManager_ResetPasswordVerifiesThenResets(t *testing.T) {
	f := newFixture(t)

	msg, err := f.manager.ResetPassword(context.Background(), ResetPasswordInput{
		Email:       "student@ucmc.edu.co",
		Code:        "123456",
		NewPassword: "newpassword1",
	})
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if msg != "Password updated successfully." {
		t.Fatalf("message = %q", msg)
	}
	if snap := f.manager.Snapshot(); snap.Loading {
		t.Fatalf("reset must settle loading")
	}
}
