// Package service owns the session lifecycle: the authoritative session
// snapshot, the actions exposed to UI consumers, the one-time startup
// reconciliation, and the activity monitor that closes idle sessions.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ucmc/clinic-client/internal/core/domain"
	"github.com/ucmc/clinic-client/internal/core/ports"
	"github.com/ucmc/clinic-client/internal/metrics"
)

// ResetPasswordInput carries the two-step password recovery request: the
// code is verified first, then the password is changed.
type ResetPasswordInput struct {
	Email       string `validate:"required,email"`
	Code        string `validate:"required"`
	NewPassword string `validate:"required,min=8"`
}

type loginInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type emailInput struct {
	Email string `validate:"required,email"`
}

// SessionManager is the single owner of the session state machine. Every
// transition goes through apply under one mutex, producing a new immutable
// snapshot; side effects (credential store, bearer source) are performed
// around transitions at exactly the points the lifecycle enumerates. The
// mutex is never held across a network call.
type SessionManager struct {
	store  ports.CredentialStore
	api    ports.AuthAPI
	bearer ports.BearerSource
	policy domain.TimeoutPolicy
	clock  func() time.Time
	log    zerolog.Logger

	validate *validator.Validate
	monitor  *activityMonitor

	mu       sync.Mutex
	state    domain.Session
	initDone bool
}

// Option customises a SessionManager at construction time.
type Option func(*SessionManager)

// WithClock substitutes the time source. Tests use it to drive the
// inactivity window without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(m *SessionManager) { m.clock = clock }
}

// NewSessionManager wires the lifecycle together. source may be nil when the
// host application has no interaction signals to offer (the expiry check
// still runs; activity then comes from explicit RecordActivity calls).
func NewSessionManager(
	store ports.CredentialStore,
	authAPI ports.AuthAPI,
	bearer ports.BearerSource,
	source ports.ActivitySource,
	policy domain.TimeoutPolicy,
	log zerolog.Logger,
	opts ...Option,
) *SessionManager {
	m := &SessionManager{
		store:    store,
		api:      authAPI,
		bearer:   bearer,
		policy:   policy,
		clock:    time.Now,
		log:      log,
		validate: validator.New(),
		state:    domain.NewSession(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.monitor = newActivityMonitor(source, policy, m.clock, log)
	m.monitor.record = m.RecordActivity
	m.monitor.expired = m.activityExpired
	m.monitor.expire = m.expireSession
	return m
}

// Snapshot returns a copy of the current session. The copy is safe to hold:
// it never mutates under the caller.
func (m *SessionManager) Snapshot() domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// apply folds one event into the state and keeps the activity monitor
// registration symmetric with the authenticated state.
func (m *SessionManager) apply(ev domain.Event) domain.Session {
	m.mu.Lock()
	wasAuth := m.state.IsAuthenticated
	m.state = domain.Reduce(m.state, ev)
	isAuth := m.state.IsAuthenticated
	snap := m.state
	m.mu.Unlock()

	if isAuth && !wasAuth {
		m.monitor.start()
	} else if !isAuth && wasAuth {
		m.monitor.halt()
	}
	return snap
}

// persist writes the snapshot's durable projection. Failures are logged,
// not surfaced: the in-memory session stays authoritative and the next
// consistent write or sweep repairs the store.
func (m *SessionManager) persist(snap domain.Session) {
	if err := m.store.Save(domain.FromSession(snap)); err != nil {
		m.log.Warn().Err(err).Msg("persisting credentials failed")
	}
}

// sweep clears the credential store and the bearer slot together, keeping
// persisted and in-memory credentials in lockstep.
func (m *SessionManager) sweep() {
	if err := m.store.Clear(); err != nil {
		m.log.Warn().Err(err).Msg("clearing credential store failed")
	}
	m.bearer.Clear()
}

// ── Initializer ───────────────────────────────────────────────────────────────

// Initialize reconciles persisted credentials with the remote identity
// endpoint. It runs exactly once, before any protected screen; repeat calls
// are no-ops. It always settles the session (loading=false) and never
// returns an error for a failed restore — an unrestorable session is simply
// unauthenticated.
func (m *SessionManager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.initDone {
		m.mu.Unlock()
		return
	}
	m.initDone = true
	m.mu.Unlock()

	creds, err := m.store.Load()
	if err != nil {
		if !errors.Is(err, domain.ErrNoCredentials) {
			m.log.Warn().Err(err).Msg("credential store unreadable, starting unauthenticated")
			m.sweep()
		}
		metrics.SessionRestoresTotal.WithLabelValues("empty").Inc()
		m.apply(domain.SetInitialized{})
		return
	}

	// An expired session must not resurrect via a successful identity
	// check, so the window is evaluated before any network call.
	if m.policy.Expired(time.UnixMilli(creds.LastActivity), m.clock()) {
		m.log.Info().Msg("persisted session expired by inactivity, discarding")
		metrics.SessionRestoresTotal.WithLabelValues("expired").Inc()
		m.sweep()
		m.apply(domain.Logout{})
		m.apply(domain.SetInitialized{})
		return
	}

	m.bearer.Set(creds.AccessToken, creds.RefreshToken)

	user, err := m.api.Me(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("identity check failed, discarding persisted session")
		metrics.SessionRestoresTotal.WithLabelValues("rejected").Inc()
		m.sweep()
		m.apply(domain.Logout{})
		m.apply(domain.SetInitialized{})
		return
	}

	if user.ID != creds.UserID || user.Role != creds.Role {
		// Token accepted but for a different identity than the one cached
		// locally. Treated as a security condition, never adopted.
		m.log.Warn().
			Str("cached_id", creds.UserID).Str("cached_role", creds.Role).
			Str("server_id", user.ID).Str("server_role", user.Role).
			Msg("identity mismatch between cache and server, forcing logout")
		metrics.SessionRestoresTotal.WithLabelValues("mismatch").Inc()
		m.sweep()
		m.apply(domain.Logout{})
		m.apply(domain.SetInitialized{})
		return
	}

	// The pipeline may have renewed the token pair during the identity
	// check; the bearer slot holds whatever is current.
	now := m.clock()
	m.apply(domain.LoginSuccess{
		User:         user,
		AccessToken:  m.bearer.Access(),
		RefreshToken: m.bearer.Refresh(),
		At:           now,
	})
	// Successful restoration counts as fresh activity.
	snap := m.apply(domain.UpdateActivity{At: now})
	m.persist(snap)
	metrics.SessionRestoresTotal.WithLabelValues("restored").Inc()
	m.log.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("session restored")
}

// ── Actions ───────────────────────────────────────────────────────────────────

// Login authenticates against the portal. Bad input is rejected locally with
// a *domain.ValidationError before any state or store is touched.
func (m *SessionManager) Login(ctx context.Context, email, password string) error {
	if err := validateInput(m.validate, loginInput{Email: email, Password: password}); err != nil {
		return err
	}

	m.apply(domain.LoginStart{})
	// Pre-login sweep: no trace of a previous session may survive into a
	// new one, whatever key it was stored under.
	m.sweep()

	payload, err := m.api.Login(ctx, email, password)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues(loginOutcome(err)).Inc()
		m.apply(domain.LoginFailure{Message: loginFailureMessage(err)})
		return err
	}
	if payload.User == nil || payload.AccessToken == "" || !domain.ValidRole(payload.User.Role) {
		metrics.LoginAttemptsTotal.WithLabelValues("rejected").Inc()
		m.apply(domain.LoginFailure{Message: "Unexpected server response. Try again later."})
		return domain.ErrUnauthorized
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	m.bearer.Set(payload.AccessToken, payload.RefreshToken)
	snap := m.apply(domain.LoginSuccess{
		User:         payload.User,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		At:           m.clock(),
	})
	m.persist(snap)
	m.log.Info().Str("user_id", payload.User.ID).Str("role", payload.User.Role).Msg("login successful")
	return nil
}

// Logout closes the session and removes every persisted artifact. Calling
// it twice leaves the same empty session and empty store as calling it once.
func (m *SessionManager) Logout() {
	m.sweep()
	m.apply(domain.Logout{})
	m.log.Info().Msg("logged out")
}

// Register creates an account; on success the portal signs the new user in
// directly, so the session is populated like a login.
func (m *SessionManager) Register(ctx context.Context, input ports.RegisterInput) error {
	if err := validateInput(m.validate, input); err != nil {
		return err
	}

	m.apply(domain.LoginStart{})
	m.sweep()

	payload, err := m.api.Register(ctx, input)
	if err != nil {
		m.apply(domain.LoginFailure{Message: registerFailureMessage(err)})
		return err
	}
	if payload.User == nil || payload.AccessToken == "" {
		m.apply(domain.LoginFailure{Message: "Unexpected server response. Try again later."})
		return domain.ErrUnauthorized
	}

	m.bearer.Set(payload.AccessToken, payload.RefreshToken)
	snap := m.apply(domain.LoginSuccess{
		User:         payload.User,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		At:           m.clock(),
	})
	m.persist(snap)
	return nil
}

// UpdateProfile edits the authenticated user's profile. The cached user is
// re-persisted so the store keeps referring to the session it mirrors.
func (m *SessionManager) UpdateProfile(ctx context.Context, input ports.ProfileInput) (*domain.User, error) {
	user, err := m.api.UpdateProfile(ctx, input)
	if err != nil {
		return nil, err
	}
	snap := m.apply(domain.SetUser{User: user})
	if snap.IsAuthenticated {
		m.persist(snap)
	}
	return user, nil
}

// ClearError wipes the session's error message.
func (m *SessionManager) ClearError() {
	m.apply(domain.ClearError{})
}

// ForgotPassword asks the portal to mail a recovery code.
func (m *SessionManager) ForgotPassword(ctx context.Context, email string) (string, error) {
	if err := validateInput(m.validate, emailInput{Email: email}); err != nil {
		return "", err
	}

	m.apply(domain.LoginStart{})
	msg, err := m.api.RequestPasswordReset(ctx, email)
	if err != nil {
		m.apply(domain.LoginFailure{Message: passwordResetRequestMessage(err)})
		return "", err
	}
	m.apply(domain.SetLoading{Loading: false})
	return msg, nil
}

// ResetPassword verifies the recovery code first and only then changes the
// password, mirroring the portal's two-step recovery flow.
func (m *SessionManager) ResetPassword(ctx context.Context, input ResetPasswordInput) (string, error) {
	if err := validateInput(m.validate, input); err != nil {
		return "", err
	}

	m.apply(domain.LoginStart{})

	valid, verifyMsg, err := m.api.VerifyRecoveryCode(ctx, input.Email, input.Code)
	if err != nil {
		m.apply(domain.LoginFailure{Message: passwordResetMessage(err)})
		return "", err
	}
	if !valid {
		if verifyMsg == "" {
			verifyMsg = "The verification code is invalid or has expired."
		}
		m.apply(domain.LoginFailure{Message: verifyMsg})
		return "", &domain.APIError{Status: 400, Message: verifyMsg}
	}

	msg, err := m.api.ResetPassword(ctx, input.Email, input.Code, input.NewPassword)
	if err != nil {
		m.apply(domain.LoginFailure{Message: passwordResetMessage(err)})
		return "", err
	}
	m.apply(domain.SetLoading{Loading: false})
	return msg, nil
}

// ── Coordinator student management ────────────────────────────────────────────

func (m *SessionManager) ListStudents(ctx context.Context) ([]domain.User, error) {
	return m.api.ListStudents(ctx)
}

func (m *SessionManager) RegisterStudent(ctx context.Context, input ports.StudentInput) (*domain.User, error) {
	if err := validateInput(m.validate, input); err != nil {
		return nil, err
	}
	return m.api.RegisterStudent(ctx, input)
}

func (m *SessionManager) UpdateStudent(ctx context.Context, id string, input ports.StudentInput) (*domain.User, error) {
	if err := validateInput(m.validate, input); err != nil {
		return nil, err
	}
	return m.api.UpdateStudent(ctx, id, input)
}

func (m *SessionManager) DeleteStudent(ctx context.Context, id string) error {
	return m.api.DeleteStudent(ctx, id)
}

// ── Activity and expiry ───────────────────────────────────────────────────────

// RecordActivity moves the last-activity timestamp and persists it. It is a
// no-op while unauthenticated. Interaction signals funnel here through the
// monitor's throttle; hosts without a signal source call it directly (the
// CLI does, once per command).
func (m *SessionManager) RecordActivity() {
	m.mu.Lock()
	if !m.state.IsAuthenticated {
		m.mu.Unlock()
		return
	}
	m.state = domain.Reduce(m.state, domain.UpdateActivity{At: m.clock()})
	snap := m.state
	m.mu.Unlock()

	m.persist(snap)
}

func (m *SessionManager) activityExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.IsAuthenticated {
		return false
	}
	return m.policy.Expired(m.state.LastActivity, m.clock())
}

// expireSession is the only purely time-driven logout path. It makes no
// network call and surfaces no error: expiry is a deliberate, silent
// transition to unauthenticated.
func (m *SessionManager) expireSession() {
	m.mu.Lock()
	authenticated := m.state.IsAuthenticated
	m.mu.Unlock()
	if !authenticated {
		return
	}

	metrics.SessionExpiriesTotal.Inc()
	m.sweep()
	m.apply(domain.Logout{})
	m.log.Info().Msg("session closed after inactivity window")
}

// ── Pipeline hooks ────────────────────────────────────────────────────────────

// HandleTokenRenewed folds a successful one-shot renewal into the session.
// The request pipeline invokes it with the token pair already installed in
// the bearer slot.
func (m *SessionManager) HandleTokenRenewed(access, refresh string) {
	m.mu.Lock()
	user := m.state.User
	m.mu.Unlock()
	if user == nil {
		// Renewal happened before the session was populated (during the
		// initializer's identity check). The initializer reads the bearer
		// slot afterwards; there is no snapshot to update yet.
		return
	}

	snap := m.apply(domain.LoginSuccess{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		At:           m.clock(),
	})
	m.persist(snap)
	m.log.Debug().Msg("renewed credentials folded into session")
}

// HandleAuthExpired closes the session after an unrecoverable 401: no
// refresh token, or the renewal itself was rejected.
func (m *SessionManager) HandleAuthExpired() {
	m.sweep()
	m.apply(domain.Logout{})
	m.log.Info().Msg("authorization expired, session closed")
}

func loginOutcome(err error) string {
	if errors.Is(err, domain.ErrUnreachable) {
		return "unreachable"
	}
	return "rejected"
}
