package domain

import "time"

// Phase is the coarse authentication state derived from a Session snapshot.
type Phase string

const (
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseAuthenticating  Phase = "authenticating"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseError           Phase = "error"
)

// Session is the authoritative in-memory record of the current user's
// authentication status. It is an immutable snapshot: every transition
// produces a new value via Reduce, and only the session manager holds the
// current one.
type Session struct {
	IsAuthenticated bool
	User            *User
	AccessToken     string
	RefreshToken    string
	LastActivity    time.Time
	Loading         bool
	Error           string
	Initialized     bool
}

// NewSession returns the empty session the process starts with: nothing is
// known yet, so Loading is true until the initializer finishes.
func NewSession() Session {
	return Session{Loading: true}
}

// Phase derives the coarse state for consumers that only render on it.
func (s Session) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseAuthenticating
	case s.IsAuthenticated:
		return PhaseAuthenticated
	case s.Error != "":
		return PhaseError
	default:
		return PhaseUnauthenticated
	}
}

// Event is the tagged union of session transitions. Timestamps travel inside
// events so Reduce stays a pure function of (state, event).
type Event interface{ isSessionEvent() }

type (
	// LoginStart marks the beginning of any credential-changing action.
	LoginStart struct{}

	// LoginSuccess populates the session after login, registration, token
	// renewal or a successful restore.
	LoginSuccess struct {
		User         *User
		AccessToken  string
		RefreshToken string
		At           time.Time
	}

	// LoginFailure records a human-readable failure and drops any
	// credential fields.
	LoginFailure struct{ Message string }

	// Logout resets to the empty, settled session.
	Logout struct{}

	// UpdateActivity moves the last-activity timestamp and nothing else.
	UpdateActivity struct{ At time.Time }

	// SetUser replaces the profile only (profile edits), independent of
	// token state.
	SetUser struct{ User *User }

	// SetLoading toggles the loading flag for actions that do not change
	// credentials (password recovery round-trips).
	SetLoading struct{ Loading bool }

	// ClearError wipes the error message.
	ClearError struct{}

	// SetInitialized marks the one-time initializer as finished without
	// restoring a session.
	SetInitialized struct{}
)

func (LoginStart) isSessionEvent()     {}
func (LoginSuccess) isSessionEvent()   {}
func (LoginFailure) isSessionEvent()   {}
func (Logout) isSessionEvent()         {}
func (UpdateActivity) isSessionEvent() {}
func (SetUser) isSessionEvent()        {}
func (SetLoading) isSessionEvent()     {}
func (ClearError) isSessionEvent()     {}
func (SetInitialized) isSessionEvent() {}

// Reduce folds one event over a session snapshot. It performs no I/O and
// reads no clock; side effects (persistence, bearer headers) are the
// caller's responsibility around the transition. Unknown events return the
// state unchanged.
func Reduce(s Session, ev Event) Session {
	switch e := ev.(type) {
	case LoginStart:
		s.Loading = true
		s.Error = ""
		return s
	case LoginSuccess:
		s.Loading = false
		s.IsAuthenticated = true
		s.User = e.User.Clone()
		s.AccessToken = e.AccessToken
		s.RefreshToken = e.RefreshToken
		s.Error = ""
		s.LastActivity = e.At
		s.Initialized = true
		return s
	case LoginFailure:
		s.Loading = false
		s.IsAuthenticated = false
		s.User = nil
		s.AccessToken = ""
		s.RefreshToken = ""
		s.Error = e.Message
		return s
	case Logout:
		return Session{Initialized: s.Initialized}
	case UpdateActivity:
		s.LastActivity = e.At
		return s
	case SetUser:
		s.User = e.User.Clone()
		s.Loading = false
		return s
	case SetLoading:
		s.Loading = e.Loading
		return s
	case ClearError:
		s.Error = ""
		return s
	case SetInitialized:
		s.Initialized = true
		s.Loading = false
		return s
	default:
		return s
	}
}
