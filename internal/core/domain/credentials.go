package domain

// Credentials is the durable projection of a Session: what survives a
// process restart. It is either fully present and internally consistent or
// fully absent — stores must sweep anything in between.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	User         *User
	// UserID and Role are denormalized copies used by the initializer's
	// consistency check against the identity endpoint.
	UserID       string
	Role         string
	LastActivity int64 // epoch milliseconds, matching the legacy storage format
}

// FromSession projects a snapshot into its persisted form. Only call it on
// an authenticated snapshot; Consistent() guards the result.
func FromSession(s Session) Credentials {
	c := Credentials{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         s.User.Clone(),
	}
	if s.User != nil {
		c.UserID = s.User.ID
		c.Role = s.User.Role
	}
	if !s.LastActivity.IsZero() {
		c.LastActivity = s.LastActivity.UnixMilli()
	}
	return c
}

// Consistent reports whether the set is complete and self-referring: token,
// user, denormalized id/role and activity all present, with id/role matching
// the cached profile.
func (c Credentials) Consistent() bool {
	if c.AccessToken == "" || c.User == nil || c.UserID == "" || c.Role == "" || c.LastActivity == 0 {
		return false
	}
	return c.User.ID == c.UserID && c.User.Role == c.Role
}
