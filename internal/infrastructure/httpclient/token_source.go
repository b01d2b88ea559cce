package httpclient

import "sync"

// TokenSource is the shared bearer-credential slot read by the request
// pipeline on every outbound call. The session manager writes it in lockstep
// with the credential store so in-memory and persisted state never diverge.
type TokenSource struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

func NewTokenSource() *TokenSource {
	return &TokenSource{}
}

// Set installs the current token pair.
func (t *TokenSource) Set(access, refresh string) {
	t.mu.Lock()
	t.access = access
	t.refresh = refresh
	t.mu.Unlock()
}

// Clear removes both tokens; subsequent requests go out unauthenticated.
func (t *TokenSource) Clear() {
	t.Set("", "")
}

// Access returns the current access token, or "" when unauthenticated.
func (t *TokenSource) Access() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.access
}

// Refresh returns the current refresh token, or "" when none is held.
func (t *TokenSource) Refresh() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refresh
}
