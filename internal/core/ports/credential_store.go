package ports

import "github.com/ucmc/clinic-client/internal/core/domain"

// CredentialStore is the single source of truth for persisted identity
// artifacts. Implementations must guarantee that after any call sequence the
// store holds either one complete, consistent credential set or nothing.
type CredentialStore interface {
	// Save persists a complete credential set. It is never called with a
	// partial update.
	Save(creds domain.Credentials) error

	// Load returns the persisted set, or domain.ErrNoCredentials when the
	// store is empty. A partial or self-inconsistent record is swept and
	// reported as absent.
	Load() (domain.Credentials, error)

	// Clear removes the canonical keys and any key matching the known
	// historical aliases for token/user/role/refresh data, so no orphaned
	// credential fragment survives a logout or failed validation.
	Clear() error
}
