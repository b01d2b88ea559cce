// Package file persists session credentials as a single JSON document of
// string key/value pairs — the same flat key map the browser client kept in
// localStorage, historical aliases included. Writes are atomic (temp file +
// rename) and the file is owner-only.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ucmc/clinic-client/internal/core/domain"
	"github.com/ucmc/clinic-client/internal/core/ports"
)

// Canonical keys, kept bug-compatible with the browser client: the access
// token is duplicated under "token" and "auth_token" because older releases
// read one or the other.
const (
	keyToken        = "token"
	keyAuthToken    = "auth_token"
	keyRefreshToken = "refreshToken"
	keyAuthUser     = "auth_user"
	keyUserRole     = "userRole"
	keyUserID       = "userId"
	keyUserEmail    = "userEmail"
	keyLastActivity = "lastActivity"
)

// Historical aliases that earlier code paths may have left behind. Clear
// removes these explicitly in addition to the pattern sweep.
var legacyKeys = []string{"session_data", "current_session"}

// sweepPatterns catch any same-purpose key persisted under a different name.
var sweepPatterns = []string{"auth", "user", "token", "refresh"}

// Store is a file-backed ports.CredentialStore.
type Store struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

var _ ports.CredentialStore = (*Store)(nil)

func New(path string, log zerolog.Logger) *Store {
	return &Store{path: path, log: log}
}

// Save persists a complete credential set, replacing whatever was there.
func (s *Store) Save(creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userJSON, err := json.Marshal(creds.User)
	if err != nil {
		return fmt.Errorf("encode cached user: %w", err)
	}

	m := map[string]string{
		keyToken:        creds.AccessToken,
		keyAuthToken:    creds.AccessToken,
		keyAuthUser:     string(userJSON),
		keyUserRole:     creds.Role,
		keyUserID:       creds.UserID,
		keyLastActivity: strconv.FormatInt(creds.LastActivity, 10),
	}
	if creds.User != nil {
		m[keyUserEmail] = creds.User.Email
	}
	if creds.RefreshToken != "" {
		m[keyRefreshToken] = creds.RefreshToken
	}

	return s.write(m)
}

// Load reads the persisted set. Partial or self-inconsistent records are
// swept and reported as absent, never returned.
func (s *Store) Load() (domain.Credentials, error) {
	s.mu.Lock()
	m, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return domain.Credentials{}, err
	}
	if m == nil {
		return domain.Credentials{}, domain.ErrNoCredentials
	}

	access := m[keyAuthToken]
	if access == "" {
		access = m[keyToken]
	}

	creds := domain.Credentials{
		AccessToken:  access,
		RefreshToken: m[keyRefreshToken],
		UserID:       m[keyUserID],
		Role:         m[keyUserRole],
	}
	if raw := m[keyAuthUser]; raw != "" {
		var u domain.User
		if err := json.Unmarshal([]byte(raw), &u); err == nil {
			creds.User = &u
		}
	}
	if raw := m[keyLastActivity]; raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			creds.LastActivity = ms
		}
	}

	if !creds.Consistent() {
		s.log.Warn().Str("path", s.path).Msg("persisted credentials partial or inconsistent, sweeping")
		if err := s.Clear(); err != nil {
			return domain.Credentials{}, err
		}
		return domain.Credentials{}, domain.ErrNoCredentials
	}
	return creds, nil
}

// Clear removes the canonical keys, the known legacy aliases, and any key
// whose name matches a credential pattern. Unrelated keys in the same file
// survive; an emptied file is deleted.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		// An unreadable file is itself an orphaned fragment.
		return s.remove()
	}
	if m == nil {
		return nil
	}

	for _, k := range append([]string{
		keyToken, keyAuthToken, keyRefreshToken, keyAuthUser,
		keyUserRole, keyUserID, keyUserEmail, keyLastActivity,
	}, legacyKeys...) {
		delete(m, k)
	}
	for k := range m {
		lk := strings.ToLower(k)
		for _, pat := range sweepPatterns {
			if strings.Contains(lk, pat) {
				delete(m, k)
				break
			}
		}
	}

	if len(m) == 0 {
		return s.remove()
	}
	return s.write(m)
}

// read returns the key map, nil when the file does not exist.
func (s *Store) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	return m, nil
}

func (s *Store) write(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

func (s *Store) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}
