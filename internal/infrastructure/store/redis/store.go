// Package redis provides a Redis-backed credential store for shared-terminal
// deployments (clinic kiosks) where sessions must not live on local disk.
// The credential set is one hash using the same legacy field names as the
// file store, so the sweep semantics are identical.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ucmc/clinic-client/internal/core/domain"
	"github.com/ucmc/clinic-client/internal/core/ports"
)

const (
	defaultTimeout = 5 * time.Second
	opTimeout      = 3 * time.Second
)

// Config captures the settings for establishing a Redis connection.
type Config struct {
	Addr    string
	DB      int
	Timeout time.Duration
}

// Connect initialises a Redis client and validates connectivity with a ping.
// A default timeout is applied when none is provided.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

// Store is a Redis-backed ports.CredentialStore scoped by key prefix, so
// several kiosk profiles can share one instance.
type Store struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

var _ ports.CredentialStore = (*Store)(nil)

func NewStore(client *redis.Client, prefix string, log zerolog.Logger) *Store {
	if prefix == "" {
		prefix = "clinic:session"
	}
	return &Store{client: client, prefix: prefix, log: log}
}

func (s *Store) key() string { return s.prefix + ":credentials" }

func (s *Store) Save(creds domain.Credentials) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	userJSON, err := json.Marshal(creds.User)
	if err != nil {
		return fmt.Errorf("encode cached user: %w", err)
	}

	fields := map[string]any{
		"token":        creds.AccessToken,
		"auth_token":   creds.AccessToken,
		"auth_user":    string(userJSON),
		"userRole":     creds.Role,
		"userId":       creds.UserID,
		"lastActivity": strconv.FormatInt(creds.LastActivity, 10),
	}
	if creds.User != nil {
		fields["userEmail"] = creds.User.Email
	}
	if creds.RefreshToken != "" {
		fields["refreshToken"] = creds.RefreshToken
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key())
	pipe.HSet(ctx, s.key(), fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *Store) Load() (domain.Credentials, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	m, err := s.client.HGetAll(ctx, s.key()).Result()
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	if len(m) == 0 {
		return domain.Credentials{}, domain.ErrNoCredentials
	}

	access := m["auth_token"]
	if access == "" {
		access = m["token"]
	}
	creds := domain.Credentials{
		AccessToken:  access,
		RefreshToken: m["refreshToken"],
		UserID:       m["userId"],
		Role:         m["userRole"],
	}
	if raw := m["auth_user"]; raw != "" {
		var u domain.User
		if err := json.Unmarshal([]byte(raw), &u); err == nil {
			creds.User = &u
		}
	}
	if raw := m["lastActivity"]; raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			creds.LastActivity = ms
		}
	}

	if !creds.Consistent() {
		s.log.Warn().Str("key", s.key()).Msg("persisted credentials partial or inconsistent, sweeping")
		if err := s.Clear(); err != nil {
			return domain.Credentials{}, err
		}
		return domain.Credentials{}, domain.ErrNoCredentials
	}
	return creds, nil
}

// Clear deletes the credential hash and sweeps any stray key under the
// prefix whose name matches a credential pattern (flat keys written by
// earlier client versions).
func (s *Store) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}

	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	var stray []string
	for iter.Next(ctx) {
		k := strings.ToLower(iter.Val())
		for _, pat := range []string{"auth", "user", "token", "refresh", "session_data"} {
			if strings.Contains(k, pat) {
				stray = append(stray, iter.Val())
				break
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("sweep credential keys: %w", err)
	}
	if len(stray) > 0 {
		if err := s.client.Del(ctx, stray...).Err(); err != nil {
			return fmt.Errorf("sweep credential keys: %w", err)
		}
	}
	return nil
}
