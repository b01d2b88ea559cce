package stubserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecoveryStore holds short-lived password-recovery codes, one per email.
type RecoveryStore interface {
	Put(ctx context.Context, email, code string, ttl time.Duration) error
	Verify(ctx context.Context, email, code string) (bool, error)
	Delete(ctx context.Context, email string) error
}

type recoveryEntry struct {
	code    string
	expires time.Time
}

// MemoryRecovery is the in-process RecoveryStore used by tests and by the
// stub when no Redis is configured.
type MemoryRecovery struct {
	mu      sync.Mutex
	entries map[string]recoveryEntry
}

var _ RecoveryStore = (*MemoryRecovery)(nil)

func NewMemoryRecovery() *MemoryRecovery {
	return &MemoryRecovery{entries: make(map[string]recoveryEntry)}
}

func (s *MemoryRecovery) Put(_ context.Context, email, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[email] = recoveryEntry{code: code, expires: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryRecovery) Verify(_ context.Context, email, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[email]
	if !ok || time.Now().After(e.expires) {
		delete(s.entries, email)
		return false, nil
	}
	return e.code == code, nil
}

func (s *MemoryRecovery) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, email)
	return nil
}

// RedisRecovery stores recovery codes in Redis so several stub instances
// can share them. Key format: recovery:<email>.
type RedisRecovery struct {
	client *redis.Client
}

var _ RecoveryStore = (*RedisRecovery)(nil)

func NewRedisRecovery(client *redis.Client) *RedisRecovery {
	return &RedisRecovery{client: client}
}

func (s *RedisRecovery) key(email string) string {
	return fmt.Sprintf("recovery:%s", email)
}

func (s *RedisRecovery) Put(ctx context.Context, email, code string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(email), code, ttl).Err()
}

func (s *RedisRecovery) Verify(ctx context.Context, email, code string) (bool, error) {
	stored, err := s.client.Get(ctx, s.key(email)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recovery lookup: %w", err)
	}
	return stored == code, nil
}

func (s *RedisRecovery) Delete(ctx context.Context, email string) error {
	return s.client.Del(ctx, s.key(email)).Err()
}
