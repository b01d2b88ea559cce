package stubserver

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ucmc/clinic-client/internal/core/domain"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserRepository is the stub server's account storage contract. The
// in-memory implementation backs tests and local development; the Mongo one
// persists across restarts.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) (*domain.User, error)
	Delete(ctx context.Context, id string) error
	ListByRole(ctx context.Context, role string) ([]domain.User, error)
}

// InMemoryUsers is a mutex-guarded map repository.
type InMemoryUsers struct {
	mu    sync.RWMutex
	seq   int
	users map[string]*domain.User
}

var _ UserRepository = (*InMemoryUsers)(nil)

func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{users: make(map[string]*domain.User)}
}

func (r *InMemoryUsers) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email {
			return nil, ErrUserExists
		}
	}

	stored := user.Clone()
	if stored.ID == "" {
		r.seq++
		stored.ID = strconv.Itoa(r.seq)
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.users[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *InMemoryUsers) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			return u.Clone(), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *InMemoryUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return u.Clone(), nil
	}
	return nil, ErrUserNotFound
}

func (r *InMemoryUsers) Update(_ context.Context, user *domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return nil, ErrUserNotFound
	}
	r.users[user.ID] = user.Clone()
	return user.Clone(), nil
}

func (r *InMemoryUsers) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *InMemoryUsers) ListByRole(_ context.Context, role string) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.User
	for _, u := range r.users {
		if u.Role == role {
			out = append(out, *u.Clone())
		}
	}
	return out, nil
}

// Seed inserts a user with a bcrypt-hashed password, for development and
// tests. It panics on hashing failure; seeding is always a startup-time act.
func Seed(ctx context.Context, repo UserRepository, user domain.User, password string) *domain.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	user.PasswordHash = string(hash)
	user.Active = true
	created, err := repo.Create(ctx, &user)
	if err != nil {
		panic(err)
	}
	return created
}
