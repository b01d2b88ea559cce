package ports

import (
	"context"

	"github.com/ucmc/clinic-client/internal/core/domain"
)

// AuthPayload is what credential-issuing endpoints (login, register) return.
type AuthPayload struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
}

// RegisterInput carries a self-service registration request.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"nombre" validate:"required"`
	Surname  string `json:"apellidos" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=coordinator professor student"`
	Phone    string `json:"telefono,omitempty"`
}

// ProfileInput carries a profile edit. Zero-valued fields are left untouched
// by the server.
type ProfileInput struct {
	Name    string `json:"nombre,omitempty"`
	Surname string `json:"apellidos,omitempty"`
	Phone   string `json:"telefono,omitempty"`
	Program string `json:"programa_academico,omitempty"`
}

// StudentInput is the coordinator-side student management payload.
type StudentInput struct {
	Email       string `json:"email" validate:"required,email"`
	Name        string `json:"nombre" validate:"required"`
	Surname     string `json:"apellidos" validate:"required"`
	StudentCode string `json:"codigo_estudiante" validate:"required"`
	Program     string `json:"programa_academico,omitempty"`
	Semester    int    `json:"semestre,omitempty"`
}

// AuthAPI is the remote portal contract the session manager consumes. The
// concrete implementation rides the authentication-aware request pipeline;
// tests substitute a stub.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*AuthPayload, error)
	Register(ctx context.Context, input RegisterInput) (*AuthPayload, error)
	Me(ctx context.Context) (*domain.User, error)
	UpdateProfile(ctx context.Context, input ProfileInput) (*domain.User, error)

	RequestPasswordReset(ctx context.Context, email string) (string, error)
	VerifyRecoveryCode(ctx context.Context, email, code string) (bool, string, error)
	ResetPassword(ctx context.Context, email, code, newPassword string) (string, error)

	// Coordinator student management.
	ListStudents(ctx context.Context) ([]domain.User, error)
	RegisterStudent(ctx context.Context, input StudentInput) (*domain.User, error)
	UpdateStudent(ctx context.Context, id string, input StudentInput) (*domain.User, error)
	DeleteStudent(ctx context.Context, id string) error
}
