package domain

import "time"

// Roles form a closed set. Anything else coming back from the portal is
// treated as an identity inconsistency.
const (
	RoleCoordinator = "coordinator"
	RoleProfessor   = "professor"
	RoleStudent     = "student"
)

// ValidRole reports whether role belongs to the closed role set.
func ValidRole(role string) bool {
	switch role {
	case RoleCoordinator, RoleProfessor, RoleStudent:
		return true
	}
	return false
}

// User models an account on the legal-clinic portal as the remote identity
// endpoint reports it. PasswordHash is only populated server-side (stub
// server); the client never sees it.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"nombre"`
	Surname      string    `json:"apellidos"`
	Role         string    `json:"role"`
	StudentCode  string    `json:"codigo_estudiante,omitempty"`
	Program      string    `json:"programa_academico,omitempty"`
	Semester     int       `json:"semestre,omitempty"`
	Phone        string    `json:"telefono,omitempty"`
	Active       bool      `json:"activo"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	PasswordHash string    `json:"-"`
}

// Clone returns a deep copy so session snapshots never alias caller-held
// profile structs.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
