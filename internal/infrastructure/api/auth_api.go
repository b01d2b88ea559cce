// Package api implements the portal's REST contract on top of the
// authentication-aware request pipeline. It is a thin typed layer: paths and
// payload shapes live here, retry/renewal policy lives in httpclient, and
// user-facing failure wording lives in the session service.
package api

import (
	"context"
	"net/http"

	"github.com/ucmc/clinic-client/internal/core/domain"
	"github.com/ucmc/clinic-client/internal/core/ports"
	"github.com/ucmc/clinic-client/internal/infrastructure/httpclient"
)

// AuthAPI talks to the /api/auth surface of the portal.
type AuthAPI struct {
	client *httpclient.Client
}

var _ ports.AuthAPI = (*AuthAPI)(nil)

func NewAuthAPI(client *httpclient.Client) *AuthAPI {
	return &AuthAPI{client: client}
}

// tokenResponse matches the credential-issuing endpoints' wire shape.
type tokenResponse struct {
	User         *domain.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
}

// messageResponse matches the password-recovery endpoints' wire shape.
type messageResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

func (a *AuthAPI) Login(ctx context.Context, email, password string) (*ports.AuthPayload, error) {
	body := map[string]string{"email": email, "password": password}
	var resp tokenResponse
	if err := a.client.Do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return nil, err
	}
	return &ports.AuthPayload{User: resp.User, AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

func (a *AuthAPI) Register(ctx context.Context, input ports.RegisterInput) (*ports.AuthPayload, error) {
	var resp tokenResponse
	if err := a.client.Do(ctx, http.MethodPost, "/api/auth/register", input, &resp); err != nil {
		return nil, err
	}
	return &ports.AuthPayload{User: resp.User, AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

func (a *AuthAPI) Me(ctx context.Context) (*domain.User, error) {
	var user domain.User
	if err := a.client.Do(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (a *AuthAPI) UpdateProfile(ctx context.Context, input ports.ProfileInput) (*domain.User, error) {
	var user domain.User
	if err := a.client.Do(ctx, http.MethodPut, "/api/auth/profile", input, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (a *AuthAPI) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	body := map[string]string{"email": email}
	var resp messageResponse
	if err := a.client.Do(ctx, http.MethodPost, "/api/auth/request-password-reset", body, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (a *AuthAPI) VerifyRecoveryCode(ctx context.Context, email, code string) (bool, string, error) {
	body := map[string]string{"email": email, "code": code}
	var resp messageResponse
	if err := a.client.Do(ctx, http.MethodPost, "/api/auth/verify-recovery-code", body, &resp); err != nil {
		return false, "", err
	}
	return resp.Valid, resp.Message, nil
}

func (a *AuthAPI) ResetPassword(ctx context.Context, email, code, newPassword string) (string, error) {
	body := map[string]string{"email": email, "code": code, "new_password": newPassword}
	var resp messageResponse
	if err := a.client.Do(ctx, http.MethodPost, "/api/auth/reset-password", body, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (a *AuthAPI) ListStudents(ctx context.Context) ([]domain.User, error) {
	var students []domain.User
	if err := a.client.Do(ctx, http.MethodGet, "/api/auth/coordinator/students", nil, &students); err != nil {
		return nil, err
	}
	return students, nil
}

func (a *AuthAPI) RegisterStudent(ctx context.Context, input ports.StudentInput) (*domain.User, error) {
	var user domain.User
	if err := a.client.Do(ctx, http.MethodPost, "/api/auth/coordinator/students", input, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (a *AuthAPI) UpdateStudent(ctx context.Context, id string, input ports.StudentInput) (*domain.User, error) {
	var user domain.User
	if err := a.client.Do(ctx, http.MethodPut, "/api/auth/coordinator/students/"+id, input, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (a *AuthAPI) DeleteStudent(ctx context.Context, id string) error {
	return a.client.Do(ctx, http.MethodDelete, "/api/auth/coordinator/students/"+id, nil, nil)
}
