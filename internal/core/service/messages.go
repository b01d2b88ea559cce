package service

import (
	"errors"

	"github.com/ucmc/clinic-client/internal/core/domain"
)

// Failure wording mirrors the status-code taxonomy the portal UI has always
// shown. The Session's Error field only ever carries one of these strings or
// a server-provided message, never a raw transport error.

const msgUnreachable = "Could not reach the server. Check your connection and try again."

func loginFailureMessage(err error) string {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, domain.ErrUnreachable) {
			return msgUnreachable
		}
		return "Unexpected error. Try again."
	}
	switch apiErr.Status {
	case 401:
		return "Incorrect credentials. Check your email address and password."
	case 404:
		return "User not found. Check your email address or register."
	case 422:
		return "Invalid data. Check the email and password format."
	case 500:
		return "Internal server error. Try again later."
	default:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "Authentication error."
	}
}

func registerFailureMessage(err error) string {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, domain.ErrUnreachable) {
			return msgUnreachable
		}
		return "Unexpected error. Try again."
	}
	switch apiErr.Status {
	case 400:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "Invalid data. Check the information entered."
	case 409:
		return "This email address is already registered. Use another one or sign in."
	case 422:
		return "Invalid data. Check the email format and the other fields."
	case 500:
		return "Internal server error. Try again later."
	default:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "Registration error."
	}
}

func passwordResetRequestMessage(err error) string {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, domain.ErrUnreachable) {
			return msgUnreachable
		}
		return "Unexpected error. Try again."
	}
	switch apiErr.Status {
	case 404:
		return "No account found with this email address."
	case 429:
		return "Too many attempts. Wait a few minutes before trying again."
	case 500:
		return "Internal server error. Try again later."
	default:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "Could not send the recovery email."
	}
}

func passwordResetMessage(err error) string {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, domain.ErrUnreachable) {
			return msgUnreachable
		}
		return "Unexpected error. Try again."
	}
	switch apiErr.Status {
	case 400:
		return "The verification code is invalid or has expired."
	case 404:
		return "User or recovery request not found."
	case 422:
		return "The new password does not meet the security requirements."
	case 500:
		return "Internal server error. Try again later."
	default:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "Could not change the password."
	}
}
