package session

import (
	"context"
	"errors"
	"net"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
)

// User-facing command errors.
const (
	msgInvalidCredentials = "Invalid email or password."
	msgEmailNotConfirmed  = "Please verify your email address before signing in."
	msgRateLimited        = "Too many login attempts. Please wait a moment and try again."
	msgNetwork            = "Unable to reach the authentication service. Check your connection and try again."
	msgLoginFailed        = "Login failed. Please try again."
	msgNotConfigured      = "Authentication is not configured. Please contact an administrator."
	msgMissingCredentials = "Please enter your email and password."

	msgUserExists         = "An account with this email already exists."
	msgWeakPassword       = "Password must be at least 6 characters long."
	msgInvalidEmail       = "Please enter a valid email address."
	msgRegistrationFailed = "Registration failed. Please try again."
	msgNameRequired       = "Please enter your first and last name."
	msgNameTooLong        = "Names and company must be at most 100 characters."

	msgNotSignedIn     = "You must be signed in to update your profile."
	msgNothingToUpdate = "No profile changes were submitted."
	msgInvalidRole     = "Role must be Admin, Manager or User."
	msgAdminOnly       = "Only administrators can change roles or account status."
	msgUpdateFailed    = "Your profile could not be updated. Please try again."
)

// isNetworkError reports failures to reach the backend at all.
func isNetworkError(err error) bool {
	var ext *domain.ErrExternalService
	var to *domain.ErrTimeout
	var open *domain.ErrCircuitOpen
	var netErr net.Error
	return errors.As(err, &ext) || errors.As(err, &to) || errors.As(err, &open) ||
		errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}

func loginErrorMessage(err error) string {
	var authErr *domain.ErrAuth
	switch {
	case errors.Is(err, domain.ErrNotConfigured):
		return msgNotConfigured
	case errors.As(err, &authErr):
		switch authErr.Code {
		case domain.AuthCodeInvalidCredentials:
			return msgInvalidCredentials
		case domain.AuthCodeEmailNotConfirmed:
			return msgEmailNotConfirmed
		case domain.AuthCodeRateLimited:
			return msgRateLimited
		}
	case isNetworkError(err):
		return msgNetwork
	}
	return msgLoginFailed
}

func registerErrorMessage(err error) string {
	var authErr *domain.ErrAuth
	switch {
	case errors.Is(err, domain.ErrNotConfigured):
		return msgNotConfigured
	case errors.As(err, &authErr):
		switch authErr.Code {
		case domain.AuthCodeUserExists:
			return msgUserExists
		case domain.AuthCodeWeakPassword:
			return msgWeakPassword
		case domain.AuthCodeInvalidEmail:
			return msgInvalidEmail
		case domain.AuthCodeRateLimited:
			return msgRateLimited
		}
	case isNetworkError(err):
		return msgNetwork
	}
	return msgRegistrationFailed
}

func validationMessage(err *domain.ErrValidation) string {
	switch err.Field {
	case "email":
		return msgInvalidEmail
	case "password":
		return msgWeakPassword
	case "firstName", "lastName":
		if err.Message == "is required" {
			return msgNameRequired
		}
		return msgNameTooLong
	case "company":
		return msgNameTooLong
	case "role":
		return msgInvalidRole
	case "profile":
		return msgNothingToUpdate
	}
	return err.Error()
}
