package model

import "errors"

var (
	// User related errors
	ErrUserNotFound             = errors.New("user not found")
	ErrUserAlreadyExists        = errors.New("user already exists")
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrCurrentPasswordIncorrect = errors.New("current password is incorrect")
	ErrEmailNotVerified         = errors.New("email not verified")
	ErrAccountDisabled          = errors.New("account disabled")
	ErrVersionConflict          = errors.New("user was modified concurrently")

	// Bearer token errors
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")

	// One-time verification and reset tokens
	ErrOneTimeTokenInvalid = errors.New("token invalid or expired")

	// Permission/Access related errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
