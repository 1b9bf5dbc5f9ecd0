package auth

import (
	"strings"

	"github.com/goliatone/go-errors"
)

// Text codes attached to the auth error sentinels
const (
	TextCodeUsernameTaken          = "USERNAME_TAKEN"
	TextCodeUnknownUser            = "UNKNOWN_USER"
	TextCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	TextCodeUnauthenticated        = "UNAUTHENTICATED"
	TextCodeTokenInvalidSignature  = "TOKEN_INVALID_SIGNATURE"
	TextCodeTokenExpired           = "TOKEN_EXPIRED"
	TextCodeTokenMalformed         = "TOKEN_MALFORMED"
	TextCodeTokenMissingSubject    = "TOKEN_MISSING_SUBJECT"
	TextCodeStartupConfiguration   = "STARTUP_CONFIGURATION"
	TextCodeEmptyUsername          = "EMPTY_USERNAME"
	TextCodeEmptyPassword          = "EMPTY_PASSWORD"
	TextCodePasswordTooLong        = "PASSWORD_TOO_LONG"
	TextCodeUserNotFound           = "USER_NOT_FOUND"
	TextCodeUniquenessViolation    = "UNIQUENESS_VIOLATION"
	TextCodeStoreFailure           = "STORE_FAILURE"
	TextCodeUnsupportedAlgorithm   = "UNSUPPORTED_ALGORITHM"
	TextCodeUnsupportedDatabaseURL = "UNSUPPORTED_DATABASE_URL"
)

var (
	// ErrUsernameTaken signup for a username that already exists
	ErrUsernameTaken = errors.New("Username already registered", errors.CategoryConflict).
				WithCode(errors.CodeBadRequest).
				WithTextCode(TextCodeUsernameTaken)

	// ErrUnknownUser login for a username with no record
	ErrUnknownUser = errors.New("You need to sign up!", errors.CategoryAuth).
			WithCode(errors.CodeUnauthorized).
			WithTextCode(TextCodeUnknownUser)

	// ErrBadCredentials login with a password that does not match
	ErrBadCredentials = errors.New("Incorrect password", errors.CategoryAuth).
				WithCode(errors.CodeUnauthorized).
				WithTextCode(TextCodeInvalidCredentials)

	// ErrUnifiedCredentials replaces both login failures when unified login
	// errors are enabled
	ErrUnifiedCredentials = errors.New("Incorrect username or password", errors.CategoryAuth).
				WithCode(errors.CodeUnauthorized).
				WithTextCode(TextCodeInvalidCredentials)

	// ErrUnauthenticated is the single outcome of a failed identity resolution
	ErrUnauthenticated = errors.New("Could not validate credentials", errors.CategoryAuth).
				WithCode(errors.CodeUnauthorized).
				WithTextCode(TextCodeUnauthenticated)
)

var (
	ErrTokenInvalidSignature = errors.New("token signature is invalid", errors.CategoryAuth).
					WithCode(errors.CodeUnauthorized).
					WithTextCode(TextCodeTokenInvalidSignature)

	ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
			WithCode(errors.CodeUnauthorized).
			WithTextCode(TextCodeTokenExpired)

	ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
				WithCode(errors.CodeUnauthorized).
				WithTextCode(TextCodeTokenMalformed)

	ErrTokenMissingSubject = errors.New("token has no subject", errors.CategoryAuth).
				WithCode(errors.CodeUnauthorized).
				WithTextCode(TextCodeTokenMissingSubject)
)

var (
	ErrEmptyUsername = errors.New("username must not be empty", errors.CategoryValidation).
				WithCode(errors.CodeBadRequest).
				WithTextCode(TextCodeEmptyUsername)

	// ErrEmptyPassword we do not hash empty strings
	ErrEmptyPassword = errors.New("password must not be empty", errors.CategoryValidation).
				WithCode(errors.CodeBadRequest).
				WithTextCode(TextCodeEmptyPassword)

	// ErrPasswordTooLong bcrypt only reads the first 72 bytes
	ErrPasswordTooLong = errors.New("password must be at most 72 bytes", errors.CategoryValidation).
				WithCode(errors.CodeBadRequest).
				WithTextCode(TextCodePasswordTooLong)
)

var (
	// ErrUserNotFound is returned by the credential store for missing records
	ErrUserNotFound = errors.New("user not found", errors.CategoryNotFound).
			WithCode(errors.CodeNotFound).
			WithTextCode(TextCodeUserNotFound)

	// ErrUniquenessViolation is returned by the credential store when an
	// insert would duplicate a unique value
	ErrUniquenessViolation = errors.New("uniqueness violation", errors.CategoryConflict).
				WithCode(errors.CodeConflict).
				WithTextCode(TextCodeUniquenessViolation)
)

// NewStartupConfigurationError reports a missing or invalid setting. It is
// fatal: callers abort startup.
func NewStartupConfigurationError(source error, message string) *errors.Error {
	if message == "" {
		message = "invalid startup configuration"
	}
	e := errors.New(message, errors.CategoryValidation).
		WithTextCode(TextCodeStartupConfiguration)
	e.Source = source
	return e
}

// IsStartupConfigurationError checks for configuration errors
func IsStartupConfigurationError(err error) bool {
	return hasTextCode(err, TextCodeStartupConfiguration)
}

// IsTokenError reports whether err is one of the token verification errors
func IsTokenError(err error) bool {
	return hasTextCode(err,
		TextCodeTokenInvalidSignature,
		TextCodeTokenExpired,
		TextCodeTokenMalformed,
		TextCodeTokenMissingSubject,
	)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

func storeError(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.CategoryInternal, message).
		WithCode(errors.CodeInternal).
		WithTextCode(TextCodeStoreFailure)
}

func hasTextCode(err error, codes ...string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	for _, code := range codes {
		if richErr.TextCode == code {
			return true
		}
	}
	return false
}
