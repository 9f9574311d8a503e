package auth

import (
	"fmt"
	"net/http"

	"github.com/goliatone/go-errors"
)

// Text codes attached to every failure returned by the package
const (
	TextCodeEmailInUse          = "EMAIL_IN_USE"
	TextCodeInvalidCreds        = "INVALID_CREDENTIALS"
	TextCodeAccountLocked       = "ACCOUNT_LOCKED"
	TextCodeAccountDeactivated  = "ACCOUNT_DEACTIVATED"
	TextCodeAccessDenied        = "ACCESS_DENIED"
	TextCodePasswordIncorrect   = "CURRENT_PASSWORD_INCORRECT"
	TextCodePasswordUnchanged   = "PASSWORD_UNCHANGED"
	TextCodeUserNotFound        = "USER_NOT_FOUND"
	TextCodeUserInactive        = "USER_INACTIVE"
	TextCodeMissingSigningKey   = "MISSING_SIGNING_KEY"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeTokenMalformed      = "TOKEN_MALFORMED"
	TextCodeTokenTypeMismatch   = "TOKEN_TYPE_MISMATCH"
	TextCodeEmptyPassword       = "EMPTY_PASSWORD"
	TextCodeInvalidConfig       = "INVALID_CONFIG"
	TextCodeInvalidPayload      = "INVALID_PAYLOAD"
	TextCodeMissingSession      = "SESSION_NOT_FOUND"
	TextCodeRepositoryFailure   = "REPOSITORY_FAILURE"
	TextCodeTokenSigningFailure = "TOKEN_SIGNING_FAILURE"
)

// FailureKind is the closed set of failure classes callers pattern match on.
type FailureKind string

const (
	KindConflict     FailureKind = "conflict"
	KindUnauthorized FailureKind = "unauthorized"
	KindForbidden    FailureKind = "forbidden"
	KindBadRequest   FailureKind = "bad_request"
	KindFatal        FailureKind = "fatal"
	KindInternal     FailureKind = "internal"
)

var (
	// ErrEmailInUse is returned by Signup when a live account owns the email
	ErrEmailInUse = errors.New("User with this email already exists", errors.CategoryConflict).
			WithCode(http.StatusConflict).
			WithTextCode(TextCodeEmailInUse)

	// ErrInvalidCredentials covers both unknown email and wrong password
	ErrInvalidCredentials = errors.New("Invalid credentials", errors.CategoryAuth).
				WithCode(http.StatusUnauthorized).
				WithTextCode(TextCodeInvalidCreds)

	// ErrAccountDeactivated is returned when an inactive account signs in
	ErrAccountDeactivated = errors.New("Account is deactivated", errors.CategoryAuthz).
				WithCode(http.StatusForbidden).
				WithTextCode(TextCodeAccountDeactivated)

	// ErrAccessDenied is returned for any refresh token mismatch
	ErrAccessDenied = errors.New("Access Denied", errors.CategoryAuthz).
			WithCode(http.StatusForbidden).
			WithTextCode(TextCodeAccessDenied)

	ErrUserNotFound = errors.New("User not found", errors.CategoryAuth).
			WithCode(http.StatusUnauthorized).
			WithTextCode(TextCodeUserNotFound)

	ErrUserInactive = errors.New("User not found or inactive", errors.CategoryAuth).
			WithCode(http.StatusUnauthorized).
			WithTextCode(TextCodeUserInactive)

	ErrCurrentPasswordIncorrect = errors.New("Current password is incorrect", errors.CategoryAuth).
					WithCode(http.StatusUnauthorized).
					WithTextCode(TextCodePasswordIncorrect)

	ErrPasswordUnchanged = errors.New("New password must be different from current password", errors.CategoryBadInput).
				WithCode(http.StatusBadRequest).
				WithTextCode(TextCodePasswordUnchanged)

	// ErrMissingSigningKey is a startup failure: the process must not serve without secrets
	ErrMissingSigningKey = errors.New("token signing secret is not configured", errors.CategoryInternal).
				WithCode(http.StatusInternalServerError).
				WithTextCode(TextCodeMissingSigningKey)

	ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
			WithCode(http.StatusUnauthorized).
			WithTextCode(TextCodeTokenExpired)

	ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
				WithCode(http.StatusUnauthorized).
				WithTextCode(TextCodeTokenMalformed)

	ErrTokenTypeMismatch = errors.New("token type mismatch", errors.CategoryAuth).
				WithCode(http.StatusUnauthorized).
				WithTextCode(TextCodeTokenTypeMismatch)

	// ErrNoEmptyString is returned when hashing an empty password
	ErrNoEmptyString = errors.New("password can not be empty", errors.CategoryValidation).
				WithCode(http.StatusBadRequest).
				WithTextCode(TextCodeEmptyPassword)

	// ErrUnableToFindSession is returned when a guarded route runs without claims
	ErrUnableToFindSession = errors.New("unable to find session", errors.CategoryAuth).
				WithCode(http.StatusUnauthorized).
				WithTextCode(TextCodeMissingSession)
)

// NewAccountLockedError builds the lockout failure. The message wording is
// relied upon by clients.
func NewAccountLockedError(remainingMinutes int) *errors.Error {
	msg := fmt.Sprintf(
		"Account is locked due to too many failed login attempts. Please try again in %d minutes.",
		remainingMinutes,
	)
	return errors.New(msg, errors.CategoryAuthz).
		WithCode(http.StatusForbidden).
		WithTextCode(TextCodeAccountLocked).
		WithMetadata(map[string]any{
			"remaining_minutes": remainingMinutes,
		})
}

// NewValidationError wraps a payload validation failure
func NewValidationError(err error) *errors.Error {
	return errors.Wrap(err, errors.CategoryValidation, "invalid request payload").
		WithCode(http.StatusBadRequest).
		WithTextCode(TextCodeInvalidPayload)
}

func repositoryError(err error, msg string) error {
	return errors.Wrap(err, errors.CategoryInternal, msg).
		WithCode(http.StatusInternalServerError).
		WithTextCode(TextCodeRepositoryFailure)
}

// HasTextCode reports whether err carries the given text code
func HasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// KindOf classifies err into one of the FailureKind values
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}

	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return KindInternal
	}

	switch richErr.TextCode {
	case TextCodeMissingSigningKey, TextCodeInvalidConfig:
		return KindFatal
	}

	switch richErr.Category {
	case errors.CategoryConflict:
		return KindConflict
	case errors.CategoryAuth:
		return KindUnauthorized
	case errors.CategoryAuthz:
		return KindForbidden
	case errors.CategoryBadInput, errors.CategoryValidation:
		return KindBadRequest
	default:
		return KindInternal
	}
}

// HTTPStatus maps err to the status code the HTTP boundary should render
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return HasTextCode(err, TextCodeTokenExpired)
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	return HasTextCode(err, TextCodeTokenMalformed)
}
