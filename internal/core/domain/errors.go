package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the core wraps exactly one of these so
// the transport layer can map it with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrPolicyViolation = errors.New("policy violation")
	ErrNotFound        = errors.New("not found")
	ErrToken           = errors.New("token error")
	ErrConfiguration   = errors.New("configuration error")

	// ErrInvalidCredentials is the only login failure callers ever see.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("access forbidden")
)

var (
	ErrEmptyPassword   = fmt.Errorf("%w: password must not be empty", ErrValidation)
	ErrPasswordTooLong = fmt.Errorf("%w: password is too long", ErrValidation)

	ErrDuplicateUsername = fmt.Errorf("%w: username already exists", ErrConflict)
	ErrDuplicateEmail    = fmt.Errorf("%w: email already exists", ErrConflict)
	ErrDuplicateRoleName = fmt.Errorf("%w: role name already exists", ErrConflict)
	ErrRoleHasMembers    = fmt.Errorf("%w: role still has members", ErrConflict)

	ErrSystemRoleProtected = fmt.Errorf("%w: system roles cannot be modified or deleted", ErrPolicyViolation)
	ErrLastAdmin           = fmt.Errorf("%w: cannot remove the last admin", ErrPolicyViolation)

	ErrUserNotFound       = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrRoleNotFound       = fmt.Errorf("%w: role not found", ErrNotFound)
	ErrMembershipNotFound = fmt.Errorf("%w: user does not hold role", ErrNotFound)

	ErrTokenMalformed        = fmt.Errorf("%w: malformed", ErrToken)
	ErrTokenExpired          = fmt.Errorf("%w: expired", ErrToken)
	ErrTokenBadSignature     = fmt.Errorf("%w: bad signature", ErrToken)
	ErrTokenIssuerMismatch   = fmt.Errorf("%w: issuer mismatch", ErrToken)
	ErrTokenAudienceMismatch = fmt.Errorf("%w: audience mismatch", ErrToken)

	ErrMissingSigningKey = fmt.Errorf("%w: signing key is empty", ErrConfiguration)

	// ErrPasswordMismatch never leaves the core; see CredentialError.
	ErrPasswordMismatch = errors.New("password mismatch")
)

// CredentialError is returned by a failed login. Its message is identical
// whatever the cause so usernames cannot be enumerated; Cause is kept for
// logs and metrics.
type CredentialError struct {
	Cause error
}

func (e *CredentialError) Error() string { return ErrInvalidCredentials.Error() }

func (e *CredentialError) Unwrap() []error {
	return []error{ErrInvalidCredentials, e.Cause}
}

// Reason is a short label for the underlying cause.
func (e *CredentialError) Reason() string {
	switch {
	case errors.Is(e.Cause, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(e.Cause, ErrPasswordMismatch):
		return "password_mismatch"
	default:
		return "unknown"
	}
}

// Validationf builds a validation error with a field-level message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
