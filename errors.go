package identity

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes surfaced to callers so UI copy can key off them
const (
	TextCodeAlreadyRegistered  = "already_registered"
	TextCodeCodeNotFound       = "verification_not_found"
	TextCodeCodeExpired        = "verification_expired"
	TextCodeInvalidCode        = "invalid_code"
	TextCodeTooManyAttempts    = "too_many_attempts"
	TextCodeInvalidCredentials = "invalid_credentials"
	TextCodeResetBindingMoved  = "reset_binding_changed"
)

// MetadataAttemptsRemaining is the metadata key carrying the remaining
// verification budget on invalid code errors
const MetadataAttemptsRemaining = "attempts_remaining"

// ErrInvalidCredentials is returned for both unknown identifiers and
// password mismatches so callers cannot enumerate accounts.
func ErrInvalidCredentials() *goerrors.Error {
	return goerrors.New("invalid credentials", goerrors.CategoryAuth).
		WithCode(goerrors.CodeUnauthorized).
		WithTextCode(TextCodeInvalidCredentials)
}

// ErrAlreadyRegistered is returned before any code is issued for an
// email that already has a principal.
func ErrAlreadyRegistered(email string) *goerrors.Error {
	return goerrors.New("an account with this email already exists", goerrors.CategoryConflict).
		WithCode(goerrors.CodeConflict).
		WithTextCode(TextCodeAlreadyRegistered).
		WithMetadata(map[string]any{"email": email})
}

// ErrCodeNotFound means no pending action exists for the key; the
// caller restarts from the request step.
func ErrCodeNotFound() *goerrors.Error {
	return goerrors.New("no pending verification found, request a new code", goerrors.CategoryNotFound).
		WithCode(goerrors.CodeNotFound).
		WithTextCode(TextCodeCodeNotFound)
}

// ErrCodeExpired means the pending action outlived its TTL.
func ErrCodeExpired() *goerrors.Error {
	return goerrors.New("verification code has expired, request a new code", goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeCodeExpired)
}

// ErrInvalidCode is a code mismatch; it always carries the remaining
// attempt budget so the caller can surface it.
func ErrInvalidCode(attemptsRemaining int) *goerrors.Error {
	return goerrors.New("invalid verification code", goerrors.CategoryAuth).
		WithCode(goerrors.CodeUnauthorized).
		WithTextCode(TextCodeInvalidCode).
		WithMetadata(map[string]any{MetadataAttemptsRemaining: attemptsRemaining})
}

// ErrTooManyAttempts means the attempt budget is exhausted and the
// record was deleted; the code is invalidated, not rate limited.
func ErrTooManyAttempts() *goerrors.Error {
	return goerrors.New("too many failed attempts, request a new code", goerrors.CategoryRateLimit).
		WithTextCode(TextCodeTooManyAttempts)
}

// AttemptsRemaining extracts the remaining budget from an invalid code
// error, if present.
func AttemptsRemaining(err error) (int, bool) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return 0, false
	}
	if richErr.Metadata == nil {
		return 0, false
	}
	n, ok := richErr.Metadata[MetadataAttemptsRemaining].(int)
	return n, ok
}

// IsTextCode reports whether err is a rich error tagged with code.
func IsTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}
