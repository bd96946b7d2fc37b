package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is wrapped by every input-validation failure.
	ErrValidation = errors.New("vault: validation failed")

	ErrUsernameTooShort   = fmt.Errorf("%w: username must be at least %d characters", ErrValidation, MinUsernameLength)
	ErrPasswordTooShort   = fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	ErrPasswordMismatch   = fmt.Errorf("%w: passwords do not match", ErrValidation)
	ErrMissingField       = fmt.Errorf("%w: site, username and password are required", ErrValidation)
	ErrInvalidExpiration  = fmt.Errorf("%w: expiration days must not be negative", ErrValidation)
	ErrInvalidCategory    = fmt.Errorf("%w: category name is required", ErrValidation)
	ErrUnknownCategory    = fmt.Errorf("%w: unknown category", ErrValidation)
	ErrDuplicateCategory  = fmt.Errorf("%w: category already exists", ErrValidation)
	ErrInvalidIndex       = fmt.Errorf("%w: position out of range", ErrValidation)
	ErrMissingSSID        = fmt.Errorf("%w: network name and password are required", ErrValidation)

	ErrAccountExists   = errors.New("vault: username already exists")
	ErrAccountNotFound = errors.New("vault: username not found")
	ErrInvalidPassword = errors.New("vault: invalid password")
	ErrMFARequired     = errors.New("vault: MFA code required")
	ErrInvalidMFACode  = errors.New("vault: invalid MFA code")
	ErrMFANotEnrolled  = errors.New("vault: MFA has not been set up")

	ErrRecordNotFound   = errors.New("vault: password not found")
	ErrCategoryNotFound = errors.New("vault: category not found")
	ErrCannotDelete     = errors.New("vault: category is in use")
	ErrLocked           = errors.New("vault: session is locked")
)

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInvalidPassword) ||
		errors.Is(err, ErrMFARequired) ||
		errors.Is(err, ErrInvalidMFACode)
}
