package ledger

import "errors"

// Validation errors reject an instruction before any state mutation.
var (
	ErrInsufficientStake    = errors.New("stake amount below minimum")
	ErrInvalidPercentage    = errors.New("percentage out of range")
	ErrBelowMinimumStake    = errors.New("withdrawal would leave stake below minimum")
	ErrNameTooLong          = errors.New("name exceeds maximum length")
	ErrEndpointTooLong      = errors.New("service endpoint exceeds maximum length")
	ErrDescriptionTooLong   = errors.New("description exceeds maximum length")
	ErrInvalidViolationType = errors.New("unknown violation type")
	ErrInvalidResponseTime  = errors.New("max response time must be positive")
	ErrZeroAmount           = errors.New("amount must be positive")
)

// Authorization errors reject when the signer does not match the required
// authority.
var ErrUnauthorized = errors.New("signer is not the required authority")

// State-conflict errors reject when the targeted record is not in the
// expected state; they signal a stale or duplicate request.
var (
	ErrAlreadyInitialized = errors.New("protocol already initialized")
	ErrNotInitialized     = errors.New("protocol not initialized")
	ErrProviderExists     = errors.New("provider already registered")
	ErrProviderNotFound   = errors.New("provider not found")
	ErrProviderInactive   = errors.New("provider is inactive")
	ErrSLANotFound        = errors.New("no active SLA for provider")
	ErrViolationNotFound  = errors.New("violation not found")
	ErrAlreadyResolved    = errors.New("violation already resolved")
)

// Arithmetic-safety errors guard the non-negativity invariants. They are
// unreachable while the invariants hold but are checked explicitly rather
// than assumed.
var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrInsufficientFunds  = errors.New("insufficient funds")
)

// IsValidation reports whether err is a recoverable input-validation error.
func IsValidation(err error) bool {
	for _, e := range []error{
		ErrInsufficientStake, ErrInvalidPercentage, ErrBelowMinimumStake,
		ErrNameTooLong, ErrEndpointTooLong, ErrDescriptionTooLong,
		ErrInvalidViolationType, ErrInvalidResponseTime, ErrZeroAmount,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsConflict reports whether err is a state-conflict error (stale or
// duplicate request against a record not in the expected state).
func IsConflict(err error) bool {
	for _, e := range []error{
		ErrAlreadyInitialized, ErrProviderExists, ErrProviderInactive,
		ErrAlreadyResolved,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err indicates a referenced record that does not
// exist.
func IsNotFound(err error) bool {
	for _, e := range []error{
		ErrNotInitialized, ErrProviderNotFound, ErrSLANotFound,
		ErrViolationNotFound,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
