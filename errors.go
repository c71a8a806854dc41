package entitle

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("entitle: not found")
	ErrInvalidInput = errors.New("entitle: invalid input")

	// User errors
	ErrUserNotFound = errors.New("entitle: user not found")
	ErrUserExists   = errors.New("entitle: user already exists")
	ErrNotAdmin     = errors.New("entitle: user is not an admin")

	// Quota errors
	ErrQuotaExceeded = errors.New("entitle: quota exceeded")
	ErrUnknownQuota  = errors.New("entitle: unknown quota kind")
	ErrNoCredit      = errors.New("entitle: no credits available")
	ErrTrialUsed     = errors.New("entitle: trial already used")

	// Promo errors
	ErrPromoNotFound    = errors.New("entitle: promo code not found")
	ErrPromoExpired     = errors.New("entitle: promo code expired")
	ErrPromoExhausted   = errors.New("entitle: promo code exhausted")
	ErrPromoAlreadyUsed = errors.New("entitle: promo code already used by this user")
	ErrPromoExists      = errors.New("entitle: promo code already exists")
	ErrInvalidPromo     = errors.New("entitle: invalid promo code configuration")

	// Referral errors
	ErrReferrerNotFound = errors.New("entitle: referrer not found")
	ErrSelfReferral     = errors.New("entitle: self referral not allowed")
	ErrReferralCredited = errors.New("entitle: referral bonus already credited")

	// Payment errors
	ErrPaymentClaimed = errors.New("entitle: payment already claimed")
	ErrUnknownProduct = errors.New("entitle: unknown payment product")
	ErrGatewayFetch   = errors.New("entitle: gateway fetch failed")

	// Store errors
	ErrStoreNotReady   = errors.New("entitle: store not ready")
	ErrStoreClosed     = errors.New("entitle: store is closed")
	ErrMigrationFailed = errors.New("entitle: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("entitle: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrPromoNotFound) ||
		errors.Is(err, ErrReferrerNotFound)
}

// IsPromoRejection returns true if the error is one of the expected
// promo validation outcomes, as opposed to an infrastructure failure.
func IsPromoRejection(err error) bool {
	return errors.Is(err, ErrPromoNotFound) ||
		errors.Is(err, ErrPromoExpired) ||
		errors.Is(err, ErrPromoExhausted) ||
		errors.Is(err, ErrPromoAlreadyUsed)
}

// IsQuotaError returns true if the error is related to quota or credit
// limits.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrNoCredit) ||
		errors.Is(err, ErrTrialUsed)
}

// IsRetryable returns true if the error is temporary and the operation
// can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrGatewayFetch)
}
