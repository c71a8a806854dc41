package audithook

// Action constants for audit events.
const (
	// User actions
	ActionUserRegistered  = "user.registered"
	ActionReferralGranted = "referral.granted"

	// Quota actions
	ActionQuotaExceeded = "quota.exceeded"

	// Credit actions
	ActionCreditConsumed = "credit.consumed"
	ActionCreditGranted  = "credit.granted"

	// Promo actions
	ActionPromoRedeemed = "promo.redeemed"

	// Payment actions
	ActionPaymentApplied       = "payment.applied"
	ActionSubscriptionExtended = "subscription.extended"
	ActionReconcileFailed      = "reconcile.failed"
)

// Resource constants for audit events.
const (
	ResourceUser         = "user"
	ResourceQuota        = "quota"
	ResourceCredit       = "credit"
	ResourcePromo        = "promo"
	ResourcePayment      = "payment"
	ResourceSubscription = "subscription"
	ResourceGateway      = "gateway"
)

// Category constants for audit events.
const (
	CategoryAccess    = "access"
	CategoryReferral  = "referral"
	CategoryPromotion = "promotion"
	CategoryPayment   = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
