// Package plugin provides an extensible plugin system for the
// entitlement engine. Plugins can hook into various lifecycle events
// to extend functionality.
package plugin

import (
	"context"
	"time"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// User lifecycle hooks
// ──────────────────────────────────────────────────

// OnUserRegistered is called when a user row is created for the first
// time.
type OnUserRegistered interface {
	Plugin
	OnUserRegistered(ctx context.Context, u interface{}) error
}

// OnReferralGranted is called when a referral bonus is paid out.
type OnReferralGranted interface {
	Plugin
	OnReferralGranted(ctx context.Context, referrerID, newUserID int64) error
}

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnQuotaConsumed is called after a successful quota consumption.
type OnQuotaConsumed interface {
	Plugin
	OnQuotaConsumed(ctx context.Context, userID int64, result interface{}) error
}

// OnQuotaExceeded is called when a consumption attempt is denied.
type OnQuotaExceeded interface {
	Plugin
	OnQuotaExceeded(ctx context.Context, userID int64, kind string, used, limit int64) error
}

// OnCreditConsumed is called when a single-use credit is spent.
type OnCreditConsumed interface {
	Plugin
	OnCreditConsumed(ctx context.Context, userID, newBalance int64) error
}

// OnCreditGranted is called when credits are added to a balance.
type OnCreditGranted interface {
	Plugin
	OnCreditGranted(ctx context.Context, userID, delta, newBalance int64) error
}

// ──────────────────────────────────────────────────
// Promo hooks
// ──────────────────────────────────────────────────

// OnPromoRedeemed is called after a successful redemption.
type OnPromoRedeemed interface {
	Plugin
	OnPromoRedeemed(ctx context.Context, userID int64, outcome interface{}) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentApplied is called when a gateway payment is claimed and its
// grant committed.
type OnPaymentApplied interface {
	Plugin
	OnPaymentApplied(ctx context.Context, tx interface{}) error
}

// OnSubscriptionExtended is called whenever a subscription window is
// pushed forward, by payment or by promo.
type OnSubscriptionExtended interface {
	Plugin
	OnSubscriptionExtended(ctx context.Context, userID int64, t string, end time.Time) error
}

// OnReconcileCycle is called at the end of every reconciliation cycle.
type OnReconcileCycle interface {
	Plugin
	OnReconcileCycle(ctx context.Context, applied, skipped int, elapsed time.Duration) error
}

// OnReconcileError is called when a reconciliation cycle fails.
type OnReconcileError interface {
	Plugin
	OnReconcileError(ctx context.Context, err error) error
}
