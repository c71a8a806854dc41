// Package audithook bridges entitlement lifecycle events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not import
// any audit backend directly. Callers inject a RecorderFunc adapter
// that bridges to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/vetsage/entitle/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnUserRegistered       = (*Extension)(nil)
	_ plugin.OnReferralGranted      = (*Extension)(nil)
	_ plugin.OnQuotaExceeded        = (*Extension)(nil)
	_ plugin.OnCreditConsumed       = (*Extension)(nil)
	_ plugin.OnCreditGranted        = (*Extension)(nil)
	_ plugin.OnPromoRedeemed        = (*Extension)(nil)
	_ plugin.OnPaymentApplied       = (*Extension)(nil)
	_ plugin.OnSubscriptionExtended = (*Extension)(nil)
	_ plugin.OnReconcileError       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so that this package does not depend on a
// concrete audit module; callers inject their backend at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges entitlement lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// User lifecycle hooks
// ──────────────────────────────────────────────────

// OnUserRegistered implements plugin.OnUserRegistered.
func (e *Extension) OnUserRegistered(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionUserRegistered, SeverityInfo, OutcomeSuccess,
		ResourceUser, "", CategoryAccess, nil,
		"event", "user_registered",
	)
}

// OnReferralGranted implements plugin.OnReferralGranted.
func (e *Extension) OnReferralGranted(ctx context.Context, referrerID, newUserID int64) error {
	return e.record(ctx, ActionReferralGranted, SeverityInfo, OutcomeSuccess,
		ResourceUser, strconv.FormatInt(newUserID, 10), CategoryReferral, nil,
		"referrer_id", referrerID,
		"new_user_id", newUserID,
	)
}

// ──────────────────────────────────────────────────
// Quota and credit hooks
// ──────────────────────────────────────────────────

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (e *Extension) OnQuotaExceeded(ctx context.Context, userID int64, kind string, used, limit int64) error {
	return e.record(ctx, ActionQuotaExceeded, SeverityWarning, OutcomeFailure,
		ResourceQuota, kind, CategoryAccess, nil,
		"user_id", userID,
		"kind", kind,
		"used", used,
		"limit", limit,
	)
}

// OnCreditConsumed implements plugin.OnCreditConsumed.
func (e *Extension) OnCreditConsumed(ctx context.Context, userID, newBalance int64) error {
	return e.record(ctx, ActionCreditConsumed, SeverityInfo, OutcomeSuccess,
		ResourceCredit, strconv.FormatInt(userID, 10), CategoryAccess, nil,
		"user_id", userID,
		"new_balance", newBalance,
	)
}

// OnCreditGranted implements plugin.OnCreditGranted.
func (e *Extension) OnCreditGranted(ctx context.Context, userID, delta, newBalance int64) error {
	return e.record(ctx, ActionCreditGranted, SeverityInfo, OutcomeSuccess,
		ResourceCredit, strconv.FormatInt(userID, 10), CategoryAccess, nil,
		"user_id", userID,
		"delta", delta,
		"new_balance", newBalance,
	)
}

// ──────────────────────────────────────────────────
// Promo hooks
// ──────────────────────────────────────────────────

// OnPromoRedeemed implements plugin.OnPromoRedeemed.
func (e *Extension) OnPromoRedeemed(ctx context.Context, userID int64, _ interface{}) error {
	return e.record(ctx, ActionPromoRedeemed, SeverityInfo, OutcomeSuccess,
		ResourcePromo, "", CategoryPromotion, nil,
		"user_id", userID,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentApplied implements plugin.OnPaymentApplied.
func (e *Extension) OnPaymentApplied(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionPaymentApplied, SeverityInfo, OutcomeSuccess,
		ResourcePayment, "", CategoryPayment, nil,
		"event", "payment_applied",
	)
}

// OnSubscriptionExtended implements plugin.OnSubscriptionExtended.
func (e *Extension) OnSubscriptionExtended(ctx context.Context, userID int64, t string, end time.Time) error {
	return e.record(ctx, ActionSubscriptionExtended, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, strconv.FormatInt(userID, 10), CategoryPayment, nil,
		"user_id", userID,
		"tier", t,
		"subscription_end", end,
	)
}

// OnReconcileError implements plugin.OnReconcileError.
func (e *Extension) OnReconcileError(ctx context.Context, err error) error {
	return e.record(ctx, ActionReconcileFailed, SeverityError, OutcomeFailure,
		ResourceGateway, "", CategoryPayment, err,
		"event", "reconcile_failed",
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
