// Package observability provides a metrics extension for the
// entitlement engine that records lifecycle event counts via a
// MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/vetsage/entitle/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnUserRegistered       = (*MetricsExtension)(nil)
	_ plugin.OnReferralGranted      = (*MetricsExtension)(nil)
	_ plugin.OnQuotaConsumed        = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExceeded        = (*MetricsExtension)(nil)
	_ plugin.OnCreditConsumed       = (*MetricsExtension)(nil)
	_ plugin.OnCreditGranted        = (*MetricsExtension)(nil)
	_ plugin.OnPromoRedeemed        = (*MetricsExtension)(nil)
	_ plugin.OnPaymentApplied       = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionExtended = (*MetricsExtension)(nil)
	_ plugin.OnReconcileCycle       = (*MetricsExtension)(nil)
	_ plugin.OnReconcileError       = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an engine plugin to automatically track entitlement metrics.
type MetricsExtension struct {
	factory MetricFactory

	// User metrics
	UsersRegistered  Counter
	ReferralsGranted Counter

	// Quota metrics
	QuotaConsumed Counter
	QuotaDenied   Counter

	// Credit metrics
	CreditsConsumed Counter
	CreditsGranted  Counter

	// Promo metrics
	PromosRedeemed Counter

	// Payment metrics
	PaymentsApplied       Counter
	SubscriptionsExtended Counter

	// Reconciliation metrics
	ReconcileApplied Counter
	ReconcileSkipped Counter
	ReconcileErrors  Counter
	ReconcileLatency Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// User metrics
		UsersRegistered:  factory.Counter("entitle.user.registered"),
		ReferralsGranted: factory.Counter("entitle.referral.granted"),

		// Quota metrics
		QuotaConsumed: factory.Counter("entitle.quota.consumed"),
		QuotaDenied:   factory.Counter("entitle.quota.denied"),

		// Credit metrics
		CreditsConsumed: factory.Counter("entitle.credit.consumed"),
		CreditsGranted:  factory.Counter("entitle.credit.granted"),

		// Promo metrics
		PromosRedeemed: factory.Counter("entitle.promo.redeemed"),

		// Payment metrics
		PaymentsApplied:       factory.Counter("entitle.payment.applied"),
		SubscriptionsExtended: factory.Counter("entitle.subscription.extended"),

		// Reconciliation metrics
		ReconcileApplied: factory.Counter("entitle.reconcile.applied"),
		ReconcileSkipped: factory.Counter("entitle.reconcile.skipped"),
		ReconcileErrors:  factory.Counter("entitle.reconcile.errors"),
		ReconcileLatency: factory.Histogram("entitle.reconcile.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// User lifecycle hooks
// ──────────────────────────────────────────────────

// OnUserRegistered implements plugin.OnUserRegistered.
func (m *MetricsExtension) OnUserRegistered(_ context.Context, _ interface{}) error {
	m.UsersRegistered.Inc()
	return nil
}

// OnReferralGranted implements plugin.OnReferralGranted.
func (m *MetricsExtension) OnReferralGranted(_ context.Context, _, _ int64) error {
	m.ReferralsGranted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnQuotaConsumed implements plugin.OnQuotaConsumed.
func (m *MetricsExtension) OnQuotaConsumed(_ context.Context, _ int64, _ interface{}) error {
	m.QuotaConsumed.Inc()
	return nil
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (m *MetricsExtension) OnQuotaExceeded(_ context.Context, _ int64, _ string, _, _ int64) error {
	m.QuotaDenied.Inc()
	return nil
}

// OnCreditConsumed implements plugin.OnCreditConsumed.
func (m *MetricsExtension) OnCreditConsumed(_ context.Context, _, _ int64) error {
	m.CreditsConsumed.Inc()
	return nil
}

// OnCreditGranted implements plugin.OnCreditGranted.
func (m *MetricsExtension) OnCreditGranted(_ context.Context, _, delta, _ int64) error {
	m.CreditsGranted.Add(float64(delta))
	return nil
}

// ──────────────────────────────────────────────────
// Promo hooks
// ──────────────────────────────────────────────────

// OnPromoRedeemed implements plugin.OnPromoRedeemed.
func (m *MetricsExtension) OnPromoRedeemed(_ context.Context, _ int64, _ interface{}) error {
	m.PromosRedeemed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentApplied implements plugin.OnPaymentApplied.
func (m *MetricsExtension) OnPaymentApplied(_ context.Context, _ interface{}) error {
	m.PaymentsApplied.Inc()
	return nil
}

// OnSubscriptionExtended implements plugin.OnSubscriptionExtended.
func (m *MetricsExtension) OnSubscriptionExtended(_ context.Context, _ int64, _ string, _ time.Time) error {
	m.SubscriptionsExtended.Inc()
	return nil
}

// OnReconcileCycle implements plugin.OnReconcileCycle.
func (m *MetricsExtension) OnReconcileCycle(_ context.Context, applied, skipped int, elapsed time.Duration) error {
	m.ReconcileApplied.Add(float64(applied))
	m.ReconcileSkipped.Add(float64(skipped))
	m.ReconcileLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnReconcileError implements plugin.OnReconcileError.
func (m *MetricsExtension) OnReconcileError(_ context.Context, _ error) error {
	m.ReconcileErrors.Inc()
	return nil
}
