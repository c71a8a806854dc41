package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onUserRegistered       []OnUserRegistered
	onReferralGranted      []OnReferralGranted
	onQuotaConsumed        []OnQuotaConsumed
	onQuotaExceeded        []OnQuotaExceeded
	onCreditConsumed       []OnCreditConsumed
	onCreditGranted        []OnCreditGranted
	onPromoRedeemed        []OnPromoRedeemed
	onPaymentApplied       []OnPaymentApplied
	onSubscriptionExtended []OnSubscriptionExtended
	onReconcileCycle       []OnReconcileCycle
	onReconcileError       []OnReconcileError
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnUserRegistered); ok {
		r.onUserRegistered = append(r.onUserRegistered, v)
	}
	if v, ok := p.(OnReferralGranted); ok {
		r.onReferralGranted = append(r.onReferralGranted, v)
	}
	if v, ok := p.(OnQuotaConsumed); ok {
		r.onQuotaConsumed = append(r.onQuotaConsumed, v)
	}
	if v, ok := p.(OnQuotaExceeded); ok {
		r.onQuotaExceeded = append(r.onQuotaExceeded, v)
	}
	if v, ok := p.(OnCreditConsumed); ok {
		r.onCreditConsumed = append(r.onCreditConsumed, v)
	}
	if v, ok := p.(OnCreditGranted); ok {
		r.onCreditGranted = append(r.onCreditGranted, v)
	}
	if v, ok := p.(OnPromoRedeemed); ok {
		r.onPromoRedeemed = append(r.onPromoRedeemed, v)
	}
	if v, ok := p.(OnPaymentApplied); ok {
		r.onPaymentApplied = append(r.onPaymentApplied, v)
	}
	if v, ok := p.(OnSubscriptionExtended); ok {
		r.onSubscriptionExtended = append(r.onSubscriptionExtended, v)
	}
	if v, ok := p.(OnReconcileCycle); ok {
		r.onReconcileCycle = append(r.onReconcileCycle, v)
	}
	if v, ok := p.(OnReconcileError); ok {
		r.onReconcileError = append(r.onReconcileError, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnUserRegistered)(nil)).Elem(), "OnUserRegistered")
	checkInterface(reflect.TypeOf((*OnReferralGranted)(nil)).Elem(), "OnReferralGranted")
	checkInterface(reflect.TypeOf((*OnQuotaConsumed)(nil)).Elem(), "OnQuotaConsumed")
	checkInterface(reflect.TypeOf((*OnQuotaExceeded)(nil)).Elem(), "OnQuotaExceeded")
	checkInterface(reflect.TypeOf((*OnCreditConsumed)(nil)).Elem(), "OnCreditConsumed")
	checkInterface(reflect.TypeOf((*OnPromoRedeemed)(nil)).Elem(), "OnPromoRedeemed")
	checkInterface(reflect.TypeOf((*OnPaymentApplied)(nil)).Elem(), "OnPaymentApplied")
	checkInterface(reflect.TypeOf((*OnReconcileError)(nil)).Elem(), "OnReconcileError")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitUserRegistered emits a user registered event.
func (r *Registry) EmitUserRegistered(ctx context.Context, u interface{}) {
	r.mu.RLock()
	plugins := r.onUserRegistered
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnUserRegistered(ctx, u)
		}); err != nil {
			r.logger.Warn("plugin OnUserRegistered failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReferralGranted emits a referral granted event.
func (r *Registry) EmitReferralGranted(ctx context.Context, referrerID, newUserID int64) {
	r.mu.RLock()
	plugins := r.onReferralGranted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReferralGranted(ctx, referrerID, newUserID)
		}); err != nil {
			r.logger.Warn("plugin OnReferralGranted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitQuotaConsumed emits a quota consumed event.
func (r *Registry) EmitQuotaConsumed(ctx context.Context, userID int64, result interface{}) {
	r.mu.RLock()
	plugins := r.onQuotaConsumed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnQuotaConsumed(ctx, userID, result)
		}); err != nil {
			r.logger.Warn("plugin OnQuotaConsumed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitQuotaExceeded emits a quota exceeded event.
func (r *Registry) EmitQuotaExceeded(ctx context.Context, userID int64, kind string, used, limit int64) {
	r.mu.RLock()
	plugins := r.onQuotaExceeded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnQuotaExceeded(ctx, userID, kind, used, limit)
		}); err != nil {
			r.logger.Warn("plugin OnQuotaExceeded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditConsumed emits a credit consumed event.
func (r *Registry) EmitCreditConsumed(ctx context.Context, userID, newBalance int64) {
	r.mu.RLock()
	plugins := r.onCreditConsumed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditConsumed(ctx, userID, newBalance)
		}); err != nil {
			r.logger.Warn("plugin OnCreditConsumed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditGranted emits a credit granted event.
func (r *Registry) EmitCreditGranted(ctx context.Context, userID, delta, newBalance int64) {
	r.mu.RLock()
	plugins := r.onCreditGranted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditGranted(ctx, userID, delta, newBalance)
		}); err != nil {
			r.logger.Warn("plugin OnCreditGranted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPromoRedeemed emits a promo redeemed event.
func (r *Registry) EmitPromoRedeemed(ctx context.Context, userID int64, outcome interface{}) {
	r.mu.RLock()
	plugins := r.onPromoRedeemed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPromoRedeemed(ctx, userID, outcome)
		}); err != nil {
			r.logger.Warn("plugin OnPromoRedeemed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPaymentApplied emits a payment applied event.
func (r *Registry) EmitPaymentApplied(ctx context.Context, tx interface{}) {
	r.mu.RLock()
	plugins := r.onPaymentApplied
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPaymentApplied(ctx, tx)
		}); err != nil {
			r.logger.Warn("plugin OnPaymentApplied failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionExtended emits a subscription extended event.
func (r *Registry) EmitSubscriptionExtended(ctx context.Context, userID int64, t string, end time.Time) {
	r.mu.RLock()
	plugins := r.onSubscriptionExtended
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionExtended(ctx, userID, t, end)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionExtended failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReconcileCycle emits a reconcile cycle event.
func (r *Registry) EmitReconcileCycle(ctx context.Context, applied, skipped int, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onReconcileCycle
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReconcileCycle(ctx, applied, skipped, elapsed)
		}); err != nil {
			r.logger.Warn("plugin OnReconcileCycle failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReconcileError emits a reconcile error event.
func (r *Registry) EmitReconcileError(ctx context.Context, rerr error) {
	r.mu.RLock()
	plugins := r.onReconcileError
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReconcileError(ctx, rerr)
		}); err != nil {
			r.logger.Warn("plugin OnReconcileError failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the entitlement pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
