package extension

import (
	"time"

	"github.com/vetsage/entitle"
	"github.com/vetsage/entitle/payment"
	"github.com/vetsage/entitle/plugin"
	"github.com/vetsage/entitle/store"
	"github.com/vetsage/entitle/tier"
)

// Option configures the entitlement Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes an entitle.Option through to the underlying engine.
func WithEngineOption(opt entitle.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithPlugin(p))
	}
}

// WithGateway sets the payment gateway polled during reconciliation.
func WithGateway(g payment.Gateway) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithGateway(g))
	}
}

// WithNotifier sets the notifier called after a payment grant commits.
func WithNotifier(n payment.Notifier) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithNotifier(n))
	}
}

// WithLimits sets the tier limit table used for quota checks.
func WithLimits(table tier.Table) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithLimits(table))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration and engine startup on Start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithReconcileInterval sets how often the payment gateway is polled.
func WithReconcileInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.ReconcileInterval = d }
}

// WithReconcilePageSize sets the number of gateway transactions fetched per cycle.
func WithReconcilePageSize(n int) Option {
	return func(e *Extension) { e.config.ReconcilePageSize = n }
}
