package extension

import "time"

// Config holds the entitlement extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.entitle" or "entitle" keys).
type Config struct {
	// DisableMigrate prevents auto-migration and engine startup on Start.
	// The caller becomes responsible for calling Engine().Start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// ReconcileInterval is how often the payment gateway is polled for
	// succeeded transactions (default: 1m). Only relevant when a
	// gateway is configured on the engine.
	ReconcileInterval time.Duration `json:"reconcile_interval" mapstructure:"reconcile_interval" yaml:"reconcile_interval"`

	// ReconcilePageSize is the number of gateway transactions fetched
	// per reconciliation cycle (default: 50).
	ReconcilePageSize int `json:"reconcile_page_size" mapstructure:"reconcile_page_size" yaml:"reconcile_page_size"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: time.Minute,
		ReconcilePageSize: 50,
	}
}
