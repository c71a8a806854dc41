package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the entitlement store (SQLite).
var Migrations = migrate.NewGroup("entitle")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_entitle_users",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_users (
    id                     INTEGER PRIMARY KEY,
    username               TEXT NOT NULL DEFAULT '',
    status                 TEXT NOT NULL DEFAULT 'free',
    tier                   TEXT NOT NULL DEFAULT 'free',
    subscription_end       TEXT,
    daily_usage_count      INTEGER NOT NULL DEFAULT 0,
    last_usage_date        TEXT NOT NULL DEFAULT '',
    monthly_photo_count    INTEGER NOT NULL DEFAULT 0,
    last_photo_month       TEXT NOT NULL DEFAULT '',
    credit_balance         INTEGER NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
    trial_used             INTEGER NOT NULL DEFAULT 0,
    last_one_time_purchase TEXT,
    referrer_id            INTEGER,
    referral_credited      INTEGER NOT NULL DEFAULT 0,
    joined_at              TEXT NOT NULL DEFAULT (datetime('now')),
    created_at             TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at             TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entitle_users_status ON entitle_users (status);
CREATE INDEX IF NOT EXISTS idx_entitle_users_referrer ON entitle_users (referrer_id) WHERE referrer_id IS NOT NULL;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_users`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_promo_codes",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_promo_codes (
    id           TEXT PRIMARY KEY,
    code         TEXT NOT NULL DEFAULT '',
    type         TEXT NOT NULL DEFAULT '',
    value        INTEGER NOT NULL DEFAULT 0,
    max_uses     INTEGER NOT NULL DEFAULT 0,
    current_uses INTEGER NOT NULL DEFAULT 0,
    expires_at   TEXT,
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_promo_codes_code ON entitle_promo_codes (code);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_promo_codes`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_promo_usage",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_promo_usage (
    id          TEXT PRIMARY KEY,
    user_id     INTEGER NOT NULL,
    promo_id    TEXT NOT NULL,
    redeemed_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entitle_promo_usage_user_promo ON entitle_promo_usage (user_id, promo_id);
CREATE INDEX IF NOT EXISTS idx_entitle_promo_usage_promo ON entitle_promo_usage (promo_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_promo_usage`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_entitle_payments",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_payments (
    payment_id      TEXT PRIMARY KEY,
    user_id         INTEGER NOT NULL,
    product         TEXT NOT NULL DEFAULT '',
    amount_cents    INTEGER NOT NULL DEFAULT 0,
    amount_currency TEXT NOT NULL DEFAULT '',
    claimed_at      TEXT NOT NULL DEFAULT (datetime('now')),
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entitle_payments_user ON entitle_payments (user_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS entitle_payments`)
				return err
			},
		},
	)
}
