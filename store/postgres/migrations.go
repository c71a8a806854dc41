package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the entitlement store.
var Migrations = migrate.NewGroup("entitle")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_entitle_users",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entitle_users (
    id                     BIGINT PRIMARY KEY,
    username               TEXT NOT NULL DEFAULT '',
    status                 TEXT NOT NULL DEFAULT 'free',
    tier                   TEXT NOT NULL DEFAULT 'free',
    subscription_end       TIMESTAMPTZ,
    daily_usage_count      BIGINT NOT NULL DEFAULT 0,
    last_usage_date        TEXT NOT NULL DEFAULT '',
    monthly_photo_count    BIGINT NOT NULL DEFAULT 0,
    last_photo_month       TEXT NOT NULL DEFAULT '',
    credit_balance         BIGINT NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
    trial_used             BOOLEAN NOT NULL DEFAULT FALSE,
    last_one_time_purchase TIMESTAMPTZ,
    referrer_id            BIGINT,
    referral_credited      BOOLEAN NOT NULL DEFAULT FALSE,
    joined_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    code         TEXT NOT NULL,
    type         TEXT NOT NULL,
    value        BIGINT NOT NULL DEFAULT 0,
    max_uses     BIGINT NOT NULL DEFAULT 0,
    current_uses BIGINT NOT NULL DEFAULT 0,
    expires_at   TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    user_id     BIGINT NOT NULL,
    promo_id    TEXT NOT NULL,
    redeemed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, promo_id)
);

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
    user_id         BIGINT NOT NULL,
    product         TEXT NOT NULL,
    amount_cents    BIGINT NOT NULL DEFAULT 0,
    amount_currency TEXT NOT NULL DEFAULT '',
    claimed_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
