package promo

import (
	"strings"
	"time"

	"github.com/vetsage/entitle/id"
	"github.com/vetsage/entitle/types"
)

// Type says what a successful redemption grants.
type Type string

const (
	// TypeSubscriptionDays extends the subscription by Value days and
	// marks the account paid.
	TypeSubscriptionDays Type = "subscription_days"
	// TypeBalanceAdd adds Value single-use credits.
	TypeBalanceAdd Type = "balance_add"
)

// Valid reports whether t is a known promo type.
func (t Type) Valid() bool {
	return t == TypeSubscriptionDays || t == TypeBalanceAdd
}

// Code is a redeemable promo code. Codes are created by admins and are
// never deleted; they only expire or run out of uses.
type Code struct {
	types.Entity
	ID    id.PromoID `json:"id"`
	Code  string     `json:"code"`
	Type  Type       `json:"type"`
	Value int64      `json:"value"`

	// MaxUses of 0 means unlimited. CurrentUses only ever grows, and
	// only by successful redemptions.
	MaxUses     int64      `json:"max_uses"`
	CurrentUses int64      `json:"current_uses"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Normalize canonicalizes raw code text: trimmed, uppercased. Lookups
// and storage both go through this so redemption is case-insensitive.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Expired reports whether the code's expiry has passed.
func (c *Code) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Exhausted reports whether the usage budget is spent.
func (c *Code) Exhausted() bool {
	return c.MaxUses > 0 && c.CurrentUses >= c.MaxUses
}

// Redemption is the one-per-(user, code) usage record. Its presence is
// what enforces single redemption per user; it is immutable once
// written.
type Redemption struct {
	ID         id.RedemptionID `json:"id"`
	UserID     int64           `json:"user_id"`
	PromoID    id.PromoID      `json:"promo_id"`
	RedeemedAt time.Time       `json:"redeemed_at"`
}

// Outcome describes what a successful redemption changed.
type Outcome struct {
	Code  string `json:"code"`
	Type  Type   `json:"type"`
	Value int64  `json:"value"`

	// NewBalance is set for balance_add redemptions.
	NewBalance *int64 `json:"new_balance,omitempty"`
	// SubscriptionEnd is set for subscription_days redemptions.
	SubscriptionEnd *time.Time `json:"subscription_end,omitempty"`
}
