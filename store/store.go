package store

import (
	"context"
	"time"

	"github.com/vetsage/entitle/entitlement"
	"github.com/vetsage/entitle/id"
	"github.com/vetsage/entitle/payment"
	"github.com/vetsage/entitle/promo"
	"github.com/vetsage/entitle/quota"
	"github.com/vetsage/entitle/tier"
	"github.com/vetsage/entitle/user"
)

// Store is the unified storage interface for all entitlement state.
//
// Every mutating method here is atomic with respect to concurrent
// calls for the same user: conditional counter updates, dedup-keyed
// inserts, and flag claims are each a single storage operation, never
// a read followed by a separate write. Callers compose flows out of
// these primitives; the methods themselves carry the concurrency
// guarantees.
type Store interface {
	// User methods.
	//
	// EnsureUser creates the row on first contact and reports whether
	// it did. The referrer link is recorded only at creation and never
	// overwritten afterwards.
	EnsureUser(ctx context.Context, userID int64, username string, referrerID *int64) (*user.User, bool, error)
	GetUser(ctx context.Context, userID int64) (*user.User, error)
	SetStatus(ctx context.Context, userID int64, status user.Status) error
	SetAdmin(ctx context.Context, userID int64, admin bool) error
	UserStats(ctx context.Context, now time.Time) (*user.Stats, error)

	// ExtendSubscription marks the user paid and pushes the
	// subscription end forward by days, starting from whichever is
	// later: now or the current end. Passing an empty tier keeps the
	// stored paid tier, defaulting to plus when the stored label is
	// not a paid one. Returns the updated user.
	ExtendSubscription(ctx context.Context, userID int64, t tier.Tier, days int, now time.Time) (*user.User, error)

	// MarkOneTimePurchase stamps last_one_time_purchase, opening the
	// 24h booster window.
	MarkOneTimePurchase(ctx context.Context, userID int64, at time.Time) error

	// Quota methods.
	//
	// TryConsume applies the lazy period reset and increments the
	// counter by one, but only while the post-reset value is under the
	// limit; reset, comparison and increment are one atomic operation.
	// A nil limit means uncapped: the result is allowed and nothing is
	// written. PeekUsage returns the same decision without consuming.
	TryConsume(ctx context.Context, userID int64, kind quota.Kind, limit *int64, now time.Time) (*entitlement.Result, error)
	PeekUsage(ctx context.Context, userID int64, kind quota.Kind, limit *int64, now time.Time) (*entitlement.Result, error)

	// ConsumeCredit decrements credit_balance by one if it is
	// positive, returning the new balance, or ErrNoCredit without
	// mutating anything. AddCredit grants delta credits and returns
	// the new balance.
	ConsumeCredit(ctx context.Context, userID int64) (int64, error)
	AddCredit(ctx context.Context, userID int64, delta int64) (int64, error)

	// UseTrial flips trial_used, failing with ErrTrialUsed when it
	// was already set.
	UseTrial(ctx context.Context, userID int64) error

	// ClaimReferral flips referral_credited on the new user, failing
	// with ErrReferralCredited when it was already set. The flag claim
	// is the dedup gate for the referral bonus.
	ClaimReferral(ctx context.Context, userID int64) error

	// Promo methods.
	//
	// GetPromo looks up by normalized code text. ClaimRedemption
	// inserts the one-per-(user, promo) usage row, failing with
	// ErrPromoAlreadyUsed on the second attempt; ReleaseRedemption
	// removes it again when a later step of the redemption flow fails.
	// IncrementPromoUses bumps current_uses while the usage budget
	// allows it, failing with ErrPromoExhausted otherwise.
	CreatePromo(ctx context.Context, c *promo.Code) error
	GetPromo(ctx context.Context, code string) (*promo.Code, error)
	ListPromos(ctx context.Context) ([]*promo.Code, error)
	ClaimRedemption(ctx context.Context, r *promo.Redemption) error
	ReleaseRedemption(ctx context.Context, redemptionID id.RedemptionID) error
	IncrementPromoUses(ctx context.Context, promoID id.PromoID) error

	// Payment methods.
	//
	// ClaimPayment inserts the dedup record keyed by the gateway
	// payment id. ErrPaymentClaimed means the payment was already
	// processed and must not be applied again.
	ClaimPayment(ctx context.Context, c *payment.Claim) error
	CountClaims(ctx context.Context) (int64, error)

	// Core methods.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
