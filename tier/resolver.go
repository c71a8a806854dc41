package tier

import (
	"time"

	"github.com/vetsage/entitle/user"
)

// BoosterWindow is how long a one-time purchase elevates the model
// selection tier.
const BoosterWindow = 24 * time.Hour

// Source says which rule produced the effective tier.
type Source string

const (
	SourceAdmin        Source = "admin"
	SourceSubscription Source = "subscription"
	SourceBooster      Source = "booster"
	SourceFree         Source = "free"
)

// Effective is the outcome of tier resolution at one instant.
//
// Tier drives model selection. QuotaTier drives quota accounting; the
// two differ only on the booster path, where a recent one-time
// purchase elevates the model tier while usage still counts against
// the free daily limit. Unlimited is set only for admins.
type Effective struct {
	Tier      Tier   `json:"tier"`
	QuotaTier Tier   `json:"quota_tier"`
	Source    Source `json:"source"`
	Unlimited bool   `json:"unlimited"`
}

// Resolve derives the effective tier for a user at the given instant.
// Pure function: no side effects, no store access.
//
// Precedence, first match wins:
//  1. admin status, unconditionally pro and unlimited
//  2. paid status with an unexpired subscription, the stored tier
//  3. a one-time purchase within BoosterWindow, pro for model
//     selection but free for quota accounting
//  4. free
//
// An active subscription always beats a fresh one-time purchase. The
// stored tier label is never trusted on its own: it persists after
// expiry, so rule 2 gates on subscription_end.
func Resolve(u *user.User, now time.Time) Effective {
	if u.Status == user.StatusAdmin {
		return Effective{Tier: Pro, QuotaTier: Pro, Source: SourceAdmin, Unlimited: true}
	}

	if u.HasActiveSubscription(now) {
		t := Parse(u.Tier)
		if t == Free {
			// Paid status with a free or corrupt tier label; treat
			// the subscription as the base paid tier.
			t = Plus
		}
		return Effective{Tier: t, QuotaTier: t, Source: SourceSubscription}
	}

	if u.LastOneTimePurchase != nil && now.Sub(*u.LastOneTimePurchase) < BoosterWindow {
		return Effective{Tier: Pro, QuotaTier: Free, Source: SourceBooster}
	}

	return Effective{Tier: Free, QuotaTier: Free, Source: SourceFree}
}

// LimitFor looks up the cap for the resolved tier in the table. A nil
// result means unlimited.
func (e Effective) LimitFor(table Table, daily bool) *int64 {
	if e.Unlimited {
		return nil
	}
	limits, ok := table[e.QuotaTier]
	if !ok {
		return nil
	}
	if daily {
		return limits.DailyText
	}
	return limits.MonthlyPhoto
}
