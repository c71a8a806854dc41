package user

import (
	"time"

	"github.com/vetsage/entitle/types"
)

// Status is the coarse account standing. Tier resolution starts here:
// admins bypass every limit, paid accounts carry a subscription tier,
// free accounts fall back to the free quota tables.
type Status string

const (
	StatusFree  Status = "free"
	StatusPaid  Status = "paid"
	StatusAdmin Status = "admin"
)

// User is a chatbot account with its entitlement state. The ID is the
// messenger-assigned numeric user ID, not a generated one.
//
// Usage counters are paired with period markers (LastUsageDate for the
// daily counter, LastPhotoMonth for the monthly one). A counter is only
// meaningful together with its marker: when the marker is stale the
// counter reads as zero. Resets happen lazily on the next consume or
// peek, there is no scheduled reset job.
type User struct {
	types.Entity
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
	Status   Status `json:"status"`

	// Tier holds the purchased subscription tier name. It is only
	// authoritative while Status is paid and SubscriptionEnd is in the
	// future; callers should go through tier.Resolve rather than read
	// this field directly.
	Tier            string     `json:"tier"`
	SubscriptionEnd *time.Time `json:"subscription_end,omitempty"`

	DailyUsageCount int64  `json:"daily_usage_count"`
	LastUsageDate   string `json:"last_usage_date,omitempty"`

	MonthlyPhotoCount int64  `json:"monthly_photo_count"`
	LastPhotoMonth    string `json:"last_photo_month,omitempty"`

	// CreditBalance counts prepaid single-use credits. Never negative.
	CreditBalance int64 `json:"credit_balance"`

	TrialUsed           bool       `json:"trial_used"`
	LastOneTimePurchase *time.Time `json:"last_one_time_purchase,omitempty"`

	// ReferrerID is set once at registration from a referral deep link
	// and never changes. ReferralCredited flips to true when the
	// referrer's bonus for this user has been granted, so the bonus is
	// paid at most once.
	ReferrerID       *int64 `json:"referrer_id,omitempty"`
	ReferralCredited bool   `json:"referral_credited"`

	JoinedAt time.Time `json:"joined_at"`
}

// HasActiveSubscription reports whether the paid subscription window
// covers the given instant.
func (u *User) HasActiveSubscription(now time.Time) bool {
	return u.Status == StatusPaid && u.SubscriptionEnd != nil && u.SubscriptionEnd.After(now)
}

// Stats is an aggregate snapshot across all users.
type Stats struct {
	TotalUsers    int64 `json:"total_users"`
	PaidUsers     int64 `json:"paid_users"`
	AdminUsers    int64 `json:"admin_users"`
	ActiveToday   int64 `json:"active_today"`
	TotalReferred int64 `json:"total_referred"`
}
