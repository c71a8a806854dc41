package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/vetsage/entitle/id"
	"github.com/vetsage/entitle/payment"
	"github.com/vetsage/entitle/promo"
	"github.com/vetsage/entitle/types"
	"github.com/vetsage/entitle/user"
)

// ==================== User models ====================

type userModel struct {
	grove.BaseModel `grove:"table:entitle_users"`

	ID                  int64      `grove:"id,pk"`
	Username            string     `grove:"username"`
	Status              string     `grove:"status"`
	Tier                string     `grove:"tier"`
	SubscriptionEnd     *time.Time `grove:"subscription_end"`
	DailyUsageCount     int64      `grove:"daily_usage_count"`
	LastUsageDate       string     `grove:"last_usage_date"`
	MonthlyPhotoCount   int64      `grove:"monthly_photo_count"`
	LastPhotoMonth      string     `grove:"last_photo_month"`
	CreditBalance       int64      `grove:"credit_balance"`
	TrialUsed           bool       `grove:"trial_used"`
	LastOneTimePurchase *time.Time `grove:"last_one_time_purchase"`
	ReferrerID          *int64     `grove:"referrer_id"`
	ReferralCredited    bool       `grove:"referral_credited"`
	JoinedAt            time.Time  `grove:"joined_at"`
	CreatedAt           time.Time  `grove:"created_at"`
	UpdatedAt           time.Time  `grove:"updated_at"`
}

func fromUserModel(m *userModel) *user.User {
	return &user.User{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                  m.ID,
		Username:            m.Username,
		Status:              user.Status(m.Status),
		Tier:                m.Tier,
		SubscriptionEnd:     m.SubscriptionEnd,
		DailyUsageCount:     m.DailyUsageCount,
		LastUsageDate:       m.LastUsageDate,
		MonthlyPhotoCount:   m.MonthlyPhotoCount,
		LastPhotoMonth:      m.LastPhotoMonth,
		CreditBalance:       m.CreditBalance,
		TrialUsed:           m.TrialUsed,
		LastOneTimePurchase: m.LastOneTimePurchase,
		ReferrerID:          m.ReferrerID,
		ReferralCredited:    m.ReferralCredited,
		JoinedAt:            m.JoinedAt,
	}
}

// ==================== Promo models ====================

type promoModel struct {
	grove.BaseModel `grove:"table:entitle_promo_codes"`

	ID          string     `grove:"id,pk"`
	Code        string     `grove:"code"`
	Type        string     `grove:"type"`
	Value       int64      `grove:"value"`
	MaxUses     int64      `grove:"max_uses"`
	CurrentUses int64      `grove:"current_uses"`
	ExpiresAt   *time.Time `grove:"expires_at"`
	CreatedAt   time.Time  `grove:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at"`
}

func toPromoModel(c *promo.Code) *promoModel {
	return &promoModel{
		ID:          c.ID.String(),
		Code:        promo.Normalize(c.Code),
		Type:        string(c.Type),
		Value:       c.Value,
		MaxUses:     c.MaxUses,
		CurrentUses: c.CurrentUses,
		ExpiresAt:   c.ExpiresAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func fromPromoModel(m *promoModel) (*promo.Code, error) {
	promoID, err := id.ParsePromoID(m.ID)
	if err != nil {
		return nil, err
	}

	return &promo.Code{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          promoID,
		Code:        m.Code,
		Type:        promo.Type(m.Type),
		Value:       m.Value,
		MaxUses:     m.MaxUses,
		CurrentUses: m.CurrentUses,
		ExpiresAt:   m.ExpiresAt,
	}, nil
}

// ==================== Redemption models ====================

type redemptionModel struct {
	grove.BaseModel `grove:"table:entitle_promo_usage"`

	ID         string    `grove:"id,pk"`
	UserID     int64     `grove:"user_id"`
	PromoID    string    `grove:"promo_id"`
	RedeemedAt time.Time `grove:"redeemed_at"`
}

func toRedemptionModel(r *promo.Redemption) *redemptionModel {
	return &redemptionModel{
		ID:         r.ID.String(),
		UserID:     r.UserID,
		PromoID:    r.PromoID.String(),
		RedeemedAt: r.RedeemedAt,
	}
}

// ==================== Payment claim models ====================

type claimModel struct {
	grove.BaseModel `grove:"table:entitle_payments"`

	PaymentID      string    `grove:"payment_id,pk"`
	UserID         int64     `grove:"user_id"`
	Product        string    `grove:"product"`
	AmountCents    int64     `grove:"amount_cents"`
	AmountCurrency string    `grove:"amount_currency"`
	ClaimedAt      time.Time `grove:"claimed_at"`
	CreatedAt      time.Time `grove:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"`
}

func toClaimModel(c *payment.Claim) *claimModel {
	return &claimModel{
		PaymentID:      c.PaymentID,
		UserID:         c.UserID,
		Product:        string(c.Product),
		AmountCents:    c.Amount.Amount,
		AmountCurrency: c.Amount.Currency,
		ClaimedAt:      c.ClaimedAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}
