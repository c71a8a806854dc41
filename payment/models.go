package payment

import (
	"time"

	"github.com/vetsage/entitle/tier"
	"github.com/vetsage/entitle/types"
)

// Product is what a gateway payment purchased.
type Product string

const (
	ProductPlus    Product = "plus"
	ProductPro     Product = "pro"
	ProductOneTime Product = "one_time_analysis"
)

// SubscriptionDays is the grant length for subscription products.
const SubscriptionDays = 30

// Valid reports whether p is a known product.
func (p Product) Valid() bool {
	switch p {
	case ProductPlus, ProductPro, ProductOneTime:
		return true
	}
	return false
}

// Subscription reports whether the product grants a subscription
// rather than a single-use credit.
func (p Product) Subscription() bool {
	return p == ProductPlus || p == ProductPro
}

// Tier returns the subscription tier a product grants. Products that
// do not carry one report false.
func (p Product) Tier() (tier.Tier, bool) {
	switch p {
	case ProductPlus:
		return tier.Plus, true
	case ProductPro:
		return tier.Pro, true
	}
	return "", false
}

// Transaction is a succeeded payment as reported by the gateway. The
// ID is the gateway's own payment id and is the deduplication key for
// reconciliation.
type Transaction struct {
	ID        string            `json:"id"`
	UserID    int64             `json:"user_id"`
	Product   Product           `json:"product"`
	Amount    types.Money       `json:"amount"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Claim is the durable dedup record for one processed payment.
// Inserting it is the atomic claim step: a second insert with the same
// payment id fails, which is how a payment is applied exactly once.
type Claim struct {
	types.Entity
	PaymentID string      `json:"payment_id"`
	UserID    int64       `json:"user_id"`
	Product   Product     `json:"product"`
	Amount    types.Money `json:"amount"`
	ClaimedAt time.Time   `json:"claimed_at"`
}
