package entitlement

import (
	"github.com/vetsage/entitle/quota"
	"github.com/vetsage/entitle/tier"
	"github.com/vetsage/entitle/user"
)

// Result is a quota decision for one user and kind. Limit and
// Remaining are nil when the resolved tier is uncapped for the kind;
// in that case Allowed is always true and nothing was counted.
type Result struct {
	Allowed   bool       `json:"allowed"`
	Kind      quota.Kind `json:"kind"`
	Used      int64      `json:"used"`
	Limit     *int64     `json:"limit,omitempty"`
	Remaining *int64     `json:"remaining,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Snapshot is the full entitlement picture for one user at one
// instant: the resolved tier plus current usage against both quotas
// and the credit balance. Read-only; consuming goes through the
// engine's check and credit paths.
type Snapshot struct {
	User      *user.User     `json:"user"`
	Effective tier.Effective `json:"effective"`

	DailyText    Result `json:"daily_text"`
	MonthlyPhoto Result `json:"monthly_photo"`

	CreditBalance int64 `json:"credit_balance"`
}
