package tier_test

import (
	"testing"
	"time"

	"github.com/vetsage/entitle/tier"
	"github.com/vetsage/entitle/user"
)

func tptr(t time.Time) *time.Time { return &t }

func TestResolve(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		u         user.User
		wantTier  tier.Tier
		wantQuota tier.Tier
		wantSrc   tier.Source
		unlimited bool
	}{
		{
			name:      "admin always pro unlimited",
			u:         user.User{Status: user.StatusAdmin},
			wantTier:  tier.Pro,
			wantQuota: tier.Pro,
			wantSrc:   tier.SourceAdmin,
			unlimited: true,
		},
		{
			name: "active pro subscription",
			u: user.User{
				Status:          user.StatusPaid,
				Tier:            "pro",
				SubscriptionEnd: tptr(now.Add(5 * 24 * time.Hour)),
			},
			wantTier:  tier.Pro,
			wantQuota: tier.Pro,
			wantSrc:   tier.SourceSubscription,
		},
		{
			name: "active plus subscription",
			u: user.User{
				Status:          user.StatusPaid,
				Tier:            "plus",
				SubscriptionEnd: tptr(now.Add(time.Hour)),
			},
			wantTier:  tier.Plus,
			wantQuota: tier.Plus,
			wantSrc:   tier.SourceSubscription,
		},
		{
			name: "expired subscription falls through to free",
			u: user.User{
				Status:          user.StatusPaid,
				Tier:            "pro",
				SubscriptionEnd: tptr(now.Add(-time.Minute)),
			},
			wantTier:  tier.Free,
			wantQuota: tier.Free,
			wantSrc:   tier.SourceFree,
		},
		{
			name: "stale tier label without subscription is ignored",
			u: user.User{
				Status: user.StatusFree,
				Tier:   "pro",
			},
			wantTier:  tier.Free,
			wantQuota: tier.Free,
			wantSrc:   tier.SourceFree,
		},
		{
			name: "paid status with corrupt tier label defaults to plus",
			u: user.User{
				Status:          user.StatusPaid,
				Tier:            "gold",
				SubscriptionEnd: tptr(now.Add(time.Hour)),
			},
			wantTier:  tier.Plus,
			wantQuota: tier.Plus,
			wantSrc:   tier.SourceSubscription,
		},
		{
			name: "fresh one time purchase boosts model tier only",
			u: user.User{
				Status:              user.StatusFree,
				LastOneTimePurchase: tptr(now.Add(-2 * time.Hour)),
			},
			wantTier:  tier.Pro,
			wantQuota: tier.Free,
			wantSrc:   tier.SourceBooster,
		},
		{
			name: "one time purchase older than window",
			u: user.User{
				Status:              user.StatusFree,
				LastOneTimePurchase: tptr(now.Add(-25 * time.Hour)),
			},
			wantTier:  tier.Free,
			wantQuota: tier.Free,
			wantSrc:   tier.SourceFree,
		},
		{
			name: "subscription wins over fresh booster",
			u: user.User{
				Status:              user.StatusPaid,
				Tier:                "pro",
				SubscriptionEnd:     tptr(now.Add(5 * 24 * time.Hour)),
				LastOneTimePurchase: tptr(now.Add(-time.Hour)),
			},
			wantTier:  tier.Pro,
			wantQuota: tier.Pro,
			wantSrc:   tier.SourceSubscription,
		},
		{
			name:      "plain free user",
			u:         user.User{Status: user.StatusFree},
			wantTier:  tier.Free,
			wantQuota: tier.Free,
			wantSrc:   tier.SourceFree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tier.Resolve(&tt.u, now)
			if got.Tier != tt.wantTier {
				t.Errorf("Tier = %s, want %s", got.Tier, tt.wantTier)
			}
			if got.QuotaTier != tt.wantQuota {
				t.Errorf("QuotaTier = %s, want %s", got.QuotaTier, tt.wantQuota)
			}
			if got.Source != tt.wantSrc {
				t.Errorf("Source = %s, want %s", got.Source, tt.wantSrc)
			}
			if got.Unlimited != tt.unlimited {
				t.Errorf("Unlimited = %v, want %v", got.Unlimited, tt.unlimited)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want tier.Tier
	}{
		{"free", tier.Free},
		{"plus", tier.Plus},
		{"pro", tier.Pro},
		{"", tier.Free},
		{"enterprise", tier.Free},
	}
	for _, tt := range tests {
		if got := tier.Parse(tt.in); got != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLimitFor(t *testing.T) {
	table := tier.DefaultTable()

	free := tier.Effective{Tier: tier.Free, QuotaTier: tier.Free, Source: tier.SourceFree}
	if got := free.LimitFor(table, true); got == nil || *got != 5 {
		t.Errorf("free daily limit = %v, want 5", got)
	}
	if got := free.LimitFor(table, false); got == nil || *got != 1 {
		t.Errorf("free monthly photo limit = %v, want 1", got)
	}

	pro := tier.Effective{Tier: tier.Pro, QuotaTier: tier.Pro, Source: tier.SourceSubscription}
	if got := pro.LimitFor(table, true); got != nil {
		t.Errorf("pro daily limit = %v, want unlimited", *got)
	}
	if got := pro.LimitFor(table, false); got == nil || *got != 20 {
		t.Errorf("pro monthly photo limit = %v, want 20", got)
	}

	admin := tier.Effective{Tier: tier.Pro, QuotaTier: tier.Pro, Unlimited: true, Source: tier.SourceAdmin}
	if got := admin.LimitFor(table, true); got != nil {
		t.Errorf("admin limit = %v, want unlimited", *got)
	}

	// Booster accounts meter against the free table.
	booster := tier.Effective{Tier: tier.Pro, QuotaTier: tier.Free, Source: tier.SourceBooster}
	if got := booster.LimitFor(table, true); got == nil || *got != 5 {
		t.Errorf("booster daily limit = %v, want 5", got)
	}
}
