package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vetsage/entitle"
	"github.com/vetsage/entitle/id"
	"github.com/vetsage/entitle/payment"
	"github.com/vetsage/entitle/promo"
	"github.com/vetsage/entitle/quota"
	"github.com/vetsage/entitle/store/memory"
	"github.com/vetsage/entitle/tier"
	"github.com/vetsage/entitle/types"
	"github.com/vetsage/entitle/user"
)

func limit(n int64) *int64 { return &n }

func TestEnsureUser(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	u, created, err := s.EnsureUser(ctx, 100, "alice", nil)
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if !created {
		t.Error("first EnsureUser should create")
	}
	if u.Status != user.StatusFree {
		t.Errorf("Status = %s, want free", u.Status)
	}

	again, created, err := s.EnsureUser(ctx, 100, "alice", nil)
	if err != nil {
		t.Fatalf("EnsureUser repeat: %v", err)
	}
	if created {
		t.Error("second EnsureUser should not create")
	}
	if again.ID != 100 {
		t.Errorf("ID = %d, want 100", again.ID)
	}
}

func TestEnsureUserReferrer(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	ref := int64(100)
	if _, _, err := s.EnsureUser(ctx, 100, "alice", nil); err != nil {
		t.Fatal(err)
	}

	// Valid referrer is linked.
	u, _, err := s.EnsureUser(ctx, 200, "bob", &ref)
	if err != nil {
		t.Fatal(err)
	}
	if u.ReferrerID == nil || *u.ReferrerID != 100 {
		t.Errorf("ReferrerID = %v, want 100", u.ReferrerID)
	}

	// Unknown referrer is dropped.
	ghost := int64(999)
	u2, _, err := s.EnsureUser(ctx, 300, "carol", &ghost)
	if err != nil {
		t.Fatal(err)
	}
	if u2.ReferrerID != nil {
		t.Errorf("unknown referrer should not link, got %v", *u2.ReferrerID)
	}

	// Self referral is dropped.
	self := int64(400)
	u3, _, err := s.EnsureUser(ctx, 400, "dave", &self)
	if err != nil {
		t.Fatal(err)
	}
	if u3.ReferrerID != nil {
		t.Error("self referral should not link")
	}
}

func TestTryConsumeLimitAndRollover(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}

	day1 := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		res, err := s.TryConsume(ctx, 1, quota.DailyText, limit(3), day1)
		if err != nil {
			t.Fatalf("TryConsume %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("consume %d should be allowed", i)
		}
		if res.Used != int64(i) {
			t.Errorf("Used = %d, want %d", res.Used, i)
		}
	}

	res, err := s.TryConsume(ctx, 1, quota.DailyText, limit(3), day1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Error("fourth consume should be denied")
	}
	if res.Used != 3 {
		t.Errorf("Used = %d, want 3", res.Used)
	}
	if res.Remaining == nil || *res.Remaining != 0 {
		t.Errorf("Remaining = %v, want 0", res.Remaining)
	}

	// Next day the counter reads as zero again.
	day2 := day1.Add(24 * time.Hour)
	res, err = s.TryConsume(ctx, 1, quota.DailyText, limit(3), day2)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || res.Used != 1 {
		t.Errorf("after rollover: allowed=%v used=%d, want allowed used=1", res.Allowed, res.Used)
	}
}

func TestTryConsumeUnlimited(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	for i := 0; i < 10; i++ {
		res, err := s.TryConsume(ctx, 1, quota.DailyText, nil, now)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed {
			t.Fatal("unlimited consume should always be allowed")
		}
	}

	// Counter was never incremented.
	u, err := s.GetUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if u.DailyUsageCount != 0 {
		t.Errorf("DailyUsageCount = %d, want 0", u.DailyUsageCount)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	for i := 0; i < 5; i++ {
		if _, err := s.PeekUsage(ctx, 1, quota.DailyText, limit(3), now); err != nil {
			t.Fatal(err)
		}
	}
	res, err := s.TryConsume(ctx, 1, quota.DailyText, limit(3), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Used != 1 {
		t.Errorf("Used = %d after peeks, want 1", res.Used)
	}
}

func TestMonthlyPhotoRollover(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}

	march := time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC)
	res, err := s.TryConsume(ctx, 1, quota.MonthlyPhoto, limit(1), march)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed {
		t.Fatal("first photo should be allowed")
	}

	res, err = s.TryConsume(ctx, 1, quota.MonthlyPhoto, limit(1), march)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Error("second photo in same month should be denied")
	}

	april := time.Date(2025, 4, 1, 0, 1, 0, 0, time.UTC)
	res, err = s.TryConsume(ctx, 1, quota.MonthlyPhoto, limit(1), april)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed {
		t.Error("photo in next month should be allowed again")
	}
}

func TestConsumeCreditNeverNegative(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AddCredit(ctx, 1, 2); err != nil {
		t.Fatal(err)
	}

	if bal, err := s.ConsumeCredit(ctx, 1); err != nil || bal != 1 {
		t.Errorf("first consume: bal=%d err=%v, want 1 nil", bal, err)
	}
	if bal, err := s.ConsumeCredit(ctx, 1); err != nil || bal != 0 {
		t.Errorf("second consume: bal=%d err=%v, want 0 nil", bal, err)
	}
	if _, err := s.ConsumeCredit(ctx, 1); !errors.Is(err, entitle.ErrNoCredit) {
		t.Errorf("third consume err = %v, want ErrNoCredit", err)
	}

	u, err := s.GetUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if u.CreditBalance != 0 {
		t.Errorf("CreditBalance = %d, want 0", u.CreditBalance)
	}
}

func TestConsumeCreditConcurrent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddCredit(ctx, 1, 5); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeCredit(ctx, 1); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 5 {
		t.Errorf("granted = %d, want exactly 5", granted)
	}
	u, _ := s.GetUser(ctx, 1)
	if u.CreditBalance != 0 {
		t.Errorf("CreditBalance = %d, want 0", u.CreditBalance)
	}
}

func TestTryConsumeConcurrent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}

	// Yesterday's usage leaves a stale marker, so the racing consumes
	// also cover the period rollover.
	yesterday := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	if _, err := s.TryConsume(ctx, 1, quota.DailyText, limit(3), yesterday); err != nil {
		t.Fatal(err)
	}

	today := yesterday.Add(24 * time.Hour)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.TryConsume(ctx, 1, quota.DailyText, limit(3), today)
			if err != nil {
				t.Error(err)
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 3 {
		t.Errorf("allowed = %d, want exactly 3", allowed)
	}
	u, err := s.GetUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if u.DailyUsageCount != 3 {
		t.Errorf("DailyUsageCount = %d, want 3", u.DailyUsageCount)
	}
}

func TestTryConsumeZeroLimit(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	res, err := s.TryConsume(ctx, 1, quota.DailyText, limit(0), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Error("zero limit should deny")
	}
	u, err := s.GetUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if u.DailyUsageCount != 0 {
		t.Errorf("DailyUsageCount = %d, want 0", u.DailyUsageCount)
	}
}

func TestExtendSubscription(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// First grant starts from now.
	u, err := s.ExtendSubscription(ctx, 1, tier.Pro, 30, now)
	if err != nil {
		t.Fatal(err)
	}
	if u.Status != user.StatusPaid || u.Tier != "pro" {
		t.Errorf("status=%s tier=%s, want paid pro", u.Status, u.Tier)
	}
	want := now.Add(30 * 24 * time.Hour)
	if u.SubscriptionEnd == nil || !u.SubscriptionEnd.Equal(want) {
		t.Errorf("SubscriptionEnd = %v, want %v", u.SubscriptionEnd, want)
	}

	// Second grant extends from the current end, not from now.
	u, err = s.ExtendSubscription(ctx, 1, tier.Pro, 30, now.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	want = want.Add(30 * 24 * time.Hour)
	if u.SubscriptionEnd == nil || !u.SubscriptionEnd.Equal(want) {
		t.Errorf("stacked SubscriptionEnd = %v, want %v", u.SubscriptionEnd, want)
	}
}

func TestExtendSubscriptionDefaultTier(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	// Empty tier on a free user defaults to plus.
	u, err := s.ExtendSubscription(ctx, 1, "", 7, now)
	if err != nil {
		t.Fatal(err)
	}
	if u.Tier != "plus" {
		t.Errorf("Tier = %s, want plus", u.Tier)
	}

	// Empty tier on a pro user keeps pro.
	if _, err := s.ExtendSubscription(ctx, 1, tier.Pro, 30, now); err != nil {
		t.Fatal(err)
	}
	u, err = s.ExtendSubscription(ctx, 1, "", 7, now)
	if err != nil {
		t.Fatal(err)
	}
	if u.Tier != "pro" {
		t.Errorf("Tier = %s, want pro preserved", u.Tier)
	}
}

func TestUseTrialOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}

	if err := s.UseTrial(ctx, 1); err != nil {
		t.Fatalf("first UseTrial: %v", err)
	}
	if err := s.UseTrial(ctx, 1); !errors.Is(err, entitle.ErrTrialUsed) {
		t.Errorf("second UseTrial err = %v, want ErrTrialUsed", err)
	}
}

func TestClaimReferralOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if _, _, err := s.EnsureUser(ctx, 1, "", nil); err != nil {
		t.Fatal(err)
	}

	if err := s.ClaimReferral(ctx, 1); err != nil {
		t.Fatalf("first ClaimReferral: %v", err)
	}
	if err := s.ClaimReferral(ctx, 1); !errors.Is(err, entitle.ErrReferralCredited) {
		t.Errorf("second ClaimReferral err = %v, want ErrReferralCredited", err)
	}
}

func TestPromoLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	c := &promo.Code{
		Entity:  types.NewEntity(),
		ID:      id.NewPromoID(),
		Code:    "bonus_10",
		Type:    promo.TypeBalanceAdd,
		Value:   10,
		MaxUses: 1,
	}
	if err := s.CreatePromo(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := s.CreatePromo(ctx, c); !errors.Is(err, entitle.ErrPromoExists) {
		t.Errorf("duplicate CreatePromo err = %v, want ErrPromoExists", err)
	}

	// Lookup is case-insensitive and trimmed.
	got, err := s.GetPromo(ctx, "  Bonus_10 ")
	if err != nil {
		t.Fatalf("GetPromo: %v", err)
	}
	if got.Code != "BONUS_10" {
		t.Errorf("stored code = %q, want BONUS_10", got.Code)
	}

	if _, err := s.GetPromo(ctx, "NOPE"); !errors.Is(err, entitle.ErrPromoNotFound) {
		t.Errorf("missing promo err = %v, want ErrPromoNotFound", err)
	}

	// First increment consumes the budget, second fails.
	if err := s.IncrementPromoUses(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementPromoUses(ctx, c.ID); !errors.Is(err, entitle.ErrPromoExhausted) {
		t.Errorf("exhausted increment err = %v, want ErrPromoExhausted", err)
	}
}

func TestClaimRedemptionOncePerUser(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	pid := id.NewPromoID()

	r1 := &promo.Redemption{ID: id.NewRedemptionID(), UserID: 1, PromoID: pid, RedeemedAt: time.Now()}
	if err := s.ClaimRedemption(ctx, r1); err != nil {
		t.Fatal(err)
	}

	dup := &promo.Redemption{ID: id.NewRedemptionID(), UserID: 1, PromoID: pid, RedeemedAt: time.Now()}
	if err := s.ClaimRedemption(ctx, dup); !errors.Is(err, entitle.ErrPromoAlreadyUsed) {
		t.Errorf("duplicate claim err = %v, want ErrPromoAlreadyUsed", err)
	}

	// A different user can still claim.
	r2 := &promo.Redemption{ID: id.NewRedemptionID(), UserID: 2, PromoID: pid, RedeemedAt: time.Now()}
	if err := s.ClaimRedemption(ctx, r2); err != nil {
		t.Errorf("other user claim err = %v", err)
	}

	// Release makes the pair claimable again.
	if err := s.ReleaseRedemption(ctx, r1.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.ClaimRedemption(ctx, dup); err != nil {
		t.Errorf("claim after release err = %v", err)
	}
}

func TestClaimPaymentDedup(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	c := &payment.Claim{
		Entity:    types.NewEntity(),
		PaymentID: "yk-2b9f1",
		UserID:    1,
		Product:   payment.ProductPro,
		Amount:    types.RUB(49000),
		ClaimedAt: time.Now(),
	}
	if err := s.ClaimPayment(ctx, c); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.ClaimPayment(ctx, c); !errors.Is(err, entitle.ErrPaymentClaimed) {
		t.Errorf("second claim err = %v, want ErrPaymentClaimed", err)
	}

	n, err := s.CountClaims(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountClaims = %d, want 1", n)
	}
}

func TestUserStats(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now()

	if _, _, err := s.EnsureUser(ctx, 1, "a", nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.EnsureUser(ctx, 2, "b", nil); err != nil {
		t.Fatal(err)
	}
	ref := int64(1)
	if _, _, err := s.EnsureUser(ctx, 3, "c", &ref); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ExtendSubscription(ctx, 2, tier.Plus, 30, now); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAdmin(ctx, 1, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TryConsume(ctx, 3, quota.DailyText, limit(5), now); err != nil {
		t.Fatal(err)
	}

	stats, err := s.UserStats(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalUsers != 3 {
		t.Errorf("TotalUsers = %d, want 3", stats.TotalUsers)
	}
	if stats.PaidUsers != 1 {
		t.Errorf("PaidUsers = %d, want 1", stats.PaidUsers)
	}
	if stats.AdminUsers != 1 {
		t.Errorf("AdminUsers = %d, want 1", stats.AdminUsers)
	}
	if stats.ActiveToday != 1 {
		t.Errorf("ActiveToday = %d, want 1", stats.ActiveToday)
	}
	if stats.TotalReferred != 1 {
		t.Errorf("TotalReferred = %d, want 1", stats.TotalReferred)
	}
}
