// Package memory provides an in-memory Store used in tests and
// single-process deployments. All operations happen under one mutex,
// which is what makes the conditional updates atomic here.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vetsage/entitle"
	"github.com/vetsage/entitle/entitlement"
	"github.com/vetsage/entitle/id"
	"github.com/vetsage/entitle/payment"
	"github.com/vetsage/entitle/promo"
	"github.com/vetsage/entitle/quota"
	"github.com/vetsage/entitle/tier"
	"github.com/vetsage/entitle/types"
	"github.com/vetsage/entitle/user"
)

type Store struct {
	mu sync.RWMutex

	// User storage, keyed by messenger user id
	users map[int64]*user.User

	// Promo storage
	promos      map[string]*promo.Code       // by promo id
	promoCodes  map[string]string            // normalized code -> promo id
	redemptions map[string]*promo.Redemption // by redemption id
	redeemed    map[redemptionKey]string     // (user, promo) -> redemption id

	// Payment dedup ledger, keyed by gateway payment id
	claims map[string]*payment.Claim
}

type redemptionKey struct {
	userID  int64
	promoID string
}

func New() *Store {
	return &Store{
		users:       make(map[int64]*user.User),
		promos:      make(map[string]*promo.Code),
		promoCodes:  make(map[string]string),
		redemptions: make(map[string]*promo.Redemption),
		redeemed:    make(map[redemptionKey]string),
		claims:      make(map[string]*payment.Claim),
	}
}

// User Store implementation

func (s *Store) EnsureUser(_ context.Context, userID int64, username string, referrerID *int64) (*user.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, exists := s.users[userID]; exists {
		if username != "" && u.Username != username {
			u.Username = username
			u.Touch()
		}
		return cloneUser(u), false, nil
	}

	now := time.Now()
	u := &user.User{
		Entity:   types.NewEntity(),
		ID:       userID,
		Username: username,
		Status:   user.StatusFree,
		Tier:     string(tier.Free),
		JoinedAt: now,
	}
	if referrerID != nil && *referrerID != userID {
		if _, ok := s.users[*referrerID]; ok {
			ref := *referrerID
			u.ReferrerID = &ref
		}
	}
	s.users[userID] = u
	return cloneUser(u), true, nil
}

func (s *Store) GetUser(_ context.Context, userID int64) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[userID]; ok {
		return cloneUser(u), nil
	}
	return nil, entitle.ErrUserNotFound
}

func (s *Store) SetStatus(_ context.Context, userID int64, status user.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return entitle.ErrUserNotFound
	}
	u.Status = status
	u.Touch()
	return nil
}

func (s *Store) SetAdmin(_ context.Context, userID int64, admin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return entitle.ErrUserNotFound
	}
	if admin {
		u.Status = user.StatusAdmin
	} else if u.Status == user.StatusAdmin {
		// Demotion falls back on the subscription state.
		if u.SubscriptionEnd != nil && u.SubscriptionEnd.After(time.Now()) {
			u.Status = user.StatusPaid
		} else {
			u.Status = user.StatusFree
		}
	}
	u.Touch()
	return nil
}

func (s *Store) UserStats(_ context.Context, now time.Time) (*user.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &user.Stats{}
	today := quota.DayMarker(now)
	for _, u := range s.users {
		stats.TotalUsers++
		switch u.Status {
		case user.StatusPaid:
			stats.PaidUsers++
		case user.StatusAdmin:
			stats.AdminUsers++
		}
		if u.LastUsageDate == today && u.DailyUsageCount > 0 {
			stats.ActiveToday++
		}
		if u.ReferrerID != nil {
			stats.TotalReferred++
		}
	}
	return stats, nil
}

func (s *Store) ExtendSubscription(_ context.Context, userID int64, t tier.Tier, days int, now time.Time) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, entitle.ErrUserNotFound
	}

	from := now
	if u.SubscriptionEnd != nil && u.SubscriptionEnd.After(now) {
		from = *u.SubscriptionEnd
	}
	end := from.Add(time.Duration(days) * 24 * time.Hour)
	u.SubscriptionEnd = &end

	switch {
	case t != "":
		u.Tier = string(t)
	case tier.Parse(u.Tier) == tier.Free:
		u.Tier = string(tier.Plus)
	}
	if u.Status != user.StatusAdmin {
		u.Status = user.StatusPaid
	}
	u.Touch()
	return cloneUser(u), nil
}

func (s *Store) MarkOneTimePurchase(_ context.Context, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return entitle.ErrUserNotFound
	}
	u.LastOneTimePurchase = &at
	u.Touch()
	return nil
}

// Quota Store implementation

func (s *Store) TryConsume(_ context.Context, userID int64, kind quota.Kind, limit *int64, now time.Time) (*entitlement.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyQuota(userID, kind, limit, now, true)
}

func (s *Store) PeekUsage(_ context.Context, userID int64, kind quota.Kind, limit *int64, now time.Time) (*entitlement.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applyQuota(userID, kind, limit, now, false)
}

// applyQuota holds the lazy-reset-then-compare-then-increment sequence.
// Callers must hold the appropriate lock.
func (s *Store) applyQuota(userID int64, kind quota.Kind, limit *int64, now time.Time, consume bool) (*entitlement.Result, error) {
	if !kind.Valid() {
		return nil, entitle.ErrUnknownQuota
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, entitle.ErrUserNotFound
	}

	marker := kind.Marker(now)
	var used int64
	if kind.Daily() {
		if u.LastUsageDate == marker {
			used = u.DailyUsageCount
		}
	} else {
		if u.LastPhotoMonth == marker {
			used = u.MonthlyPhotoCount
		}
	}

	if limit == nil {
		return &entitlement.Result{Allowed: true, Kind: kind, Used: used}, nil
	}

	if used >= *limit {
		zero := int64(0)
		return &entitlement.Result{
			Allowed:   false,
			Kind:      kind,
			Used:      used,
			Limit:     limit,
			Remaining: &zero,
			Reason:    "limit reached",
		}, nil
	}

	if consume {
		used++
		if kind.Daily() {
			u.DailyUsageCount = used
			u.LastUsageDate = marker
		} else {
			u.MonthlyPhotoCount = used
			u.LastPhotoMonth = marker
		}
		u.Touch()
	}

	remaining := *limit - used
	return &entitlement.Result{
		Allowed:   true,
		Kind:      kind,
		Used:      used,
		Limit:     limit,
		Remaining: &remaining,
	}, nil
}

func (s *Store) ConsumeCredit(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, entitle.ErrUserNotFound
	}
	if u.CreditBalance <= 0 {
		return 0, entitle.ErrNoCredit
	}
	u.CreditBalance--
	u.Touch()
	return u.CreditBalance, nil
}

func (s *Store) AddCredit(_ context.Context, userID int64, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, entitle.ErrUserNotFound
	}
	u.CreditBalance += delta
	u.Touch()
	return u.CreditBalance, nil
}

func (s *Store) UseTrial(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return entitle.ErrUserNotFound
	}
	if u.TrialUsed {
		return entitle.ErrTrialUsed
	}
	u.TrialUsed = true
	u.Touch()
	return nil
}

func (s *Store) ClaimReferral(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return entitle.ErrUserNotFound
	}
	if u.ReferralCredited {
		return entitle.ErrReferralCredited
	}
	u.ReferralCredited = true
	u.Touch()
	return nil
}

// Promo Store implementation

func (s *Store) CreatePromo(_ context.Context, c *promo.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := promo.Normalize(c.Code)
	if _, exists := s.promoCodes[code]; exists {
		return entitle.ErrPromoExists
	}
	stored := *c
	stored.Code = code
	s.promos[c.ID.String()] = &stored
	s.promoCodes[code] = c.ID.String()
	return nil
}

func (s *Store) GetPromo(_ context.Context, code string) (*promo.Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pid, ok := s.promoCodes[promo.Normalize(code)]
	if !ok {
		return nil, entitle.ErrPromoNotFound
	}
	c := *s.promos[pid]
	return &c, nil
}

func (s *Store) ListPromos(_ context.Context) ([]*promo.Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*promo.Code, 0, len(s.promos))
	for _, c := range s.promos {
		cc := *c
		result = append(result, &cc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

func (s *Store) ClaimRedemption(_ context.Context, r *promo.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := redemptionKey{userID: r.UserID, promoID: r.PromoID.String()}
	if _, exists := s.redeemed[key]; exists {
		return entitle.ErrPromoAlreadyUsed
	}
	stored := *r
	s.redemptions[r.ID.String()] = &stored
	s.redeemed[key] = r.ID.String()
	return nil
}

func (s *Store) ReleaseRedemption(_ context.Context, redemptionID id.RedemptionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.redemptions[redemptionID.String()]
	if !ok {
		return nil
	}
	delete(s.redeemed, redemptionKey{userID: r.UserID, promoID: r.PromoID.String()})
	delete(s.redemptions, redemptionID.String())
	return nil
}

func (s *Store) IncrementPromoUses(_ context.Context, promoID id.PromoID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.promos[promoID.String()]
	if !ok {
		return entitle.ErrPromoNotFound
	}
	if c.MaxUses > 0 && c.CurrentUses >= c.MaxUses {
		return entitle.ErrPromoExhausted
	}
	c.CurrentUses++
	c.Touch()
	return nil
}

// Payment Store implementation

func (s *Store) ClaimPayment(_ context.Context, c *payment.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.claims[c.PaymentID]; exists {
		return entitle.ErrPaymentClaimed
	}
	stored := *c
	s.claims[c.PaymentID] = &stored
	return nil
}

func (s *Store) CountClaims(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.claims)), nil
}

// Store management

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}

func cloneUser(u *user.User) *user.User {
	c := *u
	if u.SubscriptionEnd != nil {
		t := *u.SubscriptionEnd
		c.SubscriptionEnd = &t
	}
	if u.LastOneTimePurchase != nil {
		t := *u.LastOneTimePurchase
		c.LastOneTimePurchase = &t
	}
	if u.ReferrerID != nil {
		r := *u.ReferrerID
		c.ReferrerID = &r
	}
	return &c
}
