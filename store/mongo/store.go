// Package mongo implements the entitlement store on MongoDB via Grove
// ORM. Single-document conditional updates carry the atomicity
// contract; subscription extension uses a bounded compare-and-swap
// loop because the new end depends on the stored one.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/vetsage/entitle"
	"github.com/vetsage/entitle/entitlement"
	"github.com/vetsage/entitle/id"
	"github.com/vetsage/entitle/payment"
	"github.com/vetsage/entitle/promo"
	"github.com/vetsage/entitle/quota"
	entitlestore "github.com/vetsage/entitle/store"
	"github.com/vetsage/entitle/tier"
	"github.com/vetsage/entitle/user"
)

// Collection name constants.
const (
	colUsers      = "entitle_users"
	colPromoCodes = "entitle_promo_codes"
	colPromoUsage = "entitle_promo_usage"
	colPayments   = "entitle_payments"
)

// casAttempts bounds the compare-and-swap retry loop.
const casAttempts = 5

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all entitlement collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("entitle/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== User Store ====================

func (s *Store) EnsureUser(ctx context.Context, userID int64, username string, referrerID *int64) (*user.User, bool, error) {
	// A referrer link only sticks when it points at an existing,
	// distinct user.
	var ref *int64
	if referrerID != nil && *referrerID != userID {
		if _, err := s.getUserModel(ctx, *referrerID); err == nil {
			r := *referrerID
			ref = &r
		}
	}

	t := now()
	m := &userModel{
		ID:         userID,
		Username:   username,
		Status:     string(user.StatusFree),
		Tier:       string(tier.Free),
		ReferrerID: ref,
		JoinedAt:   t,
		CreatedAt:  t,
		UpdatedAt:  t,
	}
	created := true
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return nil, false, fmt.Errorf("entitle/mongo: ensure user: %w", err)
		}
		created = false
	}

	if !created && username != "" {
		_, err := s.mdb.NewUpdate((*userModel)(nil)).
			Filter(bson.M{"_id": userID, "username": bson.M{"$ne": username}}).
			Set("username", username).
			Set("updated_at", t).
			Exec(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("entitle/mongo: refresh username: %w", err)
		}
	}

	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return u, created, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*user.User, error) {
	m, err := s.getUserModel(ctx, userID)
	if err != nil {
		return nil, err
	}
	return fromUserModel(m), nil
}

func (s *Store) getUserModel(ctx context.Context, userID int64) (*userModel, error) {
	var m userModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrUserNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get user: %w", err)
	}
	return &m, nil
}

func (s *Store) SetStatus(ctx context.Context, userID int64, status user.Status) error {
	res, err := s.mdb.NewUpdate((*userModel)(nil)).
		Filter(bson.M{"_id": userID}).
		Set("status", string(status)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: set status: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrUserNotFound
	}
	return nil
}

func (s *Store) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	t := now()

	if admin {
		res, err := s.mdb.NewUpdate((*userModel)(nil)).
			Filter(bson.M{"_id": userID}).
			Set("status", string(user.StatusAdmin)).
			Set("updated_at", t).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("entitle/mongo: set admin: %w", err)
		}
		if res.MatchedCount() == 0 {
			return entitle.ErrUserNotFound
		}
		return nil
	}

	// Demotion falls back on the subscription state. Try the paid
	// branch first; the free branch catches everything else still
	// marked admin.
	res, err := s.mdb.NewUpdate((*userModel)(nil)).
		Filter(bson.M{
			"_id":              userID,
			"status":           string(user.StatusAdmin),
			"subscription_end": bson.M{"$gt": t},
		}).
		Set("status", string(user.StatusPaid)).
		Set("updated_at", t).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: demote admin: %w", err)
	}
	if res.MatchedCount() > 0 {
		return nil
	}

	res, err = s.mdb.NewUpdate((*userModel)(nil)).
		Filter(bson.M{"_id": userID, "status": string(user.StatusAdmin)}).
		Set("status", string(user.StatusFree)).
		Set("updated_at", t).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: demote admin: %w", err)
	}
	if res.MatchedCount() > 0 {
		return nil
	}

	// Not admin in the first place. A non-admin status is left alone.
	if _, err := s.getUserModel(ctx, userID); err != nil {
		return err
	}
	return nil
}

func (s *Store) UserStats(ctx context.Context, nowAt time.Time) (*user.Stats, error) {
	stats := &user.Stats{}

	counts := []struct {
		dest   *int64
		filter bson.M
	}{
		{&stats.TotalUsers, bson.M{}},
		{&stats.PaidUsers, bson.M{"status": string(user.StatusPaid)}},
		{&stats.AdminUsers, bson.M{"status": string(user.StatusAdmin)}},
		{&stats.ActiveToday, bson.M{
			"last_usage_date":   quota.DayMarker(nowAt),
			"daily_usage_count": bson.M{"$gt": 0},
		}},
		{&stats.TotalReferred, bson.M{"referrer_id": bson.M{"$exists": true, "$ne": nil}}},
	}
	for _, c := range counts {
		n, err := s.mdb.Collection(colUsers).CountDocuments(ctx, c.filter)
		if err != nil {
			return nil, fmt.Errorf("entitle/mongo: user stats: %w", err)
		}
		*c.dest = n
	}
	return stats, nil
}

func (s *Store) ExtendSubscription(ctx context.Context, userID int64, t tier.Tier, days int, nowAt time.Time) (*user.User, error) {
	// The new end is computed from the stored one, so the write is
	// guarded by the value it was computed from. Concurrent grants
	// retry and stack instead of clobbering each other.
	for attempt := 0; attempt < casAttempts; attempt++ {
		m, err := s.getUserModel(ctx, userID)
		if err != nil {
			return nil, err
		}

		from := nowAt
		if m.SubscriptionEnd != nil && m.SubscriptionEnd.After(nowAt) {
			from = *m.SubscriptionEnd
		}
		end := from.Add(time.Duration(days) * 24 * time.Hour)

		newTier := string(t)
		if newTier == "" {
			if cur := tier.Parse(m.Tier); cur != tier.Free {
				newTier = m.Tier
			} else {
				newTier = string(tier.Plus)
			}
		}
		newStatus := m.Status
		if newStatus != string(user.StatusAdmin) {
			newStatus = string(user.StatusPaid)
		}

		res, err := s.mdb.NewUpdate((*userModel)(nil)).
			Filter(bson.M{"_id": userID, "subscription_end": m.SubscriptionEnd}).
			Set("subscription_end", end).
			Set("tier", newTier).
			Set("status", newStatus).
			Set("updated_at", nowAt).
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("entitle/mongo: extend subscription: %w", err)
		}
		if res.MatchedCount() > 0 {
			return s.GetUser(ctx, userID)
		}
	}
	return nil, fmt.Errorf("entitle/mongo: extend subscription: contention after %d attempts", casAttempts)
}

func (s *Store) MarkOneTimePurchase(ctx context.Context, userID int64, at time.Time) error {
	res, err := s.mdb.NewUpdate((*userModel)(nil)).
		Filter(bson.M{"_id": userID}).
		Set("last_one_time_purchase", at).
		Set("updated_at", at).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: mark one-time purchase: %w", err)
	}
	if res.MatchedCount() == 0 {
		return entitle.ErrUserNotFound
	}
	return nil
}

// ==================== Quota Store ====================

func (s *Store) TryConsume(ctx context.Context, userID int64, kind quota.Kind, limit *int64, nowAt time.Time) (*entitlement.Result, error) {
	if !kind.Valid() {
		return nil, entitle.ErrUnknownQuota
	}

	if limit == nil {
		// Uncapped kinds are never counted.
		return s.PeekUsage(ctx, userID, kind, limit, nowAt)
	}

	counter, marker := counterFields(kind)
	m := kind.Marker(nowAt)

	if *limit < 1 {
		// A zero limit admits nothing, so starting a fresh period
		// would already overshoot. Report the denial without writing.
		return s.PeekUsage(ctx, userID, kind, limit, nowAt)
	}

	// Two guarded writes: increment inside the current period, or
	// start a fresh period when the marker is stale. A concurrent
	// reset can land between the two, in which case both filters miss
	// while the counter sits below the limit; the loop replays the
	// increment against the freshly reset counter.
	for attempt := 0; attempt < casAttempts; attempt++ {
		res, err := s.mdb.NewUpdate((*userModel)(nil)).
			Filter(bson.M{"_id": userID, marker: m, counter: bson.M{"$lt": *limit}}).
			SetUpdate(bson.M{
				"$inc": bson.M{counter: 1},
				"$set": bson.M{"updated_at": nowAt},
			}).
			Exec(ctx)
		if err != nil {
			return nil, fmt.Errorf("entitle/mongo: consume quota: %w", err)
		}

		if res.MatchedCount() == 0 {
			res, err = s.mdb.NewUpdate((*userModel)(nil)).
				Filter(bson.M{"_id": userID, marker: bson.M{"$ne": m}}).
				SetUpdate(bson.M{
					"$set": bson.M{counter: 1, marker: m, "updated_at": nowAt},
				}).
				Exec(ctx)
			if err != nil {
				return nil, fmt.Errorf("entitle/mongo: consume quota: %w", err)
			}
		}

		um, err := s.getUserModel(ctx, userID)
		if err != nil {
			return nil, err
		}
		used := counterValue(um, kind, m)

		if res.MatchedCount() > 0 {
			remaining := *limit - used
			if remaining < 0 {
				remaining = 0
			}
			return &entitlement.Result{
				Allowed:   true,
				Kind:      kind,
				Used:      used,
				Limit:     limit,
				Remaining: &remaining,
			}, nil
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
		// Current marker with room to spare means another caller reset
		// the period between the two writes; go again.
	}
	return nil, fmt.Errorf("entitle/mongo: consume quota: contention after %d attempts", casAttempts)
}

func (s *Store) PeekUsage(ctx context.Context, userID int64, kind quota.Kind, limit *int64, nowAt time.Time) (*entitlement.Result, error) {
	if !kind.Valid() {
		return nil, entitle.ErrUnknownQuota
	}
	m, err := s.getUserModel(ctx, userID)
	if err != nil {
		return nil, err
	}

	used := counterValue(m, kind, kind.Marker(nowAt))
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
	remaining := *limit - used
	return &entitlement.Result{
		Allowed:   true,
		Kind:      kind,
		Used:      used,
		Limit:     limit,
		Remaining: &remaining,
	}, nil
}

func (s *Store) ConsumeCredit(ctx context.Context, userID int64) (int64, error) {
	res, err := s.mdb.NewUpdate((*userModel)(nil)).
		Filter(bson.M{"_id": userID, "credit_balance": bson.M{"$gt": 0}}).
		SetUpdate(bson.M{
			"$inc": bson.M{"credit_balance": -1},
			"$set": bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("entitle/mongo: consume credit: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.getUserModel(ctx, userID); err != nil {
			return 0, err
		}
		return 0, entitle.ErrNoCredit
	}

	m, err := s.getUserModel(ctx, userID)
	if err != nil {
		return 0, err
	}
	return m.CreditBalance, nil
}

func (s *Store) AddCredit(ctx context.Context, userID int64, delta int64) (int64, error) {
	res, err := s.mdb.NewUpdate((*userModel)(nil)).
		Filter(bson.M{"_id": userID}).
		SetUpdate(bson.M{
			"$inc": bson.M{"credit_balance": delta},
			"$set": bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("entitle/mongo: add credit: %w", err)
	}
	if res.MatchedCount() == 0 {
		return 0, entitle.ErrUserNotFound
	}

	m, err := s.getUserModel(ctx, userID)
	if err != nil {
		return 0, err
	}
	return m.CreditBalance, nil
}

func (s *Store) UseTrial(ctx context.Context, userID int64) error {
	res, err := s.mdb.NewUpdate((*userModel)(nil)).
		Filter(bson.M{"_id": userID, "trial_used": false}).
		Set("trial_used", true).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: use trial: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.getUserModel(ctx, userID); err != nil {
			return err
		}
		return entitle.ErrTrialUsed
	}
	return nil
}

func (s *Store) ClaimReferral(ctx context.Context, userID int64) error {
	res, err := s.mdb.NewUpdate((*userModel)(nil)).
		Filter(bson.M{"_id": userID, "referral_credited": false}).
		Set("referral_credited", true).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: claim referral: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.getUserModel(ctx, userID); err != nil {
			return err
		}
		return entitle.ErrReferralCredited
	}
	return nil
}

// ==================== Promo Store ====================

func (s *Store) CreatePromo(ctx context.Context, c *promo.Code) error {
	m := toPromoModel(c)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrPromoExists
		}
		return fmt.Errorf("entitle/mongo: create promo: %w", err)
	}
	return nil
}

func (s *Store) GetPromo(ctx context.Context, code string) (*promo.Code, error) {
	var m promoModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"code": promo.Normalize(code)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrPromoNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get promo: %w", err)
	}
	return fromPromoModel(&m)
}

func (s *Store) ListPromos(ctx context.Context) ([]*promo.Code, error) {
	var models []promoModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "code", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list promos: %w", err)
	}

	result := make([]*promo.Code, len(models))
	for i := range models {
		c, err := fromPromoModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) ClaimRedemption(ctx context.Context, r *promo.Redemption) error {
	m := toRedemptionModel(r)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrPromoAlreadyUsed
		}
		return fmt.Errorf("entitle/mongo: claim redemption: %w", err)
	}
	return nil
}

func (s *Store) ReleaseRedemption(ctx context.Context, redemptionID id.RedemptionID) error {
	_, err := s.mdb.NewDelete((*redemptionModel)(nil)).
		Filter(bson.M{"_id": redemptionID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: release redemption: %w", err)
	}
	return nil
}

func (s *Store) IncrementPromoUses(ctx context.Context, promoID id.PromoID) error {
	res, err := s.mdb.NewUpdate((*promoModel)(nil)).
		Filter(bson.M{
			"_id": promoID.String(),
			"$or": bson.A{
				bson.M{"max_uses": 0},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$current_uses", "$max_uses"}}},
			},
		}).
		SetUpdate(bson.M{
			"$inc": bson.M{"current_uses": 1},
			"$set": bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: increment promo uses: %w", err)
	}
	if res.MatchedCount() == 0 {
		var m promoModel
		err := s.mdb.NewFind(&m).
			Filter(bson.M{"_id": promoID.String()}).
			Scan(ctx)
		if isNoDocuments(err) {
			return entitle.ErrPromoNotFound
		}
		if err != nil {
			return fmt.Errorf("entitle/mongo: increment promo uses: %w", err)
		}
		return entitle.ErrPromoExhausted
	}
	return nil
}

// ==================== Payment Store ====================

func (s *Store) ClaimPayment(ctx context.Context, c *payment.Claim) error {
	m := toClaimModel(c)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
		m.UpdatedAt = m.CreatedAt
	}
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entitle.ErrPaymentClaimed
		}
		return fmt.Errorf("entitle/mongo: claim payment: %w", err)
	}
	return nil
}

func (s *Store) CountClaims(ctx context.Context) (int64, error) {
	n, err := s.mdb.Collection(colPayments).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("entitle/mongo: count claims: %w", err)
	}
	return n, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// counterFields maps a quota kind to its counter and marker fields.
func counterFields(kind quota.Kind) (counter, marker string) {
	if kind.Daily() {
		return "daily_usage_count", "last_usage_date"
	}
	return "monthly_photo_count", "last_photo_month"
}

// counterValue reads the effective counter for the current period: a
// stale marker means the stored count has lapsed.
func counterValue(m *userModel, kind quota.Kind, marker string) int64 {
	if kind.Daily() {
		if m.LastUsageDate == marker {
			return m.DailyUsageCount
		}
		return 0
	}
	if m.LastPhotoMonth == marker {
		return m.MonthlyPhotoCount
	}
	return 0
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all entitlement collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{
				Keys:    bson.D{{Key: "referrer_id", Value: 1}},
				Options: options.Index().SetSparse(true),
			},
		},
		colPromoCodes: {
			{
				Keys:    bson.D{{Key: "code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colPromoUsage: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "promo_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "promo_id", Value: 1}}},
		},
		colPayments: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
	}
}
