// Package postgres implements the entitlement store on PostgreSQL via
// Grove ORM. Conditional single-statement updates carry the atomicity
// contract, same as the SQLite backend, with Postgres expressions for
// interval arithmetic.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

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

// compile-time interface check
var _ entitlestore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("entitle/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/postgres: migration failed: %w", err)
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
	res, err := s.pg.NewInsert(m).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	created := rows > 0

	if !created && username != "" {
		_, err = s.pg.NewUpdate((*userModel)(nil)).
			Set("username = $1", username).
			Set("updated_at = $2", t).
			Where("id = $3", userID).
			Where("username != $4", username).
			Exec(ctx)
		if err != nil {
			return nil, false, err
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
	m := new(userModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrUserNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) SetStatus(ctx context.Context, userID int64, status user.Status) error {
	res, err := s.pg.NewUpdate((*userModel)(nil)).
		Set("status = $1", string(status)).
		Set("updated_at = $2", now()).
		Where("id = $3", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, entitle.ErrUserNotFound)
}

func (s *Store) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	t := now()

	var res sql.Result
	var err error
	if admin {
		res, err = s.pg.NewUpdate((*userModel)(nil)).
			Set("status = $1", string(user.StatusAdmin)).
			Set("updated_at = $2", t).
			Where("id = $3", userID).
			Exec(ctx)
	} else {
		// Demotion falls back on the subscription state.
		res, err = s.pg.NewUpdate((*userModel)(nil)).
			Set(
				"status = CASE WHEN status != 'admin' THEN status WHEN subscription_end IS NOT NULL AND subscription_end > $1 THEN 'paid' ELSE 'free' END",
				t,
			).
			Set("updated_at = $2", t).
			Where("id = $3", userID).
			Exec(ctx)
	}
	if err != nil {
		return err
	}
	return requireRow(res, entitle.ErrUserNotFound)
}

func (s *Store) UserStats(ctx context.Context, nowAt time.Time) (*user.Stats, error) {
	stats := &user.Stats{}
	err := s.pg.NewRaw(`
		SELECT COUNT(*) FROM entitle_users
	`).Scan(ctx, &stats.TotalUsers)
	if err != nil {
		return nil, err
	}
	err = s.pg.NewRaw(`
		SELECT COUNT(*) FROM entitle_users WHERE status = 'paid'
	`).Scan(ctx, &stats.PaidUsers)
	if err != nil {
		return nil, err
	}
	err = s.pg.NewRaw(`
		SELECT COUNT(*) FROM entitle_users WHERE status = 'admin'
	`).Scan(ctx, &stats.AdminUsers)
	if err != nil {
		return nil, err
	}
	err = s.pg.NewRaw(`
		SELECT COUNT(*) FROM entitle_users WHERE last_usage_date = $1 AND daily_usage_count > 0
	`, quota.DayMarker(nowAt)).Scan(ctx, &stats.ActiveToday)
	if err != nil {
		return nil, err
	}
	err = s.pg.NewRaw(`
		SELECT COUNT(*) FROM entitle_users WHERE referrer_id IS NOT NULL
	`).Scan(ctx, &stats.TotalReferred)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) ExtendSubscription(ctx context.Context, userID int64, t tier.Tier, days int, nowAt time.Time) (*user.User, error) {
	// The whole grant is one statement: the new end is computed from
	// whichever of now and the stored end is later, so concurrent
	// grants stack instead of clobbering each other.
	res, err := s.pg.NewUpdate((*userModel)(nil)).
		Set(
			"subscription_end = GREATEST(COALESCE(subscription_end, $1), $2) + make_interval(days => $3)",
			nowAt, nowAt, days,
		).
		Set(
			"tier = CASE WHEN $4 != '' THEN $5 WHEN tier IN ('plus', 'pro') THEN tier ELSE 'plus' END",
			string(t), string(t),
		).
		Set("status = CASE WHEN status = 'admin' THEN status ELSE 'paid' END").
		Set("updated_at = $6", nowAt).
		Where("id = $7", userID).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireRow(res, entitle.ErrUserNotFound); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

func (s *Store) MarkOneTimePurchase(ctx context.Context, userID int64, at time.Time) error {
	res, err := s.pg.NewUpdate((*userModel)(nil)).
		Set("last_one_time_purchase = $1", at).
		Set("updated_at = $2", at).
		Where("id = $3", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, entitle.ErrUserNotFound)
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

	counter, marker := counterColumns(kind)
	m := kind.Marker(nowAt)

	// Lazy reset, limit comparison and increment in one statement.
	// The WHERE clause evaluates the post-reset value, so a stale
	// marker starts the period from zero.
	res, err := s.pg.NewUpdate((*userModel)(nil)).
		Set(
			counter+" = CASE WHEN "+marker+" = $1 THEN "+counter+" + 1 ELSE 1 END",
			m,
		).
		Set(marker+" = $2", m).
		Set("updated_at = $3", nowAt).
		Where("id = $4", userID).
		Where("(CASE WHEN "+marker+" = $5 THEN "+counter+" ELSE 0 END) < $6", m, *limit).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		// Either the user is missing or the limit is reached; the
		// read distinguishes the two without mutating anything.
		return s.PeekUsage(ctx, userID, kind, limit, nowAt)
	}

	um, err := s.getUserModel(ctx, userID)
	if err != nil {
		return nil, err
	}
	used := counterValue(um, kind, m)
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
	res, err := s.pg.NewUpdate((*userModel)(nil)).
		Set("credit_balance = credit_balance - 1").
		Set("updated_at = $1", now()).
		Where("id = $2", userID).
		Where("credit_balance > 0").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
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
	res, err := s.pg.NewUpdate((*userModel)(nil)).
		Set("credit_balance = credit_balance + $1", delta).
		Set("updated_at = $2", now()).
		Where("id = $3", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	if err := requireRow(res, entitle.ErrUserNotFound); err != nil {
		return 0, err
	}

	m, err := s.getUserModel(ctx, userID)
	if err != nil {
		return 0, err
	}
	return m.CreditBalance, nil
}

func (s *Store) UseTrial(ctx context.Context, userID int64) error {
	res, err := s.pg.NewUpdate((*userModel)(nil)).
		Set("trial_used = TRUE").
		Set("updated_at = $1", now()).
		Where("id = $2", userID).
		Where("trial_used = FALSE").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.getUserModel(ctx, userID); err != nil {
			return err
		}
		return entitle.ErrTrialUsed
	}
	return nil
}

func (s *Store) ClaimReferral(ctx context.Context, userID int64) error {
	res, err := s.pg.NewUpdate((*userModel)(nil)).
		Set("referral_credited = TRUE").
		Set("updated_at = $1", now()).
		Where("id = $2", userID).
		Where("referral_credited = FALSE").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
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
	res, err := s.pg.NewInsert(m).
		OnConflict("(code) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, entitle.ErrPromoExists)
}

func (s *Store) GetPromo(ctx context.Context, code string) (*promo.Code, error) {
	m := new(promoModel)
	err := s.pg.NewSelect(m).
		Where("code = $1", promo.Normalize(code)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrPromoNotFound
		}
		return nil, err
	}
	return fromPromoModel(m)
}

func (s *Store) ListPromos(ctx context.Context) ([]*promo.Code, error) {
	var models []promoModel
	err := s.pg.NewSelect(&models).
		OrderExpr("code ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	res, err := s.pg.NewInsert(m).
		OnConflict("(user_id, promo_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, entitle.ErrPromoAlreadyUsed)
}

func (s *Store) ReleaseRedemption(ctx context.Context, redemptionID id.RedemptionID) error {
	_, err := s.pg.NewDelete((*redemptionModel)(nil)).
		Where("id = $1", redemptionID.String()).
		Exec(ctx)
	return err
}

func (s *Store) IncrementPromoUses(ctx context.Context, promoID id.PromoID) error {
	res, err := s.pg.NewUpdate((*promoModel)(nil)).
		Set("current_uses = current_uses + 1").
		Set("updated_at = $1", now()).
		Where("id = $2", promoID.String()).
		Where("(max_uses = 0 OR current_uses < max_uses)").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		err := s.pg.NewSelect(new(promoModel)).
			Where("id = $1", promoID.String()).
			Scan(ctx)
		if isNoRows(err) {
			return entitle.ErrPromoNotFound
		}
		if err != nil {
			return err
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
	res, err := s.pg.NewInsert(m).
		OnConflict("(payment_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, entitle.ErrPaymentClaimed)
}

func (s *Store) CountClaims(ctx context.Context) (int64, error) {
	var n int64
	err := s.pg.NewRaw(`
		SELECT COUNT(*) FROM entitle_payments
	`).Scan(ctx, &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// counterColumns maps a quota kind to its counter and marker columns.
func counterColumns(kind quota.Kind) (counter, marker string) {
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

// requireRow maps a zero-rows-affected result to the given sentinel.
func requireRow(res sql.Result, missing error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return missing
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
