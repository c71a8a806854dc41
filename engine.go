package entitle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vetsage/entitle/entitlement"
	"github.com/vetsage/entitle/id"
	"github.com/vetsage/entitle/payment"
	"github.com/vetsage/entitle/plugin"
	"github.com/vetsage/entitle/promo"
	"github.com/vetsage/entitle/quota"
	"github.com/vetsage/entitle/store"
	"github.com/vetsage/entitle/tier"
	"github.com/vetsage/entitle/types"
	"github.com/vetsage/entitle/user"
)

// Engine is the main entitlement and usage-metering engine.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   clock.Clock

	limits   tier.Table
	gateway  payment.Gateway
	notifier payment.Notifier

	// Background workers
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Configuration
	reconcileInterval time.Duration
	reconcilePageSize int
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:             s,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		clock:             clock.New(),
		limits:            tier.DefaultTable(),
		stopChan:          make(chan struct{}),
		reconcileInterval: time.Minute,
		reconcilePageSize: 50,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithClock sets the time source. Tests use a mock clock to drive
// period rollovers and reconcile ticks.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLimits overrides the quota table.
func WithLimits(t tier.Table) Option {
	return func(e *Engine) {
		e.limits = t
	}
}

// WithGateway sets the payment gateway polled by the reconciler.
// Without one, the reconcile worker does not start.
func WithGateway(g payment.Gateway) Option {
	return func(e *Engine) {
		e.gateway = g
	}
}

// WithNotifier sets the post-grant notifier.
func WithNotifier(n payment.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithReconcileConfig configures the reconciliation loop.
func WithReconcileConfig(interval time.Duration, pageSize int) Option {
	return func(e *Engine) {
		e.reconcileInterval = interval
		e.reconcilePageSize = pageSize
	}
}

// Start migrates the store and begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	if e.gateway != nil {
		e.wg.Add(1)
		go e.reconcileWorker(ctx)
	}

	e.logger.Info("entitle started",
		"reconcile_interval", e.reconcileInterval,
		"reconcile_page_size", e.reconcilePageSize,
		"gateway", e.gateway != nil,
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	close(e.stopChan)
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Plugins exposes the plugin registry.
func (e *Engine) Plugins() *plugin.Registry {
	return e.plugins
}

// ──────────────────────────────────────────────────
// Registration & Referrals
// ──────────────────────────────────────────────────

// Register ensures the user row exists, creating it on first contact.
// On creation with a valid referral link it also pays the referral
// bonus: one credit to the referrer and one to the new user, gated by
// the new user's referral flag so the bonus is paid at most once even
// if registration is retried.
func (e *Engine) Register(ctx context.Context, userID int64, username string, referrerID *int64) (*user.User, error) {
	u, created, err := e.store.EnsureUser(ctx, userID, username, referrerID)
	if err != nil {
		return nil, err
	}
	if !created {
		return u, nil
	}

	e.logger.Info("user registered", "user_id", userID, "referred", u.ReferrerID != nil)
	e.plugins.EmitUserRegistered(ctx, u)

	if u.ReferrerID != nil {
		e.grantReferral(ctx, u.ID, *u.ReferrerID)
	}
	return e.store.GetUser(ctx, userID)
}

// GetUser retrieves a user by ID.
func (e *Engine) GetUser(ctx context.Context, userID int64) (*user.User, error) {
	return e.store.GetUser(ctx, userID)
}

// grantReferral pays the referral bonus. The flag claim comes first:
// it is the dedup gate, so a retry after a crash can at worst lose the
// bonus, never double it.
func (e *Engine) grantReferral(ctx context.Context, newUserID, referrerID int64) {
	if err := e.store.ClaimReferral(ctx, newUserID); err != nil {
		if !errors.Is(err, ErrReferralCredited) {
			e.logger.Warn("referral claim failed", "user_id", newUserID, "error", err)
		}
		return
	}

	if _, err := e.store.AddCredit(ctx, referrerID, 1); err != nil {
		e.logger.Warn("referrer bonus grant failed", "referrer_id", referrerID, "error", err)
	}
	if _, err := e.store.AddCredit(ctx, newUserID, 1); err != nil {
		e.logger.Warn("referred bonus grant failed", "user_id", newUserID, "error", err)
	}

	e.logger.Info("referral bonus granted", "referrer_id", referrerID, "user_id", newUserID)
	e.plugins.EmitReferralGranted(ctx, referrerID, newUserID)
}

// ──────────────────────────────────────────────────
// Tier Resolution
// ──────────────────────────────────────────────────

// ResolveTier derives the effective tier for a user right now.
func (e *Engine) ResolveTier(ctx context.Context, userID int64) (tier.Effective, error) {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return tier.Effective{}, err
	}
	return tier.Resolve(u, e.clock.Now()), nil
}

// ──────────────────────────────────────────────────
// Quota & Credits
// ──────────────────────────────────────────────────

// CheckQuota decides whether the user may perform one more action of
// the given kind, and with consume set also counts it. Decision and
// increment happen in a single store operation; two separate
// CheckQuota calls are not a safe substitute for one consuming call.
func (e *Engine) CheckQuota(ctx context.Context, userID int64, kind quota.Kind, consume bool) (*entitlement.Result, error) {
	if !kind.Valid() {
		return nil, ErrUnknownQuota
	}

	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	eff := tier.Resolve(u, now)
	limit := eff.LimitFor(e.limits, kind.Daily())

	var res *entitlement.Result
	if consume {
		res, err = e.store.TryConsume(ctx, userID, kind, limit, now)
	} else {
		res, err = e.store.PeekUsage(ctx, userID, kind, limit, now)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case !res.Allowed:
		e.plugins.EmitQuotaExceeded(ctx, userID, string(kind), res.Used, *res.Limit)
	case consume:
		e.plugins.EmitQuotaConsumed(ctx, userID, res)
	}
	return res, nil
}

// ConsumeCredit spends one prepaid credit, independent of the daily
// and monthly counters. Returns the new balance, or ErrNoCredit
// without changing anything.
func (e *Engine) ConsumeCredit(ctx context.Context, userID int64) (int64, error) {
	balance, err := e.store.ConsumeCredit(ctx, userID)
	if err != nil {
		return 0, err
	}
	e.plugins.EmitCreditConsumed(ctx, userID, balance)
	return balance, nil
}

// GrantCredits adds credits to a user's balance and returns the new
// balance.
func (e *Engine) GrantCredits(ctx context.Context, userID, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, ErrInvalidInput
	}
	balance, err := e.store.AddCredit(ctx, userID, delta)
	if err != nil {
		return 0, err
	}
	e.plugins.EmitCreditGranted(ctx, userID, delta, balance)
	return balance, nil
}

// ConsumeTrial burns the one-shot free trial. Fails with ErrTrialUsed
// on every call after the first.
func (e *Engine) ConsumeTrial(ctx context.Context, userID int64) error {
	return e.store.UseTrial(ctx, userID)
}

// Snapshot assembles the full entitlement picture for one user
// without consuming anything.
func (e *Engine) Snapshot(ctx context.Context, userID int64) (*entitlement.Snapshot, error) {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	eff := tier.Resolve(u, now)

	daily, err := e.store.PeekUsage(ctx, userID, quota.DailyText, eff.LimitFor(e.limits, true), now)
	if err != nil {
		return nil, err
	}
	monthly, err := e.store.PeekUsage(ctx, userID, quota.MonthlyPhoto, eff.LimitFor(e.limits, false), now)
	if err != nil {
		return nil, err
	}

	return &entitlement.Snapshot{
		User:          u,
		Effective:     eff,
		DailyText:     *daily,
		MonthlyPhoto:  *monthly,
		CreditBalance: u.CreditBalance,
	}, nil
}

// ──────────────────────────────────────────────────
// Promo Codes
// ──────────────────────────────────────────────────

// CreatePromoCode creates a redeemable code. Value is days for
// subscription_days codes and credits for balance_add codes; maxUses
// of zero means unlimited.
func (e *Engine) CreatePromoCode(ctx context.Context, code string, typ promo.Type, value, maxUses int64, expiresAt *time.Time) (*promo.Code, error) {
	if promo.Normalize(code) == "" || !typ.Valid() || value <= 0 || maxUses < 0 {
		return nil, ErrInvalidPromo
	}

	c := &promo.Code{
		Entity:    types.NewEntity(),
		ID:        id.NewPromoID(),
		Code:      promo.Normalize(code),
		Type:      typ,
		Value:     value,
		MaxUses:   maxUses,
		ExpiresAt: expiresAt,
	}
	if err := e.store.CreatePromo(ctx, c); err != nil {
		return nil, err
	}

	e.logger.Info("promo created", "code", c.Code, "type", c.Type, "value", c.Value, "max_uses", c.MaxUses)
	return c, nil
}

// ListPromoCodes returns all promo codes.
func (e *Engine) ListPromoCodes(ctx context.Context) ([]*promo.Code, error) {
	return e.store.ListPromos(ctx)
}

// RedeemPromo validates and applies a promo code for a user.
//
// The validation chain short-circuits on the first failure: unknown
// code, expired, exhausted, already used by this user. On success the
// usage row is claimed first, then the global counter is bumped, then
// the grant is applied. Losing the counter race after claiming rolls
// the claim back, so the user can still redeem a different code and
// the failed attempt leaves no trace.
func (e *Engine) RedeemPromo(ctx context.Context, userID int64, codeText string) (*promo.Outcome, error) {
	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	c, err := e.store.GetPromo(ctx, codeText)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	if c.Expired(now) {
		return nil, ErrPromoExpired
	}
	if c.Exhausted() {
		return nil, ErrPromoExhausted
	}

	r := &promo.Redemption{
		ID:         id.NewRedemptionID(),
		UserID:     userID,
		PromoID:    c.ID,
		RedeemedAt: now,
	}
	if err := e.store.ClaimRedemption(ctx, r); err != nil {
		return nil, err
	}

	// The pre-check above is advisory; this increment is the
	// authoritative budget gate under concurrency.
	if err := e.store.IncrementPromoUses(ctx, c.ID); err != nil {
		if relErr := e.store.ReleaseRedemption(ctx, r.ID); relErr != nil {
			e.logger.Warn("redemption rollback failed", "redemption_id", r.ID, "error", relErr)
		}
		return nil, err
	}

	outcome := &promo.Outcome{Code: c.Code, Type: c.Type, Value: c.Value}
	switch c.Type {
	case promo.TypeSubscriptionDays:
		u, err := e.store.ExtendSubscription(ctx, userID, "", int(c.Value), now)
		if err != nil {
			return nil, e.rollbackRedemption(ctx, r, err)
		}
		outcome.SubscriptionEnd = u.SubscriptionEnd
		e.plugins.EmitSubscriptionExtended(ctx, userID, u.Tier, *u.SubscriptionEnd)

	case promo.TypeBalanceAdd:
		balance, err := e.store.AddCredit(ctx, userID, c.Value)
		if err != nil {
			return nil, e.rollbackRedemption(ctx, r, err)
		}
		outcome.NewBalance = &balance
		e.plugins.EmitCreditGranted(ctx, userID, c.Value, balance)

	default:
		return nil, e.rollbackRedemption(ctx, r, ErrInvalidPromo)
	}

	e.logger.Info("promo redeemed", "user_id", userID, "code", c.Code, "type", c.Type)
	e.plugins.EmitPromoRedeemed(ctx, userID, outcome)
	return outcome, nil
}

// rollbackRedemption releases a claimed usage row after a failed
// grant. The global uses counter stays bumped; that slack is accepted
// over double grants.
func (e *Engine) rollbackRedemption(ctx context.Context, r *promo.Redemption, cause error) error {
	if err := e.store.ReleaseRedemption(ctx, r.ID); err != nil {
		e.logger.Warn("redemption rollback failed", "redemption_id", r.ID, "error", err)
	}
	return cause
}

// ──────────────────────────────────────────────────
// Grants & Administration
// ──────────────────────────────────────────────────

// GrantSubscription marks the user paid on the given tier and pushes
// the subscription end forward by days, stacking on an unexpired
// subscription.
func (e *Engine) GrantSubscription(ctx context.Context, userID int64, t tier.Tier, days int) (*user.User, error) {
	if !t.Valid() || t == tier.Free || days <= 0 {
		return nil, ErrInvalidInput
	}
	u, err := e.store.ExtendSubscription(ctx, userID, t, days, e.clock.Now())
	if err != nil {
		return nil, err
	}
	e.plugins.EmitSubscriptionExtended(ctx, userID, u.Tier, *u.SubscriptionEnd)
	return u, nil
}

// SetAdmin toggles admin standing for a user.
func (e *Engine) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	return e.store.SetAdmin(ctx, userID, admin)
}

// Stats returns aggregate counts across all users.
func (e *Engine) Stats(ctx context.Context) (*user.Stats, error) {
	return e.store.UserStats(ctx, e.clock.Now())
}
