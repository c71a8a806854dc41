package entitle

import (
	"context"
	"errors"
	"fmt"

	"github.com/vetsage/entitle/payment"
	"github.com/vetsage/entitle/types"
)

// reconcileWorker polls the gateway on a fixed interval until Stop.
func (e *Engine) reconcileWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := e.clock.Ticker(e.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := e.Reconcile(ctx); err != nil {
				e.logger.Error("reconcile cycle failed", "error", err)
			}
		}
	}
}

// Reconcile runs one reconciliation cycle: list succeeded payments
// from the gateway and apply each unclaimed one. Returns how many
// payments were applied and how many were skipped as already claimed.
//
// The cycle is safe to run concurrently with itself and to repeat over
// the same gateway page: the claim insert deduplicates, so every
// payment is applied exactly once no matter how often it is seen.
func (e *Engine) Reconcile(ctx context.Context) (applied, skipped int, err error) {
	start := e.clock.Now()

	txs, err := e.gateway.ListSucceeded(ctx, e.reconcilePageSize)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrGatewayFetch, err)
		e.plugins.EmitReconcileError(ctx, wrapped)
		return 0, 0, wrapped
	}

	for _, tx := range txs {
		ok, perr := e.applyPayment(ctx, tx)
		if perr != nil {
			// One bad payment must not starve the rest of the page.
			e.logger.Error("payment apply failed", "payment_id", tx.ID, "user_id", tx.UserID, "error", perr)
			e.plugins.EmitReconcileError(ctx, perr)
			continue
		}
		if ok {
			applied++
		} else {
			skipped++
		}
	}

	elapsed := e.clock.Now().Sub(start)
	e.plugins.EmitReconcileCycle(ctx, applied, skipped, elapsed)
	e.logger.Debug("reconcile cycle complete",
		"fetched", len(txs),
		"applied", applied,
		"skipped", skipped,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return applied, skipped, nil
}

// applyPayment claims one gateway payment and applies its grant.
// Returns false when the payment was already claimed. The claim insert
// comes first: once it commits, a crash before the grant loses that
// grant rather than risking it twice, and the failure is surfaced for
// manual replay.
func (e *Engine) applyPayment(ctx context.Context, tx *payment.Transaction) (bool, error) {
	if !tx.Product.Valid() {
		return false, fmt.Errorf("%w: %q on payment %s", ErrUnknownProduct, tx.Product, tx.ID)
	}

	// Payments can arrive for users who have never messaged us, e.g.
	// a purchase completed after a reinstall.
	if _, _, err := e.store.EnsureUser(ctx, tx.UserID, "", nil); err != nil {
		return false, err
	}

	now := e.clock.Now()
	claim := &payment.Claim{
		Entity:    types.NewEntity(),
		PaymentID: tx.ID,
		UserID:    tx.UserID,
		Product:   tx.Product,
		Amount:    tx.Amount,
		ClaimedAt: now,
	}
	if err := e.store.ClaimPayment(ctx, claim); err != nil {
		if errors.Is(err, ErrPaymentClaimed) {
			return false, nil
		}
		return false, err
	}

	if t, ok := tx.Product.Tier(); ok {
		u, err := e.store.ExtendSubscription(ctx, tx.UserID, t, payment.SubscriptionDays, now)
		if err != nil {
			return false, err
		}
		e.plugins.EmitSubscriptionExtended(ctx, tx.UserID, u.Tier, *u.SubscriptionEnd)
	} else {
		balance, err := e.store.AddCredit(ctx, tx.UserID, 1)
		if err != nil {
			return false, err
		}
		if err := e.store.MarkOneTimePurchase(ctx, tx.UserID, now); err != nil {
			return false, err
		}
		e.plugins.EmitCreditGranted(ctx, tx.UserID, 1, balance)
	}

	e.logger.Info("payment applied",
		"payment_id", tx.ID,
		"user_id", tx.UserID,
		"product", tx.Product,
		"amount", tx.Amount.String(),
	)
	e.plugins.EmitPaymentApplied(ctx, tx)

	if e.notifier != nil {
		if err := e.notifier.PaymentApplied(ctx, tx); err != nil {
			// Notification is best effort; the grant already committed.
			e.logger.Warn("payment notification failed", "payment_id", tx.ID, "error", err)
		}
	}
	return true, nil
}
