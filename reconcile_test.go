package entitle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vetsage/entitle"
	"github.com/vetsage/entitle/payment"
	"github.com/vetsage/entitle/tier"
	"github.com/vetsage/entitle/types"
	"github.com/vetsage/entitle/user"
)

type fakeGateway struct {
	mu  sync.Mutex
	txs []*payment.Transaction
	err error
}

func (g *fakeGateway) ListSucceeded(_ context.Context, limit int) ([]*payment.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	if len(g.txs) > limit {
		return g.txs[:limit], nil
	}
	return g.txs, nil
}

func (g *fakeGateway) add(tx *payment.Transaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.txs = append(g.txs, tx)
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []string
	fail bool
}

func (n *recordingNotifier) PaymentApplied(_ context.Context, tx *payment.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("chat unreachable")
	}
	n.seen = append(n.seen, tx.ID)
	return nil
}

func TestReconcileAppliesSubscription(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	notifier := &recordingNotifier{}
	eng, mock := newTestEngine(t, entitle.WithGateway(gw), entitle.WithNotifier(notifier))

	if _, err := eng.Register(ctx, 1, "alice", nil); err != nil {
		t.Fatal(err)
	}
	gw.add(&payment.Transaction{
		ID:      "yk-0001",
		UserID:  1,
		Product: payment.ProductPro,
		Amount:  types.RUB(49000),
	})

	applied, skipped, err := eng.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 1 || skipped != 0 {
		t.Errorf("applied=%d skipped=%d, want 1 0", applied, skipped)
	}

	u, err := eng.GetUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if u.Status != user.StatusPaid || u.Tier != "pro" {
		t.Errorf("status=%s tier=%s, want paid pro", u.Status, u.Tier)
	}
	want := mock.Now().Add(payment.SubscriptionDays * 24 * time.Hour)
	if u.SubscriptionEnd == nil || !u.SubscriptionEnd.Equal(want) {
		t.Errorf("SubscriptionEnd = %v, want %v", u.SubscriptionEnd, want)
	}
	if len(notifier.seen) != 1 || notifier.seen[0] != "yk-0001" {
		t.Errorf("notified = %v, want [yk-0001]", notifier.seen)
	}
}

func TestReconcileDuplicatePaymentGrantsOnce(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	eng, _ := newTestEngine(t, entitle.WithGateway(gw))

	if _, err := eng.Register(ctx, 1, "alice", nil); err != nil {
		t.Fatal(err)
	}
	gw.add(&payment.Transaction{ID: "yk-0002", UserID: 1, Product: payment.ProductPlus, Amount: types.RUB(29900)})

	if _, _, err := eng.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	first, err := eng.GetUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}

	// The gateway reports the same payment again on the next cycle.
	applied, skipped, err := eng.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 0 || skipped != 1 {
		t.Errorf("applied=%d skipped=%d, want 0 1", applied, skipped)
	}

	second, err := eng.GetUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !second.SubscriptionEnd.Equal(*first.SubscriptionEnd) {
		t.Errorf("subscription extended twice: %v then %v", first.SubscriptionEnd, second.SubscriptionEnd)
	}
}

func TestReconcileOneTimePurchase(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	eng, mock := newTestEngine(t, entitle.WithGateway(gw))

	if _, err := eng.Register(ctx, 1, "alice", nil); err != nil {
		t.Fatal(err)
	}
	gw.add(&payment.Transaction{ID: "yk-0003", UserID: 1, Product: payment.ProductOneTime, Amount: types.RUB(9900)})

	if _, _, err := eng.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	u, err := eng.GetUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if u.CreditBalance != 1 {
		t.Errorf("CreditBalance = %d, want 1", u.CreditBalance)
	}
	if u.Status != user.StatusFree {
		t.Errorf("one-time purchase should not mark paid, got %s", u.Status)
	}
	if u.LastOneTimePurchase == nil || !u.LastOneTimePurchase.Equal(mock.Now()) {
		t.Errorf("LastOneTimePurchase = %v, want %v", u.LastOneTimePurchase, mock.Now())
	}

	// The booster elevates model selection but not quota accounting.
	eff, err := eng.ResolveTier(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if eff.Tier != tier.Pro || eff.QuotaTier != tier.Free || eff.Source != tier.SourceBooster {
		t.Errorf("effective = %+v, want pro booster with free quota", eff)
	}
}

func TestReconcileCreatesUnknownUser(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	eng, _ := newTestEngine(t, entitle.WithGateway(gw))

	gw.add(&payment.Transaction{ID: "yk-0004", UserID: 777, Product: payment.ProductPlus, Amount: types.RUB(29900)})

	if _, _, err := eng.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	u, err := eng.GetUser(ctx, 777)
	if err != nil {
		t.Fatal(err)
	}
	if u.Status != user.StatusPaid {
		t.Errorf("Status = %s, want paid", u.Status)
	}
}

func TestReconcileSkipsBadProduct(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	eng, _ := newTestEngine(t, entitle.WithGateway(gw))

	if _, err := eng.Register(ctx, 1, "alice", nil); err != nil {
		t.Fatal(err)
	}
	gw.add(&payment.Transaction{ID: "yk-bad", UserID: 1, Product: payment.Product("lifetime"), Amount: types.RUB(100)})
	gw.add(&payment.Transaction{ID: "yk-good", UserID: 1, Product: payment.ProductOneTime, Amount: types.RUB(9900)})

	applied, _, err := eng.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1; bad product must not starve the page", applied)
	}
}

func TestReconcileGatewayError(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{err: errors.New("http 502")}
	eng, _ := newTestEngine(t, entitle.WithGateway(gw))

	if _, _, err := eng.Reconcile(ctx); !errors.Is(err, entitle.ErrGatewayFetch) {
		t.Errorf("err = %v, want ErrGatewayFetch", err)
	}
}

func TestReconcileNotifierFailureKeepsGrant(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	notifier := &recordingNotifier{fail: true}
	eng, _ := newTestEngine(t, entitle.WithGateway(gw), entitle.WithNotifier(notifier))

	if _, err := eng.Register(ctx, 1, "alice", nil); err != nil {
		t.Fatal(err)
	}
	gw.add(&payment.Transaction{ID: "yk-0005", UserID: 1, Product: payment.ProductPlus, Amount: types.RUB(29900)})

	applied, _, err := eng.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1 despite notifier failure", applied)
	}
	u, _ := eng.GetUser(ctx, 1)
	if u.Status != user.StatusPaid {
		t.Errorf("grant should survive notifier failure, status = %s", u.Status)
	}
}

func TestReconcileWorkerTicks(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	eng, mock := newTestEngine(t, entitle.WithGateway(gw), entitle.WithReconcileConfig(time.Minute, 50))

	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Register(ctx, 1, "alice", nil); err != nil {
		t.Fatal(err)
	}
	gw.add(&payment.Transaction{ID: "yk-0006", UserID: 1, Product: payment.ProductPro, Amount: types.RUB(49000)})

	mock.Add(time.Minute)

	// The mock ticker fires synchronously on Add, but the worker
	// applies the payment on its own goroutine.
	deadline := time.After(2 * time.Second)
	for {
		u, err := eng.GetUser(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if u.Status == user.StatusPaid {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker never applied the payment")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := eng.Stop(); err != nil {
		t.Fatal(err)
	}
}
