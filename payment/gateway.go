package payment

import "context"

// Gateway lists succeeded payments from the external provider. The
// reconciler treats the gateway as the source of truth and never
// writes back to it; deduplication happens entirely on our side, so
// re-listing the same payments across cycles is expected and safe.
type Gateway interface {
	// ListSucceeded returns up to limit succeeded payments, newest
	// first. Transactions whose metadata cannot be mapped to a user
	// and product should be omitted by the implementation.
	ListSucceeded(ctx context.Context, limit int) ([]*Transaction, error)
}

// Notifier is told about each newly applied payment, after the grant
// has committed. Notification failures are logged and dropped; they
// never roll back a grant.
type Notifier interface {
	PaymentApplied(ctx context.Context, tx *Transaction) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, tx *Transaction) error

func (f NotifierFunc) PaymentApplied(ctx context.Context, tx *Transaction) error {
	return f(ctx, tx)
}
