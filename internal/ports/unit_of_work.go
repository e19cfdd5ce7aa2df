package ports

import "context"

// Tx is the transaction handle the ledger adapter stores in a context.
// Only the adapter that created it knows its concrete type.
type Tx any

// UnitOfWork groups ledger writes that must land together, such as a run's
// final status and its last stage result. fn's error rolls the group back.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

func WithTxContext(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns nil outside a WithTx call.
func TxFromContext(ctx context.Context) Tx {
	return ctx.Value(txKey{})
}
