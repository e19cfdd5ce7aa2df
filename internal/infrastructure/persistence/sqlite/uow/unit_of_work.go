package uow

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/ports"
)

// UnitOfWork implements ports.UnitOfWork with gorm. A call made while ctx
// already carries a transaction joins it instead of opening a new one.
type UnitOfWork struct {
	db *gorm.DB
}

var _ ports.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ports.TxFromContext(ctx).(*gorm.DB); ok && tx != nil {
		return fn(ctx)
	}
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ports.WithTxContext(ctx, tx))
	})
	if err != nil {
		logging.Debug(ctx, "ledger transaction rolled back", slog.String("component", "persistence.uow"), slog.String("err", err.Error()))
	}
	return err
}
