package uow

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"stashworker/internal/errs"
	"stashworker/internal/ports"
)

// UnitOfWork implements ports.UnitOfWork with gorm. A call made with a
// context that already carries a transaction joins it through a savepoint.
type UnitOfWork struct {
	db *gorm.DB
}

var _ ports.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	base := u.db
	if outer, ok := ports.TxFromContext(ctx).(*gorm.DB); ok && outer != nil {
		base = outer
	}
	return base.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ports.WithTxContext(ctx, tx))
	})
}
