package persistence

import (
	"context"

	"github.com/facturante/backend/internal/domain/invoicing"
	"gorm.io/gorm"
)

// GormVoucherTransactionScope implements invoicing.TransactionScope using
// GORM transactions. Number allocation and the voucher insert run through it
// so both commit or roll back together, and the advisory lock taken inside
// releases exactly at transaction end.
type GormVoucherTransactionScope struct {
	db *gorm.DB
}

// NewGormVoucherTransactionScope creates a new GormVoucherTransactionScope
func NewGormVoucherTransactionScope(db *gorm.DB) *GormVoucherTransactionScope {
	return &GormVoucherTransactionScope{db: db}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
func (s *GormVoucherTransactionScope) Execute(ctx context.Context, fn func(repos invoicing.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := &gormVoucherTransactionalRepositories{tx: tx}
		return fn(repos)
	})
}

// gormVoucherTransactionalRepositories binds the repositories to one transaction
type gormVoucherTransactionalRepositories struct {
	tx *gorm.DB
}

// Vouchers returns the voucher repository scoped to the current transaction
func (r *gormVoucherTransactionalRepositories) Vouchers() invoicing.VoucherRepository {
	return NewGormVoucherRepository(r.tx)
}

// Sequences returns the sequence repository scoped to the current transaction
func (r *gormVoucherTransactionalRepositories) Sequences() invoicing.SequenceRepository {
	return NewGormSequenceRepository(r.tx)
}

// AdvisoryLock blocks until the transaction-scoped lock on key is held.
// pg_advisory_xact_lock releases automatically at commit or rollback, so
// there is no unlock counterpart.
func (r *gormVoucherTransactionalRepositories) AdvisoryLock(ctx context.Context, key int64) error {
	return r.tx.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", key).Error
}

// Ensure GormVoucherTransactionScope implements TransactionScope
var _ invoicing.TransactionScope = (*GormVoucherTransactionScope)(nil)

// Ensure gormVoucherTransactionalRepositories implements TransactionalRepositories
var _ invoicing.TransactionalRepositories = (*gormVoucherTransactionalRepositories)(nil)
