package invoicing

import (
	"context"

	"github.com/facturante/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ConnectionRepository persists fiscal connections. The ticket cache fields
// are only ever written through UpdateTicket and ClearTicket so the rest of
// the record cannot be clobbered by a concurrent refresh.
type ConnectionRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*FiscalConnection, error)
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]FiscalConnection, error)
	Save(ctx context.Context, conn *FiscalConnection) error
	// UpdateTicket writes only the cached-ticket columns
	UpdateTicket(ctx context.Context, id uuid.UUID, ticket AccessTicket) error
	// ClearTicket nulls the cached-ticket columns
	ClearTicket(ctx context.Context, id uuid.UUID) error
}

// VoucherRepository persists vouchers and answers the highest-existing-number
// scan the allocator depends on.
type VoucherRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Voucher, error)
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]Voucher, error)
	CountForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (int64, error)
	// HighestNumber returns the highest voucher number recorded for the
	// sales point, matched by formatted prefix; empty string when none.
	HighestNumber(ctx context.Context, tenantID uuid.UUID, voucherType VoucherType, pointOfSale int) (string, error)
	Save(ctx context.Context, voucher *Voucher) error
}

// SequenceRepository backs authority-managed numbering: one row per
// (tenant, voucher type, sales point) holding the next number to assign.
type SequenceRepository interface {
	// NextValue atomically increments the row and returns the new value,
	// creating the row at 1 when absent. Must run inside the caller's
	// transaction and advisory-lock scope.
	NextValue(ctx context.Context, tenantID uuid.UUID, voucherType VoucherType, pointOfSale int) (int64, error)
}

// TransactionScope runs a function inside one database transaction. Number
// allocation and the voucher insert must share a transaction so the advisory
// lock is held until commit.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories exposes the repositories bound to the scope's
// transaction, plus the advisory-lock primitive sequencing relies on.
type TransactionalRepositories interface {
	Vouchers() VoucherRepository
	Sequences() SequenceRepository
	// AdvisoryLock blocks until the transaction-scoped lock on key is held;
	// the lock releases with the enclosing transaction.
	AdvisoryLock(ctx context.Context, key int64) error
}
