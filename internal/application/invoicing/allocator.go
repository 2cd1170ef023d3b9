package invoicing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/facturante/backend/internal/domain/invoicing"
	"github.com/facturante/backend/internal/domain/shared"
)

// SequenceAllocator assigns gap-free voucher numbers within a sales point.
// It must run inside a transaction scope: the advisory lock it takes is
// released at commit or rollback, which is what serializes two concurrent
// allocations for the same (tenant, sales point).
type SequenceAllocator struct{}

// NewSequenceAllocator creates a new SequenceAllocator
func NewSequenceAllocator() *SequenceAllocator {
	return &SequenceAllocator{}
}

// LockKey derives a 31-bit positive lock key from tenant and sales point.
// Collisions between distinct (tenant, sales point) pairs only cost extra
// serialization, never correctness, so a simple rolling hash suffices.
func LockKey(tenantID uuid.UUID, pointOfSale int) int64 {
	var h uint32
	for _, b := range []byte(fmt.Sprintf("%s:%d", tenantID, pointOfSale)) {
		h = h*31 + uint32(b)
	}
	return int64(h & 0x7FFFFFFF)
}

// NextNumber allocates the next voucher number for the sales point inside
// the caller's transaction. With managed numbering the counter row advances
// atomically; otherwise the highest recorded number plus one is used, so
// numbering continues seamlessly from pre-existing data.
func (a *SequenceAllocator) NextNumber(ctx context.Context, repos invoicing.TransactionalRepositories, tenantID uuid.UUID, voucherType invoicing.VoucherType, pointOfSale int, managed bool) (string, error) {
	if pointOfSale < invoicing.MinPointOfSale || pointOfSale > invoicing.MaxPointOfSale {
		return "", shared.NewDomainError("INVALID_INPUT", "Point of sale out of range")
	}

	if err := repos.AdvisoryLock(ctx, LockKey(tenantID, pointOfSale)); err != nil {
		return "", err
	}

	var next int64
	if managed {
		value, err := repos.Sequences().NextValue(ctx, tenantID, voucherType, pointOfSale)
		if err != nil {
			return "", err
		}
		next = value
	} else {
		highest, err := repos.Vouchers().HighestNumber(ctx, tenantID, voucherType, pointOfSale)
		if err != nil {
			return "", err
		}
		if highest == "" {
			next = invoicing.MinSequence
		} else {
			sequence, err := invoicing.ParseSequence(highest)
			if err != nil {
				return "", err
			}
			next = sequence + 1
		}
	}

	if next > invoicing.MaxSequence {
		return "", shared.NewDomainError("SEQUENCE_EXHAUSTED", "Sales point has exhausted its number range")
	}
	return invoicing.FormatNumber(pointOfSale, next), nil
}
