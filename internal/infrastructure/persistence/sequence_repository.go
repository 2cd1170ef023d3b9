package persistence

import (
	"context"

	"github.com/facturante/backend/internal/domain/invoicing"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSequenceRepository implements SequenceRepository using GORM. The
// voucher_sequences table holds one counter row per (tenant, voucher type,
// sales point); the row is created lazily on first use.
type GormSequenceRepository struct {
	db *gorm.DB
}

// NewGormSequenceRepository creates a new GormSequenceRepository
func NewGormSequenceRepository(db *gorm.DB) *GormSequenceRepository {
	return &GormSequenceRepository{db: db}
}

// NextValue atomically increments the counter and returns the new value,
// creating the row at 1 when absent. The upsert keys on the unique
// (tenant_id, voucher_type, point_of_sale) index, so two concurrent callers
// can never observe the same value even without the advisory lock.
func (r *GormSequenceRepository) NextValue(ctx context.Context, tenantID uuid.UUID, voucherType invoicing.VoucherType, pointOfSale int) (int64, error) {
	var value int64
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO voucher_sequences (id, tenant_id, voucher_type, point_of_sale, next_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, NOW(), NOW())
		ON CONFLICT (tenant_id, voucher_type, point_of_sale)
		DO UPDATE SET next_value = voucher_sequences.next_value + 1, updated_at = NOW()
		RETURNING next_value`,
		uuid.New(), tenantID, voucherType, pointOfSale,
	).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Ensure GormSequenceRepository implements SequenceRepository
var _ invoicing.SequenceRepository = (*GormSequenceRepository)(nil)
