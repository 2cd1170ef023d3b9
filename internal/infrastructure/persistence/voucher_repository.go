package persistence

import (
	"context"
	"errors"

	"github.com/facturante/backend/internal/domain/invoicing"
	"github.com/facturante/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormVoucherRepository implements VoucherRepository using GORM
type GormVoucherRepository struct {
	db *gorm.DB
}

// NewGormVoucherRepository creates a new GormVoucherRepository
func NewGormVoucherRepository(db *gorm.DB) *GormVoucherRepository {
	return &GormVoucherRepository{db: db}
}

// FindByIDForTenant finds a voucher by ID within a tenant
func (r *GormVoucherRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*invoicing.Voucher, error) {
	var voucher invoicing.Voucher
	if err := r.db.WithContext(ctx).
		Preload("VATItems").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&voucher).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &voucher, nil
}

// FindAllForTenant finds all vouchers for a tenant matching the filter
func (r *GormVoucherRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]invoicing.Voucher, error) {
	var vouchers []invoicing.Voucher
	query := r.applyFilter(
		r.db.WithContext(ctx).Model(&invoicing.Voucher{}).Where("tenant_id = ?", tenantID),
		filter,
	)
	if err := query.Preload("VATItems").Find(&vouchers).Error; err != nil {
		return nil, err
	}
	return vouchers, nil
}

// CountForTenant counts vouchers for a tenant matching the filter
func (r *GormVoucherRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&invoicing.Voucher{}).Where("tenant_id = ?", tenantID)
	query = r.applyFilterWithoutPagination(query, filter)

	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// HighestNumber returns the highest voucher number recorded for the voucher
// type and sales point, or an empty string when none exists. Numbers are
// zero-padded to a fixed width so lexicographic and numeric order agree.
func (r *GormVoucherRepository) HighestNumber(ctx context.Context, tenantID uuid.UUID, voucherType invoicing.VoucherType, pointOfSale int) (string, error) {
	var numbers []string
	if err := r.db.WithContext(ctx).
		Model(&invoicing.Voucher{}).
		Where("tenant_id = ? AND type = ? AND point_of_sale = ?", tenantID, voucherType, pointOfSale).
		Where("number LIKE ?", invoicing.PointOfSalePrefix(pointOfSale)+"%").
		Order("number DESC").
		Limit(1).
		Pluck("number", &numbers).Error; err != nil {
		return "", err
	}
	if len(numbers) == 0 {
		return "", nil
	}
	return numbers[0], nil
}

// Save creates or updates a voucher
func (r *GormVoucherRepository) Save(ctx context.Context, voucher *invoicing.Voucher) error {
	return r.db.WithContext(ctx).Save(voucher).Error
}

// applyFilter applies filter options to the query
func (r *GormVoucherRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	query = r.applyFilterWithoutPagination(query, filter)

	if filter.Page > 0 && filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	orderBy := ValidateSortField(filter.OrderBy, VoucherSortFields, "created_at")
	query = query.Order(orderBy + " " + ValidateSortOrder(filter.OrderDir))

	return query
}

// applyFilterWithoutPagination applies filter options without pagination
func (r *GormVoucherRepository) applyFilterWithoutPagination(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if filter.Search != "" {
		searchPattern := "%" + filter.Search + "%"
		query = query.Where("number ILIKE ? OR buyer_name ILIKE ? OR cae ILIKE ?",
			searchPattern, searchPattern, searchPattern)
	}

	for key, value := range filter.Filters {
		switch key {
		case "status":
			query = query.Where("status = ?", value)
		case "type":
			query = query.Where("type = ?", value)
		case "point_of_sale":
			query = query.Where("point_of_sale = ?", value)
		case "connection_id":
			query = query.Where("connection_id = ?", value)
		case "issued_after":
			query = query.Where("issue_date >= ?", value)
		case "issued_before":
			query = query.Where("issue_date <= ?", value)
		}
	}

	return query
}

// Ensure GormVoucherRepository implements VoucherRepository
var _ invoicing.VoucherRepository = (*GormVoucherRepository)(nil)
