package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/facturante/backend/internal/domain/invoicing"
	"github.com/facturante/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormConnectionRepository implements ConnectionRepository using GORM
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GormConnectionRepository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

// FindByIDForTenant finds a fiscal connection by ID within a tenant
func (r *GormConnectionRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*invoicing.FiscalConnection, error) {
	var conn invoicing.FiscalConnection
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&conn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// FindAllForTenant finds all fiscal connections for a tenant, ordered by
// the whitelisted sort field in the filter
func (r *GormConnectionRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]invoicing.FiscalConnection, error) {
	orderBy := ValidateSortField(filter.OrderBy, ConnectionSortFields, "name")
	orderDir := ValidateSortOrder(filter.OrderDir)

	var conns []invoicing.FiscalConnection
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order(orderBy + " " + orderDir).
		Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// Save creates or updates a fiscal connection
func (r *GormConnectionRepository) Save(ctx context.Context, conn *invoicing.FiscalConnection) error {
	return r.db.WithContext(ctx).Save(conn).Error
}

// UpdateTicket writes only the cached-ticket columns. A full-record save here
// could race a concurrent edit of the connection's credentials.
func (r *GormConnectionRepository) UpdateTicket(ctx context.Context, id uuid.UUID, ticket invoicing.AccessTicket) error {
	result := r.db.WithContext(ctx).
		Model(&invoicing.FiscalConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ticket_token":      ticket.Token,
			"ticket_sign":       ticket.Sign,
			"ticket_expires_at": ticket.ExpiresAt,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ClearTicket nulls the cached-ticket columns
func (r *GormConnectionRepository) ClearTicket(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&invoicing.FiscalConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ticket_token":      "",
			"ticket_sign":       "",
			"ticket_expires_at": nil,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Ensure GormConnectionRepository implements ConnectionRepository
var _ invoicing.ConnectionRepository = (*GormConnectionRepository)(nil)
