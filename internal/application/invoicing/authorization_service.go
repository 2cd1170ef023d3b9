package invoicing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facturante/backend/internal/domain/invoicing"
	"github.com/facturante/backend/internal/domain/shared"
	"github.com/facturante/backend/internal/infrastructure/logger"
)

// AuthorizationService orchestrates voucher creation: number allocation,
// the pre-authorization counter check against the authority, the CAE
// request, and the per-attempt status bookkeeping.
type AuthorizationService struct {
	connRepo    invoicing.ConnectionRepository
	voucherRepo invoicing.VoucherRepository
	txScope     invoicing.TransactionScope
	allocator   *SequenceAllocator
	tickets     *TicketService
	gateway     invoicing.InvoiceGateway
	logger      *zap.Logger
}

// NewAuthorizationService creates a new AuthorizationService
func NewAuthorizationService(
	connRepo invoicing.ConnectionRepository,
	voucherRepo invoicing.VoucherRepository,
	txScope invoicing.TransactionScope,
	allocator *SequenceAllocator,
	tickets *TicketService,
	gateway invoicing.InvoiceGateway,
	logger *zap.Logger,
) *AuthorizationService {
	return &AuthorizationService{
		connRepo:    connRepo,
		voucherRepo: voucherRepo,
		txScope:     txScope,
		allocator:   allocator,
		tickets:     tickets,
		gateway:     gateway,
		logger:      logger,
	}
}

// log returns the service logger enriched with the request-scoped fields
// carried in ctx.
func (s *AuthorizationService) log(ctx context.Context) *logger.ContextLogger {
	return logger.WithLogger(ctx, s.logger)
}

// CreateVoucher allocates a number, persists the voucher and, for types that
// require it, requests a CAE from the authority.
//
// The number allocation, counter check and insert share one transaction: a
// sequence conflict rolls everything back, so no number is burned by a
// blocked attempt. The CAE request runs after commit; its failure marks the
// voucher instead of undoing it, and the committed number is reused on retry.
func (s *AuthorizationService) CreateVoucher(ctx context.Context, tenantID uuid.UUID, req CreateVoucherRequest) (*VoucherResponse, error) {
	voucherType := invoicing.VoucherType(req.Type)
	if !voucherType.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", "Invalid voucher type")
	}

	needsCAE := voucherType.RequiresAuthorization() && !req.ForceWithoutCAE

	var conn *invoicing.FiscalConnection
	var ticket invoicing.AccessTicket
	if needsCAE {
		if req.ConnectionID == nil {
			return nil, invoicing.NewConfigurationError("Voucher type requires authorization but no fiscal connection was given")
		}
		var err error
		conn, err = s.connRepo.FindByIDForTenant(ctx, tenantID, *req.ConnectionID)
		if err != nil {
			return nil, err
		}
		ticket, err = s.tickets.EnsureTicket(ctx, conn)
		if err != nil {
			return nil, err
		}
	} else if req.ConnectionID != nil {
		var err error
		conn, err = s.connRepo.FindByIDForTenant(ctx, tenantID, *req.ConnectionID)
		if err != nil {
			return nil, err
		}
	}

	var voucher *invoicing.Voucher
	err := s.txScope.Execute(ctx, func(repos invoicing.TransactionalRepositories) error {
		managed := conn != nil && conn.ManagedNumbering
		number, err := s.allocator.NextNumber(ctx, repos, tenantID, voucherType, req.PointOfSale, managed)
		if err != nil {
			return err
		}

		if needsCAE {
			sequence, err := invoicing.ParseSequence(number)
			if err != nil {
				return err
			}
			state, authorityLast, err := s.compareCounters(ctx, conn, ticket, voucherType, req.PointOfSale, sequence)
			if err != nil {
				return err
			}
			if state == StateOutOfSync {
				return &invoicing.SequenceConflictError{LocalNext: sequence, AuthorityLast: authorityLast}
			}
		}

		voucher, err = invoicing.NewVoucher(tenantID, voucherType, req.PointOfSale, number)
		if err != nil {
			return err
		}
		if conn != nil {
			id := conn.ID
			voucher.ConnectionID = &id
		}
		if err := s.applyRequest(voucher, req); err != nil {
			return err
		}
		if req.ForceWithoutCAE && voucherType.RequiresAuthorization() {
			voucher.MarkSkipped()
		}
		return repos.Vouchers().Save(ctx, voucher)
	})
	if err != nil {
		return nil, err
	}

	if needsCAE {
		s.authorize(ctx, conn, ticket, voucher)
	}

	response := ToVoucherResponse(voucher)
	return &response, nil
}

// RetryAuthorization re-requests a CAE for a voucher whose previous attempt
// did not reach a definitive outcome. The committed number is reused; the
// authority rejects a different number for an already-reserved position.
// With force set the voucher is instead marked skipped without any call.
func (s *AuthorizationService) RetryAuthorization(ctx context.Context, tenantID, voucherID uuid.UUID, force bool) (*VoucherResponse, error) {
	voucher, err := s.voucherRepo.FindByIDForTenant(ctx, tenantID, voucherID)
	if err != nil {
		return nil, err
	}
	if !voucher.Type.RequiresAuthorization() {
		return nil, shared.NewDomainError("INVALID_STATE", "Voucher type does not require authorization")
	}
	if !voucher.Retryable() {
		return nil, shared.NewDomainError("INVALID_STATE", "Voucher is not in a retryable state")
	}

	if force {
		voucher.MarkSkipped()
		if err := s.voucherRepo.Save(ctx, voucher); err != nil {
			return nil, err
		}
		response := ToVoucherResponse(voucher)
		return &response, nil
	}

	if voucher.ConnectionID == nil {
		return nil, invoicing.NewConfigurationError("Voucher has no fiscal connection to authorize against")
	}
	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, *voucher.ConnectionID)
	if err != nil {
		return nil, err
	}
	ticket, err := s.tickets.EnsureTicket(ctx, conn)
	if err != nil {
		return nil, err
	}

	s.authorize(ctx, conn, ticket, voucher)
	response := ToVoucherResponse(voucher)
	return &response, nil
}

// Reconcile reports how the local counter relates to the authority's for a
// (connection, voucher type, sales point) triple. Diagnostic only; the same
// comparison gates voucher creation.
func (s *AuthorizationService) Reconcile(ctx context.Context, tenantID, connectionID uuid.UUID, voucherType invoicing.VoucherType, pointOfSale int) (*ReconcileResult, error) {
	if !voucherType.RequiresAuthorization() {
		return nil, shared.NewDomainError("INVALID_INPUT", "Voucher type has no authority counter")
	}
	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	ticket, err := s.tickets.EnsureTicket(ctx, conn)
	if err != nil {
		return nil, err
	}

	localNext := int64(invoicing.MinSequence)
	highest, err := s.voucherRepo.HighestNumber(ctx, tenantID, voucherType, pointOfSale)
	if err != nil {
		return nil, err
	}
	if highest != "" {
		sequence, err := invoicing.ParseSequence(highest)
		if err != nil {
			return nil, err
		}
		localNext = sequence + 1
	}

	state, authorityLast, err := s.compareCounters(ctx, conn, ticket, voucherType, pointOfSale, localNext)
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{State: state, LocalNext: localNext, AuthorityLast: authorityLast}, nil
}

// CheckService queries the authority's health endpoint for diagnostics
func (s *AuthorizationService) CheckService(ctx context.Context, tenantID, connectionID uuid.UUID) (*ServiceStatusResponse, error) {
	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	status, err := s.gateway.CheckService(ctx, conn)
	if err != nil {
		return nil, err
	}
	return &ServiceStatusResponse{
		AppServer:  status.AppServer,
		DbServer:   status.DbServer,
		AuthServer: status.AuthServer,
		Healthy:    status.Healthy(),
	}, nil
}

// GetByID retrieves a voucher by ID
func (s *AuthorizationService) GetByID(ctx context.Context, tenantID, voucherID uuid.UUID) (*VoucherResponse, error) {
	voucher, err := s.voucherRepo.FindByIDForTenant(ctx, tenantID, voucherID)
	if err != nil {
		return nil, err
	}
	response := ToVoucherResponse(voucher)
	return &response, nil
}

// List retrieves vouchers for a tenant matching the filter
func (s *AuthorizationService) List(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (*VoucherListResponse, error) {
	vouchers, err := s.voucherRepo.FindAllForTenant(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.voucherRepo.CountForTenant(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}

	responses := make([]VoucherResponse, 0, len(vouchers))
	for i := range vouchers {
		responses = append(responses, ToVoucherResponse(&vouchers[i]))
	}
	return &VoucherListResponse{
		Vouchers: responses,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// compareCounters queries the authority's last authorized number and
// compares it with the local next number. A transport failure degrades to
// StateUnknown so invoicing can continue on local numbering; every other
// failure is surfaced.
func (s *AuthorizationService) compareCounters(ctx context.Context, conn *invoicing.FiscalConnection, ticket invoicing.AccessTicket, voucherType invoicing.VoucherType, pointOfSale int, localNext int64) (ReconcileState, int64, error) {
	authorityLast, err := s.gateway.LastAuthorized(ctx, conn, ticket, voucherType, pointOfSale)
	if err != nil {
		var authErr *invoicing.AuthorizationError
		if errors.As(err, &authErr) && authErr.Retryable() {
			s.log(ctx).Warn("authority counter unavailable, proceeding on local numbering",
				zap.String("connection_id", conn.ID.String()),
				zap.Int("point_of_sale", pointOfSale),
				zap.String("kind", string(authErr.Kind)),
				zap.Error(err))
			return StateUnknown, 0, nil
		}
		return StateUnknown, 0, err
	}
	if authorityLast < localNext {
		return StateInSync, authorityLast, nil
	}
	return StateOutOfSync, authorityLast, nil
}

// authorize performs one CAE attempt and records its outcome on the voucher.
// The voucher is already committed; every path here only updates its status.
func (s *AuthorizationService) authorize(ctx context.Context, conn *invoicing.FiscalConnection, ticket invoicing.AccessTicket, voucher *invoicing.Voucher) {
	result, err := s.gateway.Authorize(ctx, conn, ticket, voucher)
	if err != nil {
		voucher.MarkError(err.Error())
		s.log(ctx).Error("voucher authorization attempt failed",
			zap.String("voucher_id", voucher.ID.String()),
			zap.String("number", voucher.Number),
			zap.Error(err))
	} else if result.Authorized {
		if markErr := voucher.MarkAuthorized(result.CAE, result.CAEExpiresAt); markErr != nil {
			voucher.MarkError(markErr.Error())
		} else {
			s.log(ctx).Info("voucher authorized",
				zap.String("voucher_id", voucher.ID.String()),
				zap.String("number", voucher.Number),
				zap.String("cae", result.CAE))
		}
	} else {
		voucher.MarkRejected(result.ObservationCode, result.ObservationMessage)
		s.log(ctx).Warn("voucher rejected by authority",
			zap.String("voucher_id", voucher.ID.String()),
			zap.String("number", voucher.Number),
			zap.Int("observation_code", result.ObservationCode),
			zap.String("observation", result.ObservationMessage))
	}

	if err := s.voucherRepo.Save(ctx, voucher); err != nil {
		s.log(ctx).Error("failed to persist authorization outcome",
			zap.String("voucher_id", voucher.ID.String()),
			zap.Error(err))
	}
}

// applyRequest copies the buyer and amount fields onto a fresh voucher
func (s *AuthorizationService) applyRequest(voucher *invoicing.Voucher, req CreateVoucherRequest) error {
	items := make([]invoicing.VoucherVATItem, 0, len(req.VATItems))
	for _, item := range req.VATItems {
		items = append(items, invoicing.VoucherVATItem{
			BaseEntity: shared.NewBaseEntity(),
			VoucherID:  voucher.ID,
			Rate:       invoicing.VATRate(item.Rate),
			BaseAmount: item.BaseAmount,
			TaxAmount:  item.TaxAmount,
		})
	}
	if err := voucher.SetAmounts(req.NetAmount, req.ExemptAmount, items); err != nil {
		return err
	}
	if req.BuyerDocType != 0 || req.BuyerDocNumber != "" || req.BuyerName != "" {
		docType := req.BuyerDocType
		if docType == 0 {
			docType = 99
		}
		voucher.SetBuyer(docType, req.BuyerDocNumber, req.BuyerName)
	}
	return nil
}
