package invoicing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facturante/backend/internal/domain/invoicing"
	"github.com/facturante/backend/internal/infrastructure/logger"
)

// TicketService manages the per-connection access ticket cache. It is the
// only component that writes the ticket fields of a fiscal connection.
//
// The cache is read-checked-then-written without a lock: two callers racing
// past an expired ticket both log in, and the last successful write wins.
// The login operation tolerates this, so the race is benign.
type TicketService struct {
	connRepo invoicing.ConnectionRepository
	login    invoicing.LoginGateway
	logger   *zap.Logger
	now      func() time.Time
}

// NewTicketService creates a new TicketService
func NewTicketService(connRepo invoicing.ConnectionRepository, login invoicing.LoginGateway, logger *zap.Logger) *TicketService {
	return &TicketService{
		connRepo: connRepo,
		login:    login,
		logger:   logger,
		now:      time.Now,
	}
}

// log returns the service logger enriched with the request-scoped fields
// carried in ctx.
func (s *TicketService) log(ctx context.Context) *logger.ContextLogger {
	return logger.WithLogger(ctx, s.logger)
}

// GetTicket returns a usable access ticket for the connection, refreshing
// it through the login service when the cached one is absent or inside the
// safety margin.
func (s *TicketService) GetTicket(ctx context.Context, tenantID, connectionID uuid.UUID) (invoicing.AccessTicket, error) {
	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return invoicing.AccessTicket{}, err
	}
	return s.EnsureTicket(ctx, conn)
}

// EnsureTicket returns the connection's cached ticket when still usable, or
// performs a fresh login and writes the new ticket back.
func (s *TicketService) EnsureTicket(ctx context.Context, conn *invoicing.FiscalConnection) (invoicing.AccessTicket, error) {
	if ticket, ok := conn.Ticket(s.now()); ok {
		return ticket, nil
	}

	ticket, err := s.login.Login(ctx, conn)
	if err != nil {
		return invoicing.AccessTicket{}, err
	}

	conn.CacheTicket(ticket)
	if err := s.connRepo.UpdateTicket(ctx, conn.ID, ticket); err != nil {
		// The ticket itself is valid; a failed cache write only costs an
		// extra login on the next call.
		s.log(ctx).Warn("failed to persist refreshed access ticket",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err))
	}
	return ticket, nil
}

// InvalidateTicket clears the cached ticket unconditionally. Operators use
// it after an authority-side "already authenticated" conflict.
func (s *TicketService) InvalidateTicket(ctx context.Context, tenantID, connectionID uuid.UUID) error {
	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return err
	}
	if err := s.connRepo.ClearTicket(ctx, conn.ID); err != nil {
		return err
	}
	s.log(ctx).Info("access ticket invalidated",
		zap.String("connection_id", connectionID.String()))
	return nil
}
