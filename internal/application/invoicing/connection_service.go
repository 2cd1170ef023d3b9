package invoicing

import (
	"context"

	"github.com/google/uuid"

	"github.com/facturante/backend/internal/domain/invoicing"
	"github.com/facturante/backend/internal/domain/shared"
)

// ConnectionDefaults holds the platform-wide authority endpoints applied to
// connections created without explicit URLs. Per-tenant credentials always
// come with the request; only the endpoints have sensible global values.
type ConnectionDefaults struct {
	TimeoutSeconds       int
	SandboxAuthURL       string
	SandboxInvoiceURL    string
	ProductionAuthURL    string
	ProductionInvoiceURL string
}

func (d ConnectionDefaults) authURL(env invoicing.Environment) string {
	if env == invoicing.EnvironmentProduction {
		return d.ProductionAuthURL
	}
	return d.SandboxAuthURL
}

func (d ConnectionDefaults) invoiceURL(env invoicing.Environment) string {
	if env == invoicing.EnvironmentProduction {
		return d.ProductionInvoiceURL
	}
	return d.SandboxInvoiceURL
}

// ConnectionService manages a tenant's fiscal connections
type ConnectionService struct {
	connRepo invoicing.ConnectionRepository
	defaults ConnectionDefaults
}

// NewConnectionService creates a new ConnectionService
func NewConnectionService(connRepo invoicing.ConnectionRepository, defaults ConnectionDefaults) *ConnectionService {
	return &ConnectionService{connRepo: connRepo, defaults: defaults}
}

// Create creates a fiscal connection for a tenant
func (s *ConnectionService) Create(ctx context.Context, tenantID uuid.UUID, req CreateConnectionRequest) (*ConnectionResponse, error) {
	env := invoicing.Environment(req.Environment)
	authURL := req.AuthURL
	if authURL == "" {
		authURL = s.defaults.authURL(env)
	}
	invoiceURL := req.InvoiceURL
	if invoiceURL == "" {
		invoiceURL = s.defaults.invoiceURL(env)
	}

	conn, err := invoicing.NewFiscalConnection(tenantID, req.Name, env, req.TaxID, authURL, invoiceURL)
	if err != nil {
		return nil, err
	}
	conn.CertificatePEM = req.CertificatePEM
	conn.PrivateKeyPEM = req.PrivateKeyPEM
	switch {
	case req.TimeoutSeconds > 0:
		conn.TimeoutSeconds = req.TimeoutSeconds
	case s.defaults.TimeoutSeconds > 0:
		conn.TimeoutSeconds = s.defaults.TimeoutSeconds
	}

	if err := s.connRepo.Save(ctx, conn); err != nil {
		return nil, err
	}
	response := ToConnectionResponse(conn)
	return &response, nil
}

// GetByID retrieves a fiscal connection by ID
func (s *ConnectionService) GetByID(ctx context.Context, tenantID, connectionID uuid.UUID) (*ConnectionResponse, error) {
	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	response := ToConnectionResponse(conn)
	return &response, nil
}

// List retrieves all fiscal connections for a tenant. Connections are few
// per tenant, so the listing is unpaginated; sorting defaults to name
// ascending.
func (s *ConnectionService) List(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]ConnectionResponse, error) {
	if filter.OrderBy == "" {
		filter.OrderBy = "name"
	}
	if filter.OrderDir == "" {
		filter.OrderDir = "asc"
	}

	conns, err := s.connRepo.FindAllForTenant(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	responses := make([]ConnectionResponse, 0, len(conns))
	for i := range conns {
		responses = append(responses, ToConnectionResponse(&conns[i]))
	}
	return responses, nil
}

// Update applies partial changes to a fiscal connection. Replacing the
// credentials clears the cached ticket, since a ticket obtained with the
// old certificate is no longer meaningful.
func (s *ConnectionService) Update(ctx context.Context, tenantID, connectionID uuid.UUID, req UpdateConnectionRequest) (*ConnectionResponse, error) {
	conn, err := s.connRepo.FindByIDForTenant(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, shared.NewDomainError("INVALID_INPUT", "Connection name cannot be empty")
		}
		conn.Name = *req.Name
	}
	if req.Environment != nil {
		env := invoicing.Environment(*req.Environment)
		if !env.IsValid() {
			return nil, shared.NewDomainError("INVALID_INPUT", "Invalid environment")
		}
		conn.Environment = env
	}
	if req.TaxID != nil {
		if *req.TaxID == "" {
			return nil, shared.NewDomainError("INVALID_INPUT", "Tax ID cannot be empty")
		}
		conn.TaxID = *req.TaxID
	}
	if req.AuthURL != nil {
		conn.AuthURL = *req.AuthURL
	}
	if req.InvoiceURL != nil {
		conn.InvoiceURL = *req.InvoiceURL
	}
	if req.TimeoutSeconds != nil {
		conn.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.ManagedNumbering != nil {
		conn.ManagedNumbering = *req.ManagedNumbering
	}

	credentialsChanged := false
	if req.CertificatePEM != nil {
		conn.CertificatePEM = *req.CertificatePEM
		credentialsChanged = true
	}
	if req.PrivateKeyPEM != nil {
		conn.PrivateKeyPEM = *req.PrivateKeyPEM
		credentialsChanged = true
	}
	if credentialsChanged {
		conn.InvalidateTicket()
	}

	if err := s.connRepo.Save(ctx, conn); err != nil {
		return nil, err
	}
	response := ToConnectionResponse(conn)
	return &response, nil
}
