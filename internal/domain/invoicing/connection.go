package invoicing

import (
	"time"

	"github.com/facturante/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Environment selects which authority endpoints a connection talks to.
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid returns true if the environment is a known value
func (e Environment) IsValid() bool {
	return e == EnvironmentSandbox || e == EnvironmentProduction
}

// TicketSafetyMargin is subtracted from a ticket's expiration when deciding
// whether the cached ticket can still be used. A ticket inside the margin is
// treated as expired so a request never leaves with a credential about to die.
const TicketSafetyMargin = 5 * time.Minute

// DefaultRequestTimeout applies when a connection has no explicit timeout.
const DefaultRequestTimeout = 30 * time.Second

// AccessTicket is the short-lived credential returned by the authority's
// login service. It is never persisted on its own; it lives as a cached
// sub-record of a FiscalConnection.
type AccessTicket struct {
	Token     string
	Sign      string
	ExpiresAt time.Time
}

// Valid reports whether the ticket can still be used at the given instant,
// keeping the safety margin clear of the real expiration.
func (t AccessTicket) Valid(now time.Time) bool {
	if t.Token == "" || t.Sign == "" {
		return false
	}
	return now.Add(TicketSafetyMargin).Before(t.ExpiresAt)
}

// FiscalConnection holds a tenant's credentials and endpoints for the tax
// authority's electronic invoicing services, plus the cached access ticket.
// Only the ticket service writes the ticket fields.
type FiscalConnection struct {
	shared.TenantAggregateRoot
	Name           string      `gorm:"not null"`
	Environment    Environment `gorm:"type:varchar(20);not null;default:'sandbox'"`
	TaxID          string      `gorm:"type:varchar(20);not null"`
	AuthURL        string      `gorm:"not null"`
	InvoiceURL     string      `gorm:"not null"`
	CertificatePEM string      `gorm:"type:text"`
	PrivateKeyPEM  string      `gorm:"type:text"`
	TimeoutSeconds int         `gorm:"not null;default:30"`

	// Managed numbering: when true the next voucher number comes from the
	// sequence row instead of the highest-existing-number scan.
	ManagedNumbering bool `gorm:"not null;default:false"`

	// Cached access ticket. Cleared by InvalidateTicket.
	TicketToken     string     `gorm:"type:text"`
	TicketSign      string     `gorm:"type:text"`
	TicketExpiresAt *time.Time `gorm:""`
}

// TableName overrides the GORM table name
func (FiscalConnection) TableName() string {
	return "fiscal_connections"
}

// NewFiscalConnection creates a connection for a tenant
func NewFiscalConnection(tenantID uuid.UUID, name string, env Environment, taxID, authURL, invoiceURL string) (*FiscalConnection, error) {
	if name == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "Connection name cannot be empty")
	}
	if !env.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", "Invalid environment")
	}
	if taxID == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "Tax ID cannot be empty")
	}
	return &FiscalConnection{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Name:                name,
		Environment:         env,
		TaxID:               taxID,
		AuthURL:             authURL,
		InvoiceURL:          invoiceURL,
		TimeoutSeconds:      int(DefaultRequestTimeout / time.Second),
	}, nil
}

// HasCredentials reports whether the certificate and private key are present.
// Their absence is a hard precondition failure for any authorization attempt.
func (c *FiscalConnection) HasCredentials() bool {
	return c.CertificatePEM != "" && c.PrivateKeyPEM != ""
}

// RequestTimeout returns the configured timeout for remote calls
func (c *FiscalConnection) RequestTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Ticket returns the cached access ticket and whether it is usable at now.
func (c *FiscalConnection) Ticket(now time.Time) (AccessTicket, bool) {
	if c.TicketExpiresAt == nil {
		return AccessTicket{}, false
	}
	ticket := AccessTicket{
		Token:     c.TicketToken,
		Sign:      c.TicketSign,
		ExpiresAt: *c.TicketExpiresAt,
	}
	return ticket, ticket.Valid(now)
}

// CacheTicket stores a fresh ticket on the connection
func (c *FiscalConnection) CacheTicket(ticket AccessTicket) {
	c.TicketToken = ticket.Token
	c.TicketSign = ticket.Sign
	expires := ticket.ExpiresAt
	c.TicketExpiresAt = &expires
	c.UpdatedAt = time.Now()
}

// InvalidateTicket clears the cached ticket unconditionally. Used after an
// authority-side "already authenticated" conflict to force a clean re-request.
func (c *FiscalConnection) InvalidateTicket() {
	c.TicketToken = ""
	c.TicketSign = ""
	c.TicketExpiresAt = nil
	c.UpdatedAt = time.Now()
}
