package invoicing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/facturante/backend/internal/domain/invoicing"
)

// VATItemRequest is one rate bucket's share of the requested amounts
type VATItemRequest struct {
	Rate       string          `json:"rate" binding:"required"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
}

// CreateVoucherRequest is the request to create and authorize a voucher
type CreateVoucherRequest struct {
	ConnectionID    *uuid.UUID       `json:"connection_id"`
	Type            string           `json:"type" binding:"required"`
	PointOfSale     int              `json:"point_of_sale" binding:"required,min=1,max=99999"`
	BuyerDocType    int              `json:"buyer_doc_type"`
	BuyerDocNumber  string           `json:"buyer_doc_number"`
	BuyerName       string           `json:"buyer_name"`
	NetAmount       decimal.Decimal  `json:"net_amount"`
	ExemptAmount    decimal.Decimal  `json:"exempt_amount"`
	VATItems        []VATItemRequest `json:"vat_items"`
	// ForceWithoutCAE persists the voucher without requesting authorization.
	// Used by an operator to resolve a sequence conflict explicitly.
	ForceWithoutCAE bool `json:"force_without_cae"`
}

// VATItemResponse mirrors one VAT breakdown row
type VATItemResponse struct {
	Rate       string          `json:"rate"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
}

// VoucherResponse is the API representation of a voucher
type VoucherResponse struct {
	ID              uuid.UUID         `json:"id"`
	ConnectionID    *uuid.UUID        `json:"connection_id,omitempty"`
	Type            string            `json:"type"`
	PointOfSale     int               `json:"point_of_sale"`
	Number          string            `json:"number"`
	IssueDate       time.Time         `json:"issue_date"`
	BuyerDocType    int               `json:"buyer_doc_type"`
	BuyerDocNumber  string            `json:"buyer_doc_number,omitempty"`
	BuyerName       string            `json:"buyer_name,omitempty"`
	Currency        string            `json:"currency"`
	NetAmount       decimal.Decimal   `json:"net_amount"`
	TaxAmount       decimal.Decimal   `json:"tax_amount"`
	ExemptAmount    decimal.Decimal   `json:"exempt_amount"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	VATItems        []VATItemResponse `json:"vat_items,omitempty"`
	Status          string            `json:"status"`
	CAE             string            `json:"cae,omitempty"`
	CAEExpiresAt    *time.Time        `json:"cae_expires_at,omitempty"`
	ObservationCode int               `json:"observation_code,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ToVoucherResponse converts a voucher to its API representation
func ToVoucherResponse(v *invoicing.Voucher) VoucherResponse {
	items := make([]VATItemResponse, 0, len(v.VATItems))
	for _, item := range v.VATItems {
		items = append(items, VATItemResponse{
			Rate:       string(item.Rate),
			BaseAmount: item.BaseAmount,
			TaxAmount:  item.TaxAmount,
		})
	}
	return VoucherResponse{
		ID:              v.ID,
		ConnectionID:    v.ConnectionID,
		Type:            v.Type.String(),
		PointOfSale:     v.PointOfSale,
		Number:          v.Number,
		IssueDate:       v.IssueDate,
		BuyerDocType:    v.BuyerDocType,
		BuyerDocNumber:  v.BuyerDocNumber,
		BuyerName:       v.BuyerName,
		Currency:        v.Currency,
		NetAmount:       v.NetAmount,
		TaxAmount:       v.TaxAmount,
		ExemptAmount:    v.ExemptAmount,
		TotalAmount:     v.TotalAmount,
		VATItems:        items,
		Status:          string(v.Status),
		CAE:             v.CAE,
		CAEExpiresAt:    v.CAEExpiresAt,
		ObservationCode: v.ObservationCode,
		LastError:       v.LastError,
		CreatedAt:       v.CreatedAt,
	}
}

// VoucherListResponse is a paginated voucher listing
type VoucherListResponse struct {
	Vouchers []VoucherResponse `json:"vouchers"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// CreateConnectionRequest creates a fiscal connection for a tenant
type CreateConnectionRequest struct {
	Name           string `json:"name" binding:"required"`
	Environment    string `json:"environment" binding:"required"`
	TaxID          string `json:"tax_id" binding:"required"`
	AuthURL        string `json:"auth_url"`
	InvoiceURL     string `json:"invoice_url"`
	CertificatePEM string `json:"certificate_pem"`
	PrivateKeyPEM  string `json:"private_key_pem"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// UpdateConnectionRequest updates mutable connection fields. Nil pointers
// leave the stored value untouched.
type UpdateConnectionRequest struct {
	Name             *string `json:"name"`
	Environment      *string `json:"environment"`
	TaxID            *string `json:"tax_id"`
	AuthURL          *string `json:"auth_url"`
	InvoiceURL       *string `json:"invoice_url"`
	CertificatePEM   *string `json:"certificate_pem"`
	PrivateKeyPEM    *string `json:"private_key_pem"`
	TimeoutSeconds   *int    `json:"timeout_seconds"`
	ManagedNumbering *bool   `json:"managed_numbering"`
}

// ConnectionResponse is the API representation of a fiscal connection.
// Credentials are never echoed back; only their presence is reported.
type ConnectionResponse struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Environment      string     `json:"environment"`
	TaxID            string     `json:"tax_id"`
	AuthURL          string     `json:"auth_url"`
	InvoiceURL       string     `json:"invoice_url"`
	HasCredentials   bool       `json:"has_credentials"`
	TimeoutSeconds   int        `json:"timeout_seconds"`
	ManagedNumbering bool       `json:"managed_numbering"`
	TicketExpiresAt  *time.Time `json:"ticket_expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ToConnectionResponse converts a connection to its API representation
func ToConnectionResponse(c *invoicing.FiscalConnection) ConnectionResponse {
	return ConnectionResponse{
		ID:               c.ID,
		Name:             c.Name,
		Environment:      c.Environment.String(),
		TaxID:            c.TaxID,
		AuthURL:          c.AuthURL,
		InvoiceURL:       c.InvoiceURL,
		HasCredentials:   c.HasCredentials(),
		TimeoutSeconds:   c.TimeoutSeconds,
		ManagedNumbering: c.ManagedNumbering,
		TicketExpiresAt:  c.TicketExpiresAt,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

// ReconcileState is the outcome of comparing local and authority counters
type ReconcileState string

const (
	// StateInSync: the authority's counter is behind the local next number
	StateInSync ReconcileState = "in_sync"
	// StateOutOfSync: the authority has numbers the local store never recorded
	StateOutOfSync ReconcileState = "out_of_sync"
	// StateUnknown: the authority could not be queried; local numbering applies
	StateUnknown ReconcileState = "unknown"
)

// ReconcileResult reports both counters alongside the computed state
type ReconcileResult struct {
	State         ReconcileState `json:"state"`
	LocalNext     int64          `json:"local_next"`
	AuthorityLast int64          `json:"authority_last"`
}

// ServiceStatusResponse mirrors the authority's health indicators
type ServiceStatusResponse struct {
	AppServer  string `json:"app_server"`
	DbServer   string `json:"db_server"`
	AuthServer string `json:"auth_server"`
	Healthy    bool   `json:"healthy"`
}
