package invoicing

import (
	"context"
	"time"
)

// CAEResult is the outcome of a single authorization request. A granted
// request carries the CAE and its expiration; a rejection carries the
// authority's observation code and message.
type CAEResult struct {
	Authorized         bool
	CAE                string
	CAEExpiresAt       time.Time
	ObservationCode    int
	ObservationMessage string
	RawResponse        string
}

// ServiceStatus reports the authority's own health indicators.
type ServiceStatus struct {
	AppServer  string
	DbServer   string
	AuthServer string
}

// Healthy reports whether every authority component answered OK
func (s ServiceStatus) Healthy() bool {
	return s.AppServer == "OK" && s.DbServer == "OK" && s.AuthServer == "OK"
}

// LoginGateway obtains access tickets from the authority's authentication
// service. Implementations classify every failure as an AuthorizationError.
type LoginGateway interface {
	Login(ctx context.Context, conn *FiscalConnection) (AccessTicket, error)
}

// InvoiceGateway talks to the authority's electronic invoicing service.
type InvoiceGateway interface {
	// LastAuthorized returns the highest voucher number the authority has
	// authorized for the sales point and voucher type; zero when none.
	LastAuthorized(ctx context.Context, conn *FiscalConnection, ticket AccessTicket, voucherType VoucherType, pointOfSale int) (int64, error)
	// Authorize submits one voucher for a CAE. A business rejection is
	// returned inside the result, not as an error; errors are reserved for
	// transport and protocol failures.
	Authorize(ctx context.Context, conn *FiscalConnection, ticket AccessTicket, voucher *Voucher) (CAEResult, error)
	// CheckService queries the authority's health endpoint
	CheckService(ctx context.Context, conn *FiscalConnection) (ServiceStatus, error)
}
