package invoicing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/facturante/backend/internal/domain/invoicing"
)

// stubTxScope runs the transactional function directly against the mocks
type stubTxScope struct {
	vouchers  invoicing.VoucherRepository
	sequences invoicing.SequenceRepository
}

func (s *stubTxScope) Execute(ctx context.Context, fn func(repos invoicing.TransactionalRepositories) error) error {
	return fn(stubTxRepos{scope: s})
}

type stubTxRepos struct{ scope *stubTxScope }

func (r stubTxRepos) Vouchers() invoicing.VoucherRepository   { return r.scope.vouchers }
func (r stubTxRepos) Sequences() invoicing.SequenceRepository { return r.scope.sequences }
func (r stubTxRepos) AdvisoryLock(ctx context.Context, key int64) error {
	return nil
}

type authServiceFixture struct {
	service     *AuthorizationService
	connRepo    *MockConnectionRepository
	voucherRepo *MockVoucherRepository
	gateway     *MockInvoiceGateway
	login       *MockLoginGateway
}

func newAuthServiceFixture() *authServiceFixture {
	connRepo := new(MockConnectionRepository)
	voucherRepo := new(MockVoucherRepository)
	gateway := new(MockInvoiceGateway)
	login := new(MockLoginGateway)

	service := NewAuthorizationService(
		connRepo, voucherRepo,
		&stubTxScope{vouchers: voucherRepo, sequences: new(MockSequenceRepository)},
		NewSequenceAllocator(),
		NewTicketService(connRepo, login, zap.NewNop()),
		gateway,
		zap.NewNop(),
	)
	return &authServiceFixture{
		service:     service,
		connRepo:    connRepo,
		voucherRepo: voucherRepo,
		gateway:     gateway,
		login:       login,
	}
}

// ticketedConnection carries a valid cached ticket so no login happens
func ticketedConnection(t *testing.T, tenantID uuid.UUID) *invoicing.FiscalConnection {
	t.Helper()
	conn := newServiceConnection(t, tenantID)
	conn.CacheTicket(invoicing.AccessTicket{
		Token: "tok", Sign: "sig", ExpiresAt: time.Now().Add(time.Hour),
	})
	return conn
}

func createRequest(connectionID *uuid.UUID) CreateVoucherRequest {
	return CreateVoucherRequest{
		ConnectionID: connectionID,
		Type:         "invoice_b",
		PointOfSale:  1,
		NetAmount:    decimal.RequireFromString("1000"),
		ExemptAmount: decimal.Zero,
		VATItems: []VATItemRequest{{
			Rate:       "21",
			BaseAmount: decimal.RequireFromString("1000"),
			TaxAmount:  decimal.RequireFromString("210"),
		}},
	}
}

func TestAuthorizationService_CreateVoucher(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("first sale on a fresh sales point gets number one and a CAE", func(t *testing.T) {
		f := newAuthServiceFixture()
		conn := ticketedConnection(t, tenantID)

		f.connRepo.On("FindByIDForTenant", ctx, tenantID, conn.ID).Return(conn, nil)
		f.voucherRepo.On("HighestNumber", ctx, tenantID, invoicing.VoucherTypeInvoiceB, 1).Return("", nil)
		f.gateway.On("LastAuthorized", ctx, conn, mock.Anything, invoicing.VoucherTypeInvoiceB, 1).Return(int64(0), nil)
		f.voucherRepo.On("Save", ctx, mock.AnythingOfType("*invoicing.Voucher")).Return(nil)
		f.gateway.On("Authorize", ctx, conn, mock.Anything, mock.AnythingOfType("*invoicing.Voucher")).
			Return(invoicing.CAEResult{
				Authorized:   true,
				CAE:          "71234567890123",
				CAEExpiresAt: time.Now().AddDate(0, 0, 10),
			}, nil)

		response, err := f.service.CreateVoucher(ctx, tenantID, createRequest(&conn.ID))

		require.NoError(t, err)
		assert.Equal(t, "00001-00000001", response.Number)
		assert.Equal(t, string(invoicing.StatusAuthorized), response.Status)
		assert.Equal(t, "71234567890123", response.CAE)
		f.gateway.AssertExpectations(t)
	})

	t.Run("sequence conflict blocks and persists nothing", func(t *testing.T) {
		f := newAuthServiceFixture()
		conn := ticketedConnection(t, tenantID)

		f.connRepo.On("FindByIDForTenant", ctx, tenantID, conn.ID).Return(conn, nil)
		// local next is 3, authority already authorized 5
		f.voucherRepo.On("HighestNumber", ctx, tenantID, invoicing.VoucherTypeInvoiceB, 1).Return("00001-00000002", nil)
		f.gateway.On("LastAuthorized", ctx, conn, mock.Anything, invoicing.VoucherTypeInvoiceB, 1).Return(int64(5), nil)

		_, err := f.service.CreateVoucher(ctx, tenantID, createRequest(&conn.ID))

		var conflict *invoicing.SequenceConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(3), conflict.LocalNext)
		assert.Equal(t, int64(5), conflict.AuthorityLast)
		f.voucherRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		f.gateway.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("operator override persists without a CAE request", func(t *testing.T) {
		f := newAuthServiceFixture()
		conn := ticketedConnection(t, tenantID)

		f.connRepo.On("FindByIDForTenant", ctx, tenantID, conn.ID).Return(conn, nil)
		f.voucherRepo.On("HighestNumber", ctx, tenantID, invoicing.VoucherTypeInvoiceB, 1).Return("00001-00000003", nil)
		f.voucherRepo.On("Save", ctx, mock.AnythingOfType("*invoicing.Voucher")).Return(nil)

		req := createRequest(&conn.ID)
		req.ForceWithoutCAE = true

		response, err := f.service.CreateVoucher(ctx, tenantID, req)

		require.NoError(t, err)
		assert.Equal(t, "00001-00000004", response.Number, "numbering continues past the conflict")
		assert.Equal(t, string(invoicing.StatusSkipped), response.Status)
		assert.Empty(t, response.CAE)
		f.gateway.AssertNotCalled(t, "LastAuthorized", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.gateway.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unreachable counter degrades to local numbering", func(t *testing.T) {
		f := newAuthServiceFixture()
		conn := ticketedConnection(t, tenantID)

		f.connRepo.On("FindByIDForTenant", ctx, tenantID, conn.ID).Return(conn, nil)
		f.voucherRepo.On("HighestNumber", ctx, tenantID, invoicing.VoucherTypeInvoiceB, 1).Return("00001-00000039", nil)
		f.gateway.On("LastAuthorized", ctx, conn, mock.Anything, invoicing.VoucherTypeInvoiceB, 1).
			Return(int64(0), invoicing.NewTransportError(true, nil))
		f.voucherRepo.On("Save", ctx, mock.AnythingOfType("*invoicing.Voucher")).Return(nil)
		f.gateway.On("Authorize", ctx, conn, mock.Anything, mock.AnythingOfType("*invoicing.Voucher")).
			Return(invoicing.CAEResult{Authorized: true, CAE: "70000000000001", CAEExpiresAt: time.Now().AddDate(0, 0, 10)}, nil)

		response, err := f.service.CreateVoucher(ctx, tenantID, createRequest(&conn.ID))

		require.NoError(t, err)
		assert.Equal(t, "00001-00000040", response.Number)
		assert.Equal(t, string(invoicing.StatusAuthorized), response.Status)
	})

	t.Run("transport failure during the CAE request keeps the voucher retryable", func(t *testing.T) {
		f := newAuthServiceFixture()
		conn := ticketedConnection(t, tenantID)

		f.connRepo.On("FindByIDForTenant", ctx, tenantID, conn.ID).Return(conn, nil)
		f.voucherRepo.On("HighestNumber", ctx, tenantID, invoicing.VoucherTypeInvoiceB, 1).Return("", nil)
		f.gateway.On("LastAuthorized", ctx, conn, mock.Anything, invoicing.VoucherTypeInvoiceB, 1).Return(int64(0), nil)
		f.voucherRepo.On("Save", ctx, mock.AnythingOfType("*invoicing.Voucher")).Return(nil)
		f.gateway.On("Authorize", ctx, conn, mock.Anything, mock.AnythingOfType("*invoicing.Voucher")).
			Return(invoicing.CAEResult{}, invoicing.NewTransportError(false, nil))

		response, err := f.service.CreateVoucher(ctx, tenantID, createRequest(&conn.ID))

		require.NoError(t, err, "the sale itself is persisted")
		assert.Equal(t, string(invoicing.StatusError), response.Status)
		assert.NotEmpty(t, response.LastError)
		assert.Empty(t, response.CAE)
	})

	t.Run("business rejection burns the number", func(t *testing.T) {
		f := newAuthServiceFixture()
		conn := ticketedConnection(t, tenantID)

		f.connRepo.On("FindByIDForTenant", ctx, tenantID, conn.ID).Return(conn, nil)
		f.voucherRepo.On("HighestNumber", ctx, tenantID, invoicing.VoucherTypeInvoiceB, 1).Return("", nil)
		f.gateway.On("LastAuthorized", ctx, conn, mock.Anything, invoicing.VoucherTypeInvoiceB, 1).Return(int64(0), nil)
		f.voucherRepo.On("Save", ctx, mock.AnythingOfType("*invoicing.Voucher")).Return(nil)
		f.gateway.On("Authorize", ctx, conn, mock.Anything, mock.AnythingOfType("*invoicing.Voucher")).
			Return(invoicing.CAEResult{
				Authorized:         false,
				ObservationCode:    10016,
				ObservationMessage: "10016: Campo CbteFch no cumple",
			}, nil)

		response, err := f.service.CreateVoucher(ctx, tenantID, createRequest(&conn.ID))

		require.NoError(t, err)
		assert.Equal(t, string(invoicing.StatusRejected), response.Status)
		assert.Equal(t, 10016, response.ObservationCode)
	})

	t.Run("internal vouchers never touch the authority", func(t *testing.T) {
		f := newAuthServiceFixture()

		f.voucherRepo.On("HighestNumber", ctx, tenantID, invoicing.VoucherTypeInternal, 1).Return("", nil)
		f.voucherRepo.On("Save", ctx, mock.AnythingOfType("*invoicing.Voucher")).Return(nil)

		req := createRequest(nil)
		req.Type = "internal"

		response, err := f.service.CreateVoucher(ctx, tenantID, req)

		require.NoError(t, err)
		assert.Equal(t, "00001-00000001", response.Number)
		f.gateway.AssertNotCalled(t, "LastAuthorized", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.gateway.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing connection for an authorizable type", func(t *testing.T) {
		f := newAuthServiceFixture()

		_, err := f.service.CreateVoucher(ctx, tenantID, createRequest(nil))

		var authErr *invoicing.AuthorizationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, invoicing.KindConfigurationMissing, authErr.Kind)
	})
}

func TestAuthorizationService_RetryAuthorization(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	newErroredVoucher := func(t *testing.T, connID uuid.UUID) *invoicing.Voucher {
		voucher, err := invoicing.NewVoucher(tenantID, invoicing.VoucherTypeInvoiceB, 1, "00001-00000040")
		require.NoError(t, err)
		voucher.ConnectionID = &connID
		voucher.MarkError("timeout")
		return voucher
	}

	t.Run("reuses the committed number", func(t *testing.T) {
		f := newAuthServiceFixture()
		conn := ticketedConnection(t, tenantID)
		voucher := newErroredVoucher(t, conn.ID)

		f.voucherRepo.On("FindByIDForTenant", ctx, tenantID, voucher.ID).Return(voucher, nil)
		f.connRepo.On("FindByIDForTenant", ctx, tenantID, conn.ID).Return(conn, nil)
		f.gateway.On("Authorize", ctx, conn, mock.Anything, mock.MatchedBy(func(v *invoicing.Voucher) bool {
			return v.Number == "00001-00000040"
		})).Return(invoicing.CAEResult{Authorized: true, CAE: "70000000000002", CAEExpiresAt: time.Now().AddDate(0, 0, 10)}, nil)
		f.voucherRepo.On("Save", ctx, voucher).Return(nil)

		response, err := f.service.RetryAuthorization(ctx, tenantID, voucher.ID, false)

		require.NoError(t, err)
		assert.Equal(t, "00001-00000040", response.Number)
		assert.Equal(t, string(invoicing.StatusAuthorized), response.Status)
		f.gateway.AssertExpectations(t)
	})

	t.Run("force marks skipped without a call", func(t *testing.T) {
		f := newAuthServiceFixture()
		conn := ticketedConnection(t, tenantID)
		voucher := newErroredVoucher(t, conn.ID)

		f.voucherRepo.On("FindByIDForTenant", ctx, tenantID, voucher.ID).Return(voucher, nil)
		f.voucherRepo.On("Save", ctx, voucher).Return(nil)

		response, err := f.service.RetryAuthorization(ctx, tenantID, voucher.ID, true)

		require.NoError(t, err)
		assert.Equal(t, string(invoicing.StatusSkipped), response.Status)
		f.gateway.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("an authorized voucher cannot be retried", func(t *testing.T) {
		f := newAuthServiceFixture()
		conn := ticketedConnection(t, tenantID)
		voucher := newErroredVoucher(t, conn.ID)
		require.NoError(t, voucher.MarkAuthorized("70000000000003", time.Now().AddDate(0, 0, 10)))

		f.voucherRepo.On("FindByIDForTenant", ctx, tenantID, voucher.ID).Return(voucher, nil)

		_, err := f.service.RetryAuthorization(ctx, tenantID, voucher.ID, false)
		assert.Error(t, err)
	})
}

func TestAuthorizationService_Reconcile(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	cases := []struct {
		name          string
		highest       string
		authorityLast int64
		authorityErr  error
		wantState     ReconcileState
		wantLocalNext int64
	}{
		{"authority behind local", "00001-00000039", 39, nil, StateInSync, 40},
		{"authority at local next", "00001-00000039", 40, nil, StateOutOfSync, 40},
		{"authority ahead of local", "00001-00000002", 5, nil, StateOutOfSync, 3},
		{"fresh sales point in sync", "", 0, nil, StateInSync, 1},
		{"query failure is unknown", "00001-00000039", 0, invoicing.NewTransportError(false, nil), StateUnknown, 40},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAuthServiceFixture()
			conn := ticketedConnection(t, tenantID)

			f.connRepo.On("FindByIDForTenant", ctx, tenantID, conn.ID).Return(conn, nil)
			f.voucherRepo.On("HighestNumber", ctx, tenantID, invoicing.VoucherTypeInvoiceB, 1).Return(tc.highest, nil)
			f.gateway.On("LastAuthorized", ctx, conn, mock.Anything, invoicing.VoucherTypeInvoiceB, 1).
				Return(tc.authorityLast, tc.authorityErr)

			result, err := f.service.Reconcile(ctx, tenantID, conn.ID, invoicing.VoucherTypeInvoiceB, 1)

			require.NoError(t, err)
			assert.Equal(t, tc.wantState, result.State)
			assert.Equal(t, tc.wantLocalNext, result.LocalNext)
		})
	}
}

func TestAuthorizationService_CheckService(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	f := newAuthServiceFixture()
	conn := ticketedConnection(t, tenantID)

	f.connRepo.On("FindByIDForTenant", ctx, tenantID, conn.ID).Return(conn, nil)
	f.gateway.On("CheckService", ctx, conn).
		Return(invoicing.ServiceStatus{AppServer: "OK", DbServer: "OK", AuthServer: "OK"}, nil)

	status, err := f.service.CheckService(ctx, tenantID, conn.ID)

	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Equal(t, "OK", status.AppServer)
}
