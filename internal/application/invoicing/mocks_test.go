package invoicing

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/facturante/backend/internal/domain/invoicing"
	"github.com/facturante/backend/internal/domain/shared"
)

// MockConnectionRepository is a mock of invoicing.ConnectionRepository
type MockConnectionRepository struct {
	mock.Mock
}

func (m *MockConnectionRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*invoicing.FiscalConnection, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicing.FiscalConnection), args.Error(1)
}

func (m *MockConnectionRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]invoicing.FiscalConnection, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]invoicing.FiscalConnection), args.Error(1)
}

func (m *MockConnectionRepository) Save(ctx context.Context, conn *invoicing.FiscalConnection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *MockConnectionRepository) UpdateTicket(ctx context.Context, id uuid.UUID, ticket invoicing.AccessTicket) error {
	args := m.Called(ctx, id, ticket)
	return args.Error(0)
}

func (m *MockConnectionRepository) ClearTicket(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockVoucherRepository is a mock of invoicing.VoucherRepository
type MockVoucherRepository struct {
	mock.Mock
}

func (m *MockVoucherRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*invoicing.Voucher, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invoicing.Voucher), args.Error(1)
}

func (m *MockVoucherRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]invoicing.Voucher, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]invoicing.Voucher), args.Error(1)
}

func (m *MockVoucherRepository) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (int64, error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockVoucherRepository) HighestNumber(ctx context.Context, tenantID uuid.UUID, voucherType invoicing.VoucherType, pointOfSale int) (string, error) {
	args := m.Called(ctx, tenantID, voucherType, pointOfSale)
	return args.String(0), args.Error(1)
}

func (m *MockVoucherRepository) Save(ctx context.Context, voucher *invoicing.Voucher) error {
	args := m.Called(ctx, voucher)
	return args.Error(0)
}

// MockSequenceRepository is a mock of invoicing.SequenceRepository
type MockSequenceRepository struct {
	mock.Mock
}

func (m *MockSequenceRepository) NextValue(ctx context.Context, tenantID uuid.UUID, voucherType invoicing.VoucherType, pointOfSale int) (int64, error) {
	args := m.Called(ctx, tenantID, voucherType, pointOfSale)
	return args.Get(0).(int64), args.Error(1)
}

// MockLoginGateway is a mock of invoicing.LoginGateway
type MockLoginGateway struct {
	mock.Mock
}

func (m *MockLoginGateway) Login(ctx context.Context, conn *invoicing.FiscalConnection) (invoicing.AccessTicket, error) {
	args := m.Called(ctx, conn)
	return args.Get(0).(invoicing.AccessTicket), args.Error(1)
}

// MockInvoiceGateway is a mock of invoicing.InvoiceGateway
type MockInvoiceGateway struct {
	mock.Mock
}

func (m *MockInvoiceGateway) LastAuthorized(ctx context.Context, conn *invoicing.FiscalConnection, ticket invoicing.AccessTicket, voucherType invoicing.VoucherType, pointOfSale int) (int64, error) {
	args := m.Called(ctx, conn, ticket, voucherType, pointOfSale)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockInvoiceGateway) Authorize(ctx context.Context, conn *invoicing.FiscalConnection, ticket invoicing.AccessTicket, voucher *invoicing.Voucher) (invoicing.CAEResult, error) {
	args := m.Called(ctx, conn, ticket, voucher)
	return args.Get(0).(invoicing.CAEResult), args.Error(1)
}

func (m *MockInvoiceGateway) CheckService(ctx context.Context, conn *invoicing.FiscalConnection) (invoicing.ServiceStatus, error) {
	args := m.Called(ctx, conn)
	return args.Get(0).(invoicing.ServiceStatus), args.Error(1)
}

// memoryTransactionScope is an in-memory TransactionScope with a real
// advisory lock, used to exercise concurrent allocation.
type memoryTransactionScope struct {
	mu      sync.Mutex
	locks   map[int64]*sync.Mutex
	numbers map[string][]string
	saved   []*invoicing.Voucher
}

func newMemoryTransactionScope() *memoryTransactionScope {
	return &memoryTransactionScope{
		locks:   make(map[int64]*sync.Mutex),
		numbers: make(map[string][]string),
	}
}

func (s *memoryTransactionScope) Execute(ctx context.Context, fn func(repos invoicing.TransactionalRepositories) error) error {
	repos := &memoryTxRepos{scope: s}
	err := fn(repos)
	repos.releaseLocks()
	return err
}

type memoryTxRepos struct {
	scope *memoryTransactionScope
	held  []*sync.Mutex
}

func (r *memoryTxRepos) Vouchers() invoicing.VoucherRepository   { return (*memoryVoucherRepo)(r) }
func (r *memoryTxRepos) Sequences() invoicing.SequenceRepository { return (*memorySequenceRepo)(r) }

func (r *memoryTxRepos) AdvisoryLock(ctx context.Context, key int64) error {
	r.scope.mu.Lock()
	lock, ok := r.scope.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.scope.locks[key] = lock
	}
	r.scope.mu.Unlock()

	lock.Lock()
	r.held = append(r.held, lock)
	return nil
}

func (r *memoryTxRepos) releaseLocks() {
	for _, lock := range r.held {
		lock.Unlock()
	}
	r.held = nil
}

type memoryVoucherRepo memoryTxRepos

func (r *memoryVoucherRepo) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*invoicing.Voucher, error) {
	return nil, shared.ErrNotFound
}

func (r *memoryVoucherRepo) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]invoicing.Voucher, error) {
	return nil, nil
}

func (r *memoryVoucherRepo) CountForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (int64, error) {
	return 0, nil
}

func (r *memoryVoucherRepo) HighestNumber(ctx context.Context, tenantID uuid.UUID, voucherType invoicing.VoucherType, pointOfSale int) (string, error) {
	r.scope.mu.Lock()
	defer r.scope.mu.Unlock()
	numbers := r.scope.numbers[numbersKey(tenantID, voucherType, pointOfSale)]
	if len(numbers) == 0 {
		return "", nil
	}
	highest := numbers[0]
	for _, n := range numbers[1:] {
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (r *memoryVoucherRepo) Save(ctx context.Context, voucher *invoicing.Voucher) error {
	r.scope.mu.Lock()
	defer r.scope.mu.Unlock()
	r.scope.numbers[numbersKey(voucher.TenantID, voucher.Type, voucher.PointOfSale)] = append(
		r.scope.numbers[numbersKey(voucher.TenantID, voucher.Type, voucher.PointOfSale)], voucher.Number)
	r.scope.saved = append(r.scope.saved, voucher)
	return nil
}

type memorySequenceRepo memoryTxRepos

func (r *memorySequenceRepo) NextValue(ctx context.Context, tenantID uuid.UUID, voucherType invoicing.VoucherType, pointOfSale int) (int64, error) {
	r.scope.mu.Lock()
	defer r.scope.mu.Unlock()
	key := numbersKey(tenantID, voucherType, pointOfSale)
	next := int64(len(r.scope.numbers[key])) + 1
	return next, nil
}

func numbersKey(tenantID uuid.UUID, voucherType invoicing.VoucherType, pointOfSale int) string {
	return tenantID.String() + ":" + string(voucherType) + ":" + invoicing.PointOfSalePrefix(pointOfSale)
}
