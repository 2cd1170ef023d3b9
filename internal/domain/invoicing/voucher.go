package invoicing

import (
	"time"

	"github.com/facturante/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VoucherType identifies a fiscal document class. The numeric codes are the
// authority's own voucher-type identifiers.
type VoucherType string

const (
	VoucherTypeInvoiceA    VoucherType = "invoice_a"
	VoucherTypeInvoiceB    VoucherType = "invoice_b"
	VoucherTypeInvoiceC    VoucherType = "invoice_c"
	VoucherTypeCreditNoteA VoucherType = "credit_note_a"
	VoucherTypeCreditNoteB VoucherType = "credit_note_b"
	VoucherTypeCreditNoteC VoucherType = "credit_note_c"
	VoucherTypeDebitNoteA  VoucherType = "debit_note_a"
	VoucherTypeDebitNoteB  VoucherType = "debit_note_b"
	VoucherTypeDebitNoteC  VoucherType = "debit_note_c"
	VoucherTypeInternal    VoucherType = "internal"
)

var voucherTypeCodes = map[VoucherType]int{
	VoucherTypeInvoiceA:    1,
	VoucherTypeDebitNoteA:  2,
	VoucherTypeCreditNoteA: 3,
	VoucherTypeInvoiceB:    6,
	VoucherTypeDebitNoteB:  7,
	VoucherTypeCreditNoteB: 8,
	VoucherTypeInvoiceC:    11,
	VoucherTypeDebitNoteC:  12,
	VoucherTypeCreditNoteC: 13,
}

// String returns the string representation of VoucherType
func (t VoucherType) String() string {
	return string(t)
}

// IsValid returns true if the voucher type is known
func (t VoucherType) IsValid() bool {
	if t == VoucherTypeInternal {
		return true
	}
	_, ok := voucherTypeCodes[t]
	return ok
}

// Code returns the authority's numeric code for the voucher type.
// Internal vouchers have no authority code and return 0.
func (t VoucherType) Code() int {
	return voucherTypeCodes[t]
}

// RequiresAuthorization reports whether this voucher class needs a CAE
// before it is legally valid.
func (t VoucherType) RequiresAuthorization() bool {
	return t != VoucherTypeInternal
}

// VATRate is one of the authority's fixed VAT rate buckets. The breakdown of
// a voucher's tax amount is reported per bucket, never as a free-form rate.
type VATRate string

const (
	VATRateZero        VATRate = "0"
	VATRateTwoHalf     VATRate = "2.5"
	VATRateFive        VATRate = "5"
	VATRateTenHalf     VATRate = "10.5"
	VATRateStandard    VATRate = "21"
	VATRateIncreased   VATRate = "27"
)

var vatRateCodes = map[VATRate]int{
	VATRateZero:      3,
	VATRateTwoHalf:   9,
	VATRateFive:      8,
	VATRateTenHalf:   4,
	VATRateStandard:  5,
	VATRateIncreased: 6,
}

var vatRatePercents = map[VATRate]decimal.Decimal{
	VATRateZero:      decimal.Zero,
	VATRateTwoHalf:   decimal.RequireFromString("2.5"),
	VATRateFive:      decimal.RequireFromString("5"),
	VATRateTenHalf:   decimal.RequireFromString("10.5"),
	VATRateStandard:  decimal.RequireFromString("21"),
	VATRateIncreased: decimal.RequireFromString("27"),
}

// IsValid returns true if the rate is one of the fixed buckets
func (r VATRate) IsValid() bool {
	_, ok := vatRateCodes[r]
	return ok
}

// Code returns the authority's numeric identifier for the rate bucket
func (r VATRate) Code() int {
	return vatRateCodes[r]
}

// Percent returns the bucket's percentage as a decimal
func (r VATRate) Percent() decimal.Decimal {
	return vatRatePercents[r]
}

// AuthorizationStatus tracks a voucher's position in the CAE lifecycle.
type AuthorizationStatus string

const (
	// StatusPending: number reserved, authorization not yet attempted or retryable
	StatusPending AuthorizationStatus = "pending"
	// StatusAuthorized: CAE obtained
	StatusAuthorized AuthorizationStatus = "authorized"
	// StatusSkipped: operator chose to persist without a CAE after a sequence conflict
	StatusSkipped AuthorizationStatus = "skipped"
	// StatusRejected: the authority declined this voucher; terminal for its number
	StatusRejected AuthorizationStatus = "rejected"
	// StatusError: transport failure during the CAE request; retryable
	StatusError AuthorizationStatus = "error"
)

// VoucherVATItem is one rate bucket's share of a voucher's amounts.
type VoucherVATItem struct {
	shared.BaseEntity
	VoucherID  uuid.UUID       `gorm:"type:uuid;index;not null"`
	Rate       VATRate         `gorm:"type:varchar(10);not null"`
	BaseAmount decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	TaxAmount  decimal.Decimal `gorm:"type:decimal(14,2);not null"`
}

// TableName overrides the GORM table name
func (VoucherVATItem) TableName() string {
	return "voucher_vat_items"
}

// Voucher is a fiscal document numbered within a sales-point sequence.
// Its number, once committed, is never reused even if authorization fails.
type Voucher struct {
	shared.TenantAggregateRoot
	ConnectionID *uuid.UUID  `gorm:"type:uuid;index"`
	Type         VoucherType `gorm:"type:varchar(20);not null"`
	PointOfSale  int         `gorm:"not null"`
	Number       string      `gorm:"type:varchar(20);not null;index"`
	IssueDate    time.Time   `gorm:"not null"`

	BuyerDocType   int    `gorm:"not null;default:99"`
	BuyerDocNumber string `gorm:"type:varchar(20)"`
	BuyerName      string

	Currency     string          `gorm:"type:varchar(3);not null;default:'PES'"`
	NetAmount    decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	TaxAmount    decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	ExemptAmount decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	VATItems     []VoucherVATItem `gorm:"foreignKey:VoucherID"`

	Status       AuthorizationStatus `gorm:"type:varchar(20);not null;default:'pending'"`
	CAE          string              `gorm:"type:varchar(20);column:cae"`
	CAEExpiresAt *time.Time          `gorm:"column:cae_expires_at"`

	// Observation code/message from the authority on rejection, or the last
	// transport error. Operators act on this text.
	ObservationCode int    `gorm:""`
	LastError       string `gorm:"type:text"`
}

// TableName overrides the GORM table name
func (Voucher) TableName() string {
	return "vouchers"
}

// NewVoucher creates a voucher with a reserved number in pending state
func NewVoucher(tenantID uuid.UUID, voucherType VoucherType, pointOfSale int, number string) (*Voucher, error) {
	if !voucherType.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", "Invalid voucher type")
	}
	if pointOfSale < MinPointOfSale || pointOfSale > MaxPointOfSale {
		return nil, shared.NewDomainError("INVALID_INPUT", "Point of sale out of range")
	}
	if _, err := ParseSequence(number); err != nil {
		return nil, err
	}
	return &Voucher{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Type:                voucherType,
		PointOfSale:         pointOfSale,
		Number:              number,
		IssueDate:           time.Now(),
		Currency:            "PES",
		NetAmount:           decimal.Zero,
		TaxAmount:           decimal.Zero,
		ExemptAmount:        decimal.Zero,
		TotalAmount:         decimal.Zero,
		Status:              StatusPending,
		BuyerDocType:        99,
	}, nil
}

// Sequence returns the numeric suffix of the voucher number.
func (v *Voucher) Sequence() (int64, error) {
	return ParseSequence(v.Number)
}

// SetAmounts sets the voucher totals and VAT breakdown. The total must equal
// net + tax + exempt; the tax amount must equal the sum of the bucket taxes.
func (v *Voucher) SetAmounts(net, exempt decimal.Decimal, vat []VoucherVATItem) error {
	if net.IsNegative() || exempt.IsNegative() {
		return shared.NewDomainError("INVALID_INPUT", "Amounts cannot be negative")
	}
	tax := decimal.Zero
	for _, item := range vat {
		if !item.Rate.IsValid() {
			return shared.NewDomainError("INVALID_INPUT", "Unknown VAT rate bucket")
		}
		if item.TaxAmount.IsNegative() || item.BaseAmount.IsNegative() {
			return shared.NewDomainError("INVALID_INPUT", "VAT amounts cannot be negative")
		}
		tax = tax.Add(item.TaxAmount)
	}
	v.NetAmount = net
	v.ExemptAmount = exempt
	v.TaxAmount = tax
	v.TotalAmount = net.Add(tax).Add(exempt)
	v.VATItems = vat
	v.UpdatedAt = time.Now()
	return nil
}

// SetBuyer sets the buyer identification
func (v *Voucher) SetBuyer(docType int, docNumber, name string) {
	v.BuyerDocType = docType
	v.BuyerDocNumber = docNumber
	v.BuyerName = name
	v.UpdatedAt = time.Now()
}

// MarkAuthorized records a granted CAE and its expiration
func (v *Voucher) MarkAuthorized(cae string, expiresAt time.Time) error {
	if cae == "" {
		return shared.NewDomainError("INVALID_INPUT", "CAE cannot be empty")
	}
	v.Status = StatusAuthorized
	v.CAE = cae
	expires := expiresAt
	v.CAEExpiresAt = &expires
	v.LastError = ""
	v.ObservationCode = 0
	v.UpdatedAt = time.Now()
	return nil
}

// MarkRejected records a definitive business rejection. The number is burned:
// it stays on this voucher and is never reallocated.
func (v *Voucher) MarkRejected(observationCode int, message string) {
	v.Status = StatusRejected
	v.ObservationCode = observationCode
	v.LastError = message
	v.UpdatedAt = time.Now()
}

// MarkError records a transport failure; the voucher stays retryable
func (v *Voucher) MarkError(message string) {
	v.Status = StatusError
	v.LastError = message
	v.UpdatedAt = time.Now()
}

// MarkSkipped records an operator's decision to persist without a CAE
func (v *Voucher) MarkSkipped() {
	v.Status = StatusSkipped
	v.UpdatedAt = time.Now()
}

// Retryable reports whether a new authorization attempt may reuse this
// voucher and its number.
func (v *Voucher) Retryable() bool {
	return v.Status == StatusPending || v.Status == StatusError || v.Status == StatusSkipped
}
