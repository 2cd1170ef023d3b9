package invoicing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/facturante/backend/internal/domain/shared"
)

// Voucher numbers are rendered as "<sales point, 5 digits>-<sequence, 8
// digits>", e.g. "00001-00000040". The format round-trips: the sequence is
// recovered by parsing the suffix after the last dash, which retries depend
// on to reuse an already-committed number.
const (
	MinPointOfSale = 1
	MaxPointOfSale = 99999
	MinSequence    = 1
	MaxSequence    = 99999999
)

// FormatNumber renders a voucher number from its components
func FormatNumber(pointOfSale int, sequence int64) string {
	return fmt.Sprintf("%05d-%08d", pointOfSale, sequence)
}

// PointOfSalePrefix returns the formatted sales-point prefix used for
// highest-existing-number scans, e.g. "00001-".
func PointOfSalePrefix(pointOfSale int) string {
	return fmt.Sprintf("%05d-", pointOfSale)
}

// ParseSequence extracts the numeric sequence from a formatted voucher
// number. The suffix after the last dash is authoritative.
func ParseSequence(number string) (int64, error) {
	idx := strings.LastIndex(number, "-")
	if idx < 0 || idx == len(number)-1 {
		return 0, shared.NewDomainError("INVALID_INPUT", "Malformed voucher number: "+number)
	}
	seq, err := strconv.ParseInt(number[idx+1:], 10, 64)
	if err != nil {
		return 0, shared.NewDomainError("INVALID_INPUT", "Malformed voucher number: "+number)
	}
	if seq < MinSequence || seq > MaxSequence {
		return 0, shared.NewDomainError("INVALID_INPUT", "Voucher sequence out of range: "+number)
	}
	return seq, nil
}

// ParsePointOfSale extracts the sales-point component from a formatted
// voucher number.
func ParsePointOfSale(number string) (int, error) {
	idx := strings.LastIndex(number, "-")
	if idx <= 0 {
		return 0, shared.NewDomainError("INVALID_INPUT", "Malformed voucher number: "+number)
	}
	pos, err := strconv.Atoi(number[:idx])
	if err != nil {
		return 0, shared.NewDomainError("INVALID_INPUT", "Malformed voucher number: "+number)
	}
	if pos < MinPointOfSale || pos > MaxPointOfSale {
		return 0, shared.NewDomainError("INVALID_INPUT", "Point of sale out of range: "+number)
	}
	return pos, nil
}
