package dto

import (
	"net/http"

	"github.com/facturante/backend/internal/domain/invoicing"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when authentication is required but missing/invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeForbidden is used when the caller lacks permission
	ErrCodeForbidden = "ERR_FORBIDDEN"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyExists is used when trying to create a duplicate resource
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeConflict is used for general resource conflicts
	ErrCodeConflict = "ERR_CONFLICT"
	// ErrCodeConcurrencyConflict is used when optimistic locking fails
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
)

// Authorization flow error codes. Each mirrors an invoicing error kind so
// API consumers can branch without parsing messages.
const (
	// ErrCodeSequenceConflict: the authority's counter is ahead of the local one
	ErrCodeSequenceConflict = "ERR_SEQUENCE_CONFLICT"
	// ErrCodeBusinessRejection: the authority declined the voucher
	ErrCodeBusinessRejection = "ERR_BUSINESS_REJECTION"
	// ErrCodeConfigurationMissing: connection, certificate or key not configured
	ErrCodeConfigurationMissing = "ERR_CONFIGURATION_MISSING"
	// ErrCodeCertificateExpired: signing certificate has expired
	ErrCodeCertificateExpired = "ERR_CERTIFICATE_EXPIRED"
	// ErrCodeCertificateInvalid: certificate or signature rejected by the authority
	ErrCodeCertificateInvalid = "ERR_CERTIFICATE_INVALID"
	// ErrCodeAuthorityUnreachable: transport-level failure talking to the authority
	ErrCodeAuthorityUnreachable = "ERR_AUTHORITY_UNREACHABLE"
	// ErrCodeAuthorityTimeout: the configured request timeout elapsed
	ErrCodeAuthorityTimeout = "ERR_AUTHORITY_TIMEOUT"
	// ErrCodeAuthorityError: any other failure reported by the authority
	ErrCodeAuthorityError = "ERR_AUTHORITY_ERROR"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeInvalidState:        http.StatusUnprocessableEntity,

	ErrCodeSequenceConflict:     http.StatusConflict,
	ErrCodeBusinessRejection:    http.StatusUnprocessableEntity,
	ErrCodeConfigurationMissing: http.StatusUnprocessableEntity,
	ErrCodeCertificateExpired:   http.StatusUnprocessableEntity,
	ErrCodeCertificateInvalid:   http.StatusUnprocessableEntity,
	ErrCodeAuthorityUnreachable: http.StatusBadGateway,
	ErrCodeAuthorityTimeout:     http.StatusGatewayTimeout,
	ErrCodeAuthorityError:       http.StatusBadGateway,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// LegacyErrorCodeMapping maps bare domain error codes to the standardized codes
var LegacyErrorCodeMapping = map[string]string{
	"NOT_FOUND":            ErrCodeNotFound,
	"ALREADY_EXISTS":       ErrCodeAlreadyExists,
	"INVALID_INPUT":        ErrCodeInvalidInput,
	"INVALID_STATE":        ErrCodeInvalidState,
	"UNAUTHORIZED":         ErrCodeUnauthorized,
	"FORBIDDEN":            ErrCodeForbidden,
	"CONCURRENCY_CONFLICT": ErrCodeConcurrencyConflict,
	"VALIDATION_ERROR":     ErrCodeValidation,
	"BAD_REQUEST":          ErrCodeBadRequest,
	"INTERNAL_ERROR":       ErrCodeInternal,
	"SEQUENCE_EXHAUSTED":   ErrCodeInvalidState,
}

// NormalizeErrorCode converts a legacy error code to the standardized format
// If the code is already in the new format or unknown, returns it as-is
func NormalizeErrorCode(code string) string {
	if newCode, ok := LegacyErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}

// authorizationErrorCodes maps each invoicing error kind to its API code.
// Kinds not listed fall through to ErrCodeAuthorityError.
var authorizationErrorCodes = map[invoicing.ErrorKind]string{
	invoicing.KindConfigurationMissing:    ErrCodeConfigurationMissing,
	invoicing.KindSigningFailure:          ErrCodeInternal,
	invoicing.KindTicketAlreadyValid:      ErrCodeConflict,
	invoicing.KindCertificateExpired:      ErrCodeCertificateExpired,
	invoicing.KindCertificateInvalid:      ErrCodeCertificateInvalid,
	invoicing.KindClockDesync:             ErrCodeInternal,
	invoicing.KindIdentifierNotAuthorized: ErrCodeForbidden,
	invoicing.KindServiceUnreachable:      ErrCodeAuthorityUnreachable,
	invoicing.KindTimeout:                 ErrCodeAuthorityTimeout,
	invoicing.KindBusinessRejection:       ErrCodeBusinessRejection,
	invoicing.KindSequenceConflict:        ErrCodeSequenceConflict,
}

// AuthorizationErrorCode returns the API error code for an invoicing error kind
func AuthorizationErrorCode(kind invoicing.ErrorKind) string {
	if code, ok := authorizationErrorCodes[kind]; ok {
		return code
	}
	return ErrCodeAuthorityError
}
