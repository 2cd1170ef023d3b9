package invoicing

import (
	"fmt"
	"strings"
)

// ErrorKind classifies every failure mode of the authorization subsystem.
// Operators act on the kind plus the preserved authority message.
type ErrorKind string

const (
	// KindConfigurationMissing: no certificate, key or connection configured
	KindConfigurationMissing ErrorKind = "CONFIGURATION_MISSING"
	// KindSigningFailure: the login request document could not be signed
	KindSigningFailure ErrorKind = "SIGNING_FAILURE"
	// KindTicketAlreadyValid: the authority already holds a valid ticket for
	// this identity; the caller should wait it out or invalidate locally
	KindTicketAlreadyValid ErrorKind = "TICKET_ALREADY_VALID"
	// KindCertificateExpired: the signing certificate has expired
	KindCertificateExpired ErrorKind = "CERTIFICATE_EXPIRED"
	// KindCertificateInvalid: the certificate was rejected by the authority
	KindCertificateInvalid ErrorKind = "CERTIFICATE_INVALID"
	// KindClockDesync: the login request's generation time was rejected
	KindClockDesync ErrorKind = "CLOCK_DESYNC"
	// KindIdentifierNotAuthorized: the tax ID is not enabled for the service
	KindIdentifierNotAuthorized ErrorKind = "IDENTIFIER_NOT_AUTHORIZED"
	// KindServiceUnreachable: network or WSDL-level failure
	KindServiceUnreachable ErrorKind = "SERVICE_UNREACHABLE"
	// KindTimeout: the configured request timeout elapsed
	KindTimeout ErrorKind = "TIMEOUT"
	// KindBusinessRejection: the authority declined the specific voucher
	KindBusinessRejection ErrorKind = "BUSINESS_REJECTION"
	// KindSequenceConflict: local and authority counters disagree
	KindSequenceConflict ErrorKind = "SEQUENCE_CONFLICT"
	// KindUnknown: unclassified fault text, original message preserved
	KindUnknown ErrorKind = "UNKNOWN"
)

// AuthorizationError is the typed error for every failure in the ticket and
// CAE flows. The authority's raw fault text is preserved verbatim.
type AuthorizationError struct {
	Kind             ErrorKind
	Message          string
	AuthorityMessage string
	ObservationCode  int
	Cause            error
}

// Error implements the error interface
func (e *AuthorizationError) Error() string {
	if e.AuthorityMessage != "" {
		return fmt.Sprintf("%s: %s (authority: %s)", e.Kind, e.Message, e.AuthorityMessage)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *AuthorizationError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is transient. Only transport-level
// failures qualify; signing, configuration and business rejections cannot
// succeed by retrying with the same inputs.
func (e *AuthorizationError) Retryable() bool {
	return e.Kind == KindServiceUnreachable || e.Kind == KindTimeout
}

// NewAuthorizationError creates an error of the given kind
func NewAuthorizationError(kind ErrorKind, message string) *AuthorizationError {
	return &AuthorizationError{Kind: kind, Message: message}
}

// NewSigningError wraps a crypto failure
func NewSigningError(cause error) *AuthorizationError {
	return &AuthorizationError{
		Kind:    KindSigningFailure,
		Message: "Failed to sign login request document",
		Cause:   cause,
	}
}

// NewConfigurationError reports a missing precondition
func NewConfigurationError(message string) *AuthorizationError {
	return &AuthorizationError{Kind: KindConfigurationMissing, Message: message}
}

// NewTransportError classifies a network failure as timeout or unreachable
func NewTransportError(timedOut bool, cause error) *AuthorizationError {
	if timedOut {
		return &AuthorizationError{
			Kind:    KindTimeout,
			Message: "Request to the invoicing authority timed out",
			Cause:   cause,
		}
	}
	return &AuthorizationError{
		Kind:    KindServiceUnreachable,
		Message: "Invoicing authority is unreachable",
		Cause:   cause,
	}
}

// NewBusinessRejection reports a definitive per-voucher rejection
func NewBusinessRejection(observationCode int, message string) *AuthorizationError {
	return &AuthorizationError{
		Kind:             KindBusinessRejection,
		Message:          "The authority rejected the voucher",
		AuthorityMessage: message,
		ObservationCode:  observationCode,
	}
}

// SequenceConflictError reports that the authority's counter is at or beyond
// the local next number. It carries both numbers so the operator can decide.
type SequenceConflictError struct {
	LocalNext     int64
	AuthorityLast int64
}

// Error implements the error interface
func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("%s: authority last authorized number %d, local next %d",
		KindSequenceConflict, e.AuthorityLast, e.LocalNext)
}

// faultRule maps a substring of the authority's free-text fault message to an
// error kind. The authority has no structured fault codes, so substring
// matching is the contract; new fault strings get a new row here, never an
// inline conditional at a call site.
type faultRule struct {
	Substring string
	Kind      ErrorKind
	Message   string
}

var faultRules = []faultRule{
	{"ya posee un TA valido", KindTicketAlreadyValid, "A valid ticket already exists at the authority; wait for it to expire or invalidate the cached one"},
	{"alreadyAuthenticated", KindTicketAlreadyValid, "A valid ticket already exists at the authority; wait for it to expire or invalidate the cached one"},
	{"certificado expirado", KindCertificateExpired, "The signing certificate has expired; renew it"},
	{"cms.cert.expired", KindCertificateExpired, "The signing certificate has expired; renew it"},
	{"Firma inválida", KindCertificateInvalid, "The authority rejected the certificate or signature"},
	{"cms.sign.invalid", KindCertificateInvalid, "The authority rejected the certificate or signature"},
	{"certificado no emitido", KindCertificateInvalid, "The certificate was not issued by the authority's CA"},
	{"cms.cert.untrusted", KindCertificateInvalid, "The certificate was not issued by the authority's CA"},
	{"generationTime", KindClockDesync, "The authority rejected the request's generation time; check the system clock"},
	{"xml.generationTime.invalid", KindClockDesync, "The authority rejected the request's generation time; check the system clock"},
	{"no autorizado a acceder al servicio", KindIdentifierNotAuthorized, "The tax ID is not authorized for this service"},
	{"wsn.unavailable", KindServiceUnreachable, "The authority's service is unavailable"},
}

// ClassifyFault maps the authority's raw fault text to a typed error,
// preserving the original message. Unmatched text falls back to KindUnknown.
func ClassifyFault(faultMessage string) *AuthorizationError {
	for _, rule := range faultRules {
		if strings.Contains(faultMessage, rule.Substring) {
			return &AuthorizationError{
				Kind:             rule.Kind,
				Message:          rule.Message,
				AuthorityMessage: faultMessage,
			}
		}
	}
	return &AuthorizationError{
		Kind:             KindUnknown,
		Message:          "Ticket request failed",
		AuthorityMessage: faultMessage,
	}
}
