package afip

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/facturante/backend/internal/domain/invoicing"
)

const soapContentType = "text/xml; charset=utf-8"

// soapFault is the authority's error envelope. Both services speak SOAP 1.1
// and report failures as faults with free-text faultstring messages.
type soapFault struct {
	Code    string `xml:"faultcode"`
	Message string `xml:"faultstring"`
}

type faultEnvelope struct {
	Fault *soapFault `xml:"Body>Fault"`
}

// wrapEnvelope wraps an operation element in a SOAP 1.1 envelope
func wrapEnvelope(body string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>`)
	buf.WriteString(body)
	buf.WriteString(`</soapenv:Body></soapenv:Envelope>`)
	return buf.Bytes()
}

// xmlEscape escapes a value for embedding in an XML text node
func xmlEscape(value string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(value)); err != nil {
		return value
	}
	return buf.String()
}

// postSOAP sends the envelope and returns the raw response body along with
// the HTTP status code. Network failures come back as typed transport errors
// so callers never have to inspect the underlying net error themselves.
func postSOAP(ctx context.Context, client *http.Client, endpoint, action string, envelope []byte, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelope))
	if err != nil {
		return nil, 0, fmt.Errorf("afip: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", soapContentType)
	req.Header.Set("SOAPAction", action)

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, invoicing.NewTransportError(isTimeout(err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, invoicing.NewTransportError(isTimeout(err), err)
	}

	return body, resp.StatusCode, nil
}

// parseFault extracts a SOAP fault from a response body, if present.
// The authority returns faults with HTTP 500, so the status code alone
// cannot distinguish a fault from a broken gateway.
func parseFault(body []byte) *soapFault {
	var envelope faultEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	return envelope.Fault
}

// isTimeout reports whether a transport error was a deadline expiry
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout")
}
