package afip

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/facturante/backend/internal/domain/invoicing"
)

const (
	// wsaaService is the service name requested in every login ticket
	wsaaService = "wsfe"
	// wsaaTimeLayout is the naive local timestamp format of the login
	// ticket request. The authority compares it against its own wall clock.
	wsaaTimeLayout = "2006-01-02T15:04:05"

	// loginTicketWindow is the requested ticket lifetime
	loginTicketWindow = 12 * time.Hour
	// generationSkew backdates the request's generation time so a small
	// clock drift against the authority does not reject the login
	generationSkew = 10 * time.Minute
)

// loginTicketRequest is the XML document that gets signed and submitted to
// the authority's login service.
type loginTicketRequest struct {
	XMLName xml.Name `xml:"loginTicketRequest"`
	Version string   `xml:"version,attr"`
	Header  struct {
		UniqueID       uint32 `xml:"uniqueId"`
		GenerationTime string `xml:"generationTime"`
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Service string `xml:"service"`
}

// loginCmsResponse carries the login service's return value: an XML document
// escaped inside the loginCmsReturn element.
type loginCmsResponse struct {
	Return string `xml:"Body>loginCmsResponse>loginCmsReturn"`
}

// loginTicketResponse is the inner document with the granted credentials
type loginTicketResponse struct {
	Header struct {
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Credentials struct {
		Token string `xml:"token"`
		Sign  string `xml:"sign"`
	} `xml:"credentials"`
}

// WSAAClient implements invoicing.LoginGateway against the authority's
// authentication service.
type WSAAClient struct {
	signer     *CMSSigner
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewWSAAClient creates a login client
func NewWSAAClient(logger *zap.Logger) *WSAAClient {
	return &WSAAClient{
		signer:     NewCMSSigner(),
		httpClient: &http.Client{},
		logger:     logger,
		now:        time.Now,
	}
}

// Login builds, signs and submits a login ticket request and returns the
// granted access ticket. Every failure comes back as an AuthorizationError.
func (c *WSAAClient) Login(ctx context.Context, conn *invoicing.FiscalConnection) (invoicing.AccessTicket, error) {
	if !conn.HasCredentials() {
		return invoicing.AccessTicket{}, invoicing.NewConfigurationError("fiscal connection has no certificate or private key configured")
	}
	if conn.AuthURL == "" {
		return invoicing.AccessTicket{}, invoicing.NewConfigurationError("fiscal connection has no authentication endpoint configured")
	}

	now := c.now()
	request := loginTicketRequest{Version: "1.0", Service: wsaaService}
	request.Header.UniqueID = uint32(now.Unix())
	request.Header.GenerationTime = now.Add(-generationSkew).Format(wsaaTimeLayout)
	request.Header.ExpirationTime = now.Add(loginTicketWindow).Format(wsaaTimeLayout)

	document, err := xml.Marshal(request)
	if err != nil {
		return invoicing.AccessTicket{}, invoicing.NewSigningError(err)
	}
	document = append([]byte(xml.Header), document...)

	cms, err := c.signer.Sign(document, conn.CertificatePEM, conn.PrivateKeyPEM)
	if err != nil {
		if errors.Is(err, ErrCertificateExpired) {
			authErr := invoicing.NewAuthorizationError(invoicing.KindCertificateExpired, "The signing certificate has expired; renew it")
			authErr.Cause = err
			return invoicing.AccessTicket{}, authErr
		}
		return invoicing.AccessTicket{}, invoicing.NewSigningError(err)
	}

	envelope := wrapEnvelope(fmt.Sprintf(
		`<loginCms xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov"><in>%s</in></loginCms>`,
		xmlEscape(cms),
	))

	c.logger.Debug("requesting access ticket",
		zap.String("endpoint", conn.AuthURL),
		zap.String("tax_id", conn.TaxID))

	body, status, err := postSOAP(ctx, c.httpClient, conn.AuthURL, "", envelope, conn.RequestTimeout())
	if err != nil {
		return invoicing.AccessTicket{}, err
	}

	if fault := parseFault(body); fault != nil {
		authErr := invoicing.ClassifyFault(fault.Message)
		c.logger.Warn("login rejected by authority",
			zap.String("kind", string(authErr.Kind)),
			zap.String("fault", fault.Message))
		return invoicing.AccessTicket{}, authErr
	}

	var response loginCmsResponse
	if err := xml.Unmarshal(body, &response); err != nil || response.Return == "" {
		if status >= http.StatusBadRequest {
			return invoicing.AccessTicket{}, invoicing.NewTransportError(false, fmt.Errorf("login service returned HTTP %d", status))
		}
		return invoicing.AccessTicket{}, invoicing.NewAuthorizationError(invoicing.KindUnknown, "Login service returned an unreadable response")
	}

	var ticketResponse loginTicketResponse
	if err := xml.Unmarshal([]byte(response.Return), &ticketResponse); err != nil {
		return invoicing.AccessTicket{}, invoicing.NewAuthorizationError(invoicing.KindUnknown, "Login ticket response could not be parsed")
	}
	if ticketResponse.Credentials.Token == "" || ticketResponse.Credentials.Sign == "" {
		return invoicing.AccessTicket{}, invoicing.NewAuthorizationError(invoicing.KindUnknown, "Login ticket response is missing credentials")
	}

	expiresAt, err := parseAuthorityTime(ticketResponse.Header.ExpirationTime)
	if err != nil {
		return invoicing.AccessTicket{}, invoicing.NewAuthorizationError(invoicing.KindUnknown, "Login ticket response has an unreadable expiration time")
	}

	c.logger.Info("access ticket granted",
		zap.String("tax_id", conn.TaxID),
		zap.Time("expires_at", expiresAt))

	return invoicing.AccessTicket{
		Token:     ticketResponse.Credentials.Token,
		Sign:      ticketResponse.Credentials.Sign,
		ExpiresAt: expiresAt,
	}, nil
}

// parseAuthorityTime handles the timestamp variants the login service emits:
// zoned with milliseconds, zoned without, and the naive local layout.
func parseAuthorityTime(value string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05.000-07:00",
		time.RFC3339,
		wsaaTimeLayout,
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("afip: unrecognized timestamp %q", value)
}

// Ensure WSAAClient implements LoginGateway
var _ invoicing.LoginGateway = (*WSAAClient)(nil)
