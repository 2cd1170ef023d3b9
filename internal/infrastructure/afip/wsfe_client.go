package afip

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/facturante/backend/internal/domain/invoicing"
)

const (
	wsfeNamespace = "http://ar.gov.afip.dif.FEV1/"
	// wsfeDateLayout is the compact date format of the invoicing service
	wsfeDateLayout = "20060102"
	// conceptGoods marks every submitted voucher as a sale of goods
	conceptGoods = 1
)

type serviceError struct {
	Code    int    `xml:"Code"`
	Message string `xml:"Msg"`
}

type lastAuthorizedResponse struct {
	Number int64          `xml:"Body>FECompUltimoAutorizadoResponse>FECompUltimoAutorizadoResult>CbteNro"`
	Errors []serviceError `xml:"Body>FECompUltimoAutorizadoResponse>FECompUltimoAutorizadoResult>Errors>Err"`
}

type caeDetailResponse struct {
	Result       string         `xml:"Resultado"`
	CAE          string         `xml:"CAE"`
	CAEExpiresOn string         `xml:"CAEFchVto"`
	Observations []serviceError `xml:"Observaciones>Obs"`
}

type caeResponse struct {
	Result  string              `xml:"Body>FECAESolicitarResponse>FECAESolicitarResult>FeCabResp>Resultado"`
	Details []caeDetailResponse `xml:"Body>FECAESolicitarResponse>FECAESolicitarResult>FeDetResp>FECAEDetResponse"`
	Errors  []serviceError      `xml:"Body>FECAESolicitarResponse>FECAESolicitarResult>Errors>Err"`
}

type dummyResponse struct {
	AppServer  string `xml:"Body>FEDummyResponse>FEDummyResult>AppServer"`
	DbServer   string `xml:"Body>FEDummyResponse>FEDummyResult>DbServer"`
	AuthServer string `xml:"Body>FEDummyResponse>FEDummyResult>AuthServer"`
}

// WSFEClient implements invoicing.InvoiceGateway against the authority's
// electronic invoicing service.
type WSFEClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWSFEClient creates an invoicing client
func NewWSFEClient(logger *zap.Logger) *WSFEClient {
	return &WSFEClient{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// LastAuthorized returns the highest voucher number the authority has on
// record for the sales point and voucher type; zero when none exists yet.
func (c *WSFEClient) LastAuthorized(ctx context.Context, conn *invoicing.FiscalConnection, ticket invoicing.AccessTicket, voucherType invoicing.VoucherType, pointOfSale int) (int64, error) {
	cuit, err := parseTaxID(conn.TaxID)
	if err != nil {
		return 0, invoicing.NewConfigurationError(err.Error())
	}

	operation := fmt.Sprintf(
		`<FECompUltimoAutorizado xmlns=%q>%s<PtoVta>%d</PtoVta><CbteTipo>%d</CbteTipo></FECompUltimoAutorizado>`,
		wsfeNamespace, authElement(ticket, cuit), pointOfSale, voucherType.Code(),
	)

	body, status, err := postSOAP(ctx, c.httpClient, conn.InvoiceURL, wsfeNamespace+"FECompUltimoAutorizado", wrapEnvelope(operation), conn.RequestTimeout())
	if err != nil {
		return 0, err
	}
	if fault := parseFault(body); fault != nil {
		return 0, invoicing.ClassifyFault(fault.Message)
	}

	var response lastAuthorizedResponse
	if err := xml.Unmarshal(body, &response); err != nil {
		return 0, unreadableResponse(status)
	}
	if len(response.Errors) > 0 {
		return 0, serviceErrorsToAuthError(response.Errors)
	}
	return response.Number, nil
}

// Authorize submits one voucher for a CAE. The request always carries a
// single detail record; batching is deliberately not used so a failure can
// never leave part of a batch in limbo.
func (c *WSFEClient) Authorize(ctx context.Context, conn *invoicing.FiscalConnection, ticket invoicing.AccessTicket, voucher *invoicing.Voucher) (invoicing.CAEResult, error) {
	cuit, err := parseTaxID(conn.TaxID)
	if err != nil {
		return invoicing.CAEResult{}, invoicing.NewConfigurationError(err.Error())
	}
	sequence, err := voucher.Sequence()
	if err != nil {
		return invoicing.CAEResult{}, invoicing.NewAuthorizationError(invoicing.KindUnknown, err.Error())
	}

	var vat strings.Builder
	for _, item := range voucher.VATItems {
		fmt.Fprintf(&vat, `<AlicIva><Id>%d</Id><BaseImp>%s</BaseImp><Importe>%s</Importe></AlicIva>`,
			item.Rate.Code(), item.BaseAmount.StringFixed(2), item.TaxAmount.StringFixed(2))
	}
	var vatBlock string
	if vat.Len() > 0 {
		vatBlock = `<Iva>` + vat.String() + `</Iva>`
	}

	operation := fmt.Sprintf(
		`<FECAESolicitar xmlns=%q>%s<FeCAEReq>`+
			`<FeCabReq><CantReg>1</CantReg><PtoVta>%d</PtoVta><CbteTipo>%d</CbteTipo></FeCabReq>`+
			`<FeDetReq><FECAEDetRequest>`+
			`<Concepto>%d</Concepto>`+
			`<DocTipo>%d</DocTipo><DocNro>%s</DocNro>`+
			`<CbteDesde>%d</CbteDesde><CbteHasta>%d</CbteHasta>`+
			`<CbteFch>%s</CbteFch>`+
			`<ImpTotal>%s</ImpTotal><ImpTotConc>0.00</ImpTotConc>`+
			`<ImpNeto>%s</ImpNeto><ImpOpEx>%s</ImpOpEx>`+
			`<ImpTrib>0.00</ImpTrib><ImpIVA>%s</ImpIVA>`+
			`<MonId>%s</MonId><MonCotiz>1</MonCotiz>`+
			`%s`+
			`</FECAEDetRequest></FeDetReq>`+
			`</FeCAEReq></FECAESolicitar>`,
		wsfeNamespace, authElement(ticket, cuit),
		voucher.PointOfSale, voucher.Type.Code(),
		conceptGoods,
		voucher.BuyerDocType, xmlEscape(documentNumber(voucher.BuyerDocNumber)),
		sequence, sequence,
		voucher.IssueDate.Format(wsfeDateLayout),
		voucher.TotalAmount.StringFixed(2),
		voucher.NetAmount.StringFixed(2), voucher.ExemptAmount.StringFixed(2),
		voucher.TaxAmount.StringFixed(2),
		xmlEscape(voucher.Currency),
		vatBlock,
	)

	c.logger.Debug("requesting voucher authorization",
		zap.String("number", voucher.Number),
		zap.String("type", voucher.Type.String()),
		zap.Int("point_of_sale", voucher.PointOfSale))

	body, status, err := postSOAP(ctx, c.httpClient, conn.InvoiceURL, wsfeNamespace+"FECAESolicitar", wrapEnvelope(operation), conn.RequestTimeout())
	if err != nil {
		return invoicing.CAEResult{}, err
	}
	if fault := parseFault(body); fault != nil {
		return invoicing.CAEResult{}, invoicing.ClassifyFault(fault.Message)
	}

	var response caeResponse
	if err := xml.Unmarshal(body, &response); err != nil {
		return invoicing.CAEResult{}, unreadableResponse(status)
	}
	if len(response.Errors) > 0 {
		return invoicing.CAEResult{}, serviceErrorsToAuthError(response.Errors)
	}
	if len(response.Details) == 0 {
		return invoicing.CAEResult{}, invoicing.NewAuthorizationError(invoicing.KindUnknown, "Authorization response is missing the detail record")
	}

	detail := response.Details[0]
	result := invoicing.CAEResult{RawResponse: string(body)}

	if detail.Result == "A" {
		expiresAt, err := time.ParseInLocation(wsfeDateLayout, detail.CAEExpiresOn, time.Local)
		if err != nil {
			return invoicing.CAEResult{}, invoicing.NewAuthorizationError(invoicing.KindUnknown, "Authorization response has an unreadable CAE expiration date")
		}
		result.Authorized = true
		result.CAE = detail.CAE
		result.CAEExpiresAt = expiresAt
		return result, nil
	}

	// A rejection is a valid outcome, reported inside the result so the
	// caller can burn the number and record the observation.
	if len(detail.Observations) > 0 {
		result.ObservationCode = detail.Observations[0].Code
		result.ObservationMessage = joinServiceErrors(detail.Observations)
	} else {
		result.ObservationMessage = "Voucher rejected without observations"
	}
	return result, nil
}

// CheckService queries the authority's health endpoint
func (c *WSFEClient) CheckService(ctx context.Context, conn *invoicing.FiscalConnection) (invoicing.ServiceStatus, error) {
	operation := fmt.Sprintf(`<FEDummy xmlns=%q/>`, wsfeNamespace)

	body, status, err := postSOAP(ctx, c.httpClient, conn.InvoiceURL, wsfeNamespace+"FEDummy", wrapEnvelope(operation), conn.RequestTimeout())
	if err != nil {
		return invoicing.ServiceStatus{}, err
	}
	if fault := parseFault(body); fault != nil {
		return invoicing.ServiceStatus{}, invoicing.ClassifyFault(fault.Message)
	}

	var response dummyResponse
	if err := xml.Unmarshal(body, &response); err != nil {
		return invoicing.ServiceStatus{}, unreadableResponse(status)
	}
	return invoicing.ServiceStatus{
		AppServer:  response.AppServer,
		DbServer:   response.DbServer,
		AuthServer: response.AuthServer,
	}, nil
}

// authElement renders the credential header present in every operation
func authElement(ticket invoicing.AccessTicket, cuit int64) string {
	return fmt.Sprintf(`<Auth><Token>%s</Token><Sign>%s</Sign><Cuit>%d</Cuit></Auth>`,
		xmlEscape(ticket.Token), xmlEscape(ticket.Sign), cuit)
}

// parseTaxID strips formatting dashes and parses the numeric tax ID
func parseTaxID(taxID string) (int64, error) {
	cuit, err := strconv.ParseInt(strings.ReplaceAll(taxID, "-", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tax ID %q is not numeric", taxID)
	}
	return cuit, nil
}

// documentNumber defaults the buyer document to 0, the authority's
// placeholder for an anonymous consumer.
func documentNumber(docNumber string) string {
	if docNumber == "" {
		return "0"
	}
	return docNumber
}

func unreadableResponse(status int) *invoicing.AuthorizationError {
	if status >= http.StatusBadRequest {
		return invoicing.NewTransportError(false, fmt.Errorf("invoicing service returned HTTP %d", status))
	}
	return invoicing.NewAuthorizationError(invoicing.KindUnknown, "Invoicing service returned an unreadable response")
}

func serviceErrorsToAuthError(errs []serviceError) *invoicing.AuthorizationError {
	authErr := invoicing.NewAuthorizationError(invoicing.KindUnknown, "Invoicing service reported an error")
	authErr.AuthorityMessage = joinServiceErrors(errs)
	return authErr
}

func joinServiceErrors(errs []serviceError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%d: %s", e.Code, e.Message))
	}
	return strings.Join(parts, "; ")
}

// Ensure WSFEClient implements InvoiceGateway
var _ invoicing.InvoiceGateway = (*WSFEClient)(nil)
