package afip

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/facturante/backend/internal/domain/invoicing"
)

func newTestConnection(t *testing.T, authURL, invoiceURL string) *invoicing.FiscalConnection {
	t.Helper()
	conn, err := invoicing.NewFiscalConnection(
		uuid.New(), "test", invoicing.EnvironmentSandbox, "20-12345678-9", authURL, invoiceURL)
	require.NoError(t, err)
	certPEM, keyPEM := generateTestCredentials(t, time.Now().Add(24*time.Hour))
	conn.CertificatePEM = certPEM
	conn.PrivateKeyPEM = keyPEM
	return conn
}

func loginSuccessBody(expiration string) string {
	inner := fmt.Sprintf(
		`<loginTicketResponse version="1.0"><header><expirationTime>%s</expirationTime></header>`+
			`<credentials><token>test-token</token><sign>test-sign</sign></credentials></loginTicketResponse>`,
		expiration)
	return fmt.Sprintf(
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>`+
			`<loginCmsResponse xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov">`+
			`<loginCmsReturn>%s</loginCmsReturn>`+
			`</loginCmsResponse></soapenv:Body></soapenv:Envelope>`,
		xmlEscape(inner))
}

func faultBody(faultstring string) string {
	return fmt.Sprintf(
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>`+
			`<soapenv:Fault><faultcode>ns1:fault</faultcode><faultstring>%s</faultstring></soapenv:Fault>`+
			`</soapenv:Body></soapenv:Envelope>`,
		xmlEscape(faultstring))
}

func TestWSAAClient_Login(t *testing.T) {
	t.Run("grants a ticket", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Contains(t, r.Header.Get("Content-Type"), "text/xml")
			w.Write([]byte(loginSuccessBody("2026-09-01T04:00:00.000-03:00")))
		}))
		defer server.Close()

		client := NewWSAAClient(zap.NewNop())
		conn := newTestConnection(t, server.URL, "")

		ticket, err := client.Login(context.Background(), conn)
		require.NoError(t, err)
		assert.Equal(t, "test-token", ticket.Token)
		assert.Equal(t, "test-sign", ticket.Sign)
		assert.Equal(t, 2026, ticket.ExpiresAt.Year())
	})

	t.Run("classifies an already-valid-ticket fault", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(faultBody("El CEE ya posee un TA valido para el acceso al WSN solicitado")))
		}))
		defer server.Close()

		client := NewWSAAClient(zap.NewNop())
		conn := newTestConnection(t, server.URL, "")

		_, err := client.Login(context.Background(), conn)
		var authErr *invoicing.AuthorizationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, invoicing.KindTicketAlreadyValid, authErr.Kind)
		assert.Contains(t, authErr.AuthorityMessage, "ya posee un TA valido")
	})

	t.Run("classifies a clock desync fault", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(faultBody("xml.generationTime.invalid: GenerationTime posterior al tiempo actual")))
		}))
		defer server.Close()

		client := NewWSAAClient(zap.NewNop())
		conn := newTestConnection(t, server.URL, "")

		_, err := client.Login(context.Background(), conn)
		var authErr *invoicing.AuthorizationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, invoicing.KindClockDesync, authErr.Kind)
	})

	t.Run("missing credentials fail before any network call", func(t *testing.T) {
		client := NewWSAAClient(zap.NewNop())
		conn := newTestConnection(t, "http://unused.invalid", "")
		conn.PrivateKeyPEM = ""

		_, err := client.Login(context.Background(), conn)
		var authErr *invoicing.AuthorizationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, invoicing.KindConfigurationMissing, authErr.Kind)
	})

	t.Run("expired certificate is reported as such", func(t *testing.T) {
		client := NewWSAAClient(zap.NewNop())
		conn := newTestConnection(t, "http://unused.invalid", "")
		certPEM, keyPEM := generateTestCredentials(t, time.Now().Add(-time.Hour))
		conn.CertificatePEM = certPEM
		conn.PrivateKeyPEM = keyPEM

		_, err := client.Login(context.Background(), conn)
		var authErr *invoicing.AuthorizationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, invoicing.KindCertificateExpired, authErr.Kind)
	})

	t.Run("unreachable service is a retryable transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		client := NewWSAAClient(zap.NewNop())
		conn := newTestConnection(t, server.URL, "")

		_, err := client.Login(context.Background(), conn)
		var authErr *invoicing.AuthorizationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, invoicing.KindServiceUnreachable, authErr.Kind)
		assert.True(t, authErr.Retryable())
	})

	t.Run("timeout is classified distinctly", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(2 * time.Second)
		}))
		defer server.Close()

		client := NewWSAAClient(zap.NewNop())
		conn := newTestConnection(t, server.URL, "")
		conn.TimeoutSeconds = 1

		_, err := client.Login(context.Background(), conn)
		var authErr *invoicing.AuthorizationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, invoicing.KindTimeout, authErr.Kind)
		assert.True(t, authErr.Retryable())
	})

	t.Run("unreadable success response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not xml at all"))
		}))
		defer server.Close()

		client := NewWSAAClient(zap.NewNop())
		conn := newTestConnection(t, server.URL, "")

		_, err := client.Login(context.Background(), conn)
		var authErr *invoicing.AuthorizationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, invoicing.KindUnknown, authErr.Kind)
	})
}

func TestParseAuthorityTime(t *testing.T) {
	cases := []string{
		"2026-09-01T04:00:00.000-03:00",
		"2026-09-01T04:00:00-03:00",
		"2026-09-01T04:00:00",
	}
	for _, value := range cases {
		t.Run(value, func(t *testing.T) {
			parsed, err := parseAuthorityTime(value)
			require.NoError(t, err)
			assert.Equal(t, 2026, parsed.Year())
		})
	}

	_, err := parseAuthorityTime("01/09/2026")
	assert.Error(t, err)
}
