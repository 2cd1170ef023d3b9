package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockTenantValidator is a test implementation of TenantValidator
type mockTenantValidator struct {
	ValidTenants map[string]bool
	ShouldFail   bool
	FailError    error
}

func (m *mockTenantValidator) ValidateTenant(tenantID string) error {
	if m.ShouldFail {
		return m.FailError
	}
	if m.ValidTenants[tenantID] {
		return nil
	}
	return errors.New("tenant not found")
}

func newTenantTestRouter(cfg TenantMiddlewareConfig) *gin.Engine {
	router := gin.New()
	router.Use(TenantMiddlewareWithConfig(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenant_id": GetTenantID(c)})
	})
	router.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestTenantMiddleware_HeaderExtraction(t *testing.T) {
	validID := uuid.New().String()

	tests := []struct {
		name           string
		tenantID       string
		expectedStatus int
	}{
		{
			name:           "valid tenant ID in header",
			tenantID:       validID,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing tenant ID",
			tenantID:       "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid tenant ID format",
			tenantID:       "invalid-uuid",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTenantTestRouter(DefaultTenantConfig())

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.tenantID != "" {
				req.Header.Set(TenantHeaderKey, tt.tenantID)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestTenantMiddleware_SkipPaths(t *testing.T) {
	router := newTenantTestRouter(DefaultTenantConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "health check must not require a tenant")
}

func TestTenantMiddleware_Validator(t *testing.T) {
	validID := uuid.New().String()

	t.Run("known tenant passes", func(t *testing.T) {
		cfg := DefaultTenantConfig()
		cfg.Validator = &mockTenantValidator{ValidTenants: map[string]bool{validID: true}}
		router := newTenantTestRouter(cfg)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(TenantHeaderKey, validID)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown tenant is rejected", func(t *testing.T) {
		cfg := DefaultTenantConfig()
		cfg.Validator = &mockTenantValidator{ValidTenants: map[string]bool{}}
		router := newTenantTestRouter(cfg)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(TenantHeaderKey, uuid.New().String())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestOptionalTenantMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(OptionalTenantMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenant_id": GetTenantID(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetTenantUUID(t *testing.T) {
	t.Run("returns parsed UUID", func(t *testing.T) {
		id := uuid.New()
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set(TenantIDKey, id.String())

		parsed, err := GetTenantUUID(c)
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})

	t.Run("returns Nil without tenant", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())

		parsed, err := GetTenantUUID(c)
		require.NoError(t, err)
		assert.Equal(t, uuid.Nil, parsed)
	})
}
