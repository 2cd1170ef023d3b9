package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	invoicingapp "github.com/facturante/backend/internal/application/invoicing"
	"github.com/facturante/backend/internal/domain/shared"
	"github.com/facturante/backend/internal/infrastructure/logger"
	"github.com/facturante/backend/internal/interfaces/http/dto"
)

// VoucherHandler handles voucher API endpoints
type VoucherHandler struct {
	BaseHandler
	authorizer *invoicingapp.AuthorizationService
}

// NewVoucherHandler creates a new VoucherHandler
func NewVoucherHandler(authorizer *invoicingapp.AuthorizationService) *VoucherHandler {
	return &VoucherHandler{authorizer: authorizer}
}

// VoucherListFilter holds the query parameters accepted by List
type VoucherListFilter struct {
	dto.ListRequest
	Status       string `form:"status"`
	Type         string `form:"type"`
	PointOfSale  int    `form:"point_of_sale"`
	ConnectionID string `form:"connection_id" binding:"omitempty,uuid"`
	IssuedAfter  string `form:"issued_after"`
	IssuedBefore string `form:"issued_before"`
}

// RetryRequest is the optional body for a retry. Force resolves the voucher
// without a new authorization attempt.
type RetryRequest struct {
	Force bool `json:"force"`
}

// RegisterRoutes wires the voucher endpoints into the API group
func (h *VoucherHandler) RegisterRoutes(rg *gin.RouterGroup) {
	vouchers := rg.Group("/vouchers")
	vouchers.POST("", h.Create)
	vouchers.GET("", h.List)
	vouchers.GET("/:id", h.GetByID)
	vouchers.POST("/:id/retry", h.Retry)
}

// Create godoc
// @Summary  Create a voucher and request its authorization code
// @Tags     vouchers
// @Router   /vouchers [post]
func (h *VoucherHandler) Create(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req invoicingapp.CreateVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	voucher, err := h.authorizer.CreateVoucher(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.L(c.Request.Context()).Info("voucher created",
		zap.String("voucher_id", voucher.ID.String()),
		zap.String("number", voucher.Number),
		zap.String("status", voucher.Status))
	h.Created(c, voucher)
}

// GetByID godoc
// @Summary  Get a voucher
// @Tags     vouchers
// @Router   /vouchers/{id} [get]
func (h *VoucherHandler) GetByID(c *gin.Context) {
	tenantID, voucherID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	voucher, err := h.authorizer.GetByID(c.Request.Context(), tenantID, voucherID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, voucher)
}

// List godoc
// @Summary  List vouchers
// @Tags     vouchers
// @Router   /vouchers [get]
func (h *VoucherHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var filter VoucherListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	result, err := h.authorizer.List(c.Request.Context(), tenantID, toSharedFilter(filter))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, result.Vouchers, result.Total, result.Page, result.PageSize)
}

// Retry godoc
// @Summary  Retry a voucher's authorization
// @Tags     vouchers
// @Router   /vouchers/{id}/retry [post]
func (h *VoucherHandler) Retry(c *gin.Context) {
	tenantID, voucherID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	var req RetryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BadRequest(c, err.Error())
			return
		}
	}

	voucher, err := h.authorizer.RetryAuthorization(c.Request.Context(), tenantID, voucherID, req.Force)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, voucher)
}

// tenantAndID extracts the tenant ID and the :id path parameter
func (h *VoucherHandler) tenantAndID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid voucher ID format")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, id, true
}

// toSharedFilter converts the bound query parameters into a repository filter
func toSharedFilter(filter VoucherListFilter) shared.Filter {
	filters := make(map[string]interface{})
	if filter.Status != "" {
		filters["status"] = filter.Status
	}
	if filter.Type != "" {
		filters["type"] = filter.Type
	}
	if filter.PointOfSale > 0 {
		filters["point_of_sale"] = filter.PointOfSale
	}
	if filter.ConnectionID != "" {
		filters["connection_id"] = filter.ConnectionID
	}
	if filter.IssuedAfter != "" {
		filters["issued_after"] = filter.IssuedAfter
	}
	if filter.IssuedBefore != "" {
		filters["issued_before"] = filter.IssuedBefore
	}

	return shared.Filter{
		Page:     filter.Page,
		PageSize: filter.PageSize,
		OrderBy:  filter.OrderBy,
		OrderDir: filter.OrderDir,
		Search:   filter.Search,
		Filters:  filters,
	}
}
