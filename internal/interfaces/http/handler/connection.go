package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	invoicingapp "github.com/facturante/backend/internal/application/invoicing"
	"github.com/facturante/backend/internal/domain/invoicing"
	"github.com/facturante/backend/internal/domain/shared"
	"github.com/facturante/backend/internal/interfaces/http/dto"
)

// ConnectionHandler handles fiscal connection API endpoints
type ConnectionHandler struct {
	BaseHandler
	connections *invoicingapp.ConnectionService
	tickets     *invoicingapp.TicketService
	authorizer  *invoicingapp.AuthorizationService
}

// NewConnectionHandler creates a new ConnectionHandler
func NewConnectionHandler(
	connections *invoicingapp.ConnectionService,
	tickets *invoicingapp.TicketService,
	authorizer *invoicingapp.AuthorizationService,
) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
		tickets:     tickets,
		authorizer:  authorizer,
	}
}

// RegisterRoutes wires the connection endpoints into the API group
func (h *ConnectionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	conns := rg.Group("/connections")
	conns.POST("", h.Create)
	conns.GET("", h.List)
	conns.GET("/:id", h.GetByID)
	conns.PUT("/:id", h.Update)
	conns.DELETE("/:id/ticket", h.InvalidateTicket)
	conns.GET("/:id/service-status", h.CheckService)
	conns.GET("/:id/reconcile", h.Reconcile)
}

// Create godoc
// @Summary  Create a fiscal connection
// @Tags     connections
// @Router   /connections [post]
func (h *ConnectionHandler) Create(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req invoicingapp.CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	conn, err := h.connections.Create(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, conn)
}

// GetByID godoc
// @Summary  Get a fiscal connection
// @Tags     connections
// @Router   /connections/{id} [get]
func (h *ConnectionHandler) GetByID(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	conn, err := h.connections.GetByID(c.Request.Context(), tenantID, connectionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, conn)
}

// List godoc
// @Summary  List the tenant's fiscal connections
// @Tags     connections
// @Router   /connections [get]
func (h *ConnectionHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	conns, err := h.connections.List(c.Request.Context(), tenantID, shared.Filter{
		OrderBy:  req.OrderBy,
		OrderDir: req.OrderDir,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, conns)
}

// Update godoc
// @Summary  Update a fiscal connection
// @Tags     connections
// @Router   /connections/{id} [put]
func (h *ConnectionHandler) Update(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	var req invoicingapp.UpdateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	conn, err := h.connections.Update(c.Request.Context(), tenantID, connectionID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, conn)
}

// InvalidateTicket godoc
// @Summary  Discard the cached access ticket
// @Tags     connections
// @Router   /connections/{id}/ticket [delete]
func (h *ConnectionHandler) InvalidateTicket(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	if err := h.tickets.InvalidateTicket(c.Request.Context(), tenantID, connectionID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// CheckService godoc
// @Summary  Query the authority's service health
// @Tags     connections
// @Router   /connections/{id}/service-status [get]
func (h *ConnectionHandler) CheckService(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	status, err := h.authorizer.CheckService(c.Request.Context(), tenantID, connectionID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// Reconcile godoc
// @Summary  Compare local and authority voucher counters
// @Tags     connections
// @Param    type query string true "Voucher type"
// @Param    point_of_sale query int true "Sales point"
// @Router   /connections/{id}/reconcile [get]
func (h *ConnectionHandler) Reconcile(c *gin.Context) {
	tenantID, connectionID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	voucherType := invoicing.VoucherType(c.Query("type"))
	if !voucherType.IsValid() {
		h.BadRequest(c, "Invalid voucher type")
		return
	}
	pointOfSale, err := strconv.Atoi(c.Query("point_of_sale"))
	if err != nil || pointOfSale < 1 {
		h.BadRequest(c, "Invalid point of sale")
		return
	}

	result, err := h.authorizer.Reconcile(c.Request.Context(), tenantID, connectionID, voucherType, pointOfSale)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// tenantAndID extracts the tenant ID and the :id path parameter
func (h *ConnectionHandler) tenantAndID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid connection ID format")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, id, true
}
