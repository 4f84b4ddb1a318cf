package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/realtime"
	"github.com/Yonatanhaile/tigray-marketplace/internal/services"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// OrderHandler handles REST requests for the order lifecycle.
type OrderHandler struct {
	orderService   services.IOrderService
	invoiceService services.IInvoiceService
	notifier       *realtime.Notifier
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderService services.IOrderService, invoiceService services.IInvoiceService, notifier *realtime.Notifier) *OrderHandler {
	return &OrderHandler{
		orderService:   orderService,
		invoiceService: invoiceService,
		notifier:       notifier,
	}
}

type createOrderRequest struct {
	ListingID     string              `json:"listing_id" binding:"required"`
	PaymentMethod string              `json:"payment_method" binding:"required"`
	MeetingInfo   *models.MeetingInfo `json:"meeting_info"`
	Note          string              `json:"note"`
}

// CreateOrder handles POST /v1/orders.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid request body"})
		return
	}
	listingID, err := utils.ParseSixID(req.ListingID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid listing_id"})
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), listingID, actor, req.PaymentMethod, req.MeetingInfo, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}

	h.notifier.OrderCreated(order)
	c.JSON(http.StatusCreated, gin.H{"error": false, "order": order})
}

// GetOrder handles GET /v1/orders/:id.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"error": false, "order": order})
}

// ListMyOrders handles GET /v1/orders?role=buyer|seller&status=...
func (h *OrderHandler) ListMyOrders(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	role := models.Role(c.DefaultQuery("role", string(models.RoleBuyer)))
	if role != models.RoleBuyer && role != models.RoleSeller {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "role must be buyer or seller"})
		return
	}

	var status *models.OrderStatus
	if raw := c.Query("status"); raw != "" {
		s := models.OrderStatus(raw)
		if !models.ValidOrderStatus(s) {
			c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid status filter"})
			return
		}
		status = &s
	}

	page, limit := pagination(c)
	orders, total, err := h.orderService.ListMyOrders(c.Request.Context(), actor.ID, role, status, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"error":  false,
		"orders": orders,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

type updateOrderRequest struct {
	Status             string              `json:"status"`
	Note               string              `json:"note"`
	PaymentEvidenceURL string              `json:"payment_evidence_url"`
	MeetingInfo        *models.MeetingInfo `json:"meeting_info"`
	SellerNote         *string             `json:"seller_note"`
}

// UpdateOrder handles PATCH /v1/orders/:id. A status change, payment
// evidence, meeting details and the seller note can all ride in one
// request; updates apply in that order and the first failure wins.
func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req updateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid request body"})
		return
	}
	if req.Status == "" && req.PaymentEvidenceURL == "" && req.MeetingInfo == nil && req.SellerNote == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "no updates in request"})
		return
	}

	ctx := c.Request.Context()
	var order *models.Order
	var err error

	if req.Status != "" {
		order, err = h.orderService.TransitionStatus(ctx, orderID, actor, models.OrderStatus(req.Status), req.Note)
		if err != nil {
			respondError(c, err)
			return
		}
		// Fan out as soon as the transition is persisted: a failure in
		// one of the updates below must not swallow a real state change.
		h.notifier.OrderStatusChanged(order, actor.ID)
	}
	if req.PaymentEvidenceURL != "" {
		order, err = h.orderService.AddPaymentEvidence(ctx, orderID, actor, req.PaymentEvidenceURL)
		if err != nil {
			respondError(c, err)
			return
		}
	}
	if req.MeetingInfo != nil {
		order, err = h.orderService.UpdateMeetingInfo(ctx, orderID, actor, *req.MeetingInfo)
		if err != nil {
			respondError(c, err)
			return
		}
	}
	if req.SellerNote != nil {
		order, err = h.orderService.SetSellerNote(ctx, orderID, actor, *req.SellerNote)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"error": false, "order": order})
}

// RequestInvoice handles POST /v1/orders/:id/invoice.
func (h *OrderHandler) RequestInvoice(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	invoice, queued, err := h.invoiceService.RequestInvoice(c.Request.Context(), orderID, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	if queued {
		h.notifier.InvoiceQueued(invoice)
		c.JSON(http.StatusAccepted, gin.H{"error": false, "invoice": invoice})
		return
	}
	c.JSON(http.StatusOK, gin.H{"error": false, "invoice": invoice})
}

// GetInvoice handles GET /v1/orders/:id/invoice.
func (h *OrderHandler) GetInvoice(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	invoice, err := h.invoiceService.GetInvoiceByOrder(c.Request.Context(), orderID, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"error": false, "invoice": invoice})
}
