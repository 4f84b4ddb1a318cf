package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/realtime"
	"github.com/Yonatanhaile/tigray-marketplace/internal/services"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// DisputeHandler handles REST requests for the dispute overlay.
type DisputeHandler struct {
	disputeService services.IDisputeService
	orderService   services.IOrderService
	notifier       *realtime.Notifier
}

// NewDisputeHandler creates a new DisputeHandler.
func NewDisputeHandler(disputeService services.IDisputeService, orderService services.IOrderService, notifier *realtime.Notifier) *DisputeHandler {
	return &DisputeHandler{
		disputeService: disputeService,
		orderService:   orderService,
		notifier:       notifier,
	}
}

type fileDisputeRequest struct {
	OrderID     string                 `json:"order_id" binding:"required"`
	Reason      string                 `json:"reason" binding:"required"`
	Category    models.DisputeCategory `json:"category" binding:"required"`
	Attachments []models.Attachment    `json:"attachments"`
}

// FileDispute handles POST /v1/disputes.
func (h *DisputeHandler) FileDispute(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	var req fileDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid request body"})
		return
	}
	orderID, err := utils.ParseSixID(req.OrderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid order_id"})
		return
	}

	dispute, err := h.disputeService.FileDispute(c.Request.Context(), orderID, actor, req.Reason, req.Category, req.Attachments)
	if err != nil {
		respondError(c, err)
		return
	}

	// The order is frozen at this point; fan out using its current state.
	if order, err := h.orderService.GetOrder(c.Request.Context(), orderID, actor); err == nil {
		h.notifier.DisputeFiled(dispute, order)
	}

	c.JSON(http.StatusCreated, gin.H{"error": false, "dispute": dispute})
}

// GetDispute handles GET /v1/disputes/:id.
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	disputeID, ok := idParam(c, "id")
	if !ok {
		return
	}

	dispute, err := h.disputeService.GetDispute(c.Request.Context(), disputeID, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"error": false, "dispute": dispute})
}

// ListMyDisputes handles GET /v1/disputes.
func (h *DisputeHandler) ListMyDisputes(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	var status *models.DisputeStatus
	if raw := c.Query("status"); raw != "" {
		s := models.DisputeStatus(raw)
		status = &s
	}

	page, limit := pagination(c)
	disputes, total, err := h.disputeService.ListMyDisputes(c.Request.Context(), actor.ID, status, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"error":    false,
		"disputes": disputes,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

type disputeCommentRequest struct {
	Text string `json:"text" binding:"required"`
}

// AddComment handles POST /v1/disputes/:id/comments.
func (h *DisputeHandler) AddComment(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	disputeID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req disputeCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid request body"})
		return
	}

	dispute, err := h.disputeService.AddComment(c.Request.Context(), disputeID, actor, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"error": false, "dispute": dispute})
}

type resolveDisputeRequest struct {
	Status     models.DisputeStatus    `json:"status" binding:"required"`
	AdminNotes string                  `json:"admin_notes"`
	Resolution string                  `json:"resolution"`
	Outcome    services.DisputeOutcome `json:"outcome"`
}

// ResolveDispute handles PATCH /v1/admin/disputes/:id. Admin only,
// enforced by the route group.
func (h *DisputeHandler) ResolveDispute(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	disputeID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid request body"})
		return
	}

	dispute, err := h.disputeService.ResolveDispute(c.Request.Context(), disputeID, actor, req.Status, req.AdminNotes, req.Resolution, req.Outcome)
	if err != nil {
		respondError(c, err)
		return
	}

	// Finalized decisions change the order state; push it to the parties.
	if dispute.Status == models.DisputeStatusResolved || dispute.Status == models.DisputeStatusRejected {
		if order, err := h.orderService.GetOrder(c.Request.Context(), dispute.OrderID, actor); err == nil {
			h.notifier.DisputeResolved(dispute, order)
		}
	}

	c.JSON(http.StatusOK, gin.H{"error": false, "dispute": dispute})
}
