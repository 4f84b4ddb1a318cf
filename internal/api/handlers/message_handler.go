package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/realtime"
	"github.com/Yonatanhaile/tigray-marketplace/internal/services"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// MessageHandler handles REST requests for order conversations.
type MessageHandler struct {
	messageService services.IMessageService
	notifier       *realtime.Notifier
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(messageService services.IMessageService, notifier *realtime.Notifier) *MessageHandler {
	return &MessageHandler{messageService: messageService, notifier: notifier}
}

type sendMessageRequest struct {
	OrderID     string              `json:"order_id" binding:"required"`
	Text        string              `json:"text" binding:"required"`
	Attachments []models.Attachment `json:"attachments"`
}

// SendMessage handles POST /v1/messages.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid request body"})
		return
	}
	orderID, err := utils.ParseSixID(req.OrderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid order_id"})
		return
	}

	message, err := h.messageService.SendMessage(c.Request.Context(), orderID, actor, req.Text, req.Attachments)
	if err != nil {
		respondError(c, err)
		return
	}

	h.notifier.MessageSent(message)
	c.JSON(http.StatusCreated, gin.H{"error": false, "message": message})
}

// ListMessages handles GET /v1/messages/order/:id.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	page, limit := pagination(c)
	messages, total, readIDs, err := h.messageService.ListMessages(c.Request.Context(), orderID, actor, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	h.notifier.MessagesRead(orderID, readIDs, actor.ID)
	c.JSON(http.StatusOK, gin.H{
		"error":    false,
		"messages": messages,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

// UnreadCount handles GET /v1/messages/unread-count.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	count, err := h.messageService.UnreadCount(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"error": false, "unread_count": count})
}

// MarkRead handles POST /v1/messages/:id/read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	messageID, ok := idParam(c, "id")
	if !ok {
		return
	}

	message, err := h.messageService.MarkRead(c.Request.Context(), messageID, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	h.notifier.MessageRead(message)
	c.JSON(http.StatusOK, gin.H{"error": false, "message": message})
}
