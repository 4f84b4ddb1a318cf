package realtime

import (
	"log"
	"time"

	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// Notifier translates domain happenings into websocket events. It holds
// the full emission matrix in one place so the REST handlers, the
// gateway and the background worker all produce identical traffic.
// Every method is fire-and-forget: realtime delivery failing must never
// fail the operation that triggered it.
type Notifier struct {
	broadcaster Broadcaster
}

// NewNotifier creates a Notifier over the given broadcaster.
func NewNotifier(broadcaster Broadcaster) *Notifier {
	return &Notifier{broadcaster: broadcaster}
}

func (n *Notifier) send(userID utils.SixID, event string, data interface{}) {
	envelope, err := NewEnvelope(event, data)
	if err != nil {
		log.Printf("Failed to build %s event: %v", event, err)
		return
	}
	n.broadcaster.SendToUser(userID, envelope)
}

func (n *Notifier) broadcast(orderID utils.SixID, event string, data interface{}, exclude ...utils.SixID) {
	envelope, err := NewEnvelope(event, data)
	if err != nil {
		log.Printf("Failed to build %s event: %v", event, err)
		return
	}
	n.broadcaster.BroadcastToOrder(orderID, envelope, exclude...)
}

// notificationPayload is the generic payload of the notification event.
type notificationPayload struct {
	Type    string      `json:"type"`
	OrderID string      `json:"order_id"`
	Data    interface{} `json:"data,omitempty"`
}

// OrderCreated tells the seller a new order came in.
func (n *Notifier) OrderCreated(order *models.Order) {
	n.send(order.SellerID, EventNotification, notificationPayload{
		Type:    NotificationNewOrder,
		OrderID: order.ID.String(),
		Data:    order,
	})
}

// orderUpdatePayload accompanies every status change.
type orderUpdatePayload struct {
	OrderID   string             `json:"order_id"`
	Status    models.OrderStatus `json:"status"`
	ChangedBy string             `json:"changed_by"`
	Note      string             `json:"note,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// OrderStatusChanged pushes the update into the order room and pings the
// counterparty of the actor with a notification.
func (n *Notifier) OrderStatusChanged(order *models.Order, changedBy utils.SixID) {
	update := orderUpdatePayload{
		OrderID:   order.ID.String(),
		Status:    order.Status,
		ChangedBy: changedBy.String(),
		Timestamp: time.Now().UTC(),
	}
	if last := len(order.StatusHistory); last > 0 {
		update.Note = order.StatusHistory[last-1].Note
		update.Timestamp = order.StatusHistory[last-1].Timestamp
	}
	n.broadcast(order.ID, EventOrderUpdate, update)

	if other, ok := order.OtherParty(changedBy); ok {
		n.send(other, EventNotification, notificationPayload{
			Type:    NotificationOrderStatusChanged,
			OrderID: order.ID.String(),
			Data:    update,
		})
	}
}

// MessageSent fans a persisted message out as new_message to the order
// room and to every session of the recipient, then confirms delivery to
// the sender with message_sent. The recipient also gets a notification
// ping so unread counters refresh on sessions outside the room.
func (n *Notifier) MessageSent(message *models.Message) {
	n.broadcast(message.OrderID, EventNewMessage, message)
	n.send(message.RecipientID, EventNewMessage, message)
	n.send(message.SenderID, EventMessageSent, message)
	n.send(message.RecipientID, EventNotification, notificationPayload{
		Type:    NotificationNewMessage,
		OrderID: message.OrderID.String(),
		Data:    message,
	})
}

type messageReadPayload struct {
	OrderID   string     `json:"order_id"`
	MessageID string     `json:"message_id"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// MessageRead confirms a single read receipt to the order room.
func (n *Notifier) MessageRead(message *models.Message) {
	n.broadcast(message.OrderID, EventMessageRead, messageReadPayload{
		OrderID:   message.OrderID.String(),
		MessageID: message.ID.String(),
		ReadAt:    message.ReadAt,
	})
}

type messagesReadPayload struct {
	OrderID    string   `json:"order_id"`
	MessageIDs []string `json:"message_ids"`
	ReaderID   string   `json:"reader_id"`
}

// MessagesRead reports the batch receipt produced by listing a thread.
func (n *Notifier) MessagesRead(orderID utils.SixID, messageIDs []utils.SixID, readerID utils.SixID) {
	if len(messageIDs) == 0 {
		return
	}
	ids := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = id.String()
	}
	n.broadcast(orderID, EventMessagesRead, messagesReadPayload{
		OrderID:    orderID.String(),
		MessageIDs: ids,
		ReaderID:   readerID.String(),
	})
}

// DisputeFiled notifies both order parties and the room that the order
// is now frozen under a dispute.
func (n *Notifier) DisputeFiled(dispute *models.Dispute, order *models.Order) {
	n.broadcast(order.ID, EventOrderUpdate, orderUpdatePayload{
		OrderID:   order.ID.String(),
		Status:    models.OrderStatusDisputed,
		ChangedBy: dispute.ReporterID.String(),
		Timestamp: dispute.CreatedAt,
	})
	payload := notificationPayload{
		Type:    NotificationNewDispute,
		OrderID: order.ID.String(),
		Data:    dispute,
	}
	n.send(order.BuyerID, EventNotification, payload)
	n.send(order.SellerID, EventNotification, payload)
}

// DisputeResolved notifies both parties of the admin decision and pushes
// the resulting order state into the room.
func (n *Notifier) DisputeResolved(dispute *models.Dispute, order *models.Order) {
	reviewer := dispute.ReporterID
	if dispute.ReviewedBy != nil {
		reviewer = *dispute.ReviewedBy
	}
	n.OrderStatusChanged(order, reviewer)
	payload := notificationPayload{
		Type:    NotificationDisputeResolved,
		OrderID: order.ID.String(),
		Data:    dispute,
	}
	n.send(order.BuyerID, EventNotification, payload)
	n.send(order.SellerID, EventNotification, payload)
}

type invoiceEventPayload struct {
	InvoiceID     string               `json:"invoice_id"`
	OrderID       string               `json:"order_id"`
	InvoiceNumber string               `json:"invoice_number"`
	Status        models.InvoiceStatus `json:"status"`
	PdfURL        string               `json:"pdf_url,omitempty"`
	ErrorMessage  string               `json:"error_message,omitempty"`
}

func invoicePayload(invoice *models.Invoice) invoiceEventPayload {
	return invoiceEventPayload{
		InvoiceID:     invoice.ID.String(),
		OrderID:       invoice.OrderID.String(),
		InvoiceNumber: invoice.InvoiceNumber,
		Status:        invoice.Status,
		PdfURL:        invoice.GeneratedPdfURL,
		ErrorMessage:  invoice.ErrorMessage,
	}
}

// InvoiceQueued confirms to the issuer that generation is underway.
func (n *Notifier) InvoiceQueued(invoice *models.Invoice) {
	n.send(invoice.IssuerID, EventInvoiceQueued, invoicePayload(invoice))
}

// InvoiceReady tells the issuer the PDF is available.
func (n *Notifier) InvoiceReady(invoice *models.Invoice) {
	n.send(invoice.IssuerID, EventInvoiceReady, invoicePayload(invoice))
}

// InvoiceFailed tells the issuer generation failed.
func (n *Notifier) InvoiceFailed(invoice *models.Invoice) {
	n.send(invoice.IssuerID, EventInvoiceFailed, invoicePayload(invoice))
}
