package realtime

import (
	"encoding/json"
	"fmt"
)

// Client-to-server event names.
const (
	EventJoinOrder         = "join_order"
	EventLeaveOrder        = "leave_order"
	EventNewMessage        = "new_message" // also the server-side fan-out of a stored message
	EventMarkMessageRead   = "mark_message_read"
	EventMarkOrderStatus   = "mark_order_status"
	EventGenerateInvoice   = "generate_invoice"
	EventCreateOrderIntent = "create_order_intent"
)

// Server-to-client event names.
const (
	EventAuthSuccess   = "auth_success"
	EventJoinedOrder   = "joined_order"
	EventOrderCreated  = "order_created"
	EventLeftOrder     = "left_order"
	EventOrderUpdate   = "order_update"
	EventMessageSent   = "message_sent"
	EventMessageRead   = "message_read"
	EventMessagesRead  = "messages_read"
	EventNotification  = "notification"
	EventInvoiceQueued = "invoice_queued"
	EventInvoiceReady  = "invoice_ready"
	EventInvoiceFailed = "invoice_failed"
	EventError         = "error"
)

// Notification sub-types carried in the "type" field of a notification event.
const (
	NotificationNewOrder           = "new_order"
	NotificationNewMessage         = "new_message"
	NotificationOrderStatusChanged = "order_status_changed"
	NotificationNewDispute         = "new_dispute"
	NotificationDisputeResolved    = "dispute_resolved"
)

// Envelope is the wire frame for every websocket message in both
// directions: a discriminator event name plus a raw payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope for sending.
func NewEnvelope(event string, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return &Envelope{Event: event, Data: raw}, nil
}

// ErrorPayload is sent on the error event. Code mirrors the HTTP status
// the same failure would produce on the REST surface.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
