package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Yonatanhaile/tigray-marketplace/internal/auth"
	"github.com/Yonatanhaile/tigray-marketplace/internal/config"
	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/services"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// Gateway owns the websocket endpoint: it authenticates the upgrade,
// runs the read/write pumps, and dispatches client events to the
// services. All authorization decisions stay in the services; the
// gateway only translates between the wire and service calls.
type Gateway struct {
	cfg      *config.Config
	registry *Registry
	notifier *Notifier

	userService    services.IUserService
	orderService   services.IOrderService
	messageService services.IMessageService
	invoiceService services.IInvoiceService

	upgrader websocket.Upgrader
}

// NewGateway creates a Gateway over the given registry and services.
func NewGateway(
	cfg *config.Config,
	registry *Registry,
	notifier *Notifier,
	userService services.IUserService,
	orderService services.IOrderService,
	messageService services.IMessageService,
	invoiceService services.IInvoiceService,
) *Gateway {
	g := &Gateway{
		cfg:            cfg,
		registry:       registry,
		notifier:       notifier,
		userService:    userService,
		orderService:   orderService,
		messageService: messageService,
		invoiceService: invoiceService,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:   cfg.WsWriteBufferSize,
		WriteBufferSize:  cfg.WsWriteBufferSize,
		HandshakeTimeout: cfg.WsHandshakeDeadline,
		CheckOrigin:      g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.WsAllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range g.cfg.WsAllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// client pairs a registry session with its connection and identity.
type client struct {
	conn  *websocket.Conn
	sess  *session
	actor services.Actor
}

// HandleConnection is the gin handler for the websocket endpoint.
// Authentication happens before the upgrade so a bad token costs a
// plain 401, not a socket.
func (g *Gateway) HandleConnection(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": true, "message": "missing token"})
		return
	}

	claims, err := auth.ValidateJWT(token, g.cfg.JwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": true, "message": "invalid token"})
		return
	}
	userID, err := utils.ParseSixID(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": true, "message": "invalid token subject"})
		return
	}

	// A valid token is not enough: the account must still be live.
	active, err := g.userService.IsActive(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": true, "message": "internal error"})
		return
	}
	if !active {
		c.JSON(http.StatusUnauthorized, gin.H{"error": true, "message": "account disabled"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Printf("Websocket upgrade failed for user %s: %v", userID.String(), err)
		return
	}

	cl := &client{
		conn: conn,
		sess: &session{
			userID: userID,
			send:   make(chan *Envelope, g.cfg.WsSendQueueSize),
		},
		actor: services.Actor{ID: userID, Roles: claims.Roles},
	}
	g.registry.register(cl.sess)

	go g.writePump(cl)
	go g.readPump(cl)

	g.sendTo(cl, EventAuthSuccess, gin.H{"user_id": userID.String()})
}

// sendTo queues an event for one client only.
func (g *Gateway) sendTo(cl *client, event string, data interface{}) {
	envelope, err := NewEnvelope(event, data)
	if err != nil {
		log.Printf("Failed to build %s event: %v", event, err)
		return
	}
	if !cl.sess.enqueue(envelope) {
		g.registry.unregister(cl.sess)
	}
}

func (g *Gateway) sendError(cl *client, code int, message string) {
	g.sendTo(cl, EventError, ErrorPayload{Code: code, Message: message})
}

// writePump serializes all writes to the connection. gorilla allows one
// concurrent writer, so everything funnels through the send channel.
func (g *Gateway) writePump(cl *client) {
	ticker := time.NewTicker(g.cfg.WsPingInterval)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case envelope, ok := <-cl.sess.send:
			cl.conn.SetWriteDeadline(time.Now().Add(g.cfg.WsPingInterval))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteJSON(envelope); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(g.cfg.WsPingInterval))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client events until the connection drops, then tears
// the session down.
func (g *Gateway) readPump(cl *client) {
	defer func() {
		g.registry.unregister(cl.sess)
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(g.cfg.WsMaxMessageBytes)
	cl.conn.SetReadDeadline(time.Now().Add(g.cfg.WsPongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(g.cfg.WsPongWait))
		return nil
	})

	for {
		var envelope Envelope
		if err := cl.conn.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Websocket read error for user %s: %v", cl.actor.ID.String(), err)
			}
			return
		}
		g.dispatch(cl, &envelope)
	}
}

// dispatch routes one client event. Service errors come back to the
// same client as error events and never close the connection.
func (g *Gateway) dispatch(cl *client, envelope *Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch envelope.Event {
	case EventJoinOrder:
		err = g.handleJoinOrder(ctx, cl, envelope.Data)
	case EventLeaveOrder:
		err = g.handleLeaveOrder(cl, envelope.Data)
	case EventNewMessage:
		err = g.handleNewMessage(ctx, cl, envelope.Data)
	case EventMarkMessageRead:
		err = g.handleMarkMessageRead(ctx, cl, envelope.Data)
	case EventMarkOrderStatus:
		err = g.handleMarkOrderStatus(ctx, cl, envelope.Data)
	case EventGenerateInvoice:
		err = g.handleGenerateInvoice(ctx, cl, envelope.Data)
	case EventCreateOrderIntent:
		err = g.handleCreateOrderIntent(ctx, cl, envelope.Data)
	default:
		g.sendError(cl, http.StatusBadRequest, "unknown event: "+envelope.Event)
		return
	}

	if err != nil {
		g.sendError(cl, statusFromError(err), err.Error())
	}
}

// statusFromError maps service sentinels onto the HTTP status codes the
// REST surface would return for the same failure.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type orderRef struct {
	OrderID string `json:"order_id"`
}

func (o orderRef) parse() (utils.SixID, error) {
	id, err := utils.ParseSixID(o.OrderID)
	if err != nil {
		return utils.SixID{}, errInvalidPayload("order_id")
	}
	return id, nil
}

func errInvalidPayload(field string) error {
	return &payloadError{field: field}
}

type payloadError struct {
	field string
}

func (e *payloadError) Error() string {
	return "invalid or missing field: " + e.field
}

func (e *payloadError) Unwrap() error {
	return services.ErrValidation
}

func (g *Gateway) handleJoinOrder(ctx context.Context, cl *client, data json.RawMessage) error {
	var req orderRef
	if err := json.Unmarshal(data, &req); err != nil {
		return errInvalidPayload("order_id")
	}
	orderID, err := req.parse()
	if err != nil {
		return err
	}

	// GetOrder enforces the party/admin visibility rule before the
	// session is allowed into the room.
	order, err := g.orderService.GetOrder(ctx, orderID, cl.actor)
	if err != nil {
		return err
	}

	g.registry.join(cl.sess, orderID)
	g.sendTo(cl, EventJoinedOrder, gin.H{"order_id": orderID.String(), "status": order.Status})
	return nil
}

func (g *Gateway) handleLeaveOrder(cl *client, data json.RawMessage) error {
	var req orderRef
	if err := json.Unmarshal(data, &req); err != nil {
		return errInvalidPayload("order_id")
	}
	orderID, err := req.parse()
	if err != nil {
		return err
	}

	g.registry.leave(cl.sess, orderID)
	g.sendTo(cl, EventLeftOrder, gin.H{"order_id": orderID.String()})
	return nil
}

func (g *Gateway) handleNewMessage(ctx context.Context, cl *client, data json.RawMessage) error {
	var req struct {
		orderRef
		Text        string              `json:"text"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errInvalidPayload("message")
	}
	orderID, err := req.parse()
	if err != nil {
		return err
	}

	message, err := g.messageService.SendMessage(ctx, orderID, cl.actor, req.Text, req.Attachments)
	if err != nil {
		return err
	}

	g.notifier.MessageSent(message)
	return nil
}

func (g *Gateway) handleMarkMessageRead(ctx context.Context, cl *client, data json.RawMessage) error {
	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errInvalidPayload("message_id")
	}
	messageID, err := utils.ParseSixID(req.MessageID)
	if err != nil {
		return errInvalidPayload("message_id")
	}

	message, err := g.messageService.MarkRead(ctx, messageID, cl.actor)
	if err != nil {
		return err
	}

	g.notifier.MessageRead(message)
	return nil
}

func (g *Gateway) handleMarkOrderStatus(ctx context.Context, cl *client, data json.RawMessage) error {
	var req struct {
		orderRef
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errInvalidPayload("status")
	}
	orderID, err := req.parse()
	if err != nil {
		return err
	}

	order, err := g.orderService.TransitionStatus(ctx, orderID, cl.actor, models.OrderStatus(req.Status), req.Note)
	if err != nil {
		return err
	}

	g.notifier.OrderStatusChanged(order, cl.actor.ID)
	return nil
}

func (g *Gateway) handleGenerateInvoice(ctx context.Context, cl *client, data json.RawMessage) error {
	var req orderRef
	if err := json.Unmarshal(data, &req); err != nil {
		return errInvalidPayload("order_id")
	}
	orderID, err := req.parse()
	if err != nil {
		return err
	}

	invoice, queued, err := g.invoiceService.RequestInvoice(ctx, orderID, cl.actor)
	if err != nil {
		return err
	}

	if queued {
		g.notifier.InvoiceQueued(invoice)
	} else {
		// A completed invoice already existed; short-circuit to ready.
		g.notifier.InvoiceReady(invoice)
	}
	return nil
}

func (g *Gateway) handleCreateOrderIntent(ctx context.Context, cl *client, data json.RawMessage) error {
	var req struct {
		ListingID     string              `json:"listing_id"`
		PaymentMethod string              `json:"payment_method"`
		MeetingInfo   *models.MeetingInfo `json:"meeting_info"`
		Note          string              `json:"note"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errInvalidPayload("listing_id")
	}
	listingID, err := utils.ParseSixID(req.ListingID)
	if err != nil {
		return errInvalidPayload("listing_id")
	}

	order, err := g.orderService.CreateOrder(ctx, listingID, cl.actor, req.PaymentMethod, req.MeetingInfo, req.Note)
	if err != nil {
		return err
	}

	g.notifier.OrderCreated(order)
	g.sendTo(cl, EventOrderCreated, order)
	return nil
}
