package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Yonatanhaile/tigray-marketplace/internal/api/handlers"
	"github.com/Yonatanhaile/tigray-marketplace/internal/api/middleware"
	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/realtime"
	"github.com/Yonatanhaile/tigray-marketplace/internal/services"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

func orderOrNil(args mock.Arguments, i int) *models.Order {
	if v := args.Get(i); v != nil {
		return v.(*models.Order)
	}
	return nil
}

// mockOrderService is a testify mock for services.IOrderService.
type mockOrderService struct {
	mock.Mock
}

var _ services.IOrderService = (*mockOrderService)(nil)

func (m *mockOrderService) CreateOrder(ctx context.Context, listingID utils.SixID, buyer services.Actor, paymentMethod string, meetingInfo *models.MeetingInfo, buyerNote string) (*models.Order, error) {
	args := m.Called(ctx, listingID, buyer, paymentMethod, meetingInfo, buyerNote)
	return orderOrNil(args, 0), args.Error(1)
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderID utils.SixID, requester services.Actor) (*models.Order, error) {
	args := m.Called(ctx, orderID, requester)
	return orderOrNil(args, 0), args.Error(1)
}

func (m *mockOrderService) ListMyOrders(ctx context.Context, userID utils.SixID, role models.Role, status *models.OrderStatus, page, limit int) ([]models.Order, int64, error) {
	args := m.Called(ctx, userID, role, status, page, limit)
	var orders []models.Order
	if v := args.Get(0); v != nil {
		orders = v.([]models.Order)
	}
	return orders, args.Get(1).(int64), args.Error(2)
}

func (m *mockOrderService) TransitionStatus(ctx context.Context, orderID utils.SixID, actor services.Actor, newStatus models.OrderStatus, note string) (*models.Order, error) {
	args := m.Called(ctx, orderID, actor, newStatus, note)
	return orderOrNil(args, 0), args.Error(1)
}

func (m *mockOrderService) AddPaymentEvidence(ctx context.Context, orderID utils.SixID, actor services.Actor, evidenceURL string) (*models.Order, error) {
	args := m.Called(ctx, orderID, actor, evidenceURL)
	return orderOrNil(args, 0), args.Error(1)
}

func (m *mockOrderService) UpdateMeetingInfo(ctx context.Context, orderID utils.SixID, actor services.Actor, info models.MeetingInfo) (*models.Order, error) {
	args := m.Called(ctx, orderID, actor, info)
	return orderOrNil(args, 0), args.Error(1)
}

func (m *mockOrderService) SetSellerNote(ctx context.Context, orderID utils.SixID, actor services.Actor, note string) (*models.Order, error) {
	args := m.Called(ctx, orderID, actor, note)
	return orderOrNil(args, 0), args.Error(1)
}

func (m *mockOrderService) MarkDisputed(ctx context.Context, orderID, reporterID utils.SixID) (*models.Order, error) {
	args := m.Called(ctx, orderID, reporterID)
	return orderOrNil(args, 0), args.Error(1)
}

func (m *mockOrderService) ReopenFromDispute(ctx context.Context, orderID, adminID utils.SixID, note string) (*models.Order, error) {
	args := m.Called(ctx, orderID, adminID, note)
	return orderOrNil(args, 0), args.Error(1)
}

func (m *mockOrderService) CancelFromDispute(ctx context.Context, orderID, adminID utils.SixID, note string) (*models.Order, error) {
	args := m.Called(ctx, orderID, adminID, note)
	return orderOrNil(args, 0), args.Error(1)
}

// recordingBroadcaster captures realtime emissions for assertions.
type recordingBroadcaster struct {
	roomEvents []*realtime.Envelope
	userEvents []*realtime.Envelope
}

func (b *recordingBroadcaster) BroadcastToOrder(orderID utils.SixID, envelope *realtime.Envelope, exclude ...utils.SixID) {
	b.roomEvents = append(b.roomEvents, envelope)
}

func (b *recordingBroadcaster) SendToUser(userID utils.SixID, envelope *realtime.Envelope) {
	b.userEvents = append(b.userEvents, envelope)
}

// orderRouter mounts the PATCH endpoint with the actor preinstalled, the
// way AuthMiddleware would leave it.
func orderRouter(h *handlers.OrderHandler, actor services.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.PATCH("/orders/:id", func(c *gin.Context) {
		c.Set(middleware.ContextKeyActor, actor)
	}, h.UpdateOrder)
	return r
}

func patchOrder(t *testing.T, r *gin.Engine, orderID string, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPatch, "/orders/"+orderID, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sellerActorAndOrder() (services.Actor, *models.Order) {
	actor := services.Actor{ID: utils.NewSixID(), Roles: []models.Role{models.RoleSeller}}
	order := &models.Order{
		BuyerID:  utils.NewSixID(),
		SellerID: actor.ID,
		Status:   models.OrderStatusSellerConfirmed,
		StatusHistory: []models.StatusChange{
			{Status: models.OrderStatusRequested, Timestamp: time.Now().UTC().Add(-time.Hour)},
			{Status: models.OrderStatusSellerConfirmed, Timestamp: time.Now().UTC()},
		},
	}
	order.GenID()
	return actor, order
}

func TestUpdateOrder_StatusChangeFansOut(t *testing.T) {
	actor, order := sellerActorAndOrder()
	orderSvc := new(mockOrderService)
	broadcaster := &recordingBroadcaster{}
	h := handlers.NewOrderHandler(orderSvc, nil, realtime.NewNotifier(broadcaster))

	orderSvc.On("TransitionStatus", mock.Anything, order.ID, actor, models.OrderStatusSellerConfirmed, "").
		Return(order, nil)

	w := patchOrder(t, orderRouter(h, actor), order.ID.String(), map[string]interface{}{
		"status": "seller_confirmed",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, broadcaster.roomEvents, 1)
	assert.Equal(t, realtime.EventOrderUpdate, broadcaster.roomEvents[0].Event)
	require.Len(t, broadcaster.userEvents, 1, "counterparty notification")
	orderSvc.AssertExpectations(t)
}

func TestUpdateOrder_StatusFanOutSurvivesLaterFailure(t *testing.T) {
	actor, order := sellerActorAndOrder()
	orderSvc := new(mockOrderService)
	broadcaster := &recordingBroadcaster{}
	h := handlers.NewOrderHandler(orderSvc, nil, realtime.NewNotifier(broadcaster))

	orderSvc.On("TransitionStatus", mock.Anything, order.ID, actor, models.OrderStatusSellerConfirmed, "").
		Return(order, nil)
	orderSvc.On("AddPaymentEvidence", mock.Anything, order.ID, actor, "https://files.example.com/x.png").
		Return(nil, fmt.Errorf("evidence rejected: %w", services.ErrValidation))

	w := patchOrder(t, orderRouter(h, actor), order.ID.String(), map[string]interface{}{
		"status":               "seller_confirmed",
		"payment_evidence_url": "https://files.example.com/x.png",
	})

	// The request fails on the evidence update, but the persisted status
	// change still reached the room and the counterparty.
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, broadcaster.roomEvents, 1)
	assert.Equal(t, realtime.EventOrderUpdate, broadcaster.roomEvents[0].Event)
	require.Len(t, broadcaster.userEvents, 1)
	orderSvc.AssertExpectations(t)
}

func TestUpdateOrder_NoStatusChangeNoFanOut(t *testing.T) {
	actor, order := sellerActorAndOrder()
	orderSvc := new(mockOrderService)
	broadcaster := &recordingBroadcaster{}
	h := handlers.NewOrderHandler(orderSvc, nil, realtime.NewNotifier(broadcaster))

	orderSvc.On("AddPaymentEvidence", mock.Anything, order.ID, actor, "https://files.example.com/x.png").
		Return(order, nil)

	w := patchOrder(t, orderRouter(h, actor), order.ID.String(), map[string]interface{}{
		"payment_evidence_url": "https://files.example.com/x.png",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, broadcaster.roomEvents)
	assert.Empty(t, broadcaster.userEvents)
	orderSvc.AssertExpectations(t)
}
