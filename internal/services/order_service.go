package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Yonatanhaile/tigray-marketplace/internal/config"
	"github.com/Yonatanhaile/tigray-marketplace/internal/db"
	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// IOrderService defines the interface for the order state machine.
type IOrderService interface {
	CreateOrder(ctx context.Context, listingID utils.SixID, buyer Actor, paymentMethod string, meetingInfo *models.MeetingInfo, buyerNote string) (*models.Order, error)
	GetOrder(ctx context.Context, orderID utils.SixID, requester Actor) (*models.Order, error)
	ListMyOrders(ctx context.Context, userID utils.SixID, role models.Role, status *models.OrderStatus, page, limit int) ([]models.Order, int64, error)
	TransitionStatus(ctx context.Context, orderID utils.SixID, actor Actor, newStatus models.OrderStatus, note string) (*models.Order, error)
	AddPaymentEvidence(ctx context.Context, orderID utils.SixID, actor Actor, evidenceURL string) (*models.Order, error)
	UpdateMeetingInfo(ctx context.Context, orderID utils.SixID, actor Actor, info models.MeetingInfo) (*models.Order, error)
	SetSellerNote(ctx context.Context, orderID utils.SixID, actor Actor, note string) (*models.Order, error)

	// MarkDisputed and ReopenFromDispute are the dispute overlay's entry
	// points into the state machine. MarkDisputed bypasses the seller/admin
	// gate because dispute filing is system-triggered, not a manual edit.
	MarkDisputed(ctx context.Context, orderID, reporterID utils.SixID) (*models.Order, error)
	ReopenFromDispute(ctx context.Context, orderID, adminID utils.SixID, note string) (*models.Order, error)
	CancelFromDispute(ctx context.Context, orderID, adminID utils.SixID, note string) (*models.Order, error)
}

const ordersCollection = "orders"

// orderService implements IOrderService.
type orderService struct {
	db             *mongo.Database
	cfg            *config.Config
	listingService IListingService
}

// NewOrderService creates a new OrderService.
func NewOrderService(db *mongo.Database, cfg *config.Config, listingService IListingService) IOrderService {
	return &orderService{db: db, cfg: cfg, listingService: listingService}
}

// CreateOrder records a buyer's intent to purchase an active listing.
// Price, currency and payment method are snapshotted from the listing at
// this moment; later listing changes never affect the order.
func (s *orderService) CreateOrder(ctx context.Context, listingID utils.SixID, buyer Actor, paymentMethod string, meetingInfo *models.MeetingInfo, buyerNote string) (*models.Order, error) {
	listing, err := s.listingService.FindActiveByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("listing not available: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up listing %s: %w", listingID.String(), err)
	}

	if listing.SellerID == buyer.ID {
		return nil, fmt.Errorf("you cannot purchase your own listing: %w", ErrInvalidOperation)
	}
	if !listing.AcceptsPaymentMethod(paymentMethod) {
		return nil, fmt.Errorf("payment method %q not available for this listing: %w", paymentMethod, ErrInvalidOperation)
	}

	now := time.Now().UTC()
	order := &models.Order{
		Base:                  models.NewBase(),
		ListingID:             listingID,
		BuyerID:               buyer.ID,
		SellerID:              listing.SellerID,
		Status:                models.OrderStatusRequested,
		PaymentStatus:         models.PaymentStatusNone,
		SelectedPaymentMethod: paymentMethod,
		PriceAgreed:           listing.Price,
		Currency:              listing.Currency,
		BuyerNote:             buyerNote,
		PaymentEvidence:       []models.PaymentEvidence{},
		StatusHistory: []models.StatusChange{{
			Status:    models.OrderStatusRequested,
			ChangedBy: buyer.ID,
			Timestamp: now,
			Note:      "Order intent created",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if meetingInfo != nil {
		order.MeetingInfo = *meetingInfo
	}

	collection := s.db.Collection(ordersCollection)
	operation := func() error {
		order.GenID()
		_, insertErr := collection.InsertOne(ctx, order)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert order for listing %s, buyer %s: %w",
			listingID.String(), buyer.ID.String(), err)
	}

	return order, nil
}

// findOrder fetches an order without any authorization check.
func (s *orderService) findOrder(ctx context.Context, orderID utils.SixID) (*models.Order, error) {
	var order models.Order
	err := s.db.Collection(ordersCollection).FindOne(ctx, bson.M{"_id": orderID}).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("order %s: %w", orderID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding order %s: %w", orderID.String(), err)
	}
	return &order, nil
}

// GetOrder fetches an order visible only to its buyer, its seller, or an admin.
func (s *orderService) GetOrder(ctx context.Context, orderID utils.SixID, requester Actor) (*models.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(requester.ID) && !requester.IsAdmin() {
		return nil, fmt.Errorf("you do not have permission to view this order: %w", ErrForbidden)
	}
	return order, nil
}

// ListMyOrders returns the user's own orders, newest first, with a total count.
func (s *orderService) ListMyOrders(ctx context.Context, userID utils.SixID, role models.Role, status *models.OrderStatus, page, limit int) ([]models.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	filter := bson.M{"buyer_id": userID}
	if role == models.RoleSeller {
		filter = bson.M{"seller_id": userID}
	}
	if status != nil {
		filter["status"] = *status
	}

	collection := s.db.Collection(ordersCollection)
	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count orders for user %s: %w", userID.String(), err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query orders for user %s: %w", userID.String(), err)
	}
	defer cursor.Close(ctx)

	var orders []models.Order
	if err = cursor.All(ctx, &orders); err != nil {
		return nil, 0, fmt.Errorf("failed to decode orders for user %s: %w", userID.String(), err)
	}
	return orders, total, nil
}

// canCancel applies the cancellation policy: the seller or an admin may
// cancel from any non-terminal state; the buyer only while the order is
// still merely requested (unless the relaxed policy is configured).
func (s *orderService) canCancel(order *models.Order, actor Actor) bool {
	if actor.IsAdmin() || actor.ID == order.SellerID {
		return true
	}
	if actor.ID == order.BuyerID {
		if s.cfg != nil && s.cfg.BuyerCancelAnyState {
			return true
		}
		return order.Status == models.OrderStatusRequested
	}
	return false
}

// TransitionStatus advances the order state machine. The write pins the
// expected current status in the filter and carries the history append in
// the same update document, so two racing transitions cannot both succeed
// and history stays atomic with the status change.
func (s *orderService) TransitionStatus(ctx context.Context, orderID utils.SixID, actor Actor, newStatus models.OrderStatus, note string) (*models.Order, error) {
	if !models.ValidOrderStatus(newStatus) {
		return nil, fmt.Errorf("unknown order status %q: %w", newStatus, ErrValidation)
	}
	if newStatus == models.OrderStatusDisputed {
		// Disputed is only reachable through the dispute overlay.
		return nil, fmt.Errorf("orders are disputed by filing a dispute, not by a status edit: %w", ErrInvalidTransition)
	}

	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(actor.ID) && !actor.IsAdmin() {
		return nil, fmt.Errorf("you do not have permission to update this order: %w", ErrForbidden)
	}

	if newStatus == models.OrderStatusCancelled {
		if !s.canCancel(order, actor) {
			return nil, fmt.Errorf("cancellation not permitted for user %s in status %s: %w",
				actor.ID.String(), order.Status, ErrUnauthorized)
		}
	} else {
		// Forward moves are seller/admin only.
		if actor.ID != order.SellerID && !actor.IsAdmin() {
			return nil, fmt.Errorf("only the seller or an admin may advance order status: %w", ErrUnauthorized)
		}
	}

	if !models.CanTransition(order.Status, newStatus) {
		return nil, fmt.Errorf("cannot move order from %s to %s: %w", order.Status, newStatus, ErrInvalidTransition)
	}

	set := bson.M{
		"status":     newStatus,
		"updated_at": time.Now().UTC(),
	}
	if newStatus == models.OrderStatusPaidOffsite {
		set["payment_status"] = models.PaymentStatusPaidOffsite
	}

	return s.applyTransition(ctx, orderID, order.Status, actor.ID, newStatus, note, set)
}

// applyTransition performs the compare-and-set write shared by normal,
// dispute-triggered and reopen transitions. expectedStatus is the status
// the caller observed; a mismatch at write time reports ErrConflict.
func (s *orderService) applyTransition(ctx context.Context, orderID utils.SixID, expectedStatus models.OrderStatus, changedBy utils.SixID, newStatus models.OrderStatus, note string, set bson.M) (*models.Order, error) {
	entry := models.StatusChange{
		Status:    newStatus,
		ChangedBy: changedBy,
		Timestamp: time.Now().UTC(),
		Note:      note,
	}

	filter := bson.M{"_id": orderID, "status": expectedStatus}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"status_history": entry},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Order
	err := s.db.Collection(ordersCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to transition order %s to %s: %w", orderID.String(), newStatus, err)
	}

	// Either the order vanished or a concurrent transition won the race.
	current, findErr := s.findOrder(ctx, orderID)
	if findErr != nil {
		return nil, findErr
	}
	return nil, fmt.Errorf("order %s moved from %s to %s concurrently: %w",
		orderID.String(), expectedStatus, current.Status, ErrConflict)
}

// AddPaymentEvidence appends one immutable evidence entry. Either party
// may do this in any status; evidence is never removed.
func (s *orderService) AddPaymentEvidence(ctx context.Context, orderID utils.SixID, actor Actor, evidenceURL string) (*models.Order, error) {
	if evidenceURL == "" {
		return nil, fmt.Errorf("evidence url is required: %w", ErrValidation)
	}

	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(actor.ID) && !actor.IsAdmin() {
		return nil, fmt.Errorf("you do not have permission to update this order: %w", ErrForbidden)
	}

	entry := models.PaymentEvidence{
		URL:        evidenceURL,
		UploadedBy: actor.ID,
		UploadedAt: time.Now().UTC(),
	}
	update := bson.M{
		"$push": bson.M{"payment_evidence": entry},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Order
	if err := s.db.Collection(ordersCollection).FindOneAndUpdate(ctx, bson.M{"_id": orderID}, update, opts).Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("order %s: %w", orderID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to add payment evidence to order %s: %w", orderID.String(), err)
	}
	return &updated, nil
}

// UpdateMeetingInfo shallow-merges the provided fields into meeting_info.
// Fields absent from the partial update are left untouched.
func (s *orderService) UpdateMeetingInfo(ctx context.Context, orderID utils.SixID, actor Actor, info models.MeetingInfo) (*models.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(actor.ID) && !actor.IsAdmin() {
		return nil, fmt.Errorf("you do not have permission to update this order: %w", ErrForbidden)
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if info.Date != nil {
		set["meeting_info.date"] = *info.Date
	}
	if info.Place != "" {
		set["meeting_info.place"] = info.Place
	}
	if info.Notes != "" {
		set["meeting_info.notes"] = info.Notes
	}
	if len(set) == 1 {
		return nil, fmt.Errorf("no meeting info fields provided: %w", ErrValidation)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Order
	if err := s.db.Collection(ordersCollection).FindOneAndUpdate(ctx, bson.M{"_id": orderID}, bson.M{"$set": set}, opts).Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("order %s: %w", orderID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update meeting info on order %s: %w", orderID.String(), err)
	}
	return &updated, nil
}

// SetSellerNote sets the seller's free-text note on the order.
func (s *orderService) SetSellerNote(ctx context.Context, orderID utils.SixID, actor Actor, note string) (*models.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.ID != order.SellerID && !actor.IsAdmin() {
		return nil, fmt.Errorf("only the seller or an admin may set the seller note: %w", ErrUnauthorized)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	update := bson.M{"$set": bson.M{"seller_note": note, "updated_at": time.Now().UTC()}}
	var updated models.Order
	if err := s.db.Collection(ordersCollection).FindOneAndUpdate(ctx, bson.M{"_id": orderID}, update, opts).Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("order %s: %w", orderID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to set seller note on order %s: %w", orderID.String(), err)
	}
	return &updated, nil
}

// MarkDisputed forces the order into disputed/disputed. This is the one
// transition not gated on the seller/admin rule: it is triggered by the
// dispute overlay on behalf of whichever party filed.
func (s *orderService) MarkDisputed(ctx context.Context, orderID, reporterID utils.SixID) (*models.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(order.Status) || order.Status == models.OrderStatusDisputed {
		return nil, fmt.Errorf("order %s in status %s cannot be disputed: %w", orderID.String(), order.Status, ErrInvalidTransition)
	}

	set := bson.M{
		"status":         models.OrderStatusDisputed,
		"payment_status": models.PaymentStatusDisputed,
		"updated_at":     time.Now().UTC(),
	}
	return s.applyTransition(ctx, orderID, order.Status, reporterID, models.OrderStatusDisputed, "Dispute filed", set)
}

// ReopenFromDispute returns a disputed order to its last pre-dispute
// status. Called by the dispute overlay when an admin resolves a dispute
// in favor of completing the transaction.
func (s *orderService) ReopenFromDispute(ctx context.Context, orderID, adminID utils.SixID, note string) (*models.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusDisputed {
		return nil, fmt.Errorf("order %s is not disputed: %w", orderID.String(), ErrInvalidTransition)
	}

	previous, ok := order.LastStatusBefore(models.OrderStatusDisputed)
	if !ok {
		return nil, fmt.Errorf("order %s has no pre-dispute status in history: %w", orderID.String(), ErrInvalidOperation)
	}

	set := bson.M{
		"status":     previous,
		"updated_at": time.Now().UTC(),
	}
	// Roll the payment flag back off disputed; paid orders stay paid.
	if previous == models.OrderStatusPaidOffsite || previous == models.OrderStatusShipped ||
		previous == models.OrderStatusCollected {
		set["payment_status"] = models.PaymentStatusPaidOffsite
	} else {
		set["payment_status"] = models.PaymentStatusNone
	}
	return s.applyTransition(ctx, orderID, models.OrderStatusDisputed, adminID, previous, note, set)
}

// CancelFromDispute moves a disputed order to cancelled as part of a
// dispute resolution. Kept on the service so dispute resolution uses the
// same compare-and-set path as every other transition.
func (s *orderService) CancelFromDispute(ctx context.Context, orderID, adminID utils.SixID, note string) (*models.Order, error) {
	set := bson.M{
		"status":     models.OrderStatusCancelled,
		"updated_at": time.Now().UTC(),
	}
	return s.applyTransition(ctx, orderID, models.OrderStatusDisputed, adminID, models.OrderStatusCancelled, note, set)
}
