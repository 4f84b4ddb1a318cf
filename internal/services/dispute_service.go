package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Yonatanhaile/tigray-marketplace/internal/config"
	"github.com/Yonatanhaile/tigray-marketplace/internal/db"
	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// DisputeOutcome chooses what happens to the parent order when a dispute
// is resolved. The reference behavior is unconditional cancellation; a
// dispute resolved in favor of completing the transaction reopens the
// order to its pre-dispute status instead.
type DisputeOutcome string

const (
	OutcomeCancelOrder DisputeOutcome = "cancel_order"
	OutcomeReopenOrder DisputeOutcome = "reopen_order"
)

// EmailEnqueuer queues an email for background delivery. Implemented by
// the tasks package over asynq; an interface for the same reason as
// InvoiceEnqueuer, so service tests don't need a running Redis.
type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, to, subject, body string) error
}

// IDisputeService defines the interface for the dispute overlay.
type IDisputeService interface {
	FileDispute(ctx context.Context, orderID utils.SixID, reporter Actor, reason string, category models.DisputeCategory, attachments []models.Attachment) (*models.Dispute, error)
	GetDispute(ctx context.Context, disputeID utils.SixID, requester Actor) (*models.Dispute, error)
	ListMyDisputes(ctx context.Context, userID utils.SixID, status *models.DisputeStatus, page, limit int) ([]models.Dispute, int64, error)
	AddComment(ctx context.Context, disputeID utils.SixID, commenter Actor, text string) (*models.Dispute, error)
	ResolveDispute(ctx context.Context, disputeID utils.SixID, admin Actor, newStatus models.DisputeStatus, adminNotes, resolution string, outcome DisputeOutcome) (*models.Dispute, error)
}

const disputesCollection = "disputes"

// disputeService implements IDisputeService.
type disputeService struct {
	db            *mongo.Database
	cfg           *config.Config
	orderService  IOrderService
	emailEnqueuer EmailEnqueuer
}

// NewDisputeService creates a new DisputeService.
func NewDisputeService(db *mongo.Database, cfg *config.Config, orderService IOrderService, emailEnqueuer EmailEnqueuer) IDisputeService {
	return &disputeService{db: db, cfg: cfg, orderService: orderService, emailEnqueuer: emailEnqueuer}
}

// FileDispute opens a dispute on an order and freezes the order's
// progression by forcing it to disputed/disputed. At most one dispute per
// order may be open or under review; a second attempt reports the
// existing dispute's id so the client can navigate to it.
func (s *disputeService) FileDispute(ctx context.Context, orderID utils.SixID, reporter Actor, reason string, category models.DisputeCategory, attachments []models.Attachment) (*models.Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("dispute reason is required: %w", ErrValidation)
	}
	if len(reason) > models.MaxDisputeReasonLength {
		return nil, fmt.Errorf("dispute reason exceeds %d characters: %w", models.MaxDisputeReasonLength, ErrValidation)
	}
	if category == "" {
		category = models.DisputeCategoryOther
	}
	if !models.ValidDisputeCategory(category) {
		return nil, fmt.Errorf("unknown dispute category %q: %w", category, ErrValidation)
	}

	order, err := s.orderService.GetOrder(ctx, orderID, reporter)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(reporter.ID) {
		return nil, fmt.Errorf("you do not have permission to file a dispute for this order: %w", ErrForbidden)
	}

	collection := s.db.Collection(disputesCollection)

	var existing models.Dispute
	activeFilter := bson.M{
		"order_id": orderID,
		"status":   bson.M{"$in": []models.DisputeStatus{models.DisputeStatusOpen, models.DisputeStatusUnderReview}},
	}
	err = collection.FindOne(ctx, activeFilter).Decode(&existing)
	if err == nil {
		return nil, &DisputeExistsError{DisputeID: existing.ID}
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("error checking active dispute for order %s: %w", orderID.String(), err)
	}

	// Freeze the order before recording the dispute. MarkDisputed is a
	// compare-and-set on the order's current status, so of two concurrent
	// filers exactly one reaches the insert below; a terminal or already
	// disputed order rejects here and never produces a dispute document.
	if _, err := s.orderService.MarkDisputed(ctx, orderID, reporter.ID); err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrConflict) {
			// A racing filer may have frozen the order after our active
			// check above; point at its dispute if it landed already.
			var racing models.Dispute
			if ferr := collection.FindOne(ctx, activeFilter).Decode(&racing); ferr == nil {
				return nil, &DisputeExistsError{DisputeID: racing.ID}
			}
		}
		return nil, err
	}

	if attachments == nil {
		attachments = []models.Attachment{}
	}
	now := time.Now().UTC()
	dispute := &models.Dispute{
		OrderID:     orderID,
		ReporterID:  reporter.ID,
		Reason:      reason,
		Category:    category,
		Attachments: attachments,
		Status:      models.DisputeStatusOpen,
		Comments:    []models.DisputeComment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	operation := func() error {
		dispute.GenID()
		_, insertErr := collection.InsertOne(ctx, dispute)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		// The order is frozen but the dispute record never landed; undo
		// the freeze so the order is not stuck in disputed with no
		// active dispute behind it.
		if _, rerr := s.orderService.ReopenFromDispute(ctx, orderID, reporter.ID, "Dispute filing failed"); rerr != nil {
			log.Printf("CRITICAL: order %s marked disputed but dispute insert and reopen both failed: insert=%v reopen=%v",
				orderID.String(), err, rerr)
		}
		return nil, fmt.Errorf("failed to insert dispute for order %s: %w", orderID.String(), err)
	}

	s.notifyAdmin(ctx, dispute, order)

	return dispute, nil
}

// notifyAdmin queues an email to the admin inbox about a new dispute.
// Best effort: delivery rides the background email task, and an enqueue
// failure never fails the filing.
func (s *disputeService) notifyAdmin(ctx context.Context, dispute *models.Dispute, order *models.Order) {
	if s.emailEnqueuer == nil || s.cfg == nil || s.cfg.AdminEmail == "" {
		return
	}
	subject := fmt.Sprintf("New dispute %s on order %s", dispute.ID.String(), order.ID.String())
	body := fmt.Sprintf("Category: %s\nReporter: %s\nReason: %s\n",
		dispute.Category, dispute.ReporterID.String(), dispute.Reason)
	if err := s.emailEnqueuer.EnqueueEmail(ctx, s.cfg.AdminEmail, subject, body); err != nil {
		log.Printf("Failed to enqueue dispute notification email for dispute %s: %v", dispute.ID.String(), err)
	}
}

// findDispute fetches a dispute without authorization checks.
func (s *disputeService) findDispute(ctx context.Context, disputeID utils.SixID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := s.db.Collection(disputesCollection).FindOne(ctx, bson.M{"_id": disputeID}).Decode(&dispute)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("dispute %s: %w", disputeID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding dispute %s: %w", disputeID.String(), err)
	}
	return &dispute, nil
}

// GetDispute fetches a dispute visible to the order parties, the reporter,
// or an admin.
func (s *disputeService) GetDispute(ctx context.Context, disputeID utils.SixID, requester Actor) (*models.Dispute, error) {
	dispute, err := s.findDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDisputeAccess(ctx, dispute, requester); err != nil {
		return nil, err
	}
	return dispute, nil
}

func (s *disputeService) authorizeDisputeAccess(ctx context.Context, dispute *models.Dispute, requester Actor) error {
	if requester.IsAdmin() || dispute.ReporterID == requester.ID {
		return nil
	}
	var order models.Order
	err := s.db.Collection(ordersCollection).FindOne(ctx, bson.M{"_id": dispute.OrderID}).Decode(&order)
	if err != nil {
		return fmt.Errorf("error finding order %s for dispute %s: %w", dispute.OrderID.String(), dispute.ID.String(), err)
	}
	if !order.IsParty(requester.ID) {
		return fmt.Errorf("you do not have permission to view this dispute: %w", ErrForbidden)
	}
	return nil
}

// ListMyDisputes returns disputes on orders where the user is a party,
// newest first.
func (s *disputeService) ListMyDisputes(ctx context.Context, userID utils.SixID, status *models.DisputeStatus, page, limit int) ([]models.Dispute, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	// Resolve the user's order ids first; disputes reference orders, and
	// a party may view disputes they did not file.
	orderCursor, err := s.db.Collection(ordersCollection).Find(ctx, bson.M{
		"$or": []bson.M{{"buyer_id": userID}, {"seller_id": userID}},
	}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query orders for user %s: %w", userID.String(), err)
	}
	defer orderCursor.Close(ctx)

	var orderDocs []struct {
		ID utils.SixID `bson:"_id"`
	}
	if err = orderCursor.All(ctx, &orderDocs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode order ids for user %s: %w", userID.String(), err)
	}
	orderIDs := make([]utils.SixID, 0, len(orderDocs))
	for _, doc := range orderDocs {
		orderIDs = append(orderIDs, doc.ID)
	}

	filter := bson.M{"order_id": bson.M{"$in": orderIDs}}
	if status != nil {
		filter["status"] = *status
	}

	collection := s.db.Collection(disputesCollection)
	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count disputes for user %s: %w", userID.String(), err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query disputes for user %s: %w", userID.String(), err)
	}
	defer cursor.Close(ctx)

	var disputes []models.Dispute
	if err = cursor.All(ctx, &disputes); err != nil {
		return nil, 0, fmt.Errorf("failed to decode disputes for user %s: %w", userID.String(), err)
	}
	return disputes, total, nil
}

// AddComment appends a comment to the dispute thread. Admin comments are
// flagged so the client can render them distinctly.
func (s *disputeService) AddComment(ctx context.Context, disputeID utils.SixID, commenter Actor, text string) (*models.Dispute, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("comment text is required: %w", ErrValidation)
	}

	dispute, err := s.findDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDisputeAccess(ctx, dispute, commenter); err != nil {
		return nil, err
	}

	comment := models.DisputeComment{
		UserID:         commenter.ID,
		Text:           text,
		Timestamp:      time.Now().UTC(),
		IsAdminComment: commenter.IsAdmin(),
	}
	update := bson.M{
		"$push": bson.M{"comments": comment},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Dispute
	if err := s.db.Collection(disputesCollection).FindOneAndUpdate(ctx, bson.M{"_id": disputeID}, update, opts).Decode(&updated); err != nil {
		return nil, fmt.Errorf("failed to add comment to dispute %s: %w", disputeID.String(), err)
	}
	return &updated, nil
}

// ResolveDispute sets the dispute's review fields and applies the chosen
// order outcome. Admin only. Resolution to resolved/rejected is final; the
// order leaves disputed either to cancelled (default, reference behavior)
// or back to its pre-dispute status.
func (s *disputeService) ResolveDispute(ctx context.Context, disputeID utils.SixID, admin Actor, newStatus models.DisputeStatus, adminNotes, resolution string, outcome DisputeOutcome) (*models.Dispute, error) {
	if !admin.IsAdmin() {
		return nil, fmt.Errorf("administrator privileges required: %w", ErrUnauthorized)
	}
	switch newStatus {
	case models.DisputeStatusUnderReview, models.DisputeStatusResolved, models.DisputeStatusRejected:
	default:
		return nil, fmt.Errorf("cannot set dispute status to %q: %w", newStatus, ErrValidation)
	}
	if outcome == "" {
		outcome = OutcomeCancelOrder
	}
	if outcome != OutcomeCancelOrder && outcome != OutcomeReopenOrder {
		return nil, fmt.Errorf("unknown dispute outcome %q: %w", outcome, ErrValidation)
	}

	dispute, err := s.findDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !models.IsActiveDisputeStatus(dispute.Status) {
		return nil, fmt.Errorf("dispute %s is already %s: %w", disputeID.String(), dispute.Status, ErrInvalidOperation)
	}

	now := time.Now().UTC()
	set := bson.M{
		"status":     newStatus,
		"updated_at": now,
	}
	if adminNotes != "" {
		set["admin_notes"] = adminNotes
	}
	if resolution != "" {
		set["resolution"] = resolution
	}
	if newStatus == models.DisputeStatusResolved || newStatus == models.DisputeStatusRejected {
		set["reviewed_by"] = admin.ID
		set["reviewed_at"] = now
	}

	// Pin the previously observed status so two admins cannot both
	// finalize the same dispute.
	filter := bson.M{"_id": disputeID, "status": dispute.Status}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Dispute
	if err := s.db.Collection(disputesCollection).FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("dispute %s changed concurrently: %w", disputeID.String(), ErrConflict)
		}
		return nil, fmt.Errorf("failed to update dispute %s: %w", disputeID.String(), err)
	}

	// Apply the order outcome on finalization.
	if newStatus == models.DisputeStatusResolved || newStatus == models.DisputeStatusRejected {
		note := fmt.Sprintf("Dispute %s %s", disputeID.String(), newStatus)
		var orderErr error
		if newStatus == models.DisputeStatusRejected || outcome == OutcomeReopenOrder {
			// A rejected dispute never cancels the transaction.
			_, orderErr = s.orderService.ReopenFromDispute(ctx, dispute.OrderID, admin.ID, note)
		} else {
			_, orderErr = s.orderService.CancelFromDispute(ctx, dispute.OrderID, admin.ID, note)
		}
		if orderErr != nil {
			log.Printf("CRITICAL: dispute %s finalized but order %s outcome failed: %v",
				disputeID.String(), dispute.OrderID.String(), orderErr)
			return nil, fmt.Errorf("dispute resolved but order outcome failed: %w", orderErr)
		}
	}

	return &updated, nil
}
