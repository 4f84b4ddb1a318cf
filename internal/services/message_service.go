package services

import (
	"context"
	"errors"
	"fmt"
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

// IMessageService defines the interface for the per-order messaging channel.
type IMessageService interface {
	// SendMessage persists a message with the recipient resolved server-side
	// as the other party of the order; a client can never address a message
	// to an arbitrary user. Persistence happens before any real-time fan-out,
	// so the REST read path is always at least as fresh as the socket.
	SendMessage(ctx context.Context, orderID utils.SixID, sender Actor, text string, attachments []models.Attachment) (*models.Message, error)

	// ListMessages returns the conversation oldest first and, as a side
	// effect, marks the requester's unread incoming messages as read.
	// readIDs reports which messages the call flipped, for fan-out.
	ListMessages(ctx context.Context, orderID utils.SixID, requester Actor, page, limit int) (messages []models.Message, total int64, readIDs []utils.SixID, err error)

	UnreadCount(ctx context.Context, userID utils.SixID) (int64, error)
	MarkRead(ctx context.Context, messageID utils.SixID, requester Actor) (*models.Message, error)
}

const messagesCollection = "messages"

// messageService implements IMessageService.
type messageService struct {
	db           *mongo.Database
	cfg          *config.Config
	orderService IOrderService
}

// NewMessageService creates a new MessageService.
func NewMessageService(db *mongo.Database, cfg *config.Config, orderService IOrderService) IMessageService {
	return &messageService{db: db, cfg: cfg, orderService: orderService}
}

// SendMessage creates a message on an order's conversation thread.
func (s *messageService) SendMessage(ctx context.Context, orderID utils.SixID, sender Actor, text string, attachments []models.Attachment) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message text is required: %w", ErrValidation)
	}
	if len(text) > models.MaxMessageLength {
		return nil, fmt.Errorf("message exceeds %d characters: %w", models.MaxMessageLength, ErrValidation)
	}

	// GetOrder enforces visibility, but messaging is stricter: admins may
	// read threads yet only the two parties may write into them.
	order, err := s.orderService.GetOrder(ctx, orderID, sender)
	if err != nil {
		return nil, err
	}
	recipientID, ok := order.OtherParty(sender.ID)
	if !ok {
		return nil, fmt.Errorf("you do not have permission to message in this order: %w", ErrForbidden)
	}

	if attachments == nil {
		attachments = []models.Attachment{}
	}
	now := time.Now().UTC()
	message := &models.Message{
		OrderID:     orderID,
		SenderID:    sender.ID,
		RecipientID: recipientID,
		Text:        text,
		Attachments: attachments,
		IsRead:      false,
		DeliveredAt: now,
		CreatedAt:   now,
	}

	collection := s.db.Collection(messagesCollection)
	operation := func() error {
		message.GenID()
		_, insertErr := collection.InsertOne(ctx, message)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert message on order %s from %s: %w",
			orderID.String(), sender.ID.String(), err)
	}
	return message, nil
}

// ListMessages returns the conversation for an order, oldest first.
// Viewing doubles as the read receipt: every unread message addressed to
// the requester on the returned page is batch-marked read.
func (s *messageService) ListMessages(ctx context.Context, orderID utils.SixID, requester Actor, page, limit int) ([]models.Message, int64, []utils.SixID, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	// Authorization is the same as viewing the order itself.
	if _, err := s.orderService.GetOrder(ctx, orderID, requester); err != nil {
		return nil, 0, nil, err
	}

	collection := s.db.Collection(messagesCollection)
	filter := bson.M{"order_id": orderID}

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to count messages for order %s: %w", orderID.String(), err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to query messages for order %s: %w", orderID.String(), err)
	}
	defer cursor.Close(ctx)

	var messages []models.Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, 0, nil, fmt.Errorf("failed to decode messages for order %s: %w", orderID.String(), err)
	}

	// Batch read receipt for the page just viewed.
	now := time.Now().UTC()
	var readIDs []utils.SixID
	for i := range messages {
		if messages[i].RecipientID == requester.ID && !messages[i].IsRead {
			readIDs = append(readIDs, messages[i].ID)
			messages[i].IsRead = true
			messages[i].ReadAt = &now
		}
	}
	if len(readIDs) > 0 {
		readFilter := bson.M{
			"_id":     bson.M{"$in": readIDs},
			"is_read": false,
		}
		update := bson.M{"$set": bson.M{"is_read": true, "read_at": now}}
		if _, err := collection.UpdateMany(ctx, readFilter, update); err != nil {
			// Read receipts are a side effect of viewing; the listing itself succeeded.
			return messages, total, nil, fmt.Errorf("failed to mark %d messages read for user %s: %w",
				len(readIDs), requester.ID.String(), err)
		}
	}

	return messages, total, readIDs, nil
}

// UnreadCount counts unread incoming messages for the badge. Backed by the
// (recipient_id, is_read) index, never a scan.
func (s *messageService) UnreadCount(ctx context.Context, userID utils.SixID) (int64, error) {
	count, err := s.db.Collection(messagesCollection).CountDocuments(ctx, bson.M{
		"recipient_id": userID,
		"is_read":      false,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages for user %s: %w", userID.String(), err)
	}
	return count, nil
}

// MarkRead marks a single message read. Only the recipient may mark, and
// marking an already-read message is a no-op: read_at is set exactly once.
func (s *messageService) MarkRead(ctx context.Context, messageID utils.SixID, requester Actor) (*models.Message, error) {
	var message models.Message
	collection := s.db.Collection(messagesCollection)
	if err := collection.FindOne(ctx, bson.M{"_id": messageID}).Decode(&message); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("message %s: %w", messageID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding message %s: %w", messageID.String(), err)
	}
	if message.RecipientID != requester.ID {
		return nil, fmt.Errorf("only the recipient may mark a message read: %w", ErrForbidden)
	}
	if message.IsRead {
		return &message, nil
	}

	now := time.Now().UTC()
	// Filter on is_read so a concurrent mark cannot overwrite read_at.
	filter := bson.M{"_id": messageID, "is_read": false}
	update := bson.M{"$set": bson.M{"is_read": true, "read_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Message
	if err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Raced with another mark; fetch the settled state.
			if err := collection.FindOne(ctx, bson.M{"_id": messageID}).Decode(&updated); err != nil {
				return nil, fmt.Errorf("error re-reading message %s: %w", messageID.String(), err)
			}
			return &updated, nil
		}
		return nil, fmt.Errorf("failed to mark message %s read: %w", messageID.String(), err)
	}
	return &updated, nil
}
