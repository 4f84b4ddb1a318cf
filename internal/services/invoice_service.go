package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Yonatanhaile/tigray-marketplace/internal/config"
	"github.com/Yonatanhaile/tigray-marketplace/internal/db"
	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// InvoiceEnqueuer hands a pending invoice off to the background worker.
// Implemented by the tasks package over asynq; kept as an interface so
// service tests don't need a running Redis.
type InvoiceEnqueuer interface {
	EnqueueInvoiceGeneration(ctx context.Context, invoiceID utils.SixID) error
}

// IInvoiceService defines the interface for the invoice request bridge.
// The core only creates placeholder records and reads status; PDF
// generation happens in the worker, out of band.
type IInvoiceService interface {
	// RequestInvoice is idempotent on a completed invoice: it returns the
	// existing record with queued=false instead of generating a duplicate.
	RequestInvoice(ctx context.Context, orderID utils.SixID, issuer Actor) (invoice *models.Invoice, queued bool, err error)
	GetInvoiceByOrder(ctx context.Context, orderID utils.SixID, requester Actor) (*models.Invoice, error)

	// Worker-side status updates.
	FindByID(ctx context.Context, invoiceID utils.SixID) (*models.Invoice, error)
	MarkProcessing(ctx context.Context, invoiceID utils.SixID) error
	MarkCompleted(ctx context.Context, invoiceID utils.SixID, pdfURL string, metadata models.InvoiceMetadata) (*models.Invoice, error)
	MarkFailed(ctx context.Context, invoiceID utils.SixID, errorMessage string) error
}

const (
	invoicesCollection        = "invoices"
	invoiceCountersCollection = "invoice_counters"
)

// invoiceService implements IInvoiceService.
type invoiceService struct {
	db             *mongo.Database
	cfg            *config.Config
	orderService   IOrderService
	listingService IListingService
	userService    IUserService
	enqueuer       InvoiceEnqueuer
}

// NewInvoiceService creates a new InvoiceService.
func NewInvoiceService(db *mongo.Database, cfg *config.Config, orderService IOrderService, listingService IListingService, userService IUserService, enqueuer InvoiceEnqueuer) IInvoiceService {
	return &invoiceService{
		db:             db,
		cfg:            cfg,
		orderService:   orderService,
		listingService: listingService,
		userService:    userService,
		enqueuer:       enqueuer,
	}
}

// nextInvoiceNumber atomically increments the per-year counter document
// and formats the unique, monotonic invoice number.
func (s *invoiceService) nextInvoiceNumber(ctx context.Context) (string, error) {
	year := time.Now().UTC().Year()
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter struct {
		Year int   `bson:"_id"`
		Seq  int64 `bson:"seq"`
	}
	err := s.db.Collection(invoiceCountersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": year},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&counter)
	if err != nil {
		return "", fmt.Errorf("failed to increment invoice counter for year %d: %w", year, err)
	}
	return fmt.Sprintf("INV-%d-%06d", year, counter.Seq), nil
}

// RequestInvoice validates authorization, creates a pending invoice with a
// denormalized snapshot of order/listing/party data, and enqueues the
// generation job. The snapshot means the worker never re-queries the
// core's schema at generation time.
func (s *invoiceService) RequestInvoice(ctx context.Context, orderID utils.SixID, issuer Actor) (*models.Invoice, bool, error) {
	order, err := s.orderService.GetOrder(ctx, orderID, issuer)
	if err != nil {
		return nil, false, err
	}
	if issuer.ID != order.SellerID && !issuer.IsAdmin() {
		return nil, false, fmt.Errorf("only the seller or an admin can generate invoices: %w", ErrForbidden)
	}

	collection := s.db.Collection(invoicesCollection)

	var existing models.Invoice
	err = collection.FindOne(ctx, bson.M{"order_id": orderID}, options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})).Decode(&existing)
	if err == nil && existing.Status == models.InvoiceStatusCompleted {
		return &existing, false, nil
	}
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("error checking existing invoice for order %s: %w", orderID.String(), err)
	}

	listing, err := s.listingService.FindByID(ctx, order.ListingID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load listing for invoice on order %s: %w", orderID.String(), err)
	}
	buyer, err := s.userService.FindByID(ctx, order.BuyerID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load buyer for invoice on order %s: %w", orderID.String(), err)
	}
	seller, err := s.userService.FindByID(ctx, order.SellerID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load seller for invoice on order %s: %w", orderID.String(), err)
	}

	invoiceNumber, err := s.nextInvoiceNumber(ctx)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	invoice := &models.Invoice{
		OrderID:       orderID,
		IssuerID:      issuer.ID,
		InvoiceNumber: invoiceNumber,
		TemplateData: models.InvoiceTemplateData{
			OrderNumber:  order.ID.String(),
			ListingTitle: listing.Title,
			Price:        order.PriceAgreed,
			Currency:     order.Currency,
			Buyer:        models.InvoiceParty{Name: buyer.Name, Email: buyer.Email, Phone: buyer.Phone},
			Seller:       models.InvoiceParty{Name: seller.Name, Email: seller.Email, Phone: seller.Phone},
			OrderStatus:  order.Status,
			OrderedAt:    order.CreatedAt,
		},
		Status:    models.InvoiceStatusPending,
		CreatedAt: now,
	}

	operation := func() error {
		invoice.GenID()
		_, insertErr := collection.InsertOne(ctx, invoice)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, false, fmt.Errorf("failed to insert invoice %s for order %s: %w",
			invoiceNumber, orderID.String(), err)
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueInvoiceGeneration(ctx, invoice.ID); err != nil {
			// The placeholder exists; the worker sweep or a retry can pick
			// it up, so the request itself still succeeds.
			log.Printf("Failed to enqueue invoice generation for invoice %s: %v", invoice.ID.String(), err)
		}
	}

	return invoice, true, nil
}

// GetInvoiceByOrder returns the latest invoice for an order, visible to
// the order parties or an admin.
func (s *invoiceService) GetInvoiceByOrder(ctx context.Context, orderID utils.SixID, requester Actor) (*models.Invoice, error) {
	// GetOrder enforces the buyer/seller/admin visibility rule.
	if _, err := s.orderService.GetOrder(ctx, orderID, requester); err != nil {
		return nil, err
	}

	var invoice models.Invoice
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	err := s.db.Collection(invoicesCollection).FindOne(ctx, bson.M{"order_id": orderID}, opts).Decode(&invoice)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("no invoice for order %s: %w", orderID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding invoice for order %s: %w", orderID.String(), err)
	}
	return &invoice, nil
}

// FindByID fetches an invoice by id. Used by the worker.
func (s *invoiceService) FindByID(ctx context.Context, invoiceID utils.SixID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := s.db.Collection(invoicesCollection).FindOne(ctx, bson.M{"_id": invoiceID}).Decode(&invoice)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("invoice %s: %w", invoiceID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("error finding invoice %s: %w", invoiceID.String(), err)
	}
	return &invoice, nil
}

// MarkProcessing flips a pending invoice to processing. The status pin
// keeps two workers from both claiming the same job.
func (s *invoiceService) MarkProcessing(ctx context.Context, invoiceID utils.SixID) error {
	filter := bson.M{"_id": invoiceID, "status": models.InvoiceStatusPending}
	update := bson.M{"$set": bson.M{"status": models.InvoiceStatusProcessing}}
	result, err := s.db.Collection(invoicesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error marking invoice %s processing: %w", invoiceID.String(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("invoice %s is not pending: %w", invoiceID.String(), ErrConflict)
	}
	return nil
}

// MarkCompleted records the generated PDF URL and generation metadata.
func (s *invoiceService) MarkCompleted(ctx context.Context, invoiceID utils.SixID, pdfURL string, metadata models.InvoiceMetadata) (*models.Invoice, error) {
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{
		"status":            models.InvoiceStatusCompleted,
		"generated_pdf_url": pdfURL,
		"metadata":          metadata,
		"completed_at":      now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Invoice
	if err := s.db.Collection(invoicesCollection).FindOneAndUpdate(ctx, bson.M{"_id": invoiceID}, update, opts).Decode(&updated); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("invoice %s: %w", invoiceID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to mark invoice %s completed: %w", invoiceID.String(), err)
	}
	return &updated, nil
}

// MarkFailed records a generation failure.
func (s *invoiceService) MarkFailed(ctx context.Context, invoiceID utils.SixID, errorMessage string) error {
	update := bson.M{"$set": bson.M{
		"status":        models.InvoiceStatusFailed,
		"error_message": errorMessage,
	}}
	result, err := s.db.Collection(invoicesCollection).UpdateOne(ctx, bson.M{"_id": invoiceID}, update)
	if err != nil {
		return fmt.Errorf("db error marking invoice %s failed: %w", invoiceID.String(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("invoice %s: %w", invoiceID.String(), ErrNotFound)
	}
	return nil
}
